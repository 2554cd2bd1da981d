// Package muninn assembles the concept memory engine: graph store, decay
// model, spaced-repetition scheduler, ingestion adapter, reminder engine
// and retention sweep, wired together behind one Tracker handle.
//
// Named for Muninn, Odin's raven of memory, who flies out each day and
// returns with what the world has seen.
//
// Typical lifecycle:
//
//	cfg, _ := config.Load("muninn.yaml")
//	tracker, err := muninn.Open("./data", cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer tracker.Close()
//
//	tracker.Start()
//	tracker.RecordObservation(ctx, obs)
//	due, _ := tracker.DueConcepts(10)
package muninn

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/decay"
	"github.com/orneryd/muninn/pkg/embed"
	"github.com/orneryd/muninn/pkg/ingest"
	"github.com/orneryd/muninn/pkg/remind"
	"github.com/orneryd/muninn/pkg/retention"
	"github.com/orneryd/muninn/pkg/sm2"
	"github.com/orneryd/muninn/pkg/store"
)

// Tracker is the top-level engine handle. All methods are safe for
// concurrent use; the store provides the locking.
type Tracker struct {
	config   *config.Config
	store    store.Store
	adapter  *ingest.Adapter
	decayMgr *decay.Manager
	reminder *remind.Engine
	sweeper  *retention.Sweeper

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Open creates a Tracker at the given data directory. An empty dataDir runs
// fully in memory (state restored from the JSON snapshot if one exists); a
// non-empty dataDir opens write-through badger persistence. A nil cfg uses
// config.Default().
func Open(dataDir string, cfg *config.Config) (*Tracker, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.Database.DataDir = dataDir

	storeOpts := &store.Options{
		SimilarityThreshold: cfg.Memory.SimilarityThreshold,
		InitialEase:         cfg.Scheduler.InitialEase,
	}

	var st store.Store
	if dataDir != "" {
		bs, err := store.NewBadgerStore(dataDir, storeOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent storage: %w", err)
		}
		st = bs
		fmt.Printf("📂 Using persistent storage at %s\n", dataDir)
	} else {
		ms := store.NewMemoryStore(storeOpts)
		if path := cfg.Database.SnapshotPath; path != "" {
			if _, err := os.Stat(path); err == nil {
				if err := ms.LoadSnapshot(path); err != nil {
					log.Printf("warn: snapshot restore from %s failed: %v", path, err)
				} else {
					fmt.Printf("📂 Restored concept graph from %s\n", path)
				}
			}
		}
		st = ms
		fmt.Println("⚠️  Using in-memory storage (state persists via snapshots only)")
	}

	embedder, err := embed.NewEmbedder(cfg.EmbedConfig())
	if err != nil {
		log.Printf("warn: embedding disabled: %v", err)
		embedder = embed.NewNull()
	}
	if cfg.Embedding.CacheSize > 0 {
		if _, isNull := embedder.(*embed.NullEmbedder); !isNull {
			embedder = embed.NewCached(embedder, cfg.Embedding.CacheSize)
		}
	}

	t := &Tracker{
		config:   cfg,
		store:    st,
		adapter:  ingest.NewAdapter(st, embedder, cfg.IngestConfig()),
		decayMgr: decay.NewManager(&decay.Config{
			RecalculateInterval: cfg.Memory.RecalculateInterval.Std(),
			DecayRate:           cfg.Memory.DecayRate,
		}),
		reminder: remind.NewEngine(st, nil, cfg.RemindConfig()),
		sweeper:  retention.NewSweeper(st, cfg.RetentionPolicy()),
	}
	return t, nil
}

// SetNotifier wires the reminder delivery transport. Without one, reminders
// go to the process log.
func (t *Tracker) SetNotifier(n remind.Notifier) {
	t.reminder.SetNotifier(n)
}

// SetEmbedder swaps the similarity provider, e.g. when the backing
// embedding service becomes reachable after startup. The configured cache
// wraps the new provider the same way Open does.
func (t *Tracker) SetEmbedder(e embed.Embedder) {
	if e == nil {
		e = embed.NewNull()
	}
	if size := t.config.Embedding.CacheSize; size > 0 {
		if _, isNull := e.(*embed.NullEmbedder); !isNull {
			e = embed.NewCached(e, size)
		}
	}
	t.adapter.SetEmbedder(e)
}

// Store exposes the underlying concept store for read-side consumers.
func (t *Tracker) Store() store.Store { return t.store }

// RecordObservation feeds one observation batch into the engine.
func (t *Tracker) RecordObservation(ctx context.Context, obs ingest.Observation) *ingest.Result {
	return t.adapter.Record(ctx, obs)
}

// DueConcepts returns concepts currently due for review, most forgotten
// first, without firing notifications.
func (t *Tracker) DueConcepts(limit int) ([]*store.ConceptNode, error) {
	return t.reminder.Due(limit)
}

// Get returns one concept by label.
func (t *Tracker) Get(label string) (*store.ConceptNode, error) {
	return t.store.Get(label)
}

// Stats summarizes the graph.
type Stats struct {
	Concepts     int     `json:"concepts"`
	Edges        int     `json:"edges"`
	Due          int     `json:"due"`
	AverageScore float64 `json:"average_score"`
}

// Stats returns a point-in-time summary of the concept graph.
func (t *Tracker) Stats() (Stats, error) {
	nodes, err := t.store.AllNodes()
	if err != nil {
		return Stats{}, err
	}
	edges, err := t.store.AllEdges()
	if err != nil {
		return Stats{}, err
	}
	due, err := t.reminder.Due(0)
	if err != nil {
		return Stats{}, err
	}

	s := Stats{Concepts: len(nodes), Edges: len(edges), Due: len(due)}
	for _, n := range nodes {
		s.AverageScore += n.MemoryScore
	}
	if len(nodes) > 0 {
		s.AverageScore /= float64(len(nodes))
	}
	return s, nil
}

// Start launches the background loops: decay recalculation, reminder
// polling, retention sweeps and periodic snapshots.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true

	t.decayMgr.Start(t.recalculateScores)
	t.reminder.Start()
	if interval := t.config.Retention.SweepInterval.Std(); interval > 0 {
		t.sweeper.Start(interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	if interval := t.config.Database.SnapshotInterval.Std(); interval > 0 && t.config.Database.SnapshotPath != "" {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					t.snapshot()
				}
			}
		}()
	}
}

// recalculateScores is the decay manager's background pass: recompute every
// concept's memory score from elapsed time and its last-seen signals, and
// pull reviews forward for concepts that crossed the forgetting threshold.
func (t *Tracker) recalculateScores(ctx context.Context) error {
	nodes, err := t.store.AllNodes()
	if err != nil {
		return err
	}
	now := time.Now()
	rate := t.decayMgr.DecayRate()
	cfg := t.config.SchedulerSM2()

	for _, node := range nodes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		score := decay.ScoreAt(now, node.LastReviewAt, rate,
			signalOr(node.Context.OCRConfidence, 1.0),
			signalOr(node.Context.AttentionScore, ingest.DefaultAttentionScore),
			signalOr(node.Context.AudioConfidence, ingest.DefaultAudioConfidence))

		node.MemoryScore = score
		node.NextReviewAt = sm2.NextReview(now, node.NextReviewAt, score, cfg)
		if err := t.store.Update(node); err != nil {
			log.Printf("warn: score update for %q failed: %v", node.ID, err)
		}
	}
	return nil
}

// signalOr treats a zero-valued stored signal as absent and substitutes the
// neutral default, keeping the multiplicative decay contract intact.
func signalOr(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// snapshot writes the periodic JSON snapshot.
func (t *Tracker) snapshot() {
	path := t.config.Database.SnapshotPath
	if path == "" {
		return
	}
	if err := t.store.SaveSnapshot(path); err != nil {
		log.Printf("warn: snapshot to %s failed: %v", path, err)
	}
}

// Sweep runs one retention pass immediately.
func (t *Tracker) Sweep(ctx context.Context) (retention.SweepResult, error) {
	return t.sweeper.Sweep(ctx)
}

// Close stops the background loops, writes a final snapshot, and closes the
// store.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.started {
		t.started = false
		if t.cancel != nil {
			t.cancel()
			t.cancel = nil
		}
		t.mu.Unlock()
		t.wg.Wait()
		t.decayMgr.Stop()
		t.reminder.Stop()
		t.sweeper.Stop()
	} else {
		t.mu.Unlock()
	}

	t.snapshot()
	return t.store.Close()
}
