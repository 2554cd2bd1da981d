// Package remind decides which concepts to surface for review and when.
//
// The Engine polls the concept store on an interval. A concept is due when
// its memory score has dropped below the threshold or its scheduled review
// time has passed. Due concepts fire through an injected Notifier — the
// transport (desktop notification, log line, webhook) lives outside this
// package.
//
// Two mechanisms keep notification volume sane: a per-concept cooldown (a
// concept that just fired is snoozed and cannot fire again inside the
// window) and a per-cycle cap. When the cap is hit, remaining due concepts
// wait for the next cycle; ordering is ascending memory score, most
// forgotten first, so the cap never starves the most urgent items.
package remind

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/orneryd/muninn/pkg/store"
)

// Reminder is one review prompt for a single concept.
type Reminder struct {
	ConceptID    string
	Label        string
	MemoryScore  float64
	NextReviewAt time.Time
	Context      store.SignalContext
}

// Notifier delivers reminders. A delivery failure affects only that
// concept; the engine logs it and moves on.
type Notifier interface {
	Notify(ctx context.Context, r Reminder) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, r Reminder) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, r Reminder) error { return f(ctx, r) }

// LogNotifier writes reminders to the process log. Default sink when no
// real transport is wired.
type LogNotifier struct{}

// Notify logs the reminder.
func (LogNotifier) Notify(ctx context.Context, r Reminder) error {
	log.Printf("review reminder: %q (score %.2f)", r.Label, r.MemoryScore)
	return nil
}

// Config holds the engine's rate-limiting knobs.
type Config struct {
	// MemoryThreshold marks a concept due when its score falls below it.
	MemoryThreshold float64 `yaml:"memory_threshold"`
	// Cooldown is the minimum gap between two reminders for one concept.
	Cooldown time.Duration `yaml:"cooldown"`
	// MaxPerRun caps notifications per polling cycle. Zero or negative
	// means unlimited.
	MaxPerRun int `yaml:"max_per_run"`
	// PollInterval drives the background ticker in Start.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns the standard reminder configuration.
func DefaultConfig() Config {
	return Config{
		MemoryThreshold: 0.6,
		Cooldown:        2 * time.Hour,
		MaxPerRun:       3,
		PollInterval:    5 * time.Minute,
	}
}

// Engine scans the store for due concepts and emits reminders.
type Engine struct {
	store    store.Store
	notifier Notifier
	config   Config

	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewEngine creates a reminder engine. A nil notifier falls back to
// LogNotifier.
func NewEngine(s store.Store, notifier Notifier, config Config) *Engine {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Engine{
		store:    s,
		notifier: notifier,
		config:   config,
		now:      time.Now,
	}
}

// SetNotifier swaps the delivery transport. Safe to call while the engine
// is running; the next cycle uses the new notifier.
func (e *Engine) SetNotifier(n Notifier) {
	if n == nil {
		n = LogNotifier{}
	}
	e.mu.Lock()
	e.notifier = n
	e.mu.Unlock()
}

func (e *Engine) currentNotifier() Notifier {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notifier
}

// Due returns the concepts currently due for review, most forgotten first,
// truncated to limit (limit <= 0 means all). It does not fire notifications
// or touch bookkeeping; dashboards and manual review UIs use this.
func (e *Engine) Due(limit int) ([]*store.ConceptNode, error) {
	nodes, err := e.store.AllNodes()
	if err != nil {
		return nil, err
	}
	now := e.now()

	var due []*store.ConceptNode
	for _, node := range nodes {
		if e.isDue(node, now) {
			due = append(due, node)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].MemoryScore < due[j].MemoryScore
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (e *Engine) isDue(node *store.ConceptNode, now time.Time) bool {
	return node.MemoryScore < e.config.MemoryThreshold || !node.NextReviewAt.After(now)
}

// Poll runs one reminder cycle: find due concepts outside their cooldown,
// notify up to MaxPerRun of them in ascending score order, and snooze each
// fired concept. Returns the number of reminders delivered.
func (e *Engine) Poll(ctx context.Context) (int, error) {
	nodes, err := e.store.AllNodes()
	if err != nil {
		return 0, err
	}
	now := e.now()

	var candidates []*store.ConceptNode
	for _, node := range nodes {
		if !e.isDue(node, now) {
			continue
		}
		if !node.LastRemindedAt.IsZero() && now.Sub(node.LastRemindedAt) < e.config.Cooldown {
			continue
		}
		candidates = append(candidates, node)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].MemoryScore < candidates[j].MemoryScore
	})
	if e.config.MaxPerRun > 0 && len(candidates) > e.config.MaxPerRun {
		candidates = candidates[:e.config.MaxPerRun]
	}

	notifier := e.currentNotifier()
	fired := 0
	for _, node := range candidates {
		reminder := Reminder{
			ConceptID:    node.ID,
			Label:        node.CanonicalLabel,
			MemoryScore:  node.MemoryScore,
			NextReviewAt: node.NextReviewAt,
			Context:      node.Context,
		}
		if err := notifier.Notify(ctx, reminder); err != nil {
			log.Printf("warn: reminder for %q failed: %v", node.ID, err)
			continue
		}

		// Snooze: the concept cannot re-fire every cycle while the user
		// ignores it.
		node.LastRemindedAt = now
		node.NextReviewAt = now.Add(e.config.Cooldown)
		if err := e.store.Update(node); err != nil {
			log.Printf("warn: snooze update for %q failed: %v", node.ID, err)
		}
		fired++
	}
	return fired, nil
}

// Start launches the background polling loop. Stop with Stop.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.Poll(ctx); err != nil {
					log.Printf("warn: reminder poll failed: %v", err)
				}
			}
		}
	}()
}

// Stop halts the polling loop and waits for the in-flight cycle.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
		e.wg.Wait()
	}
}
