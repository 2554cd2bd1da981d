// Package ingest maps raw multi-modal observations onto the concept graph.
//
// An Observation is one batch from the sensing side: OCR keywords with
// confidences, an optional audio label, a webcam attention score, an
// interaction rate, and the foreground app type. The Adapter turns each
// batch into concept upserts, pairwise similarity links, a fresh memory
// score, and an updated review schedule.
//
// The contract is best-effort, never throw: malformed labels are dropped,
// missing signals fall back to documented neutral defaults, and an
// embedding failure still records the concept (linking degrades, decay and
// scheduling do not). Record returns a Result describing what happened to
// each concept so callers can distinguish "degraded but proceeded" from
// "recorded cleanly" without log-scraping.
package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/orneryd/muninn/pkg/decay"
	"github.com/orneryd/muninn/pkg/embed"
	"github.com/orneryd/muninn/pkg/math/vector"
	"github.com/orneryd/muninn/pkg/sm2"
	"github.com/orneryd/muninn/pkg/store"
)

// Neutral defaults for signals the sensing side did not supply. A disabled
// signal must read as "no evidence against retention", not as zero quality,
// or every concept observed without audio would look forgotten.
const (
	DefaultAudioConfidence = 1.0
	DefaultAttentionScore  = 50.0
	DefaultAppType         = "unknown"
)

// KeywordSignal is one OCR keyword hit: recognition confidence and how many
// times it appeared in the captured frame.
type KeywordSignal struct {
	Score float64 `json:"score"`
	Count int     `json:"count"`
}

// Observation is one raw capture batch. Zero-valued fields mean the signal
// was absent and are replaced by the neutral defaults above.
type Observation struct {
	Keywords        map[string]KeywordSignal `json:"keywords"`
	AudioLabel      string                   `json:"audio_label"`
	AudioConfidence float64                  `json:"audio_confidence"`
	AttentionScore  float64                  `json:"attention_score"`
	InteractionRate float64                  `json:"interaction_rate"`
	AppType         string                   `json:"app_type"`
}

// ConceptResult reports what Record did to one concept.
type ConceptResult struct {
	ID           string
	Label        string
	MemoryScore  float64
	Quality      float64
	NextReviewAt time.Time
	// Degraded is true when the concept was recorded without an embedding,
	// so it participates in decay and scheduling but not similarity linking.
	Degraded bool
}

// Result reports the outcome of one Record call.
type Result struct {
	Concepts []ConceptResult
	// LinksCreated counts pairs whose similarity cleared the store's
	// threshold in this batch.
	LinksCreated int
	// EmbeddingFailed is true when the similarity provider failed for the
	// whole batch.
	EmbeddingFailed bool
}

// Config holds the adapter's scoring knobs. Whether a pair links is the
// store's decision; the adapter only reports what the store did.
type Config struct {
	DecayRate float64      `yaml:"decay_rate"`
	Scheduler *sm2.Config  `yaml:"scheduler"`
	Weights   *sm2.Weights `yaml:"weights"`
}

// DefaultConfig returns the standard adapter configuration.
func DefaultConfig() Config {
	return Config{
		DecayRate: decay.DefaultDecayRate,
		Scheduler: sm2.DefaultConfig(),
		Weights:   sm2.DefaultWeights(),
	}
}

// Adapter is the primary ingestion entry point. Construct once and share;
// the store provides the locking.
type Adapter struct {
	store  store.Store
	config Config

	mu       sync.RWMutex
	embedder embed.Embedder

	now func() time.Time
}

// NewAdapter creates an ingestion adapter. embedder may be nil, in which
// case concepts are recorded without embeddings and never linked.
func NewAdapter(s store.Store, embedder embed.Embedder, config Config) *Adapter {
	if embedder == nil {
		embedder = embed.NewNull()
	}
	return &Adapter{
		store:    s,
		embedder: embedder,
		config:   config,
		now:      time.Now,
	}
}

// SetEmbedder swaps the similarity provider, e.g. after a backing service
// comes up. A nil embedder disables linking.
func (a *Adapter) SetEmbedder(e embed.Embedder) {
	if e == nil {
		e = embed.NewNull()
	}
	a.mu.Lock()
	a.embedder = e
	a.mu.Unlock()
}

func (a *Adapter) currentEmbedder() embed.Embedder {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.embedder
}

// observed is one concept extracted from a batch, with its per-concept
// intent confidence.
type observed struct {
	label      string
	confidence float64
}

// Record applies one observation batch: upsert every concept, link
// similar pairs, recompute each memory score, and advance each review
// schedule. It never fails the batch; per-concept problems degrade and are
// reflected in the Result.
func (a *Adapter) Record(ctx context.Context, obs Observation) *Result {
	now := a.now()
	result := &Result{}

	concepts := a.extract(obs)
	if len(concepts) == 0 {
		return result
	}

	audioConf := obs.AudioConfidence
	if audioConf == 0 {
		audioConf = DefaultAudioConfidence
	}
	attention := obs.AttentionScore
	if attention == 0 {
		attention = DefaultAttentionScore
	}
	appType := obs.AppType
	if appType == "" {
		appType = DefaultAppType
	}

	// Embedding is the one slow external call; it happens before any store
	// lock is taken, and its failure only degrades linking.
	labels := make([]string, len(concepts))
	for i, c := range concepts {
		labels[i] = c.label
	}
	embeddings, err := a.currentEmbedder().EmbedBatch(ctx, labels)
	if err != nil {
		log.Printf("warn: embedding batch failed, recording without links: %v", err)
		embeddings = make([][]float32, len(concepts))
		result.EmbeddingFailed = true
	} else if len(embeddings) != len(labels) {
		// A provider that returns the wrong number of vectors is as broken
		// as one that errors; degrade rather than trust the partial batch.
		log.Printf("warn: embedder returned %d vectors for %d labels, recording without links",
			len(embeddings), len(labels))
		embeddings = make([][]float32, len(concepts))
		result.EmbeddingFailed = true
	}

	// Upserts complete for the whole batch before any linking so every
	// edge endpoint already exists.
	for i, c := range concepts {
		node, err := a.store.Upsert(c.label, embeddings[i])
		if err != nil {
			log.Printf("warn: dropping concept %q: %v", c.label, err)
			continue
		}

		signals := store.SignalContext{
			OCRConfidence:   c.confidence,
			AudioConfidence: audioConf,
			AttentionScore:  attention,
			InteractionRate: obs.InteractionRate,
			AppType:         appType,
		}
		score := decay.ScoreAt(now, node.LastReviewAt, a.config.DecayRate,
			c.confidence, attention, audioConf)
		quality := sm2.Quality(c.confidence, audioConf, attention,
			obs.InteractionRate, appType, a.config.Weights)

		state := sm2.Advance(now, sm2.State{
			IntervalDays: node.IntervalDays,
			EaseFactor:   node.EaseFactor,
			Repetitions:  node.Repetitions,
		}, quality, a.config.Scheduler)
		next := sm2.NextReview(now, state.NextReviewAt, score, a.config.Scheduler)

		node.MemoryScore = score
		node.EaseFactor = state.EaseFactor
		node.IntervalDays = state.IntervalDays
		node.Repetitions = state.Repetitions
		node.LastReviewAt = now
		node.NextReviewAt = next
		node.Context = signals

		if err := a.store.Update(node); err != nil {
			log.Printf("warn: failed to update concept %q: %v", node.ID, err)
			continue
		}

		result.Concepts = append(result.Concepts, ConceptResult{
			ID:           node.ID,
			Label:        node.CanonicalLabel,
			MemoryScore:  score,
			Quality:      quality,
			NextReviewAt: next,
			Degraded:     len(embeddings[i]) == 0,
		})
	}

	result.LinksCreated = a.linkBatch(concepts, embeddings)
	return result
}

// extract pulls the concept list out of an observation: every OCR keyword
// plus the audio label, normalized, empties dropped.
func (a *Adapter) extract(obs Observation) []observed {
	var concepts []observed
	seen := make(map[string]bool)

	add := func(label string, confidence float64) {
		normalized := store.NormalizeLabel(label)
		if normalized == "" || seen[normalized] {
			return
		}
		seen[normalized] = true
		concepts = append(concepts, observed{label: label, confidence: confidence})
	}

	for label, sig := range obs.Keywords {
		add(label, sig.Score)
	}
	if obs.AudioLabel != "" {
		conf := obs.AudioConfidence
		if conf == 0 {
			conf = DefaultAudioConfidence
		}
		add(obs.AudioLabel, conf)
	}
	return concepts
}

// linkBatch links every pair of concepts observed together whose embedding
// similarity clears the store's threshold. Returns the number of pairs that
// produced or strengthened an edge.
func (a *Adapter) linkBatch(concepts []observed, embeddings [][]float32) int {
	linked := 0
	for i := 0; i < len(concepts); i++ {
		if len(embeddings[i]) == 0 {
			continue
		}
		for j := i + 1; j < len(concepts); j++ {
			if len(embeddings[j]) == 0 {
				continue
			}
			similarity := vector.CosineSimilarity(embeddings[i], embeddings[j])
			created, err := a.store.Link(concepts[i].label, concepts[j].label, similarity)
			if err != nil {
				log.Printf("warn: link %q-%q failed: %v", concepts[i].label, concepts[j].label, err)
				continue
			}
			if created {
				linked++
			}
		}
	}
	return linked
}
