// Package decay implements Muninn's memory decay model.
//
// The model estimates retrievability — the probability a concept is still
// recalled — from two things: how long ago the concept was last reviewed
// (Ebbinghaus-style exponential decay) and the quality of the signals that
// carried the observation (intent, attention, audio). It is a deliberately
// simple, tunable heuristic, not a cognitive-science model.
//
// The core is a pure function:
//
//	retention = exp(-decayRate * hoursSinceReview)
//	score     = clamp(retention * intent * attention/100 * audio, 0, 1)
//
// Signal contract: the factors multiply, so a disabled signal MUST be passed
// as its neutral default (1.0 for confidences, 50 for attention), never 0.0.
// A zero from a disabled sensor would be indistinguishable from "completely
// forgotten". This is the caller's contract, not an internal special case.
//
// Example:
//
//	// Reviewed 5 hours ago, decent signals
//	score := decay.Score(lastReview, 0.1, 0.9, 80, 1.0)
//	fmt.Printf("retrievability: %.4f\n", score) // ~0.4367
//
// The package also provides a Manager that recalculates all concept scores
// on a background ticker, so scores stay current between observations.
package decay

import (
	"context"
	"log"
	"math"
	"sync"
	"time"
)

// MinDecayRate is the floor applied to the decay rate. A zero or negative
// rate would freeze or invert the forgetting curve.
const MinDecayRate = 0.001

// DefaultDecayRate is the per-hour forgetting rate applied when a concept
// has no specific rate configured. 0.1/h halves retention roughly every
// seven hours of no exposure.
const DefaultDecayRate = 0.1

// clamp01 bounds v to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ScoreAt computes the memory score for a concept at an explicit point in
// time. Pure: no hidden state, no clock reads, safe to call concurrently.
//
// Parameters:
//   - now: Evaluation time
//   - lastReview: When the concept was last reviewed/observed. A future
//     lastReview contributes zero elapsed time, not negative.
//   - decayRate: Forgetting rate per hour (λ), clamped to MinDecayRate
//   - intentConfidence: OCR/keyword intent confidence, clamped to [0,1]
//   - attentionScore: Attention estimate in [0,100]
//   - audioConfidence: Audio classifier confidence, clamped to [0,1]
//
// Returns retrievability in [0,1]. For fixed signals, the result is
// non-increasing as elapsed time grows.
func ScoreAt(now, lastReview time.Time, decayRate, intentConfidence, attentionScore, audioConfidence float64) float64 {
	if decayRate < MinDecayRate {
		decayRate = MinDecayRate
	}

	tHours := now.Sub(lastReview).Hours()
	if tHours < 0 {
		tHours = 0
	}

	retention := math.Exp(-decayRate * tHours)
	intentFactor := clamp01(intentConfidence)
	attentionFactor := clamp01(attentionScore / 100.0)
	audioFactor := clamp01(audioConfidence)

	return clamp01(retention * intentFactor * attentionFactor * audioFactor)
}

// Score is ScoreAt evaluated at time.Now().
func Score(lastReview time.Time, decayRate, intentConfidence, attentionScore, audioConfidence float64) float64 {
	return ScoreAt(time.Now(), lastReview, decayRate, intentConfidence, attentionScore, audioConfidence)
}

// Input is one concept's inputs for a batch score computation.
type Input struct {
	ID               string
	LastReviewAt     time.Time
	DecayRate        float64
	IntentConfidence float64
	AttentionScore   float64
	AudioConfidence  float64
}

// ScoreBatch computes scores for many concepts at once. Each concept is
// scored independently — there is no cross-concept coupling, so the batch is
// trivially parallelizable, but at graph sizes of a few thousand concepts a
// sequential pass is already microseconds.
func ScoreBatch(now time.Time, inputs []Input) map[string]float64 {
	out := make(map[string]float64, len(inputs))
	for _, in := range inputs {
		out[in.ID] = ScoreAt(now, in.LastReviewAt, in.DecayRate, in.IntentConfidence, in.AttentionScore, in.AudioConfidence)
	}
	return out
}

// Config holds Manager configuration.
type Config struct {
	// RecalculateInterval determines how often all concept scores are
	// recomputed in the background. Default: 1 hour.
	RecalculateInterval time.Duration

	// DecayRate is the per-hour forgetting rate used for every concept.
	// Default: 0.1.
	DecayRate float64
}

// DefaultConfig returns the decay defaults.
func DefaultConfig() *Config {
	return &Config{
		RecalculateInterval: time.Hour,
		DecayRate:           DefaultDecayRate,
	}
}

// Manager runs background score recalculation at a fixed interval.
//
// The Manager owns no concept state itself; the recalculate function it is
// started with reads the store, recomputes scores with ScoreAt, and writes
// them back. Errors from a pass are logged and the ticker continues — a
// failed recalculation only means scores are briefly stale.
//
// Example:
//
//	mgr := decay.NewManager(nil)
//	mgr.Start(func(ctx context.Context) error {
//		return recalcAllScores(ctx, st)
//	})
//	defer mgr.Stop()
type Manager struct {
	config *Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a decay Manager. If config is nil, DefaultConfig() is
// used. Stop() must be called to release the background goroutine.
func NewManager(config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// DecayRate returns the configured per-hour forgetting rate.
func (m *Manager) DecayRate() float64 {
	return m.config.DecayRate
}

// Start begins background recalculation. Non-blocking; the function runs
// once per RecalculateInterval until Stop is called.
func (m *Manager) Start(recalculate func(context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.config.RecalculateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				if err := recalculate(m.ctx); err != nil {
					log.Printf("decay: recalculation pass failed: %v", err)
				}
			}
		}
	}()
}

// Stop halts background recalculation and waits for the goroutine to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Stats holds aggregate decay statistics over a set of scores.
type Stats struct {
	Total    int
	Average  float64
	Below    int // concepts under the given threshold
	Lowest   float64
	LowestID string
}

// ComputeStats summarizes a score map against a forgetting threshold.
// Useful for dashboards and the /stats endpoint.
func ComputeStats(scores map[string]float64, threshold float64) *Stats {
	stats := &Stats{Lowest: 1.0}
	var sum float64
	for id, score := range scores {
		stats.Total++
		sum += score
		if score < threshold {
			stats.Below++
		}
		if score <= stats.Lowest {
			stats.Lowest = score
			stats.LowestID = id
		}
	}
	if stats.Total > 0 {
		stats.Average = sum / float64(stats.Total)
	} else {
		stats.Lowest = 0
	}
	return stats
}
