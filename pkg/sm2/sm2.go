// Package sm2 implements Muninn's spaced-repetition scheduler.
//
// The scheduler is a per-concept state machine modeled after SM-2, the
// algorithm behind classic flashcard systems. A concept moves through three
// phases as reviews succeed:
//
//	new (0 repetitions) -> learning (1-2) -> mature (>= 3)
//
// and regresses to learning when a review fails. Unlike a flashcard app,
// "review quality" here is not a self-grade — it is derived from passive
// signals (OCR confidence, audio confidence, attention) mapped onto SM-2's
// 0-5 quality scale by Quality.
//
// Two scheduling rules coexist:
//
//  1. Advance applies the full SM-2 update after each observation: success
//     grows the interval (1 day, 6 days, then interval*ease) and nudges the
//     ease factor; failure resets the interval and repetitions. Ease only
//     moves on success, so a transient bad signal cannot make it oscillate.
//  2. NextReview applies a lighter reactive rule between full passes: when
//     the memory score falls under the forgetting threshold, the next review
//     is pulled forward to now + the minimum interval, pre-empting whatever
//     long interval SM-2 had planned.
//
// Example:
//
//	cfg := sm2.DefaultConfig()
//	q := sm2.Quality(0.9, 1.0, 80, 0.5, "study", nil)
//	next := sm2.Advance(time.Now(), state, q, cfg)
package sm2

import (
	"time"
)

// Quality scale boundaries. Quality >= SuccessThreshold counts as a
// successful review in the SM-2 update.
const (
	MaxQuality       = 5.0
	SuccessThreshold = 3.0
)

// Config holds the scheduler tunables.
type Config struct {
	// MinEase is the floor for the ease factor. SM-2's canonical 1.3.
	MinEase float64

	// InitialEase is assigned to new concepts. SM-2's canonical 2.5.
	InitialEase float64

	// MinReviewInterval bounds how soon a review may be scheduled. Also the
	// forced interval used by the reactive low-score rule. Default 1 hour.
	MinReviewInterval time.Duration

	// MaxReviewInterval bounds how far out a review may be pushed.
	// Default 90 days.
	MaxReviewInterval time.Duration

	// MemoryThreshold is the retrievability under which a concept counts as
	// forgotten and the reactive rule fires. Default 0.6.
	MemoryThreshold float64
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() *Config {
	return &Config{
		MinEase:           1.3,
		InitialEase:       2.5,
		MinReviewInterval: time.Hour,
		MaxReviewInterval: 90 * 24 * time.Hour,
		MemoryThreshold:   0.6,
	}
}

// Weights controls the signal blend in Quality. The historical defaults
// (OCR 0.4, audio 0.3, attention 0.3) are hand-tuned, not empirically
// validated — treat them as a starting point, not a constant.
type Weights struct {
	OCR         float64 `yaml:"ocr"`
	Audio       float64 `yaml:"audio"`
	Attention   float64 `yaml:"attention"`
	Interaction float64 `yaml:"interaction"` // default 0: carried in context, not blended
}

// DefaultWeights returns the historical signal blend.
func DefaultWeights() *Weights {
	return &Weights{OCR: 0.4, Audio: 0.3, Attention: 0.3, Interaction: 0}
}

// AppFactors scales quality by the kind of application the concept was seen
// in: reading a textbook reinforces more than a video playing in the
// background.
var AppFactors = map[string]float64{
	"study":         1.2,
	"productivity":  1.0,
	"development":   1.0,
	"communication": 0.9,
	"entertainment": 0.6,
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Quality maps raw observation signals onto SM-2's 0-5 quality scale.
//
// Each signal is clamped to [0,1] (attention arrives in [0,100] and is
// divided by 100), blended with the configured weights, scaled to [0,5],
// multiplied by the app-type factor, and clamped back to [0,5]. Unknown app
// types use factor 1.0. A nil weights argument uses DefaultWeights().
func Quality(ocrConfidence, audioConfidence, attentionScore, interactionRate float64, appType string, w *Weights) float64 {
	if w == nil {
		w = DefaultWeights()
	}

	blend := w.OCR*clamp01(ocrConfidence) +
		w.Audio*clamp01(audioConfidence) +
		w.Attention*clamp01(attentionScore/100.0) +
		w.Interaction*clamp01(interactionRate)

	quality := blend * MaxQuality

	factor, ok := AppFactors[appType]
	if !ok {
		factor = 1.0
	}
	quality *= factor

	if quality < 0 {
		return 0
	}
	if quality > MaxQuality {
		return MaxQuality
	}
	return quality
}

// Phase is the conceptual state of a concept in the review lifecycle.
type Phase string

const (
	PhaseNew      Phase = "new"      // never successfully reviewed
	PhaseLearning Phase = "learning" // 1-2 consecutive successes
	PhaseMature   Phase = "mature"   // 3+ consecutive successes
)

// PhaseOf classifies a repetition count.
func PhaseOf(repetitions int) Phase {
	switch {
	case repetitions <= 0:
		return PhaseNew
	case repetitions < 3:
		return PhaseLearning
	default:
		return PhaseMature
	}
}

// State is the scheduling state carried per concept.
type State struct {
	IntervalDays float64
	EaseFactor   float64
	Repetitions  int
	NextReviewAt time.Time
}

// Advance applies one SM-2 update for a review of the given quality.
//
// Success (quality >= 3): repetitions increment; the interval ladder is
// 1 day, then 6 days, then previous*ease; ease moves by the canonical SM-2
// delta, floored at MinEase.
//
// Failure (quality < 3): interval resets to 1 day and repetitions to 0. The
// ease factor is left unchanged — only successes adjust ease, so noisy
// sensors can't walk it down.
//
// The resulting interval is clamped to [MinReviewInterval, MaxReviewInterval]
// expressed in fractional days, and NextReviewAt is now + interval.
func Advance(now time.Time, s State, quality float64, cfg *Config) State {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ease := s.EaseFactor
	if ease < cfg.MinEase {
		ease = cfg.InitialEase
	}

	next := State{EaseFactor: ease}

	if quality >= SuccessThreshold {
		next.Repetitions = s.Repetitions + 1
		switch next.Repetitions {
		case 1:
			next.IntervalDays = 1
		case 2:
			next.IntervalDays = 6
		default:
			next.IntervalDays = s.IntervalDays * ease
		}

		q := quality
		if q > MaxQuality {
			q = MaxQuality
		}
		delta := 0.1 - (MaxQuality-q)*(0.08+(MaxQuality-q)*0.02)
		next.EaseFactor = ease + delta
		if next.EaseFactor < cfg.MinEase {
			next.EaseFactor = cfg.MinEase
		}
	} else {
		next.Repetitions = 0
		next.IntervalDays = 1
	}

	minDays := cfg.MinReviewInterval.Hours() / 24
	maxDays := cfg.MaxReviewInterval.Hours() / 24
	if next.IntervalDays < minDays {
		next.IntervalDays = minDays
	}
	if next.IntervalDays > maxDays {
		next.IntervalDays = maxDays
	}

	next.NextReviewAt = now.Add(durationDays(next.IntervalDays))
	return next
}

// NextReview applies the reactive forgetting rule on top of a scheduled
// review time: when the memory score is under the threshold, the review is
// pulled forward to now + MinReviewInterval regardless of the SM-2 plan.
// Urgent forgetting pre-empts a long-planned interval.
func NextReview(now time.Time, scheduled time.Time, memoryScore float64, cfg *Config) time.Time {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if memoryScore < cfg.MemoryThreshold {
		return now.Add(cfg.MinReviewInterval)
	}
	return scheduled
}

// durationDays converts fractional days to a time.Duration.
func durationDays(days float64) time.Duration {
	return time.Duration(days * 24 * float64(time.Hour))
}
