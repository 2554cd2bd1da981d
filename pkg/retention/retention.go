// Package retention implements the concept garbage-collection policy.
//
// Concepts are never removed implicitly by the core engine; the only way a
// node leaves the graph is this package's explicit age-based sweep. The
// policy is deliberately conservative: a concept is deleted only when it is
// old, weakly retained, and has not been touched recently — anything the
// user still plausibly cares about stays.
//
// An optional archive callback runs before each deletion so callers can
// export the node (JSON file, external store) instead of losing it.
//
// Example:
//
//	sweeper := retention.NewSweeper(store, retention.DefaultPolicy())
//	sweeper.SetArchiveCallback(func(node *store.ConceptNode) error {
//		return exporter.Write(node)
//	})
//	result, _ := sweeper.Sweep(ctx)
//	log.Printf("retention sweep: deleted %d of %d", result.Deleted, result.Examined)
package retention

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/orneryd/muninn/pkg/store"
)

// Policy defines when a concept becomes eligible for deletion.
type Policy struct {
	// MaxAge deletes concepts whose last review is older than this.
	// Ignored when Indefinite is set.
	MaxAge time.Duration `yaml:"max_age"`

	// Indefinite disables deletion entirely.
	Indefinite bool `yaml:"indefinite"`

	// KeepAboveScore protects well-retained concepts regardless of age.
	KeepAboveScore float64 `yaml:"keep_above_score"`

	// KeepRecentlyReminded protects concepts the reminder engine touched
	// inside this window, so a just-surfaced concept is never swept out
	// from under the user.
	KeepRecentlyReminded time.Duration `yaml:"keep_recently_reminded"`
}

// DefaultPolicy returns the standard policy: delete after 180 days of no
// review, unless the concept is still well retained or was reminded in the
// last 30 days.
func DefaultPolicy() Policy {
	return Policy{
		MaxAge:               180 * 24 * time.Hour,
		KeepAboveScore:       0.8,
		KeepRecentlyReminded: 30 * 24 * time.Hour,
	}
}

// Validate checks the policy configuration.
func (p Policy) Validate() error {
	if !p.Indefinite && p.MaxAge <= 0 {
		return fmt.Errorf("retention: max age required unless indefinite")
	}
	if p.KeepAboveScore < 0 || p.KeepAboveScore > 1 {
		return fmt.Errorf("retention: keep_above_score must be in [0,1]")
	}
	return nil
}

// ShouldDelete reports whether the node is eligible for deletion under the
// policy, with a human-readable reason either way.
func (p Policy) ShouldDelete(node *store.ConceptNode, now time.Time) (bool, string) {
	if p.Indefinite {
		return false, "policy is indefinite"
	}
	if now.Sub(node.LastReviewAt) < p.MaxAge {
		return false, "within retention period"
	}
	if node.MemoryScore >= p.KeepAboveScore {
		return false, "memory score above protection threshold"
	}
	if !node.LastRemindedAt.IsZero() && now.Sub(node.LastRemindedAt) < p.KeepRecentlyReminded {
		return false, "recently reminded"
	}
	return true, "retention period expired"
}

// SweepResult summarizes one sweep cycle.
type SweepResult struct {
	Examined int
	Deleted  int
	Archived int
	Retained int
}

// Sweeper applies a Policy against the concept store on demand or on a
// background ticker. Thread-safe.
type Sweeper struct {
	store  store.Store
	policy Policy

	mu        sync.Mutex
	onArchive func(node *store.ConceptNode) error
	now       func() time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(s store.Store, policy Policy) *Sweeper {
	return &Sweeper{
		store:  s,
		policy: policy,
		now:    time.Now,
	}
}

// SetArchiveCallback sets the function called with each node before it is
// deleted. An archive failure retains the node.
func (s *Sweeper) SetArchiveCallback(fn func(node *store.ConceptNode) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onArchive = fn
}

// Sweep runs one pass over the whole graph, deleting expired concepts and
// their edges.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	if err := s.policy.Validate(); err != nil {
		return result, err
	}

	nodes, err := s.store.AllNodes()
	if err != nil {
		return result, err
	}

	s.mu.Lock()
	archiveFn := s.onArchive
	now := s.now()
	s.mu.Unlock()

	for _, node := range nodes {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}
		result.Examined++

		expired, reason := s.policy.ShouldDelete(node, now)
		if !expired {
			result.Retained++
			continue
		}

		if archiveFn != nil {
			if err := archiveFn(node); err != nil {
				log.Printf("warn: archive of %q failed, retaining: %v", node.ID, err)
				result.Retained++
				continue
			}
			result.Archived++
		}

		if err := s.store.Delete(node.ID); err != nil {
			log.Printf("warn: delete of %q failed (%s): %v", node.ID, reason, err)
			result.Retained++
			continue
		}
		result.Deleted++
	}
	return result, nil
}

// Start launches a background sweep on the given interval.
func (s *Sweeper) Start(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if result, err := s.Sweep(ctx); err != nil {
					log.Printf("warn: retention sweep failed: %v", err)
				} else if result.Deleted > 0 {
					log.Printf("retention sweep: deleted %d of %d concepts",
						result.Deleted, result.Examined)
				}
			}
		}
	}()
}

// Stop halts the background sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
}
