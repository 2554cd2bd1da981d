// Package store provides the concept graph owned by Muninn.
//
// The store is the single source of truth for concept nodes and similarity
// edges. Every other component — the decay model, the spaced-repetition
// scheduler, the ingestion adapter, and the reminder engine — reads and
// writes concepts through it.
//
// Two implementations are provided:
//   - MemoryStore: In-memory graph for testing and ephemeral runs
//   - BadgerStore: Persistent graph backed by BadgerDB, survives restarts
//
// Both are thread-safe behind a single coarse writer lock. Write frequency is
// on the order of one observation batch every few seconds, so coarse locking
// is the simple, correct choice here.
//
// Example Usage:
//
//	st := store.NewMemoryStore(nil)
//	defer st.Close()
//
//	node, _ := st.Upsert("photosynthesis", embedding)
//	fmt.Printf("seen %d times, score %.2f\n", node.EncounterCount, node.MemoryScore)
//
//	// Link two concepts observed together
//	st.Upsert("chlorophyll", other)
//	st.Link("photosynthesis", "chlorophyll", 0.83)
//
//	// Persist the full graph
//	st.SaveSnapshot("concepts.json")
package store

import (
	"errors"
	"log"
	"strings"
	"time"
)

// Common errors returned by store operations.
var (
	ErrNotFound     = errors.New("concept not found")
	ErrInvalidLabel = errors.New("invalid concept label")
	ErrSelfLoop     = errors.New("self-loop edge rejected")
	ErrStoreClosed  = errors.New("store closed")
)

// DefaultSimilarityThreshold is the minimum cosine similarity required before
// two concepts are linked with an edge.
const DefaultSimilarityThreshold = 0.7

// SignalContext carries the most recent raw signal readings attached to a
// concept. It is what the decay model and the quality mapping read when the
// concept is next scored.
//
// Missing signals use neutral defaults supplied by the ingestion adapter
// (audio confidence 1.0 when audio is disabled, attention 50 when the webcam
// is disabled). A disabled signal must never be stored as 0.0 — that would be
// indistinguishable from "forgotten".
type SignalContext struct {
	OCRConfidence   float64 `json:"ocr_confidence"`
	AudioConfidence float64 `json:"audio_confidence"`
	AttentionScore  float64 `json:"attention_score"`
	InteractionRate float64 `json:"interaction_rate"`
	AppType         string  `json:"app_type"`
}

// ConceptNode is one tracked concept: a topic or keyword the user has
// encountered, together with its memory state and review schedule.
//
// Fields:
//   - ID: Stable identifier, the normalized label (see NormalizeLabel)
//   - CanonicalLabel: Human-readable label as first observed
//   - Embedding: Fixed-length vector from the similarity provider. May be
//     empty when embedding failed; the node still decays and schedules,
//     only semantic linking degrades.
//   - EncounterCount: Incremented on every observation
//   - MemoryScore: Retrievability estimate in [0,1], clamped on write
//   - EaseFactor: SM-2 multiplier, never below the configured minimum
//   - IntervalDays: Days (fractional allowed) until the next scheduled review
//   - Repetitions: Consecutive successful reviews
//   - LastReviewAt / NextReviewAt / LastRemindedAt: Schedule bookkeeping.
//     NextReviewAt is never before LastReviewAt.
//   - Context: Last-seen signal readings (see SignalContext)
type ConceptNode struct {
	ID             string        `json:"id"`
	CanonicalLabel string        `json:"canonical_label"`
	Embedding      []float32     `json:"embedding,omitempty"`
	EncounterCount int64         `json:"encounter_count"`
	MemoryScore    float64       `json:"memory_score"`
	EaseFactor     float64       `json:"ease_factor"`
	IntervalDays   float64       `json:"interval_days"`
	Repetitions    int           `json:"repetitions"`
	CreatedAt      time.Time     `json:"created_at"`
	LastReviewAt   time.Time     `json:"last_review_at"`
	NextReviewAt   time.Time     `json:"next_review_at"`
	LastRemindedAt time.Time     `json:"last_reminded_at,omitempty"`
	Context        SignalContext `json:"context"`
}

// Clone returns a deep copy of the node. The store hands out clones so
// callers can never mutate graph state outside the lock.
func (n *ConceptNode) Clone() *ConceptNode {
	cp := *n
	if n.Embedding != nil {
		cp.Embedding = make([]float32, len(n.Embedding))
		copy(cp.Embedding, n.Embedding)
	}
	return &cp
}

// clampInvariants enforces the node invariants at the struct boundary:
// MemoryScore stays in [0,1] and NextReviewAt never precedes LastReviewAt.
// Violations are repaired, not reported — a bad signal must never poison
// the graph.
func (n *ConceptNode) clampInvariants() {
	if n.MemoryScore < 0 {
		n.MemoryScore = 0
	}
	if n.MemoryScore > 1 {
		n.MemoryScore = 1
	}
	if n.NextReviewAt.Before(n.LastReviewAt) {
		n.NextReviewAt = n.LastReviewAt
	}
}

// ConceptEdge is an undirected similarity edge between two concepts.
//
// The endpoint pair is stored in canonical order (A < B), so linking
// "b"→"a" and "a"→"b" accumulates the same edge. Weight is the cosine
// similarity summed across repeated co-occurrence; it only grows, and
// edges are never pruned implicitly.
type ConceptEdge struct {
	A         string    `json:"a"`
	B         string    `json:"b"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// edgeKey returns the canonical map key for an unordered label pair.
func edgeKey(a, b string) (string, string, string) {
	if b < a {
		a, b = b, a
	}
	return a, b, a + "\x00" + b
}

// NormalizeLabel converts a raw label into a stable concept ID: trimmed,
// inner whitespace collapsed to single spaces, lowercased.
//
// "  Photosynthesis " and "photosynthesis" resolve to the same node.
// Returns "" for degenerate labels (empty or whitespace-only), which the
// store rejects.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// Options configures a store.
type Options struct {
	// SimilarityThreshold is the minimum cosine similarity for Link to create
	// or accumulate an edge. Default 0.7.
	SimilarityThreshold float64

	// InitialEase is the SM-2 ease factor assigned to newly created concepts.
	// Default 2.5.
	InitialEase float64
}

// DefaultOptions returns the store defaults used throughout Muninn.
func DefaultOptions() *Options {
	return &Options{
		SimilarityThreshold: DefaultSimilarityThreshold,
		InitialEase:         2.5,
	}
}

// Store is the concept graph interface shared by both engines.
//
// Labels passed to any method are normalized internally; callers may pass
// raw labels. All mutating methods are atomic under the store's writer lock.
type Store interface {
	// Upsert creates the concept if absent, otherwise increments its
	// encounter count. Creation defaults: MemoryScore 0.3, EaseFactor from
	// Options.InitialEase, IntervalDays 1, Repetitions 0, NextReviewAt now.
	// A nil or empty embedding still creates the node.
	Upsert(label string, embedding []float32) (*ConceptNode, error)

	// Update commits decay/scheduler writes for an existing concept.
	// Invariants are clamped on write.
	Update(node *ConceptNode) error

	// Link adds or accumulates an undirected edge when similarity exceeds
	// the threshold; below-threshold similarity is a no-op and reports
	// false. Both endpoints must already exist. Self-loops are rejected.
	Link(labelA, labelB string, similarity float64) (bool, error)

	// Get returns a copy of the concept, or ErrNotFound.
	Get(label string) (*ConceptNode, error)

	// AllNodes returns a point-in-time copy of every concept. Mutating the
	// result never affects the graph.
	AllNodes() ([]*ConceptNode, error)

	// AllEdges returns a point-in-time copy of every edge.
	AllEdges() ([]*ConceptEdge, error)

	// Neighbors returns copies of the concepts linked to label.
	Neighbors(label string) ([]*ConceptNode, error)

	// Delete removes a concept and all of its edges. Used by the retention
	// sweep; nothing else removes concepts.
	Delete(label string) error

	// SaveSnapshot serializes the full graph to a JSON file.
	SaveSnapshot(path string) error

	// LoadSnapshot replaces the graph with the contents of a JSON snapshot.
	LoadSnapshot(path string) error

	// Close releases resources. The store rejects operations afterwards.
	Close() error
}

// parseTimestamp parses a persisted RFC3339 timestamp, falling back to now
// when the value is malformed. Spec'd recovery: a corrupt timestamp must not
// lose the node.
func parseTimestamp(s string, field string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		log.Printf("store: malformed %s timestamp %q, falling back to now: %v", field, s, err)
		return time.Now()
	}
	return t
}
