package store

import (
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-memory concept graph engine.
//
// Use Cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - Ephemeral runs where restart durability doesn't matter
//   - The in-memory half of BadgerStore, which write-throughs to disk
//
// Features:
//   - Thread-safe: one RWMutex guards all node/edge state
//   - Indexed: adjacency index for O(degree) neighbor lookups
//   - Deep copies: every returned node/edge is a copy, so callers can't
//     mutate graph state outside the lock
//
// Performance Characteristics:
//   - Upsert/Get by ID: O(1)
//   - Link: O(1)
//   - Neighbors: O(degree)
//   - AllNodes: O(n) copy (called on snapshot/reminder cadence, not hot path)
type MemoryStore struct {
	mu     sync.RWMutex
	opts   Options
	nodes  map[string]*ConceptNode
	edges  map[string]*ConceptEdge
	adj    map[string]map[string]struct{}
	closed bool

	// now is swappable for deterministic tests.
	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory concept graph.
// If opts is nil, DefaultOptions() is used.
func NewMemoryStore(opts *Options) *MemoryStore {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MemoryStore{
		opts:  *opts,
		nodes: make(map[string]*ConceptNode),
		edges: make(map[string]*ConceptEdge),
		adj:   make(map[string]map[string]struct{}),
		now:   time.Now,
	}
}

// Upsert creates the concept if absent, else increments its encounter count.
// Re-observing an existing label never duplicates a node: "x" and " X " both
// resolve to one concept.
func (s *MemoryStore) Upsert(label string, embedding []float32) (*ConceptNode, error) {
	id := NormalizeLabel(label)
	if id == "" {
		return nil, ErrInvalidLabel
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	if existing, ok := s.nodes[id]; ok {
		existing.EncounterCount++
		if len(existing.Embedding) == 0 && len(embedding) > 0 {
			// A late successful embedding upgrades a degraded node.
			existing.Embedding = append([]float32(nil), embedding...)
		}
		return existing.Clone(), nil
	}

	now := s.now()
	node := &ConceptNode{
		ID:             id,
		CanonicalLabel: strings.TrimSpace(label),
		Embedding:      append([]float32(nil), embedding...),
		EncounterCount: 1,
		MemoryScore:    0.3,
		EaseFactor:     s.opts.InitialEase,
		IntervalDays:   1,
		Repetitions:    0,
		CreatedAt:      now,
		LastReviewAt:   now,
		NextReviewAt:   now,
	}
	s.nodes[id] = node
	return node.Clone(), nil
}

// Update commits new decay/scheduler state for an existing concept.
// The node is looked up by ID; unknown IDs return ErrNotFound.
func (s *MemoryStore) Update(node *ConceptNode) error {
	if node == nil || node.ID == "" {
		return ErrInvalidLabel
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if _, ok := s.nodes[node.ID]; !ok {
		return ErrNotFound
	}

	cp := node.Clone()
	cp.clampInvariants()
	s.nodes[cp.ID] = cp
	return nil
}

// Link adds or accumulates an undirected similarity edge. Similarity at or
// below the threshold is a no-op reporting false, matching the contract
// that weak similarity simply never becomes graph structure. It reports
// true when an edge was created or strengthened.
func (s *MemoryStore) Link(labelA, labelB string, similarity float64) (bool, error) {
	a := NormalizeLabel(labelA)
	b := NormalizeLabel(labelB)
	if a == "" || b == "" {
		return false, ErrInvalidLabel
	}
	if a == b {
		return false, ErrSelfLoop
	}
	if similarity <= s.opts.SimilarityThreshold {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}

	if _, ok := s.nodes[a]; !ok {
		return false, ErrNotFound
	}
	if _, ok := s.nodes[b]; !ok {
		return false, ErrNotFound
	}

	lo, hi, key := edgeKey(a, b)
	now := s.now()
	if edge, ok := s.edges[key]; ok {
		// Additive accumulation: weight only grows as the pair keeps
		// co-occurring.
		edge.Weight += similarity
		edge.UpdatedAt = now
		return true, nil
	}

	s.edges[key] = &ConceptEdge{
		A:         lo,
		B:         hi,
		Weight:    similarity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.adj[lo] == nil {
		s.adj[lo] = make(map[string]struct{})
	}
	if s.adj[hi] == nil {
		s.adj[hi] = make(map[string]struct{})
	}
	s.adj[lo][hi] = struct{}{}
	s.adj[hi][lo] = struct{}{}
	return true, nil
}

// Get returns a copy of the concept, or ErrNotFound.
func (s *MemoryStore) Get(label string) (*ConceptNode, error) {
	id := NormalizeLabel(label)
	if id == "" {
		return nil, ErrInvalidLabel
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	node, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return node.Clone(), nil
}

// AllNodes returns a point-in-time copy of every concept. The reminder
// engine and the decay recalculation loop iterate this snapshot, never the
// live maps.
func (s *MemoryStore) AllNodes() ([]*ConceptNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make([]*ConceptNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Clone())
	}
	return out, nil
}

// AllEdges returns a point-in-time copy of every edge.
func (s *MemoryStore) AllEdges() ([]*ConceptEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make([]*ConceptEdge, 0, len(s.edges))
	for _, e := range s.edges {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// Neighbors returns copies of the concepts linked to label.
func (s *MemoryStore) Neighbors(label string) ([]*ConceptNode, error) {
	id := NormalizeLabel(label)
	if id == "" {
		return nil, ErrInvalidLabel
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if _, ok := s.nodes[id]; !ok {
		return nil, ErrNotFound
	}

	var out []*ConceptNode
	for other := range s.adj[id] {
		if n, ok := s.nodes[other]; ok {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

// Delete removes a concept and its edges. Only the retention sweep calls
// this; normal operation never removes concepts.
func (s *MemoryStore) Delete(label string) error {
	id := NormalizeLabel(label)
	if id == "" {
		return ErrInvalidLabel
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.nodes[id]; !ok {
		return ErrNotFound
	}

	delete(s.nodes, id)
	for other := range s.adj[id] {
		_, _, key := edgeKey(id, other)
		delete(s.edges, key)
		delete(s.adj[other], id)
	}
	delete(s.adj, id)
	return nil
}

// Close marks the store closed. Further operations return ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// getEdge returns a copy of the edge between two labels, if present.
func (s *MemoryStore) getEdge(labelA, labelB string) (*ConceptEdge, bool) {
	a := NormalizeLabel(labelA)
	b := NormalizeLabel(labelB)
	_, _, key := edgeKey(a, b)

	s.mu.RLock()
	defer s.mu.RUnlock()
	edge, ok := s.edges[key]
	if !ok {
		return nil, false
	}
	cp := *edge
	return &cp, true
}

// replaceAll swaps in a full graph (snapshot load). Caller passes ownership
// of the node/edge values.
func (s *MemoryStore) replaceAll(nodes []*ConceptNode, edges []*ConceptEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	s.nodes = make(map[string]*ConceptNode, len(nodes))
	s.edges = make(map[string]*ConceptEdge, len(edges))
	s.adj = make(map[string]map[string]struct{})

	for _, n := range nodes {
		n.clampInvariants()
		s.nodes[n.ID] = n
	}
	for _, e := range edges {
		lo, hi, key := edgeKey(e.A, e.B)
		e.A, e.B = lo, hi
		s.edges[key] = e
		if s.adj[lo] == nil {
			s.adj[lo] = make(map[string]struct{})
		}
		if s.adj[hi] == nil {
			s.adj[hi] = make(map[string]struct{})
		}
		s.adj[lo][hi] = struct{}{}
		s.adj[hi][lo] = struct{}{}
	}
	return nil
}
