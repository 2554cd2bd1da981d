package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// snapshotVersion identifies the on-disk snapshot format.
const snapshotVersion = 1

// snapshot is the serialized form of the full concept graph.
//
// Timestamps are stored as RFC3339 strings and parsed leniently on load: a
// malformed timestamp falls back to now with a warning instead of losing the
// node. Everything else round-trips exactly.
type snapshot struct {
	Version int            `json:"version"`
	SavedAt string         `json:"saved_at"`
	Nodes   []snapshotNode `json:"nodes"`
	Edges   []snapshotEdge `json:"edges"`
}

type snapshotNode struct {
	ID             string        `json:"id"`
	CanonicalLabel string        `json:"canonical_label"`
	Embedding      []float32     `json:"embedding,omitempty"`
	EncounterCount int64         `json:"encounter_count"`
	MemoryScore    float64       `json:"memory_score"`
	EaseFactor     float64       `json:"ease_factor"`
	IntervalDays   float64       `json:"interval_days"`
	Repetitions    int           `json:"repetitions"`
	CreatedAt      string        `json:"created_at"`
	LastReviewAt   string        `json:"last_review_at"`
	NextReviewAt   string        `json:"next_review_at"`
	LastRemindedAt string        `json:"last_reminded_at,omitempty"`
	Context        SignalContext `json:"context"`
}

type snapshotEdge struct {
	A         string  `json:"a"`
	B         string  `json:"b"`
	Weight    float64 `json:"weight"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func toSnapshotNode(n *ConceptNode) snapshotNode {
	return snapshotNode{
		ID:             n.ID,
		CanonicalLabel: n.CanonicalLabel,
		Embedding:      n.Embedding,
		EncounterCount: n.EncounterCount,
		MemoryScore:    n.MemoryScore,
		EaseFactor:     n.EaseFactor,
		IntervalDays:   n.IntervalDays,
		Repetitions:    n.Repetitions,
		CreatedAt:      encodeTime(n.CreatedAt),
		LastReviewAt:   encodeTime(n.LastReviewAt),
		NextReviewAt:   encodeTime(n.NextReviewAt),
		LastRemindedAt: encodeTime(n.LastRemindedAt),
		Context:        n.Context,
	}
}

func fromSnapshotNode(sn snapshotNode) *ConceptNode {
	return &ConceptNode{
		ID:             sn.ID,
		CanonicalLabel: sn.CanonicalLabel,
		Embedding:      sn.Embedding,
		EncounterCount: sn.EncounterCount,
		MemoryScore:    sn.MemoryScore,
		EaseFactor:     sn.EaseFactor,
		IntervalDays:   sn.IntervalDays,
		Repetitions:    sn.Repetitions,
		CreatedAt:      parseTimestamp(sn.CreatedAt, "created_at"),
		LastReviewAt:   parseTimestamp(sn.LastReviewAt, "last_review_at"),
		NextReviewAt:   parseTimestamp(sn.NextReviewAt, "next_review_at"),
		LastRemindedAt: parseTimestamp(sn.LastRemindedAt, "last_reminded_at"),
		Context:        sn.Context,
	}
}

func toSnapshotEdge(e *ConceptEdge) snapshotEdge {
	return snapshotEdge{
		A:         e.A,
		B:         e.B,
		Weight:    e.Weight,
		CreatedAt: encodeTime(e.CreatedAt),
		UpdatedAt: encodeTime(e.UpdatedAt),
	}
}

func fromSnapshotEdge(se snapshotEdge) *ConceptEdge {
	return &ConceptEdge{
		A:         se.A,
		B:         se.B,
		Weight:    se.Weight,
		CreatedAt: parseTimestamp(se.CreatedAt, "edge created_at"),
		UpdatedAt: parseTimestamp(se.UpdatedAt, "edge updated_at"),
	}
}

// SaveSnapshot serializes the full graph to a JSON file. The write goes
// through a temp file and rename so a crash mid-write never corrupts an
// existing snapshot.
func (s *MemoryStore) SaveSnapshot(path string) error {
	nodes, err := s.AllNodes()
	if err != nil {
		return err
	}
	edges, err := s.AllEdges()
	if err != nil {
		return err
	}

	snap := snapshot{
		Version: snapshotVersion,
		SavedAt: time.Now().Format(time.RFC3339Nano),
		Nodes:   make([]snapshotNode, 0, len(nodes)),
		Edges:   make([]snapshotEdge, 0, len(edges)),
	}
	for _, n := range nodes {
		snap.Nodes = append(snap.Nodes, toSnapshotNode(n))
	}
	for _, e := range edges {
		snap.Edges = append(snap.Edges, toSnapshotEdge(e))
	}

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot replaces the graph with the contents of a JSON snapshot.
// A read or parse failure leaves the current in-memory graph untouched —
// memory stays authoritative for the running process.
func (s *MemoryStore) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.Version > snapshotVersion {
		return fmt.Errorf("snapshot version %d newer than supported %d", snap.Version, snapshotVersion)
	}

	nodes := make([]*ConceptNode, 0, len(snap.Nodes))
	for _, sn := range snap.Nodes {
		nodes = append(nodes, fromSnapshotNode(sn))
	}
	edges := make([]*ConceptEdge, 0, len(snap.Edges))
	for _, se := range snap.Edges {
		edges = append(edges, fromSnapshotEdge(se))
	}
	return s.replaceAll(nodes, edges)
}
