package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/orneryd/muninn/pkg/store"
)

// stubEmbedder returns canned vectors per normalized label.
type stubEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.fail {
		return nil, errors.New("provider down")
	}
	return s.vectors[store.NormalizeLabel(text)], nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.fail {
		return nil, errors.New("provider down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.vectors[store.NormalizeLabel(t)]
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }
func (s *stubEmbedder) Model() string   { return "stub" }

func newTestAdapter(emb *stubEmbedder) (*Adapter, *store.MemoryStore) {
	st := store.NewMemoryStore(store.DefaultOptions())
	return NewAdapter(st, emb, DefaultConfig()), st
}

func TestRecordCreatesConceptsFromKeywordsAndAudio(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{}}
	adapter, st := newTestAdapter(emb)

	result := adapter.Record(context.Background(), Observation{
		Keywords: map[string]KeywordSignal{
			"Photosynthesis": {Score: 0.9, Count: 3},
			"Chlorophyll":    {Score: 0.8, Count: 1},
		},
		AudioLabel:      "biology lecture",
		AudioConfidence: 0.7,
		AttentionScore:  80,
		AppType:         "study",
	})

	if len(result.Concepts) != 3 {
		t.Fatalf("expected 3 concepts, got %d", len(result.Concepts))
	}
	for _, label := range []string{"photosynthesis", "chlorophyll", "biology lecture"} {
		if _, err := st.Get(label); err != nil {
			t.Errorf("concept %q not stored: %v", label, err)
		}
	}
}

func TestRecordLabelVariantsResolveToOneNode(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{}}
	adapter, st := newTestAdapter(emb)
	ctx := context.Background()

	variants := []string{"x", " X ", "X", "x ", "  x  "}
	for i := 0; i < 50; i++ {
		label := variants[i%len(variants)]
		adapter.Record(ctx, Observation{
			Keywords: map[string]KeywordSignal{label: {Score: 0.9}},
		})
	}

	nodes, err := st.AllNodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(nodes))
	}
	if nodes[0].EncounterCount != 50 {
		t.Errorf("encounter count = %d, want 50", nodes[0].EncounterCount)
	}
}

func TestRecordLinksSimilarConceptsOnly(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"photosynthesis": {1, 0, 0},
		"chlorophyll":    {0.95, 0.3, 0}, // cosine ~0.95 with photosynthesis
		"tax returns":    {0, 0, 1},      // orthogonal to both
	}}
	adapter, st := newTestAdapter(emb)

	result := adapter.Record(context.Background(), Observation{
		Keywords: map[string]KeywordSignal{
			"photosynthesis": {Score: 0.9},
			"chlorophyll":    {Score: 0.8},
			"tax returns":    {Score: 0.9},
		},
	})

	if result.LinksCreated != 1 {
		t.Errorf("LinksCreated = %d, want 1", result.LinksCreated)
	}
	edges, err := st.AllEdges()
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	if edges[0].A != "chlorophyll" || edges[0].B != "photosynthesis" {
		t.Errorf("unexpected edge %s-%s", edges[0].A, edges[0].B)
	}
}

// shortBatchEmbedder returns fewer vectors than requested with a nil error,
// the way a provider with a lossy batch endpoint can.
type shortBatchEmbedder struct{}

func (s *shortBatchEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (s *shortBatchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{1, 0, 0}}, nil
}

func (s *shortBatchEmbedder) Dimensions() int { return 3 }
func (s *shortBatchEmbedder) Model() string   { return "short" }

func TestRecordShortEmbeddingBatchDegrades(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultOptions())
	adapter := NewAdapter(st, &shortBatchEmbedder{}, DefaultConfig())

	result := adapter.Record(context.Background(), Observation{
		Keywords: map[string]KeywordSignal{
			"photosynthesis": {Score: 0.9},
			"chlorophyll":    {Score: 0.8},
			"stomata":        {Score: 0.7},
		},
	})

	if !result.EmbeddingFailed {
		t.Error("expected EmbeddingFailed for a short batch")
	}
	if len(result.Concepts) != 3 {
		t.Fatalf("expected 3 concepts, got %d", len(result.Concepts))
	}
	for _, c := range result.Concepts {
		if !c.Degraded {
			t.Errorf("concept %q should be degraded", c.ID)
		}
	}
	edges, _ := st.AllEdges()
	if len(edges) != 0 {
		t.Errorf("expected no edges from a short batch, got %d", len(edges))
	}
}

func TestRecordLinkCountFollowsStoreThreshold(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"photosynthesis": {1, 0, 0},
		"chlorophyll":    {0.95, 0.3, 0}, // cosine ~0.95, under the 0.99 bar
	}}
	opts := store.DefaultOptions()
	opts.SimilarityThreshold = 0.99
	st := store.NewMemoryStore(opts)
	adapter := NewAdapter(st, emb, DefaultConfig())

	result := adapter.Record(context.Background(), Observation{
		Keywords: map[string]KeywordSignal{
			"photosynthesis": {Score: 0.9},
			"chlorophyll":    {Score: 0.8},
		},
	})

	if result.LinksCreated != 0 {
		t.Errorf("LinksCreated = %d, want 0 under a 0.99 store threshold", result.LinksCreated)
	}
	edges, _ := st.AllEdges()
	if len(edges) != 0 {
		t.Errorf("expected no edges, got %d", len(edges))
	}
}

func TestRecordEmbeddingFailureStillRecords(t *testing.T) {
	emb := &stubEmbedder{fail: true}
	adapter, st := newTestAdapter(emb)

	result := adapter.Record(context.Background(), Observation{
		Keywords: map[string]KeywordSignal{
			"photosynthesis": {Score: 0.9},
			"chlorophyll":    {Score: 0.8},
		},
	})

	if !result.EmbeddingFailed {
		t.Error("expected EmbeddingFailed")
	}
	if len(result.Concepts) != 2 {
		t.Fatalf("expected 2 concepts despite failure, got %d", len(result.Concepts))
	}
	for _, c := range result.Concepts {
		if !c.Degraded {
			t.Errorf("concept %q should be degraded", c.ID)
		}
	}
	edges, _ := st.AllEdges()
	if len(edges) != 0 {
		t.Errorf("expected no edges without embeddings, got %d", len(edges))
	}
	if _, err := st.Get("photosynthesis"); err != nil {
		t.Errorf("node missing after degraded record: %v", err)
	}
}

func TestSetEmbedderRecoversLinking(t *testing.T) {
	adapter, st := newTestAdapter(&stubEmbedder{fail: true})

	obs := Observation{
		Keywords: map[string]KeywordSignal{
			"photosynthesis": {Score: 0.9},
			"chlorophyll":    {Score: 0.8},
		},
	}
	if result := adapter.Record(context.Background(), obs); !result.EmbeddingFailed {
		t.Fatal("expected degraded first record")
	}

	adapter.SetEmbedder(&stubEmbedder{vectors: map[string][]float32{
		"photosynthesis": {1, 0, 0},
		"chlorophyll":    {0.95, 0.3, 0},
	}})

	result := adapter.Record(context.Background(), obs)
	if result.EmbeddingFailed {
		t.Fatal("expected healthy record after embedder swap")
	}
	if result.LinksCreated != 1 {
		t.Errorf("expected 1 link after recovery, got %d", result.LinksCreated)
	}
	edges, _ := st.AllEdges()
	if len(edges) != 1 {
		t.Errorf("expected 1 edge, got %d", len(edges))
	}
}

func TestRecordEmptyObservationIsNoOp(t *testing.T) {
	adapter, st := newTestAdapter(&stubEmbedder{vectors: map[string][]float32{}})

	result := adapter.Record(context.Background(), Observation{
		Keywords: map[string]KeywordSignal{"": {Score: 0.9}, "   ": {Score: 0.8}},
	})

	if len(result.Concepts) != 0 {
		t.Errorf("expected no concepts, got %d", len(result.Concepts))
	}
	nodes, _ := st.AllNodes()
	if len(nodes) != 0 {
		t.Errorf("expected empty store, got %d nodes", len(nodes))
	}
}

func TestRecordStrongSignalsScheduleFullInterval(t *testing.T) {
	adapter, _ := newTestAdapter(&stubEmbedder{vectors: map[string][]float32{}})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return now }

	result := adapter.Record(context.Background(), Observation{
		Keywords:       map[string]KeywordSignal{"photosynthesis": {Score: 0.9}},
		AttentionScore: 80,
	})

	c := result.Concepts[0]
	// Fresh node, no elapsed time: score = 0.9 * 0.8 * 1.0 = 0.72, above
	// the 0.6 threshold, so the SM-2 first-success interval (1 day) holds.
	if c.MemoryScore < 0.71 || c.MemoryScore > 0.73 {
		t.Errorf("memory score = %f, want ~0.72", c.MemoryScore)
	}
	want := now.Add(24 * time.Hour)
	if !c.NextReviewAt.Equal(want) {
		t.Errorf("next review = %v, want %v", c.NextReviewAt, want)
	}
}

func TestRecordWeakSignalsTriggerReactiveReview(t *testing.T) {
	adapter, _ := newTestAdapter(&stubEmbedder{vectors: map[string][]float32{}})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return now }

	result := adapter.Record(context.Background(), Observation{
		// Attention defaults to 50: score = 0.5 * 0.5 * 1.0 = 0.25 < 0.6.
		Keywords: map[string]KeywordSignal{"photosynthesis": {Score: 0.5}},
	})

	c := result.Concepts[0]
	want := now.Add(time.Hour)
	if !c.NextReviewAt.Equal(want) {
		t.Errorf("next review = %v, want reactive %v", c.NextReviewAt, want)
	}
}

func TestRecordRepeatedObservationsGrowRepetitions(t *testing.T) {
	adapter, st := newTestAdapter(&stubEmbedder{vectors: map[string][]float32{}})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return now }
	ctx := context.Background()

	obs := Observation{
		Keywords:       map[string]KeywordSignal{"photosynthesis": {Score: 0.95}},
		AttentionScore: 90,
		AppType:        "study",
	}
	for i := 0; i < 3; i++ {
		adapter.Record(ctx, obs)
		now = now.Add(time.Minute)
	}

	node, err := st.Get("photosynthesis")
	if err != nil {
		t.Fatal(err)
	}
	if node.Repetitions != 3 {
		t.Errorf("repetitions = %d, want 3", node.Repetitions)
	}
	if node.EncounterCount != 3 {
		t.Errorf("encounter count = %d, want 3", node.EncounterCount)
	}
}

func TestRecordStoresSignalContext(t *testing.T) {
	adapter, st := newTestAdapter(&stubEmbedder{vectors: map[string][]float32{}})

	adapter.Record(context.Background(), Observation{
		Keywords:        map[string]KeywordSignal{"photosynthesis": {Score: 0.9}},
		AudioConfidence: 0.7,
		AttentionScore:  80,
		InteractionRate: 12,
		AppType:         "study",
	})

	node, err := st.Get("photosynthesis")
	if err != nil {
		t.Fatal(err)
	}
	want := store.SignalContext{
		OCRConfidence:   0.9,
		AudioConfidence: 0.7,
		AttentionScore:  80,
		InteractionRate: 12,
		AppType:         "study",
	}
	if node.Context != want {
		t.Errorf("context = %+v, want %+v", node.Context, want)
	}
}

func ExampleAdapter_Record() {
	st := store.NewMemoryStore(store.DefaultOptions())
	adapter := NewAdapter(st, nil, DefaultConfig())

	result := adapter.Record(context.Background(), Observation{
		Keywords:       map[string]KeywordSignal{"photosynthesis": {Score: 0.9}},
		AttentionScore: 80,
	})

	fmt.Println(len(result.Concepts))
	// Output: 1
}
