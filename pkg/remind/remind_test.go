package remind

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orneryd/muninn/pkg/store"
)

type capturingNotifier struct {
	mu        sync.Mutex
	reminders []Reminder
	failFor   map[string]bool
}

func (n *capturingNotifier) Notify(ctx context.Context, r Reminder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[r.ConceptID] {
		return errors.New("delivery failed")
	}
	n.reminders = append(n.reminders, r)
	return nil
}

func (n *capturingNotifier) fired() []Reminder {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Reminder(nil), n.reminders...)
}

// seedConcept inserts a node with a controlled score and schedule.
func seedConcept(t *testing.T, st store.Store, label string, score float64, nextReview time.Time) {
	t.Helper()
	node, err := st.Upsert(label, nil)
	if err != nil {
		t.Fatalf("upsert %q: %v", label, err)
	}
	node.MemoryScore = score
	node.LastReviewAt = nextReview.Add(-72 * time.Hour)
	node.NextReviewAt = nextReview
	if err := st.Update(node); err != nil {
		t.Fatalf("update %q: %v", label, err)
	}
}

func newTestEngine(st store.Store, n Notifier, cfg Config) *Engine {
	e := NewEngine(st, n, cfg)
	return e
}

func TestPollFiresDueConcepts(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultOptions())
	notifier := &capturingNotifier{}
	engine := newTestEngine(st, notifier, DefaultConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	seedConcept(t, st, "forgotten", 0.2, now.Add(48*time.Hour)) // low score
	seedConcept(t, st, "overdue", 0.9, now.Add(-time.Hour))     // past schedule
	seedConcept(t, st, "healthy", 0.9, now.Add(48*time.Hour))   // neither

	fired, err := engine.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fired != 2 {
		t.Fatalf("fired = %d, want 2", fired)
	}
	for _, r := range notifier.fired() {
		if r.ConceptID == "healthy" {
			t.Error("healthy concept should not fire")
		}
	}
}

func TestPollRespectsCooldown(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultOptions())
	notifier := &capturingNotifier{}
	engine := newTestEngine(st, notifier, DefaultConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	seedConcept(t, st, "forgotten", 0.2, now)

	ctx := context.Background()
	if fired, _ := engine.Poll(ctx); fired != 1 {
		t.Fatalf("first poll fired %d, want 1", fired)
	}

	// Second poll inside the cooldown window: nothing fires even though
	// the score is still below threshold.
	now = now.Add(30 * time.Minute)
	if fired, _ := engine.Poll(ctx); fired != 0 {
		t.Fatalf("poll inside cooldown fired %d, want 0", fired)
	}

	// Past the cooldown it fires again.
	now = now.Add(2 * time.Hour)
	if fired, _ := engine.Poll(ctx); fired != 1 {
		t.Fatalf("poll after cooldown fired %d, want 1", fired)
	}
}

func TestPollSnoozesFiredConcepts(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultOptions())
	engine := newTestEngine(st, &capturingNotifier{}, DefaultConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	seedConcept(t, st, "forgotten", 0.2, now)
	engine.Poll(context.Background())

	node, err := st.Get("forgotten")
	if err != nil {
		t.Fatal(err)
	}
	if !node.LastRemindedAt.Equal(now) {
		t.Errorf("LastRemindedAt = %v, want %v", node.LastRemindedAt, now)
	}
	if want := now.Add(2 * time.Hour); !node.NextReviewAt.Equal(want) {
		t.Errorf("NextReviewAt = %v, want snoozed %v", node.NextReviewAt, want)
	}
}

func TestPollCapOrdersByMostForgotten(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultOptions())
	notifier := &capturingNotifier{}
	cfg := DefaultConfig()
	cfg.MaxPerRun = 2
	engine := newTestEngine(st, notifier, cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	seedConcept(t, st, "slightly faded", 0.5, now.Add(48*time.Hour))
	seedConcept(t, st, "mostly gone", 0.1, now.Add(48*time.Hour))
	seedConcept(t, st, "fading", 0.3, now.Add(48*time.Hour))

	fired, err := engine.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fired != 2 {
		t.Fatalf("fired = %d, want 2", fired)
	}
	got := notifier.fired()
	if got[0].ConceptID != "mostly gone" || got[1].ConceptID != "fading" {
		t.Errorf("fired %q then %q, want most forgotten first",
			got[0].ConceptID, got[1].ConceptID)
	}
}

func TestPollDeliveryFailureDoesNotBlockOthers(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultOptions())
	notifier := &capturingNotifier{failFor: map[string]bool{"broken": true}}
	engine := newTestEngine(st, notifier, DefaultConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	seedConcept(t, st, "broken", 0.1, now)
	seedConcept(t, st, "fine", 0.2, now)

	fired, err := engine.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	// The failed concept keeps its bookkeeping so it retries next cycle.
	node, _ := st.Get("broken")
	if !node.LastRemindedAt.IsZero() {
		t.Error("failed delivery should not mark the concept reminded")
	}
}

func TestDueListsWithoutSideEffects(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultOptions())
	engine := newTestEngine(st, &capturingNotifier{}, DefaultConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	seedConcept(t, st, "a", 0.5, now.Add(48*time.Hour))
	seedConcept(t, st, "b", 0.1, now.Add(48*time.Hour))
	seedConcept(t, st, "c", 0.9, now.Add(48*time.Hour))

	due, err := engine.Due(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != "b" {
		t.Fatalf("Due(1) = %v, want just b", due)
	}

	node, _ := st.Get("b")
	if !node.LastRemindedAt.IsZero() {
		t.Error("Due must not touch reminder bookkeeping")
	}
}

func TestStartStopPollsOnInterval(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultOptions())
	notifier := &capturingNotifier{}
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	engine := newTestEngine(st, notifier, cfg)

	seedConcept(t, st, "forgotten", 0.1, time.Now().Add(-time.Hour))

	engine.Start()
	time.Sleep(50 * time.Millisecond)
	engine.Stop()

	if len(notifier.fired()) == 0 {
		t.Error("expected at least one reminder from the background loop")
	}
	// Stop is idempotent.
	engine.Stop()
}
