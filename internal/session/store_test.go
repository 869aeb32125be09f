package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(clock *fakeClock) *Store {
	return NewStore(nil, WithClock(clock.Now))
}

func customerTurn(clock *fakeClock, text string) Turn {
	return Turn{Role: RoleCustomer, Text: text, Timestamp: clock.Now()}
}

func TestRecordTurnMissingCorrespondent(t *testing.T) {
	store := newTestStore(newFakeClock())

	err := store.RecordTurn("", Turn{Role: RoleCustomer, Text: "hi"})
	if !errors.Is(err, ErrMissingCorrespondent) {
		t.Fatalf("expected ErrMissingCorrespondent, got %v", err)
	}
	err = store.RecordTurn("   ", Turn{Role: RoleCustomer, Text: "hi"})
	if !errors.Is(err, ErrMissingCorrespondent) {
		t.Fatalf("expected ErrMissingCorrespondent for blank id, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("rejected turns must not create sessions, have %d", store.Len())
	}
}

func TestContextWindowUnknownCorrespondent(t *testing.T) {
	store := newTestStore(newFakeClock())

	if window := store.ContextWindow("+5215550000001"); len(window) != 0 {
		t.Errorf("expected empty window for unknown correspondent, got %d turns", len(window))
	}
}

func TestContextWindowActiveCap(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	// 11 messages inside 5 minutes: the window holds the latest 10.
	for i := 0; i < 11; i++ {
		if err := store.RecordTurn("+5215550000001", customerTurn(clock, fmt.Sprintf("msg %d", i))); err != nil {
			t.Fatalf("RecordTurn: %v", err)
		}
		clock.Advance(25 * time.Second)
	}

	window := store.ContextWindow("+5215550000001")
	if len(window) != 10 {
		t.Fatalf("expected window of 10, got %d", len(window))
	}
	if window[0].Text != "msg 1" || window[9].Text != "msg 10" {
		t.Errorf("window must hold the most recent turns in order, got %q..%q", window[0].Text, window[9].Text)
	}
	if full := store.Turns("+5215550000001"); len(full) != 11 {
		t.Errorf("full sequence must stay uncapped, got %d", len(full))
	}
}

func TestContextWindowShrinksAfterInactivity(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	for i := 0; i < 11; i++ {
		if err := store.RecordTurn("+5215550000001", customerTurn(clock, fmt.Sprintf("msg %d", i))); err != nil {
			t.Fatalf("RecordTurn: %v", err)
		}
		clock.Advance(time.Second)
	}

	clock.Advance(61 * time.Minute)
	if err := store.RecordTurn("+5215550000001", customerTurn(clock, "msg 11")); err != nil {
		t.Fatalf("RecordTurn after gap: %v", err)
	}

	window := store.ContextWindow("+5215550000001")
	if len(window) != 3 {
		t.Fatalf("expected fresh-conversation window of 3, got %d", len(window))
	}
	if window[2].Text != "msg 11" {
		t.Errorf("window must end at the latest turn, got %q", window[2].Text)
	}
	if full := store.Turns("+5215550000001"); len(full) != 12 {
		t.Errorf("full sequence must retain all %d turns, got %d", 12, len(full))
	}

	// The exchange after the restart runs with full context again.
	clock.Advance(time.Minute)
	if err := store.RecordTurn("+5215550000001", customerTurn(clock, "msg 12")); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}
	if window := store.ContextWindow("+5215550000001"); len(window) != 10 {
		t.Errorf("expected full window after reactivation, got %d", len(window))
	}
}

func TestInactivityBoundaryIsExclusive(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	for i := 0; i < 6; i++ {
		if err := store.RecordTurn("+5215550000002", customerTurn(clock, fmt.Sprintf("msg %d", i))); err != nil {
			t.Fatalf("RecordTurn: %v", err)
		}
	}

	// Exactly one hour of silence counts as inactive.
	clock.Advance(time.Hour)
	if window := store.ContextWindow("+5215550000002"); len(window) != 3 {
		t.Errorf("expected reduced window at the exact boundary, got %d", len(window))
	}
}

func TestContextWindowJustInsideBoundaryStaysActive(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	for i := 0; i < 6; i++ {
		if err := store.RecordTurn("+5215550000003", customerTurn(clock, fmt.Sprintf("msg %d", i))); err != nil {
			t.Fatalf("RecordTurn: %v", err)
		}
	}

	clock.Advance(time.Hour - time.Second)
	if window := store.ContextWindow("+5215550000003"); len(window) != 6 {
		t.Errorf("expected full window inside the boundary, got %d", len(window))
	}
}

func TestSweepInactiveIdempotent(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	if err := store.RecordTurn("+5215550000004", customerTurn(clock, "hola")); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}
	if err := store.RecordTurn("+5215550000005", customerTurn(clock, "buenas")); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}

	if swept := store.SweepInactive(); swept != 0 {
		t.Errorf("expected no reclassification with no elapsed time, swept %d", swept)
	}

	clock.Advance(2 * time.Hour)
	if swept := store.SweepInactive(); swept != 2 {
		t.Errorf("expected both sessions reclassified, swept %d", swept)
	}
	// Second sweep with no elapsed time changes nothing.
	if swept := store.SweepInactive(); swept != 0 {
		t.Errorf("sweep must be idempotent, swept %d", swept)
	}

	class, _, ok := store.Activity("+5215550000004")
	if !ok || class != ClassInactive {
		t.Errorf("expected inactive class after sweep, got %q (known=%v)", class, ok)
	}

	// Sweeping never trims the underlying sequence.
	if full := store.Turns("+5215550000004"); len(full) != 1 {
		t.Errorf("sweep must not touch turn sequences, got %d turns", len(full))
	}
}

func TestRestoreSeedsSessionOnce(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	seed := []Turn{
		{ID: "a", Role: RoleCustomer, Text: "hola", Timestamp: clock.Now().Add(-5 * time.Minute)},
		{ID: "b", Role: RoleBot, Text: "¡Hola!", Timestamp: clock.Now().Add(-4 * time.Minute)},
	}
	if err := store.Restore("+5215550000006", seed); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if window := store.ContextWindow("+5215550000006"); len(window) != 2 {
		t.Fatalf("expected restored window of 2, got %d", len(window))
	}

	// A second restore must not duplicate turns.
	if err := store.Restore("+5215550000006", seed); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if full := store.Turns("+5215550000006"); len(full) != 2 {
		t.Errorf("restore must be a no-op on a live session, got %d turns", len(full))
	}
}

func TestConcurrentRecordTurnSameCorrespondent(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = store.RecordTurn("+5215550000007", Turn{
					Role:      RoleCustomer,
					Text:      fmt.Sprintf("w%d-%d", w, i),
					Timestamp: clock.Now(),
				})
			}
		}(w)
	}
	wg.Wait()

	if full := store.Turns("+5215550000007"); len(full) != writers*perWriter {
		t.Errorf("lost updates under concurrency: expected %d turns, got %d", writers*perWriter, len(full))
	}
	if window := store.ContextWindow("+5215550000007"); len(window) != DefaultActiveWindowTurns {
		t.Errorf("expected capped window, got %d", len(window))
	}
}
