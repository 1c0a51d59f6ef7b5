package sched

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeHandler records the order of expiry steps.
type fakeHandler struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{done: make(chan struct{})}
}

func (f *fakeHandler) DeleteErrors() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete_errors")
}

func (f *fakeHandler) ExpireOpen(context.Context) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "expire_open")
	return 2
}

func (f *fakeHandler) ResolveExpired(context.Context) {
	f.mu.Lock()
	f.calls = append(f.calls, "resolve_expired")
	f.mu.Unlock()
	close(f.done)
}

func (f *fakeHandler) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestScheduler(h ExpiryHandler) *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(h, time.UTC, logger)
}

func TestNextBoundaryIsTopOfNextHour(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(newFakeHandler())

	now := time.Date(2026, 8, 25, 14, 37, 12, 0, time.UTC)
	want := time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC)
	if got := s.NextBoundary(now); !got.Equal(want) {
		t.Errorf("NextBoundary = %v, want %v", got, want)
	}

	// Exactly on the boundary still advances a full hour.
	now = time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC)
	want = time.Date(2026, 8, 25, 16, 0, 0, 0, time.UTC)
	if got := s.NextBoundary(now); !got.Equal(want) {
		t.Errorf("NextBoundary at boundary = %v, want %v", got, want)
	}
}

func TestNextBoundaryUsesExchangeTimezone(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("EXCH", -4*60*60)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(newFakeHandler(), loc, logger)

	// 14:30 UTC is 10:30 exchange time; the next exchange-hour boundary is
	// 11:00 exchange = 15:00 UTC, same instant either way.
	now := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
	got := s.NextBoundary(now)
	want := time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextBoundary = %v, want %v", got, want)
	}
}

func TestFireRunsStepsInOrder(t *testing.T) {
	t.Parallel()
	h := newFakeHandler()
	s := newTestScheduler(h)

	s.Fire(context.Background())

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("settlement polling was not spawned")
	}

	got := h.snapshot()
	want := []string{"delete_errors", "expire_open", "resolve_expired"}
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}
