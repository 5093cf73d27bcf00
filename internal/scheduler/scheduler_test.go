package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gemscout/gemscout/internal/domain"
)

type stubSearches struct {
	defs []domain.SearchDefinition
	err  error
}

func (s *stubSearches) ListSearches(_ context.Context, activeOnly bool) ([]domain.SearchDefinition, error) {
	if s.err != nil {
		return nil, s.err
	}
	if !activeOnly {
		return s.defs, nil
	}
	var active []domain.SearchDefinition
	for _, def := range s.defs {
		if def.Active {
			active = append(active, def)
		}
	}
	return active, nil
}

func (s *stubSearches) GetSearch(context.Context, string) (*domain.SearchDefinition, error) {
	return nil, domain.ErrSearchNotFound
}
func (s *stubSearches) CreateSearch(context.Context, *domain.SearchDefinition) error { return nil }
func (s *stubSearches) UpdateSearch(context.Context, *domain.SearchDefinition) error { return nil }
func (s *stubSearches) DeleteSearch(context.Context, string) (bool, error)           { return false, nil }
func (s *stubSearches) UpdateLastScanned(context.Context, string, time.Time) error   { return nil }

type stubRunner struct {
	mu      sync.Mutex
	scanned []string
	scanErr map[string]error
	sweeps  int
	blocked chan struct{} // when set, ScanSearch blocks until closed
	started chan struct{}
}

func (r *stubRunner) ScanSearch(_ context.Context, def *domain.SearchDefinition) (int, error) {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.blocked != nil {
		<-r.blocked
	}
	r.mu.Lock()
	r.scanned = append(r.scanned, def.ID)
	r.mu.Unlock()
	if err := r.scanErr[def.ID]; err != nil {
		return 0, err
	}
	return 0, nil
}

func (r *stubRunner) SweepExpired(context.Context) (int64, error) {
	r.mu.Lock()
	r.sweeps++
	r.mu.Unlock()
	return 0, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hoursAgo(h int) *time.Time {
	t := time.Now().Add(-time.Duration(h) * time.Hour)
	return &t
}

func TestRunCycleScansDueDefinitions(t *testing.T) {
	searches := &stubSearches{defs: []domain.SearchDefinition{
		{ID: "never-scanned", ScanIntervalHours: 3, Active: true},
		{ID: "due", ScanIntervalHours: 3, Active: true, LastScannedAt: hoursAgo(4)},
		{ID: "not-due", ScanIntervalHours: 3, Active: true, LastScannedAt: hoursAgo(1)},
		{ID: "inactive", ScanIntervalHours: 3, Active: false},
	}}
	runner := &stubRunner{}

	sched := New(searches, runner, testLogger())
	if !sched.RunCycle(context.Background()) {
		t.Fatalf("RunCycle reported skipped")
	}

	want := map[string]bool{"never-scanned": true, "due": true}
	if len(runner.scanned) != len(want) {
		t.Fatalf("scanned = %v, want ids %v", runner.scanned, want)
	}
	for _, id := range runner.scanned {
		if !want[id] {
			t.Fatalf("unexpected scan of %q", id)
		}
	}
	if runner.sweeps != 1 {
		t.Fatalf("sweeps = %d, want 1", runner.sweeps)
	}
}

func TestRunCycleSingleFlight(t *testing.T) {
	searches := &stubSearches{defs: []domain.SearchDefinition{
		{ID: "a", ScanIntervalHours: 1, Active: true},
	}}
	runner := &stubRunner{
		blocked: make(chan struct{}),
		started: make(chan struct{}, 1),
	}

	sched := New(searches, runner, testLogger())

	done := make(chan bool)
	go func() { done <- sched.RunCycle(context.Background()) }()
	<-runner.started

	// Second cycle must be refused while the first holds the flag.
	if sched.RunCycle(context.Background()) {
		t.Fatalf("overlapping cycle was not skipped")
	}

	close(runner.blocked)
	if !<-done {
		t.Fatalf("first cycle reported skipped")
	}

	// The flag is released once the cycle completes.
	runner.blocked = nil
	runner.started = nil
	if !sched.RunCycle(context.Background()) {
		t.Fatalf("cycle after completion was skipped")
	}
}

func TestRunCycleErrorDoesNotAbortSiblings(t *testing.T) {
	searches := &stubSearches{defs: []domain.SearchDefinition{
		{ID: "bad", ScanIntervalHours: 1, Active: true},
		{ID: "good", ScanIntervalHours: 1, Active: true},
	}}
	runner := &stubRunner{scanErr: map[string]error{"bad": errors.New("boom")}}

	sched := New(searches, runner, testLogger())
	sched.RunCycle(context.Background())

	if len(runner.scanned) != 2 {
		t.Fatalf("scanned = %v, want both definitions", runner.scanned)
	}
	if runner.sweeps != 1 {
		t.Fatalf("sweep should still run after a scan error")
	}
}

func TestRunCycleReleasesFlagOnListError(t *testing.T) {
	searches := &stubSearches{err: errors.New("db down")}
	runner := &stubRunner{}

	sched := New(searches, runner, testLogger())
	sched.RunCycle(context.Background())

	// A failed cycle must not leave the flag held.
	searches.err = nil
	if !sched.RunCycle(context.Background()) {
		t.Fatalf("flag still held after failed cycle")
	}
}

func TestDue(t *testing.T) {
	sched := New(&stubSearches{}, &stubRunner{}, testLogger())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return base }

	tests := []struct {
		name string
		last *time.Time
		want bool
	}{
		{name: "never scanned", last: nil, want: true},
		{name: "exactly at interval", last: timePtr(base.Add(-3 * time.Hour)), want: true},
		{name: "past interval", last: timePtr(base.Add(-5 * time.Hour)), want: true},
		{name: "within interval", last: timePtr(base.Add(-2 * time.Hour)), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &domain.SearchDefinition{ScanIntervalHours: 3, LastScannedAt: tt.last}
			if got := sched.due(def); got != tt.want {
				t.Fatalf("due = %v, want %v", got, tt.want)
			}
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }
