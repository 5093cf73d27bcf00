// Package scheduler drives periodic scan cycles across all active search
// definitions.
package scheduler

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gemscout/gemscout/internal/domain"
	"github.com/gemscout/gemscout/internal/metrics"
)

// ScanRunner is the slice of the scan service the scheduler drives.
type ScanRunner interface {
	ScanSearch(ctx context.Context, def *domain.SearchDefinition) (int, error)
	SweepExpired(ctx context.Context) (int64, error)
}

// Scheduler owns the single "cycle in progress" flag. At most one cycle
// runs at a time; a tick that fires mid-cycle is skipped, not queued.
type Scheduler struct {
	searches domain.SearchStore
	runner   ScanRunner
	logger   *slog.Logger
	metrics  *metrics.Metrics

	running atomic.Bool
	now     func() time.Time
}

// New builds a scheduler over the given store and runner.
func New(searches domain.SearchStore, runner ScanRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		searches: searches,
		runner:   runner,
		logger:   logger,
		now:      time.Now,
	}
}

// SetMetrics registers optional Prometheus collectors.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Start runs a cycle immediately and then on every tick until ctx is
// cancelled. It blocks; run it in a goroutine.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.RunCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle scans every due active definition sequentially, then sweeps
// expired findings. It reports false when another cycle already held the
// flag. Errors in one definition are logged and do not abort the rest;
// the flag is released on every exit path.
func (s *Scheduler) RunCycle(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("scan cycle already in progress, skipping tick")
		s.metrics.IncCycleSkipped()
		return false
	}
	defer s.running.Store(false)

	start := s.now()
	s.logger.Info("running scheduled scans")

	defs, err := s.searches.ListSearches(ctx, true)
	if err != nil {
		s.logger.Error("list search definitions", "error", err)
		return true
	}

	scanned := 0
	for i := range defs {
		def := &defs[i]
		if !s.due(def) {
			s.logger.Debug("definition not due", "search", def.Label)
			continue
		}
		scanned++
		if _, err := s.runner.ScanSearch(ctx, def); err != nil {
			s.logger.Error("scan failed", "search", def.Label, "error", err)
		}
	}

	swept, err := s.runner.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
	}
	s.metrics.AddSwept(swept)

	duration := s.now().Sub(start)
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.logger.Info("scan cycle complete",
		"scanned", scanned,
		"duration", duration,
		"heap_mb", mem.HeapAlloc/1024/1024,
	)
	s.metrics.ObserveCycle(duration)
	return true
}

// due reports whether enough hours have passed since the definition's
// last scan. A never-scanned definition is always due.
func (s *Scheduler) due(def *domain.SearchDefinition) bool {
	if def.LastScannedAt == nil {
		return true
	}
	interval := time.Duration(def.ScanIntervalHours) * time.Hour
	return s.now().Sub(*def.LastScannedAt) >= interval
}
