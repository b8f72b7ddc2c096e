/*
scheduler.go - Periodic balance audit

PURPOSE:
  Periodically compares every stored remaining balance with
  annual_days - SUM(booked days) and reports the employees that drifted.
  With Repair enabled each drifted balance is rewritten through
  Ledger.ReconcileBalance, one employee per transaction.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Keeps the last MaxRuns runs in memory for GET /api/admin/audit/runs

USAGE:
  scheduler := NewAuditScheduler(ledger, logger)
  scheduler.CheckInterval = time.Hour
  scheduler.Repair = true
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Audit and Reconcile endpoints (manual runs)
  - timeoff/ledger.go: AuditBalances, ReconcileBalance
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/vacation-ledger/timeoff"
)

// MaxRuns is how many audit runs the scheduler remembers.
const MaxRuns = 20

// AuditScheduler runs the balance audit on a ticker.
type AuditScheduler struct {
	Ledger        *timeoff.Ledger
	Logger        *zap.Logger
	CheckInterval time.Duration
	Repair        bool
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runsMu sync.RWMutex
	runs   []AuditRunDTO
}

// NewAuditScheduler creates a scheduler with a one hour interval.
func NewAuditScheduler(ledger *timeoff.Ledger, logger *zap.Logger) *AuditScheduler {
	return &AuditScheduler{
		Ledger:        ledger,
		Logger:        logger,
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		s.Logger.Info("audit scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.Logger.Info("audit scheduler started",
		zap.Duration("interval", s.CheckInterval),
		zap.Bool("repair", s.Repair))
}

// Stop stops the scheduler and waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("audit scheduler stopped")
	}
}

func (s *AuditScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one audit synchronously and records it.
func (s *AuditScheduler) RunNow(ctx context.Context) AuditRunDTO {
	run := AuditRunDTO{ID: uuid.NewString(), StartedAt: time.Now().UTC(), Drifts: []DriftDTO{}}

	drifts, err := s.Ledger.AuditBalances(ctx)
	if err != nil {
		run.Error = err.Error()
		s.Logger.Error("balance audit failed", zap.String("run_id", run.ID), zap.Error(err))
		s.record(run)
		return run
	}
	run.Drifts = toDriftDTOs(drifts)

	for _, d := range drifts {
		s.Logger.Warn("balance drift",
			zap.String("run_id", run.ID),
			zap.Int64("employee_id", int64(d.Employee.ID)),
			zap.Int("stored", d.Employee.RemainingDays),
			zap.Int("expected", d.Expected))

		if !s.Repair {
			continue
		}
		res, err := s.Ledger.ReconcileBalance(ctx, d.Employee.ID)
		if err != nil {
			s.Logger.Error("balance repair failed",
				zap.String("run_id", run.ID),
				zap.Int64("employee_id", int64(d.Employee.ID)),
				zap.Error(err))
			continue
		}
		if res.Changed() {
			run.Repaired++
		}
	}

	s.Logger.Info("balance audit finished",
		zap.String("run_id", run.ID),
		zap.Int("drifted", len(run.Drifts)),
		zap.Int("repaired", run.Repaired))
	s.record(run)
	return run
}

// Runs returns the remembered runs, newest first.
func (s *AuditScheduler) Runs() []AuditRunDTO {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	out := make([]AuditRunDTO, len(s.runs))
	for i, r := range s.runs {
		out[len(s.runs)-1-i] = r
	}
	return out
}

func (s *AuditScheduler) record(run AuditRunDTO) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	s.runs = append(s.runs, run)
	if len(s.runs) > MaxRuns {
		s.runs = s.runs[len(s.runs)-MaxRuns:]
	}
}
