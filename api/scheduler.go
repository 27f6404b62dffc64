/*
scheduler.go - Overdue payment sweeper

PURPOSE:
  Periodically flips completed sales whose due date has passed with a
  balance still open from pending/partial to overdue. The status is also
  derived at sale time; the sweeper catches sales that become late later.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - One Ledger.MarkOverdue call per tick; the store does the filtering

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewOverdueScheduler(ledger, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/sale-engine/sale"
)

// OverdueScheduler marks late sales overdue on a ticker.
type OverdueScheduler struct {
	Ledger        *sale.Ledger
	CheckInterval time.Duration
	Enabled       bool

	log    logrus.FieldLogger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOverdueScheduler creates a new scheduler.
func NewOverdueScheduler(ledger *sale.Ledger, log logrus.FieldLogger) *OverdueScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &OverdueScheduler{
		Ledger:        ledger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log.WithField("module", "scheduler"),
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *OverdueScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("overdue scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.log.WithField("interval", s.CheckInterval.String()).Info("overdue scheduler started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *OverdueScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Info("overdue scheduler stopped")
	}
}

func (s *OverdueScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep and returns how many sales were marked.
func (s *OverdueScheduler) RunNow(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := s.Ledger.MarkOverdue(ctx)
	if err != nil {
		s.log.WithError(err).Error("overdue sweep failed")
		return 0
	}
	return n
}
