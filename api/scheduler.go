/*
scheduler.go - Automated expiration sweep

PURPOSE:
  Periodically marks batches whose expiry date has passed as EXPIRED so
  they stop showing up as spendable and become eligible for reissue on a
  later use cancellation.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps once on start, then on every tick
  - The sweep is idempotent, so overlapping runs on several nodes are
    harmless

USAGE:
  scheduler := NewExpirationScheduler(service, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Expire endpoint (manual sweep)
  - point/expire.go: ExpireOverdue
*/
package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/point-engine/point"
)

// ExpirationScheduler runs the expiration sweep on a ticker.
type ExpirationScheduler struct {
	Service       *point.Service
	CheckInterval time.Duration
	Enabled       bool
	Log           zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	runs   atomic.Int64
}

// NewExpirationScheduler creates a scheduler with an hourly interval.
func NewExpirationScheduler(svc *point.Service, log zerolog.Logger) *ExpirationScheduler {
	return &ExpirationScheduler{
		Service:       svc,
		CheckInterval: time.Hour,
		Enabled:       true,
		Log:           log,
	}
}

// Start begins the scheduler.
func (s *ExpirationScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info().Msg("expiration scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Log.Info().Dur("interval", s.CheckInterval).Msg("expiration scheduler started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *ExpirationScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Log.Info().Msg("expiration scheduler stopped")
}

func (s *ExpirationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow sweeps immediately and returns the number of expired batches.
func (s *ExpirationScheduler) RunNow(ctx context.Context) int {
	n, err := s.Service.ExpireOverdue(ctx, s.Service.Today())
	s.runs.Add(1)
	if err != nil {
		s.Log.Error().Err(err).Msg("expiration sweep failed")
		return 0
	}
	return n
}

// Runs returns how many sweeps have been attempted.
func (s *ExpirationScheduler) Runs() int {
	return int(s.runs.Load())
}
