// Package sweep drives the Relay's batch-claim loop on a fixed cadence
// using github.com/robfig/cron/v3 (grounded on ngaut-NexusCRM's backend use
// of robfig/cron for its background job scheduling), with a single-flight
// guard so overlapping fires never run two sweeps concurrently — spec.md
// §4.3's "single-shot sweeping, one sweep at a time per process".
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/baechuer/reliable-command-engine/internal/logx"
	"github.com/robfig/cron/v3"
)

// Sweeper is the subset of *relay.Relay the scheduler needs.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Scheduler wraps a cron.Cron to drive Sweeper.Sweep at a fixed interval.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	interval time.Duration
	mu       sync.Mutex
	running  bool
}

// New constructs a Scheduler. interval is converted to a "@every" cron
// spec, matching spec.md §6's sweepInterval config field; a non-positive
// interval falls back to the 30s default.
func New(sweeper Sweeper, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		cron:     cron.New(),
		sweeper:  sweeper,
		interval: interval,
	}
}

// Start registers the periodic sweep and starts the cron scheduler. It
// returns the entry id's error only if the cron spec fails to parse, which
// cannot happen for an "@every" spec built from a valid duration.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.tick(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// tick runs one sweep, skipping it entirely if a previous sweep is still in
// flight rather than queueing a second one.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logx.Logger.Warn().Msg("sweep: previous sweep still running, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	n, err := s.sweeper.Sweep(ctx)
	if err != nil {
		logx.Logger.Warn().Err(err).Msg("sweep failed")
		return
	}
	if n > 0 {
		logx.Logger.Info().Int("claimed", n).Msg("sweep completed")
	}
}
