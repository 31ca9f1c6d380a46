package zreport

import (
	"context"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd/ledger"
	"github.com/go-faster/errors"
)

// runOnce catches up missed days and sends today's report once the daily
// time has passed. Safe to repeat.
func (s *Scheduler) runOnce(ctx context.Context) error {
	err := s.CatchUp(ctx)

	now := s.clock.Now()
	if !now.Before(s.scheduled(now)) {
		if _, serr := s.Send(ctx, ledger.Day(now)); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

func (s *Scheduler) scheduled(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Add(s.opts.At)
}

// untilNext time left to the next daily run strictly after now.
func (s *Scheduler) untilNext(now time.Time) time.Duration {
	next := s.scheduled(now)
	if !next.After(now) {
		y, m, d := now.Date()
		next = time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()).Add(s.opts.At)
	}
	return next.Sub(now)
}

// Start runs the catch-up and then the daily timer until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return errors.New("z-report scheduler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	logger.WithField("at", s.opts.At.String()).Info("z-report scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Info("z-report scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := s.untilNext(s.clock.Now())
		if err != nil {
			logger.Warnf("z-report run failed, retrying in %s: %v", s.opts.RetryInterval, err)
			wait = min(wait, s.opts.RetryInterval)
		}

		timer := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}
	}
}
