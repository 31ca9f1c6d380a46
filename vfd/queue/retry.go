package queue

import (
	"slices"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
)

type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyExponential Strategy = "exponential"
)

// RetryPolicy decides when a failed attempt runs again and when a job is
// moved to failed_terminal for the operator.
type RetryPolicy struct {
	Strategy Strategy
	// Interval fixed delay, or the first delay of the exponential strategy
	Interval    time.Duration
	MaxInterval time.Duration
	// Jitter randomization factor of the exponential strategy, 0..1
	Jitter float64
	// MaxAttempts 0 means unlimited
	MaxAttempts int
	// PermanentAckCodes ack codes that will not succeed on retry
	PermanentAckCodes []string
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Strategy:    StrategyFixed,
		Interval:    5 * time.Second,
		MaxInterval: 5 * time.Minute,
		MaxAttempts: 20,
	}
}

// Delay before attempt number attempt+1, attempt counts from 1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultRetryPolicy().Interval
	}
	if p.Strategy != StrategyExponential {
		return interval
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.MaxInterval = p.MaxInterval
	if b.MaxInterval <= 0 {
		b.MaxInterval = DefaultRetryPolicy().MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Terminal reports whether err after attempt attempts ends the job, and why.
func (p RetryPolicy) Terminal(err error, attempt int) (bool, string) {
	switch {
	case errors.Is(err, vfd.ErrSigning):
		return true, "signing failed"
	case errors.Is(err, vfd.ErrCredentialMissing):
		return true, "credential missing"
	}
	if code, ok := vfd.AckCode(err); ok && slices.Contains(p.PermanentAckCodes, code) {
		return true, "permanent ack code " + code
	}
	if !vfd.IsRetryable(err) {
		return true, "not retryable"
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return true, "attempt limit reached"
	}
	return false, ""
}
