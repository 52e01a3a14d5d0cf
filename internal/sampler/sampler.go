// Package sampler implements the per-sensor adaptive sampling control
// loop. The interval is advisory: it decouples observation frequency
// from write frequency and backs the record store off under failure,
// while the aggregator still owns final flush timing.
package sampler

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tajalagawani/aura/internal/aav"
)

// Config bounds the sampling interval for one sensor stream.
type Config struct {
	Initial time.Duration
	Min     time.Duration
	Max     time.Duration
}

// DefaultConfig returns the stock sampling bounds: start at 500ms,
// recover down to 100ms, back off up to 5s.
func DefaultConfig() Config {
	return Config{
		Initial: 500 * time.Millisecond,
		Min:     100 * time.Millisecond,
		Max:     5 * time.Second,
	}
}

const (
	// successDecay moves the interval toward Min on each success.
	successDecay = 0.95
	// failureMultiplier is the exponential backoff growth per
	// consecutive failure.
	failureMultiplier = 1.5

	degradedAfter   = 3
	restartingAfter = 5
)

// Sampler tracks the adaptive interval and health of one sensor stream.
// Safe for concurrent use.
type Sampler struct {
	cfg Config

	mu       sync.Mutex
	interval time.Duration
	failures int
	backoff  *backoff.ExponentialBackOff
}

// New creates a sampler with the given bounds. Zero fields take
// defaults.
func New(cfg Config) *Sampler {
	def := DefaultConfig()
	if cfg.Initial <= 0 {
		cfg.Initial = def.Initial
	}
	if cfg.Min <= 0 {
		cfg.Min = def.Min
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}

	return &Sampler{
		cfg:      cfg,
		interval: cfg.Initial,
		backoff:  newBackoff(cfg),
	}
}

func newBackoff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Initial
	b.Multiplier = failureMultiplier
	b.MaxInterval = cfg.Max
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Interval returns the current sampling interval.
func (s *Sampler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// OnSuccess records a successful sample cycle: the interval decays
// toward Min for fast recovery and the failure streak clears.
func (s *Sampler) OnSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = 0
	s.backoff.Reset()

	s.interval = time.Duration(float64(s.interval) * successDecay)
	if s.interval < s.cfg.Min {
		s.interval = s.cfg.Min
	}
}

// OnFailure records a failed cycle (I/O failure, lock contention): the
// interval follows an exponential schedule keyed to the consecutive
// failure count, capped at Max.
func (s *Sampler) OnFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++

	next := s.backoff.NextBackOff()
	if next == backoff.Stop || next > s.cfg.Max {
		next = s.cfg.Max
	}
	if next > s.interval {
		s.interval = next
	}
	if s.interval > s.cfg.Max {
		s.interval = s.cfg.Max
	}
}

// ConsecutiveFailures returns the current failure streak.
func (s *Sampler) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// Status derives the sensor health this stream should report: degraded
// after three consecutive failures, restarting after five.
func (s *Sampler) Status() aav.SensorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.failures >= restartingAfter:
		return aav.StatusRestarting
	case s.failures >= degradedAfter:
		return aav.StatusDegraded
	default:
		return aav.StatusHealthy
	}
}

// Reset restores the initial interval and clears the failure streak.
// Used when a restart signal arrives for the asset's producers.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = s.cfg.Initial
	s.failures = 0
	s.backoff.Reset()
}
