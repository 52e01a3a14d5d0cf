package sampler

import (
	"testing"
	"time"

	"github.com/tajalagawani/aura/internal/aav"
)

func TestInitialInterval(t *testing.T) {
	s := New(DefaultConfig())
	if got := s.Interval(); got != 500*time.Millisecond {
		t.Errorf("expected initial 500ms, got %s", got)
	}
}

func TestSuccessDecaysTowardMin(t *testing.T) {
	s := New(Config{Initial: 200 * time.Millisecond, Min: 100 * time.Millisecond, Max: 5 * time.Second})

	s.OnSuccess()
	if got := s.Interval(); got != 190*time.Millisecond {
		t.Errorf("expected 190ms after one success, got %s", got)
	}

	for i := 0; i < 100; i++ {
		s.OnSuccess()
	}
	if got := s.Interval(); got != 100*time.Millisecond {
		t.Errorf("expected interval floored at min, got %s", got)
	}
}

func TestFailureBacksOffExponentially(t *testing.T) {
	s := New(Config{Initial: 100 * time.Millisecond, Min: 50 * time.Millisecond, Max: 2 * time.Second})

	s.OnFailure()
	first := s.Interval()
	s.OnFailure()
	second := s.Interval()
	if second <= first {
		t.Errorf("expected growing backoff: %s then %s", first, second)
	}

	for i := 0; i < 20; i++ {
		s.OnFailure()
	}
	if got := s.Interval(); got != 2*time.Second {
		t.Errorf("expected interval capped at max, got %s", got)
	}
}

func TestSuccessClearsFailureStreak(t *testing.T) {
	s := New(DefaultConfig())
	s.OnFailure()
	s.OnFailure()
	if s.ConsecutiveFailures() != 2 {
		t.Fatalf("expected 2 failures, got %d", s.ConsecutiveFailures())
	}
	s.OnSuccess()
	if s.ConsecutiveFailures() != 0 {
		t.Errorf("expected streak cleared, got %d", s.ConsecutiveFailures())
	}
}

func TestStatusTransitions(t *testing.T) {
	s := New(DefaultConfig())
	if s.Status() != aav.StatusHealthy {
		t.Errorf("expected healthy, got %s", s.Status())
	}

	for i := 0; i < 3; i++ {
		s.OnFailure()
	}
	if s.Status() != aav.StatusDegraded {
		t.Errorf("expected degraded after 3 failures, got %s", s.Status())
	}

	for i := 0; i < 2; i++ {
		s.OnFailure()
	}
	if s.Status() != aav.StatusRestarting {
		t.Errorf("expected restarting after 5 failures, got %s", s.Status())
	}

	s.OnSuccess()
	if s.Status() != aav.StatusHealthy {
		t.Errorf("expected healthy after recovery, got %s", s.Status())
	}
}

func TestReset(t *testing.T) {
	s := New(Config{Initial: 300 * time.Millisecond, Min: 100 * time.Millisecond, Max: 5 * time.Second})
	for i := 0; i < 4; i++ {
		s.OnFailure()
	}

	s.Reset()
	if got := s.Interval(); got != 300*time.Millisecond {
		t.Errorf("expected initial interval restored, got %s", got)
	}
	if s.ConsecutiveFailures() != 0 {
		t.Errorf("expected failure streak cleared, got %d", s.ConsecutiveFailures())
	}
}
