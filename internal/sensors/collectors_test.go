package sensors

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestComputeCollectorEmptySample(t *testing.T) {
	orig := cpuPercent
	defer func() { cpuPercent = orig }()

	// Some platforms report no error and no values; the message must
	// say so instead of wrapping a nil error.
	cpuPercent = func(time.Duration, bool) ([]float64, error) {
		return nil, nil
	}
	_, err := ComputeCollector{}.Collect()
	if err == nil {
		t.Fatal("expected an error for an empty cpu sample")
	}
	if strings.Contains(err.Error(), "%!w") {
		t.Errorf("error wraps nil: %q", err.Error())
	}
}

func TestComputeCollectorSampleError(t *testing.T) {
	orig := cpuPercent
	defer func() { cpuPercent = orig }()

	sentinel := errors.New("proc unavailable")
	cpuPercent = func(time.Duration, bool) ([]float64, error) {
		return nil, sentinel
	}
	_, err := ComputeCollector{}.Collect()
	if !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped sample error, got %v", err)
	}
}
