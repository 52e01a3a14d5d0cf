package sensors

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tajalagawani/aura/internal/aav"
	"github.com/tajalagawani/aura/internal/change"
	"github.com/tajalagawani/aura/internal/sampler"
)

// Producer accepts sensor samples into the writer pipeline. The
// aggregator implements it; it must never block the caller.
type Producer interface {
	ReportSample(assetID, section string, update aav.SectionUpdate)
}

// Runner drives one collector on the adaptive sampling loop: collect,
// gate through change detection, report significant samples to the
// producer. One Runner per sensor stream.
type Runner struct {
	assetID   string
	collector Collector
	detector  *change.Detector
	sampler   *sampler.Sampler
	producer  Producer

	restartMu sync.Mutex
	restart   bool
	reason    string
}

// NewRunner creates a runner for one asset/collector pair.
func NewRunner(assetID string, collector Collector, thresholds change.Thresholds, cfg sampler.Config, producer Producer) *Runner {
	return &Runner{
		assetID:   assetID,
		collector: collector,
		detector:  change.NewDetector(thresholds),
		sampler:   sampler.New(cfg),
		producer:  producer,
	}
}

// RequestRestart asks the runner to drop its baseline and resume from
// scratch on its next cycle. Called after a record rebuild so sections
// repopulate from live data. Implements guardian.RestartNotifier for a
// single stream; Manager fans it out.
func (r *Runner) RequestRestart(reason string) {
	r.restartMu.Lock()
	r.restart = true
	r.reason = reason
	r.restartMu.Unlock()
}

func (r *Runner) takeRestart() (bool, string) {
	r.restartMu.Lock()
	defer r.restartMu.Unlock()
	requested, reason := r.restart, r.reason
	r.restart = false
	r.reason = ""
	return requested, reason
}

// Run samples until ctx is cancelled. The first significant sample
// after start or restart always flows through: the detector treats an
// empty baseline as significant.
func (r *Runner) Run(ctx context.Context) {
	for {
		if restarted, reason := r.takeRestart(); restarted {
			log.Printf("sensor %s/%s: restarting (%s)", r.assetID, r.collector.Section(), reason)
			r.detector.Reset()
			r.sampler.Reset()
		}

		r.cycle()

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.sampler.Interval()):
		}
	}
}

func (r *Runner) cycle() {
	fields, err := r.collector.Collect()
	if err != nil {
		r.sampler.OnFailure()
		log.Printf("sensor %s/%s: %v", r.assetID, r.collector.Section(), err)
		r.reportStatusOnly()
		return
	}

	significant, _ := r.detector.SignificantSection(fields)
	if !significant {
		return
	}

	r.producer.ReportSample(r.assetID, r.collector.Section(), aav.SectionUpdate{
		Sensor:       sensorName(r.collector),
		SensorStatus: r.sampler.Status(),
		Fields:       fields,
	})
	r.sampler.OnSuccess()
}

// reportStatusOnly surfaces a degraded sensor without metric values, so
// the record reflects the failure instead of freezing at healthy.
func (r *Runner) reportStatusOnly() {
	status := r.sampler.Status()
	if status == aav.StatusHealthy {
		return
	}
	r.producer.ReportSample(r.assetID, r.collector.Section(), aav.SectionUpdate{
		Sensor:       sensorName(r.collector),
		SensorStatus: status,
	})
}

func sensorName(c Collector) string {
	return c.Section() + "_sensor"
}

// Manager runs the full collector set for one asset and fans restart
// requests out to every stream.
type Manager struct {
	assetID string
	runners []*Runner

	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewManager builds runners for the collector set.
func NewManager(assetID string, collectors []Collector, thresholds change.Thresholds, cfg sampler.Config, producer Producer) *Manager {
	m := &Manager{assetID: assetID}
	for _, c := range collectors {
		m.runners = append(m.runners, NewRunner(assetID, c, thresholds, cfg, producer))
	}
	return m
}

// Start launches every runner. Safe to call once.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	for _, r := range m.runners {
		r := r
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			r.Run(ctx)
		}()
	}
}

// Stop cancels every runner and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
}

// RequestRestart implements guardian.RestartNotifier: a rebuild of this
// asset's record restarts every sensor stream.
func (m *Manager) RequestRestart(assetID, reason string) {
	if assetID != m.assetID {
		return
	}
	for _, r := range m.runners {
		r.RequestRestart(reason)
	}
}
