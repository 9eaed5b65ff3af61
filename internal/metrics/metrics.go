// Package metrics implements the C7 metrics bus: the processing-time and
// deformability/area scatter circular buffers, the atomic gauges, and the
// periodic stats reporter.
package metrics

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/ring"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/telemetry/logx"
)

const (
	processingTimesCapacity = 1000  // "last 1,000 per-frame durations"
	scatterCapacity         = 10000 // "last 10,000 (deformability, area) tuples"
	slowFrameThresholdUs    = 200   // "fraction exceeding 200 µs"
)

// ScatterSample is one (deformability, area) tuple.
type ScatterSample struct {
	Deformability float64
	Area          float64
}

// ProcessingTimeStats is a point-in-time summary of the processing-times
// buffer.
type ProcessingTimeStats struct {
	Count        int
	Mean         float64
	Min          float64
	Max          float64
	FractionSlow float64
}

// Bus is the C7 metrics bus. It satisfies processor.MetricsSink,
// trigger.MetricsSink, source telemetry, and the batcher's disk-save
// duration report.
type Bus struct {
	processingTimes *ring.ValueRing[int64]
	scatter         *ring.ValueRing[ScatterSample]

	fpsBits            atomic.Uint64 // math.Float64bits(fps)
	dataRateBps        atomic.Uint64
	exposureUsBits     atomic.Uint64
	processingQueueLen atomic.Int64
	displayQueueLen    atomic.Int64
	qualifiedCount     atomic.Uint64
	lastSaveDurationMs atomic.Int64
	triggerOnsetUs     atomic.Int64

	updated atomic.Bool
}

// New allocates a metrics bus with its fixed ring capacities.
func New() *Bus {
	return &Bus{
		processingTimes: ring.NewValueRing[int64](processingTimesCapacity),
		scatter:         ring.NewValueRing[ScatterSample](scatterCapacity),
	}
}

// RecordProcessingTime appends one per-frame duration (processor.MetricsSink).
func (b *Bus) RecordProcessingTime(us int64) {
	b.processingTimes.Push(us)
	b.updated.Store(true)
}

// RecordScatter appends one (deformability, area) tuple (processor.MetricsSink).
func (b *Bus) RecordScatter(deformability, area float64) {
	b.scatter.Push(ScatterSample{Deformability: deformability, Area: area})
	b.qualifiedCount.Add(1)
	b.updated.Store(true)
}

// RecordTriggerOnset records the measured pulse onset duration (trigger.MetricsSink).
func (b *Bus) RecordTriggerOnset(us int64) {
	b.triggerOnsetUs.Store(us)
	b.updated.Store(true)
}

// RecordSourceTelemetry publishes camera-reported FPS/data-rate/exposure.
func (b *Bus) RecordSourceTelemetry(fps, dataRateBps, exposureUs float64) {
	b.fpsBits.Store(math.Float64bits(fps))
	b.dataRateBps.Store(uint64(dataRateBps))
	b.exposureUsBits.Store(math.Float64bits(exposureUs))
	b.updated.Store(true)
}

// SetQueueDepths publishes the two dispatcher queue depths.
func (b *Bus) SetQueueDepths(processing, display int) {
	b.processingQueueLen.Store(int64(processing))
	b.displayQueueLen.Store(int64(display))
	b.updated.Store(true)
}

// RecordSaveDuration records how long the most recent batch flush took.
func (b *Bus) RecordSaveDuration(d time.Duration) {
	b.lastSaveDurationMs.Store(d.Milliseconds())
	b.updated.Store(true)
}

// ProcessingTimeSummary computes mean/min/max/fraction-slow over the
// current processing-times buffer.
func (b *Bus) ProcessingTimeSummary() ProcessingTimeStats {
	samples := b.processingTimes.Snapshot()
	if len(samples) == 0 {
		return ProcessingTimeStats{}
	}
	var sum, min, max float64
	min = math.MaxFloat64
	slow := 0
	for _, us := range samples {
		f := float64(us)
		sum += f
		if f < min {
			min = f
		}
		if f > max {
			max = f
		}
		if us > slowFrameThresholdUs {
			slow++
		}
	}
	return ProcessingTimeStats{
		Count:        len(samples),
		Mean:         sum / float64(len(samples)),
		Min:          min,
		Max:          max,
		FractionSlow: float64(slow) / float64(len(samples)),
	}
}

// ScatterSnapshot returns a copy of every (deformability, area) tuple
// currently held, oldest first.
func (b *Bus) ScatterSnapshot() []ScatterSample {
	return b.scatter.Snapshot()
}

// ClearScatter empties the scatter buffer (the 'q' control-surface key).
func (b *Bus) ClearScatter() {
	b.scatter.Clear()
	b.updated.Store(true)
}

// Updated reports and clears the "something changed since the last read"
// flag.
func (b *Bus) Updated() bool {
	return b.updated.Swap(false)
}

// Gauges is a point-in-time snapshot of every atomic gauge.
type Gauges struct {
	FPS                float64
	DataRateBps        float64
	ExposureUs         float64
	ProcessingQueueLen int
	DisplayQueueLen    int
	QualifiedCount     uint64
	LastSaveDurationMs int64
	TriggerOnsetUs     int64
}

// Snapshot returns every gauge's current value.
func (b *Bus) Snapshot() Gauges {
	return Gauges{
		FPS:                math.Float64frombits(b.fpsBits.Load()),
		DataRateBps:        float64(b.dataRateBps.Load()),
		ExposureUs:         math.Float64frombits(b.exposureUsBits.Load()),
		ProcessingQueueLen: int(b.processingQueueLen.Load()),
		DisplayQueueLen:    int(b.displayQueueLen.Load()),
		QualifiedCount:     b.qualifiedCount.Load(),
		LastSaveDurationMs: b.lastSaveDurationMs.Load(),
		TriggerOnsetUs:     b.triggerOnsetUs.Load(),
	}
}

// Reporter periodically logs a summary line on a fixed interval.
type Reporter struct {
	bus      *Bus
	interval time.Duration
}

// NewReporter builds a reporter that logs every interval.
func NewReporter(bus *Bus, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reporter{bus: bus, interval: interval}
}

// Run logs a summary line every tick until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g := r.bus.Snapshot()
			pt := r.bus.ProcessingTimeSummary()
			logx.L().Info(
				"stats: fps=%.1f queue(proc=%d disp=%d) qualified=%d proc_us(mean=%.1f max=%.1f slow=%.2f%%) last_save_ms=%d",
				g.FPS, g.ProcessingQueueLen, g.DisplayQueueLen, g.QualifiedCount,
				pt.Mean, pt.Max, pt.FractionSlow*100, g.LastSaveDurationMs,
			)
		}
	}
}
