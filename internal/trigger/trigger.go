// Package trigger implements the C5 worker: a single-threaded loop that
// owns one digital output line and pulses it whenever the processor
// raises the trigger-request flag.
package trigger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
	"periph.io/x/periph/host/cpu"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/procprio"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/telemetry/logx"
)

// MinPulseWidth is the floor names ("busy-wait >= 1
// microsecond wall-clock").
const MinPulseWidth = time.Microsecond

// MetricsSink is where the emitter reports measured pulse onset duration.
type MetricsSink interface {
	RecordTriggerOnset(us int64)
}

// RunFlags exposes the lifecycle atomic the emitter must honor.
type RunFlags interface {
	Done() bool
}

// Emitter is the C5 worker.
type Emitter struct {
	pin        gpio.PinIO
	pulseWidth time.Duration
	metrics    MetricsSink
	flags      RunFlags

	requested atomic.Bool
}

// New resolves the named GPIO line via gpioreg, sets it to Output/Low,
// and returns an Emitter ready for Run. lineName is the configured line
// from pins.yaml.
func New(lineName string, pulseWidth time.Duration, metrics MetricsSink, flags RunFlags) (*Emitter, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("trigger: host.Init: %w", err)
	}
	pin := gpioreg.ByName(lineName)
	if pin == nil {
		return nil, fmt.Errorf("trigger: no such GPIO line %q", lineName)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("trigger: initialize %s as output: %w", lineName, err)
	}
	if pulseWidth < MinPulseWidth {
		pulseWidth = MinPulseWidth
	}
	return &Emitter{pin: pin, pulseWidth: pulseWidth, metrics: metrics, flags: flags}, nil
}

// Request raises the trigger-request flag. A request that arrives while
// a pulse is already in flight is coalesced: Run's busy loop only ever
// services one pending request at a time.
func (e *Emitter) Request() {
	e.requested.Store(true)
}

// Run busy-waits on the request flag with no sleep between checks — wake
// latency is exactly what is built to avoid.
func (e *Emitter) Run(ctx context.Context) {
	procprio.Elevate()
	logx.L().Info("trigger emitter started")
	for {
		if e.flags.Done() {
			logx.L().Info("trigger emitter stopped")
			return
		}
		select {
		case <-ctx.Done():
			logx.L().Info("trigger emitter stopped")
			return
		default:
		}
		if !e.requested.Load() {
			continue
		}
		e.pulse()
		e.requested.Store(false)
	}
}

func (e *Emitter) pulse() {
	start := time.Now()
	if err := e.pin.Out(gpio.High); err != nil {
		logx.L().Error("trigger: set high: %v", err)
		return
	}
	cpu.Nanospin(e.pulseWidth)
	if err := e.pin.Out(gpio.Low); err != nil {
		logx.L().Error("trigger: set low: %v", err)
	}
	e.metrics.RecordTriggerOnset(time.Since(start).Microseconds())
}
