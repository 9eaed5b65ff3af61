// Package dispatch implements the single dispatcher loop (C3): it converts
// a source's published frame index into owned bytes in two independent
// rings (display, processing) before notifying consumers, so consumers
// never read from a slot racing with the source's writer.
package dispatch

import (
	"context"
	"time"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/queue"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/ring"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/telemetry/logx"
)

// pollInterval bounds how long the dispatcher can sleep between polls of
// an unchanged source index or a paused run — short enough to keep up
// with a 5,000 FPS source, long enough not to spin the CPU needlessly.
const pollInterval = 20 * time.Microsecond

// SourceReader is the subset of source.Source the dispatcher depends on.
type SourceReader interface {
	LatestFrameIndex() (idx uint64, valid bool)
	Ring() *ring.Ring
}

// PausedFlag mirrors source.PausedFlag so this package need not import
// the engine package that owns the atomic.
type PausedFlag interface {
	Paused() bool
	Done() bool
}

// Dispatcher is the C3 worker.
type Dispatcher struct {
	src            SourceReader
	displayRing    *ring.Ring
	processingRing *ring.Ring
	processingQ    *queue.IndexQueue
	displayQ       *queue.IndexQueue
	state          PausedFlag

	lastSeen    uint64
	hasLastSeen bool
}

// New wires a dispatcher. displayRing and processingRing must already be
// sized to the source's payload size.
func New(src SourceReader, displayRing, processingRing *ring.Ring, processingQ, displayQ *queue.IndexQueue, state PausedFlag) *Dispatcher {
	return &Dispatcher{
		src:            src,
		displayRing:    displayRing,
		processingRing: processingRing,
		processingQ:    processingQ,
		displayQ:       displayQ,
		state:          state,
	}
}

// Start launches the dispatcher goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
	logx.L().Info("dispatcher started")
}

func (d *Dispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logx.L().Info("dispatcher stopped")
			return
		case <-ticker.C:
			if d.state != nil && (d.state.Done() || d.state.Paused()) {
				continue
			}
			d.step()
		}
	}
}

// step performs one dispatch iteration.
func (d *Dispatcher) step() {
	idx, ok := d.src.LatestFrameIndex()
	if !ok {
		return
	}
	if d.hasLastSeen && idx == d.lastSeen {
		return
	}

	data, err := d.src.Ring().PointerAtSeq(idx)
	if err != nil {
		// The source wrapped past this sequence number before the
		// dispatcher got to it: treat exactly like "no new frame yet"
		// rather than silently skipping. This should only happen while
		// paused or stopping, so it should be rare at nominal load and
		// is logged for visibility.
		logx.L().Warn("dispatcher: source sequence %d no longer available", idx)
		return
	}

	d.displayRing.Push(data)
	d.processingRing.Push(data)

	d.processingQ.Push(d.processingRing.PushCount() - 1)
	d.displayQ.Push(d.displayRing.PushCount() - 1)

	d.lastSeen = idx
	d.hasLastSeen = true
}
