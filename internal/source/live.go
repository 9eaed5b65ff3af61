package source

import (
	"context"
	"sync/atomic"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/frame"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/ring"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/telemetry/logx"
)

// CameraSDK wraps a camera SDK that delivers frames into caller-supplied
// buffers. Only the interface is in scope here; a concrete implementation
// lives outside this module.
type CameraSDK interface {
	// Grab blocks until the next frame is ready (or ctx is cancelled) and
	// copies its payload into dst. size_filled may be less than
	// len(dst) for a short/incomplete frame.
	Grab(ctx context.Context, dst []byte) (frameID uint64, timestampNs int64, incomplete bool, sizeFilled int, err error)
	Telemetry() (fps float64, dataRateBps float64, exposureUs float64)
}

// LiveSource wraps a CameraSDK, pushing each valid frame into a dedicated
// ring and publishing LatestFrameIndex with release ordering. Duplicate
// and incomplete frames are dropped and counted.
type LiveSource struct {
	sdk CameraSDK
	env frame.Envelope

	ring *ring.Ring

	latest      uint64
	hasLatest   atomic.Bool
	lastFrameID uint64
	produced    uint64
	dropped     uint64
}

// NewLiveSource allocates a ring of the given capacity sized for env's
// payload.
func NewLiveSource(sdk CameraSDK, env frame.Envelope, capacity int) *LiveSource {
	return &LiveSource{
		sdk:  sdk,
		env:  env,
		ring: ring.New(capacity, env.PayloadSize()),
	}
}

// Start launches the capture goroutine.
func (l *LiveSource) Start(ctx context.Context) {
	go l.run(ctx)
	logx.L().Info("live source started  (%dx%d)", l.env.Width, l.env.Height)
}

func (l *LiveSource) run(ctx context.Context) {
	buf := make([]byte, l.env.PayloadSize())
	for {
		select {
		case <-ctx.Done():
			logx.L().Info("live source stopped  (produced=%d, dropped=%d)",
				atomic.LoadUint64(&l.produced), atomic.LoadUint64(&l.dropped))
			return
		default:
		}

		frameID, ts, incomplete, sizeFilled, err := l.sdk.Grab(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				continue // about to observe ctx.Done() above
			}
			logx.L().Warn("live source: grab error: %v", err)
			atomic.AddUint64(&l.dropped, 1)
			continue
		}
		if incomplete || sizeFilled < len(buf) {
			atomic.AddUint64(&l.dropped, 1)
			continue
		}
		if frameID <= l.lastFrameID {
			atomic.AddUint64(&l.dropped, 1)
			continue
		}
		l.lastFrameID = frameID

		l.ring.Push(buf)
		seq := l.ring.PushCount() - 1
		_ = ts
		atomic.StoreUint64(&l.latest, seq)
		l.hasLatest.Store(true)
		atomic.AddUint64(&l.produced, 1)
	}
}

func (l *LiveSource) LatestFrameIndex() (uint64, bool) {
	if !l.hasLatest.Load() {
		return 0, false
	}
	return atomic.LoadUint64(&l.latest), true
}

func (l *LiveSource) Ring() *ring.Ring         { return l.ring }
func (l *LiveSource) Envelope() frame.Envelope { return l.env }
func (l *LiveSource) Stats() (uint64, uint64) {
	return atomic.LoadUint64(&l.produced), atomic.LoadUint64(&l.dropped)
}
