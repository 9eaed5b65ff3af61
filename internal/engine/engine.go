// Package engine implements the C9 control surface: the single owner of
// run state and every worker goroutine. Workers get back-references to the engine only through
// small structurally-satisfied interfaces (processor.ROIProvider,
// batch.BackgroundProvider, ...), never the Engine type itself, so no
// worker package needs to import internal/engine.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/batch"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/clock"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/config"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/dispatch"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/frame"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/metrics"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/observer"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/processor"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/queue"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/ring"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/source"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/telemetry/logx"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/trigger"
)

// defaultRingCapacity mirrors internal/source's frame-ring default.
const defaultRingCapacity = 5000

// Options configures one Engine for its lifetime.
type Options struct {
	Config config.Config
	Pins   config.PinsConfig

	// CameraSDK, when non-nil, selects live mode; LiveEnvelope must then
	// describe its frame geometry. Nil selects mock mode, which requires
	// image_dir to be set via SetParam before Start.
	CameraSDK     source.CameraSDK
	LiveEnvelope  frame.Envelope
	RingCapacity  int // default defaultRingCapacity
}

// Engine is the C9 control surface and sole owner of the workers and
// shared run state.
type Engine struct {
	opts Options

	cfgMu sync.RWMutex
	cfg   config.Config

	roiMu sync.RWMutex
	roi   frame.Rect

	bg background

	paused            atomic.Bool
	done              atomic.Bool
	overlayMode       atomic.Bool
	currentFrameIndex atomic.Int64
	running           atomic.Bool

	imageDirMu sync.Mutex
	imageDir   string

	snapshotMu  sync.Mutex
	snapshotNum int

	registry *observer.Registry

	metricsBus *metrics.Bus

	env  frame.Envelope
	src  source.Source
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	displayQ    *queue.IndexQueue
	processingQ *queue.IndexQueue
	displayRing *ring.Ring
	procRing    *ring.Ring

	batcher  *batch.Batcher
	trig     *trigger.Emitter
	reporter *metrics.Reporter
}

// New constructs an Engine in the stopped state. Workers are not created
// until Start.
func New(opts Options) *Engine {
	if opts.RingCapacity <= 0 {
		opts.RingCapacity = defaultRingCapacity
	}
	e := &Engine{
		opts:       opts,
		cfg:        opts.Config,
		registry:   observer.NewRegistry(),
		metricsBus: metrics.New(),
	}
	return e
}

// Subscribe registers o for frame/status/error delivery.
func (e *Engine) Subscribe(o observer.Observer) int { return e.registry.Subscribe(o) }

// Unsubscribe removes a previously subscribed observer.
func (e *Engine) Unsubscribe(id int) { e.registry.Unsubscribe(id) }

// Done reports whether shutdown has been requested. Satisfies
// processor.RunFlags, trigger.RunFlags, dispatch.PausedFlag.
func (e *Engine) Done() bool { return e.done.Load() }

// Paused reports the current pause state. Satisfies dispatch.PausedFlag,
// source.PausedFlag.
func (e *Engine) Paused() bool { return e.paused.Load() }

// ROI returns the live ROI rectangle. Satisfies processor.ROIProvider,
// batch.ROIProvider.
func (e *Engine) ROI() frame.Rect {
	e.roiMu.RLock()
	defer e.roiMu.RUnlock()
	return e.roi
}

// ImageProcessing returns a snapshot of the active processing config.
// Satisfies processor.ConfigProvider, batch.ConfigProvider.
func (e *Engine) ImageProcessing() config.ImageProcessing {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.ImageProcessing
}

// Background returns the blurred(+enhanced) background, ready=false until
// the first capture. Satisfies processor.BackgroundProvider.
func (e *Engine) Background() (gocv.Mat, bool) { return e.bg.blurredEnhanced() }

// RawBackground returns the un-blurred background captured at save time.
// Satisfies batch.BackgroundProvider.
func (e *Engine) RawBackground() (gocv.Mat, bool) { return e.bg.raw() }

// Start transitions stopped→running, spinning up workers in order: source,
// processor, batcher, dispatcher, observer-fanout.
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	e.done.Store(false)

	src, env, err := e.buildSource()
	if err != nil {
		e.running.Store(false)
		e.registry.NotifyError(CodeSource, err.Error())
		return err
	}
	e.src = src
	e.env = env

	e.roiMu.Lock()
	if e.roi.Area() == 0 {
		e.roi = frame.Rect{X: 0, Y: 0, W: env.Width, H: env.Height}
	}
	e.roiMu.Unlock()

	e.displayRing = ring.New(e.opts.RingCapacity, env.PayloadSize())
	e.procRing = ring.New(e.opts.RingCapacity, env.PayloadSize())
	e.displayQ = queue.New()
	e.processingQ = queue.New()

	e.ctx, e.stop = context.WithCancel(context.Background())

	saveDir := e.resolveSaveDirectory(e.cfg.SaveDirectory)
	e.batcher = batch.New(batch.Options{
		SaveDirectory:   saveDir,
		Condition:       e.cfg.Condition,
		BufferThreshold: e.cfg.BufferThreshold,
	}, e, e, e, e.metricsBus)

	pulseUs := e.opts.Pins.Trigger.PulseUs
	if pulseUs <= 0 {
		pulseUs = 1
	}
	trig, err := trigger.New(e.opts.Pins.Trigger.LineName, time.Duration(pulseUs)*time.Microsecond, e.metricsBus, e)
	if err != nil {
		e.running.Store(false)
		e.registry.NotifyError(CodeConfig, err.Error())
		return err
	}
	e.trig = trig

	compositor := observer.NewCompositor(e.registry, env.Width, env.Height, e.overlayMode.Load, e.ROI)
	proc := processor.New(e.processingQ, e.procRing, env, e, e, e, e, e.metricsBus, e.trig, e.batcher, compositor)

	disp := dispatch.New(e.src, e.displayRing, e.procRing, e.processingQ, e.displayQ, e)

	e.reporter = metrics.NewReporter(e.metricsBus, 5*time.Second)

	// 1. source
	e.src.Start(e.ctx)
	// 2. processor
	e.wg.Add(1)
	go func() { defer e.wg.Done(); proc.Run(e.ctx) }()
	// 3. batcher
	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.batcher.Run(e.ctx) }()
	// 4. dispatcher
	disp.Start(e.ctx)
	// 5. observer-fanout: the compositor fires synchronously from the
	// processor goroutine, so its only standing worker is draining the
	// display queue (still fed by the dispatcher's two-ring design,
	//) to bound its memory.
	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.drainDisplayQueue() }()

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.trig.Run(e.ctx) }()

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.reporter.Run(e.ctx) }()

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.autoCaptureBackground() }()

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.pollQueueDepths() }()

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.pollSourceTelemetry() }()

	e.registry.NotifyStatus("started")
	logx.L().Info("engine started")
	return nil
}

// Stop is idempotent: sets done, cancels every worker's context, waits for
// the goroutines Start launched through e.wg, and emits on_status("stopped").
// The source and dispatcher goroutines, started by their own Start methods,
// are not waited for; they exit on their own once the context is cancelled.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.done.Store(true)
	if e.stop != nil {
		e.stop()
	}
	if e.displayQ != nil {
		e.displayQ.Close()
	}
	if e.processingQ != nil {
		e.processingQ.Close()
	}
	if e.batcher != nil {
		e.batcher.Stop()
	}
	e.wg.Wait()
	e.bg.closeAll()
	e.registry.NotifyStatus("stopped")
	logx.L().Info("engine stopped")
}

// drainDisplayQueue keeps the display queue from growing unboundedly; see
// the Start() comment on why the observer composite is driven off the
// processor path rather than this queue directly.
func (e *Engine) drainDisplayQueue() {
	for {
		_, ok := e.displayQ.Pop()
		if !ok {
			return
		}
	}
}

// buildSource constructs the configured source (live if a CameraSDK was
// supplied at New, mock otherwise) and returns its frame envelope.
func (e *Engine) buildSource() (source.Source, frame.Envelope, error) {
	if e.opts.CameraSDK != nil {
		src := source.NewLiveSource(e.opts.CameraSDK, e.opts.LiveEnvelope, e.opts.RingCapacity)
		return src, e.opts.LiveEnvelope, nil
	}

	e.imageDirMu.Lock()
	dir := e.imageDir
	e.imageDirMu.Unlock()
	if dir == "" {
		return nil, frame.Envelope{}, ErrImageDirNotSet
	}

	src, err := source.NewMockSource(dir, e.cfg.TargetFPS, e)
	if err != nil {
		return nil, frame.Envelope{}, fmt.Errorf("engine: %w", err)
	}
	return src, src.Envelope(), nil
}

// resolveSaveDirectory appends "_1", "_2", ... to base until it names a
// directory that does not yet exist.
func (e *Engine) resolveSaveDirectory(base string) string {
	if base == "" {
		base = clock.SessionName("session")
	}
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return base
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d", base, n)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// snapshotDir returns the next numbered stream_output/<n>/ directory.
func (e *Engine) snapshotDir() string {
	e.snapshotMu.Lock()
	n := e.snapshotNum
	e.snapshotNum++
	e.snapshotMu.Unlock()
	return filepath.Join("stream_output", fmt.Sprintf("%d", n))
}
