// Package processor implements the C4 worker: the segmentation, contour,
// and filter pipeline that runs against one processing-queue index at a
// time, at the heart of the system.
package processor

import (
	"context"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/clock"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/config"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/frame"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/procprio"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/queue"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/ring"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/telemetry/logx"
)

// minContourArea discards contour noise below this pixel area.
const minContourArea = 10.0

// borderMarginPx is the "within 2 pixels of ROI edge" border-check
// tolerance.
const borderMarginPx = 2

// Verdict is the transient per-frame filter result.
type Verdict struct {
	IsValid               bool
	TouchesBorder         bool
	HasSingleInnerContour bool
	InRange               bool
	InnerContourCount     int
	Deformability         float64
	Area                  float64
	AreaRatio             float64
}

// QualifiedResult is the "Qualified result": created on a qualifying
// frame, owned by the active batcher buffer until flushed.
type QualifiedResult struct {
	TimestampUs   int64
	Deformability float64
	Area          float64
	Image         gocv.Mat
}

// Close releases the owned image clone.
func (q QualifiedResult) Close() error { return q.Image.Close() }

// ROIProvider exposes the live-editable ROI rectangle.
type ROIProvider interface {
	ROI() frame.Rect
}

// BackgroundProvider exposes the captured background frame, already
// blurred and (if enabled) contrast-enhanced with the current config.
// ready is false until a background has been captured.
type BackgroundProvider interface {
	Background() (blurredEnhanced gocv.Mat, ready bool)
}

// ConfigProvider exposes the current immutable processing-config snapshot.
type ConfigProvider interface {
	ImageProcessing() config.ImageProcessing
}

// RunFlags exposes the lifecycle atomics the processor must honor.
type RunFlags interface {
	Done() bool
}

// MetricsSink is where the processor reports processing time and scatter
// samples.
type MetricsSink interface {
	RecordProcessingTime(us int64)
	RecordScatter(deformability, area float64)
}

// TriggerRequester raises the trigger-request flag the trigger emitter consumes.
type TriggerRequester interface {
	Request()
}

// BatchAppender receives a qualifying frame's QualifiedResult.
type BatchAppender interface {
	Append(QualifiedResult)
}

// FrameSink receives every processed frame's original pixels, the
// processed binary mask, and the verdict — the input the observer
// fan-out's BGR composite is built from. Called for every frame copied
// out of the processing ring, valid or not; mask is nil when the pipeline
// stopped before morphology (zero-area ROI, no background yet). A nil
// FrameSink is a valid no-op.
type FrameSink interface {
	OnProcessed(seq uint64, gray []byte, mask []byte, v Verdict)
}

// Processor is the C4 worker.
type Processor struct {
	queue *queue.IndexQueue
	ring  *ring.Ring
	env   frame.Envelope

	roi       ROIProvider
	bg        BackgroundProvider
	cfg       ConfigProvider
	flags     RunFlags
	metrics   MetricsSink
	trigger   TriggerRequester
	batch     BatchAppender
	frameSink FrameSink

	// kernel is the morphology structuring element, rebuilt only when
	// morph_kernel_size changes.
	kernelMu sync.Mutex
	kernel   gocv.Mat
	kernelN  int
}

// New wires a processor. env must match the payload size the processing
// ring was constructed with. frameSink may be nil.
func New(q *queue.IndexQueue, r *ring.Ring, env frame.Envelope, roi ROIProvider, bg BackgroundProvider, cfg ConfigProvider, flags RunFlags, metrics MetricsSink, trig TriggerRequester, batch BatchAppender, frameSink FrameSink) *Processor {
	return &Processor{
		queue:     q,
		ring:      r,
		env:       env,
		roi:       roi,
		bg:        bg,
		cfg:       cfg,
		flags:     flags,
		metrics:   metrics,
		trigger:   trig,
		batch:     batch,
		frameSink: frameSink,
		kernel:    gocv.NewMat(),
	}
}

// Run pops one processing index at a time until the queue is closed or
// done is observed. Intended to be launched on its own goroutine.
func (p *Processor) Run(ctx context.Context) {
	procprio.Elevate()
	defer p.kernel.Close()

	buf := make([]byte, p.env.PayloadSize())
	logx.L().Info("processor started")
	for {
		select {
		case <-ctx.Done():
			logx.L().Info("processor stopped")
			return
		default:
		}
		if p.flags.Done() {
			logx.L().Info("processor stopped")
			return
		}

		seq, ok := p.queue.Pop()
		if !ok {
			logx.L().Info("processor stopped (queue closed)")
			return
		}
		p.processOne(seq, buf)
	}
}

// processOne runs the full per-frame algorithm for one processing-ring
// sequence number. A panic during pipeline execution aborts only this
// frame.
func (p *Processor) processOne(seq uint64, buf []byte) {
	defer func() {
		if r := recover(); r != nil {
			logx.L().Error("processor: recovered from panic on frame %d: %v", seq, r)
		}
	}()

	start := time.Now()

	view, err := p.ring.PointerAtSeq(seq)
	if err != nil {
		logx.L().Warn("processor: frame %d no longer available: %v", seq, err)
		return
	}
	copy(buf, view) // step 2: copy once, all subsequent work is local

	verdict, clone, hasClone, mask := p.runPipeline(buf)
	elapsed := time.Since(start)
	p.metrics.RecordProcessingTime(elapsed.Microseconds())

	if p.frameSink != nil {
		p.frameSink.OnProcessed(seq, append([]byte(nil), buf...), mask, verdict)
	}

	if !verdict.IsValid {
		if hasClone {
			clone.Close()
		}
		return
	}

	p.metrics.RecordScatter(verdict.Deformability, verdict.Area)
	p.batch.Append(QualifiedResult{
		TimestampUs:   clock.NowMicro(),
		Deformability: verdict.Deformability,
		Area:          verdict.Area,
		Image:         clone,
	})
	p.trigger.Request()
}

// runPipeline implements steps 3-5. It returns a clone of the
// original input frame only when the verdict is valid (hasClone); the
// caller owns that clone and must Close it. mask is the full-frame
// processed binary mask (zeroed outside ROI), fed to FrameSink for
// display composition; it is nil whenever the pipeline exits before
// morphology runs.
func (p *Processor) runPipeline(buf []byte) (verdict Verdict, clone gocv.Mat, hasClone bool, mask []byte) {
	width, height := p.env.Width, p.env.Height

	full, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC1, buf)
	if err != nil {
		logx.L().Error("processor: NewMatFromBytes: %v", err)
		return Verdict{}, gocv.Mat{}, false, nil
	}
	defer full.Close()

	roi := p.roi.ROI().Clip(width, height)
	if roi.Area() == 0 {
		// edge case: zero-area ROI after clipping -> skip,
		// count as invalid.
		return Verdict{}, gocv.Mat{}, false, nil
	}
	roiRect := image.Rect(roi.X, roi.Y, roi.X+roi.W, roi.Y+roi.H)

	bgBlurred, ready := p.bg.Background()
	if !ready {
		return Verdict{}, gocv.Mat{}, false, nil
	}

	cfg := p.cfg.ImageProcessing()

	targetROI := full.Region(roiRect)
	defer targetROI.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	ksize := image.Pt(cfg.GaussianBlurSize, cfg.GaussianBlurSize)
	gocv.GaussianBlur(targetROI, &blurred, ksize, 0, 0, gocv.BorderDefault)

	working := blurred
	var enhanced gocv.Mat
	if cfg.ContrastEnhancement.Enable {
		enhanced = gocv.NewMat()
		defer enhanced.Close()
		blurred.ConvertToWithParams(&enhanced, gocv.MatTypeCV8UC1,
			float32(cfg.ContrastEnhancement.Alpha), float32(cfg.ContrastEnhancement.Beta))
		working = enhanced
	}

	bgROI := bgBlurred.Region(roiRect)
	defer bgROI.Close()

	bgSub := gocv.NewMat()
	defer bgSub.Close()
	gocv.Subtract(bgROI, working, &bgSub) // saturates at 0 for CV8U, per step 3c

	binaryMask := gocv.NewMat()
	defer binaryMask.Close()
	gocv.Threshold(bgSub, &binaryMask, float32(cfg.BgSubtractThreshold), 255, gocv.ThresholdBinary)

	kernel := p.structuringElement(cfg.MorphKernelSize)

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyExWithParams(binaryMask, &closed, gocv.MorphClose, kernel, cfg.MorphIterations, gocv.BorderConstant)

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyExWithParams(closed, &opened, gocv.MorphOpen, kernel, cfg.MorphIterations, gocv.BorderConstant)

	// Full-frame mask, zeroed outside ROI (step 3f) so contour extraction
	// never sees anything beyond the ROI.
	fullMask := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)
	defer fullMask.Close()
	fullMaskROI := fullMask.Region(roiRect)
	opened.CopyTo(&fullMaskROI)
	fullMaskROI.Close()

	maskBytes := append([]byte(nil), fullMask.ToBytes()...)

	hierarchy := gocv.NewMat()
	defer hierarchy.Close()
	contours := gocv.FindContoursWithParams(fullMask, &hierarchy, gocv.RetrievalCCOMP, gocv.ChainApproxSimple)
	defer contours.Close()

	verdict = filterContours(contours, hierarchy, roiRect, cfg)
	if !verdict.IsValid {
		return verdict, gocv.Mat{}, false, maskBytes
	}

	clone = full.Clone()
	return verdict, clone, true, maskBytes
}

// structuringElement rebuilds the cached cross structuring element only
// when the configured kernel size changes.
func (p *Processor) structuringElement(size int) gocv.Mat {
	p.kernelMu.Lock()
	defer p.kernelMu.Unlock()
	if p.kernelN != size {
		p.kernel.Close()
		p.kernel = gocv.GetStructuringElement(gocv.MorphCross, image.Pt(size, size))
		p.kernelN = size
	}
	return p.kernel
}
