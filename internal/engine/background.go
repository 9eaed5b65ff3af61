package engine

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/config"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/telemetry/logx"
)

// background holds the raw and blurred(+enhanced) captured background
// frames behind one mutex, rebuilt atomically on every capture.
//
// Captured Mats are never closed while they might still be in use by a
// concurrently-running processor frame; instead each superseded Mat is
// retired into a slice closed only at engine Stop(). Recaptures happen at
// most a handful of times per run (pause toggles), so this bounded leak
// is preferable to a use-after-close race.
type background struct {
	mu      sync.RWMutex
	raw_    gocv.Mat
	blurred gocv.Mat
	ready   bool
	retired []gocv.Mat
}

func (b *background) raw() (gocv.Mat, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.raw_, b.ready
}

func (b *background) blurredEnhanced() (gocv.Mat, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.blurred, b.ready
}

// capture builds the blurred(+enhanced) form of rawBytes and installs it
// as the new background.
func (b *background) capture(rawBytes []byte, width, height int, cfg config.ImageProcessing) error {
	raw, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC1, rawBytes)
	if err != nil {
		return err
	}
	rawClone := raw.Clone()
	raw.Close()

	blurred := gocv.NewMat()
	ksize := image.Pt(cfg.GaussianBlurSize, cfg.GaussianBlurSize)
	gocv.GaussianBlur(rawClone, &blurred, ksize, 0, 0, gocv.BorderDefault)

	final := blurred
	if cfg.ContrastEnhancement.Enable {
		enhanced := gocv.NewMat()
		blurred.ConvertToWithParams(&enhanced, gocv.MatTypeCV8UC1,
			float32(cfg.ContrastEnhancement.Alpha), float32(cfg.ContrastEnhancement.Beta))
		blurred.Close()
		final = enhanced
	}

	b.mu.Lock()
	if b.ready {
		b.retired = append(b.retired, b.raw_, b.blurred)
	}
	b.raw_ = rawClone
	b.blurred = final
	b.ready = true
	b.mu.Unlock()
	return nil
}

func (b *background) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready {
		b.raw_.Close()
		b.blurred.Close()
	}
	for _, m := range b.retired {
		m.Close()
	}
	b.retired = nil
}

// autoCaptureBackgroundFrameCount is how many frames the source must have
// produced before the engine captures the initial "middle-index" background.
const autoCaptureBackgroundFrameCount = 50

// autoCaptureBackground waits for the source ring to fill a little, then
// captures the one-time startup background from its middle index.
func (e *Engine) autoCaptureBackground() {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	target := autoCaptureBackgroundFrameCount
	if c := e.src.Ring().Capacity(); target > c {
		target = c
	}
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if e.done.Load() {
				return
			}
			r := e.src.Ring()
			size := r.Size()
			if size < target {
				continue
			}
			mid := size / 2
			data, err := r.Get(mid)
			if err != nil {
				continue
			}
			if err := e.bg.capture(data, e.env.Width, e.env.Height, e.ImageProcessing()); err != nil {
				logx.L().Error("engine: initial background capture: %v", err)
				return
			}
			logx.L().Info("engine: initial background captured from middle frame")
			return
		}
	}
}

// captureBackgroundFromLatest recaptures the background from the newest
// ring frame.
func (e *Engine) captureBackgroundFromLatest() {
	if e.src == nil {
		return
	}
	data, err := e.src.Ring().Get(0)
	if err != nil {
		return
	}
	if err := e.bg.capture(data, e.env.Width, e.env.Height, e.ImageProcessing()); err != nil {
		logx.L().Error("engine: background recapture: %v", err)
		return
	}
	logx.L().Info("engine: background recaptured")
}
