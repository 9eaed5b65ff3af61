package engine

import "github.com/gavinlouuu-kpt/mib-studio-go/internal/batch"

// ASCII key codes recognized by OnKey.
const (
	KeyESC   = 27
	KeySpace = 32
	KeyA     = 97
	KeyD     = 100
	KeyQ     = 113
	KeyS     = 115
)

// OnKey dispatches one control-surface key code.
func (e *Engine) OnKey(code int) {
	switch code {
	case KeyESC:
		go e.Stop() // Stop blocks on wg.Wait(); never call it from a callback's own goroutine.
	case KeySpace:
		paused := !e.paused.Load()
		e.paused.Store(paused)
		e.captureBackgroundFromLatest()
	case KeyA:
		if e.paused.Load() {
			e.stepFrameIndex(1)
		}
	case KeyD:
		if e.paused.Load() {
			e.stepFrameIndex(-1)
		}
	case KeyQ:
		e.metricsBus.ClearScatter()
	case KeyS:
		e.snapshotRing()
	}
}

// stepFrameIndex moves current_frame_index by delta, clamped to the
// display ring's valid range.
func (e *Engine) stepFrameIndex(delta int64) {
	if e.displayRing == nil {
		return
	}
	maxIdx := int64(e.displayRing.Size() - 1)
	if maxIdx < 0 {
		maxIdx = 0
	}
	next := e.currentFrameIndex.Load() + delta
	if next < 0 {
		next = 0
	}
	if next > maxIdx {
		next = maxIdx
	}
	e.currentFrameIndex.Store(next)
}

// snapshotRing writes every currently-held display-ring frame as a
// numbered PNG under stream_output/<n>/.
func (e *Engine) snapshotRing() {
	if e.displayRing == nil {
		return
	}
	size := e.displayRing.Size()
	frames := make([][]byte, 0, size)
	for i := 0; i < size; i++ {
		data, err := e.displayRing.Get(i)
		if err != nil {
			continue
		}
		frames = append(frames, data)
	}
	dir := e.snapshotDir()
	if err := batch.SnapshotPNGs(dir, frames, e.env.Width, e.env.Height); err != nil {
		e.registry.NotifyError(CodePersistence, err.Error())
	}
}
