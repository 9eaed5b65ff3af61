// Package observer implements the C8 worker: a registry of UI observers
// and the BGR composite builder fed by every processed frame.
package observer

import (
	"image/color"
	"sync"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/frame"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/processor"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/telemetry/logx"
)

// Frame is the borrowed display frame delivered to Observer.OnFrame. The
// backing Data slice is valid only for the synchronous duration of the
// callback.
type Frame struct {
	Data        []byte
	SizeBytes   int
	Width       int
	Height      int
	Format      frame.PixelFormat // always BGR24 for the composite
	TimestampNs int64
}

// Observer is anything that wants frames and lifecycle events. Observers
// must not block.
type Observer interface {
	OnFrame(Frame)
	OnStatus(text string)
	OnError(code int, text string)
}

// Registry is the C8 fan-out: subscribe/unsubscribe at will, synchronous
// non-blocking delivery to every registered observer. Grounded on the
// idiom of a controller owning a small
// set of consumers reached by plain method calls — generalized here to a
// dynamic registry since no pack example has one.
type Registry struct {
	mu        sync.RWMutex
	observers map[int]Observer
	nextID    int
}

// NewRegistry returns an empty observer registry.
func NewRegistry() *Registry {
	return &Registry{observers: make(map[int]Observer)}
}

// Subscribe registers o and returns a handle for Unsubscribe.
func (r *Registry) Subscribe(o Observer) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.observers[id] = o
	return id
}

// Unsubscribe removes the observer registered under id. No-op if absent.
func (r *Registry) Unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observers, id)
}

// NotifyFrame delivers f to every registered observer synchronously.
func (r *Registry) NotifyFrame(f Frame) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.observers {
		o.OnFrame(f)
	}
}

// NotifyStatus delivers a status string to every registered observer.
func (r *Registry) NotifyStatus(text string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.observers {
		o.OnStatus(text)
	}
	logx.L().Info("status: %s", text)
}

// NotifyError delivers an error code+text to every registered observer.
func (r *Registry) NotifyError(code int, text string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.observers {
		o.OnError(code, text)
	}
	logx.L().Error("error %d: %s", code, text)
}

// Overlay colors for the verdict categories, BGR order: the R field holds
// blue and the B field holds red (applyOverlay builds its scalar R, G, B).
var (
	colorTouchesBorder = color.RGBA{R: 0, G: 0, B: 255, A: 255}   // red
	colorValidInner    = color.RGBA{R: 0, G: 255, B: 0, A: 255}   // bright green
	colorValidNoInner  = color.RGBA{R: 0, G: 255, B: 255, A: 255} // yellow
	colorOther         = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	colorROIOutline    = color.RGBA{R: 0, G: 255, B: 0, A: 255} // 1px green rectangle
)

const overlayOpacity = 0.3

// overlayColorFor selects the per-pixel overlay tint for v.
func overlayColorFor(v processor.Verdict) color.RGBA {
	switch {
	case v.TouchesBorder:
		return colorTouchesBorder
	case v.IsValid && v.HasSingleInnerContour:
		return colorValidInner
	case v.IsValid && !v.HasSingleInnerContour:
		return colorValidNoInner
	default:
		return colorOther
	}
}
