package observer

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/frame"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/processor"
)

// Compositor builds the BGR display composite and fans it out through a
// Registry. It implements processor.FrameSink, so internal/engine can
// wire it directly onto the processor without any intermediate adaptation.
type Compositor struct {
	registry       *Registry
	width, height  int
	overlayEnabled func() bool
	roi            func() frame.Rect
}

// NewCompositor wires a compositor against env's frame geometry. overlay
// and roi are read fresh on every frame, since both are live-editable.
func NewCompositor(registry *Registry, width, height int, overlay func() bool, roi func() frame.Rect) *Compositor {
	return &Compositor{registry: registry, width: width, height: height, overlayEnabled: overlay, roi: roi}
}

// OnProcessed implements processor.FrameSink. gray is the original frame
// pixels; mask is the full-frame processed binary mask (nil if the
// pipeline exited before morphology ran, e.g. no background yet).
func (c *Compositor) OnProcessed(seq uint64, gray []byte, mask []byte, v processor.Verdict) {
	if len(gray) != c.width*c.height {
		return // malformed frame, nothing sane to display
	}

	src, err := gocv.NewMatFromBytes(c.height, c.width, gocv.MatTypeCV8UC1, gray)
	if err != nil {
		return
	}
	defer src.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(src, &bgr, gocv.ColorGrayToBGR)

	if c.overlayEnabled != nil && c.overlayEnabled() && len(mask) == c.width*c.height {
		c.applyOverlay(&bgr, mask, v)
	}

	if c.roi != nil {
		r := c.roi().Clip(c.width, c.height)
		if r.Area() > 0 {
			rect := image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
			gocv.Rectangle(&bgr, rect, colorROIOutline, 1)
		}
	}

	data := append([]byte(nil), bgr.ToBytes()...)
	c.registry.NotifyFrame(Frame{
		Data:        data,
		SizeBytes:   len(data),
		Width:       c.width,
		Height:      c.height,
		Format:      frame.BGR24,
		TimestampNs: int64(seq), // monotonic sequence stand-in; wall-clock arrival time is not tracked per-frame
	})
}

// applyOverlay blends a verdict-colored tint over the masked region at
// overlayOpacity.
func (c *Compositor) applyOverlay(bgr *gocv.Mat, mask []byte, v processor.Verdict) {
	tint := overlayColorFor(v)

	colorLayer := gocv.NewMatWithSize(c.height, c.width, gocv.MatTypeCV8UC3)
	defer colorLayer.Close()
	colorLayer.SetTo(gocv.NewScalar(float64(tint.R), float64(tint.G), float64(tint.B), 0))

	maskMat, err := gocv.NewMatFromBytes(c.height, c.width, gocv.MatTypeCV8UC1, mask)
	if err != nil {
		return
	}
	defer maskMat.Close()

	blended := gocv.NewMat()
	defer blended.Close()
	gocv.AddWeighted(*bgr, 1-overlayOpacity, colorLayer, overlayOpacity, 0, &blended)

	blended.CopyToWithMask(bgr, maskMat)
}
