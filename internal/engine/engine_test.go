package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/config"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/frame"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/ring"
)

func newTestEngine() *Engine {
	e := New(Options{Config: config.Defaults()})
	e.env = frame.Envelope{Width: 8, Height: 8, Format: frame.Gray8}
	return e
}

func TestSetParamImageDir(t *testing.T) {
	e := newTestEngine()
	if err := e.SetParam("image_dir", "/tmp/frames"); err != nil {
		t.Fatalf("SetParam(image_dir): %v", err)
	}
	e.imageDirMu.Lock()
	got := e.imageDir
	e.imageDirMu.Unlock()
	if got != "/tmp/frames" {
		t.Fatalf("expected image_dir stored, got %q", got)
	}
}

func TestSetParamROIClipsToEnvelope(t *testing.T) {
	e := newTestEngine()
	if err := e.SetParam("roi", "2,2,100,100"); err != nil {
		t.Fatalf("SetParam(roi): %v", err)
	}
	got := e.ROI()
	if got.X != 2 || got.Y != 2 || got.W != 6 || got.H != 6 {
		t.Fatalf("expected ROI clipped to 8x8 envelope, got %+v", got)
	}
}

func TestSetParamROIInvalidValue(t *testing.T) {
	e := newTestEngine()
	err := e.SetParam("roi", "not,a,valid,rect")
	if err == nil || !errors.Is(err, ErrInvalidParamValue) {
		t.Fatalf("expected ErrInvalidParamValue, got %v", err)
	}
}

func TestSetParamUnknownKey(t *testing.T) {
	e := newTestEngine()
	err := e.SetParam("bogus_key", "1")
	if err == nil || !errors.Is(err, ErrUnknownParam) {
		t.Fatalf("expected ErrUnknownParam, got %v", err)
	}
}

func TestSetParamProcessingFields(t *testing.T) {
	e := newTestEngine()
	cases := []struct {
		key string
		val string
	}{
		{"processing.gaussian_blur_size", "7"},
		{"processing.bg_subtract_threshold", "40"},
		{"processing.morph_kernel_size", "5"},
		{"processing.morph_iterations", "2"},
		{"processing.area_threshold_min", "10"},
		{"processing.area_threshold_max", "9000"},
		{"processing.filters.enable_border_check", "false"},
		{"processing.contrast_enhancement.enable_contrast", "true"},
		{"processing.contrast_enhancement.alpha", "1.5"},
		{"processing.contrast_enhancement.beta", "3"},
	}
	for _, c := range cases {
		if err := e.SetParam(c.key, c.val); err != nil {
			t.Fatalf("SetParam(%s, %s): %v", c.key, c.val, err)
		}
	}
	ip := e.ImageProcessing()
	if ip.GaussianBlurSize != 7 || ip.BgSubtractThreshold != 40 || ip.MorphKernelSize != 5 ||
		ip.MorphIterations != 2 || ip.AreaThresholdMin != 10 || ip.AreaThresholdMax != 9000 {
		t.Fatalf("processing fields not applied: %+v", ip)
	}
	if ip.Filters.EnableBorderCheck {
		t.Fatal("expected enable_border_check=false to be applied")
	}
	if !ip.ContrastEnhancement.Enable || ip.ContrastEnhancement.Alpha != 1.5 || ip.ContrastEnhancement.Beta != 3 {
		t.Fatalf("contrast enhancement fields not applied: %+v", ip.ContrastEnhancement)
	}
}

func TestSetParamProcessingUnknownField(t *testing.T) {
	e := newTestEngine()
	err := e.SetParam("processing.not_a_field", "1")
	if err == nil || !errors.Is(err, ErrUnknownParam) {
		t.Fatalf("expected ErrUnknownParam, got %v", err)
	}
}

func TestSetParamProcessingInvalidValue(t *testing.T) {
	e := newTestEngine()
	err := e.SetParam("processing.gaussian_blur_size", "not-an-int")
	if err == nil || !errors.Is(err, ErrInvalidParamValue) {
		t.Fatalf("expected ErrInvalidParamValue, got %v", err)
	}
}

func TestResolveSaveDirectoryDefaultsWhenEmpty(t *testing.T) {
	e := newTestEngine()
	got := e.resolveSaveDirectory("")
	if got == "" {
		t.Fatal("expected a non-empty resolved save directory")
	}
}

func TestResolveSaveDirectorySuffixesOnCollision(t *testing.T) {
	e := newTestEngine()
	base := filepath.Join(t.TempDir(), "session")
	if err := os.MkdirAll(base, 0755); err != nil {
		t.Fatalf("setup MkdirAll: %v", err)
	}
	if err := os.MkdirAll(base+"_1", 0755); err != nil {
		t.Fatalf("setup MkdirAll _1: %v", err)
	}

	got := e.resolveSaveDirectory(base)
	want := base + "_2"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestStepFrameIndexClampsToRingBounds(t *testing.T) {
	e := newTestEngine()
	e.displayRing = ring.New(5, 1)
	for i := 0; i < 3; i++ {
		e.displayRing.Push([]byte{byte(i)})
	}

	e.currentFrameIndex.Store(0)
	e.stepFrameIndex(-1)
	if got := e.currentFrameIndex.Load(); got != 0 {
		t.Fatalf("expected clamp at 0, got %d", got)
	}

	e.stepFrameIndex(1)
	e.stepFrameIndex(1)
	e.stepFrameIndex(1)
	e.stepFrameIndex(1)
	maxIdx := int64(e.displayRing.Size() - 1)
	if got := e.currentFrameIndex.Load(); got != maxIdx {
		t.Fatalf("expected clamp at %d, got %d", maxIdx, got)
	}
}

func TestOnKeySpaceTogglesPaused(t *testing.T) {
	e := newTestEngine()
	if e.Paused() {
		t.Fatal("expected engine to start unpaused")
	}
	e.OnKey(KeySpace)
	if !e.Paused() {
		t.Fatal("expected SPACE to pause the engine")
	}
	e.OnKey(KeySpace)
	if e.Paused() {
		t.Fatal("expected second SPACE to unpause the engine")
	}
}

func TestOnKeyQClearsScatter(t *testing.T) {
	e := newTestEngine()
	e.metricsBus.RecordScatter(1.0, 2.0)
	if snap := e.metricsBus.ScatterSnapshot(); len(snap) == 0 {
		t.Fatal("expected scatter snapshot to be non-empty before clearing")
	}
	e.OnKey(KeyQ)
	if snap := e.metricsBus.ScatterSnapshot(); len(snap) != 0 {
		t.Fatalf("expected scatter snapshot cleared, got %d entries", len(snap))
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	e := newTestEngine()
	e.Stop() // must not panic or block when never started
}

func TestDoneDefaultsFalse(t *testing.T) {
	e := newTestEngine()
	if e.Done() {
		t.Fatal("expected a freshly constructed engine to report Done()==false")
	}
}
