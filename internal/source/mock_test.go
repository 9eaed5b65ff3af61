package source

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePNG(t *testing.T, path string, w, h int, fill byte) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

type alwaysRunning struct{}

func (alwaysRunning) Paused() bool { return false }

func TestNewMockSourceRejectsEmptyDir(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewMockSource(dir, 100, alwaysRunning{}); err == nil {
		t.Fatal("expected error for directory with no images")
	}
}

func TestNewMockSourceRejectsMismatchedSizes(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 4, 4, 10)
	writePNG(t, filepath.Join(dir, "b.png"), 8, 8, 20)

	if _, err := NewMockSource(dir, 100, alwaysRunning{}); err == nil {
		t.Fatal("expected error for mismatched image sizes")
	}
}

func TestNewMockSourceLoadsInLexicographicOrder(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), 2, 2, 200)
	writePNG(t, filepath.Join(dir, "a.png"), 2, 2, 10)

	src, err := NewMockSource(dir, 1000, alwaysRunning{})
	if err != nil {
		t.Fatalf("NewMockSource: %v", err)
	}
	if len(src.images) != 2 {
		t.Fatalf("expected 2 images loaded, got %d", len(src.images))
	}
	if src.images[0][0] != 10 {
		t.Fatalf("expected a.png (fill=10) loaded first, got %d", src.images[0][0])
	}
	if src.env.Width != 2 || src.env.Height != 2 {
		t.Fatalf("unexpected envelope: %+v", src.env)
	}
}

func TestMockSourceReplayAdvancesLatestFrameIndex(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 2, 2, 5)

	src, err := NewMockSource(dir, 2000, alwaysRunning{})
	if err != nil {
		t.Fatalf("NewMockSource: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := src.LatestFrameIndex(); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	idx, ok := src.LatestFrameIndex()
	if !ok {
		t.Fatal("expected a published frame index")
	}
	if _, err := src.Ring().PointerAtSeq(idx); err != nil {
		t.Fatalf("ring should hold the published sequence: %v", err)
	}
	produced, _ := src.Stats()
	if produced == 0 {
		t.Fatal("expected produced count > 0")
	}
}

func TestMockSourceHonorsPaused(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 2, 2, 5)

	paused := &pausableFlag{paused: true}
	src, err := NewMockSource(dir, 2000, paused)
	if err != nil {
		t.Fatalf("NewMockSource: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.Start(ctx)

	time.Sleep(20 * time.Millisecond)
	if _, ok := src.LatestFrameIndex(); ok {
		t.Fatal("paused source must not publish frames")
	}
}

type pausableFlag struct{ paused bool }

func (p *pausableFlag) Paused() bool { return p.paused }
