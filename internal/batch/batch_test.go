package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/config"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/frame"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/processor"
)

type fakeBackground struct{ ready bool }

func (f fakeBackground) RawBackground() (gocv.Mat, bool) {
	if !f.ready {
		return gocv.Mat{}, false
	}
	return gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC1), true
}

type fakeROI struct{ r frame.Rect }

func (f fakeROI) ROI() frame.Rect { return f.r }

type fakeConfig struct{ ip config.ImageProcessing }

func (f fakeConfig) ImageProcessing() config.ImageProcessing { return f.ip }

type fakeMetrics struct{ durations []time.Duration }

func (f *fakeMetrics) RecordSaveDuration(d time.Duration) { f.durations = append(f.durations, d) }

func newQualifiedResult(ts int64, def, area float64) processor.QualifiedResult {
	return processor.QualifiedResult{
		TimestampUs:   ts,
		Deformability: def,
		Area:          area,
		Image:         gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC1),
	}
}

func TestBatcherFlipsAtThreshold(t *testing.T) {
	dir := t.TempDir()
	metrics := &fakeMetrics{}
	b := New(Options{SaveDirectory: dir, Condition: "ctrl", BufferThreshold: 2},
		fakeBackground{ready: false}, fakeROI{r: frame.Rect{X: 1, Y: 2, W: 10, H: 10}},
		fakeConfig{ip: config.Defaults().ImageProcessing}, metrics)

	done := make(chan struct{})
	go func() {
		b.Run(context.Background())
		close(done)
	}()

	b.Append(newQualifiedResult(1, 0.1, 100))
	b.Append(newQualifiedResult(2, 0.2, 200)) // hits threshold=2, flips and signals

	// Give the persister goroutine a moment to flush, then stop cleanly.
	time.Sleep(50 * time.Millisecond)
	b.Stop()
	<-done

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read save dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected at least one batch directory under %s", dir)
	}

	csvPath := filepath.Join(dir, entries[0].Name(), "batch_data.csv")
	if _, err := os.Stat(csvPath); err != nil {
		t.Fatalf("expected %s to exist: %v", csvPath, err)
	}
	roiPath := filepath.Join(dir, entries[0].Name(), "roi.csv")
	if _, err := os.Stat(roiPath); err != nil {
		t.Fatalf("expected %s to exist: %v", roiPath, err)
	}
	cfgPath := filepath.Join(dir, entries[0].Name(), "processing_config.json")
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("expected %s to exist: %v", cfgPath, err)
	}
}

func TestBatcherConditionDefaultsToSaveDirectory(t *testing.T) {
	dir := t.TempDir()
	b := New(Options{SaveDirectory: dir, BufferThreshold: 1000},
		fakeBackground{ready: false}, fakeROI{}, fakeConfig{ip: config.Defaults().ImageProcessing}, &fakeMetrics{})
	if b.opts.Condition != dir {
		t.Fatalf("condition = %q, want %q (defaulted to save directory)", b.opts.Condition, dir)
	}
}

func TestBatcherFlushesRemainingOnStop(t *testing.T) {
	dir := t.TempDir()
	metrics := &fakeMetrics{}
	b := New(Options{SaveDirectory: dir, BufferThreshold: 1000}, // never hit by Append alone
		fakeBackground{ready: false}, fakeROI{}, fakeConfig{ip: config.Defaults().ImageProcessing}, metrics)

	done := make(chan struct{})
	go func() {
		b.Run(context.Background())
		close(done)
	}()

	b.Append(newQualifiedResult(1, 0.3, 50))
	b.Stop()
	<-done

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read save dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one final batch directory, got %d", len(entries))
	}
	if len(metrics.durations) != 1 {
		t.Fatalf("expected exactly one recorded save duration, got %d", len(metrics.durations))
	}
}
