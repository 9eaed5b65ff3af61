// Package batch implements the C6 worker: the double-buffered (A/B)
// qualified-result collector and the persister goroutine that flushes a
// full buffer to disk as a self-contained batch directory.
package batch

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/image/tiff"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/clock"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/config"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/frame"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/processor"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/telemetry/logx"
)

// csvHeader is step 4's exact header row.
var csvHeader = []string{"Condition", "Timestamp_us", "Deformability", "Area"}

// roiHeader is step 7's exact header row.
var roiHeader = []string{"x", "y", "width", "height"}

// BackgroundProvider exposes the raw (un-blurred) background frame at
// save time.
type BackgroundProvider interface {
	RawBackground() (gocv.Mat, bool)
}

// ROIProvider exposes the live ROI rectangle at save time.
type ROIProvider interface {
	ROI() frame.Rect
}

// ConfigProvider exposes the active processing-config snapshot.
type ConfigProvider interface {
	ImageProcessing() config.ImageProcessing
}

// MetricsSink is where the batcher reports disk-save duration.
type MetricsSink interface {
	RecordSaveDuration(d time.Duration)
}

// Options configures one Batcher (engine-resolved values, fixed for the
// run's lifetime).
type Options struct {
	SaveDirectory   string // already-resolved, collision-free directory
	Condition       string // CSV Condition column; defaults to SaveDirectory when empty (open question 1)
	BufferThreshold int    // default 1000 per / open question 2
}

// Batcher is the C6 worker.
type Batcher struct {
	opts Options

	bg      BackgroundProvider
	roi     ROIProvider
	cfg     ConfigProvider
	metrics MetricsSink

	mu       sync.Mutex
	cond     *sync.Cond
	usingA   bool
	bufA     []processor.QualifiedResult
	bufB     []processor.QualifiedResult
	saving   atomic.Bool
	done     atomic.Bool

	batchNum   uint64
	totalSaved uint64
	lastSaveNs int64
}

// New wires a batcher against already-resolved options.
func New(opts Options, bg BackgroundProvider, roi ROIProvider, cfg ConfigProvider, metrics MetricsSink) *Batcher {
	if opts.BufferThreshold <= 0 {
		opts.BufferThreshold = 1000
	}
	if opts.Condition == "" {
		opts.Condition = opts.SaveDirectory
	}
	b := &Batcher{opts: opts, bg: bg, roi: roi, cfg: cfg, metrics: metrics, usingA: true}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Append adds r to the active vector under the batcher mutex. When the
// active vector reaches BufferThreshold and no save is in flight, it
// flips using_A, marks saving in progress, and wakes the persister.
func (b *Batcher) Append(r processor.QualifiedResult) {
	b.mu.Lock()
	if b.usingA {
		b.bufA = append(b.bufA, r)
	} else {
		b.bufB = append(b.bufB, r)
	}
	active := len(b.bufB)
	if b.usingA {
		active = len(b.bufA)
	}
	flip := active >= b.opts.BufferThreshold && !b.saving.Load()
	if flip {
		b.usingA = !b.usingA
		b.saving.Store(true)
	}
	b.mu.Unlock()
	if flip {
		b.cond.Signal()
	}
}

// Stop requests the persister to flush any remaining results in both
// vectors as a final batch and exit ( "On stop()...").
func (b *Batcher) Stop() {
	b.mu.Lock()
	b.done.Store(true)
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Run is the persister loop: wait for saving_in_progress || done, swap
// the inactive vector out, flush it, repeat.
func (b *Batcher) Run(ctx context.Context) {
	logx.L().Info("batcher started  (threshold=%d, dir=%s)", b.opts.BufferThreshold, b.opts.SaveDirectory)
	for {
		b.mu.Lock()
		for !b.saving.Load() && !b.done.Load() {
			b.cond.Wait()
		}
		if b.done.Load() && !b.saving.Load() {
			remaining := append(b.bufA, b.bufB...)
			b.bufA, b.bufB = nil, nil
			b.mu.Unlock()
			if len(remaining) > 0 {
				b.flush(remaining)
			}
			logx.L().Info("batcher stopped")
			return
		}
		var local []processor.QualifiedResult
		if b.usingA {
			// A is now active; B is the inactive vector to flush.
			local = b.bufB
			b.bufB = nil
		} else {
			local = b.bufA
			b.bufA = nil
		}
		b.mu.Unlock()

		b.flush(local)

		b.saving.Store(false)
	}
}

// flush writes one batch directory per steps 3-8.
func (b *Batcher) flush(results []processor.QualifiedResult) {
	start := time.Now()
	n := atomic.AddUint64(&b.batchNum, 1)
	dir := filepath.Join(b.opts.SaveDirectory, fmt.Sprintf("batch_%d", n))

	if err := os.MkdirAll(dir, 0755); err != nil {
		logx.L().Error("batch: mkdir %s: %v", dir, err)
		b.closeResults(results)
		return
	}

	if err := b.writeCSV(dir, results); err != nil {
		logx.L().Error("batch: %v", err)
	}
	if err := b.writeImages(dir, results); err != nil {
		logx.L().Error("batch: %v", err)
	}
	if err := b.writeBackground(dir); err != nil {
		logx.L().Error("batch: %v", err)
	}
	if err := b.writeROI(dir); err != nil {
		logx.L().Error("batch: %v", err)
	}
	if err := b.writeProcessingConfig(dir); err != nil {
		logx.L().Error("batch: %v", err)
	}

	b.closeResults(results)

	elapsed := time.Since(start)
	atomic.AddUint64(&b.totalSaved, uint64(len(results)))
	savedAt := clock.NowNano()
	atomic.StoreInt64(&b.lastSaveNs, savedAt)
	b.metrics.RecordSaveDuration(elapsed)
	logx.L().Info("batch %d flushed at %s: %d results in %v -> %s", n, clock.FormatTimestamp(savedAt), len(results), elapsed, dir)
}

func (b *Batcher) closeResults(results []processor.QualifiedResult) {
	for _, r := range results {
		r.Close()
	}
}

// writeCSV writes batch_data.csv.
func (b *Batcher) writeCSV(dir string, results []processor.QualifiedResult) error {
	w, err := newCSVWriter(filepath.Join(dir, "batch_data.csv"), csvHeader)
	if err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			b.opts.Condition,
			fmt.Sprintf("%d", r.TimestampUs),
			fmt.Sprintf("%g", r.Deformability),
			fmt.Sprintf("%g", r.Area),
		}
		if err := w.WriteRow(row); err != nil {
			w.Close()
			return fmt.Errorf("write batch_data.csv row: %w", err)
		}
	}
	return w.Close()
}

// writeImages writes images.bin: for each result, int32 rows, cols, type
// followed by the raw contiguous pixel bytes.
func (b *Batcher) writeImages(dir string, results []processor.QualifiedResult) error {
	path := filepath.Join(dir, "images.bin")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create images.bin: %w", err)
	}
	defer f.Close()

	for _, r := range results {
		header := [3]int32{int32(r.Image.Rows()), int32(r.Image.Cols()), int32(r.Image.Type())}
		if err := binary.Write(f, binary.LittleEndian, header); err != nil {
			return fmt.Errorf("write images.bin header: %w", err)
		}
		if _, err := f.Write(r.Image.ToBytes()); err != nil {
			return fmt.Errorf("write images.bin payload: %w", err)
		}
	}
	return nil
}

// writeBackground writes background_clean.tiff, the un-blurred background
// captured at save time.
func (b *Batcher) writeBackground(dir string) error {
	mat, ready := b.bg.RawBackground()
	if !ready {
		return nil // no background captured yet this run: nothing to write
	}
	img, err := mat.ToImage()
	if err != nil {
		return fmt.Errorf("background to image: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "background_clean.tiff"))
	if err != nil {
		return fmt.Errorf("create background_clean.tiff: %w", err)
	}
	defer f.Close()
	if err := tiff.Encode(f, img, nil); err != nil {
		return fmt.Errorf("encode background_clean.tiff: %w", err)
	}
	return nil
}

// writeROI writes roi.csv.
func (b *Batcher) writeROI(dir string) error {
	r := b.roi.ROI()
	w, err := newCSVWriter(filepath.Join(dir, "roi.csv"), roiHeader)
	if err != nil {
		return err
	}
	row := []string{fmt.Sprintf("%d", r.X), fmt.Sprintf("%d", r.Y), fmt.Sprintf("%d", r.W), fmt.Sprintf("%d", r.H)}
	if err := w.WriteRow(row); err != nil {
		w.Close()
		return fmt.Errorf("write roi.csv row: %w", err)
	}
	return w.Close()
}

// writeProcessingConfig writes processing_config.json.
func (b *Batcher) writeProcessingConfig(dir string) error {
	data, err := json.MarshalIndent(b.cfg.ImageProcessing(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal processing config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "processing_config.json"), data, 0644); err != nil {
		return fmt.Errorf("write processing_config.json: %w", err)
	}
	return nil
}

// SnapshotPNGs writes every valid ring frame as a numbered PNG under
// dir. Kept here rather than in engine since it
// shares the batch package's disk-layout conventions.
func SnapshotPNGs(dir string, frames [][]byte, width, height int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}
	for i, payload := range frames {
		mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC1, payload)
		if err != nil {
			return fmt.Errorf("snapshot: frame %d: %w", i, err)
		}
		img, err := mat.ToImage()
		mat.Close()
		if err != nil {
			return fmt.Errorf("snapshot: frame %d to image: %w", i, err)
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%06d.png", i)))
		if err != nil {
			return fmt.Errorf("snapshot: create frame %d: %w", i, err)
		}
		err = png.Encode(f, img)
		f.Close()
		if err != nil {
			return fmt.Errorf("snapshot: encode frame %d: %w", i, err)
		}
	}
	return nil
}

// TotalSaved returns the running count of persisted qualified results.
func (b *Batcher) TotalSaved() uint64 {
	return atomic.LoadUint64(&b.totalSaved)
}

// LastSaveTime returns the time of the most recent completed flush.
func (b *Batcher) LastSaveTime() time.Time {
	ns := atomic.LoadInt64(&b.lastSaveNs)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
