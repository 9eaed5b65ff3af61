package source

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/image/tiff"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/frame"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/ring"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/telemetry/logx"
)

var imageExts = map[string]bool{
	".tif": true, ".tiff": true, ".png": true, ".jpg": true, ".jpeg": true,
}

const defaultRingCapacity = 5000 // "Frame ring" default N

// MockSource loads a fixed directory of grayscale images in ascending
// lexicographic order (there is no reverse-order option) and replays them
// at a target rate into a dedicated
// camera ring, re-pushing each frame on every replay step so the ring's
// PushCount (and therefore the published latest_frame_index) stays
// monotonically increasing. Grounded on a Start(ctx)+ticker+atomic-counter
// idiom, generalized from "send on a channel" to "push into a ring and
// publish the push sequence number."
type MockSource struct {
	dir       string
	targetFPS int
	paused    PausedFlag

	env    frame.Envelope
	images [][]byte
	ring   *ring.Ring

	latest    uint64
	hasLatest atomic.Bool
	produced  uint64
	dropped   uint64
}

// NewMockSource loads every supported image in dir (lexicographically).
// It fails if the directory has no valid images.
func NewMockSource(dir string, targetFPS int, paused PausedFlag) (*MockSource, error) {
	paths, err := listImages(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("source: no valid images found in %s", dir)
	}

	images := make([][]byte, 0, len(paths))
	var env frame.Envelope
	for i, p := range paths {
		pix, e, err := decodeGray(p)
		if err != nil {
			return nil, fmt.Errorf("source: decode %s: %w", p, err)
		}
		if i == 0 {
			env = e
		} else if e.Width != env.Width || e.Height != env.Height {
			return nil, fmt.Errorf("source: %s size %dx%d does not match first image %dx%d", p, e.Width, e.Height, env.Width, env.Height)
		}
		images = append(images, pix)
	}

	if targetFPS <= 0 {
		targetFPS = 5000
	}

	capacity := defaultRingCapacity
	if len(images) < capacity {
		capacity = len(images)
	}

	return &MockSource{
		dir:       dir,
		targetFPS: targetFPS,
		paused:    paused,
		env:       env,
		images:    images,
		ring:      ring.New(capacity, env.PayloadSize()),
	}, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("source: read dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func decodeGray(path string) ([]byte, frame.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, frame.Envelope{}, err
	}
	defer f.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		img, err = tiff.Decode(f)
	case ".png":
		img, err = png.Decode(f)
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(f)
	default:
		err = fmt.Errorf("unsupported extension: %s", path)
	}
	if err != nil {
		return nil, frame.Envelope{}, err
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			// Rec. 601 luma, matching the grayscale conversion any
			// OpenCV-equivalent cvtColor(GRAY) would apply.
			gray := (299*r + 587*g + 114*bl) / 1000
			out[i] = byte(gray >> 8)
			i++
		}
	}
	return out, frame.Envelope{Width: w, Height: h, Format: frame.Gray8}, nil
}

// Start launches the replay goroutine.
func (m *MockSource) Start(ctx context.Context) {
	go m.run(ctx)
	logx.L().Info("mock source started  (dir=%s, fps=%d, frames=%d)", m.dir, m.targetFPS, len(m.images))
}

func (m *MockSource) run(ctx context.Context) {
	interval := time.Second / time.Duration(m.targetFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var i int
	for {
		select {
		case <-ctx.Done():
			logx.L().Info("mock source stopped  (produced=%d)", atomic.LoadUint64(&m.produced))
			return
		case <-ticker.C:
			if m.paused != nil && m.paused.Paused() {
				continue
			}
			m.ring.Push(m.images[i])
			seq := m.ring.PushCount() - 1
			atomic.StoreUint64(&m.latest, seq)
			m.hasLatest.Store(true)
			atomic.AddUint64(&m.produced, 1)
			i = (i + 1) % len(m.images)
		}
	}
}

// LatestFrameIndex returns the most recently published push-sequence
// number, directly usable with Ring().PointerAtSeq.
func (m *MockSource) LatestFrameIndex() (uint64, bool) {
	if !m.hasLatest.Load() {
		return 0, false
	}
	return atomic.LoadUint64(&m.latest), true
}

func (m *MockSource) Ring() *ring.Ring         { return m.ring }
func (m *MockSource) Envelope() frame.Envelope { return m.env }
func (m *MockSource) Stats() (uint64, uint64) {
	return atomic.LoadUint64(&m.produced), atomic.LoadUint64(&m.dropped)
}
