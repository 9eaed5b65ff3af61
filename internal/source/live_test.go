package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/frame"
)

// fakeSDK replays a scripted sequence of Grab results, one per call.
type fakeSDK struct {
	mu    sync.Mutex
	calls []fakeGrab
	i     int
}

type fakeGrab struct {
	frameID    uint64
	incomplete bool
	sizeFilled int
	err        error
	fill       byte
}

func (f *fakeSDK) Grab(ctx context.Context, dst []byte) (uint64, int64, bool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.i >= len(f.calls) {
		<-ctx.Done()
		return 0, 0, false, 0, ctx.Err()
	}
	c := f.calls[f.i]
	f.i++
	if c.err == nil {
		for i := range dst {
			dst[i] = c.fill
		}
	}
	return c.frameID, 0, c.incomplete, c.sizeFilled, c.err
}

func (f *fakeSDK) Telemetry() (float64, float64, float64) { return 5000, 0, 0 }

func TestLiveSourcePushesValidFrames(t *testing.T) {
	env := frame.Envelope{Width: 2, Height: 2, Format: frame.Gray8}
	sdk := &fakeSDK{calls: []fakeGrab{
		{frameID: 1, sizeFilled: env.PayloadSize(), fill: 7},
		{frameID: 2, sizeFilled: env.PayloadSize(), fill: 8},
	}}

	src := NewLiveSource(sdk, env, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p, _ := src.Stats(); p >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	produced, dropped := src.Stats()
	if produced != 2 {
		t.Fatalf("expected 2 produced frames, got %d (dropped=%d)", produced, dropped)
	}
	if src.Ring().Size() != 2 {
		t.Fatalf("expected 2 frames in ring, got %d", src.Ring().Size())
	}
}

func TestLiveSourceDropsIncompleteAndDuplicateFrames(t *testing.T) {
	env := frame.Envelope{Width: 2, Height: 2, Format: frame.Gray8}
	sdk := &fakeSDK{calls: []fakeGrab{
		{frameID: 1, sizeFilled: env.PayloadSize(), fill: 1},
		{frameID: 1, sizeFilled: env.PayloadSize(), fill: 1}, // duplicate frameID
		{frameID: 2, incomplete: true, sizeFilled: env.PayloadSize(), fill: 1},
		{frameID: 3, sizeFilled: 1, fill: 1}, // short frame
		{frameID: 0, err: errors.New("grab failed")},
	}}

	src := NewLiveSource(sdk, env, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, dropped := src.Stats()
		if dropped >= 4 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	produced, dropped := src.Stats()
	if produced != 1 {
		t.Fatalf("expected exactly 1 produced frame (the first), got %d", produced)
	}
	if dropped != 4 {
		t.Fatalf("expected 4 dropped frames, got %d", dropped)
	}
}
