// Package source implements the two interchangeable frame producers of
// (C2): a mock replay source for a directory of grayscale
// images, and a live camera source wrapping an out-of-scope SDK.
package source

import (
	"context"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/frame"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/ring"
)

// Source is the contract both implementations satisfy:
// each publishes a monotonically non-decreasing LatestFrameIndex with
// release ordering, backed by a dedicated ring the dispatcher reads from.
type Source interface {
	Start(ctx context.Context)
	// LatestFrameIndex returns the most recently published push-sequence
	// number (Ring().PushCount()-1 at publish time, for Ring().PointerAtSeq),
	// acquire-ordered with respect to the writer's Push.
	LatestFrameIndex() (idx uint64, valid bool)
	Ring() *ring.Ring
	Envelope() frame.Envelope
	Stats() (produced, dropped uint64)
}

// PausedFlag is satisfied by the run-state atomic the engine owns; both
// sources honor it without importing the engine package.
type PausedFlag interface {
	Paused() bool
}
