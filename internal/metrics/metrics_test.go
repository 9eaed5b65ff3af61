package metrics

import (
	"testing"
	"time"
)

func TestProcessingTimeSummary(t *testing.T) {
	b := New()
	for _, us := range []int64{100, 250, 50, 300} {
		b.RecordProcessingTime(us)
	}
	got := b.ProcessingTimeSummary()
	if got.Count != 4 {
		t.Fatalf("count = %d, want 4", got.Count)
	}
	if got.Min != 50 || got.Max != 300 {
		t.Fatalf("min/max = %v/%v, want 50/300", got.Min, got.Max)
	}
	wantMean := (100.0 + 250 + 50 + 300) / 4
	if got.Mean != wantMean {
		t.Fatalf("mean = %v, want %v", got.Mean, wantMean)
	}
	// 250 and 300 exceed the 200us threshold: 2/4 = 0.5
	if got.FractionSlow != 0.5 {
		t.Fatalf("fractionSlow = %v, want 0.5", got.FractionSlow)
	}
}

func TestProcessingTimeSummaryEmpty(t *testing.T) {
	b := New()
	got := b.ProcessingTimeSummary()
	if got.Count != 0 || got.Mean != 0 {
		t.Fatalf("expected zero-value summary for an empty buffer, got %+v", got)
	}
}

func TestScatterAndQualifiedCount(t *testing.T) {
	b := New()
	b.RecordScatter(0.1, 120)
	b.RecordScatter(0.2, 140)

	got := b.ScatterSnapshot()
	if len(got) != 2 {
		t.Fatalf("scatter snapshot len = %d, want 2", len(got))
	}
	if got[0].Deformability != 0.1 || got[1].Area != 140 {
		t.Fatalf("unexpected scatter contents: %+v", got)
	}
	if b.Snapshot().QualifiedCount != 2 {
		t.Fatalf("qualifiedCount = %d, want 2", b.Snapshot().QualifiedCount)
	}

	b.ClearScatter()
	if len(b.ScatterSnapshot()) != 0 {
		t.Fatalf("expected scatter buffer to be empty after ClearScatter")
	}
}

func TestUpdatedFlag(t *testing.T) {
	b := New()
	if b.Updated() {
		t.Fatalf("updated should start false")
	}
	b.RecordProcessingTime(10)
	if !b.Updated() {
		t.Fatalf("expected updated to be raised after a write")
	}
	if b.Updated() {
		t.Fatalf("Updated() should clear the flag on read")
	}
}

func TestGaugesSnapshot(t *testing.T) {
	b := New()
	b.RecordSourceTelemetry(4987.5, 1.2e9, 150.0)
	b.SetQueueDepths(3, 1)
	b.RecordSaveDuration(42 * time.Millisecond)

	g := b.Snapshot()
	if g.FPS != 4987.5 {
		t.Fatalf("fps = %v, want 4987.5", g.FPS)
	}
	if g.ProcessingQueueLen != 3 || g.DisplayQueueLen != 1 {
		t.Fatalf("unexpected queue depths: %+v", g)
	}
	if g.LastSaveDurationMs != 42 {
		t.Fatalf("lastSaveDurationMs = %d, want 42", g.LastSaveDurationMs)
	}
}
