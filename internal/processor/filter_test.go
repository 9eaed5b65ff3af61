package processor

import (
	"image"
	"testing"
)

func TestChoosePrimaryPrefersInnerContour(t *testing.T) {
	kept := []contourInfo{
		{area: 500, isInner: false},
		{area: 50, isInner: true},
		{area: 900, isInner: false},
	}
	got, found := choosePrimary(kept, 1)
	if !found {
		t.Fatalf("expected a primary contour")
	}
	if !got.isInner || got.area != 50 {
		t.Fatalf("expected the inner contour to win regardless of area, got %+v", got)
	}
}

func TestChoosePrimaryFallsBackToLargestOuterWhenTwoInnerContours(t *testing.T) {
	kept := []contourInfo{
		{area: 500, isInner: false},
		{area: 50, isInner: true},
		{area: 900, isInner: false},
		{area: 70, isInner: true}, // second inner contour: ambiguous, same as none
	}
	got, found := choosePrimary(kept, 2)
	if !found {
		t.Fatalf("expected a primary contour")
	}
	if got.isInner || got.area != 900 {
		t.Fatalf("expected the largest outer contour when innerCount != 1, got %+v", got)
	}
}

func TestChoosePrimaryLargestOuterFirstSeenTieBreak(t *testing.T) {
	kept := []contourInfo{
		{area: 100, isInner: false},
		{area: 300, isInner: false, points: []image.Point{{X: 1, Y: 0}}},
		{area: 300, isInner: false, points: []image.Point{{X: 2, Y: 0}}}, // tie with the one above: first-seen wins
	}
	got, found := choosePrimary(kept, 0)
	if !found || got.area != 300 || len(got.points) != 1 || got.points[0].X != 1 {
		t.Fatalf("expected the first 300-area contour, got %+v", got)
	}
}

func TestChoosePrimaryEmpty(t *testing.T) {
	_, found := choosePrimary(nil, 0)
	if found {
		t.Fatalf("expected no primary contour for an empty set")
	}
}

func TestTouchesROIBorder(t *testing.T) {
	roi := image.Rect(10, 10, 110, 110)

	center := []image.Point{{X: 60, Y: 60}}
	if touchesROIBorder(center, roi, 2) {
		t.Fatalf("a centered point should not touch the border")
	}

	nearLeftEdge := []image.Point{{X: 11, Y: 60}}
	if !touchesROIBorder(nearLeftEdge, roi, 2) {
		t.Fatalf("a point 1px from the left edge should touch within a 2px margin")
	}

	nearRightEdge := []image.Point{{X: 109, Y: 60}}
	if !touchesROIBorder(nearRightEdge, roi, 2) {
		t.Fatalf("a point 1px from the right edge should touch within a 2px margin")
	}

	justOutsideMargin := []image.Point{{X: 13, Y: 60}}
	if touchesROIBorder(justOutsideMargin, roi, 2) {
		t.Fatalf("a point 3px inside should not touch within a 2px margin")
	}
}
