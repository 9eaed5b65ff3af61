package processor

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/config"
)

// contourInfo is a discovered contour's plain-Go summary, kept past the
// gocv.PointsVector's lifetime (contours.Close() releases the C++-side
// storage; ToPoints() copies out before that happens).
type contourInfo struct {
	points  []image.Point
	area    float64
	isInner bool
}

// filterContours runs the filter stage: contour extraction already
// happened (contours/hierarchy are FindContoursWithParams's output); this
// applies the noise floor, inner-contour-count check, primary-contour
// selection, border check, metrics, and area-range check.
func filterContours(contours gocv.PointsVector, hierarchy gocv.Mat, roiRect image.Rectangle, cfg config.ImageProcessing) Verdict {
	n := contours.Size()
	hdata, err := hierarchy.DataPtrInt32()
	if err != nil || len(hdata) < n*4 {
		return Verdict{}
	}

	var kept []contourInfo
	innerCount := 0
	for i := 0; i < n; i++ {
		pv := contours.At(i)
		area := gocv.ContourArea(pv)
		if area < minContourArea {
			continue // step 4: discard area < 10px noise
		}
		parent := hdata[i*4+3]
		isInner := parent != -1
		if isInner {
			innerCount++
		}
		kept = append(kept, contourInfo{points: pv.ToPoints(), area: area, isInner: isInner})
	}

	v := Verdict{InnerContourCount: innerCount}

	if cfg.Filters.RequireSingleInnerContour && innerCount != 1 {
		return v
	}
	v.HasSingleInnerContour = innerCount == 1

	primary, found := choosePrimary(kept, innerCount)
	if !found {
		return v
	}

	if cfg.Filters.EnableBorderCheck {
		v.TouchesBorder = touchesROIBorder(primary.points, roiRect, borderMarginPx)
		if v.TouchesBorder {
			return v
		}
	}

	area, deformability, areaRatio := primaryMetrics(primary)
	v.Area = area
	v.Deformability = deformability
	v.AreaRatio = areaRatio

	v.InRange = true
	if cfg.Filters.EnableAreaRangeCheck {
		v.InRange = area >= float64(cfg.AreaThresholdMin) && area <= float64(cfg.AreaThresholdMax)
		if !v.InRange {
			return v
		}
	}

	v.IsValid = true
	return v
}

// choosePrimary returns the inner contour when exactly one qualifies
// (innerCount == 1), else falls back to the largest outer contour — two or
// more inner contours are ambiguous, same as having none. Ties among outer
// contours resolve by largest area, first-seen order.
func choosePrimary(kept []contourInfo, innerCount int) (contourInfo, bool) {
	if innerCount == 1 {
		for _, c := range kept {
			if c.isInner {
				return c, true
			}
		}
	}
	var best contourInfo
	found := false
	for _, c := range kept {
		if c.isInner {
			continue
		}
		if !found || c.area > best.area {
			best, found = c, true
		}
	}
	return best, found
}

// touchesROIBorder reports whether any contour point lies within margin
// pixels of the ROI's edge.
func touchesROIBorder(pts []image.Point, roi image.Rectangle, margin int) bool {
	for _, pt := range pts {
		if pt.X-roi.Min.X <= margin || roi.Max.X-pt.X <= margin ||
			pt.Y-roi.Min.Y <= margin || roi.Max.Y-pt.Y <= margin {
			return true
		}
	}
	return false
}

// primaryMetrics computes area, deformability, and area_ratio for the
// primary contour.
func primaryMetrics(c contourInfo) (area, deformability, areaRatio float64) {
	pv := gocv.NewPointVectorFromPoints(c.points)
	defer pv.Close()

	area = c.area // m00 of image moments == contour area for a simple closed polygon
	perimeter := gocv.ArcLength(pv, true)
	circularity := 0.0
	if perimeter > 0 {
		circularity = math.Sqrt(4*math.Pi*area) / perimeter
	}
	deformability = 1 - circularity

	hull := gocv.NewMat()
	defer hull.Close()
	gocv.ConvexHull(pv, &hull, false, true)
	hullPoints := gocv.NewPointVectorFromMat(hull)
	defer hullPoints.Close()
	hullArea := gocv.ContourArea(hullPoints)

	areaRatio = 0.0
	if area > 0 {
		areaRatio = hullArea / area
	}
	return area, deformability, areaRatio
}
