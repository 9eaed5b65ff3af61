package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/frame"
)

// SetParam applies a named parameter.
func (e *Engine) SetParam(key, val string) error {
	switch {
	case key == "image_dir":
		e.imageDirMu.Lock()
		e.imageDir = val
		e.imageDirMu.Unlock()
		return nil

	case key == "roi":
		r, err := parseRect(val)
		if err != nil {
			e.registry.NotifyError(CodeConfig, err.Error())
			return fmt.Errorf("%w: roi: %v", ErrInvalidParamValue, err)
		}
		e.roiMu.Lock()
		if e.env.Width > 0 && e.env.Height > 0 {
			r = r.Clip(e.env.Width, e.env.Height)
		}
		e.roi = r
		e.roiMu.Unlock()
		return nil

	case key == "save_directory":
		e.cfgMu.Lock()
		e.cfg.SaveDirectory = e.resolveSaveDirectory(val)
		e.cfgMu.Unlock()
		return nil

	case strings.HasPrefix(key, "processing."):
		return e.setProcessingParam(strings.TrimPrefix(key, "processing."), val)

	default:
		e.registry.NotifyError(CodeConfig, fmt.Sprintf("unknown set_param key %q", key))
		return fmt.Errorf("%w: %q", ErrUnknownParam, key)
	}
}

// setProcessingParam applies a single dotted field of the processing
// config.
func (e *Engine) setProcessingParam(field, val string) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	ip := &e.cfg.ImageProcessing

	var err error
	switch field {
	case "gaussian_blur_size":
		ip.GaussianBlurSize, err = parseInt(val)
	case "bg_subtract_threshold":
		ip.BgSubtractThreshold, err = parseInt(val)
	case "morph_kernel_size":
		ip.MorphKernelSize, err = parseInt(val)
	case "morph_iterations":
		ip.MorphIterations, err = parseInt(val)
	case "area_threshold_min":
		ip.AreaThresholdMin, err = parseInt(val)
	case "area_threshold_max":
		ip.AreaThresholdMax, err = parseInt(val)
	case "filters.enable_border_check":
		ip.Filters.EnableBorderCheck, err = parseBool(val)
	case "filters.enable_multiple_contours_check":
		ip.Filters.EnableMultipleContoursCheck, err = parseBool(val)
	case "filters.enable_area_range_check":
		ip.Filters.EnableAreaRangeCheck, err = parseBool(val)
	case "filters.require_single_inner_contour":
		ip.Filters.RequireSingleInnerContour, err = parseBool(val)
	case "contrast_enhancement.enable_contrast":
		ip.ContrastEnhancement.Enable, err = parseBool(val)
	case "contrast_enhancement.alpha":
		ip.ContrastEnhancement.Alpha, err = strconv.ParseFloat(val, 64)
	case "contrast_enhancement.beta":
		ip.ContrastEnhancement.Beta, err = parseInt(val)
	default:
		e.registry.NotifyError(CodeConfig, fmt.Sprintf("unknown processing.* key %q", field))
		return fmt.Errorf("%w: processing.%s", ErrUnknownParam, field)
	}
	if err != nil {
		e.registry.NotifyError(CodeConfig, fmt.Sprintf("invalid value for processing.%s: %v", field, err))
		return fmt.Errorf("%w: processing.%s: %v", ErrInvalidParamValue, field, err)
	}
	return nil
}

func parseInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err
}

func parseBool(s string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(s))
}

// parseRect parses "x,y,w,h" decimal integers.
func parseRect(s string) (frame.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return frame.Rect{}, fmt.Errorf("roi: expected \"x,y,w,h\", got %q", s)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		n, err := parseInt(p)
		if err != nil {
			return frame.Rect{}, fmt.Errorf("roi: field %d: %w", i, err)
		}
		vals[i] = n
	}
	return frame.Rect{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}, nil
}
