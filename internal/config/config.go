// Package config loads and persists the run configuration surfaces: config.json
// and the GPIO/line-selection companion file this implementation adds, pins.yaml.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Filters toggles which checks the filter state machine applies to a contour.
type Filters struct {
	EnableBorderCheck            bool `json:"enable_border_check"`
	EnableMultipleContoursCheck  bool `json:"enable_multiple_contours_check"`
	EnableAreaRangeCheck         bool `json:"enable_area_range_check"`
	RequireSingleInnerContour    bool `json:"require_single_inner_contour"`
}

// ContrastEnhancement configures the optional pixelwise linear transform
// applied before background subtraction.
type ContrastEnhancement struct {
	Enable bool    `json:"enable_contrast"`
	Alpha  float64 `json:"alpha"`
	Beta   int     `json:"beta"`
}

// ImageProcessing is the processing-config subtree of config.json; it maps
// 1:1 onto the "Processing config" snapshot of and is what
// gets written out verbatim as processing_config.json on every batch
// flush.
type ImageProcessing struct {
	GaussianBlurSize   int                 `json:"gaussian_blur_size"`
	BgSubtractThreshold int                `json:"bg_subtract_threshold"`
	MorphKernelSize    int                 `json:"morph_kernel_size"`
	MorphIterations    int                 `json:"morph_iterations"`
	AreaThresholdMin   int                 `json:"area_threshold_min"`
	AreaThresholdMax   int                 `json:"area_threshold_max"`
	Filters            Filters             `json:"filters"`
	ContrastEnhancement ContrastEnhancement `json:"contrast_enhancement"`
}

// Config is the full shape of config.json.
type Config struct {
	SaveDirectory      string          `json:"save_directory"`
	Condition          string          `json:"condition"`
	BufferThreshold    int             `json:"buffer_threshold"`
	TargetFPS          int             `json:"target_fps"`
	ScatterPlotEnabled bool            `json:"scatter_plot_enabled"`
	ImageProcessing    ImageProcessing `json:"image_processing"`
}

// Defaults returns the full-shape default configuration, including the
// processing-config defaults.
func Defaults() Config {
	return Config{
		SaveDirectory:      "session",
		Condition:          "",
		BufferThreshold:    1000, // open question: honor config, default 1000
		TargetFPS:          5000,
		ScatterPlotEnabled: true,
		ImageProcessing: ImageProcessing{
			GaussianBlurSize:    5,
			BgSubtractThreshold: 30,
			MorphKernelSize:     3,
			MorphIterations:     1,
			AreaThresholdMin:    50,
			AreaThresholdMax:    5000,
			Filters: Filters{
				EnableBorderCheck:           true,
				EnableMultipleContoursCheck: true,
				EnableAreaRangeCheck:        true,
				RequireSingleInnerContour:   true,
			},
			ContrastEnhancement: ContrastEnhancement{
				Enable: false,
				Alpha:  1.0,
				Beta:   0,
			},
		},
	}
}

// applyDefaults replaces an explicit zero with the default for the fields
// where zero is never a usable setting: save_directory, buffer_threshold,
// target_fps, gaussian_blur_size, bg_subtract_threshold, morph_kernel_size,
// an all-zero area range, and contrast alpha. Fields absent from the file
// never reach here as zero: Load unmarshals over Defaults(), so they
// already hold their defaults. It reports whether anything was replaced.
func applyDefaults(cfg *Config) bool {
	d := Defaults()
	changed := false

	if cfg.SaveDirectory == "" {
		cfg.SaveDirectory, changed = d.SaveDirectory, true
	}
	if cfg.BufferThreshold == 0 {
		cfg.BufferThreshold, changed = d.BufferThreshold, true
	}
	if cfg.TargetFPS == 0 {
		cfg.TargetFPS, changed = d.TargetFPS, true
	}
	ip := &cfg.ImageProcessing
	dp := d.ImageProcessing
	if ip.GaussianBlurSize == 0 {
		ip.GaussianBlurSize, changed = dp.GaussianBlurSize, true
	}
	if ip.BgSubtractThreshold == 0 {
		ip.BgSubtractThreshold, changed = dp.BgSubtractThreshold, true
	}
	if ip.MorphKernelSize == 0 {
		ip.MorphKernelSize, changed = dp.MorphKernelSize, true
	}
	if ip.AreaThresholdMin == 0 && ip.AreaThresholdMax == 0 {
		ip.AreaThresholdMin, ip.AreaThresholdMax, changed = dp.AreaThresholdMin, dp.AreaThresholdMax, true
	}
	if ip.ContrastEnhancement.Alpha == 0 {
		ip.ContrastEnhancement.Alpha, changed = dp.ContrastEnhancement.Alpha, true
	}

	return changed
}

// Load reads path over Defaults(), so every field missing from the file
// keeps its default, and rewrites the file whenever the resulting full
// shape differs from what was read. If path does not exist, Defaults() is
// written and returned.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Defaults()
		if werr := Save(path, cfg); werr != nil {
			return cfg, werr
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	filled := applyDefaults(&cfg)
	full, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return cfg, fmt.Errorf("config: marshal: %w", err)
	}
	if filled || !bytes.Equal(full, data) {
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
