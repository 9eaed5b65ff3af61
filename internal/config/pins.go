package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PinsConfig selects the digital output line the trigger emitter (C5)
// drives, plus the image-directory / mock-source options required before
// start() in mock mode. Kept as a separate YAML file (sensors.yaml /
// storage.yaml idiom) since config.json's shape must not absorb
// hardware-pin concerns.
type PinsConfig struct {
	Trigger struct {
		LineName  string `yaml:"line_name"`
		PulseUs   int    `yaml:"pulse_us"`
	} `yaml:"trigger"`
	Source struct {
		ImageDir string `yaml:"image_dir"`
		Simulate bool   `yaml:"simulate"`
	} `yaml:"source"`
}

// DefaultPinsConfig returns sane, documented zero-config defaults.
func DefaultPinsConfig() PinsConfig {
	var p PinsConfig
	p.Trigger.LineName = "GPIO17"
	p.Trigger.PulseUs = 1
	p.Source.Simulate = true
	return p
}

// LoadPinsConfig reads and parses pins.yaml. If the file does not exist,
// the defaults are returned without writing anything (pins.yaml, unlike
// config.json, is not spec-mandated to self-heal on disk).
func LoadPinsConfig(path string) (PinsConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultPinsConfig(), nil
	}
	if err != nil {
		return PinsConfig{}, fmt.Errorf("pins config: read %s: %w", path, err)
	}
	cfg := DefaultPinsConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return PinsConfig{}, fmt.Errorf("pins config: parse %s: %w", path, err)
	}
	return cfg, nil
}
