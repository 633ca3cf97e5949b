package processor

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Config holds the runtime-tunable processing options.
// The worker reads one snapshot per frame.
type Config struct {
	// FrameSkipCount analyzes every Nth observed frame (>= 1).
	FrameSkipCount int `json:"frameSkipCount" yaml:"frameSkipCount"`

	// BlinkThreshold is the open/closed eye probability cut (0..1).
	// A probability above it is open.
	BlinkThreshold float64 `json:"blinkThreshold" yaml:"blinkThreshold"`

	// === Capture ===
	CaptureOnBlink bool    `json:"captureOnBlink" yaml:"captureOnBlink"` // Attach a still to blink events
	CropToFace     bool    `json:"cropToFace" yaml:"cropToFace"`         // Crop the still to the padded face box
	ImageQuality   float64 `json:"imageQuality" yaml:"imageQuality"`     // JPEG quality 0..1
	MaxImageWidth  int     `json:"maxImageWidth" yaml:"maxImageWidth"`   // Pixels, 0 disables downscaling
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		FrameSkipCount: 3,
		BlinkThreshold: 0.3,
		CaptureOnBlink: false,
		CropToFace:     true,
		ImageQuality:   0.7,
		MaxImageWidth:  480,
	}
}

// Validate reports every out-of-range field.
func (c Config) Validate() error {
	var errs []error
	if c.FrameSkipCount < 1 {
		errs = append(errs, fmt.Errorf("frameSkipCount %d must be >= 1", c.FrameSkipCount))
	}
	if c.BlinkThreshold < 0 || c.BlinkThreshold > 1 {
		errs = append(errs, fmt.Errorf("blinkThreshold %v must be in [0, 1]", c.BlinkThreshold))
	}
	if c.ImageQuality < 0 || c.ImageQuality > 1 {
		errs = append(errs, fmt.Errorf("imageQuality %v must be in [0, 1]", c.ImageQuality))
	}
	if c.MaxImageWidth < 0 {
		errs = append(errs, fmt.Errorf("maxImageWidth %d must be >= 0", c.MaxImageWidth))
	}
	return errors.Join(errs...)
}

// FromMap builds a Config from loosely typed options, as decoded from JSON or
// handed over by a plugin host. Missing, unknown, out-of-type and
// out-of-range entries leave the default in place.
func FromMap(params map[string]any) Config {
	return ApplyMap(DefaultConfig(), params)
}

// ApplyMap overlays params on base with the same rules as FromMap.
func ApplyMap(base Config, params map[string]any) Config {
	cfg := base
	for key, value := range params {
		switch key {
		case "frameSkipCount":
			if v, ok := toInt(value); ok && v >= 1 {
				cfg.FrameSkipCount = v
			}
		case "blinkThreshold":
			if v, ok := toFloat(value); ok && v >= 0 && v <= 1 {
				cfg.BlinkThreshold = v
			}
		case "captureOnBlink":
			if v, ok := value.(bool); ok {
				cfg.CaptureOnBlink = v
			}
		case "cropToFace":
			if v, ok := value.(bool); ok {
				cfg.CropToFace = v
			}
		case "imageQuality":
			if v, ok := toFloat(value); ok && v >= 0 && v <= 1 {
				cfg.ImageQuality = v
			}
		case "maxImageWidth":
			if v, ok := toInt(value); ok && v >= 0 {
				cfg.MaxImageWidth = v
			}
		}
	}
	return cfg
}

// Map returns the config keyed by option name.
func (c Config) Map() map[string]any {
	return map[string]any{
		"frameSkipCount": c.FrameSkipCount,
		"blinkThreshold": c.BlinkThreshold,
		"captureOnBlink": c.CaptureOnBlink,
		"cropToFace":     c.CropToFace,
		"imageQuality":   c.ImageQuality,
		"maxImageWidth":  c.MaxImageWidth,
	}
}

// Helper functions for type conversion

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int32:
		return int(val), true
	case int64:
		return int(val), true
	case uint:
		return int(val), true
	case uint32:
		return int(val), true
	case uint64:
		return int(val), true
	case float32:
		return int(val), true
	case float64:
		return int(val), true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i), true
		}
		if f, err := val.Float64(); err == nil {
			return int(f), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}
