package processor

import (
	"encoding/json"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	want := Config{
		FrameSkipCount: 3,
		BlinkThreshold: 0.3,
		CaptureOnBlink: false,
		CropToFace:     true,
		ImageQuality:   0.7,
		MaxImageWidth:  480,
	}
	if cfg != want {
		t.Errorf("DefaultConfig: got %+v, want %+v", cfg, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero skip", func(c *Config) { c.FrameSkipCount = 0 }, true},
		{"threshold above 1", func(c *Config) { c.BlinkThreshold = 1.5 }, true},
		{"negative quality", func(c *Config) { c.ImageQuality = -0.1 }, true},
		{"negative width", func(c *Config) { c.MaxImageWidth = -1 }, true},
		{"width disabled", func(c *Config) { c.MaxImageWidth = 0 }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate: got %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestFromMap(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		check  func(t *testing.T, c Config)
	}{
		{
			name:   "empty map keeps defaults",
			params: map[string]any{},
			check: func(t *testing.T, c Config) {
				if c != DefaultConfig() {
					t.Errorf("got %+v, want defaults", c)
				}
			},
		},
		{
			name: "typed values applied",
			params: map[string]any{
				"frameSkipCount": 5,
				"blinkThreshold": 0.4,
				"captureOnBlink": true,
				"cropToFace":     false,
				"imageQuality":   float32(0.5),
				"maxImageWidth":  int64(0),
			},
			check: func(t *testing.T, c Config) {
				if c.FrameSkipCount != 5 || c.BlinkThreshold != 0.4 || !c.CaptureOnBlink || c.CropToFace {
					t.Errorf("got %+v", c)
				}
				if c.ImageQuality != 0.5 || c.MaxImageWidth != 0 {
					t.Errorf("quality/width: got %v/%d, want 0.5/0", c.ImageQuality, c.MaxImageWidth)
				}
			},
		},
		{
			name: "out-of-type values ignored",
			params: map[string]any{
				"frameSkipCount": "7",
				"blinkThreshold": true,
				"captureOnBlink": "yes",
				"cropToFace":     1,
			},
			check: func(t *testing.T, c Config) {
				if c != DefaultConfig() {
					t.Errorf("got %+v, want defaults", c)
				}
			},
		},
		{
			name: "out-of-range values ignored",
			params: map[string]any{
				"frameSkipCount": 0,
				"blinkThreshold": 2.0,
				"imageQuality":   -1,
				"maxImageWidth":  -20,
			},
			check: func(t *testing.T, c Config) {
				if c != DefaultConfig() {
					t.Errorf("got %+v, want defaults", c)
				}
			},
		},
		{
			name: "json numbers and float to int truncation",
			params: map[string]any{
				"frameSkipCount": json.Number("2"),
				"maxImageWidth":  320.9,
				"blinkThreshold": json.Number("0.25"),
			},
			check: func(t *testing.T, c Config) {
				if c.FrameSkipCount != 2 || c.MaxImageWidth != 320 || c.BlinkThreshold != 0.25 {
					t.Errorf("got %+v", c)
				}
			},
		},
		{
			name: "unknown keys ignored",
			params: map[string]any{
				"enableLandmarks": true,
			},
			check: func(t *testing.T, c Config) {
				if c != DefaultConfig() {
					t.Errorf("got %+v, want defaults", c)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, FromMap(tc.params))
		})
	}
}

func TestApplyMap_KeepsBase(t *testing.T) {
	base := DefaultConfig()
	base.FrameSkipCount = 10
	got := ApplyMap(base, map[string]any{"captureOnBlink": true})
	if got.FrameSkipCount != 10 || !got.CaptureOnBlink {
		t.Errorf("ApplyMap: got %+v", got)
	}
}

func TestConfig_MapRoundTrip(t *testing.T) {
	cfg := Config{FrameSkipCount: 2, BlinkThreshold: 0.6, CaptureOnBlink: true, ImageQuality: 0.9, MaxImageWidth: 100}
	if got := FromMap(cfg.Map()); got != cfg {
		t.Errorf("FromMap(Map()): got %+v, want %+v", got, cfg)
	}
}
