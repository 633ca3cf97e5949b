// Package debug provides global debug logging flags
package debug

import "github.com/teslashibe/go-blinkwatch/internal/log"

// Enabled controls whether debug logging is active
var Enabled bool

// Frames controls whether per-frame logs are shown (drops, eye probabilities).
// Use --debug-frames to enable these very verbose logs
var Frames bool

// Log logs msg at debug level only if debug mode is enabled
func Log(msg string, args ...any) {
	if Enabled {
		log.Debug(msg, args...)
	}
}

// FrameLog logs msg at debug level only if per-frame debugging is enabled
func FrameLog(msg string, args ...any) {
	if Frames {
		log.Debug(msg, args...)
	}
}

// Set enables debug output. frames implies enabled.
func Set(enabled, frames bool) {
	Enabled = enabled || frames
	Frames = frames
}
