package main

import (
	"fmt"

	"github.com/teslashibe/go-blinkwatch/internal/config"
	"github.com/teslashibe/go-blinkwatch/pkg/detection"
	"github.com/teslashibe/go-blinkwatch/pkg/face"
	"github.com/teslashibe/go-blinkwatch/pkg/remote"
	"github.com/teslashibe/go-blinkwatch/pkg/video"
)

func yunetConfig(c config.DetectorConfig) detection.Config {
	dc := detection.DefaultConfig()
	dc.ModelPath = c.ModelPath
	dc.EyeCascadePath = c.EyeCascadePath
	if c.Confidence > 0 {
		dc.ConfidenceThresh = c.Confidence
	}
	if c.MinFaceSize > 0 {
		dc.MinFaceSize = c.MinFaceSize
	}
	return dc
}

// newDetector builds the configured face detector.
func newDetector(c config.DetectorConfig) (face.Detector, error) {
	switch c.Kind {
	case config.DetectorRemote:
		d := remote.NewDetector(c.Socket)
		d.Timeout = c.Timeout
		return d, nil
	case config.DetectorYuNet:
		d, err := detection.NewYuNet(yunetConfig(c))
		if err != nil {
			return nil, fmt.Errorf("failed to load yunet: %w", err)
		}
		return d, nil
	}
	return nil, fmt.Errorf("unknown detector kind %q", c.Kind)
}

// newSource builds the configured frame source, nil for kind "none".
func newSource(c config.SourceConfig) (video.Source, error) {
	switch c.Kind {
	case config.SourceNone, "":
		return nil, nil
	case config.SourceFFmpeg:
		return video.NewFFmpegSource(video.FFmpegOptions{
			Input:       c.Input,
			InputFormat: c.InputFormat,
			Width:       c.Width,
			Height:      c.Height,
			FPS:         c.FPS,
			Realtime:    c.Realtime,
			Loop:        c.Loop,
		})
	case config.SourceCamera:
		return video.NewCameraSource(video.CameraOptions{
			Device:   c.Device,
			Width:    c.Width,
			Height:   c.Height,
			Rotation: c.Rotation,
		})
	case config.SourceWebRTC:
		return video.NewWebRTCSource(video.WebRTCOptions{
			SignallingURL: c.SignallingURL,
			Producer:      c.Producer,
			Width:         c.Width,
			Height:        c.Height,
		})
	}
	return nil, fmt.Errorf("unknown source kind %q", c.Kind)
}
