// Package config loads the blinkwatch service configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-blinkwatch/pkg/notify"
	"github.com/teslashibe/go-blinkwatch/pkg/processor"
)

// Defaults.
const (
	DefaultPort       = 8080
	DefaultModelPath  = "models/face_detection_yunet.onnx"
	DefaultEyeCascade = "models/haarcascade_eye_tree_eyeglasses.xml"
)

// Detector kinds.
const (
	DetectorYuNet  = "yunet"
	DetectorRemote = "remote"
)

// Source kinds.
const (
	SourceNone   = "none"
	SourceFFmpeg = "ffmpeg"
	SourceCamera = "camera"
	SourceWebRTC = "webrtc"
)

// Config is the service configuration.
type Config struct {
	LogLevel  string           `yaml:"logLevel"`
	Debug     DebugConfig      `yaml:"debug"`
	Server    ServerConfig     `yaml:"server"`
	Processor processor.Config `yaml:"processor"`
	Detector  DetectorConfig   `yaml:"detector"`
	Source    SourceConfig     `yaml:"source"`
	Sinks     SinksConfig      `yaml:"sinks"`
}

// DebugConfig switches verbose per-frame logging.
type DebugConfig struct {
	Enabled bool `yaml:"enabled"`
	Frames  bool `yaml:"frames"`
}

// ServerConfig configures the HTTP/WebSocket server.
type ServerConfig struct {
	Port   int  `yaml:"port"`
	Ingest bool `yaml:"ingest"` // accept frames on /ws/ingest
}

// DetectorConfig selects the face detector.
type DetectorConfig struct {
	Kind string `yaml:"kind"`

	// yunet
	ModelPath      string  `yaml:"modelPath"`
	EyeCascadePath string  `yaml:"eyeCascadePath"`
	Confidence     float64 `yaml:"confidence"`
	MinFaceSize    float64 `yaml:"minFaceSize"`

	// remote
	Socket  string        `yaml:"socket"`
	Timeout time.Duration `yaml:"timeout"`
}

// SourceConfig selects where frames come from. Fields apply to the kinds
// noted beside them.
type SourceConfig struct {
	Kind string `yaml:"kind"`

	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	Input       string  `yaml:"input"`       // ffmpeg
	InputFormat string  `yaml:"inputFormat"` // ffmpeg
	FPS         float64 `yaml:"fps"`         // ffmpeg
	Realtime    bool    `yaml:"realtime"`    // ffmpeg
	Loop        bool    `yaml:"loop"`        // ffmpeg

	Device   string `yaml:"device"`   // camera
	Rotation int    `yaml:"rotation"` // camera

	SignallingURL string `yaml:"signallingUrl"` // webrtc
	Producer      string `yaml:"producer"`      // webrtc
}

// SinksConfig enables optional event sinks. Nil sections are disabled.
type SinksConfig struct {
	MQTT     *notify.MQTTConfig    `yaml:"mqtt,omitempty"`
	Webhook  *notify.WebhookConfig `yaml:"webhook,omitempty"`
	Postgres *PostgresConfig       `yaml:"postgres,omitempty"`
}

// PostgresConfig enables the blink event log.
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel:  "info",
		Server:    ServerConfig{Port: DefaultPort, Ingest: true},
		Processor: processor.DefaultConfig(),
		Detector: DetectorConfig{
			Kind:           DetectorYuNet,
			ModelPath:      DefaultModelPath,
			EyeCascadePath: DefaultEyeCascade,
			Confidence:     0.6,
			MinFaceSize:    0.1,
		},
		Source: SourceConfig{Kind: SourceNone, Width: 640, Height: 480},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("BLINKWATCH_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BLINKWATCH_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("BLINKWATCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("YUNET_MODEL"); v != "" {
		c.Detector.ModelPath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		if c.Sinks.Postgres == nil {
			c.Sinks.Postgres = &PostgresConfig{}
		}
		c.Sinks.Postgres.URL = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		if c.Sinks.MQTT == nil {
			c.Sinks.MQTT = &notify.MQTTConfig{}
		}
		c.Sinks.MQTT.Broker = v
	}
	if v := os.Getenv("BLINKWATCH_WEBHOOK_URL"); v != "" {
		if c.Sinks.Webhook == nil {
			c.Sinks.Webhook = &notify.WebhookConfig{}
		}
		c.Sinks.Webhook.URL = v
	}
	return nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if err := c.Processor.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("processor: %w", err))
	}

	switch c.Detector.Kind {
	case DetectorYuNet:
		if c.Detector.ModelPath == "" {
			errs = append(errs, errors.New("detector.modelPath required for yunet"))
		}
	case DetectorRemote:
		if c.Detector.Socket == "" {
			errs = append(errs, errors.New("detector.socket required for remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("detector.kind %q unknown", c.Detector.Kind))
	}

	switch c.Source.Kind {
	case SourceNone, "":
	case SourceFFmpeg:
		if c.Source.Input == "" {
			errs = append(errs, errors.New("source.input required for ffmpeg"))
		}
	case SourceCamera:
	case SourceWebRTC:
		if c.Source.SignallingURL == "" {
			errs = append(errs, errors.New("source.signallingUrl required for webrtc"))
		}
	default:
		errs = append(errs, fmt.Errorf("source.kind %q unknown", c.Source.Kind))
	}

	if m := c.Sinks.MQTT; m != nil && m.Broker == "" {
		errs = append(errs, errors.New("sinks.mqtt.broker required"))
	}
	if w := c.Sinks.Webhook; w != nil && w.URL == "" {
		errs = append(errs, errors.New("sinks.webhook.url required"))
	}
	if p := c.Sinks.Postgres; p != nil && p.URL == "" {
		errs = append(errs, errors.New("sinks.postgres.url required"))
	}
	return errors.Join(errs...)
}

// YAML renders the configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
