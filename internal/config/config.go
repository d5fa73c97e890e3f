// Package config loads moodcam settings: defaults, then an optional YAML
// file, then MOODCAM_* environment variables. Command-line flags are applied
// last by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"moodcam/internal/pipeline"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config represents the complete moodcam configuration
type Config struct {
	Camera     CameraConfig     `yaml:"camera"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Log        LogConfig        `yaml:"log"`
	Foreground ForegroundConfig `yaml:"foreground"`
	Preview    PreviewConfig    `yaml:"preview"`
	Auth       AuthConfig       `yaml:"auth"`
}

// CameraConfig selects the frame source
type CameraConfig struct {
	Index        int           `yaml:"index"`         // V4L2 index, used when Device is empty
	Device       string        `yaml:"device"`        // Device path or rtsp/http URL
	Width        int           `yaml:"width"`         // Requested capture width
	Height       int           `yaml:"height"`        // Requested capture height
	FPS          int           `yaml:"fps"`           // Capture rate, also the replay pace
	ProbeTimeout time.Duration `yaml:"probe_timeout"` // Time allowed for the first frame
	ReplayDir    string        `yaml:"replay_dir"`    // Replay images from a directory instead
}

// AnalysisConfig controls inference scheduling
type AnalysisConfig struct {
	Mode     string        `yaml:"mode"`     // scheduled, continuous, disabled
	Interval time.Duration `yaml:"interval"` // Minimum gap between analyses
	Width    int           `yaml:"width"`    // Inference resolution
	Height   int           `yaml:"height"`
	QuitKey  string        `yaml:"quit_key"`
}

// ClassifierConfig points at the emotion service
type ClassifierConfig struct {
	HTTPEndpoint    string        `yaml:"http_endpoint"`
	GRPCEndpoint    string        `yaml:"grpc_endpoint"` // Preferred when set; HTTP becomes the fallback
	DetectorBackend string        `yaml:"detector_backend"`
	Timeout         time.Duration `yaml:"timeout"`
}

// LogConfig selects where detections are recorded
type LogConfig struct {
	DSN        string `yaml:"dsn"`         // SQLite path or postgres:// URL
	JournalDir string `yaml:"journal_dir"` // Also write a CBOR journal when set
}

// ForegroundConfig tunes the window lookup
type ForegroundConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// PreviewConfig configures the preview HTTP server
type PreviewConfig struct {
	Addr    string `yaml:"addr"` // Empty disables the server
	Quality int    `yaml:"quality"`
}

// AuthConfig protects the preview server
type AuthConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Index:        0,
			Width:        1280,
			Height:       720,
			FPS:          30,
			ProbeTimeout: 10 * time.Second,
		},
		Analysis: AnalysisConfig{
			Mode:     string(pipeline.AnalysisModeScheduled),
			Interval: time.Second,
			Width:    640,
			Height:   480,
			QuitKey:  "q",
		},
		Classifier: ClassifierConfig{
			HTTPEndpoint:    "http://localhost:5005",
			DetectorBackend: "opencv",
			Timeout:         10 * time.Second,
		},
		Log: LogConfig{
			DSN: "emotion_logs.db",
		},
		Foreground: ForegroundConfig{
			Timeout: 500 * time.Millisecond,
		},
		Preview: PreviewConfig{
			Addr:    "127.0.0.1:8090",
			Quality: 80,
		},
		Auth: AuthConfig{
			Username:    "admin",
			TokenExpiry: 24 * time.Hour,
		},
	}
}

// Load reads defaults, then the YAML file at path (if not empty), then the
// environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from MOODCAM_* variables
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	integer("MOODCAM_CAMERA_INDEX", &c.Camera.Index)
	str("MOODCAM_CAMERA_DEVICE", &c.Camera.Device)
	integer("MOODCAM_CAMERA_FPS", &c.Camera.FPS)
	str("MOODCAM_REPLAY_DIR", &c.Camera.ReplayDir)

	str("MOODCAM_ANALYSIS_MODE", &c.Analysis.Mode)
	duration("MOODCAM_ANALYSIS_INTERVAL", &c.Analysis.Interval)

	str("MOODCAM_CLASSIFIER_URL", &c.Classifier.HTTPEndpoint)
	str("MOODCAM_CLASSIFIER_GRPC", &c.Classifier.GRPCEndpoint)
	str("MOODCAM_DETECTOR_BACKEND", &c.Classifier.DetectorBackend)
	duration("MOODCAM_CLASSIFIER_TIMEOUT", &c.Classifier.Timeout)

	str("MOODCAM_LOG_DSN", &c.Log.DSN)
	str("MOODCAM_JOURNAL_DIR", &c.Log.JournalDir)

	str("MOODCAM_PREVIEW_ADDR", &c.Preview.Addr)

	boolean("MOODCAM_AUTH_ENABLED", &c.Auth.Enabled)
	str("MOODCAM_AUTH_USERNAME", &c.Auth.Username)
	str("MOODCAM_AUTH_PASSWORD", &c.Auth.Password)
	str("MOODCAM_JWT_SECRET", &c.Auth.JWTSecret)
	duration("MOODCAM_JWT_EXPIRY", &c.Auth.TokenExpiry)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	var problems []string

	if c.Analysis.Width <= 0 || c.Analysis.Height <= 0 {
		problems = append(problems, fmt.Sprintf("analysis size must be positive, got %dx%d", c.Analysis.Width, c.Analysis.Height))
	}
	if c.Analysis.Interval < 0 {
		problems = append(problems, fmt.Sprintf("analysis interval must not be negative, got %v", c.Analysis.Interval))
	}
	switch pipeline.AnalysisMode(c.Analysis.Mode) {
	case pipeline.AnalysisModeScheduled, pipeline.AnalysisModeContinuous, pipeline.AnalysisModeDisabled:
	default:
		problems = append(problems, fmt.Sprintf("unknown analysis mode %q", c.Analysis.Mode))
	}
	if utf8.RuneCountInString(c.Analysis.QuitKey) != 1 {
		problems = append(problems, fmt.Sprintf("quit key must be a single character, got %q", c.Analysis.QuitKey))
	}
	if c.Camera.FPS <= 0 {
		problems = append(problems, fmt.Sprintf("camera fps must be positive, got %d", c.Camera.FPS))
	}
	if c.Camera.Index < 0 {
		problems = append(problems, fmt.Sprintf("camera index must not be negative, got %d", c.Camera.Index))
	}
	if strings.TrimSpace(c.Log.DSN) == "" {
		problems = append(problems, "log dsn is empty")
	}
	if c.Preview.Quality < 1 || c.Preview.Quality > 100 {
		problems = append(problems, fmt.Sprintf("preview quality must be in 1-100, got %d", c.Preview.Quality))
	}
	if c.Auth.Enabled && c.Auth.Password == "" {
		problems = append(problems, "auth enabled without a password")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ValidateClassifier checks that some classifier endpoint is configured.
// Only modes that analyze frames need one.
func (c *Config) ValidateClassifier() error {
	if c.Classifier.HTTPEndpoint == "" && c.Classifier.GRPCEndpoint == "" {
		return fmt.Errorf("%w: no classifier endpoint configured", ErrInvalid)
	}
	return nil
}

// QuitRune returns the quit key as a rune
func (c *Config) QuitRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Analysis.QuitKey)
	return r
}
