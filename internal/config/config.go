package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Options holds every tuning knob recognized by the streaming pipeline.
// Components receive it at construction; there are no process-wide defaults.
type Options struct {
	// EMAAlpha is the smoothing factor for the bandwidth estimator.
	EMAAlpha float64
	// BufferThreshold is the post-first-sample safety margin applied when
	// matching a representation bitrate against the bandwidth estimate.
	BufferThreshold float64
	// SmallResponseFloor is the payload size in bytes below which a completed
	// request is ignored by the bandwidth estimator.
	SmallResponseFloor int64

	// MaxRetryRegular and MaxRetryOffline bound the retry counters of the two
	// failure categories in the loader pipeline.
	MaxRetryRegular int
	MaxRetryOffline int
	// BaseDelay and MaxDelay bound the exponential backoff between retries.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// RequestTimeout is the per-attempt transfer timeout.
	RequestTimeout time.Duration

	// DebounceInterval is how long the adaptation engine waits after a
	// bandwidth estimate change before acting on it.
	DebounceInterval time.Duration
	// BufferAhead is how many seconds of media the player schedules past the
	// playhead.
	BufferAhead float64
	// ScheduleInterval is how often the player checks for segments to fetch.
	ScheduleInterval time.Duration

	// DefaultLanguage is the preferred audio/text language.
	DefaultLanguage string
	// UserAgent is sent on every outgoing request when non-empty.
	UserAgent string
}

// Default returns the recognized option defaults.
func Default() Options {
	return Options{
		EMAAlpha:           0.6,
		BufferThreshold:    0.3,
		SmallResponseFloor: 2000,
		MaxRetryRegular:    3,
		MaxRetryOffline:    15,
		BaseDelay:          250 * time.Millisecond,
		MaxDelay:           8 * time.Second,
		RequestTimeout:     5 * time.Second,
		DebounceInterval:   2 * time.Second,
		BufferAhead:        12,
		ScheduleInterval:   2 * time.Second,
		DefaultLanguage:    "en",
	}
}

// Config is the full application configuration: pipeline options plus the
// settings the daemon itself needs.
type Config struct {
	ManifestURL string
	Listen      string
	LogLevel    string
	LogFormat   string
	Options     Options
}

// fileConfig maps directly to the JSON config file. Durations are expressed
// in milliseconds; zero values fall back to the defaults.
type fileConfig struct {
	ManifestURL        string  `json:"ManifestURL"`
	Listen             string  `json:"Listen"`
	LogLevel           string  `json:"LogLevel"`
	LogFormat          string  `json:"LogFormat"`
	UserAgent          string  `json:"UserAgent"`
	DefaultLanguage    string  `json:"DefaultLanguage"`
	EMAAlpha           float64 `json:"Alpha"`
	BufferThreshold    float64 `json:"BufferThreshold"`
	SmallResponseFloor int64   `json:"SmallResponseFloorBytes"`
	MaxRetryRegular    int     `json:"MaxRetryRegular"`
	MaxRetryOffline    int     `json:"MaxRetryOffline"`
	BaseDelayMs        int64   `json:"BaseDelayMs"`
	MaxDelayMs         int64   `json:"MaxDelayMs"`
	RequestTimeoutMs   int64   `json:"RequestTimeoutMs"`
	DebounceMs         int64   `json:"DebounceMs"`
	BufferAheadSec     float64 `json:"BufferAheadSec"`
}

// Load reads the configuration file at path, applies environment overrides
// and fills unset fields from the defaults. A missing file is not an error;
// the defaults plus environment are returned instead.
func Load(path string) (*Config, error) {
	// A .env file next to the binary is honored but never required.
	_ = godotenv.Load()

	cfg := &Config{
		Listen:    ":8080",
		LogLevel:  "info",
		LogFormat: "json",
		Options:   Default(),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			var fc fileConfig
			if err := json.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config JSON from %s: %w", path, err)
			}
			applyFile(cfg, &fc)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyFile(cfg *Config, fc *fileConfig) {
	if fc.ManifestURL != "" {
		cfg.ManifestURL = fc.ManifestURL
	}
	if fc.Listen != "" {
		cfg.Listen = fc.Listen
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.LogFormat != "" {
		cfg.LogFormat = fc.LogFormat
	}
	o := &cfg.Options
	if fc.UserAgent != "" {
		o.UserAgent = fc.UserAgent
	}
	if fc.DefaultLanguage != "" {
		o.DefaultLanguage = fc.DefaultLanguage
	}
	if fc.EMAAlpha > 0 {
		o.EMAAlpha = fc.EMAAlpha
	}
	if fc.BufferThreshold > 0 {
		o.BufferThreshold = fc.BufferThreshold
	}
	if fc.SmallResponseFloor > 0 {
		o.SmallResponseFloor = fc.SmallResponseFloor
	}
	if fc.MaxRetryRegular > 0 {
		o.MaxRetryRegular = fc.MaxRetryRegular
	}
	if fc.MaxRetryOffline > 0 {
		o.MaxRetryOffline = fc.MaxRetryOffline
	}
	if fc.BaseDelayMs > 0 {
		o.BaseDelay = time.Duration(fc.BaseDelayMs) * time.Millisecond
	}
	if fc.MaxDelayMs > 0 {
		o.MaxDelay = time.Duration(fc.MaxDelayMs) * time.Millisecond
	}
	if fc.RequestTimeoutMs > 0 {
		o.RequestTimeout = time.Duration(fc.RequestTimeoutMs) * time.Millisecond
	}
	if fc.DebounceMs > 0 {
		o.DebounceInterval = time.Duration(fc.DebounceMs) * time.Millisecond
	}
	if fc.BufferAheadSec > 0 {
		o.BufferAhead = fc.BufferAheadSec
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ABRSTREAM_MANIFEST_URL"); v != "" {
		cfg.ManifestURL = v
	}
	if v := os.Getenv("ABRSTREAM_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("ABRSTREAM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ABRSTREAM_USER_AGENT"); v != "" {
		cfg.Options.UserAgent = v
	}
	if v := os.Getenv("ABRSTREAM_LANGUAGE"); v != "" {
		cfg.Options.DefaultLanguage = v
	}
	if v := os.Getenv("ABRSTREAM_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			cfg.Options.EMAAlpha = f
		}
	}
	if v := os.Getenv("ABRSTREAM_MAX_RETRY_REGULAR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Options.MaxRetryRegular = n
		}
	}
	if v := os.Getenv("ABRSTREAM_MAX_RETRY_OFFLINE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Options.MaxRetryOffline = n
		}
	}
}
