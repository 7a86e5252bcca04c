// Package config handles avatar voice client configuration
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GriffinCanCode/avatar-voice/internal/audio"
	apperrors "github.com/GriffinCanCode/avatar-voice/internal/errors"
)

type Config struct {
	HTTPAddr             string        `yaml:"http_addr"`
	BackendURL           string        `yaml:"backend_url"`
	VoicePath            string        `yaml:"voice_path"`
	AskPath              string        `yaml:"ask_path"`
	SampleRate           int           `yaml:"sample_rate"`
	CaptureEncoding      string        `yaml:"capture_encoding"`
	ChunkInterval        time.Duration `yaml:"chunk_interval"`
	EndTimeout           time.Duration `yaml:"end_timeout"`
	ExcludedAudioDevices []string      `yaml:"excluded_audio_devices"`
	QueueSize            int           `yaml:"queue_size"`
	AskTimeout           time.Duration `yaml:"ask_timeout"`
	AskMaxRetries        int           `yaml:"ask_max_retries"`
	ReadLimitBytes       int64         `yaml:"read_limit_bytes"`
	LogLevel             string        `yaml:"log_level"`
	LogFile              string        `yaml:"log_file"`
	LogMaxSizeMB         int           `yaml:"log_max_size_mb"`
	LogMaxBackups        int           `yaml:"log_max_backups"`
	LogMaxAgeDays        int           `yaml:"log_max_age_days"`
}

func defaults() *Config {
	return &Config{
		HTTPAddr:             ":8080",
		BackendURL:           "http://127.0.0.1:8000",
		VoicePath:            "/ws/ask",
		AskPath:              "/ask",
		SampleRate:           16000,
		CaptureEncoding:      audio.EncodingPCM,
		ChunkInterval:        250 * time.Millisecond,
		EndTimeout:           750 * time.Millisecond,
		ExcludedAudioDevices: []string{"iphone", "teams"},
		QueueSize:            32,
		AskTimeout:           60 * time.Second,
		AskMaxRetries:        2,
		ReadLimitBytes:       32 << 20,
		LogLevel:             "info",
		LogMaxSizeMB:         50,
		LogMaxBackups:        3,
		LogMaxAgeDays:        14,
	}
}

// Load reads configuration from the environment on top of built-in defaults.
func Load() *Config {
	return overlayEnv(defaults())
}

// LoadFile reads a YAML file on top of the defaults. Environment variables
// override values from the file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.InvalidArgument, "read config %s", path)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.InvalidArgument, "parse config %s", path)
	}
	return overlayEnv(cfg), nil
}

func overlayEnv(c *Config) *Config {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.BackendURL = getEnv("BACKEND_URL", c.BackendURL)
	c.VoicePath = getEnv("VOICE_PATH", c.VoicePath)
	c.AskPath = getEnv("ASK_PATH", c.AskPath)
	c.SampleRate = getEnvInt("SAMPLE_RATE", c.SampleRate)
	c.CaptureEncoding = getEnv("CAPTURE_ENCODING", c.CaptureEncoding)
	c.ChunkInterval = getEnvDuration("CHUNK_INTERVAL", c.ChunkInterval)
	c.EndTimeout = getEnvDuration("END_TIMEOUT", c.EndTimeout)
	c.ExcludedAudioDevices = getEnvList("EXCLUDED_AUDIO_DEVICES", c.ExcludedAudioDevices)
	c.QueueSize = getEnvInt("QUEUE_SIZE", c.QueueSize)
	c.AskTimeout = getEnvDuration("ASK_TIMEOUT", c.AskTimeout)
	c.AskMaxRetries = getEnvInt("ASK_MAX_RETRIES", c.AskMaxRetries)
	c.ReadLimitBytes = int64(getEnvInt("READ_LIMIT_BYTES", int(c.ReadLimitBytes)))
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.LogMaxSizeMB = getEnvInt("LOG_MAX_SIZE_MB", c.LogMaxSizeMB)
	c.LogMaxBackups = getEnvInt("LOG_MAX_BACKUPS", c.LogMaxBackups)
	c.LogMaxAgeDays = getEnvInt("LOG_MAX_AGE_DAYS", c.LogMaxAgeDays)
	return c
}

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return apperrors.Newf(apperrors.InvalidArgument, "sample rate must be positive, got %d", c.SampleRate)
	case c.ChunkInterval <= 0:
		return apperrors.Newf(apperrors.InvalidArgument, "chunk interval must be positive, got %v", c.ChunkInterval)
	case c.EndTimeout <= 0:
		return apperrors.Newf(apperrors.InvalidArgument, "end timeout must be positive, got %v", c.EndTimeout)
	case c.AskTimeout <= 0:
		return apperrors.Newf(apperrors.InvalidArgument, "ask timeout must be positive, got %v", c.AskTimeout)
	case c.QueueSize <= 0:
		return apperrors.Newf(apperrors.InvalidArgument, "queue size must be positive, got %d", c.QueueSize)
	case c.ReadLimitBytes <= 0:
		return apperrors.Newf(apperrors.InvalidArgument, "read limit must be positive, got %d", c.ReadLimitBytes)
	}
	if _, err := c.backend(); err != nil {
		return err
	}
	if !strings.HasPrefix(c.VoicePath, "/") || !strings.HasPrefix(c.AskPath, "/") {
		return apperrors.New(apperrors.InvalidArgument, "voice and ask paths must start with /")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) backend() (*url.URL, error) {
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.InvalidArgument, "backend url %q", c.BackendURL)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperrors.Newf(apperrors.InvalidArgument, "backend url %q must be http(s)://host", c.BackendURL)
	}
	return u, nil
}

// VoiceURL is the websocket endpoint for streamed utterances.
func (c *Config) VoiceURL() string {
	u, err := c.backend()
	if err != nil {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + c.VoicePath
	return u.String()
}

// AskURL is the HTTP endpoint for text questions.
func (c *Config) AskURL() string {
	u, err := c.backend()
	if err != nil {
		return ""
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + c.AskPath
	return u.String()
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, apperrors.Wrapf(err, apperrors.InvalidArgument, "log level %q", c.LogLevel)
	}
	return lvl, nil
}

func (c *Config) String() string {
	return fmt.Sprintf("http=%s backend=%s rate=%d encoding=%s chunk=%v end=%v",
		c.HTTPAddr, c.BackendURL, c.SampleRate, c.CaptureEncoding, c.ChunkInterval, c.EndTimeout)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go duration strings ("250ms") or bare milliseconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
