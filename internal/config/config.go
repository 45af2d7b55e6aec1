package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/k-ranasinghe/voice-agent/internal/reliability"
)

// EnvPrefix namespaces every environment override. DATABASE_URL is the
// one exception, read unprefixed like the rest of our deployments
// expect.
const EnvPrefix = "VOICE_AGENT_"

// Config contains all runtime settings for the voice agent client.
type Config struct {
	ServerURL string
	Mode      string

	SampleRate    int
	FrameSize     int
	FrameQueue    int
	PlaybackQueue int
	Volume        float64

	ReconnectSchedule reliability.Schedule
	DialTimeout       time.Duration
	ProbeTimeout      time.Duration
	ProbeAttempts     int

	BindAddr         string
	MetricsNamespace string
	ShutdownTimeout  time.Duration

	RecordDir    string
	RedactLogs   bool
	HistoryLimit int
	DatabaseURL  string
}

// fileValues is the YAML-facing shape. Durations travel as strings so
// a config file can say "4s"; Load parses them into Config.
type fileValues struct {
	ServerURL         string   `yaml:"server_url"`
	Mode              string   `yaml:"mode"`
	SampleRate        int      `yaml:"sample_rate"`
	FrameSize         int      `yaml:"frame_size"`
	FrameQueue        int      `yaml:"frame_queue"`
	PlaybackQueue     int      `yaml:"playback_queue"`
	Volume            *float64 `yaml:"volume"`
	ReconnectSchedule []string `yaml:"reconnect_schedule"`
	DialTimeout       string   `yaml:"dial_timeout"`
	ProbeTimeout      string   `yaml:"probe_timeout"`
	ProbeAttempts     int      `yaml:"probe_attempts"`
	BindAddr          *string  `yaml:"bind_addr"`
	MetricsNamespace  string   `yaml:"metrics_namespace"`
	ShutdownTimeout   string   `yaml:"shutdown_timeout"`
	RecordDir         string   `yaml:"record_dir"`
	RedactLogs        *bool    `yaml:"redact_logs"`
	HistoryLimit      int      `yaml:"history_limit"`
}

// Load reads the optional YAML file at path, applies environment
// overrides on top, and validates. A missing file is not an error; a
// malformed one is.
func Load(path string) (Config, error) {
	cfg := Config{
		ServerURL:         "ws://localhost:8000",
		Mode:              "voice",
		SampleRate:        16000,
		FrameSize:         4096,
		FrameQueue:        8,
		PlaybackQueue:     64,
		Volume:            1.0,
		ReconnectSchedule: reliability.DefaultSchedule(),
		DialTimeout:       10 * time.Second,
		ProbeTimeout:      5 * time.Second,
		ProbeAttempts:     3,
		BindAddr:          "127.0.0.1:8990",
		MetricsNamespace:  "voice_agent",
		ShutdownTimeout:   15 * time.Second,
		RedactLogs:        true,
		HistoryLimit:      100,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			var fv fileValues
			if err := yaml.Unmarshal(raw, &fv); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
			if err := cfg.applyFile(fv); err != nil {
				return Config{}, err
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.DatabaseURL = envValue("DATABASE_URL")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(fv fileValues) error {
	if fv.ServerURL != "" {
		c.ServerURL = fv.ServerURL
	}
	if fv.Mode != "" {
		c.Mode = fv.Mode
	}
	if fv.SampleRate != 0 {
		c.SampleRate = fv.SampleRate
	}
	if fv.FrameSize != 0 {
		c.FrameSize = fv.FrameSize
	}
	if fv.FrameQueue != 0 {
		c.FrameQueue = fv.FrameQueue
	}
	if fv.PlaybackQueue != 0 {
		c.PlaybackQueue = fv.PlaybackQueue
	}
	if fv.Volume != nil {
		c.Volume = *fv.Volume
	}
	if len(fv.ReconnectSchedule) > 0 {
		sched, err := parseSchedule(fv.ReconnectSchedule)
		if err != nil {
			return fmt.Errorf("reconnect_schedule: %w", err)
		}
		c.ReconnectSchedule = sched
	}
	var err error
	if c.DialTimeout, err = parseDurationValue("dial_timeout", fv.DialTimeout, c.DialTimeout); err != nil {
		return err
	}
	if c.ProbeTimeout, err = parseDurationValue("probe_timeout", fv.ProbeTimeout, c.ProbeTimeout); err != nil {
		return err
	}
	if c.ShutdownTimeout, err = parseDurationValue("shutdown_timeout", fv.ShutdownTimeout, c.ShutdownTimeout); err != nil {
		return err
	}
	if fv.ProbeAttempts != 0 {
		c.ProbeAttempts = fv.ProbeAttempts
	}
	if fv.BindAddr != nil {
		c.BindAddr = *fv.BindAddr
	}
	if fv.MetricsNamespace != "" {
		c.MetricsNamespace = fv.MetricsNamespace
	}
	if fv.RecordDir != "" {
		c.RecordDir = fv.RecordDir
	}
	if fv.RedactLogs != nil {
		c.RedactLogs = *fv.RedactLogs
	}
	if fv.HistoryLimit != 0 {
		c.HistoryLimit = fv.HistoryLimit
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.ServerURL = envOrDefault(EnvPrefix+"SERVER_URL", c.ServerURL)
	c.Mode = envOrDefault(EnvPrefix+"MODE", c.Mode)
	c.BindAddr = envOrDefault(EnvPrefix+"BIND_ADDR", c.BindAddr)
	c.MetricsNamespace = envOrDefault(EnvPrefix+"METRICS_NAMESPACE", c.MetricsNamespace)
	c.RecordDir = envOrDefault(EnvPrefix+"RECORD_DIR", c.RecordDir)

	var err error
	if c.SampleRate, err = intFromEnv(EnvPrefix+"SAMPLE_RATE", c.SampleRate); err != nil {
		return err
	}
	if c.FrameSize, err = intFromEnv(EnvPrefix+"FRAME_SIZE", c.FrameSize); err != nil {
		return err
	}
	if c.FrameQueue, err = intFromEnv(EnvPrefix+"FRAME_QUEUE", c.FrameQueue); err != nil {
		return err
	}
	if c.PlaybackQueue, err = intFromEnv(EnvPrefix+"PLAYBACK_QUEUE", c.PlaybackQueue); err != nil {
		return err
	}
	if c.ProbeAttempts, err = intFromEnv(EnvPrefix+"PROBE_ATTEMPTS", c.ProbeAttempts); err != nil {
		return err
	}
	if c.HistoryLimit, err = intFromEnv(EnvPrefix+"HISTORY_LIMIT", c.HistoryLimit); err != nil {
		return err
	}
	if c.Volume, err = floatFromEnv(EnvPrefix+"VOLUME", c.Volume); err != nil {
		return err
	}
	if c.RedactLogs, err = boolFromEnv(EnvPrefix+"REDACT_LOGS", c.RedactLogs); err != nil {
		return err
	}
	if c.DialTimeout, err = durationFromEnv(EnvPrefix+"DIAL_TIMEOUT", c.DialTimeout); err != nil {
		return err
	}
	if c.ProbeTimeout, err = durationFromEnv(EnvPrefix+"PROBE_TIMEOUT", c.ProbeTimeout); err != nil {
		return err
	}
	if c.ShutdownTimeout, err = durationFromEnv(EnvPrefix+"SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return err
	}

	if raw := envValue(EnvPrefix + "RECONNECT_SCHEDULE"); raw != "" {
		sched, err := parseSchedule(strings.Split(raw, ","))
		if err != nil {
			return fmt.Errorf("%sRECONNECT_SCHEDULE: %w", EnvPrefix, err)
		}
		c.ReconnectSchedule = sched
	}
	return nil
}

func (c *Config) validate() error {
	if c.Mode != "voice" && c.Mode != "text" {
		return fmt.Errorf("mode must be voice or text, got %q", c.Mode)
	}
	if _, err := c.Endpoint(c.Mode); err != nil {
		return err
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive")
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame_size must be positive")
	}
	if c.FrameQueue <= 0 || c.PlaybackQueue <= 0 {
		return fmt.Errorf("queue depths must be positive")
	}
	if c.Volume < 0 || c.Volume > 1 {
		return fmt.Errorf("volume must be within [0, 1], got %v", c.Volume)
	}
	if len(c.ReconnectSchedule) == 0 {
		return fmt.Errorf("reconnect_schedule must not be empty")
	}
	for _, d := range c.ReconnectSchedule {
		if d <= 0 {
			return fmt.Errorf("reconnect_schedule entries must be positive")
		}
	}
	if c.DialTimeout <= 0 || c.ProbeTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.ProbeAttempts < 1 {
		return fmt.Errorf("probe_attempts must be at least 1")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history_limit must be positive")
	}
	return nil
}

// Endpoint derives the websocket URL for the given conversation mode.
// http(s) schemes are accepted and rewritten to ws(s).
func (c Config) Endpoint(mode string) (string, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("server_url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server_url scheme %q not supported", u.Scheme)
	}
	switch mode {
	case "voice":
		u.Path = "/ws/voice"
	case "text":
		u.Path = "/ws"
	default:
		return "", fmt.Errorf("unknown mode %q", mode)
	}
	return u.String(), nil
}

// HealthURL derives the agent's HTTP health endpoint from the server
// URL.
func (c Config) HealthURL() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/health"
	return u.String()
}

func parseSchedule(entries []string) (reliability.Schedule, error) {
	sched := make(reliability.Schedule, 0, len(entries))
	for _, entry := range entries {
		d, err := time.ParseDuration(strings.TrimSpace(entry))
		if err != nil {
			return nil, err
		}
		sched = append(sched, d)
	}
	return sched, nil
}

func parseDurationValue(name, v string, fallback time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", name, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envValue(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envValue(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envValue(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envValue(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envValue(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
