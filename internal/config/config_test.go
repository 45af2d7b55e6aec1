package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		EnvPrefix + "SERVER_URL",
		EnvPrefix + "MODE",
		EnvPrefix + "SAMPLE_RATE",
		EnvPrefix + "FRAME_SIZE",
		EnvPrefix + "FRAME_QUEUE",
		EnvPrefix + "PLAYBACK_QUEUE",
		EnvPrefix + "VOLUME",
		EnvPrefix + "RECONNECT_SCHEDULE",
		EnvPrefix + "DIAL_TIMEOUT",
		EnvPrefix + "PROBE_TIMEOUT",
		EnvPrefix + "PROBE_ATTEMPTS",
		EnvPrefix + "BIND_ADDR",
		EnvPrefix + "METRICS_NAMESPACE",
		EnvPrefix + "SHUTDOWN_TIMEOUT",
		EnvPrefix + "RECORD_DIR",
		EnvPrefix + "REDACT_LOGS",
		EnvPrefix + "HISTORY_LIMIT",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServerURL != "ws://localhost:8000" {
		t.Fatalf("ServerURL = %q, want default", cfg.ServerURL)
	}
	if cfg.Mode != "voice" {
		t.Fatalf("Mode = %q, want voice", cfg.Mode)
	}
	if cfg.SampleRate != 16000 || cfg.FrameSize != 4096 {
		t.Fatalf("audio defaults = %d/%d, want 16000/4096", cfg.SampleRate, cfg.FrameSize)
	}
	if len(cfg.ReconnectSchedule) != 3 || cfg.ReconnectSchedule[0] != time.Second {
		t.Fatalf("ReconnectSchedule = %v, want 1s,2s,4s", cfg.ReconnectSchedule)
	}
	if !cfg.RedactLogs {
		t.Fatalf("RedactLogs = false, want true by default")
	}
}

func TestLoadMissingFileTolerated(t *testing.T) {
	setCoreEnvEmpty(t)

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("Load() error = %v, want missing file tolerated", err)
	}
}

func TestLoadFileValues(t *testing.T) {
	setCoreEnvEmpty(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server_url: wss://agent.example.com
mode: text
volume: 0.5
reconnect_schedule: ["500ms", "1s"]
dial_timeout: 3s
record_dir: /tmp/calls
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "wss://agent.example.com" || cfg.Mode != "text" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Volume != 0.5 {
		t.Fatalf("Volume = %v, want 0.5", cfg.Volume)
	}
	if len(cfg.ReconnectSchedule) != 2 || cfg.ReconnectSchedule[0] != 500*time.Millisecond {
		t.Fatalf("ReconnectSchedule = %v, want 500ms,1s", cfg.ReconnectSchedule)
	}
	if cfg.DialTimeout != 3*time.Second {
		t.Fatalf("DialTimeout = %v, want 3s", cfg.DialTimeout)
	}
	if cfg.RecordDir != "/tmp/calls" {
		t.Fatalf("RecordDir = %q, want /tmp/calls", cfg.RecordDir)
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	setCoreEnvEmpty(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server_url: ws://file-host:8000\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvPrefix+"SERVER_URL", "ws://env-host:8000")
	t.Setenv(EnvPrefix+"RECONNECT_SCHEDULE", "250ms,750ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "ws://env-host:8000" {
		t.Fatalf("ServerURL = %q, want env override", cfg.ServerURL)
	}
	if len(cfg.ReconnectSchedule) != 2 || cfg.ReconnectSchedule[1] != 750*time.Millisecond {
		t.Fatalf("ReconnectSchedule = %v, want env override", cfg.ReconnectSchedule)
	}
}

func TestLoadRejectsBadMode(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv(EnvPrefix+"MODE", "carrier-pigeon")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected mode validation error")
	}
}

func TestLoadRejectsVolumeOutOfRange(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv(EnvPrefix+"VOLUME", "1.5")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected volume validation error")
	}
}

func TestLoadRejectsBadScheduleEntry(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv(EnvPrefix+"RECONNECT_SCHEDULE", "1s,soon")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected schedule parse error")
	}
}

func TestEndpointDerivation(t *testing.T) {
	cases := []struct {
		serverURL string
		mode      string
		want      string
	}{
		{"ws://localhost:8000", "text", "ws://localhost:8000/ws"},
		{"ws://localhost:8000", "voice", "ws://localhost:8000/ws/voice"},
		{"https://agent.example.com", "voice", "wss://agent.example.com/ws/voice"},
		{"http://agent.example.com", "text", "ws://agent.example.com/ws"},
	}
	for _, tc := range cases {
		cfg := Config{ServerURL: tc.serverURL}
		got, err := cfg.Endpoint(tc.mode)
		if err != nil {
			t.Fatalf("Endpoint(%q, %q) error = %v", tc.serverURL, tc.mode, err)
		}
		if got != tc.want {
			t.Fatalf("Endpoint(%q, %q) = %q, want %q", tc.serverURL, tc.mode, got, tc.want)
		}
	}
}

func TestHealthURLDerivation(t *testing.T) {
	cfg := Config{ServerURL: "wss://agent.example.com"}
	if got := cfg.HealthURL(); got != "https://agent.example.com/health" {
		t.Fatalf("HealthURL() = %q, want https health endpoint", got)
	}
	cfg = Config{ServerURL: "ws://localhost:8000"}
	if got := cfg.HealthURL(); got != "http://localhost:8000/health" {
		t.Fatalf("HealthURL() = %q, want http health endpoint", got)
	}
}
