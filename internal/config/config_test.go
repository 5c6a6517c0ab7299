package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8000" {
		t.Fatalf("BindAddr = %q, want :8000", cfg.BindAddr)
	}
	if cfg.ConversationTTL != 15*time.Minute {
		t.Fatalf("ConversationTTL = %v, want 15m", cfg.ConversationTTL)
	}
	if cfg.TTSVoice != "Polly.Amy" {
		t.Fatalf("TTSVoice = %q, want Polly.Amy", cfg.TTSVoice)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" {
		t.Fatalf("expected empty store urls, got %q %q", cfg.DatabaseURL, cfg.RedisURL)
	}
	if cfg.SignatureValidation() {
		t.Fatalf("signature validation should be off without an auth token")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("CONVERSATION_TTL", "5m")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("PUBLIC_BASE_URL", "https://agent.example.com/")
	t.Setenv("TRANSCRIBER_MODE", "HTTP")
	t.Setenv("TRANSCRIBER_URL", "http://whisper:8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" || cfg.ConversationTTL != 5*time.Minute {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.PublicBaseURL != "https://agent.example.com" {
		t.Fatalf("PublicBaseURL = %q, want trailing slash trimmed", cfg.PublicBaseURL)
	}
	if cfg.TranscriberMode != "http" {
		t.Fatalf("TranscriberMode = %q, want http", cfg.TranscriberMode)
	}
	if !cfg.SignatureValidation() {
		t.Fatalf("signature validation should be on with a token")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "ttl too short", key: "CONVERSATION_TTL", val: "30s"},
		{name: "bad duration", key: "UNIT_CACHE_TTL", val: "soon"},
		{name: "bad bool", key: "DATABASE_MIGRATE", val: "maybe"},
		{name: "bad attempts", key: "TRANSCRIBER_MAX_ATTEMPTS", val: "0"},
		{name: "bad mode", key: "TRANSCRIBER_MODE", val: "pigeon"},
		{name: "http without url", key: "TRANSCRIBER_MODE", val: "http"},
		{name: "bad log format", key: "LOG_FORMAT", val: "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestLoadFileYAML(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "app_bind_addr: \":7000\"\nconversation_ttl: 2m\nredis_url: redis://localhost:6379/0\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APP_BIND_ADDR", ":7001")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.BindAddr != ":7001" {
		t.Fatalf("BindAddr = %q, want env to win over file", cfg.BindAddr)
	}
	if cfg.ConversationTTL != 2*time.Minute {
		t.Fatalf("ConversationTTL = %v, want 2m", cfg.ConversationTTL)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("RedisURL = %q", cfg.RedisURL)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_ENVIRONMENT",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"CONVERSATION_TTL",
		"CONVERSATION_JANITOR_INTERVAL",
		"DATABASE_URL",
		"DATABASE_MIGRATE",
		"REDIS_URL",
		"UNIT_CACHE_TTL",
		"TWILIO_AUTH_TOKEN",
		"TWILIO_VALIDATE_SIGNATURE",
		"PUBLIC_BASE_URL",
		"TTS_VOICE",
		"TRANSCRIBER_MODE",
		"TRANSCRIBER_URL",
		"TRANSCRIBER_FALLBACK_URL",
		"TRANSCRIBER_TIMEOUT",
		"TRANSCRIBER_MAX_ATTEMPTS",
		"MONITOR_ALLOW_ANY_ORIGIN",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
