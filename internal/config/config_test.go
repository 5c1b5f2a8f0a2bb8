package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.UsersFile != "users.json" {
		t.Fatalf("UsersFile = %q, want %q", cfg.UsersFile, "users.json")
	}
	if cfg.ChatsFile != "chat_history.json" {
		t.Fatalf("ChatsFile = %q, want %q", cfg.ChatsFile, "chat_history.json")
	}
	if cfg.CompletionMode != "auto" {
		t.Fatalf("CompletionMode = %q, want %q", cfg.CompletionMode, "auto")
	}
	if cfg.CompletionModel != "llama-3.3-70b-versatile" {
		t.Fatalf("CompletionModel = %q, want default model", cfg.CompletionModel)
	}
	if cfg.CompletionMaxTokens != 1024 {
		t.Fatalf("CompletionMaxTokens = %d, want 1024", cfg.CompletionMaxTokens)
	}
	if cfg.CompletionTemperature != 1.0 || cfg.CompletionTopP != 1.0 {
		t.Fatalf("sampling defaults = (%v, %v), want (1, 1)", cfg.CompletionTemperature, cfg.CompletionTopP)
	}
	if cfg.GroqAPIKey != "" {
		t.Fatalf("GroqAPIKey = %q, want empty default", cfg.GroqAPIKey)
	}
}

func TestLoadExplicitOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("MEDICHAT_USERS_FILE", "/var/lib/medichat/users.json")
	t.Setenv("GROQ_API_KEY", "  gsk_test  ")
	t.Setenv("APP_SESSION_INACTIVITY_TIMEOUT", "10m")
	t.Setenv("COMPLETION_MAX_TOKENS", "2048")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want explicit value", cfg.BindAddr)
	}
	if cfg.UsersFile != "/var/lib/medichat/users.json" {
		t.Fatalf("UsersFile = %q, want explicit value", cfg.UsersFile)
	}
	if cfg.GroqAPIKey != "gsk_test" {
		t.Fatalf("GroqAPIKey = %q, want trimmed value", cfg.GroqAPIKey)
	}
	if cfg.SessionInactivityTimeout != 10*time.Minute {
		t.Fatalf("SessionInactivityTimeout = %v, want 10m", cfg.SessionInactivityTimeout)
	}
	if cfg.CompletionMaxTokens != 2048 {
		t.Fatalf("CompletionMaxTokens = %d, want 2048", cfg.CompletionMaxTokens)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"short inactivity", "APP_SESSION_INACTIVITY_TIMEOUT", "1s"},
		{"bad duration", "APP_SHUTDOWN_TIMEOUT", "soon"},
		{"bad max tokens", "COMPLETION_MAX_TOKENS", "-1"},
		{"bad temperature", "COMPLETION_TEMPERATURE", "5"},
		{"bad top_p", "COMPLETION_TOP_P", "0"},
		{"bad bool", "APP_ALLOW_ANY_ORIGIN", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q should fail", tc.key, tc.value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"MEDICHAT_USERS_FILE",
		"MEDICHAT_CHATS_FILE",
		"DATABASE_URL",
		"COMPLETION_MODE",
		"COMPLETION_MODEL",
		"COMPLETION_TEMPERATURE",
		"COMPLETION_TOP_P",
		"COMPLETION_MAX_TOKENS",
		"COMPLETION_TIMEOUT",
		"GROQ_API_KEY",
		"GROQ_BASE_URL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
