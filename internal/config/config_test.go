package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.APIURL != DefaultAPIURL || cfg.UserID != DefaultUserID {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Timeout != DefaultTimeout || cfg.FanOutLimit != DefaultFanOutLimit {
		t.Errorf("unexpected numeric defaults %+v", cfg)
	}
	if cfg.GoogleEnabled() || cfg.ICloudEnabled() {
		t.Error("no publish target should be enabled by default")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"DRAFTS_API_URL":               "https://drafts.example.com",
		"DRAFTS_USER_ID":               "u1",
		"DRAFTS_HTTP_TIMEOUT":          "3s",
		"DRAFTS_FANOUT_LIMIT":          "2",
		"GOOGLE_CALENDAR_ID":           "team@example.com",
		"ICLOUD_USERNAME":              "alice",
		"ICLOUD_APP_SPECIFIC_PASSWORD": "pw",
		"ICLOUD_CALENDAR_NAME":         "Work",
	}))
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.APIURL != "https://drafts.example.com" || cfg.UserID != "u1" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Timeout != 3*time.Second || cfg.FanOutLimit != 2 {
		t.Errorf("timeout=%v fanout=%d", cfg.Timeout, cfg.FanOutLimit)
	}
	if !cfg.GoogleEnabled() || !cfg.ICloudEnabled() {
		t.Error("expected both publish targets enabled")
	}
}

func TestFromEnvInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"timeout": {"DRAFTS_HTTP_TIMEOUT": "soon"},
		"fanout":  {"DRAFTS_FANOUT_LIMIT": "0"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := FromEnv(envMap(env)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DRAFTS_USER_ID=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DRAFTS_USER_ID", "")
	os.Unsetenv("DRAFTS_USER_ID")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UserID != "from-dotenv" {
		t.Errorf("user id = %q, want from-dotenv", cfg.UserID)
	}
}
