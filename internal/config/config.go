// Package config loads draftcal settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when a variable is unset.
const (
	DefaultAPIURL      = "http://localhost:8000/api"
	DefaultUserID      = "user123"
	DefaultTimeout     = 10 * time.Second
	DefaultFanOutLimit = 8
	DefaultStateFile   = "publish-state.json"
	DefaultListenAddr  = ":8090"
)

// Config holds every setting the commands use.
type Config struct {
	APIURL      string
	APIToken    string
	UserID      string
	Timeout     time.Duration
	FanOutLimit int
	LogLevel    string

	PublishStateFile string
	ListenAddr       string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleCalendarID   string
	GoogleAccount      string

	ICloudUsername     string
	ICloudPassword     string
	ICloudCalendarName string
}

// Load reads .env files (when present) and then the environment.
func Load(files ...string) (Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load(files...)
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		APIURL:             withDefault(getenv("DRAFTS_API_URL"), DefaultAPIURL),
		APIToken:           getenv("DRAFTS_API_TOKEN"),
		UserID:             withDefault(getenv("DRAFTS_USER_ID"), DefaultUserID),
		Timeout:            DefaultTimeout,
		FanOutLimit:        DefaultFanOutLimit,
		LogLevel:           withDefault(getenv("LOG_LEVEL"), "info"),
		PublishStateFile:   withDefault(getenv("PUBLISH_STATE_FILE"), DefaultStateFile),
		ListenAddr:         withDefault(getenv("DRAFTS_LISTEN_ADDR"), DefaultListenAddr),
		GoogleClientID:     getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: getenv("GOOGLE_CLIENT_SECRET"),
		GoogleCalendarID:   getenv("GOOGLE_CALENDAR_ID"),
		GoogleAccount:      getenv("GOOGLE_ACCOUNT"),
		ICloudUsername:     getenv("ICLOUD_USERNAME"),
		ICloudPassword:     getenv("ICLOUD_APP_SPECIFIC_PASSWORD"),
		ICloudCalendarName: getenv("ICLOUD_CALENDAR_NAME"),
	}

	if v := getenv("DRAFTS_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DRAFTS_HTTP_TIMEOUT '%s': %w", v, err)
		}
		cfg.Timeout = d
	}

	if v := getenv("DRAFTS_FANOUT_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid DRAFTS_FANOUT_LIMIT '%s': must be a positive integer", v)
		}
		cfg.FanOutLimit = n
	}

	return cfg, nil
}

// GoogleEnabled reports whether a Google Calendar target is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleCalendarID != ""
}

// ICloudEnabled reports whether an iCloud target is configured.
func (c Config) ICloudEnabled() bool {
	return c.ICloudUsername != "" && c.ICloudPassword != "" && c.ICloudCalendarName != ""
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
