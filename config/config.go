package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"kiosk/templates"
)

// Default configuration values
const (
	DefaultPort            = "3000"
	DefaultDataDir         = "./data"
	DefaultTransactionsDir = "./data/transactions"
	DefaultPushStream      = "/api/events"
)

// Monitoring constants. CheckInterval mirrors the upstream banking API's
// rate limit: one status check per payment per 31 seconds.
const (
	CheckInterval   = 31 * time.Second
	CheckingPulse   = 2 * time.Second
	PollInterval    = 3 * time.Second
	MaxPollAttempts = 20
	SettleDelay     = 4 * time.Second
	MaxClockSkew    = 60 * time.Second
)

// Config holds the kiosk configuration
var Config templates.KioskConfig

// Load loads the kiosk configuration from file, applying defaults and
// environment overrides. A missing config file is not fatal: an unattended
// kiosk must come up with whatever the environment provides.
func Load() error {
	configPath := filepath.Join(DefaultDataDir, "config.json")

	if err := os.MkdirAll(DefaultDataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, &Config); err != nil {
			return fmt.Errorf("error parsing configuration file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error reading configuration file: %w", err)
	}

	// Apply fallbacks for critical values
	if Config.Port == "" {
		Config.Port = DefaultPort
	}
	if Config.DataDir == "" {
		Config.DataDir = DefaultDataDir
	}
	if Config.TransactionsDir == "" {
		Config.TransactionsDir = DefaultTransactionsDir
	}
	if Config.PushStream == "" {
		Config.PushStream = DefaultPushStream
	}

	// Environment variables override the config file
	if env := os.Getenv("KIOSK_BACKEND_URL"); env != "" {
		Config.BackendURL = env
	}
	if env := os.Getenv("KIOSK_BACKEND_TOKEN"); env != "" {
		Config.BackendToken = env
	}
	if env := os.Getenv("KIOSK_ID"); env != "" {
		id, err := strconv.Atoi(env)
		if err != nil {
			return fmt.Errorf("invalid KIOSK_ID value %q: %w", env, err)
		}
		Config.KioskID = id
	}
	if env := os.Getenv("KIOSK_PORT"); env != "" {
		Config.Port = env
	}

	if Config.BackendURL == "" {
		return fmt.Errorf("missing backend URL: set backendURL in %s or the KIOSK_BACKEND_URL environment variable", configPath)
	}

	return nil
}

// GetBackendURL returns the backend base URL, checking environment variable first
func GetBackendURL() string {
	if env := os.Getenv("KIOSK_BACKEND_URL"); env != "" {
		return env
	}
	return Config.BackendURL
}

// GetBackendToken returns the backend bearer token, checking environment variable first
func GetBackendToken() string {
	if env := os.Getenv("KIOSK_BACKEND_TOKEN"); env != "" {
		return env
	}
	return Config.BackendToken
}
