package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Session   SessionConfig
	Inference InferenceConfig
	Translate TranslateConfig
	Profile   ProfileConfig
	Ticketing TicketingConfig
	KB        KBConfig
	Breaker   BreakerConfig
	Auth      AuthConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port           int
	MaxConcurrent  int
	RequestTimeout string
	LockWait       string
}

type StorageConfig struct {
	DataDir string
}

type SessionConfig struct {
	TTLHours            int
	AnonymousTTLMinutes int
	SweepInterval       string
	MaxTurns            int
	ContinuationTTL     string
}

type InferenceConfig struct {
	BaseURL             string
	APIKey              string
	Model               string
	Timeout             string
	ConfidenceThreshold float64
}

type TranslateConfig struct {
	BaseURL   string
	Canonical string
	Timeout   string
}

type ProfileConfig struct {
	BaseURL string
	Timeout string
}

type TicketingConfig struct {
	BaseURL string
	Timeout string
}

type KBConfig struct {
	BaseURL string
	TopK    int
	Timeout string
}

type BreakerConfig struct {
	FailureThreshold int
	Cooldown         string
}

type AuthConfig struct {
	JWTSecret string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           4600,
			MaxConcurrent:  64,
			RequestTimeout: "30s",
			LockWait:       "2s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Session: SessionConfig{
			TTLHours:            24,
			AnonymousTTLMinutes: 60,
			SweepInterval:       "5m",
			MaxTurns:            100,
			ContinuationTTL:     "10m",
		},
		Inference: InferenceConfig{
			BaseURL:             "http://localhost:11434",
			Model:               "gemini-2.0-flash-001",
			Timeout:             "8s",
			ConfidenceThreshold: 0.55,
		},
		Translate: TranslateConfig{
			BaseURL:   "http://localhost:8089",
			Canonical: "en",
			Timeout:   "5s",
		},
		Profile: ProfileConfig{
			BaseURL: "http://localhost:8091",
			Timeout: "10s",
		},
		Ticketing: TicketingConfig{
			BaseURL: "http://localhost:8092",
			Timeout: "10s",
		},
		KB: KBConfig{
			BaseURL: "http://localhost:6333",
			TopK:    5,
			Timeout: "5s",
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			Cooldown:         "30s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "saarthi-data"
		}
	}
	return filepath.Join(dir, "saarthi")
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/saarthi/config.json, then applies SAARTHI_* environment
// variable overrides. The JWT signing secret is required and must come from
// the environment or the file; there is no built-in default.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("missing required config: auth JWT secret. Set it via environment variable SAARTHI_AUTH_JWT_SECRET")
	}

	return cfg, nil
}
