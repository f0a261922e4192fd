package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SAARTHI_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_concurrent", typ: kInt, env: "SAARTHI_SERVER_MAX_CONCURRENT",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConcurrent = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConcurrent },
	},
	{
		key: "server.request_timeout", typ: kString, env: "SAARTHI_SERVER_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Server.RequestTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.RequestTimeout },
	},
	{
		key: "server.lock_wait", typ: kString, env: "SAARTHI_SERVER_LOCK_WAIT",
		apply:   func(cfg *Config, v any) { cfg.Server.LockWait = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.LockWait },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SAARTHI_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "session.ttl_hours", typ: kInt, env: "SAARTHI_SESSION_TTL_HOURS",
		apply:   func(cfg *Config, v any) { cfg.Session.TTLHours = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.TTLHours },
	},
	{
		key: "session.anonymous_ttl_minutes", typ: kInt, env: "SAARTHI_SESSION_ANONYMOUS_TTL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Session.AnonymousTTLMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.AnonymousTTLMinutes },
	},
	{
		key: "session.sweep_interval", typ: kString, env: "SAARTHI_SESSION_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Session.SweepInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.SweepInterval },
	},
	{
		key: "session.max_turns", typ: kInt, env: "SAARTHI_SESSION_MAX_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Session.MaxTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.MaxTurns },
	},
	{
		key: "session.continuation_ttl", typ: kString, env: "SAARTHI_SESSION_CONTINUATION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.ContinuationTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.ContinuationTTL },
	},
	{
		key: "inference.base_url", typ: kString, env: "SAARTHI_INFERENCE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Inference.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.BaseURL },
	},
	{
		key: "inference.api_key", typ: kString, env: "SAARTHI_INFERENCE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Inference.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.APIKey },
	},
	{
		key: "inference.model", typ: kString, env: "SAARTHI_INFERENCE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Inference.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.Model },
	},
	{
		key: "inference.timeout", typ: kString, env: "SAARTHI_INFERENCE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Inference.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.Timeout },
	},
	{
		key: "inference.confidence_threshold", typ: kFloat, env: "SAARTHI_INFERENCE_CONFIDENCE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Inference.ConfidenceThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Inference.ConfidenceThreshold },
	},
	{
		key: "translate.base_url", typ: kString, env: "SAARTHI_TRANSLATE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Translate.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Translate.BaseURL },
	},
	{
		key: "translate.canonical", typ: kString, env: "SAARTHI_TRANSLATE_CANONICAL",
		apply:   func(cfg *Config, v any) { cfg.Translate.Canonical = v.(string) },
		extract: func(cfg Config) any { return cfg.Translate.Canonical },
	},
	{
		key: "translate.timeout", typ: kString, env: "SAARTHI_TRANSLATE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Translate.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Translate.Timeout },
	},
	{
		key: "profile.base_url", typ: kString, env: "SAARTHI_PROFILE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Profile.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Profile.BaseURL },
	},
	{
		key: "profile.timeout", typ: kString, env: "SAARTHI_PROFILE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Profile.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Profile.Timeout },
	},
	{
		key: "ticketing.base_url", typ: kString, env: "SAARTHI_TICKETING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ticketing.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ticketing.BaseURL },
	},
	{
		key: "ticketing.timeout", typ: kString, env: "SAARTHI_TICKETING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ticketing.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Ticketing.Timeout },
	},
	{
		key: "kb.base_url", typ: kString, env: "SAARTHI_KB_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.KB.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.KB.BaseURL },
	},
	{
		key: "kb.top_k", typ: kInt, env: "SAARTHI_KB_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.KB.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.KB.TopK },
	},
	{
		key: "kb.timeout", typ: kString, env: "SAARTHI_KB_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.KB.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.KB.Timeout },
	},
	{
		key: "breaker.failure_threshold", typ: kInt, env: "SAARTHI_BREAKER_FAILURE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Breaker.FailureThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Breaker.FailureThreshold },
	},
	{
		key: "breaker.cooldown", typ: kString, env: "SAARTHI_BREAKER_COOLDOWN",
		apply:   func(cfg *Config, v any) { cfg.Breaker.Cooldown = v.(string) },
		extract: func(cfg Config) any { return cfg.Breaker.Cooldown },
	},
	{
		key: "auth.jwt_secret", typ: kString, env: "SAARTHI_AUTH_JWT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.JWTSecret },
	},
	{
		key: "log.level", typ: kString, env: "SAARTHI_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
