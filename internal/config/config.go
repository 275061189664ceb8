// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads service configuration from a YAML file with
// ${VAR} expansion, falling back to environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Classifier providers.
const (
	ProviderGemini = "gemini"
	ProviderRemote = "remote"
	ProviderNone   = "none"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// DefaultPath is read when CONFIG_PATH is unset.
const DefaultPath = "/app/config/config.yaml"

type ClassifierConfig struct {
	Provider    string
	Model       string
	APIKey      string
	Temperature float32
	Streaming   bool
	Timeout     time.Duration

	// Remote provider
	RemoteURL    string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

type StorageConfig struct {
	Driver        string
	RedisURL      string
	DatabaseURL   string
	Namespace     string
	FlushInterval time.Duration
}

type Config struct {
	Port int

	AdminEmail string
	AdminName  string

	Classifier ClassifierConfig
	Storage    StorageConfig

	// EventsQueue is the Redis list ticket events go to. Events are only
	// published when a Redis URL is configured.
	EventsQueue string
	TurnLockTTL time.Duration
}

type rawConfig struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Identity struct {
		AdminEmail string `yaml:"admin_email"`
		AdminName  string `yaml:"admin_name"`
	} `yaml:"identity"`
	Classifier struct {
		Provider    string   `yaml:"provider"`
		Model       string   `yaml:"model"`
		APIKey      string   `yaml:"api_key"`
		Temperature *float32 `yaml:"temperature"`
		Streaming   *bool    `yaml:"streaming"`
		Timeout     string   `yaml:"timeout"`
		Remote      struct {
			URL          string   `yaml:"url"`
			TokenURL     string   `yaml:"token_url"`
			ClientID     string   `yaml:"client_id"`
			ClientSecret string   `yaml:"client_secret"`
			Scopes       []string `yaml:"scopes"`
		} `yaml:"remote"`
	} `yaml:"classifier"`
	Storage struct {
		Driver        string `yaml:"driver"`
		RedisURL      string `yaml:"redis_url"`
		DatabaseURL   string `yaml:"database_url"`
		Namespace     string `yaml:"namespace"`
		FlushInterval string `yaml:"flush_interval"`
	} `yaml:"storage"`
	Events struct {
		Queue string `yaml:"queue"`
	} `yaml:"events"`
	TurnLock struct {
		TTL string `yaml:"ttl"`
	} `yaml:"turnlock"`
}

// Load reads CONFIG_PATH. A missing file is not an error: every setting
// then comes from the environment or its default.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", DefaultPath)

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// env-only
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	default:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	return build(raw)
}

func build(raw rawConfig) (*Config, error) {
	rc := raw.Classifier
	cfg := &Config{
		Port:       firstPositive(raw.Server.Port, envOrDefaultInt("PORT", 8080)),
		AdminEmail: firstNonEmpty(raw.Identity.AdminEmail, envOrDefault("ADMIN_EMAIL", "admin@vdm.ai")),
		AdminName:  firstNonEmpty(raw.Identity.AdminName, envOrDefault("ADMIN_NAME", "System Administrator")),
		Classifier: ClassifierConfig{
			Provider:     strings.ToLower(firstNonEmpty(rc.Provider, os.Getenv("CLASSIFIER_PROVIDER"))),
			Model:        firstNonEmpty(rc.Model, envOrDefault("GEMINI_MODEL", "gemini-3-flash-preview")),
			APIKey:       firstNonEmpty(rc.APIKey, os.Getenv("GEMINI_API_KEY")),
			Temperature:  envOrDefaultFloat32("CLASSIFIER_TEMPERATURE", 0.2),
			Streaming:    envOrDefaultBool("CLASSIFIER_STREAMING", true),
			Timeout:      durationOr(rc.Timeout, envOrDefaultDuration("CLASSIFIER_TIMEOUT", 30*time.Second)),
			RemoteURL:    firstNonEmpty(rc.Remote.URL, os.Getenv("CLASSIFIER_URL")),
			TokenURL:     firstNonEmpty(rc.Remote.TokenURL, os.Getenv("CLASSIFIER_TOKEN_URL")),
			ClientID:     firstNonEmpty(rc.Remote.ClientID, os.Getenv("CLASSIFIER_CLIENT_ID")),
			ClientSecret: firstNonEmpty(rc.Remote.ClientSecret, os.Getenv("CLASSIFIER_CLIENT_SECRET")),
			Scopes:       rc.Remote.Scopes,
		},
		Storage: StorageConfig{
			Driver:        strings.ToLower(firstNonEmpty(raw.Storage.Driver, envOrDefault("STORAGE_DRIVER", DriverMemory))),
			RedisURL:      firstNonEmpty(raw.Storage.RedisURL, os.Getenv("REDIS_URL")),
			DatabaseURL:   firstNonEmpty(raw.Storage.DatabaseURL, os.Getenv("DATABASE_URL")),
			Namespace:     firstNonEmpty(raw.Storage.Namespace, envOrDefault("STORAGE_NAMESPACE", "civic")),
			FlushInterval: durationOr(raw.Storage.FlushInterval, envOrDefaultDuration("FLUSH_INTERVAL", 5*time.Second)),
		},
		EventsQueue: firstNonEmpty(raw.Events.Queue, envOrDefault("EVENTS_QUEUE", "civic:events")),
		TurnLockTTL: durationOr(raw.TurnLock.TTL, envOrDefaultDuration("TURN_LOCK_TTL", 2*time.Minute)),
	}

	if rc.Temperature != nil {
		cfg.Classifier.Temperature = *rc.Temperature
	}
	if rc.Streaming != nil {
		cfg.Classifier.Streaming = *rc.Streaming
	}

	if cfg.Classifier.Provider == "" {
		switch {
		case cfg.Classifier.APIKey != "":
			cfg.Classifier.Provider = ProviderGemini
		case cfg.Classifier.RemoteURL != "":
			cfg.Classifier.Provider = ProviderRemote
		default:
			cfg.Classifier.Provider = ProviderNone
		}
	}

	// The turn lock must outlive the longest classification.
	if cfg.TurnLockTTL <= cfg.Classifier.Timeout {
		cfg.TurnLockTTL = cfg.Classifier.Timeout + 30*time.Second
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Classifier.Provider {
	case ProviderGemini:
		if c.Classifier.APIKey == "" {
			return fmt.Errorf("classifier provider gemini requires an api key (GEMINI_API_KEY)")
		}
	case ProviderRemote:
		if c.Classifier.RemoteURL == "" {
			return fmt.Errorf("classifier provider remote requires a url (CLASSIFIER_URL)")
		}
	case ProviderNone:
	default:
		return fmt.Errorf("unknown classifier provider %q", c.Classifier.Provider)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage driver redis requires redis_url (REDIS_URL)")
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage driver postgres requires database_url (DATABASE_URL)")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Classifier.Temperature < 0 || c.Classifier.Temperature > 2 {
		return fmt.Errorf("classifier temperature %.2f out of range [0, 2]", c.Classifier.Temperature)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func durationOr(v string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
