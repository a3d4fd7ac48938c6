package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Runtime tuning variables. They take precedence over the config file.
const (
	EnvConfigPath       = "STORYQA_CONFIG"
	EnvCacheTTL         = "STORYQA_CACHE_TTL"
	EnvRetryWait        = "STORYQA_RETRY_WAIT"
	EnvRetryMaxAttempts = "STORYQA_RETRY_MAX_ATTEMPTS"
)

// CacheConfig tunes the response cache.
type CacheConfig struct {
	MaxSize int           `yaml:"max_size,omitempty"` // Maximum entries before a purge/clear
	TTL     time.Duration `yaml:"ttl,omitempty"`      // Zero disables expiry
}

// RetryConfig tunes rate-limit retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	Wait        time.Duration `yaml:"wait,omitempty"`
}

// PipelineConfig tunes the pipelines.
type PipelineConfig struct {
	PlanSummaryLimit int `yaml:"plan_summary_limit,omitempty"` // Test cases summarized in the plan report prompt
}

// MockConfig tunes the mock backend.
type MockConfig struct {
	Delay time.Duration `yaml:"delay,omitempty"`
}

// DatabaseConfig locates the run history database.
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"`
}

// AppConfig holds runtime tuning. Backend selection and credentials never live
// here; they come from the environment via Settings.
type AppConfig struct {
	Cache    CacheConfig    `yaml:"cache,omitempty"`
	Retry    RetryConfig    `yaml:"retry,omitempty"`
	Pipeline PipelineConfig `yaml:"pipeline,omitempty"`
	Mock     MockConfig     `yaml:"mock,omitempty"`
	Database DatabaseConfig `yaml:"database,omitempty"`
}

// DefaultAppConfig returns the built-in defaults.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Cache: CacheConfig{
			MaxSize: 128,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Wait:        60 * time.Second,
		},
		Pipeline: PipelineConfig{
			PlanSummaryLimit: 10,
		},
		Mock: MockConfig{
			Delay: 100 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Path: "storyqa.db",
		},
	}
}

// GetAppConfigPath returns the default config file path.
// Can be overridden via STORYQA_CONFIG environment variable.
func GetAppConfigPath() string {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.storyqa/config.yaml"
	}
	return filepath.Join(homeDir, ".storyqa", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// LoadAppConfig loads the config file at path over the defaults, then applies
// environment overrides. A missing file yields the defaults.
func LoadAppConfig(path string) (*AppConfig, error) {
	return LoadAppConfigFrom(path, os.LookupEnv)
}

// LoadAppConfigFrom is LoadAppConfig with lookup reading the environment overrides.
func LoadAppConfigFrom(path string, lookup func(string) (string, bool)) (*AppConfig, error) {
	defaults := DefaultAppConfig()

	expandedPath := expandPath(path)
	if expandedPath != "" {
		if _, err := os.Stat(expandedPath); err == nil {
			data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
			}

			var fileConfig AppConfig
			if err := yaml.Unmarshal(data, &fileConfig); err != nil {
				return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
			}

			// Merge file config onto defaults
			if err := mergo.Merge(&defaults, fileConfig, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge config file: %w", err)
			}
		}
	}

	if err := applyEnvOverrides(&defaults, lookup); err != nil {
		return nil, err
	}
	if defaults.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry.max_attempts must be at least 1, got %d", defaults.Retry.MaxAttempts)
	}
	return &defaults, nil
}

func applyEnvOverrides(cfg *AppConfig, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvCacheTTL); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvCacheTTL, err)
		}
		cfg.Cache.TTL = d
	}
	if v, ok := lookup(EnvRetryWait); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRetryWait, err)
		}
		cfg.Retry.Wait = d
	}
	if v, ok := lookup(EnvRetryMaxAttempts); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRetryMaxAttempts, err)
		}
		cfg.Retry.MaxAttempts = n
	}
	return nil
}

// SaveAppConfig writes cfg as YAML to path.
func SaveAppConfig(cfg *AppConfig, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
