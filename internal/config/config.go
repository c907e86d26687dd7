// Package config loads sniproxy's static startup configuration from
// built-in defaults, an optional YAML override file, and environment
// variables, in that order of increasing precedence. There is no
// reload path: the only configuration-change mechanism is
// SIGHUP-triggered shutdown, so once Load returns, the returned
// Config is immutable for the life of the process.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the proxy. BackendRoot is the
// filesystem directory backend names are resolved relative to;
// everything else governs timeouts and presentation.
type Config struct {
	BackendRoot      string        `yaml:"backend_root"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ShutdownGrace    time.Duration `yaml:"shutdown_grace"`
	LogFormat        string        `yaml:"log_format"` // plain | json
}

const (
	defaultBackendRoot      = "."
	defaultHandshakeTimeout = 10 * time.Second
	defaultShutdownGrace    = 10 * time.Second
	defaultLogFormat        = "plain"
)

const (
	envConfigFile       = "SNIPROXY_CONFIG"
	envBackendRoot      = "SNIPROXY_BACKEND_ROOT"
	envHandshakeTimeout = "SNIPROXY_HANDSHAKE_TIMEOUT"
	envShutdownGrace    = "SNIPROXY_SHUTDOWN_GRACE"
	envLogFormat        = "SNIPROXY_LOG_FORMAT"
)

// Default returns the spec-mandated defaults: backend directories
// resolved relative to the working directory, a 10-second handshake
// deadline, and a 10-second post-shutdown grace period.
func Default() Config {
	return Config{
		BackendRoot:      defaultBackendRoot,
		HandshakeTimeout: defaultHandshakeTimeout,
		ShutdownGrace:    defaultShutdownGrace,
		LogFormat:        defaultLogFormat,
	}
}

// Load builds a Config from, in increasing precedence: the built-in
// defaults, an optional YAML file (either the path named by
// SNIPROXY_CONFIG, or an absent-is-fine ./sniproxy.yaml), then
// environment variable overrides. Accumulated validation errors are
// joined and returned rather than failing fast.
func Load() (Config, error) {
	cfg := Default()
	var errs []error

	if err := mergeYAMLFile(&cfg, configFilePath()); err != nil {
		errs = append(errs, err)
	}

	mergeEnv(&cfg, &errs)

	if err := validate(&cfg); err != nil {
		errs = append(errs, err)
	}

	return cfg, errors.Join(errs...)
}

func configFilePath() string {
	if v := strings.TrimSpace(os.Getenv(envConfigFile)); v != "" {
		return v
	}
	return "sniproxy.yaml"
}

func mergeYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if override.BackendRoot != "" {
		cfg.BackendRoot = override.BackendRoot
	}
	if override.HandshakeTimeout > 0 {
		cfg.HandshakeTimeout = override.HandshakeTimeout
	}
	if override.ShutdownGrace > 0 {
		cfg.ShutdownGrace = override.ShutdownGrace
	}
	if override.LogFormat != "" {
		cfg.LogFormat = override.LogFormat
	}
	return nil
}

func mergeEnv(cfg *Config, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(envBackendRoot)); v != "" {
		cfg.BackendRoot = v
	}
	if v := strings.TrimSpace(os.Getenv(envHandshakeTimeout)); v != "" {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			*errs = append(*errs, fmt.Errorf("invalid %s: %q", envHandshakeTimeout, v))
		} else {
			cfg.HandshakeTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv(envShutdownGrace)); v != "" {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			*errs = append(*errs, fmt.Errorf("invalid %s: %q", envShutdownGrace, v))
		} else {
			cfg.ShutdownGrace = d
		}
	}
	if v := strings.TrimSpace(os.Getenv(envLogFormat)); v != "" {
		switch strings.ToLower(v) {
		case "plain", "json":
			cfg.LogFormat = strings.ToLower(v)
		default:
			*errs = append(*errs, fmt.Errorf("invalid %s: %q (must be plain|json)", envLogFormat, v))
		}
	}
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.BackendRoot == "" {
		errs = append(errs, fmt.Errorf("backend root must not be empty"))
		cfg.BackendRoot = defaultBackendRoot
	}
	if cfg.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("handshake timeout must be positive, got %s", cfg.HandshakeTimeout))
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		errs = append(errs, fmt.Errorf("shutdown grace must be positive, got %s", cfg.ShutdownGrace))
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	if cfg.LogFormat != "plain" && cfg.LogFormat != "json" {
		cfg.LogFormat = defaultLogFormat
	}
	return errors.Join(errs...)
}
