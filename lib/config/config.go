// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "PRIVSEP_CONFIG"

// MaxMessageLength bounds each controller.messages entry so that a
// data line always fits in one frame with room for its envelope.
const MaxMessageLength = 2048

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the configuration shared by every role in one privsep
// process tree. The controller passes its --config path to its
// children, so all three roles load the same file.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Controller configures the supervising process.
	Controller ControllerConfig `yaml:"controller"`

	// Engine configures the engine child.
	Engine EngineConfig `yaml:"engine"`

	// Logging configures the slog handler of every role.
	Logging LoggingConfig `yaml:"logging"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Controller *ControllerConfig `yaml:"controller,omitempty"`
	Engine     *EngineConfig     `yaml:"engine,omitempty"`
	Logging    *LoggingConfig    `yaml:"logging,omitempty"`
}

// ControllerConfig configures the supervising process.
type ControllerConfig struct {
	// ShutdownDelay is how long the controller lets the children run
	// before sending both a stop message. Zero stops them as soon as
	// bootstrap completes.
	// Default: 5s
	ShutdownDelay time.Duration `yaml:"shutdown_delay"`

	// Executable is the binary spawned for the parser and engine roles.
	// A bare name is looked up in PATH. Empty means the controller's
	// own executable.
	Executable string `yaml:"executable"`

	// Messages are data lines sent to the parser after bootstrap. The
	// parser forwards each one to the engine.
	Messages []string `yaml:"messages"`

	// Greeting is the content of the file handed to the parser. The
	// parser reports its digest and size back to the controller.
	// Default: "hello from the controller\n"
	Greeting string `yaml:"greeting"`
}

// EngineConfig configures the engine child.
type EngineConfig struct {
	// HeartbeatInterval is the period of the engine's heartbeat to the
	// parser and the controller.
	// Default: 1s
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is one of auto, json, text. Auto picks text when stderr
	// is a terminal and JSON otherwise.
	// Default: auto (development), json (production)
	Format string `yaml:"format"`
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// Default returns the default configuration. It is what every role runs
// with when no config file is named.
func Default() *Config {
	return &Config{
		Environment: Development,
		Controller: ControllerConfig{
			ShutdownDelay: 5 * time.Second,
			Greeting:      "hello from the controller\n",
		},
		Engine: EngineConfig{
			HeartbeatInterval: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the file named by PRIVSEP_CONFIG.
//
// When the variable is unset the built-in defaults are returned. There
// is no file discovery: either a path is named explicitly or no file is
// read at all.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		cfg := Default()
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values. The only expansion performed is ${HOME} and
// similar variables in the executable path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: machine-readable logs.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Logging: &LoggingConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Controller != nil {
		if overrides.Controller.ShutdownDelay != 0 {
			c.Controller.ShutdownDelay = overrides.Controller.ShutdownDelay
		}
		if overrides.Controller.Executable != "" {
			c.Controller.Executable = overrides.Controller.Executable
		}
		if overrides.Controller.Messages != nil {
			c.Controller.Messages = overrides.Controller.Messages
		}
		if overrides.Controller.Greeting != "" {
			c.Controller.Greeting = overrides.Controller.Greeting
		}
	}

	if overrides.Engine != nil {
		if overrides.Engine.HeartbeatInterval != 0 {
			c.Engine.HeartbeatInterval = overrides.Engine.HeartbeatInterval
		}
	}

	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		if overrides.Logging.Format != "" {
			c.Logging.Format = overrides.Logging.Format
		}
	}

	// Production always logs JSON, whatever the override section says.
	if c.Environment == Production {
		c.Logging.Format = "json"
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Controller.Executable = expandVars(c.Controller.Executable, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Controller.ShutdownDelay < 0 {
		errs = append(errs, fmt.Errorf("controller.shutdown_delay must not be negative, got %v", c.Controller.ShutdownDelay))
	}
	if c.Environment == Production && c.Controller.ShutdownDelay == 0 {
		errs = append(errs, fmt.Errorf("controller.shutdown_delay must be set in production"))
	}

	for i, message := range c.Controller.Messages {
		if len(message) > MaxMessageLength {
			errs = append(errs, fmt.Errorf("controller.messages[%d] is %d bytes, limit is %d", i, len(message), MaxMessageLength))
		}
	}

	if c.Engine.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("engine.heartbeat_interval must be positive, got %v", c.Engine.HeartbeatInterval))
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	formats := []string{"auto", "json", "text"}
	if !contains(formats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", formats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

// ExecutablePath returns the binary the controller spawns its children
// from: controller.executable resolved against PATH when it is a bare
// name, or the running executable when unset.
func (c *Config) ExecutablePath() (string, error) {
	name := c.Controller.Executable
	if name == "" {
		path, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locating own executable: %w", err)
		}
		return path, nil
	}

	if strings.Contains(name, "/") {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("controller.executable: %w", err)
		}
		return name, nil
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH", name)
	}
	return path, nil
}
