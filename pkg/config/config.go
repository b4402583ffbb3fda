// Package config loads the process-wide defaults from
// ~/.optics/global_config.yaml and the per-session configuration supplied
// over HTTP or as a YAML file alongside the suite.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/errcode"
)

// EnvSessionOverrides names the environment variable holding a JSON
// SessionConfig fragment applied over every incoming session config.
const EnvSessionOverrides = "TEST_SESSION_ENV_VARIABLES"

// Global is the process configuration. Absent fields fall back to
// DefaultGlobal values.
type Global struct {
	ServerAddr           string  `yaml:"server_addr"`
	OutputRoot           string  `yaml:"output_root"`
	EventQueueSize       int     `yaml:"event_queue_size"`
	ScreenshotIntervalMS int     `yaml:"screenshot_interval_ms"`
	DedupThreshold       float64 `yaml:"dedup_threshold"`
	CombinationCap       int     `yaml:"combination_cap"`
	RetentionDays        int     `yaml:"retention_days"`
	CleanupIntervalMin   int     `yaml:"cleanup_interval_min"`
}

// DefaultGlobal returns the built-in process defaults.
func DefaultGlobal() Global {
	return Global{
		ServerAddr:           ":8080",
		OutputRoot:           "execution_output",
		EventQueueSize:       1024,
		ScreenshotIntervalMS: 500,
		DedupThreshold:       0.80,
		CombinationCap:       20,
		RetentionDays:        30,
		CleanupIntervalMin:   360,
	}
}

// GlobalPath returns ~/.optics/global_config.yaml.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".optics", "global_config.yaml"), nil
}

// LoadGlobal reads the global config at path, creating it with defaults on
// first use. An empty path selects GlobalPath().
func LoadGlobal(path string, logger *slog.Logger) (Global, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		p, err := GlobalPath()
		if err != nil {
			return Global{}, err
		}
		path = p
	}

	cfg := DefaultGlobal()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if writeErr := writeGlobal(path, cfg); writeErr != nil {
			return Global{}, writeErr
		}
		logger.Info("Created global config with defaults", "path", path)
		return cfg, nil
	}
	if err != nil {
		return Global{}, fmt.Errorf("reading global config %s: %w", path, err)
	}

	var user Global
	if err := yaml.Unmarshal(data, &user); err != nil {
		return Global{}, fmt.Errorf("parsing global config %s: %w", path, err)
	}
	if err := mergo.Merge(&cfg, user, mergo.WithOverride); err != nil {
		return Global{}, fmt.Errorf("merging global config: %w", err)
	}
	return cfg, nil
}

func writeGlobal(path string, cfg Global) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling global config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing global config %s: %w", path, err)
	}
	return nil
}

// SessionConfig declares one session's backends, project location and suite
// inputs. It is accepted as an HTTP request body (JSON) and as a YAML file.
type SessionConfig struct {
	DriverSources   []backend.InstanceConfig `yaml:"driver_sources" json:"driver_sources"`
	ElementsSources []backend.InstanceConfig `yaml:"elements_sources" json:"elements_sources"`
	// ElementSources is the accepted synonym for elements_sources; Normalize
	// folds it in.
	ElementSources []backend.InstanceConfig `yaml:"element_sources,omitempty" json:"element_sources,omitempty"`
	TextSources    []backend.InstanceConfig `yaml:"text_sources" json:"text_sources"`
	ImageSources   []backend.InstanceConfig `yaml:"image_sources" json:"image_sources"`
	ProjectPath    string                   `yaml:"project_path" json:"project_path"`
	Report         *bool                    `yaml:"report" json:"report"`
	SuiteFiles     []string                 `yaml:"suite_files" json:"suite_files"`
}

// Normalize folds synonym fields and defaults the project path to the
// working directory.
func (c *SessionConfig) Normalize() {
	if len(c.ElementsSources) == 0 && len(c.ElementSources) > 0 {
		c.ElementsSources = c.ElementSources
	}
	c.ElementSources = nil
	if c.ProjectPath == "" {
		c.ProjectPath = "."
	}
}

// ReportEnabled reports whether the JUnit writer is wanted (default true).
func (c *SessionConfig) ReportEnabled() bool {
	return c.Report == nil || *c.Report
}

// Instances returns every declared backend instance, drivers first, in
// declaration order.
func (c *SessionConfig) Instances() []backend.InstanceConfig {
	out := make([]backend.InstanceConfig, 0,
		len(c.DriverSources)+len(c.ElementsSources)+len(c.TextSources)+len(c.ImageSources))
	out = append(out, c.DriverSources...)
	out = append(out, c.ElementsSources...)
	out = append(out, c.TextSources...)
	out = append(out, c.ImageSources...)
	return out
}

// Validate checks that referenced files exist.
func (c *SessionConfig) Validate() error {
	var missing []string
	if c.ProjectPath != "" && c.ProjectPath != "." {
		if _, err := os.Stat(c.ProjectPath); err != nil {
			missing = append(missing, c.ProjectPath)
		}
	}
	for _, f := range c.SuiteFiles {
		if _, err := os.Stat(f); err != nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return errcode.Newf(errcode.ConfigMissingFiles,
			"missing configured files: %v", missing)
	}
	return nil
}

// ParseSessionConfig decodes a YAML session config and normalizes it.
func ParseSessionConfig(data []byte) (SessionConfig, error) {
	var cfg SessionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return SessionConfig{}, errcode.Wrap(errcode.ConfigMissingFiles, err).
			WithDetails("session config is not valid YAML")
	}
	cfg.Normalize()
	return cfg, nil
}

// LoadSessionConfigFile reads and parses a session config file.
func LoadSessionConfigFile(path string) (SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SessionConfig{}, errcode.Wrap(errcode.ConfigMissingFiles, err).
			WithDetails(path)
	}
	return ParseSessionConfig(data)
}

// ApplyEnvOverrides merges the TEST_SESSION_ENV_VARIABLES JSON fragment over
// cfg. An unset variable is a no-op.
func ApplyEnvOverrides(cfg *SessionConfig) error {
	raw := os.Getenv(EnvSessionOverrides)
	if raw == "" {
		return nil
	}
	var override SessionConfig
	if err := json.Unmarshal([]byte(raw), &override); err != nil {
		return fmt.Errorf("parsing %s: %w", EnvSessionOverrides, err)
	}
	// Fold the synonym only; a full Normalize would invent a project path
	// that then clobbers the real one in the merge.
	if len(override.ElementsSources) == 0 && len(override.ElementSources) > 0 {
		override.ElementsSources = override.ElementSources
		override.ElementSources = nil
	}
	if err := mergo.Merge(cfg, override, mergo.WithOverride); err != nil {
		return fmt.Errorf("applying %s: %w", EnvSessionOverrides, err)
	}
	cfg.Normalize()
	return nil
}
