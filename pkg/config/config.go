// Package config provides configuration structures and loading logic for the
// llm2slm service and CLI.
package config

import (
	"fmt"
	"os"
	"strconv"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/llm2slm/llm2slm/pkg/domain"
	"github.com/llm2slm/llm2slm/pkg/privacy"
	"github.com/llm2slm/llm2slm/pkg/privacy/filter"
	"github.com/llm2slm/llm2slm/pkg/privacy/pii"
)

// Config holds the global configuration for the service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address         string `yaml:"address"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_seconds"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// PrivacyConfig holds the privacy subsystem options in their raw YAML form.
// ParseAnonymization and ParseFilter convert the raw blocks into validated
// runtime configurations; conversion fails fast on unknown enum values.
type PrivacyConfig struct {
	Level         string              `yaml:"level"`
	Anonymization AnonymizationConfig `yaml:"anonymization"`
	Filter        FilterConfig        `yaml:"filter"`
	Audit         AuditConfig         `yaml:"audit"`
	Compliance    ComplianceConfig    `yaml:"compliance"`
	ML            MLConfig            `yaml:"ml"`
}

// AnonymizationConfig is the raw YAML form of the PII anonymization options.
type AnonymizationConfig struct {
	Enabled        *bool             `yaml:"enabled"`
	Method         string            `yaml:"method"`
	Entities       []string          `yaml:"entities"`
	Language       string            `yaml:"language"`
	ScoreThreshold *float64          `yaml:"score_threshold"`
	MaskChar       string            `yaml:"mask_char"`
	CustomPatterns map[string]string `yaml:"custom_patterns"`
}

// FilterConfig is the raw YAML form of the content filter options.
type FilterConfig struct {
	Enabled         *bool              `yaml:"enabled"`
	Categories      []string           `yaml:"categories"`
	Thresholds      map[string]float64 `yaml:"thresholds"`
	Action          string             `yaml:"action"`
	CustomBlocklist []string           `yaml:"custom_blocklist"`
	ModelName       string             `yaml:"model_name"`
}

// AuditConfig controls where audit entries are persisted.
type AuditConfig struct {
	LogPath string `yaml:"log_path"`
}

// ComplianceConfig lists the Rego policy modules loaded at startup.
type ComplianceConfig struct {
	PolicyPaths []string `yaml:"policy_paths"`
	Entrypoint  string   `yaml:"entrypoint"`
}

// MLConfig locates the ONNX model bundle used by the ML-backed detector and
// classifier. An empty BundleDir leaves the ML backends unavailable.
type MLConfig struct {
	BundleDir      string `yaml:"bundle_dir"`
	SequenceLength int    `yaml:"sequence_length"`
}

// Load reads configuration from a file and applies environment variable
// overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ShutdownTimeout: 10,
		},
		Privacy: PrivacyConfig{
			Level: string(privacy.LevelMedium),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		expanded := []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("LLM2SLM_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("LLM2SLM_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("LLM2SLM_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("LLM2SLM_PRIVACY_LEVEL"); val != "" {
		cfg.Privacy.Level = val
	}
	if val := os.Getenv("LLM2SLM_AUDIT_LOG"); val != "" {
		cfg.Privacy.Audit.LogPath = val
	}
	if val := os.Getenv("LLM2SLM_ML_BUNDLE_DIR"); val != "" {
		cfg.Privacy.ML.BundleDir = val
	}
	if val := os.Getenv("LLM2SLM_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("LLM2SLM_SHUTDOWN_TIMEOUT"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil && seconds > 0 {
			cfg.Server.ShutdownTimeout = seconds
		}
	}
}

// Validate checks the whole configuration, including conversion of the raw
// privacy blocks, so startup fails before any component is constructed.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return domain.NewConfigError("server.address", "", "listen address is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return domain.NewConfigError("server.shutdown_timeout_seconds", strconv.Itoa(c.Server.ShutdownTimeout), "must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return domain.NewConfigError("logging.level", c.Logging.Level, "must be one of debug, info, warn, error")
	}

	if _, err := privacy.ParseLevel(c.Privacy.Level); err != nil {
		return err
	}
	if _, err := c.Privacy.ParseAnonymization(); err != nil {
		return err
	}
	if _, err := c.Privacy.ParseFilter(); err != nil {
		return err
	}
	if c.Privacy.ML.SequenceLength < 0 {
		return domain.NewConfigError("privacy.ml.sequence_length", strconv.Itoa(c.Privacy.ML.SequenceLength), "must not be negative")
	}

	return nil
}

// ParseLevel returns the parsed compliance tier.
func (p PrivacyConfig) ParseLevel() (privacy.Level, error) {
	return privacy.ParseLevel(p.Level)
}

// ParseAnonymization converts the raw anonymization block into a validated
// runtime configuration, starting from the package defaults.
func (p PrivacyConfig) ParseAnonymization() (pii.AnonymizationConfig, error) {
	cfg := pii.DefaultConfig()
	raw := p.Anonymization

	if raw.Enabled != nil {
		cfg.Enabled = *raw.Enabled
	}
	if raw.Method != "" {
		method, err := pii.ParseMethod(raw.Method)
		if err != nil {
			return pii.AnonymizationConfig{}, err
		}
		cfg.Method = method
	}
	if len(raw.Entities) > 0 {
		entities := make(map[pii.EntityType]bool, len(raw.Entities))
		for _, name := range raw.Entities {
			et, err := pii.ParseEntityType(name)
			if err != nil {
				return pii.AnonymizationConfig{}, err
			}
			entities[et] = true
		}
		cfg.Entities = entities
	}
	if raw.Language != "" {
		cfg.Language = raw.Language
	}
	if raw.ScoreThreshold != nil {
		cfg.ScoreThreshold = *raw.ScoreThreshold
	}
	if raw.MaskChar != "" {
		if utf8.RuneCountInString(raw.MaskChar) != 1 {
			return pii.AnonymizationConfig{}, domain.NewConfigError("privacy.anonymization.mask_char", raw.MaskChar, "must be a single character")
		}
		r, _ := utf8.DecodeRuneInString(raw.MaskChar)
		cfg.MaskChar = r
	}
	if len(raw.CustomPatterns) > 0 {
		cfg.CustomPatterns = raw.CustomPatterns
	}

	if err := cfg.Validate(); err != nil {
		return pii.AnonymizationConfig{}, err
	}
	return cfg, nil
}

// ParseFilter converts the raw filter block into a validated runtime
// configuration, starting from the package defaults.
func (p PrivacyConfig) ParseFilter() (filter.Config, error) {
	cfg := filter.DefaultConfig()
	raw := p.Filter

	if raw.Enabled != nil {
		cfg.Enabled = *raw.Enabled
	}
	if len(raw.Categories) > 0 {
		categories := make(map[filter.Category]bool, len(raw.Categories))
		for _, name := range raw.Categories {
			cat, err := filter.ParseCategory(name)
			if err != nil {
				return filter.Config{}, err
			}
			categories[cat] = true
		}
		cfg.Categories = categories
	}
	if len(raw.Thresholds) > 0 {
		thresholds := make(map[filter.Category]float64, len(raw.Thresholds))
		for name, th := range raw.Thresholds {
			cat, err := filter.ParseCategory(name)
			if err != nil {
				return filter.Config{}, err
			}
			thresholds[cat] = th
		}
		cfg.Thresholds = thresholds
	}
	if raw.Action != "" {
		action, err := filter.ParseAction(raw.Action)
		if err != nil {
			return filter.Config{}, err
		}
		cfg.Action = action
	}
	if len(raw.CustomBlocklist) > 0 {
		cfg.CustomBlocklist = raw.CustomBlocklist
	}
	if raw.ModelName != "" {
		cfg.ModelName = raw.ModelName
	}

	if err := cfg.Validate(); err != nil {
		return filter.Config{}, err
	}
	return cfg, nil
}
