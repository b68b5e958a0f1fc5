package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/tiancaiamao/sessioncompact/pkg/agent"
	"github.com/tiancaiamao/sessioncompact/pkg/compact"
	"github.com/tiancaiamao/sessioncompact/pkg/llm"
	"github.com/tiancaiamao/sessioncompact/pkg/logger"
)

// DefaultContextWindow is used when neither the config nor models.json
// gives the model's window.
const DefaultContextWindow = 128000

// Config represents the application configuration. It is built once by
// LoadConfig and not modified afterwards.
type Config struct {
	// Model is the primary summarization model.
	Model ModelConfig `json:"model" yaml:"model"`
	// FallbackModels are tried in order when the primary model fails.
	FallbackModels []ModelConfig `json:"fallbackModels,omitempty" yaml:"fallbackModels,omitempty"`

	Compaction    CompactionConfig    `json:"compaction" yaml:"compaction"`
	BranchSummary BranchSummaryConfig `json:"branchSummary" yaml:"branchSummary"`
	Prune         PruneConfig         `json:"prune" yaml:"prune"`
	Retry         RetryConfig         `json:"retry" yaml:"retry"`

	// Logging configuration
	Log *LogConfig `json:"log,omitempty" yaml:"log,omitempty"`

	// ModelsPath overrides the models.json location.
	ModelsPath string `json:"modelsPath,omitempty" yaml:"modelsPath,omitempty"`
}

// ModelConfig contains model configuration.
type ModelConfig struct {
	ID            string `json:"id" yaml:"id"`
	Provider      string `json:"provider" yaml:"provider"`
	BaseURL       string `json:"baseUrl" yaml:"baseUrl"`
	API           string `json:"api" yaml:"api"`
	ContextWindow int    `json:"contextWindow,omitempty" yaml:"contextWindow,omitempty"`
}

// CompactionConfig controls automatic and manual compaction.
type CompactionConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	ReserveTokens    int  `json:"reserveTokens" yaml:"reserveTokens"`
	KeepRecentTokens int  `json:"keepRecentTokens" yaml:"keepRecentTokens"`
	AutoContinue     bool `json:"autoContinue" yaml:"autoContinue"`
	ShortSummary     bool `json:"shortSummary,omitempty" yaml:"shortSummary,omitempty"`
	// RemoteEndpoint replaces the model call with a POST to this URL.
	RemoteEndpoint string `json:"remoteEndpoint,omitempty" yaml:"remoteEndpoint,omitempty"`
}

// BranchSummaryConfig controls summaries of abandoned branches.
type BranchSummaryConfig struct {
	Enabled             bool    `json:"enabled" yaml:"enabled"`
	ReserveTokens       int     `json:"reserveTokens" yaml:"reserveTokens"`
	ContinuityThreshold float64 `json:"continuityThreshold,omitempty" yaml:"continuityThreshold,omitempty"`
}

// PruneConfig controls tool output pruning.
type PruneConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	ProtectTokens  int      `json:"protectTokens" yaml:"protectTokens"`
	MinimumSavings int      `json:"minimumSavings" yaml:"minimumSavings"`
	ProtectedTools []string `json:"protectedTools,omitempty" yaml:"protectedTools,omitempty"`
}

// RetryConfig controls retries of summarization calls.
type RetryConfig struct {
	MaxAttempts    int     `json:"maxAttempts" yaml:"maxAttempts"`
	InitialDelayMs int     `json:"initialDelayMs" yaml:"initialDelayMs"`
	MaxDelayMs     int     `json:"maxDelayMs" yaml:"maxDelayMs"`
	Multiplier     float64 `json:"multiplier" yaml:"multiplier"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`   // Log level: debug, info, warn, error
	File   string `json:"file,omitempty" yaml:"file,omitempty"`     // Log file path (empty = no file logging)
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"` // Log prefix
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // text, json, or empty for auto
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	compaction := compact.DefaultSettings()
	branch := compact.DefaultBranchSettings()
	prune := compact.DefaultPruneSettings()
	retry := agent.DefaultRetryConfig()
	return &Config{
		Model: ModelConfig{
			ID:       "claude-3-5-haiku-latest",
			Provider: "anthropic",
			API:      "anthropic-messages",
		},
		Compaction: CompactionConfig{
			Enabled:          compaction.Enabled,
			ReserveTokens:    compaction.ReserveTokens,
			KeepRecentTokens: compaction.KeepRecentTokens,
			AutoContinue:     true,
		},
		BranchSummary: BranchSummaryConfig{
			Enabled:             branch.Enabled,
			ReserveTokens:       branch.ReserveTokens,
			ContinuityThreshold: branch.ContinuityThreshold,
		},
		Prune: PruneConfig{
			Enabled:        prune.Enabled,
			ProtectTokens:  prune.ProtectTokens,
			MinimumSavings: prune.MinimumSavings,
			ProtectedTools: prune.ProtectedTools,
		},
		Retry: RetryConfig{
			MaxAttempts:    retry.MaxAttempts,
			InitialDelayMs: int(retry.InitialDelay / time.Millisecond),
			MaxDelayMs:     int(retry.MaxDelay / time.Millisecond),
			Multiplier:     retry.Multiplier,
		},
		Log: DefaultLogConfig(),
	}
}

// DefaultLogConfig returns default logging configuration.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{Level: "info"}
}

// CreateLogger creates a logger from the log configuration.
func (c *LogConfig) CreateLogger() (*logger.Logger, error) {
	if c == nil {
		c = DefaultLogConfig()
	}
	return logger.New(&logger.Config{
		Level:    logger.ParseLogLevel(c.Level),
		Prefix:   c.Prefix,
		Console:  true,
		File:     c.File != "",
		FilePath: c.File,
		Format:   c.Format,
	})
}

// LoadConfig loads configuration from file and merges with environment variables.
// Environment variables take precedence over config file values. A missing
// file yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := decode(configPath, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if val := os.Getenv("AI_MODEL"); val != "" {
		cfg.Model.ID = val
	}
	if val := os.Getenv("AI_BASE_URL"); val != "" {
		cfg.Model.BaseURL = val
	}
	if val := os.Getenv("AI_COMPACTION_REMOTE_ENDPOINT"); val != "" {
		cfg.Compaction.RemoteEndpoint = val
	}
	if val := getEnvInt("AI_CONTEXT_WINDOW", 0); val > 0 {
		cfg.Model.ContextWindow = val
	}
	if val := os.Getenv("AI_LOG_LEVEL"); val != "" {
		if cfg.Log == nil {
			cfg.Log = DefaultLogConfig()
		}
		cfg.Log.Level = val
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(jsonc.ToJSON(data), cfg)
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Compaction.ReserveTokens < 0 {
		errs = append(errs, fmt.Errorf("compaction.reserveTokens must not be negative"))
	}
	if c.Compaction.KeepRecentTokens <= 0 {
		errs = append(errs, fmt.Errorf("compaction.keepRecentTokens must be positive"))
	}
	if c.BranchSummary.ReserveTokens < 0 {
		errs = append(errs, fmt.Errorf("branchSummary.reserveTokens must not be negative"))
	}
	if t := c.BranchSummary.ContinuityThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("branchSummary.continuityThreshold must be within [0, 1]"))
	}
	if c.Prune.ProtectTokens < 0 || c.Prune.MinimumSavings < 0 {
		errs = append(errs, fmt.Errorf("prune token settings must not be negative"))
	}
	if c.Retry.Multiplier < 0 {
		errs = append(errs, fmt.Errorf("retry.multiplier must not be negative"))
	}
	return errors.Join(errs...)
}

// SaveConfig saves configuration to file, as YAML for .yaml/.yml paths and
// JSON otherwise.
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CompactSettings returns the compaction settings.
func (c *Config) CompactSettings() compact.Settings {
	return compact.Settings{
		Enabled:          c.Compaction.Enabled,
		ReserveTokens:    c.Compaction.ReserveTokens,
		KeepRecentTokens: c.Compaction.KeepRecentTokens,
		ShortSummary:     c.Compaction.ShortSummary,
	}
}

// PruneSettings returns the pruning settings.
func (c *Config) PruneSettings() compact.PruneSettings {
	return compact.PruneSettings{
		Enabled:        c.Prune.Enabled,
		ProtectTokens:  c.Prune.ProtectTokens,
		MinimumSavings: c.Prune.MinimumSavings,
		ProtectedTools: append([]string(nil), c.Prune.ProtectedTools...),
	}
}

// BranchSettings returns the branch summary settings.
func (c *Config) BranchSettings() compact.BranchSettings {
	return compact.BranchSettings{
		Enabled:             c.BranchSummary.Enabled,
		ReserveTokens:       c.BranchSummary.ReserveTokens,
		ContinuityThreshold: c.BranchSummary.ContinuityThreshold,
	}
}

// ControllerConfig returns the compaction controller settings for a model
// with the given context window.
func (c *Config) ControllerConfig(contextWindow int) agent.Config {
	return agent.Config{
		Compaction:    c.CompactSettings(),
		AutoContinue:  c.Compaction.AutoContinue,
		Prune:         c.PruneSettings(),
		Branch:        c.BranchSettings(),
		ContextWindow: contextWindow,
		Retry: &agent.RetryConfig{
			MaxAttempts:  c.Retry.MaxAttempts,
			InitialDelay: time.Duration(c.Retry.InitialDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(c.Retry.MaxDelayMs) * time.Millisecond,
			Multiplier:   c.Retry.Multiplier,
		},
	}
}

// GetLLMModel converts ModelConfig to llm.Model.
func (m ModelConfig) GetLLMModel() llm.Model {
	return llm.Model{
		ID:            m.ID,
		Provider:      m.Provider,
		BaseURL:       m.BaseURL,
		API:           m.API,
		ContextWindow: m.ContextWindow,
	}
}

// ResolveContextWindow returns the primary model's context window from the
// config, then models.json, then DefaultContextWindow.
func (c *Config) ResolveContextWindow(specs []ModelSpec) int {
	if c.Model.ContextWindow > 0 {
		return c.Model.ContextWindow
	}
	if spec, ok := FindModelSpec(specs, c.Model.Provider, c.Model.ID); ok && spec.ContextWindow > 0 {
		return spec.ContextWindow
	}
	return DefaultContextWindow
}

// GetDefaultConfigPath returns the default config file path.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".ai", "compact.json"), nil
}

// getEnvInt gets an integer environment variable or returns a default.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}
