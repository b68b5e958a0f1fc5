package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tiancaiamao/sessioncompact/pkg/compact"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"AI_MODEL", "AI_BASE_URL", "AI_COMPACTION_REMOTE_ENDPOINT", "AI_CONTEXT_WINDOW", "AI_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

// TestLoadConfigDefaults tests loading config with default values.
func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if !cfg.Compaction.Enabled {
		t.Error("Expected compaction enabled by default")
	}
	if cfg.Compaction.ReserveTokens != 16384 {
		t.Errorf("Expected reserveTokens 16384, got %d", cfg.Compaction.ReserveTokens)
	}
	if cfg.Compaction.KeepRecentTokens != 20000 {
		t.Errorf("Expected keepRecentTokens 20000, got %d", cfg.Compaction.KeepRecentTokens)
	}
	if !cfg.Compaction.AutoContinue {
		t.Error("Expected autoContinue by default")
	}
	if cfg.Compaction.RemoteEndpoint != "" {
		t.Errorf("Expected no remote endpoint, got %q", cfg.Compaction.RemoteEndpoint)
	}
	if cfg.BranchSummary.Enabled {
		t.Error("Expected branch summary disabled by default")
	}
	if cfg.BranchSummary.ReserveTokens != 16384 {
		t.Errorf("Expected branch reserveTokens 16384, got %d", cfg.BranchSummary.ReserveTokens)
	}
	if cfg.Prune.ProtectTokens != 40000 || cfg.Prune.MinimumSavings != 20000 {
		t.Errorf("Unexpected prune defaults: %+v", cfg.Prune)
	}
}

// TestLoadConfigFromJSONC tests loading a commented JSON config.
func TestLoadConfigFromJSONC(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "compact.jsonc")
	data := `{
		// summarization model
		"model": {"id": "gpt-4o-mini", "provider": "openai", "api": "openai-completions"},
		"compaction": {
			"enabled": false,
			"keepRecentTokens": 8000, // smaller tail
		},
		"branchSummary": {"enabled": true},
	}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Model.ID != "gpt-4o-mini" {
		t.Errorf("Expected model gpt-4o-mini, got %q", cfg.Model.ID)
	}
	if cfg.Compaction.Enabled {
		t.Error("Expected compaction disabled from file")
	}
	if cfg.Compaction.KeepRecentTokens != 8000 {
		t.Errorf("Expected keepRecentTokens 8000, got %d", cfg.Compaction.KeepRecentTokens)
	}
	// Unset fields keep their defaults.
	if cfg.Compaction.ReserveTokens != 16384 {
		t.Errorf("Expected default reserveTokens, got %d", cfg.Compaction.ReserveTokens)
	}
	if !cfg.BranchSummary.Enabled {
		t.Error("Expected branch summary enabled from file")
	}
}

// TestLoadConfigFromYAML tests loading a YAML config.
func TestLoadConfigFromYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "compact.yaml")
	data := `
model:
  id: claude-3-5-haiku-latest
  provider: anthropic
  api: anthropic-messages
  contextWindow: 200000
fallbackModels:
  - id: gpt-4o-mini
    provider: openai
compaction:
  reserveTokens: 4096
  remoteEndpoint: http://localhost:9000/summarize
prune:
  protectedTools: [read]
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Model.ContextWindow != 200000 {
		t.Errorf("Expected context window 200000, got %d", cfg.Model.ContextWindow)
	}
	if len(cfg.FallbackModels) != 1 || cfg.FallbackModels[0].ID != "gpt-4o-mini" {
		t.Errorf("Unexpected fallback models: %+v", cfg.FallbackModels)
	}
	if cfg.Compaction.ReserveTokens != 4096 {
		t.Errorf("Expected reserveTokens 4096, got %d", cfg.Compaction.ReserveTokens)
	}
	if cfg.Compaction.RemoteEndpoint != "http://localhost:9000/summarize" {
		t.Errorf("Unexpected remote endpoint %q", cfg.Compaction.RemoteEndpoint)
	}
	if !cfg.Compaction.Enabled || !cfg.Compaction.AutoContinue {
		t.Error("Expected compaction defaults to survive a partial YAML section")
	}
	if len(cfg.Prune.ProtectedTools) != 1 || cfg.Prune.ProtectedTools[0] != "read" {
		t.Errorf("Unexpected protected tools: %v", cfg.Prune.ProtectedTools)
	}
}

// TestLoadConfigEnvOverride tests environment variable overrides.
func TestLoadConfigEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "compact.json")
	if err := os.WriteFile(path, []byte(`{"model": {"id": "from-file", "baseUrl": "https://file"}}`), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("AI_MODEL", "from-env")
	t.Setenv("AI_BASE_URL", "https://env")
	t.Setenv("AI_COMPACTION_REMOTE_ENDPOINT", "https://summarizer")
	t.Setenv("AI_CONTEXT_WINDOW", "64000")
	t.Setenv("AI_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Model.ID != "from-env" || cfg.Model.BaseURL != "https://env" {
		t.Errorf("Expected env model overrides, got %+v", cfg.Model)
	}
	if cfg.Compaction.RemoteEndpoint != "https://summarizer" {
		t.Errorf("Expected env remote endpoint, got %q", cfg.Compaction.RemoteEndpoint)
	}
	if cfg.Model.ContextWindow != 64000 {
		t.Errorf("Expected context window 64000, got %d", cfg.Model.ContextWindow)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %q", cfg.Log.Level)
	}
}

// TestLoadConfigInvalid tests parse and validation failures.
func TestLoadConfigInvalid(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"model": `), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Error("Expected parse error")
	}

	invalid := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(invalid, []byte(`{"compaction": {"keepRecentTokens": 0}, "branchSummary": {"continuityThreshold": 2}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(invalid); err == nil {
		t.Error("Expected validation error")
	}
}

// TestSaveConfigRoundTrip saves and reloads both formats.
func TestSaveConfigRoundTrip(t *testing.T) {
	clearEnv(t)
	for _, name := range []string{"nested/compact.json", "nested/compact.yaml"} {
		path := filepath.Join(t.TempDir(), name)
		cfg := DefaultConfig()
		cfg.Compaction.KeepRecentTokens = 12345
		if err := SaveConfig(cfg, path); err != nil {
			t.Fatalf("SaveConfig(%s): %v", name, err)
		}
		loaded, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig(%s): %v", name, err)
		}
		if loaded.Compaction.KeepRecentTokens != 12345 {
			t.Errorf("%s: keepRecentTokens = %d", name, loaded.Compaction.KeepRecentTokens)
		}
	}
}

// TestControllerConfig tests the conversion to engine settings.
func TestControllerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Compaction.ShortSummary = true
	cfg.Retry.InitialDelayMs = 250

	cc := cfg.ControllerConfig(100000)
	if cc.ContextWindow != 100000 {
		t.Errorf("Expected window 100000, got %d", cc.ContextWindow)
	}
	if cc.Compaction != (compact.Settings{Enabled: true, ReserveTokens: 16384, KeepRecentTokens: 20000, ShortSummary: true}) {
		t.Errorf("Unexpected compaction settings: %+v", cc.Compaction)
	}
	if !cc.AutoContinue {
		t.Error("Expected autoContinue")
	}
	if cc.Retry.InitialDelay != 250*time.Millisecond {
		t.Errorf("Expected 250ms initial delay, got %v", cc.Retry.InitialDelay)
	}
	if cc.Branch.ContinuityThreshold != 0.9 {
		t.Errorf("Expected continuity threshold 0.9, got %v", cc.Branch.ContinuityThreshold)
	}
}

// TestResolveContextWindow tests the lookup order.
func TestResolveContextWindow(t *testing.T) {
	specs := []ModelSpec{{ID: "m", Provider: "Anthropic", ContextWindow: 200000}}

	cfg := DefaultConfig()
	cfg.Model = ModelConfig{ID: "m", Provider: "anthropic"}
	if got := cfg.ResolveContextWindow(specs); got != 200000 {
		t.Errorf("Expected window from models.json, got %d", got)
	}
	cfg.Model.ContextWindow = 32000
	if got := cfg.ResolveContextWindow(specs); got != 32000 {
		t.Errorf("Expected configured window, got %d", got)
	}
	cfg.Model = ModelConfig{ID: "unknown"}
	if got := cfg.ResolveContextWindow(specs); got != DefaultContextWindow {
		t.Errorf("Expected default window, got %d", got)
	}
}

// TestCreateLogger tests logger construction from config.
func TestCreateLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "compact.log")
	log, err := (&LogConfig{Level: "debug", File: logPath, Format: "json"}).CreateLogger()
	if err != nil {
		t.Fatalf("CreateLogger: %v", err)
	}
	log.Debug("hello")
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("Expected log output in file")
	}

	var nilCfg *LogConfig
	if _, err := nilCfg.CreateLogger(); err != nil {
		t.Errorf("nil LogConfig should use defaults: %v", err)
	}
}
