package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
)

// ModelSpec represents a resolved model entry from models.json.
type ModelSpec struct {
	ID            string
	Name          string
	Provider      string
	BaseURL       string
	API           string
	ContextWindow int
	MaxTokens     int
}

type modelsFile struct {
	Providers map[string]providerConfig `json:"providers"`
}

type providerConfig struct {
	BaseURL string        `json:"baseUrl,omitempty"`
	API     string        `json:"api,omitempty"`
	Models  []modelConfig `json:"models,omitempty"`
}

type modelConfig struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	BaseURL       string `json:"baseUrl,omitempty"`
	API           string `json:"api,omitempty"`
	ContextWindow int    `json:"contextWindow,omitempty"`
	MaxTokens     int    `json:"maxTokens,omitempty"`
}

// GetDefaultModelsPath returns the default models file path.
func GetDefaultModelsPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".ai", "models.json"), nil
}

// ResolveModelsPath returns the models file path: the config's ModelsPath,
// then AI_MODELS_PATH, then the default.
func (c *Config) ResolveModelsPath() (string, error) {
	if c != nil && strings.TrimSpace(c.ModelsPath) != "" {
		return c.ModelsPath, nil
	}
	if override := strings.TrimSpace(os.Getenv("AI_MODELS_PATH")); override != "" {
		return override, nil
	}
	return GetDefaultModelsPath()
}

// LoadModelSpecs loads model specifications from a models.json file.
// Comments and trailing commas are allowed.
func LoadModelSpecs(path string) ([]ModelSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg modelsFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Providers) == 0 {
		return nil, nil
	}

	providers := make([]string, 0, len(cfg.Providers))
	for provider := range cfg.Providers {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	specs := make([]ModelSpec, 0)
	for _, provider := range providers {
		pcfg := cfg.Providers[provider]
		name := strings.TrimSpace(provider)
		if name == "" {
			continue
		}
		for _, model := range pcfg.Models {
			id := strings.TrimSpace(model.ID)
			if id == "" {
				continue
			}
			specs = append(specs, ModelSpec{
				ID:            id,
				Name:          strings.TrimSpace(model.Name),
				Provider:      name,
				BaseURL:       firstNonEmpty(model.BaseURL, pcfg.BaseURL),
				API:           firstNonEmpty(model.API, pcfg.API),
				ContextWindow: model.ContextWindow,
				MaxTokens:     model.MaxTokens,
			})
		}
	}

	return specs, nil
}

// FindModelSpec looks up a model by provider and id. Provider matching is
// case-insensitive; an empty provider matches any.
func FindModelSpec(specs []ModelSpec, provider, id string) (ModelSpec, bool) {
	for _, spec := range specs {
		if spec.ID != id {
			continue
		}
		if provider == "" || strings.EqualFold(spec.Provider, provider) {
			return spec, true
		}
	}
	return ModelSpec{}, false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}
