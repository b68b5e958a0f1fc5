package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
)

// GetDefaultAuthPath returns the default auth file path.
func GetDefaultAuthPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".ai", "auth.json"), nil
}

// ResolveAPIKey resolves the API key for provider from <PROVIDER>_API_KEY or
// auth.json. An auth.json entry is either a string or an object with one of
// apiKey, key or token.
func ResolveAPIKey(provider string) (string, error) {
	providerKey := strings.ToLower(strings.TrimSpace(provider))
	if providerKey == "" {
		providerKey = "anthropic"
	}

	envVar := strings.ToUpper(strings.ReplaceAll(providerKey, "-", "_")) + "_API_KEY"
	if value := strings.TrimSpace(os.Getenv(envVar)); value != "" {
		return value, nil
	}

	authPath, err := GetDefaultAuthPath()
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(authPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("set %s or add %s", envVar, authPath)
		}
		return "", fmt.Errorf("failed to read auth file: %w", err)
	}
	data = jsonc.ToJSON(data)
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("failed to parse auth file %s", authPath)
	}

	var entry gjson.Result
	gjson.ParseBytes(data).ForEach(func(key, value gjson.Result) bool {
		if strings.EqualFold(key.String(), providerKey) {
			entry = value
			return false
		}
		return true
	})
	if !entry.Exists() {
		return "", fmt.Errorf("no credentials for %q in %s", providerKey, authPath)
	}

	if entry.Type == gjson.String {
		if key := strings.TrimSpace(entry.String()); key != "" {
			return key, nil
		}
	}
	if entry.IsObject() {
		for _, field := range []string{"apiKey", "key", "token"} {
			if key := strings.TrimSpace(entry.Get(field).String()); key != "" {
				return key, nil
			}
		}
	}

	return "", fmt.Errorf("empty credentials for %q in %s", providerKey, authPath)
}
