package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads a configuration from a YAML file on top of defaults.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Substitute environment variables
	content := substituteEnvVars(string(data))

	cfg := NewDefault()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return cfg, nil
}

// Save saves a configuration to a YAML file
func Save(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// FromEnv builds a Config from SHOPGRAPH_* environment variables on top of
// defaults. Only the shop credentials are read here; tuning knobs come from
// the config file.
func FromEnv() *Config {
	cfg := NewDefault()
	if v := os.Getenv("SHOPGRAPH_SHOP_DOMAIN"); v != "" {
		cfg.Shop.Domain = v
	}
	if v := os.Getenv("SHOPGRAPH_ACCESS_TOKEN"); v != "" {
		cfg.Shop.AccessToken = v
	}
	if v := os.Getenv("SHOPGRAPH_API_VERSION"); v != "" {
		cfg.Shop.APIVersion = v
	}
	return cfg
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
