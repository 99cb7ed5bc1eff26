// Package config loads gateway configuration from config.yaml and
// BRIDGE_-prefixed environment variables, env winning on conflict.
package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Provider ProviderConfig `koanf:"provider"`
	Usage    UsageConfig    `koanf:"usage"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

// ProviderConfig identifies the single OpenAI-compatible backend the gateway
// forwards to.
type ProviderConfig struct {
	// Name labels the provider in logs and error messages.
	Name string `koanf:"name"`

	// BaseURL is the backend API root, e.g. "https://api.openai.com/v1".
	// Requests fail with a configuration error while it is empty.
	BaseURL string `koanf:"base_url"`

	// APIKey may reference an environment variable as ${VAR_NAME}.
	APIKey string `koanf:"api_key"`

	// DefaultModel is used when a request supplies no model.
	DefaultModel string `koanf:"default_model"`
}

// UsageConfig configures the usage-accounting store. An empty path disables
// recording.
type UsageConfig struct {
	Path string `koanf:"path"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml from the working directory, if present, and
// overlays BRIDGE_ environment variables (BRIDGE_SERVER__PORT and friends).
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile is Load with an explicit file path.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// A missing file is fine, env vars alone can configure everything.
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("BRIDGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "BRIDGE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("provider.name") {
		k.Set("provider.name", "openai")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Provider.APIKey = substituteEnvVars(cfg.Provider.APIKey)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
