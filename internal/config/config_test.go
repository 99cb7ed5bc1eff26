package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("BRIDGE_SERVER__PORT")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %v, want 8080", cfg.Server.Port)
	}
	if cfg.Provider.Name != "openai" {
		t.Errorf("provider name = %q, want openai", cfg.Provider.Name)
	}
	if cfg.Provider.BaseURL != "" {
		t.Errorf("base URL = %q, want empty", cfg.Provider.BaseURL)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9090
provider:
  name: local-llm
  base_url: http://localhost:11434/v1
  default_model: llama3
usage:
  path: usage.db
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %v, want 9090", cfg.Server.Port)
	}
	if cfg.Provider.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("base URL = %q", cfg.Provider.BaseURL)
	}
	if cfg.Provider.DefaultModel != "llama3" {
		t.Errorf("default model = %q", cfg.Provider.DefaultModel)
	}
	if cfg.Usage.Path != "usage.db" {
		t.Errorf("usage path = %q", cfg.Usage.Path)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BRIDGE_SERVER__PORT", "9000")
	t.Setenv("BRIDGE_PROVIDER__BASE_URL", "https://api.example.com/v1")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %v, want 9000", cfg.Server.Port)
	}
	if cfg.Provider.BaseURL != "https://api.example.com/v1" {
		t.Errorf("base URL = %q", cfg.Provider.BaseURL)
	}
}

func TestAPIKeySubstitution(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "sk-secret")
	t.Setenv("BRIDGE_PROVIDER__API_KEY", "${TEST_PROVIDER_KEY}")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Provider.APIKey != "sk-secret" {
		t.Errorf("api key = %q", cfg.Provider.APIKey)
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple substitution", "${TEST_VAR}", "test-value"},
		{"substitution in string", "prefix-${TEST_VAR}-suffix", "prefix-test-value-suffix"},
		{"no substitution", "plain-string", "plain-string"},
		{"undefined var", "${UNDEFINED_VAR}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := substituteEnvVars(tt.input); got != tt.want {
				t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
