package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider constants for backend selection.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// BackendConfig describes one council member. ID is the model identifier
// callers use in participant lists; Model is the provider-side model name.
type BackendConfig struct {
	ID          string        `yaml:"id"`
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	MaxRetries  int           `yaml:"max_retries"`
	Temperature *float64      `yaml:"temperature"`

	// SystemPrompt is sent with every call to this backend.
	SystemPrompt string `yaml:"system_prompt"`

	// ReasoningEffort applies to OpenAI reasoning models only.
	ReasoningEffort string `yaml:"reasoning_effort"`
}

type backendsFile struct {
	Backends []BackendConfig `yaml:"backends"`
}

// LoadBackends reads the backend roster. API keys and base URLs may reference
// environment variables (e.g. "${OPENAI_API_KEY}").
//
// Example:
//
//	backends:
//	  - id: gpt-4o
//	    provider: openai
//	    model: gpt-4o
//	    api_key: ${OPENAI_API_KEY}
//	    timeout: 45s
//	  - id: o3-mini
//	    provider: openai
//	    api_key: ${OPENAI_API_KEY}
//	    reasoning_effort: medium
func LoadBackends(path string) ([]BackendConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading backends file %s: %w", path, err)
	}
	return ParseBackends(data)
}

// ParseBackends decodes and validates a backend roster document.
func ParseBackends(data []byte) ([]BackendConfig, error) {
	var doc backendsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &doc); err != nil {
		return nil, fmt.Errorf("parsing backends file: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Backends))
	for i := range doc.Backends {
		b := &doc.Backends[i]
		b.ID = strings.TrimSpace(b.ID)
		if b.ID == "" {
			return nil, fmt.Errorf("backend %d: id is required", i)
		}
		if _, dup := seen[b.ID]; dup {
			return nil, fmt.Errorf("backend %s: duplicate id", b.ID)
		}
		seen[b.ID] = struct{}{}

		if b.Provider == "" {
			b.Provider = ProviderOpenAI
		}
		if b.Provider != ProviderOpenAI && b.Provider != ProviderAnthropic {
			return nil, fmt.Errorf("backend %s: unsupported provider %q", b.ID, b.Provider)
		}
		if b.APIKey == "" {
			return nil, fmt.Errorf("backend %s: api_key is required", b.ID)
		}
		if b.Model == "" {
			b.Model = b.ID
		}
		switch b.ReasoningEffort {
		case "", "low", "medium", "high":
		default:
			return nil, fmt.Errorf("backend %s: unsupported reasoning_effort %q", b.ID, b.ReasoningEffort)
		}
		if b.ReasoningEffort != "" && b.Provider != ProviderOpenAI {
			return nil, fmt.Errorf("backend %s: reasoning_effort requires the openai provider", b.ID)
		}
	}

	return doc.Backends, nil
}
