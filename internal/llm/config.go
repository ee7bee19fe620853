// Package llm provides a concrete ports.LLMGateway over langchaingo's
// OpenAI-compatible client, grounded on the teacher's internal/llm
// (ModelConfig/ConfigFile/CreateLLM) and on its schema_linker.go retry
// loop around llm.Call. The teacher's multi-model catalog (eight
// interchangeable providers selected by flag) is collapsed to the one
// active model a workspace is configured with — the engine never
// switches models mid-request, so the catalog's switching machinery had
// no caller in this domain.
package llm

import (
	"encoding/json"
	"fmt"
	"os"
)

// ModelConfig names one OpenAI-compatible model endpoint.
type ModelConfig struct {
	ModelName string `json:"model_name"`
	Token     string `json:"token"`
	BaseURL   string `json:"base_url"`
}

// ConfigFile is the on-disk shape of llm_config.json: one active model
// plus a named fallback tried when the active model's dependency is
// unavailable (spec §7 dependency_unavailable handling).
type ConfigFile struct {
	Active   ModelConfig `json:"active"`
	Fallback ModelConfig `json:"fallback,omitempty"`
}

// LoadConfig reads and parses path, trying the same relative-path
// fallback chain the teacher's loadConfig used for llm_config.json.
func LoadConfig(path string) (*ConfigFile, error) {
	candidates := []string{path, "../" + path, "../../" + path}

	var lastErr error
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		var cfg ConfigFile
		if err := json.Unmarshal(data, &cfg); err != nil {
			lastErr = err
			continue
		}
		return &cfg, nil
	}
	return nil, fmt.Errorf("failed to load %s: %w", path, lastErr)
}
