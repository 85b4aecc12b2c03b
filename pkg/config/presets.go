package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PresetBot is one bot definition from the optional BOTS_CONFIG file.
// Parameters carries the type-specific strategy fields verbatim.
type PresetBot struct {
	Type       string         `yaml:"type"`
	Symbol     string         `yaml:"symbol"`
	APIKey     string         `yaml:"api_key"`
	APISecret  string         `yaml:"api_secret"`
	Testnet    *bool          `yaml:"testnet"`
	Parameters map[string]any `yaml:"parameters"`
}

type presetFile struct {
	Bots []PresetBot `yaml:"bots"`
}

// LoadPresets reads preset bot definitions from a YAML file.
func LoadPresets(path string) ([]PresetBot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for i, b := range file.Bots {
		if b.Type == "" || b.Symbol == "" {
			return nil, fmt.Errorf("preset bot %d: type and symbol are required", i)
		}
	}
	return file.Bots, nil
}

// ParamsJSON flattens the preset's parameters into the JSON document the
// strategy factory decodes.
func (p PresetBot) ParamsJSON() (json.RawMessage, error) {
	doc := make(map[string]any, len(p.Parameters))
	for k, v := range p.Parameters {
		doc[k] = v
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode preset params: %w", err)
	}
	return raw, nil
}
