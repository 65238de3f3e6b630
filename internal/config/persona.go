package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona shapes the voice of rendered responses. Addenda are optional
// per-intent closing remarks appended after the main response.
type Persona struct {
	Name     string            `yaml:"name"`
	Style    string            `yaml:"style"`
	Greeting string            `yaml:"greeting"`
	Addenda  map[string]string `yaml:"addenda"`
}

// Addendum returns the persona closing line for an intent, if any.
func (p *Persona) Addendum(intent string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.Addenda[intent])
}

// LoadPersona parses the persona YAML file.
func LoadPersona(path string) (*Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading persona file failed: %w", err)
	}
	var p Persona
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parsing persona file failed: %w", err)
	}
	return &p, nil
}

// LoadKeywords parses a YAML map of intent label to keyword list.
func LoadKeywords(path string) (map[string][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keywords file failed: %w", err)
	}
	var kw map[string][]string
	if err := yaml.Unmarshal(raw, &kw); err != nil {
		return nil, fmt.Errorf("parsing keywords file failed: %w", err)
	}
	return kw, nil
}
