package automation

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a declarative automation: trigger + condition + action blocks
// in the shape the Home Assistant automation config API consumes.
type Document struct {
	ID          string  `yaml:"id,omitempty" json:"id,omitempty"`
	Alias       string  `yaml:"alias" json:"alias"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Mode        string  `yaml:"mode,omitempty" json:"mode,omitempty"`
	Triggers    []Block `yaml:"trigger" json:"trigger"`
	Conditions  []Block `yaml:"condition,omitempty" json:"condition,omitempty"`
	Actions     []Block `yaml:"action" json:"action"`
}

// Block is one trigger/condition/action entry. Kept schemaless: the platform
// vocabulary is wide and versioned, and the safety rules only inspect a few
// well-known keys.
type Block map[string]any

// Decode parses an automation YAML document.
func Decode(code string) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal([]byte(code), &doc); err != nil {
		return nil, fmt.Errorf("automation: decode: %w", err)
	}
	return &doc, nil
}

// Encode renders the document as YAML, the form stored on the suggestion
// and shown to the user.
func (d *Document) Encode() (string, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("automation: encode: %w", err)
	}
	return string(out), nil
}

// String returns the string value under key, or "".
func (b Block) String(key string) string {
	if v, ok := b[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Platform returns the trigger platform, accepting both the legacy
// "platform" key and the newer "trigger" key.
func (b Block) Platform() string {
	if s := b.String("platform"); s != "" {
		return s
	}
	return b.String("trigger")
}

// Service returns the service called by an action block, accepting both
// "service" and the newer "action" key.
func (b Block) Service() string {
	if s := b.String("service"); s != "" {
		return s
	}
	return b.String("action")
}

// EntityIDs collects entity ids referenced by the block, looking at the
// top-level entity_id and the nested target.entity_id forms.
func (b Block) EntityIDs() []string {
	var out []string
	out = append(out, entityIDValues(b["entity_id"])...)
	if t, ok := b["target"].(map[string]any); ok {
		out = append(out, entityIDValues(t["entity_id"])...)
	}
	return out
}

func entityIDValues(v any) []string {
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, e := range x {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return x
	}
	return nil
}

// Domain returns the domain part of an entity id ("light.kitchen" -> "light").
func Domain(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i > 0 {
		return entityID[:i]
	}
	return ""
}
