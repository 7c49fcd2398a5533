package decision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var shapeSchemas = map[Mode]string{
	ModeReply: `{
		"type": "object",
		"required": ["message"],
		"properties": {
			"mode": {"const": "reply"},
			"message": {"type": "string", "minLength": 1}
		},
		"not": {"anyOf": [{"required": ["automation_id"]}, {"required": ["script"]}]}
	}`,
	ModeConfirmedAction: `{
		"type": "object",
		"required": ["automation_id"],
		"properties": {
			"mode": {"const": "confirmed_action"},
			"automation_id": {"type": "string", "minLength": 1},
			"commands": {"type": "array", "items": {"type": "string"}},
			"missing_parameters": {"type": "array", "items": {"type": "object", "required": ["key"]}}
		},
		"not": {"required": ["script"]}
	}`,
	ModeDraftAction: `{
		"type": "object",
		"required": ["script"],
		"properties": {
			"mode": {"const": "draft_action"},
			"script": {"type": "string", "minLength": 1},
			"commands": {"type": "array", "items": {"type": "string"}}
		},
		"not": {"required": ["automation_id"]}
	}`,
}

// ShapeMatcher reports which decision modes a JSON object structurally fits.
type ShapeMatcher struct {
	schemas map[Mode]*jsonschema.Schema
}

// NewShapeMatcher compiles the per-mode schemas.
func NewShapeMatcher() (*ShapeMatcher, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	m := &ShapeMatcher{schemas: make(map[Mode]*jsonschema.Schema, len(shapeSchemas))}
	for _, mode := range Modes {
		url := fmt.Sprintf("https://opspilot.local/schemas/decision/%s.json", mode)
		if err := c.AddResource(url, strings.NewReader(shapeSchemas[mode])); err != nil {
			return nil, fmt.Errorf("load %s schema: %w", mode, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", mode, err)
		}
		m.schemas[mode] = s
	}
	return m, nil
}

// Match returns the modes whose shape the object satisfies.
func (m *ShapeMatcher) Match(obj json.RawMessage) []Mode {
	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	var out []Mode
	for _, mode := range Modes {
		if m.schemas[mode].Validate(v) == nil {
			out = append(out, mode)
		}
	}
	return out
}

// Unique returns the single matching mode, if exactly one matches.
func (m *ShapeMatcher) Unique(obj json.RawMessage) (Mode, bool) {
	modes := m.Match(obj)
	if len(modes) != 1 {
		return "", false
	}
	return modes[0], true
}
