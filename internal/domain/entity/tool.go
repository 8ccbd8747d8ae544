package entity

import (
	"sort"
)

// ToolDescriptor describes one invokable tool exposed by a tool server.
type ToolDescriptor struct {
	Name        string       `json:"name" validate:"required"`
	Description string       `json:"description,omitempty"`
	InputSchema *InputSchema `json:"inputSchema,omitempty" validate:"omitempty"`
}

type InputSchema struct {
	Type                 string                 `json:"type,omitempty" validate:"omitempty,eq=object"`
	Properties           map[string]SchemaEntry `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty" validate:"dive,required"`
	AdditionalProperties *bool                  `json:"additionalProperties,omitempty"`
}

// SchemaEntry is a single JSON-schema property. Only the fields used for
// documentation are interpreted; everything else is carried through.
type SchemaEntry map[string]any

func (e SchemaEntry) Type() string {
	if t, ok := e["type"].(string); ok && t != "" {
		return t
	}
	return "any"
}

func (e SchemaEntry) Description() string {
	if d, ok := e["description"].(string); ok && d != "" {
		return d
	}
	return "No description"
}

// Nested returns the nested properties of an object-typed entry.
func (e SchemaEntry) Nested() map[string]SchemaEntry {
	raw, ok := e["properties"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]SchemaEntry, len(raw))
	for name, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out[name] = SchemaEntry(m)
		} else {
			out[name] = SchemaEntry{}
		}
	}
	return out
}

func (t ToolDescriptor) HasParameters() bool {
	return t.InputSchema != nil && len(t.InputSchema.Properties) > 0
}

// ParameterNames returns property names in a stable order.
func (t ToolDescriptor) ParameterNames() []string {
	if t.InputSchema == nil {
		return nil
	}
	return SortedKeys(t.InputSchema.Properties)
}

func (t ToolDescriptor) IsRequired(param string) bool {
	if t.InputSchema == nil {
		return false
	}
	for _, r := range t.InputSchema.Required {
		if r == param {
			return true
		}
	}
	return false
}

func (t ToolDescriptor) Validate() error {
	if err := validate.Struct(t); err != nil {
		return &ValidationError{Item: t.Name, Err: err}
	}
	return nil
}

func SortedKeys(m map[string]SchemaEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
