package entity

import "time"

// ServerRecord is a registered tool server. The registry owns it; ID never changes.
type ServerRecord struct {
	ID              string           `json:"id" validate:"required"`
	Name            string           `json:"name" validate:"required"`
	URL             string           `json:"url" validate:"required,url"`
	CreatedAt       time.Time        `json:"createdAt"`
	Tools           []ToolDescriptor `json:"tools" validate:"dive"`
	IsConnected     bool             `json:"isConnected"`
	IsEnabled       bool             `json:"isEnabled"`
	ConnectionError string           `json:"connectionError,omitempty"`
	LastConnected   *time.Time       `json:"lastConnected,omitempty"`
}

func (s ServerRecord) HasTool(name string) bool {
	for _, t := range s.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Offers reports whether the server may be used as a call target for tool.
func (s ServerRecord) Offers(tool string) bool {
	return s.IsEnabled && s.HasTool(tool)
}

func (s ServerRecord) Validate() error {
	if err := validate.Struct(s); err != nil {
		return &ValidationError{Item: s.ID, Err: err}
	}
	return nil
}

// CandidateServers returns the enabled servers exposing tool, keeping input order.
func CandidateServers(servers []ServerRecord, tool string) []ServerRecord {
	var out []ServerRecord
	for _, s := range servers {
		if s.Offers(tool) {
			out = append(out, s)
		}
	}
	return out
}

// CollectEnabledTools flattens the tools of enabled servers. The first tool
// with a given name wins.
func CollectEnabledTools(servers []ServerRecord) []ToolDescriptor {
	seen := make(map[string]bool)
	var tools []ToolDescriptor
	for _, s := range servers {
		if !s.IsEnabled {
			continue
		}
		for _, t := range s.Tools {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			tools = append(tools, t)
		}
	}
	return tools
}
