package entity

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	CallMarker   = "__marker_call"
	ResultMarker = "__marker_result"
)

// ToolCallRequest is a tool invocation emitted by the model inside a fenced block.
type ToolCallRequest struct {
	Marker     bool           `json:"__marker_call"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Arguments returns the call parameters, never nil.
func (r ToolCallRequest) Arguments() map[string]any {
	if r.Parameters == nil {
		return map[string]any{}
	}
	return r.Parameters
}

// ToolResultEnvelope carries a tool output back into the transcript.
type ToolResultEnvelope struct {
	Marker bool   `json:"__marker_result"`
	Tool   string `json:"tool,omitempty"`
	Server string `json:"server,omitempty"`
	Result any    `json:"result,omitempty"`
}

// Matches reports whether the envelope can be the answer to a call of tool.
// An envelope without a tool name matches any call.
func (e ToolResultEnvelope) Matches(tool string) bool {
	return e.Tool == "" || tool == "" || e.Tool == tool
}

type PayloadKind int

const (
	PayloadText PayloadKind = iota
	PayloadCall
	PayloadResult
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadCall:
		return "call"
	case PayloadResult:
		return "result"
	default:
		return "text"
	}
}

// Payload is the classification of one code block.
type Payload struct {
	Kind   PayloadKind
	Call   *ToolCallRequest
	Result *ToolResultEnvelope
}

// StripFence removes a leading ```lang line and a trailing ``` if present.
func StripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") && strings.Contains(text, "\n") {
		text = text[strings.Index(text, "\n")+1:]
		text = strings.TrimSuffix(strings.TrimRight(text, " \t\r\n"), "```")
		text = strings.TrimSpace(text)
	}
	return text
}

// Classify parses a code block body. Shapes are tried in a fixed order (call,
// then result); anything that does not match is plain text, not an error.
func Classify(raw string) Payload {
	text := StripFence(raw)
	if text == "" || !gjson.Valid(text) {
		return Payload{Kind: PayloadText}
	}
	doc := gjson.Parse(text)
	if !doc.IsObject() {
		return Payload{Kind: PayloadText}
	}

	if doc.Get(CallMarker).Type == gjson.True {
		tool := doc.Get("tool")
		params := doc.Get("parameters")
		if tool.Type == gjson.String && tool.String() != "" && (!params.Exists() || params.IsObject() || params.Type == gjson.Null) {
			var call ToolCallRequest
			if err := json.Unmarshal([]byte(text), &call); err == nil {
				return Payload{Kind: PayloadCall, Call: &call}
			}
		}
	}

	if doc.Get(ResultMarker).Type == gjson.True {
		var res ToolResultEnvelope
		if err := json.Unmarshal([]byte(text), &res); err == nil {
			return Payload{Kind: PayloadResult, Result: &res}
		}
	}

	return Payload{Kind: PayloadText}
}

// NewResultEnvelope builds the envelope written back into the chat, with the
// raw tool output normalised by NormalizeResult.
func NewResultEnvelope(tool, server string, raw any) ToolResultEnvelope {
	return ToolResultEnvelope{
		Marker: true,
		Tool:   tool,
		Server: server,
		Result: NormalizeResult(raw),
	}
}

// NormalizeResult collapses a result exposing content parts with text into a
// single string, parts separated by blank lines. Anything else is returned as is.
func NormalizeResult(raw any) any {
	if s, ok := raw.(string); ok {
		return s
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return raw
	}
	content := gjson.GetBytes(data, "content")
	if !content.IsArray() {
		return raw
	}
	var texts []string
	content.ForEach(func(_, part gjson.Result) bool {
		text := part.Get("text")
		if part.IsObject() && text.Type == gjson.String {
			if t := strings.TrimSpace(text.String()); t != "" {
				texts = append(texts, t)
			}
		}
		return true
	})
	if len(texts) == 0 {
		return raw
	}
	return strings.Join(texts, "\n\n")
}

// FencedJSON renders v pretty-printed inside a ```json block.
func FencedJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return "```json\n" + string(data) + "\n```", nil
}
