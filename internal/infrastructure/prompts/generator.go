package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"mcp-bridge/internal/domain/entity"
)

var toolPrompt = template.Must(template.New("tools").Parse(ToolPromptTemplate))

type paramDoc struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Nested      []paramDoc
}

type toolDoc struct {
	Name        string
	Description string
	Params      []paramDoc
	Example     string
}

type promptData struct {
	StartMarker  string
	EndMarker    string
	CallMarker   string
	ResultMarker string
	Tools        []toolDoc
}

// GeneratePrompt renders the tool instructions for tools, in the given order.
// An empty list yields "" and callers must not inject anything then.
// Parameters are listed in lexical order so the output is stable.
func GeneratePrompt(tools []entity.ToolDescriptor) (string, error) {
	if len(tools) == 0 {
		return "", nil
	}

	data := promptData{
		StartMarker:  StartMarker,
		EndMarker:    EndMarker,
		CallMarker:   entity.CallMarker,
		ResultMarker: entity.ResultMarker,
		Tools:        make([]toolDoc, 0, len(tools)),
	}
	for _, t := range tools {
		data.Tools = append(data.Tools, describeTool(t))
	}

	var buf bytes.Buffer
	if err := toolPrompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render tool prompt: %w", err)
	}
	return buf.String(), nil
}

func describeTool(t entity.ToolDescriptor) toolDoc {
	doc := toolDoc{
		Name:        t.Name,
		Description: strings.TrimSpace(t.Description),
	}

	var props map[string]entity.SchemaEntry
	if t.InputSchema != nil {
		props = t.InputSchema.Properties
	}
	for _, name := range entity.SortedKeys(props) {
		entry := props[name]
		p := paramDoc{
			Name:        name,
			Type:        entry.Type(),
			Description: entry.Description(),
			Required:    t.IsRequired(name),
		}
		if entry.Type() == "object" {
			nested := entry.Nested()
			for _, n := range entity.SortedKeys(nested) {
				p.Nested = append(p.Nested, paramDoc{
					Name:        n,
					Type:        nested[n].Type(),
					Description: nested[n].Description(),
				})
			}
		}
		doc.Params = append(doc.Params, p)
	}

	doc.Example = exampleCall(t.Name, doc.Params)
	return doc
}

func exampleCall(tool string, params []paramDoc) string {
	var b strings.Builder
	b.WriteString("{\n")
	fmt.Fprintf(&b, "  %s: true,\n", quote(entity.CallMarker))
	fmt.Fprintf(&b, "  \"tool\": %s,\n", quote(tool))
	if len(params) == 0 {
		b.WriteString("  \"parameters\": {}\n}")
		return b.String()
	}

	b.WriteString("  \"parameters\": {\n")
	for i, p := range params {
		fmt.Fprintf(&b, "    %s: %s", quote(p.Name), exampleValue(p.Type))
		if i < len(params)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("  }\n}")
	return b.String()
}

func exampleValue(typ string) string {
	switch typ {
	case "number", "integer":
		return "42"
	case "boolean":
		return "true"
	case "array":
		return "[]"
	case "object":
		return "{}"
	default:
		return `"example"`
	}
}

func quote(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(data)
}
