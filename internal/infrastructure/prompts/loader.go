package prompts

import (
	_ "embed"
)

// Both markers must appear in every generated prompt. The transcript uses
// them to recognise a prompt that was already sent.
const (
	StartMarker = "[Start Fresh Session]"
	EndMarker   = "User interaction begins here:"
)

//go:embed tool_prompt.tmpl
var ToolPromptTemplate string
