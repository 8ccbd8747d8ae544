package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SiteProfile holds the selectors that locate the chat transcript and the
// message composer on the host page.
type SiteProfile struct {
	ChatLog          string   `yaml:"chat_log"`
	AssistantMessage string   `yaml:"assistant_message"`
	UserMessage      string   `yaml:"user_message"`
	AnyMessage       string   `yaml:"any_message"`
	MessageContainer string   `yaml:"message_container"`
	CodeBlock        string   `yaml:"code_block"`
	WidgetLanguage   string   `yaml:"widget_language"`
	WidgetBody       string   `yaml:"widget_body"`
	MessageProse     string   `yaml:"message_prose"`
	ChatInput        string   `yaml:"chat_input"`
	SendButton       string   `yaml:"send_button"`
	ChatForm         string   `yaml:"chat_form"`
	PromptMarkers    []string `yaml:"prompt_markers"`
}

func DefaultSiteProfile() SiteProfile {
	return SiteProfile{
		ChatLog:          `[role="log"][aria-label="Chat messages"]`,
		AssistantMessage: `[role="article"][aria-label="Assistant message"]`,
		UserMessage:      `[role="article"][aria-label="Your message"]`,
		AnyMessage:       `[role="article"]`,
		MessageContainer: `[data-message-id]`,
		CodeBlock:        `pre code`,
		WidgetLanguage:   `[data-language-id]`,
		WidgetBody:       `.shiki, pre`,
		MessageProse:     `.prose`,
		ChatInput:        `#chat-input`,
		SendButton:       `#chat-input-form button[type="submit"], #chat-input-form button[aria-label*="Send"], #chat-input-form button[aria-label*="send"]`,
		ChatForm:         `#chat-input-form`,
		PromptMarkers:    []string{"[Start Fresh Session]", "User interaction begins here:"},
	}
}

// LoadSiteProfile reads a YAML profile. Fields left empty keep their defaults.
// An empty path returns the defaults.
func LoadSiteProfile(path string) (SiteProfile, error) {
	profile := DefaultSiteProfile()
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("read site profile: %w", err)
	}

	var override SiteProfile
	if err := yaml.Unmarshal(data, &override); err != nil {
		return profile, fmt.Errorf("parse site profile: %w", err)
	}

	profile.merge(override)
	return profile, nil
}

func (p *SiteProfile) merge(o SiteProfile) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&p.ChatLog, o.ChatLog)
	set(&p.AssistantMessage, o.AssistantMessage)
	set(&p.UserMessage, o.UserMessage)
	set(&p.AnyMessage, o.AnyMessage)
	set(&p.MessageContainer, o.MessageContainer)
	set(&p.CodeBlock, o.CodeBlock)
	set(&p.WidgetLanguage, o.WidgetLanguage)
	set(&p.WidgetBody, o.WidgetBody)
	set(&p.MessageProse, o.MessageProse)
	set(&p.ChatInput, o.ChatInput)
	set(&p.SendButton, o.SendButton)
	set(&p.ChatForm, o.ChatForm)
	if len(o.PromptMarkers) > 0 {
		p.PromptMarkers = o.PromptMarkers
	}
}
