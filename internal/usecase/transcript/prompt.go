package transcript

import (
	"context"
	"fmt"
	"strings"

	"mcp-bridge/internal/application/port/input"
	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/domain/entity"
	"mcp-bridge/internal/infrastructure/config"
	"mcp-bridge/internal/infrastructure/prompts"
)

const collapsedPromptHTML = `<div role="note" class="mcp-prompt-note">Tool prompt inserted</div>`

// PromptCollapser replaces a sent tool prompt with a short note.
type PromptCollapser struct {
	profile config.SiteProfile
	logger  output.LoggerPort
}

func NewPromptCollapser(profile config.SiteProfile, logger output.LoggerPort) *PromptCollapser {
	return &PromptCollapser{profile: profile, logger: logger}
}

func (c *PromptCollapser) Collapse(ctx context.Context, chatLog output.ElementPort) error {
	articles, err := chatLog.Find(ctx, c.profile.UserMessage)
	if err != nil {
		return err
	}
	for _, article := range articles {
		done, err := isMarked(ctx, article, attrPromptCollapsed)
		if err != nil {
			return err
		}
		if done {
			continue
		}

		host, err := article.First(ctx, c.profile.MessageProse)
		if err != nil {
			return err
		}
		if host == nil {
			host = article
		}
		text, err := host.Text(ctx)
		if err != nil {
			return err
		}
		if !containsAll(text, c.profile.PromptMarkers) {
			continue
		}

		if err := article.SetAttr(ctx, attrPromptCollapsed, marked); err != nil {
			return err
		}
		if err := host.SetInnerHTML(ctx, collapsedPromptHTML); err != nil {
			return err
		}
		c.logger.Debug("Collapsed tool prompt")
	}
	return nil
}

func containsAll(text string, markers []string) bool {
	if len(markers) == 0 {
		return false
	}
	for _, m := range markers {
		if !strings.Contains(text, m) {
			return false
		}
	}
	return true
}

var _ input.PromptInjector = (*Injector)(nil)

// Injector sends the tool prompt for the enabled servers into the chat.
type Injector struct {
	page     output.PagePort
	registry input.ServerRegistry
	profile  config.SiteProfile
	logger   output.LoggerPort
}

func NewInjector(page output.PagePort, registry input.ServerRegistry, profile config.SiteProfile, logger output.LoggerPort) *Injector {
	return &Injector{
		page:     page,
		registry: registry,
		profile:  profile,
		logger:   logger.WithField("component", "prompt-injector"),
	}
}

// Inject reports whether a prompt was sent. Nothing is sent when no tools are
// enabled or the conversation already holds a prompt.
func (i *Injector) Inject(ctx context.Context) (bool, error) {
	present, err := i.promptPresent(ctx)
	if err != nil {
		return false, err
	}
	if present {
		i.logger.Info("Tool prompt already present")
		return false, nil
	}

	servers, err := i.registry.List(ctx)
	if err != nil {
		return false, err
	}
	tools := entity.CollectEnabledTools(servers)
	prompt, err := prompts.GeneratePrompt(tools)
	if err != nil {
		return false, err
	}
	if prompt == "" {
		i.logger.Info("No enabled tools, prompt not sent")
		return false, nil
	}

	if err := submitText(ctx, i.page, i.profile, prompt); err != nil {
		return false, &entity.DeliveryError{Err: fmt.Errorf("send tool prompt: %w", err)}
	}
	i.logger.Info("Tool prompt sent", "tools", len(tools))
	return true, nil
}

// promptPresent checks both the raw text and collapsed prompts, whose
// markers no longer appear in the page text.
func (i *Injector) promptPresent(ctx context.Context) (bool, error) {
	chatLog, err := i.page.Query(ctx, i.profile.ChatLog)
	if err != nil || chatLog == nil {
		return false, err
	}
	collapsed, err := chatLog.First(ctx, "["+attrPromptCollapsed+"]")
	if err != nil {
		return false, err
	}
	if collapsed != nil {
		return true, nil
	}
	text, err := chatLog.Text(ctx)
	if err != nil {
		return false, err
	}
	return containsAll(text, i.profile.PromptMarkers), nil
}
