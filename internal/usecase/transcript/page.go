package transcript

import (
	"context"
	"fmt"
	"strings"

	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/domain/entity"
	"mcp-bridge/internal/infrastructure/config"
)

// Idempotence markers. A node carrying one of these is never processed again
// for the same purpose.
const (
	attrToolUI          = "data-mcp-tool-ui"
	attrResultProcessed = "data-mcp-result-processed"
	attrHiddenResponse  = "data-mcp-hidden-response"
	attrPromptCollapsed = "data-mcp-prompt-collapsed"
	attrCard            = "data-mcp-card"

	marked = "true"

	maxWrapperDepth = 15
)

func isMarked(ctx context.Context, el output.ElementPort, name string) (bool, error) {
	v, err := el.Attr(ctx, name)
	if err != nil {
		return false, err
	}
	return v == marked, nil
}

// insideMarked reports whether el sits in a subtree carrying the marker.
func insideMarked(ctx context.Context, el output.ElementPort, name string) (bool, error) {
	anc, err := el.Closest(ctx, "["+name+"]")
	if err != nil {
		return false, err
	}
	return anc != nil, nil
}

// blockText returns the trimmed text of a code element.
func blockText(ctx context.Context, el output.ElementPort) (string, error) {
	text, err := el.Text(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// findWidget returns the smallest element that holds both the language header
// and the code body around code. It falls back to the enclosing pre or shiki
// block, and finally to code itself.
func findWidget(ctx context.Context, code output.ElementPort, p config.SiteProfile) (output.ElementPort, error) {
	node := code
	for depth := 0; node != nil && depth < maxWrapperDepth; depth++ {
		ok, err := isWidget(ctx, node, p)
		if err != nil {
			return nil, err
		}
		if ok {
			return node, nil
		}
		if node, err = node.Parent(ctx); err != nil {
			return nil, err
		}
	}

	for _, sel := range []string{"pre", ".shiki"} {
		block, err := code.Closest(ctx, sel)
		if err != nil {
			return nil, err
		}
		if block == nil {
			continue
		}
		parent, err := block.Parent(ctx)
		if err != nil {
			return nil, err
		}
		if parent != nil {
			lang, err := parent.First(ctx, p.WidgetLanguage)
			if err != nil {
				return nil, err
			}
			if lang != nil {
				return parent, nil
			}
		}
		return block, nil
	}
	return code, nil
}

func isWidget(ctx context.Context, el output.ElementPort, p config.SiteProfile) (bool, error) {
	lang, err := el.First(ctx, p.WidgetLanguage)
	if err != nil || lang == nil {
		return false, err
	}
	body, err := el.First(ctx, p.WidgetBody)
	if err != nil {
		return false, err
	}
	return body != nil, nil
}

// submitText types text into the composer and sends it. The send button is
// preferred; a disabled or missing button falls back to submitting the form.
func submitText(ctx context.Context, page output.PagePort, p config.SiteProfile, text string) error {
	input, err := page.Query(ctx, p.ChatInput)
	if err != nil {
		return fmt.Errorf("find chat input: %w", err)
	}
	if input == nil {
		return entity.ErrInputNotFound
	}
	if err := input.SetValue(ctx, text); err != nil {
		return fmt.Errorf("fill chat input: %w", err)
	}

	btn, err := page.Query(ctx, p.SendButton)
	if err != nil {
		return fmt.Errorf("find send button: %w", err)
	}
	if btn != nil {
		disabled, err := btn.Disabled(ctx)
		if err != nil {
			return err
		}
		if !disabled {
			return btn.Click(ctx)
		}
	}

	form, err := page.Query(ctx, p.ChatForm)
	if err != nil {
		return fmt.Errorf("find chat form: %w", err)
	}
	if form == nil {
		return entity.ErrInputNotFound
	}
	return form.Submit(ctx)
}
