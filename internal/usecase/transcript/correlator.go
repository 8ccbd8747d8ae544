package transcript

import (
	"context"

	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/domain/entity"
	"mcp-bridge/internal/infrastructure/config"
)

const DefaultMaxHops = 50

// Correlator finds the user message that carries the result of a call.
type Correlator struct {
	profile config.SiteProfile
	maxHops int
	logger  output.LoggerPort
}

func NewCorrelator(profile config.SiteProfile, maxHops int, logger output.LoggerPort) *Correlator {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &Correlator{profile: profile, maxHops: maxHops, logger: logger}
}

// NextResult walks forward from the message holding site, at most maxHops
// messages, and claims the first unclaimed user message whose body is a
// result envelope for tool. The claimed message is hidden and the envelope is
// returned as a fenced JSON block.
func (c *Correlator) NextResult(ctx context.Context, site output.ElementPort, tool string) (string, bool, error) {
	message, err := site.Closest(ctx, c.profile.MessageContainer)
	if err != nil || message == nil {
		return "", false, err
	}

	probe, err := message.NextSibling(ctx)
	if err != nil {
		return "", false, err
	}
	for hops := 0; probe != nil && hops < c.maxHops; hops++ {
		text, article, err := c.userMessage(ctx, probe)
		if err != nil {
			return "", false, err
		}
		if article != nil {
			payload := entity.Classify(text)
			if payload.Kind == entity.PayloadResult && payload.Result.Matches(tool) {
				if err := c.claim(ctx, article); err != nil {
					return "", false, err
				}
				out, err := entity.FencedJSON(payload.Result)
				if err != nil {
					return "", false, err
				}
				c.logger.Debug("Correlated result", "tool", tool, "hops", hops+1)
				return out, true, nil
			}
		}

		if probe, err = probe.NextSibling(ctx); err != nil {
			return "", false, err
		}
	}
	return "", false, nil
}

// userMessage returns the unclaimed user article inside probe and the text of
// its first code block, or of the whole article when it has none.
func (c *Correlator) userMessage(ctx context.Context, probe output.ElementPort) (string, output.ElementPort, error) {
	article, err := probe.First(ctx, c.profile.UserMessage)
	if err != nil || article == nil {
		return "", nil, err
	}
	done, err := isMarked(ctx, article, attrResultProcessed)
	if err != nil || done {
		return "", nil, err
	}

	src := article
	code, err := article.First(ctx, c.profile.CodeBlock)
	if err != nil {
		return "", nil, err
	}
	if code != nil {
		src = code
	}
	text, err := blockText(ctx, src)
	if err != nil || text == "" {
		return "", nil, err
	}
	return text, article, nil
}

func (c *Correlator) claim(ctx context.Context, article output.ElementPort) error {
	if err := article.SetAttr(ctx, attrResultProcessed, marked); err != nil {
		return err
	}
	if err := article.SetAttr(ctx, attrHiddenResponse, marked); err != nil {
		return err
	}
	return article.Hide(ctx)
}
