package transcript

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mcp-bridge/internal/application/port/input"
	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/domain/entity"
	"mcp-bridge/internal/infrastructure/config"
)

var _ input.TranscriptScanner = (*Scanner)(nil)

type Options struct {
	Profile       config.SiteProfile
	AutoCallDelay time.Duration
	MaxHops       int
	// Diagnostics is optional.
	Diagnostics output.DiagnosticsPort
}

type dependencies struct {
	page          output.PagePort
	registry      input.ServerRegistry
	settings      input.SettingsService
	client        output.ToolClientPort
	bus           output.EventBus
	diagnostics   output.DiagnosticsPort
	profile       config.SiteProfile
	autoCallDelay time.Duration
	logger        output.LoggerPort
}

// Scanner watches the chat transcript. Passes run on a single goroutine, so a
// marker checked and set within one pass cannot be claimed twice.
type Scanner struct {
	deps       *dependencies
	correlator *Correlator
	collapser  *PromptCollapser
	logger     output.LoggerPort

	mu     sync.Mutex
	cards  map[string]*Card
	nextID int
	passMu sync.Mutex
}

func NewScanner(
	page output.PagePort,
	registry input.ServerRegistry,
	settings input.SettingsService,
	client output.ToolClientPort,
	bus output.EventBus,
	logger output.LoggerPort,
	opts Options,
) *Scanner {
	if opts.AutoCallDelay <= 0 {
		opts.AutoCallDelay = DefaultAutoCallDelay
	}
	log := logger.WithField("component", "scanner")
	return &Scanner{
		deps: &dependencies{
			page:          page,
			registry:      registry,
			settings:      settings,
			client:        client,
			bus:           bus,
			diagnostics:   opts.Diagnostics,
			profile:       opts.Profile,
			autoCallDelay: opts.AutoCallDelay,
			logger:        logger.WithField("component", "card"),
		},
		correlator: NewCorrelator(opts.Profile, opts.MaxHops, log),
		collapser:  NewPromptCollapser(opts.Profile, log),
		logger:     log,
		cards:      make(map[string]*Card),
	}
}

// Run binds to the page and scans once up front and again after every
// structural mutation. Mutations that arrive during a pass are coalesced into
// one follow-up pass.
func (s *Scanner) Run(ctx context.Context) error {
	trigger := make(chan struct{}, 1)
	notify := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	stop, err := s.deps.page.Bind(ctx, output.PageBindings{
		OnMutation:      notify,
		OnCardAction:    func(a output.CardAction) { s.HandleAction(a) },
		OnToggleSidebar: func() { s.deps.bus.Publish(entity.TopicToggleSidebar) },
	})
	if err != nil {
		return fmt.Errorf("bind page: %w", err)
	}
	defer stop()
	defer s.closeCards()

	s.logger.Info("Transcript scanner started")
	notify()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Transcript scanner stopped")
			return nil
		case <-trigger:
			if err := s.Scan(ctx); err != nil {
				s.logger.Warn("Scan pass failed", "error", err)
			}
		}
	}
}

// HandleAction routes a page action to its card without blocking the caller.
func (s *Scanner) HandleAction(a output.CardAction) {
	card := s.Card(a.CardID)
	if card == nil {
		s.logger.Warn("Action for unknown card", "card", a.CardID, "action", a.Action)
		return
	}
	go card.Handle(a)
}

func (s *Scanner) Card(id string) *Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cards[id]
}

// Cards returns the mounted cards in mount order.
func (s *Scanner) Cards() []*Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Card, 0, len(s.cards))
	for i := 1; i <= s.nextID; i++ {
		if c, ok := s.cards[cardID(i)]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *Scanner) closeCards() {
	s.mu.Lock()
	cards := make([]*Card, 0, len(s.cards))
	for _, c := range s.cards {
		cards = append(cards, c)
	}
	s.mu.Unlock()
	for _, c := range cards {
		c.Close()
	}
}

// Scan performs one pass. Cards mounted during the pass live until ctx is done.
func (s *Scanner) Scan(ctx context.Context) error {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	p := s.deps.profile
	chatLog, err := s.deps.page.Query(ctx, p.ChatLog)
	if err != nil {
		return err
	}
	if chatLog == nil {
		return nil
	}

	if err := s.collapser.Collapse(ctx, chatLog); err != nil {
		s.logger.Warn("Prompt collapse failed", "error", err)
	}

	assistant, err := chatLog.Find(ctx, p.AssistantMessage)
	if err != nil {
		return err
	}
	for _, article := range assistant {
		if err := s.scanAssistant(ctx, article); err != nil {
			return err
		}
	}

	users, err := chatLog.Find(ctx, p.UserMessage)
	if err != nil {
		return err
	}
	for _, article := range users {
		if err := s.scanUser(ctx, article); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) scanAssistant(ctx context.Context, article output.ElementPort) error {
	codes, err := article.Find(ctx, s.deps.profile.CodeBlock)
	if err != nil {
		return err
	}

	for _, code := range codes {
		skip, err := s.alreadyHandled(ctx, code)
		if err != nil {
			return err
		}
		if skip {
			continue
		}
		text, err := blockText(ctx, code)
		if err != nil {
			return err
		}
		if text == "" {
			continue
		}

		payload := entity.Classify(text)
		switch payload.Kind {
		case entity.PayloadCall:
			if err := s.mountCard(ctx, code, *payload.Call); err != nil {
				return err
			}
		case entity.PayloadResult:
			if err := s.hideEchoedResult(ctx, article, code); err != nil {
				return err
			}
		}
	}
	return nil
}

// alreadyHandled skips blocks inside rendered cards or hidden results.
func (s *Scanner) alreadyHandled(ctx context.Context, code output.ElementPort) (bool, error) {
	for _, attr := range []string{attrToolUI, attrHiddenResponse} {
		inside, err := insideMarked(ctx, code, attr)
		if err != nil || inside {
			return inside, err
		}
	}
	return false, nil
}

func (s *Scanner) hideEchoedResult(ctx context.Context, article, code output.ElementPort) error {
	widget, err := findWidget(ctx, code, s.deps.profile)
	if err != nil {
		return err
	}
	if err := widget.SetAttr(ctx, attrHiddenResponse, marked); err != nil {
		return err
	}
	if err := widget.Hide(ctx); err != nil {
		return err
	}
	s.logger.Debug("Hid result echoed by assistant")
	return article.SetAttr(ctx, attrResultProcessed, marked)
}

// mountCard claims the widget around code before anything else, then
// correlates an existing result and swaps the widget for a card.
func (s *Scanner) mountCard(ctx context.Context, code output.ElementPort, req entity.ToolCallRequest) error {
	widget, err := findWidget(ctx, code, s.deps.profile)
	if err != nil {
		return err
	}
	claimed, err := isMarked(ctx, widget, attrToolUI)
	if err != nil || claimed {
		return err
	}
	if err := widget.SetAttr(ctx, attrToolUI, marked); err != nil {
		return err
	}

	// Correlation needs the widget's position, so it runs before the swap.
	initial, _, err := s.correlator.NextResult(ctx, widget, req.Tool)
	if err != nil {
		s.logger.Warn("Result correlation failed", "tool", req.Tool, "error", err)
	}

	s.mu.Lock()
	s.nextID++
	id := cardID(s.nextID)
	s.mu.Unlock()

	host, err := widget.ReplaceWithHTML(ctx, fmt.Sprintf(`<div %s="%s" %s="%s"></div>`, attrToolUI, marked, attrCard, id))
	if err != nil {
		return fmt.Errorf("mount card: %w", err)
	}
	if host == nil {
		return fmt.Errorf("mount card: no host element")
	}

	card := newCard(ctx, id, req, host, initial, s.deps)
	s.mu.Lock()
	s.cards[id] = card
	s.mu.Unlock()

	s.logger.Debug("Mounted card", "card", id, "tool", req.Tool, "correlated", initial != "")
	card.mount()
	return nil
}

func (s *Scanner) scanUser(ctx context.Context, article output.ElementPort) error {
	hidden, err := isMarked(ctx, article, attrHiddenResponse)
	if err != nil || hidden {
		return err
	}

	codes, err := article.Find(ctx, s.deps.profile.CodeBlock)
	if err != nil {
		return err
	}
	for _, code := range codes {
		text, err := blockText(ctx, code)
		if err != nil {
			return err
		}
		if text == "" {
			continue
		}
		if entity.Classify(text).Kind != entity.PayloadResult {
			continue
		}
		if err := article.SetAttr(ctx, attrHiddenResponse, marked); err != nil {
			return err
		}
		s.logger.Debug("Hid result message")
		return article.Hide(ctx)
	}
	return nil
}

func cardID(n int) string {
	return fmt.Sprintf("mcp-card-%d", n)
}
