package transcript

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"html/template"
	"sync"
	"time"

	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/domain/entity"
)

//go:embed card.html
var cardHTML string

var cardTemplate = template.Must(template.New("card").Parse(cardHTML))

const DefaultAutoCallDelay = 50 * time.Millisecond

const settingsReloadDelay = 50 * time.Millisecond

type CardState int

const (
	StateIdle CardState = iota
	StateReady
	StateCalling
	StateCalled
)

func (s CardState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateCalling:
		return "calling"
	case StateCalled:
		return "called"
	default:
		return "idle"
	}
}

// Card owns the lifecycle of one detected tool call. At most one call reaches
// the network at a time and none after the card has reached StateCalled.
type Card struct {
	id      string
	request entity.ToolCallRequest
	host    output.ElementPort
	deps    *dependencies
	logger  output.LoggerPort
	ctx     context.Context

	mu          sync.Mutex
	servers     []entity.ServerRecord
	selectedID  string
	calling     bool
	called      bool
	autoCall    bool
	autoFired   bool
	expanded    bool
	response    string
	pending     string
	errText     string
	timer       *time.Timer
	unsubscribe func()
	closed      bool

	renderMu sync.Mutex
}

func newCard(ctx context.Context, id string, req entity.ToolCallRequest, host output.ElementPort, initial string, deps *dependencies) *Card {
	return &Card{
		id:       id,
		request:  req,
		host:     host,
		deps:     deps,
		logger:   deps.logger.WithFields(map[string]any{"card": id, "tool": req.Tool}),
		ctx:      ctx,
		response: initial,
		called:   initial != "",
	}
}

func (c *Card) ID() string { return c.id }

func (c *Card) Tool() string { return c.request.Tool }

// mount resolves candidate servers from the registry snapshot, loads the
// auto-call setting and renders the first frame.
func (c *Card) mount() {
	servers, err := c.deps.registry.List(c.ctx)
	if err != nil {
		c.logger.Warn("Failed to load servers", "error", err)
	}
	settings, err := c.deps.settings.Get(c.ctx)
	if err != nil {
		c.logger.Warn("Failed to load settings", "error", err)
	}

	c.mu.Lock()
	c.servers = entity.CandidateServers(servers, c.request.Tool)
	if c.selectedID == "" && len(c.servers) > 0 {
		c.selectedID = c.servers[0].ID
	}
	c.autoCall = settings.AutoCallTools
	c.mu.Unlock()

	offSettings := c.deps.bus.Subscribe(entity.TopicSettingsUpdated, c.reloadSettings)
	offServers := c.deps.bus.Subscribe(entity.TopicServersUpdated, c.reloadSettingsLater)
	c.mu.Lock()
	c.unsubscribe = func() {
		offSettings()
		offServers()
	}
	c.mu.Unlock()

	c.logger.Debug("Card mounted", "candidates", len(c.servers), "state", c.State())
	c.render()
	c.scheduleAutoCall()
}

func (c *Card) State() CardState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Card) stateLocked() CardState {
	switch {
	case c.called:
		return StateCalled
	case c.calling:
		return StateCalling
	case c.selectedLocked() != nil:
		return StateReady
	default:
		return StateIdle
	}
}

func (c *Card) Response() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.response
}

func (c *Card) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errText
}

func (c *Card) SelectedServer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedID
}

func (c *Card) selectedLocked() *entity.ServerRecord {
	for i := range c.servers {
		if c.servers[i].ID == c.selectedID {
			return &c.servers[i]
		}
	}
	return nil
}

// Handle applies an action forwarded from the page.
func (c *Card) Handle(action output.CardAction) {
	switch action.Action {
	case output.CardActionCall:
		if err := c.Trigger(c.ctx); err != nil && !errors.Is(err, entity.ErrAlreadyCalled) {
			c.logger.Warn("Tool call did not complete", "error", err)
		}
	case output.CardActionSelect:
		c.Select(action.Value)
	case output.CardActionToggle:
		c.Toggle()
	default:
		c.logger.Warn("Unknown card action", "action", action.Action)
	}
}

// Select changes the target server. It has no effect once a call started,
// nor while a fetched result is still waiting to be delivered.
func (c *Card) Select(serverID string) {
	c.mu.Lock()
	if c.calling || c.called || c.pending != "" || serverID == c.selectedID {
		c.mu.Unlock()
		return
	}
	found := false
	for _, s := range c.servers {
		if s.ID == serverID {
			found = true
			break
		}
	}
	if !found {
		c.mu.Unlock()
		c.logger.Warn("Ignoring unknown server selection", "server", serverID)
		return
	}
	c.selectedID = serverID
	c.errText = ""
	c.mu.Unlock()

	c.render()
	c.scheduleAutoCall()
}

func (c *Card) Toggle() {
	c.mu.Lock()
	if c.response == "" {
		c.mu.Unlock()
		return
	}
	c.expanded = !c.expanded
	c.mu.Unlock()
	c.render()
}

// Trigger performs the call. Concurrent triggers collapse into one: every
// trigger after the first returns ErrAlreadyCalled until the call fails.
// A result that was fetched but not delivered is re-sent on the next trigger
// without calling the server again.
func (c *Card) Trigger(ctx context.Context) error {
	c.mu.Lock()
	if c.calling || c.called {
		c.mu.Unlock()
		return entity.ErrAlreadyCalled
	}
	selected := c.selectedLocked()
	if selected == nil {
		c.errText = "No server selected for this tool"
		c.mu.Unlock()
		c.render()
		return entity.ErrNoServerSelected
	}
	server := *selected
	c.calling = true
	c.errText = ""
	c.stopTimerLocked()
	text := c.pending
	c.mu.Unlock()

	c.render()

	if text == "" {
		var err error
		text, err = c.call(ctx, server)
		if err != nil {
			c.fail(err)
			return err
		}
		c.mu.Lock()
		c.pending = text
		c.mu.Unlock()
	}

	if err := submitText(ctx, c.deps.page, c.deps.profile, text); err != nil {
		derr := &entity.DeliveryError{Err: err}
		c.captureFailure(ctx, derr)
		c.fail(derr)
		return derr
	}

	c.mu.Lock()
	c.calling = false
	c.called = true
	c.response = text
	c.pending = ""
	c.mu.Unlock()

	c.logger.Info("Tool result delivered", "server", server.Name)
	c.render()
	return nil
}

func (c *Card) call(ctx context.Context, server entity.ServerRecord) (string, error) {
	c.logger.Info("Calling tool", "server", server.Name, "url", server.URL)
	raw, err := c.deps.client.CallTool(ctx, server.URL, c.request.Tool, c.request.Arguments())
	if err != nil {
		return "", err
	}
	return entity.FencedJSON(entity.NewResultEnvelope(c.request.Tool, server.Name, raw))
}

func (c *Card) fail(err error) {
	c.mu.Lock()
	c.calling = false
	c.errText = err.Error()
	c.mu.Unlock()

	c.logger.Error("Tool call failed", "error", err)
	c.render()
}

func (c *Card) captureFailure(ctx context.Context, err error) {
	if c.deps.diagnostics == nil {
		return
	}
	path, capErr := c.deps.diagnostics.CaptureFailure(ctx, err.Error())
	if capErr != nil {
		c.logger.Warn("Failed to capture diagnostics", "error", capErr)
		return
	}
	c.logger.Info("Saved delivery diagnostics", "path", path)
}

// reloadSettingsLater re-reads settings shortly after a registry change, which
// may be followed by a settings write from the same operator action.
func (c *Card) reloadSettingsLater() {
	select {
	case <-time.After(settingsReloadDelay):
		c.reloadSettings()
	case <-c.ctx.Done():
	}
}

func (c *Card) reloadSettings() {
	settings, err := c.deps.settings.Get(c.ctx)
	if err != nil {
		c.logger.Warn("Failed to reload settings", "error", err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.autoCall = settings.AutoCallTools
	if !c.autoCall {
		c.stopTimerLocked()
	}
	c.mu.Unlock()

	c.render()
	c.scheduleAutoCall()
}

// scheduleAutoCall arms the debounce timer when auto-call applies. Re-arming
// restarts the delay. Auto-call fires at most once per card.
func (c *Card) scheduleAutoCall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.autoEligibleLocked() {
		return
	}
	c.stopTimerLocked()
	c.timer = time.AfterFunc(c.deps.autoCallDelay, c.autoTrigger)
}

func (c *Card) autoEligibleLocked() bool {
	return !c.closed && c.autoCall && !c.autoFired && c.stateLocked() == StateReady
}

func (c *Card) autoTrigger() {
	c.mu.Lock()
	if !c.autoEligibleLocked() {
		c.mu.Unlock()
		return
	}
	c.autoFired = true
	c.mu.Unlock()

	if err := c.Trigger(c.ctx); err != nil && !errors.Is(err, entity.ErrAlreadyCalled) {
		c.logger.Warn("Auto call did not complete", "error", err)
	}
}

func (c *Card) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Close stops timers and subscriptions. The rendered card stays on the page.
func (c *Card) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopTimerLocked()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

type serverOption struct {
	ID       string
	Name     string
	Selected bool
}

type cardView struct {
	State           string
	Tool            string
	Servers         []serverOption
	ServerName      string
	TriggerDisabled bool
	ButtonLabel     string
	Parameters      string
	Response        string
	Expanded        bool
	Error           string
}

func (c *Card) view() cardView {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.stateLocked()
	v := cardView{
		State:           state.String(),
		Tool:            c.request.Tool,
		ServerName:      "No match",
		TriggerDisabled: state != StateReady,
		ButtonLabel:     "Call tool",
		Response:        c.response,
		Expanded:        c.expanded,
		Error:           c.errText,
	}
	switch state {
	case StateCalling:
		v.ButtonLabel = "Calling…"
	case StateCalled:
		v.ButtonLabel = "Called"
	}
	for _, s := range c.servers {
		v.Servers = append(v.Servers, serverOption{ID: s.ID, Name: s.Name, Selected: s.ID == c.selectedID})
	}
	if len(c.servers) > 0 {
		v.ServerName = c.servers[0].Name
	}

	params, err := json.MarshalIndent(c.request.Arguments(), "", "  ")
	if err != nil {
		params = []byte("{}")
	}
	v.Parameters = string(params)
	return v
}

// render serialises frames so the last state change is the last frame drawn.
func (c *Card) render() {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	var buf bytes.Buffer
	if err := cardTemplate.Execute(&buf, c.view()); err != nil {
		c.logger.Error("Failed to render card", "error", err)
		return
	}
	if err := c.host.SetInnerHTML(c.ctx, buf.String()); err != nil {
		c.logger.Warn("Failed to update card", "error", err)
	}
}
