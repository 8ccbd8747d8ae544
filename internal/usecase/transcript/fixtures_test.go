package transcript

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcp-bridge/internal/application/service"
	"mcp-bridge/internal/domain/entity"
	"mcp-bridge/internal/infrastructure/config"
	"mcp-bridge/internal/infrastructure/dom"
	"mcp-bridge/internal/infrastructure/events"
	"mcp-bridge/internal/infrastructure/logger"
	"mcp-bridge/internal/infrastructure/storage"
)

const composer = `<form id="chat-input-form"><textarea id="chat-input"></textarea><button type="submit">Send</button></form>`

func chatPage(messages ...string) string {
	return `<html><body><div role="log" aria-label="Chat messages">` +
		strings.Join(messages, "") +
		`</div>` + composer + `</body></html>`
}

func assistantCode(id, code string) string {
	return fmt.Sprintf(`<div data-message-id="%s"><div role="article" aria-label="Assistant message"><div class="prose">`+
		`<p>Let me check.</p>`+
		`<div class="code-widget"><div data-language-id="json">json</div><div class="shiki"><pre><code>%s</code></pre></div></div>`+
		`</div></div></div>`, id, html.EscapeString(code))
}

func userText(id, text string) string {
	return fmt.Sprintf(`<div data-message-id="%s"><div role="article" aria-label="Your message"><div class="prose"><p>%s</p></div></div></div>`,
		id, html.EscapeString(text))
}

func userCode(id, code string) string {
	return fmt.Sprintf(`<div data-message-id="%s"><div role="article" aria-label="Your message"><div class="prose"><pre><code>%s</code></pre></div></div></div>`,
		id, html.EscapeString(code))
}

const addCall = `{"__marker_call":true,"tool":"add","parameters":{"a":1,"b":2}}`

func fenced(body string) string { return "```json\n" + body + "\n```" }

type toolCall struct {
	URL  string
	Tool string
	Args map[string]any
}

type fakeClient struct {
	mu     sync.Mutex
	calls  []toolCall
	result any
	err    error
	gate   chan struct{}
}

func (f *fakeClient) ListTools(ctx context.Context, url string) ([]entity.ToolDescriptor, error) {
	return nil, nil
}

func (f *fakeClient) CallTool(ctx context.Context, url, tool string, args map[string]any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, toolCall{URL: url, Tool: tool, Args: args})
	gate, result, err := f.gate, f.result, f.err
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return result, err
}

func (f *fakeClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeDiagnostics struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeDiagnostics) CaptureFailure(ctx context.Context, reason string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	return "/tmp/failure.jpg", nil
}

type harness struct {
	t        *testing.T
	doc      *dom.Document
	store    *storage.MemoryStore
	bus      *events.Bus
	registry *service.ServerRegistryImpl
	settings *service.SettingsServiceImpl
	client   *fakeClient
	diag     *fakeDiagnostics
	scanner  *Scanner

	mu   sync.Mutex
	sent []string
}

func newHarness(t *testing.T, markup string, servers ...entity.ServerRecord) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		doc:    dom.MustParse(markup),
		store:  storage.NewMemoryStore(),
		bus:    events.NewBus(),
		client: &fakeClient{result: map[string]any{"content": []any{map[string]any{"type": "text", "text": "3"}}}},
		diag:   &fakeDiagnostics{},
	}
	log := logger.NewNop()
	h.registry = service.NewServerRegistry(h.store, h.client, h.bus, log)
	h.settings = service.NewSettingsService(h.store, h.bus, log)
	if servers != nil {
		require.NoError(t, h.store.Set(context.Background(), service.ServersKey, servers))
	}
	h.doc.OnSubmit = func(text string) {
		h.mu.Lock()
		h.sent = append(h.sent, text)
		n := len(h.sent)
		h.mu.Unlock()
		// The chat echoes what was sent as a new user message.
		_ = h.doc.Append(`[role="log"]`, userCode(fmt.Sprintf("sent-%d", n), text))
	}
	h.scanner = NewScanner(h.doc, h.registry, h.settings, h.client, h.bus, log, Options{
		Profile:       config.DefaultSiteProfile(),
		AutoCallDelay: 10 * time.Millisecond,
		Diagnostics:   h.diag,
	})
	t.Cleanup(h.scanner.closeCards)
	return h
}

func (h *harness) scan() {
	h.t.Helper()
	require.NoError(h.t, h.scanner.Scan(context.Background()))
}

func (h *harness) sentMessages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.sent...)
}

func (h *harness) onlyCard() *Card {
	h.t.Helper()
	cards := h.scanner.Cards()
	require.Len(h.t, cards, 1)
	return cards[0]
}

func (h *harness) setAutoCall(on bool) {
	h.t.Helper()
	require.NoError(h.t, h.settings.Update(context.Background(), entity.Settings{AutoCallTools: on}))
}

func calcServer(id, name string, enabled bool) entity.ServerRecord {
	return entity.ServerRecord{
		ID:          id,
		Name:        name,
		URL:         "http://localhost:3000/" + id,
		CreatedAt:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Tools:       []entity.ToolDescriptor{{Name: "add"}, {Name: "subtract"}},
		IsConnected: true,
		IsEnabled:   enabled,
	}
}
