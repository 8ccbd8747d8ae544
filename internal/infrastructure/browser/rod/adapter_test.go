package rod

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/infrastructure/logger"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Headless)
	assert.Equal(t, time.Duration(defaultSlowMotion), cfg.SlowMotion)
	assert.Equal(t, defaultTimeout, cfg.Timeout)
	assert.False(t, cfg.NoSandbox, "Should be secure by default")
	assert.False(t, cfg.DevTools)
	assert.Equal(t, "log", cfg.DiagnosticsDir)
}

// newTestAdapter starts a headless browser on the chat fixture. Tests are
// skipped when no browser can be launched.
func newTestAdapter(t *testing.T) *BrowserAdapter {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests are skipped in short mode")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(chatPageHTML))
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Headless = true
	cfg.NoSandbox = os.Getenv("CI") != ""
	cfg.DiagnosticsDir = t.TempDir()

	adapter, err := NewBrowserAdapter(context.Background(), cfg, logger.NewNop())
	if err != nil {
		t.Skipf("browser unavailable: %v", err)
	}
	t.Cleanup(adapter.Close)

	require.NoError(t, adapter.Navigate(context.Background(), srv.URL))
	return adapter
}

func TestNavigate_InvalidURL(t *testing.T) {
	adapter := newTestAdapter(t)

	for _, raw := range []string{"", "not a url", "ftp://example.com", "http://"} {
		err := adapter.Navigate(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}

func TestQueryAndNavigation(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	log, err := adapter.Query(ctx, `[role="log"]`)
	require.NoError(t, err)
	require.NotNil(t, log)

	missing, err := adapter.Query(ctx, "#nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	codes, err := log.Find(ctx, "pre code")
	require.NoError(t, err)
	require.Len(t, codes, 1)

	text, err := codes[0].Text(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "__marker_call")

	again, err := adapter.Query(ctx, "#call")
	require.NoError(t, err)
	assert.Equal(t, codes[0].Key(), again.Key(), "handles on the same node share a key")

	article, err := codes[0].Closest(ctx, `[role="article"]`)
	require.NoError(t, err)
	id, err := article.Attr(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, "assistant", id)

	container, err := article.Parent(ctx)
	require.NoError(t, err)
	next, err := container.NextSibling(ctx)
	require.NoError(t, err)
	user, err := next.First(ctx, `[role="article"]`)
	require.NoError(t, err)
	text, err = user.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	last, err := next.NextSibling(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestReplaceWithHTML_ReturnsNewElement(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	code, err := adapter.Query(ctx, "#call")
	require.NoError(t, err)
	pre, err := code.Parent(ctx)
	require.NoError(t, err)

	card, err := pre.ReplaceWithHTML(ctx, cardHTML)
	require.NoError(t, err)
	require.NotNil(t, card)

	id, err := card.Attr(ctx, "data-mcp-card")
	require.NoError(t, err)
	assert.Equal(t, "card-1", id)

	gone, err := adapter.Query(ctx, "#call")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSetValueAndSubmit(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	input, err := adapter.Query(ctx, "#chat-input")
	require.NoError(t, err)
	require.NoError(t, input.SetValue(ctx, "result text"))

	form, err := adapter.Query(ctx, "#chat-input-form")
	require.NoError(t, err)
	require.NoError(t, form.Submit(ctx))
	assert.Error(t, input.Submit(ctx))

	sent, err := adapter.Query(ctx, "#sent")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		text, _ := sent.Text(ctx)
		return text == "result text"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBind_ForwardsPageEvents(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	var (
		mu        sync.Mutex
		mutations int
		actions   []output.CardAction
		toggles   int
	)
	stop, err := adapter.Bind(ctx, output.PageBindings{
		OnMutation: func() { mu.Lock(); mutations++; mu.Unlock() },
		OnCardAction: func(a output.CardAction) {
			mu.Lock()
			actions = append(actions, a)
			mu.Unlock()
		},
		OnToggleSidebar: func() { mu.Lock(); toggles++; mu.Unlock() },
	})
	require.NoError(t, err)
	defer stop()

	user, err := adapter.Query(ctx, "#user")
	require.NoError(t, err)
	require.NoError(t, user.SetInnerHTML(ctx, cardHTML))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return mutations > 0
	}, 2*time.Second, 20*time.Millisecond)

	button, err := adapter.Query(ctx, "#call-button")
	require.NoError(t, err)
	require.NoError(t, button.Click(ctx))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(actions) == 1
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, output.CardAction{CardID: "card-1", Action: output.CardActionCall}, actions[0])
	mu.Unlock()

	_, err = adapter.page.Eval(`() => document.dispatchEvent(new KeyboardEvent('keydown', {code: 'KeyM', ctrlKey: true, shiftKey: true}))`)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return toggles == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCaptureFailure_WritesScreenshot(t *testing.T) {
	adapter := newTestAdapter(t)

	path, err := adapter.CaptureFailure(context.Background(), "delivery")
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, path, "_delivery.jpg")

	shot, err := adapter.Screenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jpeg", shot.Format)
	assert.LessOrEqual(t, shot.Width, maxScreenshotWide)
	assert.NotEmpty(t, shot.Data)
}

func TestClose_Idempotent(t *testing.T) {
	adapter := newTestAdapter(t)

	adapter.Close()
	adapter.Close()

	assert.False(t, adapter.IsReady())
	_, err := adapter.Query(context.Background(), "body")
	assert.ErrorIs(t, err, ErrBrowserClosed)
}
