package chatpage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/domain/entity"
	"mcp-bridge/internal/infrastructure/config"
	"mcp-bridge/internal/infrastructure/logger"
)

type scriptedLLM struct {
	reply string
	err   error
	seen  []entity.Message
}

func (s *scriptedLLM) Chat(ctx context.Context, req output.ChatRequest) (*output.ChatResponse, error) {
	s.seen = req.Messages
	if s.err != nil {
		return nil, s.err
	}
	return &output.ChatResponse{Message: entity.Message{Role: entity.RoleAssistant, Content: s.reply}}, nil
}

func post(t *testing.T, url, contentType, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, contentType, strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestPage_MatchesSiteProfile(t *testing.T) {
	srv := NewServer(nil, Config{}, logger.NewNop())
	_, err := srv.Append(entity.RoleAssistant, "Calling:\n\n```json\n{\"__marker_call\": true, \"tool\": \"add\", \"parameters\": {}}\n```\n")
	require.NoError(t, err)
	_, err = srv.Append(entity.RoleUser, "thanks")
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)

	p := config.DefaultSiteProfile()
	log := doc.Find(p.ChatLog)
	require.Equal(t, 1, log.Length())
	assert.Equal(t, 2, log.Find(p.MessageContainer).Length())
	assert.Equal(t, 1, log.Find(p.AssistantMessage).Length())
	assert.Equal(t, 1, log.Find(p.UserMessage).Length())

	code := log.Find(p.AssistantMessage).Find(p.CodeBlock)
	require.Equal(t, 1, code.Length())
	assert.Contains(t, code.Text(), `"__marker_call": true`)

	widget := code.Closest(".code-widget")
	assert.Equal(t, 1, widget.Find(p.WidgetLanguage).Length())
	assert.Equal(t, "json", widget.Find(p.WidgetLanguage).Text())

	assert.Equal(t, 1, doc.Find(p.ChatInput).Length())
	assert.Equal(t, 1, doc.Find(p.SendButton).Length())
	assert.Equal(t, 1, doc.Find(p.ChatForm).Length())
}

func TestPostAndComplete(t *testing.T) {
	llm := &scriptedLLM{reply: "```json\n{\"__marker_call\": true, \"tool\": \"add\"}\n```"}
	srv := NewServer(llm, Config{SystemPrompt: "sys"}, logger.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := post(t, ts.URL+"/api/messages", "application/json", `{"content":"add 1 and 2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, gjson.Get(readBody(t, resp), "html").String(), `aria-label="Your message"`)

	resp = post(t, ts.URL+"/api/complete", "application/json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fragment := gjson.Get(readBody(t, resp), "html").String()
	assert.Contains(t, fragment, `aria-label="Assistant message"`)
	assert.Contains(t, fragment, `<code class="language-json">`)

	require.Len(t, llm.seen, 2)
	assert.Equal(t, entity.RoleSystem, llm.seen[0].Role)
	assert.Equal(t, "add 1 and 2", llm.seen[1].Content)

	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, entity.RoleAssistant, msgs[1].Role)

	list, err := http.Get(ts.URL + "/api/messages")
	require.NoError(t, err)
	defer list.Body.Close()
	assert.Equal(t, int64(2), gjson.Get(readBody(t, list), "#").Int())
}

func TestPost_FormAndValidation(t *testing.T) {
	srv := NewServer(nil, Config{}, logger.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := post(t, ts.URL+"/api/messages", "application/x-www-form-urlencoded", "content=hello")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, ts.URL+"/api/messages", "application/json", `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/api/messages", "application/json", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/api/complete", "application/json", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestComplete_ModelFailure(t *testing.T) {
	srv := NewServer(&scriptedLLM{err: errors.New("rate limited")}, Config{}, logger.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := post(t, ts.URL+"/api/complete", "application/json", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "rate limited", gjson.Get(readBody(t, resp), "error").String())
	assert.Empty(t, srv.Messages())
}

func TestRenderMarkdown_EscapesCode(t *testing.T) {
	out, err := renderMarkdown(newMarkdown(), "```\n<b>x</b>\n```\n")
	require.NoError(t, err)
	assert.Contains(t, out, `data-language-id="text"`)
	assert.Contains(t, out, "&lt;b&gt;x&lt;/b&gt;")
}
