package chatpage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/yuin/goldmark"

	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/domain/entity"
)

//go:embed page.html
var pageHTML string

var pageTemplate = template.Must(template.New("page").Parse(pageHTML))

const defaultSystemPrompt = "You are a helpful assistant. When a tool is useful, reply with the JSON call block you were taught."

// Server is a local chat page with the DOM structure the bridge expects.
// Assistant replies come from an OpenAI-compatible model when one is set.
type Server struct {
	llm          output.LLMPort
	logger       output.LoggerPort
	md           goldmark.Markdown
	systemPrompt string

	mu       sync.Mutex
	messages []entity.Message
	seq      int
}

type Config struct {
	SystemPrompt string
}

func NewServer(llm output.LLMPort, cfg Config, logger output.LoggerPort) *Server {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	return &Server{
		llm:          llm,
		logger:       logger.WithField("component", "chatpage"),
		md:           newMarkdown(),
		systemPrompt: cfg.SystemPrompt,
	}
}

type messageView struct {
	ID    string
	Label string
	HTML  template.HTML
}

// Handler returns the routes of the chat page.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(httplog.NewLogger("chat-harness", httplog.Options{Concise: true})))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handlePage)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r.Route("/api", func(r chi.Router) {
		r.Get("/messages", s.handleList)
		r.Post("/messages", s.handlePost)
		r.Post("/complete", s.handleComplete)
	})
	return r
}

// ListenAndServe serves the page on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("Chat harness listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Append adds a message to the transcript and returns its rendered markup.
func (s *Server) Append(role entity.MessageRole, content string) (string, error) {
	s.mu.Lock()
	s.seq++
	msg := entity.Message{
		ID:        strconv.Itoa(s.seq),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	return s.renderMessage(msg)
}

func (s *Server) Messages() []entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.Message(nil), s.messages...)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	views := make([]messageView, 0)
	for _, msg := range s.Messages() {
		view, err := s.view(msg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views = append(views, view)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, map[string]any{"Title": "Chat", "Messages": views}); err != nil {
		s.logger.Error("Failed to render page", "error", err)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	doc := "[]"
	for i, msg := range s.Messages() {
		doc, _ = sjson.Set(doc, fmt.Sprintf("%d.id", i), msg.ID)
		doc, _ = sjson.Set(doc, fmt.Sprintf("%d.role", i), string(msg.Role))
		doc, _ = sjson.Set(doc, fmt.Sprintf("%d.content", i), msg.Content)
	}
	writeJSON(w, http.StatusOK, doc)
}

// handlePost accepts {"content": "..."} or a form field named content.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	content, err := readContent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	markup, err := s.Append(entity.RoleUser, content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	doc, _ := sjson.Set("{}", "html", markup)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	history := append([]entity.Message{{Role: entity.RoleSystem, Content: s.systemPrompt}}, s.Messages()...)
	resp, err := s.llm.Chat(r.Context(), output.ChatRequest{Messages: history, Temperature: 0.2})
	if err != nil {
		s.logger.Warn("Model request failed", "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}

	markup, err := s.Append(entity.RoleAssistant, resp.Message.Content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	doc, _ := sjson.Set("{}", "html", markup)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) view(msg entity.Message) (messageView, error) {
	body, err := renderMarkdown(s.md, msg.Content)
	if err != nil {
		return messageView{}, fmt.Errorf("render message %s: %w", msg.ID, err)
	}
	label := "Assistant message"
	if msg.Role == entity.RoleUser {
		label = "Your message"
	}
	return messageView{ID: msg.ID, Label: label, HTML: template.HTML(body)}, nil
}

func (s *Server) renderMessage(msg entity.Message) (string, error) {
	view, err := s.view(msg)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := pageTemplate.ExecuteTemplate(&sb, "message", view); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func readContent(r *http.Request) (string, error) {
	var content string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		if !gjson.ValidBytes(body) {
			return "", errors.New("invalid json body")
		}
		content = gjson.GetBytes(body, "content").String()
	} else {
		content = r.FormValue("content")
	}
	if strings.TrimSpace(content) == "" {
		return "", errors.New("content is required")
	}
	return content, nil
}

func writeJSON(w http.ResponseWriter, status int, doc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(doc))
}

func writeError(w http.ResponseWriter, status int, err error) {
	doc, _ := sjson.Set("{}", "error", err.Error())
	writeJSON(w, status, doc)
}
