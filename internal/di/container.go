package di

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"mcp-bridge/internal/application/port/input"
	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/application/service"
	"mcp-bridge/internal/domain/entity"
	"mcp-bridge/internal/infrastructure/browser/rod"
	"mcp-bridge/internal/infrastructure/chatpage"
	"mcp-bridge/internal/infrastructure/config"
	"mcp-bridge/internal/infrastructure/events"
	"mcp-bridge/internal/infrastructure/llm/openrouter"
	"mcp-bridge/internal/infrastructure/logger"
	"mcp-bridge/internal/infrastructure/mcp"
	"mcp-bridge/internal/infrastructure/scheduler"
	"mcp-bridge/internal/infrastructure/storage"
	"mcp-bridge/internal/infrastructure/userinteraction"
	"mcp-bridge/internal/usecase/transcript"
)

const scheduleOff = "off"

type Config struct {
	DataDir           string
	LogDir            string
	LogLevel          string
	LogStderr         bool
	SiteProfilePath   string
	ConnectTimeout    time.Duration
	ReconnectSchedule string
	BrowserHeadless   bool

	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterBaseURL string
}

// ConfigFromEnv reads the MCPBRIDGE_* and OPENROUTER_* variables.
func ConfigFromEnv(env output.ConfigPort) Config {
	return Config{
		DataDir:           env.GetWithDefault("MCPBRIDGE_DATA_DIR", ".data"),
		LogDir:            env.GetWithDefault("MCPBRIDGE_LOG_DIR", "log"),
		LogLevel:          env.GetWithDefault("LOG_LEVEL", "info"),
		SiteProfilePath:   env.Get("MCPBRIDGE_SITE_PROFILE"),
		ConnectTimeout:    env.GetDuration("MCPBRIDGE_CONNECT_TIMEOUT", 15*time.Second),
		ReconnectSchedule: env.GetWithDefault("MCPBRIDGE_RECONNECT_SCHEDULE", scheduler.DefaultSpec),
		BrowserHeadless:   env.GetBool("MCPBRIDGE_HEADLESS", false),
		OpenRouterAPIKey:  env.Get("OPENROUTER_API_KEY"),
		OpenRouterModel:   env.Get("OPENROUTER_MODEL_NAME"),
		OpenRouterBaseURL: env.Get("OPENROUTER_BASE_URL"),
	}
}

// Container holds the components every command needs. The browser is only
// started by NewSession.
type Container struct {
	Config   Config
	Logger   output.LoggerPort
	Profile  config.SiteProfile
	Bus      output.EventBus
	Client   output.ToolClientPort
	Registry input.ServerRegistry
	Settings input.SettingsService
	Panel    output.PanelPort
}

func NewContainer(ctx context.Context, cfg Config, name string) (*Container, error) {
	logCfg := logger.DefaultConfig(name)
	logCfg.Dir = cfg.LogDir
	logCfg.Level = cfg.LogLevel
	logCfg.Stderr = cfg.LogStderr
	log, err := logger.NewLoggerAdapter(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	profile, err := config.LoadSiteProfile(cfg.SiteProfilePath)
	if err != nil {
		log.Close()
		return nil, err
	}

	store, err := storage.NewFileStore(filepath.Clean(cfg.DataDir), log)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open data dir: %w", err)
	}

	clientCfg := mcp.DefaultConfig()
	clientCfg.ConnectTimeout = cfg.ConnectTimeout
	client := mcp.NewClient(clientCfg, log)

	bus := events.NewBus()

	return &Container{
		Config:   cfg,
		Logger:   log,
		Profile:  profile,
		Bus:      bus,
		Client:   client,
		Registry: service.NewServerRegistry(store, client, bus, log),
		Settings: service.NewSettingsService(store, bus, log),
		Panel:    userinteraction.NewConsolePanel(),
	}, nil
}

func (c *Container) Close() {
	if c.Logger != nil {
		c.Logger.Close()
	}
}

// NewHarness builds the local chat page. Without an API key the page only
// records what is typed into it.
func (c *Container) NewHarness() *chatpage.Server {
	var llm output.LLMPort
	if c.Config.OpenRouterAPIKey != "" {
		llmCfg := openrouter.DefaultConfig(c.Config.OpenRouterAPIKey, c.Config.OpenRouterModel)
		if c.Config.OpenRouterBaseURL != "" {
			llmCfg.BaseURL = c.Config.OpenRouterBaseURL
		}
		llmCfg.Logger = c.Logger.WithField("component", "llm")
		llm = openrouter.NewOpenRouterAdapter(llmCfg)
	} else {
		c.Logger.Warn("OPENROUTER_API_KEY is not set, harness replies are disabled")
	}
	return chatpage.NewServer(llm, chatpage.Config{}, c.Logger)
}

// Session is one bridged chat page.
type Session struct {
	Browser   *rod.BrowserAdapter
	Scanner   *transcript.Scanner
	Injector  input.PromptInjector
	Scheduler *scheduler.RefreshScheduler

	registry input.ServerRegistry
	bus      output.EventBus
	panel    output.PanelPort
	logger   output.LoggerPort
}

// NewSession starts a browser on chatURL and wires the transcript scanner to it.
func (c *Container) NewSession(ctx context.Context, chatURL string) (*Session, error) {
	browserCfg := rod.DefaultConfig()
	browserCfg.Headless = c.Config.BrowserHeadless
	browserCfg.DiagnosticsDir = c.Config.LogDir
	browser, err := rod.NewBrowserAdapter(ctx, browserCfg, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser: %w", err)
	}
	if err := browser.Navigate(ctx, chatURL); err != nil {
		browser.Close()
		return nil, err
	}

	var sched *scheduler.RefreshScheduler
	if spec := strings.TrimSpace(c.Config.ReconnectSchedule); spec != scheduleOff {
		sched, err = scheduler.NewRefreshScheduler(spec, c.Registry, 2*c.Config.ConnectTimeout, c.Logger)
		if err != nil {
			browser.Close()
			return nil, err
		}
	}

	scanner := transcript.NewScanner(browser, c.Registry, c.Settings, c.Client, c.Bus, c.Logger, transcript.Options{
		Profile:     c.Profile,
		Diagnostics: browser,
	})

	return &Session{
		Browser:   browser,
		Scanner:   scanner,
		Injector:  transcript.NewInjector(browser, c.Registry, c.Profile, c.Logger),
		Scheduler: sched,
		registry:  c.Registry,
		bus:       c.Bus,
		panel:     c.Panel,
		logger:    c.Logger.WithField("component", "session"),
	}, nil
}

// Run injects the tool prompt when asked to and scans the page until ctx is done.
func (s *Session) Run(ctx context.Context, injectPrompt bool) error {
	unsubscribe := s.bus.Subscribe(entity.TopicToggleSidebar, func() {
		servers, err := s.registry.List(ctx)
		if err != nil {
			s.panel.ShowError(ctx, err)
			return
		}
		s.panel.ToggleServers(ctx, servers)
	})
	defer unsubscribe()

	if s.Scheduler != nil {
		s.Scheduler.Start(ctx)
		defer s.Scheduler.Stop()
	}

	if injectPrompt {
		sent, err := s.Injector.Inject(ctx)
		switch {
		case err != nil:
			s.logger.Warn("Prompt injection failed", "error", err)
			s.panel.ShowError(ctx, err)
		case sent:
			s.panel.ShowNotice(ctx, "Tool prompt sent")
		}
	}

	return s.Scanner.Run(ctx)
}

func (s *Session) Close() {
	if s.Browser != nil {
		s.Browser.Close()
	}
}
