package rod

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/domain/entity"
)

var (
	_ output.PagePort        = (*BrowserAdapter)(nil)
	_ output.DiagnosticsPort = (*BrowserAdapter)(nil)
)

const (
	defaultTimeout    = 10 * time.Second
	defaultSlowMotion = 0
	maxScreenshotWide = 1024
)

var (
	ErrInvalidURL    = errors.New("invalid url")
	ErrBrowserClosed = errors.New("browser is closed")
)

// BrowserAdapter drives one tab of a Chromium instance showing the chat page.
type BrowserAdapter struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	page     *rod.Page
	timeout  time.Duration
	diagDir  string
	logger   output.LoggerPort

	mu     sync.Mutex
	closed bool
}

type BrowserConfig struct {
	Headless   bool
	SlowMotion time.Duration
	Timeout    time.Duration
	NoSandbox  bool
	DevTools   bool
	// DiagnosticsDir receives failure screenshots. Empty disables them.
	DiagnosticsDir string
}

func DefaultConfig() BrowserConfig {
	return BrowserConfig{
		Headless:       false,
		SlowMotion:     defaultSlowMotion,
		Timeout:        defaultTimeout,
		NoSandbox:      false,
		DevTools:       false,
		DiagnosticsDir: "log",
	}
}

func NewBrowserAdapter(ctx context.Context, cfg BrowserConfig, logger output.LoggerPort) (*BrowserAdapter, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	l := launcher.New().
		Context(ctx).
		Headless(cfg.Headless).
		Devtools(cfg.DevTools).
		NoSandbox(cfg.NoSandbox)

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().
		Context(ctx).
		ControlURL(controlURL).
		SlowMotion(cfg.SlowMotion)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return &BrowserAdapter{
		browser:  browser,
		launcher: l,
		page:     page,
		timeout:  cfg.Timeout,
		diagDir:  cfg.DiagnosticsDir,
		logger:   logger.WithField("component", "browser"),
	}, nil
}

func (b *BrowserAdapter) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && b.page != nil
}

func (b *BrowserAdapter) Navigate(ctx context.Context, rawURL string) error {
	if !b.IsReady() {
		return ErrBrowserClosed
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file") || (u.Host == "" && u.Scheme != "file") {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	page := b.page.Context(ctx).Timeout(b.timeout)
	if err := page.Navigate(rawURL); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load: %w", err)
	}
	b.logger.Info("Navigated", "url", rawURL)
	return nil
}

func (b *BrowserAdapter) CurrentURL() string {
	if !b.IsReady() {
		return ""
	}
	info, err := b.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Screenshot returns a JPEG no wider than 1024 pixels.
func (b *BrowserAdapter) Screenshot(ctx context.Context) (*entity.Screenshot, error) {
	img, err := b.capture(ctx)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}

	return &entity.Screenshot{
		Data:   buf.Bytes(),
		Format: "jpeg",
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
	}, nil
}

// CaptureFailure saves a screenshot into the diagnostics directory.
func (b *BrowserAdapter) CaptureFailure(ctx context.Context, reason string) (string, error) {
	if b.diagDir == "" {
		return "", errors.New("diagnostics disabled")
	}
	img, err := b.capture(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(b.diagDir, 0755); err != nil {
		return "", fmt.Errorf("create diagnostics dir: %w", err)
	}

	path := filepath.Join(b.diagDir, time.Now().Format("2006-01-02_15-04-05")+"_delivery.jpg")
	if err := imaging.Save(img, path, imaging.JPEGQuality(75)); err != nil {
		return "", fmt.Errorf("save screenshot: %w", err)
	}
	b.logger.Warn("Saved failure screenshot", "path", path, "reason", reason)
	return path, nil
}

func (b *BrowserAdapter) capture(ctx context.Context) (image.Image, error) {
	if !b.IsReady() {
		return nil, ErrBrowserClosed
	}
	imgBytes, err := b.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: gson.Int(80),
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}
	if img.Bounds().Dx() > maxScreenshotWide {
		img = imaging.Resize(img, maxScreenshotWide, 0, imaging.Lanczos)
	}
	return img, nil
}

func (b *BrowserAdapter) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	if b.browser != nil {
		_ = b.browser.Close()
	}
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
	}
}
