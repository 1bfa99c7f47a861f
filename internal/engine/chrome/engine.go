// Package chrome adapts go-rod to the session.Engine interface. Every
// session gets its own browser process; handles are never shared.
package chrome

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/jobpilot/browserd/internal/domain/session"
	"github.com/jobpilot/browserd/internal/infrastructure/logging"
)

// Config tunes engine behavior.
type Config struct {
	// Headless is the default mode; headful sessions override it.
	Headless bool
	// DisplayEnv is the X display headful instances render to (":99" when
	// the display bridge is running). Empty leaves DISPLAY untouched.
	DisplayEnv string
	// BrowserBin overrides the auto-detected chrome binary.
	BrowserBin string
	// Stealth applies anti-detection measures: stealth page scripts,
	// randomized viewport, rotated user agent.
	Stealth bool
	// NavigationTimeout bounds initial page loads.
	NavigationTimeout time.Duration
}

// DefaultConfig returns production engine settings.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		Stealth:           true,
		NavigationTimeout: 30 * time.Second,
	}
}

// Engine launches dedicated chrome processes via rod's launcher.
type Engine struct {
	cfg    Config
	logger *logging.Logger
	jitter *jitter
}

// New creates a chrome engine.
func New(cfg Config, logger *logging.Logger) *Engine {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.Named("chrome"),
		jitter: newJitter(),
	}
}

// Launch starts an isolated browser process and opens its single page.
// Failures propagate unretried; the caller decides retry policy.
func (e *Engine) Launch(ctx context.Context, opts session.LaunchOptions) (session.Handle, error) {
	headless := e.cfg.Headless && !opts.Headful

	l := launcher.New().
		Headless(headless).
		Set("no-sandbox").
		Set("disable-blink-features", "AutomationControlled")
	if e.cfg.BrowserBin != "" {
		l = l.Bin(e.cfg.BrowserBin)
	}
	if opts.Headful && e.cfg.DisplayEnv != "" {
		l = l.Env(append(os.Environ(), "DISPLAY="+e.cfg.DisplayEnv)...)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to chrome: %w", err)
	}

	page, err := e.openPage(browser)
	if err != nil {
		_ = browser.Close()
		l.Cleanup()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if e.cfg.Stealth {
		e.disguise(page)
	}

	e.logger.Info("browser launched",
		zap.String("session_id", opts.SessionID),
		zap.Bool("headless", headless),
	)

	return &handle{
		launcher:   l,
		browser:    browser,
		page:       page,
		navTimeout: e.cfg.NavigationTimeout,
		humanize:   e.cfg.Stealth,
		jitter:     e.jitter,
	}, nil
}

// FetchHTML renders a URL in a throwaway headless browser and returns the
// loaded document. Used by the scrape layer, which opens and closes its own
// pages independent of the session abstraction.
func (e *Engine) FetchHTML(ctx context.Context, url string) (string, error) {
	h, err := e.Launch(ctx, session.LaunchOptions{SessionID: "scrape"})
	if err != nil {
		return "", err
	}
	defer func() { _ = h.Close() }()

	if err := h.Navigate(ctx, url); err != nil {
		return "", err
	}
	content, err := h.Content(ctx)
	if err != nil {
		return "", err
	}
	return content.HTML, nil
}

func (e *Engine) openPage(browser *rod.Browser) (*rod.Page, error) {
	if e.cfg.Stealth {
		return stealth.Page(browser)
	}
	return browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
}

// disguise randomizes the fingerprint surface bots are commonly detected by.
func (e *Engine) disguise(page *rod.Page) {
	vp := viewports[e.jitter.Intn(len(viewports))]
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.width,
		Height:            vp.height,
		DeviceScaleFactor: 1,
	}).Call(page); err != nil {
		e.logger.Debug("viewport override failed", zap.Error(err))
	}

	ua := userAgents[e.jitter.Intn(len(userAgents))]
	if err := (proto.NetworkSetUserAgentOverride{
		UserAgent:      ua,
		AcceptLanguage: "en-US,en;q=0.9",
	}).Call(page); err != nil {
		e.logger.Debug("user agent override failed", zap.Error(err))
	}
}

type viewport struct {
	width, height int
}

// Common desktop resolutions; exotic sizes are themselves a signal.
var viewports = []viewport{
	{1920, 1080},
	{1680, 1050},
	{1536, 864},
	{1440, 900},
	{1366, 768},
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
}
