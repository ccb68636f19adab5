// Package browser is the rod-backed browser driver and the single shared
// browser session
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/v0xg/screenpilot/internal/config"
	"github.com/v0xg/screenpilot/internal/driver"
)

// SessionManager owns the one browser and page used by tasks. The browser
// starts on the first Acquire and only stops on Close.
type SessionManager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
	page    *Page
}

// NewSessionManager creates a manager; no browser is launched yet
func NewSessionManager(cfg config.BrowserConfig, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{cfg: cfg, logger: logger.Named("browser")}
}

// Acquire returns the session page, launching the browser on first use
func (m *SessionManager) Acquire(ctx context.Context) (driver.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.page != nil {
		return m.page, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browser, err := m.launch()
	if err != nil {
		return nil, err
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.Width,
		Height:            m.cfg.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		m.logger.Warn("could not set viewport", zap.Error(err))
	}

	m.browser = browser
	m.page = &Page{page: page, logger: m.logger}
	m.logger.Info("browser started",
		zap.Bool("headless", m.cfg.Headless),
		zap.Int("width", m.cfg.Width),
		zap.Int("height", m.cfg.Height))
	return m.page, nil
}

func (m *SessionManager) launch() (*rod.Browser, error) {
	l := launcher.New().Headless(m.cfg.Headless)
	bin := m.cfg.Bin
	if bin == "" {
		if path, found := launcher.LookPath(); found {
			bin = path
		}
	}
	if bin != "" {
		l = l.Bin(bin)
	}
	if m.cfg.ProfileDir != "" {
		l = l.UserDataDir(m.cfg.ProfileDir)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	return browser, nil
}

// Current returns the session page if the browser has started
func (m *SessionManager) Current() (driver.Page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.page == nil {
		return nil, false
	}
	return m.page, true
}

// Close shuts the browser down. Closing an idle manager is a no-op.
func (m *SessionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.page != nil {
		if err := m.page.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
	}
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		m.logger.Info("browser closed")
	}
	m.page, m.browser = nil, nil
	return errors.Join(errs...)
}
