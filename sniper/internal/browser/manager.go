// Package browser owns the Chrome processes of snipebot: the main session
// running on the authenticated source profile, and the isolated worker
// sessions running on disposable clones of it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/snipebot/horosafe"
	"github.com/hazyhaar/snipebot/sniper/internal/page"
)

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("browser: manager is closed")

// Config configures the browser manager.
type Config struct {
	// SourceProfile is the Chrome user-data-dir holding the logged-in
	// venue session. Workers clone it and never write to it.
	SourceProfile string
	// TempDir is the parent of worker clones. Default: $TMPDIR/snipebot.
	TempDir string
	// Bin is the Chrome binary. Empty lets rod find or download one.
	Bin string
	// BaseURL is the venue origin opened by every new session.
	BaseURL string
	// WindowSize is passed as --window-size. Default: "1280,720".
	WindowSize string
	// ResourceBlocking lists resource types blocked in worker sessions.
	ResourceBlocking []string
	// Xvfb starts a virtual display for headful sessions.
	Xvfb        bool
	XvfbDisplay string
	// StepTimeout bounds each UI wait of the pages handed out.
	StepTimeout time.Duration
	// Ignore overrides DefaultIgnore for profile clones.
	Ignore []string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.SourceProfile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.SourceProfile = filepath.Join(home, "chromeprofile")
		}
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), "snipebot")
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://rugplay.com"
	}
	if c.WindowSize == "" {
		c.WindowSize = "1280,720"
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 15 * time.Second
	}
	if c.Ignore == nil {
		c.Ignore = DefaultIgnore
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager launches and tears down Chrome sessions. Chrome starts outside
// mu, so Main and Alive never wait on a launch in progress.
type Manager struct {
	cfg Config

	// mainMu serializes Start and Relaunch.
	mainMu sync.Mutex

	mu      sync.Mutex
	main    *Session
	workers map[*Session]struct{}
	closed  bool

	xvfbMu sync.Mutex
	xvfb   *exec.Cmd
}

// NewManager creates a Manager. Call Start to open the main session.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg, workers: make(map[*Session]struct{})}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Start opens the main session on the source profile. headless=false is
// used for the interactive login.
func (m *Manager) Start(ctx context.Context, headless bool) (*Session, error) {
	m.mainMu.Lock()
	defer m.mainMu.Unlock()

	m.mu.Lock()
	closed, cur := m.closed, m.main
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if cur != nil {
		return cur, nil
	}
	s, err := m.launch(ctx, m.cfg.SourceProfile, headless, false)
	if err != nil {
		return nil, err
	}
	return m.setMain(s)
}

// Relaunch closes the main session and opens it again, typically headless
// once the login has been captured.
func (m *Manager) Relaunch(ctx context.Context, headless bool) (*Session, error) {
	m.mainMu.Lock()
	defer m.mainMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	old := m.main
	m.main = nil
	m.mu.Unlock()
	old.Close()

	s, err := m.launch(ctx, m.cfg.SourceProfile, headless, false)
	if err != nil {
		return nil, err
	}
	m.cfg.Logger.Info("browser: main session relaunched", "headless", headless)
	return m.setMain(s)
}

func (m *Manager) setMain(s *Session) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.Close()
		return nil, ErrClosed
	}
	m.main = s
	m.mu.Unlock()
	return s, nil
}

// Main returns the main session, or nil before Start.
func (m *Manager) Main() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.main
}

// Alive reports whether the main session's browser still answers.
func (m *Manager) Alive() bool {
	s := m.Main()
	return s != nil && s.Alive()
}

// Clone copies the source profile into a fresh directory under TempDir
// named after workerID.
func (m *Manager) Clone(ctx context.Context, workerID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := horosafe.ValidateIdentifier(workerID); err != nil {
		return "", fmt.Errorf("browser: clone: %w", err)
	}
	if err := os.MkdirAll(m.cfg.TempDir, 0o700); err != nil {
		return "", fmt.Errorf("browser: clone: temp base: %w", err)
	}
	dir, err := os.MkdirTemp(m.cfg.TempDir, "snipe-"+workerID+"-")
	if err != nil {
		return "", fmt.Errorf("browser: clone: %w", err)
	}
	start := time.Now()
	if err := CopyProfile(m.cfg.SourceProfile, dir, m.cfg.Ignore); err != nil {
		m.Destroy(dir)
		return "", fmt.Errorf("browser: clone %s: %w", m.cfg.SourceProfile, err)
	}
	m.cfg.Logger.Debug("browser: profile cloned", "worker", workerID, "dir", dir, "took", time.Since(start))
	return dir, nil
}

// Open starts an isolated session bound to profile. Launches run
// concurrently with each other and with the main session.
func (m *Manager) Open(ctx context.Context, profile string, headless bool) (*Session, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	s, err := m.launch(ctx, profile, headless, true)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		s.Close()
		return nil, ErrClosed
	}
	m.workers[s] = struct{}{}
	return s, nil
}

// CloseSession terminates s. Safe on nil and on an already closed session.
func (m *Manager) CloseSession(s *Session) {
	if s == nil {
		return
	}
	m.mu.Lock()
	delete(m.workers, s)
	m.mu.Unlock()
	if err := s.Close(); err != nil {
		m.cfg.Logger.Debug("browser: close session", "error", err)
	}
}

// Destroy removes a cloned profile directory. It refuses anything outside
// TempDir, tolerates missing or partial trees and never fails.
func (m *Manager) Destroy(profile string) {
	if profile == "" {
		return
	}
	if err := horosafe.Within(m.cfg.TempDir, profile); err != nil {
		m.cfg.Logger.Warn("browser: refusing to destroy profile outside temp dir", "dir", profile, "error", err)
		return
	}
	if err := os.RemoveAll(profile); err != nil {
		m.cfg.Logger.Warn("browser: destroy profile", "dir", profile, "error", err)
	}
}

// Close shuts down the main session, any worker session still open, and
// Xvfb. Sessions whose launch finishes afterwards are closed on arrival.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	primary, workers := m.main, m.workers
	m.main, m.workers = nil, make(map[*Session]struct{})
	m.mu.Unlock()

	for s := range workers {
		s.Close()
	}
	err := primary.Close()
	m.stopXvfb()
	return err
}

// launch starts Chrome on profile and opens a stealth page on BaseURL.
func (m *Manager) launch(ctx context.Context, profile string, headless, worker bool) (*Session, error) {
	log := m.cfg.Logger

	l := launcher.New().
		UserDataDir(profile).
		Headless(headless).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("window-size", m.cfg.WindowSize)
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}
	if !headless && m.cfg.Xvfb {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
		l = l.Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launch: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	rp, err := stealth.Page(b)
	if err != nil {
		b.Close()
		l.Kill()
		return nil, fmt.Errorf("browser: stealth page: %w", err)
	}

	s := &Session{Profile: profile, Headless: headless, browser: b, lnch: l}
	if worker && len(m.cfg.ResourceBlocking) > 0 {
		router, err := blockResources(rp, m.cfg.ResourceBlocking)
		if err != nil {
			log.Warn("browser: resource blocking failed", "error", err)
		}
		s.router = router
	}
	s.Page = page.New(rp, page.Config{BaseURL: m.cfg.BaseURL, StepTimeout: m.cfg.StepTimeout, Logger: log})

	if err := s.Page.Open(ctx, m.cfg.BaseURL); err != nil {
		s.Close()
		return nil, fmt.Errorf("browser: open %s: %w", m.cfg.BaseURL, err)
	}
	log.Info("browser: session ready", "profile", profile, "headless", headless, "worker", worker)
	return s, nil
}
