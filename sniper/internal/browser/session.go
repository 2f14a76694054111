package browser

import (
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/hazyhaar/snipebot/sniper/internal/page"
)

// Session is one Chrome process with a single stealth page.
type Session struct {
	Profile  string
	Headless bool
	Page     *page.Page

	browser *rod.Browser
	lnch    *launcher.Launcher
	router  *rod.HijackRouter

	once sync.Once
	err  error
}

// Alive reports whether the browser still answers CDP calls.
func (s *Session) Alive() bool {
	if s == nil || s.browser == nil {
		return false
	}
	_, err := s.browser.Version()
	return err == nil
}

// Close terminates the browser process. The profile directory is left in
// place; Kill is used rather than launcher cleanup so that the source
// profile is never removed. Idempotent and nil-safe.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		if s.router != nil {
			s.router.Stop()
		}
		if s.browser != nil {
			s.err = s.browser.Close()
		}
		if s.lnch != nil {
			s.lnch.Kill()
		}
	})
	return s.err
}
