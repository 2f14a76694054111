package sniper

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/snipebot/sniper/internal/browser"
	"github.com/hazyhaar/snipebot/sniper/internal/page"
	"github.com/hazyhaar/snipebot/sniper/internal/wallet"
	"github.com/hazyhaar/snipebot/sniper/internal/worker"
)

// ErrNoCookies means the main browser has no cookie for the venue yet,
// usually because the login has not happened.
var ErrNoCookies = errors.New("sniper: no session cookie in browser")

// CaptureSession reads the cookies of the logged-in main session, checks
// them against the portfolio endpoint and stores them for API calls. Unless
// debugging or configured otherwise, the main browser is then relaunched
// headless.
func (b *Bot) CaptureSession(ctx context.Context) (wallet.Snapshot, error) {
	main := b.mgr.Main()
	if main == nil {
		return wallet.Snapshot{}, ErrNoBrowser
	}
	cookie, err := main.Page.Cookies(ctx)
	if err != nil {
		return wallet.Snapshot{}, fmt.Errorf("sniper: capture: %w", err)
	}
	if cookie == "" {
		return wallet.Snapshot{}, ErrNoCookies
	}
	return b.adoptCookie(ctx, cookie, main.Headless)
}

// adoptCookie verifies cookie with a balance refresh and keeps it on
// success. The previous cookie is restored on failure.
func (b *Bot) adoptCookie(ctx context.Context, cookie string, headless bool) (wallet.Snapshot, error) {
	prev := b.client.Cookie()
	b.client.SetCookie(cookie)
	snap, err := b.wallet.Refresh(ctx)
	if err != nil {
		b.client.SetCookie(prev)
		b.out.Error("session capture failed: " + err.Error())
		return wallet.Snapshot{}, fmt.Errorf("sniper: verify session: %w", err)
	}
	b.logger.Info("sniper: session captured", "balance", snap.Balance.String())
	b.out.Info("session captured, balance " + snap.Balance.String())

	if !headless && b.cfg.Browser.Headless && !b.debug {
		if _, err := b.mgr.Relaunch(ctx, true); err != nil {
			b.logger.Warn("sniper: headless relaunch failed", "error", err)
			b.out.Warn("could not relaunch browser headless")
		}
	}
	return snap, nil
}

// workerSessions adapts the browser manager to the worker lifecycle.
type workerSessions struct {
	mgr      *browser.Manager
	headless bool
}

type workerSurface struct {
	*page.Page
	sess *browser.Session
}

func (w *workerSessions) Clone(ctx context.Context, workerID string) (string, error) {
	return w.mgr.Clone(ctx, workerID)
}

func (w *workerSessions) Open(ctx context.Context, profile string) (worker.Surface, error) {
	s, err := w.mgr.Open(ctx, profile, w.headless)
	if err != nil {
		return nil, err
	}
	return &workerSurface{Page: s.Page, sess: s}, nil
}

func (w *workerSessions) Close(s worker.Surface) {
	ws, ok := s.(*workerSurface)
	if !ok || ws == nil {
		return
	}
	w.mgr.CloseSession(ws.sess)
}

func (w *workerSessions) Destroy(profile string) {
	w.mgr.Destroy(profile)
}
