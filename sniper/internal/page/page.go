// Package page drives the venue's asset detail page through rod: trade tabs,
// the amount field, the confirmation dialog, the sell panel and the CDP
// calls used to force a clean reload.
package page

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/shopspring/decimal"

	"github.com/hazyhaar/snipebot/sniper/internal/venue"
)

// storageTypes cleared by ClearOriginStorage.
const storageTypes = "appcache,cache_storage,file_systems,indexeddb,shader_cache,websql"

// Config configures a Page.
type Config struct {
	// BaseURL is the venue origin, e.g. https://rugplay.com.
	BaseURL string
	// StepTimeout bounds every wait on a single UI step. Default: 15s.
	StepTimeout time.Duration
	// ShortTimeout bounds waits on controls expected to be already present. Default: 5s.
	ShortTimeout time.Duration
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.StepTimeout <= 0 {
		c.StepTimeout = 15 * time.Second
	}
	if c.ShortTimeout <= 0 {
		c.ShortTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Page is one rod page pointed at the venue. Individual calls are safe from
// any goroutine; a multi-step sequence (navigate, pick a tab, type, confirm)
// must hold Lock so another sequence cannot interleave with it.
type Page struct {
	rp  *rod.Page
	cfg Config

	mu sync.Mutex
}

// New wraps rp.
func New(rp *rod.Page, cfg Config) *Page {
	cfg.defaults()
	return &Page{rp: rp, cfg: cfg}
}

// Lock reserves the page for one UI sequence.
func (p *Page) Lock() { p.mu.Lock() }

// Unlock releases the page.
func (p *Page) Unlock() { p.mu.Unlock() }

// Rod returns the underlying rod page.
func (p *Page) Rod() *rod.Page { return p.rp }

// AssetURL returns the detail page URL of symbol.
func (p *Page) AssetURL(symbol string) string { return p.cfg.BaseURL + "/coin/" + symbol }

// step returns the page bound to ctx with timeout d.
func (p *Page) step(ctx context.Context, d time.Duration) (*rod.Page, context.CancelFunc) {
	c, cancel := context.WithTimeout(ctx, d)
	return p.rp.Context(c), cancel
}

// Open navigates to url and waits for the document body.
func (p *Page) Open(ctx context.Context, url string) error {
	rp, cancel := p.step(ctx, p.cfg.StepTimeout)
	defer cancel()
	if err := rp.Navigate(url); err != nil {
		return fmt.Errorf("page: navigate %s: %w", url, err)
	}
	if _, err := rp.Element("body"); err != nil {
		return fmt.Errorf("page: wait body: %w", err)
	}
	return nil
}

// URL returns the current page URL.
func (p *Page) URL(ctx context.Context) (string, error) {
	rp, cancel := p.step(ctx, p.cfg.ShortTimeout)
	defer cancel()
	info, err := rp.Info()
	if err != nil {
		return "", fmt.Errorf("page: info: %w", err)
	}
	return info.URL, nil
}

// EnsureAsset navigates to the asset page unless it is already loaded.
func (p *Page) EnsureAsset(ctx context.Context, symbol string) error {
	target := p.AssetURL(symbol)
	if cur, err := p.URL(ctx); err == nil && strings.TrimRight(cur, "/") == target {
		return nil
	}
	return p.Open(ctx, target)
}

// HardReload disables the HTTP cache and reloads ignoring it.
func (p *Page) HardReload(ctx context.Context) error {
	rp, cancel := p.step(ctx, p.cfg.StepTimeout)
	defer cancel()
	if err := (proto.NetworkSetCacheDisabled{CacheDisabled: true}).Call(rp); err != nil {
		return fmt.Errorf("page: disable cache: %w", err)
	}
	if err := (proto.PageReload{IgnoreCache: true}).Call(rp); err != nil {
		return fmt.Errorf("page: reload: %w", err)
	}
	return nil
}

// ClearOriginStorage wipes caches and storage of the venue origin and stops
// its service workers.
func (p *Page) ClearOriginStorage(ctx context.Context) error {
	rp, cancel := p.step(ctx, p.cfg.StepTimeout)
	defer cancel()
	err := (proto.StorageClearDataForOrigin{Origin: p.cfg.BaseURL, StorageTypes: storageTypes}).Call(rp)
	if err != nil {
		return fmt.Errorf("page: clear storage: %w", err)
	}
	if err := (proto.ServiceWorkerEnable{}).Call(rp); err != nil {
		return fmt.Errorf("page: service worker enable: %w", err)
	}
	if err := (proto.ServiceWorkerStopAllWorkers{}).Call(rp); err != nil {
		return fmt.Errorf("page: stop service workers: %w", err)
	}
	return nil
}

// WaitTradeReady waits until the sell tab is interactive.
func (p *Page) WaitTradeReady(ctx context.Context) error {
	rp, cancel := p.step(ctx, p.cfg.StepTimeout)
	defer cancel()
	el, err := rp.ElementX(SellTabXPath)
	if err != nil {
		return fmt.Errorf("page: sell tab: %w", err)
	}
	if _, err := el.WaitInteractable(); err != nil {
		return fmt.Errorf("page: sell tab not interactable: %w", err)
	}
	return nil
}

// SelectTab clicks the buy or sell tab.
func (p *Page) SelectTab(ctx context.Context, side venue.Side) error {
	rp, cancel := p.step(ctx, p.cfg.StepTimeout)
	defer cancel()
	el, err := rp.ElementX(TabXPath(side))
	if err != nil {
		return fmt.Errorf("page: %s tab: %w", side, err)
	}
	if _, err := el.WaitInteractable(); err != nil {
		return fmt.Errorf("page: %s tab not interactable: %w", side, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("page: click %s tab: %w", side, err)
	}
	return nil
}

// PanelText returns the visible text of the trade panel around the amount input.
func (p *Page) PanelText(ctx context.Context) (string, error) {
	rp, cancel := p.step(ctx, p.cfg.StepTimeout)
	defer cancel()
	el, err := rp.ElementX(PanelXPath)
	if err != nil {
		return "", fmt.Errorf("page: panel: %w", err)
	}
	if err := el.WaitVisible(); err != nil {
		return "", fmt.Errorf("page: panel not visible: %w", err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("page: panel text: %w", err)
	}
	return text, nil
}

// EnterAmount replaces the amount field content.
func (p *Page) EnterAmount(ctx context.Context, amount decimal.Decimal) error {
	rp, cancel := p.step(ctx, p.cfg.StepTimeout)
	defer cancel()
	el, err := rp.ElementX(AmountXPath)
	if err != nil {
		return fmt.Errorf("page: amount input: %w", err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("page: amount input not visible: %w", err)
	}
	if _, err := el.Eval(`() => { this.value = ''; this.dispatchEvent(new Event('input', {bubbles: true})) }`); err != nil {
		return fmt.Errorf("page: clear amount: %w", err)
	}
	if err := el.Input(amount.String()); err != nil {
		return fmt.Errorf("page: type amount: %w", err)
	}
	return nil
}

// Confirm clicks the dialog's confirmation button, waits for the outcome
// text and, on success, for the dialog to close. It returns the outcome text.
func (p *Page) Confirm(ctx context.Context, side venue.Side, symbol string) (string, error) {
	rp, cancel := p.step(ctx, p.cfg.StepTimeout)
	defer cancel()
	btn, err := rp.ElementX(ConfirmXPath(side, symbol))
	if err != nil {
		return "", fmt.Errorf("page: confirm button: %w", err)
	}
	if _, err := btn.Eval(`() => this.click()`); err != nil {
		return "", fmt.Errorf("page: click confirm: %w", err)
	}

	orp, ocancel := p.step(ctx, p.cfg.StepTimeout)
	defer ocancel()
	out, err := orp.ElementX(OutcomeXPath)
	if err != nil {
		return "", fmt.Errorf("page: outcome: %w", err)
	}
	if err := out.WaitVisible(); err != nil {
		return "", fmt.Errorf("page: outcome not visible: %w", err)
	}
	text, err := out.Text()
	if err != nil {
		return "", fmt.Errorf("page: outcome text: %w", err)
	}

	if Classify(text) == VerdictSuccess {
		drp, dcancel := p.step(ctx, p.cfg.StepTimeout)
		defer dcancel()
		if dlg, err := drp.Sleeper(rod.NotFoundSleeper).ElementX(DialogXPath); err == nil {
			if err := dlg.WaitInvisible(); err != nil {
				p.cfg.Logger.Debug("page: dialog still visible", "symbol", symbol, "error", err)
			}
		}
	}
	return text, nil
}

// Submit enters amount on the current tab and confirms. It returns the
// outcome text.
func (p *Page) Submit(ctx context.Context, symbol string, side venue.Side, amount decimal.Decimal) (string, error) {
	if err := p.EnterAmount(ctx, amount); err != nil {
		return "", err
	}
	return p.Confirm(ctx, side, symbol)
}

// Cookies returns the page cookies formatted as a Cookie header.
func (p *Page) Cookies(ctx context.Context) (string, error) {
	rp, cancel := p.step(ctx, p.cfg.ShortTimeout)
	defer cancel()
	cookies, err := rp.Cookies(nil)
	if err != nil {
		return "", fmt.Errorf("page: cookies: %w", err)
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; "), nil
}

// Reload reloads the page without clearing anything.
func (p *Page) Reload(ctx context.Context) error {
	rp, cancel := p.step(ctx, p.cfg.StepTimeout)
	defer cancel()
	if err := rp.Reload(); err != nil {
		return fmt.Errorf("page: reload: %w", err)
	}
	return nil
}

// Close closes the page.
func (p *Page) Close() error {
	if p == nil || p.rp == nil {
		return nil
	}
	return p.rp.Close()
}
