// Package venue is the HTTP client of the trading venue: market listings,
// holder counts, the account portfolio and trade submission, authenticated
// by the session cookie captured from the logged-in browser.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/snipebot/horosafe"
)

// DefaultUserAgent is the browser identity sent with API calls.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:140.0) Gecko/20100101 Firefox/140.0"

var (
	// ErrSessionInvalid means the venue answered with an HTML page instead
	// of JSON, which happens when the session cookie expired.
	ErrSessionInvalid = errors.New("venue: API returned HTML, session may be invalid")
	// ErrNoAuth means no session cookie has been captured yet.
	ErrNoAuth = errors.New("venue: no session cookie")
	// ErrCircuitOpen means read queries are failing fast after repeated errors.
	ErrCircuitOpen = errors.New("venue: circuit open")
)

// Config configures a Client.
type Config struct {
	// BaseURL of the venue. Default: https://rugplay.com.
	BaseURL   string
	UserAgent string
	// Timeout bounds every request. Default: 15s.
	Timeout time.Duration
	// HoldersLimit is the page size of the holders query. Default: 50.
	HoldersLimit int
	// RecentLimit is the page size of the recent listings query. Default: 50.
	RecentLimit int
	HTTPClient  *http.Client
	Breaker     *Breaker
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://rugplay.com"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.HoldersLimit <= 0 {
		c.HoldersLimit = 50
	}
	if c.RecentLimit <= 0 {
		c.RecentLimit = 50
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Breaker == nil {
		c.Breaker = NewBreaker()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client talks to the venue API. Safe for concurrent use. The cookie is
// written once after login and read by every caller afterwards.
type Client struct {
	cfg    Config
	cookie atomic.Pointer[string]
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if err := horosafe.ValidateBaseURL(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("venue: base url: %w", err)
	}
	return &Client{cfg: cfg}, nil
}

// BaseURL returns the venue origin.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// AssetURL returns the detail page URL of symbol.
func (c *Client) AssetURL(symbol string) string {
	return c.cfg.BaseURL + "/coin/" + url.PathEscape(symbol)
}

// SetCookie stores the session credential.
func (c *Client) SetCookie(cookie string) {
	c.cookie.Store(&cookie)
}

// Cookie returns the session credential, or "".
func (c *Client) Cookie() string {
	if p := c.cookie.Load(); p != nil {
		return *p
	}
	return ""
}

// HasAuth reports whether a session credential is present.
func (c *Client) HasAuth() bool { return c.Cookie() != "" }

// BreakerState exposes the read breaker for status reporting.
func (c *Client) BreakerState() BreakerState { return c.cfg.Breaker.State() }

// Newest returns the most recently created listing. A zero Listing with an
// empty symbol means the market is empty.
func (c *Client) Newest(ctx context.Context) (Listing, error) {
	var resp marketResponse
	if err := c.get(ctx, "/api/market?sortBy=createdAt&sortOrder=desc&limit=1", &resp); err != nil {
		return Listing{}, err
	}
	if len(resp.Coins) == 0 {
		return Listing{}, nil
	}
	return resp.Coins[0], nil
}

// Recent returns the latest listings, newest first.
func (c *Client) Recent(ctx context.Context) ([]Listing, error) {
	var resp marketResponse
	path := fmt.Sprintf("/api/market?sortBy=createdAt&sortOrder=desc&limit=%d", c.cfg.RecentLimit)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Coins, nil
}

// HolderCount returns the number of holders of symbol.
func (c *Client) HolderCount(ctx context.Context, symbol string) (int, error) {
	if err := horosafe.ValidateIdentifier(symbol); err != nil {
		return 0, fmt.Errorf("venue: holders: %w", err)
	}
	var resp holdersResponse
	path := fmt.Sprintf("/api/coin/%s/holders?limit=%d", url.PathEscape(symbol), c.cfg.HoldersLimit)
	if err := c.get(ctx, path, &resp); err != nil {
		return 0, err
	}
	return len(resp.Holders), nil
}

// Portfolio returns the authenticated account summary.
func (c *Client) Portfolio(ctx context.Context) (Portfolio, error) {
	var p Portfolio
	if err := c.get(ctx, "/api/portfolio/total", &p); err != nil {
		return Portfolio{}, err
	}
	return p, nil
}

// Trade submits a buy or sell. Transport and decoding problems are returned
// as errors; venue-level verdicts are described by the Receipt.
func (c *Client) Trade(ctx context.Context, symbol string, side Side, amount decimal.Decimal) (Receipt, error) {
	cookie := c.Cookie()
	if cookie == "" {
		return Receipt{}, ErrNoAuth
	}
	if err := horosafe.ValidateIdentifier(symbol); err != nil {
		return Receipt{}, fmt.Errorf("venue: trade: %w", err)
	}
	body, err := json.Marshal(TradeRequest{Type: side, Amount: amount.InexactFloat64()})
	if err != nil {
		return Receipt{}, fmt.Errorf("venue: trade: marshal: %w", err)
	}

	u := c.cfg.BaseURL + "/api/coin/" + url.PathEscape(symbol) + "/trade"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("venue: trade: new request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", c.cfg.BaseURL)
	req.Header.Set("Referer", c.AssetURL(symbol))
	req.Header.Set("Cookie", cookie)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("venue: trade: %w", err)
	}
	defer resp.Body.Close()
	raw, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return Receipt{}, fmt.Errorf("venue: trade: read: %w", err)
	}

	rc := Receipt{StatusCode: resp.StatusCode}
	text := strings.TrimSpace(string(raw))
	if (resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent) && text == "" {
		rc.Empty = true
		return rc, nil
	}
	if strings.HasPrefix(text, "<") {
		return rc, c.sessionError(raw)
	}

	var tr tradeResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return rc, fmt.Errorf("venue: trade: invalid JSON in response: %s", truncate(text, 200))
	}
	rc.Success = resp.StatusCode == http.StatusOK && tr.Success
	switch {
	case rc.Success:
	case tr.Message != "":
		rc.Message = tr.Message
	case tr.Error != "":
		rc.Message = tr.Error
	default:
		rc.Message = text
	}
	return rc, nil
}

// get runs a read query through the breaker and decodes the JSON body.
func (c *Client) get(ctx context.Context, path string, out any) error {
	br := c.cfg.Breaker
	if !br.Allow() {
		return ErrCircuitOpen
	}
	err := c.fetch(ctx, path, out)
	switch {
	case err == nil:
		br.RecordSuccess()
	case errors.Is(err, ErrSessionInvalid), errors.Is(err, context.Canceled):
		// the venue answered or the caller gave up: not a venue outage
	default:
		br.RecordFailure()
		c.cfg.Logger.Debug("venue: read failed", "path", path, "error", err, "breaker", br.State().String())
	}
	return err
}

func (c *Client) fetch(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("venue: new request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Content-Type", "application/json")
	if cookie := c.Cookie(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("venue: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return fmt.Errorf("venue: GET %s: read: %w", path, err)
	}

	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("<")) {
		return c.sessionError(raw)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("venue: GET %s: status %d: %s", path, resp.StatusCode, truncate(string(raw), 200))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("venue: GET %s: decode: %w", path, err)
	}
	return nil
}

func (c *Client) sessionError(raw []byte) error {
	if title := pageTitle(raw); title != "" {
		return fmt.Errorf("%w (page %q)", ErrSessionInvalid, title)
	}
	return ErrSessionInvalid
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
