// Package sniper buys newly listed assets on the venue the moment they
// appear and liquidates each one from an isolated browser session.
//
// A Bot wires the pipeline: the scanner polls the newest listing into a
// FIFO queue, the dispatcher buys each queued symbol and spawns one worker
// per purchase, and every worker monitors holders then sells in a bounded
// loop before tearing down its session and profile clone. Progress is
// published as status events (stdout, webhook, websocket) and recorded in
// the SQLite journal.
package sniper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/snipebot/idgen"
	"github.com/hazyhaar/snipebot/observability"
	"github.com/hazyhaar/snipebot/sniper/internal/browser"
	"github.com/hazyhaar/snipebot/sniper/internal/churn"
	"github.com/hazyhaar/snipebot/sniper/internal/dispatch"
	"github.com/hazyhaar/snipebot/sniper/internal/page"
	"github.com/hazyhaar/snipebot/sniper/internal/panel"
	"github.com/hazyhaar/snipebot/sniper/internal/queue"
	"github.com/hazyhaar/snipebot/sniper/internal/runstate"
	"github.com/hazyhaar/snipebot/sniper/internal/status"
	"github.com/hazyhaar/snipebot/sniper/internal/trade"
	"github.com/hazyhaar/snipebot/sniper/internal/venue"
	"github.com/hazyhaar/snipebot/sniper/internal/wallet"
	"github.com/hazyhaar/snipebot/sniper/internal/worker"
)

const serviceName = "snipebot"

var (
	// ErrConfig wraps every configuration problem detected by Start.
	ErrConfig = errors.New("sniper: invalid configuration")
	// ErrAlreadyRunning is returned by Start while the sniper runs.
	ErrAlreadyRunning = errors.New("sniper: already running")
	// ErrChurnActive is returned by Start while the churn loop runs.
	ErrChurnActive = errors.New("sniper: churn bot is running")
	// ErrSniperActive is returned by StartChurn while the sniper runs.
	ErrSniperActive = errors.New("sniper: sniper is running")
	// ErrNoBrowser means the main browser session is not open.
	ErrNoBrowser = errors.New("sniper: browser is not running")
	// ErrNotOpen means Open has not been called.
	ErrNotOpen = errors.New("sniper: bot is not open")
)

// Option configures a Bot.
type Option func(*Bot)

// WithLogger sets the slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

// WithJournal records trades, worker reports and lifecycle events.
func WithJournal(j *observability.EventLogger) Option {
	return func(b *Bot) { b.journal = j }
}

// WithMetrics records trade sizes and worker durations.
func WithMetrics(m *observability.MetricsManager) Option {
	return func(b *Bot) { b.metrics = m }
}

// WithSinks adds status sinks next to the websocket stream.
func WithSinks(sinks ...Sink) Option {
	return func(b *Bot) { b.sinks = append(b.sinks, sinks...) }
}

// WithDebug keeps the main browser headful after the session capture.
func WithDebug(debug bool) Option {
	return func(b *Bot) { b.debug = debug }
}

// WithHTTPClient sets the client used for venue API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bot) { b.httpClient = c }
}

// WithWorkerIDs sets the generator naming workers. Default: "w1", "w2", ...
func WithWorkerIDs(gen idgen.Generator) Option {
	return func(b *Bot) { b.workerIDs = gen }
}

// Bot is the sniper orchestrator. Create one with New, call Open, then
// Start and Stop it as often as needed.
type Bot struct {
	cfg        *Config
	logger     *slog.Logger
	journal    *observability.EventLogger
	metrics    *observability.MetricsManager
	sinks      []Sink
	debug      bool
	httpClient *http.Client
	workerIDs  idgen.Generator

	client  *venue.Client
	mgr     *browser.Manager
	hub     *status.Hub
	stream  *Stream
	wallet  *wallet.Wallet
	exec    *trade.Executor
	scraper *panel.Scraper
	churn   *churn.Bot
	run     *runstate.State
	queue   *queue.Queue
	out     status.Scoped

	// startMu serializes Start so runs never overlap.
	startMu sync.Mutex

	mu        sync.Mutex
	base      context.Context
	cancel    context.CancelFunc
	sizing    dispatch.Sizing
	path      trade.Path
	started   time.Time
	workers   map[string]*worker.Worker // keyed by symbol
	loopsDone chan struct{}             // closed when the last run's loops returned
	workerWG  sync.WaitGroup
	hubDone   chan struct{}
}

// New creates a Bot from configuration. Nothing is started.
func New(cfg *Config, opts ...Option) (*Bot, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	b := &Bot{
		cfg:       cfg,
		logger:    slog.Default(),
		workerIDs: idgen.Sequence("w"),
		run:       runstate.New(),
		queue:     queue.New(),
		workers:   make(map[string]*worker.Worker),
	}
	for _, o := range opts {
		o(b)
	}

	sizing, err := parseSizing(cfg.Sniper.BuyAmount, cfg.Sniper.BuyPercent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	b.sizing = sizing
	if b.path, err = trade.ParsePath(cfg.Sniper.TradePath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	b.client, err = venue.New(venue.Config{
		BaseURL:      cfg.Venue.BaseURL,
		UserAgent:    cfg.Venue.UserAgent,
		Timeout:      cfg.Venue.Timeout,
		HoldersLimit: cfg.Venue.HoldersLimit,
		RecentLimit:  cfg.Venue.RecentLimit,
		HTTPClient:   b.httpClient,
		Breaker: venue.NewBreaker(
			venue.WithBreakerThreshold(cfg.Venue.BreakerThreshold),
			venue.WithBreakerResetTimeout(cfg.Venue.BreakerReset),
		),
		Logger: b.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	b.mgr = browser.NewManager(browser.Config{
		SourceProfile:    cfg.Browser.SourceProfile,
		TempDir:          cfg.Browser.TempDir,
		Bin:              cfg.Browser.Bin,
		BaseURL:          b.client.BaseURL(),
		WindowSize:       cfg.Browser.WindowSize,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Xvfb:             cfg.Browser.Xvfb,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		StepTimeout:      cfg.Browser.StepTimeout,
		Logger:           b.logger,
	})

	b.stream = NewStream(b.logger)
	b.hub = status.NewHub(status.HubConfig{
		Buffer:  cfg.Status.Buffer,
		History: cfg.Status.History,
		Sink:    status.NewRouter(b.logger, append([]Sink{b.stream}, b.sinks...)...),
		Logger:  b.logger,
	})
	b.out = status.Scoped{Out: b.hub, Source: "bot"}

	b.wallet = wallet.New(b.client, wallet.Config{
		Timeout:          cfg.Venue.Timeout,
		OnSessionInvalid: b.reloadMain,
		Logger:           b.logger,
	})
	b.exec = trade.NewExecutor(trade.Config{
		API:       b.client,
		OnSuccess: b.wallet.RefreshAsync,
		OnOutcome: b.recordTrade,
		Logger:    b.logger,
	})
	b.scraper = panel.NewScraper(b.logger)
	b.churn = churn.New(churn.Config{
		MaxBuy:   decimal.NewFromFloat(cfg.Churn.MaxBuy),
		Interval: cfg.Churn.Interval,
		Pause:    cfg.Churn.Pause,
		Ready:    b.churnReady,
		Balance:  func() decimal.Decimal { return b.wallet.Snapshot().Balance },
		Trade: func(ctx context.Context, symbol string, side venue.Side, amount decimal.Decimal) trade.Outcome {
			return b.exec.Execute(ctx, nil, symbol, side, amount, trade.PathAPI)
		},
		SellAmount: func(ctx context.Context, symbol string) decimal.Decimal {
			p := b.mainPage()
			if p == nil {
				return decimal.Zero
			}
			return b.scraper.SellAmount(ctx, p, symbol)
		},
		Logger: b.logger,
		Status: b.hub,
	})
	return b, nil
}

// Open starts the status hub. ctx bounds every background loop the bot
// starts later, including workers.
func (b *Bot) Open(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.base != nil {
		return
	}
	b.base, b.cancel = context.WithCancel(ctx)
	b.hubDone = make(chan struct{})
	go func() {
		defer close(b.hubDone)
		b.hub.Run(b.base)
	}()
}

// LaunchBrowser opens the main session on the source profile. headless is
// false for the interactive login.
func (b *Bot) LaunchBrowser(ctx context.Context, headless bool) error {
	if _, err := b.mgr.Start(ctx, headless); err != nil {
		b.out.Error("could not start browser: " + err.Error())
		return err
	}
	b.out.Info("browser ready")
	return nil
}

// Close stops every loop, waits for workers and shuts the browser down.
func (b *Bot) Close() error {
	b.Stop()
	b.churn.Stop()
	b.Wait()
	b.churn.Wait()
	b.wallet.Wait()

	b.mu.Lock()
	cancel, hubDone := b.cancel, b.hubDone
	b.mu.Unlock()
	if cancel != nil {
		cancel()
		<-hubDone
	}
	b.metrics.Record(observability.MetricStatusDropped, float64(b.hub.Dropped()), "events", nil)
	return b.mgr.Close()
}

// Client returns the venue client.
func (b *Bot) Client() *venue.Client { return b.client }

// ActiveWorkers returns the number of running workers.
func (b *Bot) ActiveWorkers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.workers)
}

func (b *Bot) baseContext() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.base == nil {
		return nil, ErrNotOpen
	}
	return b.base, nil
}

func (b *Bot) mainPage() *page.Page {
	if s := b.mgr.Main(); s != nil {
		return s.Page
	}
	return nil
}

// mainSurface returns the main page as a trade surface, or a nil interface.
func (b *Bot) mainSurface() trade.Surface {
	if p := b.mainPage(); p != nil {
		return p
	}
	return nil
}

// reloadMain refreshes the main page after the venue rejected the session.
func (b *Bot) reloadMain() {
	p := b.mainPage()
	if p == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		p.Lock()
		defer p.Unlock()
		if err := p.Reload(ctx); err != nil {
			b.logger.Warn("sniper: main page reload failed", "error", err)
		}
	}()
}

func (b *Bot) churnReady() error {
	if !b.client.HasAuth() {
		return venue.ErrNoAuth
	}
	if !b.mgr.Alive() {
		return ErrNoBrowser
	}
	return nil
}
