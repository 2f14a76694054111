// Command snipebot buys newly listed assets and liquidates them from
// isolated browser sessions.
//
// Usage:
//
//	snipebot -config snipebot.yaml             # headless, reuse the stored login
//	snipebot -config snipebot.yaml -wait-login # headful until the login is captured
//	snipebot -hash-token s3cret                # print the bcrypt hash for control.token_hash
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/snipebot/dbopen"
	"github.com/hazyhaar/snipebot/observability"
	"github.com/hazyhaar/snipebot/shield"
	"github.com/hazyhaar/snipebot/sniper"
	"github.com/hazyhaar/snipebot/watch"
)

const (
	loginPoll  = 3 * time.Second
	configPoll = 2 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to snipebot.yaml config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	waitLogin := flag.Bool("wait-login", false, "open a visible browser and wait for the login")
	debug := flag.Bool("debug", false, "keep the browser visible after login")
	hashToken := flag.String("hash-token", "", "print the bcrypt hash of a control token and exit")
	flag.Parse()

	if *hashToken != "" {
		h, err := shield.HashToken(*hashToken)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(h)
		return
	}

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *waitLogin, *debug); err != nil {
		logger.Error("snipebot: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, waitLogin, debug bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := sniper.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = sniper.LoadConfigFile(configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	db, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	metrics := observability.NewMetricsManager(db, cfg.Journal.MetricsBuffer, cfg.Journal.MetricsFlush)
	defer metrics.Close()
	journal := observability.NewEventLogger(db, observability.WithLogger(logger))

	var sinks []sniper.Sink
	if cfg.Status.Stdout {
		sinks = append(sinks, sniper.NewStdoutSink(os.Stdout))
	}
	if cfg.Status.Webhook != "" {
		sinks = append(sinks, sniper.NewWebhookSink(cfg.Status.Webhook, sniper.Level(cfg.Status.WebhookMinLevel), logger))
	}

	bot, err := sniper.New(cfg,
		sniper.WithLogger(logger),
		sniper.WithJournal(journal),
		sniper.WithMetrics(metrics),
		sniper.WithSinks(sinks...),
		sniper.WithDebug(debug),
	)
	if err != nil {
		return err
	}
	bot.Open(ctx)
	defer bot.Close()

	hb := observability.NewHeartbeatWriter(db, "snipebot", cfg.Journal.HeartbeatInterval, bot.ActiveWorkers)
	hb.Start(ctx)
	defer hb.Stop()

	if err := bot.LaunchBrowser(ctx, !waitLogin && cfg.Browser.Headless); err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	if waitLogin {
		go awaitLogin(ctx, bot, logger)
	} else if _, err := bot.CaptureSession(ctx); err != nil {
		logger.Warn("snipebot: no session yet, use POST /api/session/capture after login", "error", err)
	}

	if configPath != "" && cfg.Control.ConfigReload {
		w := watch.New(watch.FileVersion(configPath), watch.Options{
			Interval: configPoll,
			Debounce: 500 * time.Millisecond,
			Logger:   logger,
		})
		go w.OnChange(ctx, func() error {
			next, err := sniper.LoadConfigFile(configPath)
			if err != nil {
				return err
			}
			return bot.Reload(next)
		})
	}

	srv := &http.Server{
		Addr:              cfg.Control.Addr,
		Handler:           bot.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("control server starting", "addr", cfg.Control.Addr, "mcp", cfg.Control.MCP)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	return nil
}

func openJournal(ctx context.Context, cfg *sniper.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := dbopen.Open(cfg.Journal.Path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	if err := observability.Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal init: %w", err)
	}
	days := cfg.Journal.RetentionDays
	if err := observability.Cleanup(ctx, db, observability.RetentionConfig{
		EventLogsDays:  days,
		HeartbeatsDays: days,
		MetricsDays:    days,
	}); err != nil {
		logger.Warn("journal cleanup", "error", err)
	}
	return db, nil
}

// awaitLogin polls the visible browser until the user has logged in and the
// session cookie verifies.
func awaitLogin(ctx context.Context, bot *sniper.Bot, logger *slog.Logger) {
	logger.Info("snipebot: waiting for login in the browser window")
	t := time.NewTicker(loginPoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		snap, err := bot.CaptureSession(ctx)
		if err != nil {
			logger.Debug("snipebot: login not captured yet", "error", err)
			continue
		}
		logger.Info("snipebot: logged in", "balance", snap.Balance.String())
		return
	}
}
