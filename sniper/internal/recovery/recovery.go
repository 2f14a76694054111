// Package recovery brings an asset page back to a consistent state after an
// automation failure.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Surface is the part of the asset page recovery needs.
type Surface interface {
	EnsureAsset(ctx context.Context, symbol string) error
	ClearOriginStorage(ctx context.Context) error
	HardReload(ctx context.Context) error
	WaitTradeReady(ctx context.Context) error
}

// Recover navigates to the asset page if needed, clears the origin's storage
// and service workers, hard-reloads without cache and waits for the sell
// control. It returns false when the page could not be brought back; the
// caller must then abandon the session.
func Recover(ctx context.Context, s Surface, symbol, reason string, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("recovery: start", "symbol", symbol, "reason", reason)
	if err := s.EnsureAsset(ctx, symbol); err != nil {
		logger.Warn("recovery: navigate failed", "symbol", symbol, "error", err)
		return false
	}
	if err := s.ClearOriginStorage(ctx); err != nil {
		logger.Warn("recovery: clear storage failed", "symbol", symbol, "error", err)
		return false
	}
	if err := Reload(ctx, s, symbol); err != nil {
		logger.Warn("recovery: failed", "symbol", symbol, "error", err)
		return false
	}
	logger.Info("recovery: done", "symbol", symbol)
	return true
}

// Reload forces a cache-disabled reload of the asset page and waits for the
// sell control, without touching storage.
func Reload(ctx context.Context, s Surface, symbol string) error {
	if err := s.EnsureAsset(ctx, symbol); err != nil {
		return fmt.Errorf("navigate %s: %w", symbol, err)
	}
	if err := s.HardReload(ctx); err != nil {
		return fmt.Errorf("hard reload %s: %w", symbol, err)
	}
	if err := s.WaitTradeReady(ctx); err != nil {
		return fmt.Errorf("wait trade ready %s: %w", symbol, err)
	}
	return nil
}
