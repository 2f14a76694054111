package sniper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/snipebot/horosafe"
	"github.com/hazyhaar/snipebot/observability"
	"github.com/hazyhaar/snipebot/sniper/internal/churn"
	"github.com/hazyhaar/snipebot/sniper/internal/trade"
	"github.com/hazyhaar/snipebot/sniper/internal/venue"
	"github.com/hazyhaar/snipebot/sniper/internal/wallet"
	"github.com/hazyhaar/snipebot/sniper/internal/worker"
)

// dustQuantity is the holding size below which sell-all skips an asset.
var dustQuantity = decimal.RequireFromString("0.0001")

// TradeRequest is a manual trade.
type TradeRequest struct {
	Symbol string          `json:"symbol"`
	Side   string          `json:"side"` // BUY | SELL
	Amount decimal.Decimal `json:"amount"`
	Path   string          `json:"path,omitempty"` // auto | api | ui
}

// TradeResult is the outcome of a manual or batch trade.
type TradeResult struct {
	Symbol  string          `json:"symbol"`
	Side    string          `json:"side"`
	Amount  decimal.Decimal `json:"amount"`
	Outcome string          `json:"outcome"`
	Reason  string          `json:"reason,omitempty"`
	Path    string          `json:"path"`
}

func toResult(symbol string, side venue.Side, amount decimal.Decimal, out trade.Outcome) TradeResult {
	return TradeResult{
		Symbol:  symbol,
		Side:    string(side),
		Amount:  amount,
		Outcome: out.Kind.String(),
		Reason:  out.Reason,
		Path:    string(out.Path),
	}
}

// Trade executes one manual buy or sell.
func (b *Bot) Trade(ctx context.Context, req TradeRequest) (TradeResult, error) {
	if err := horosafe.ValidateIdentifier(req.Symbol); err != nil {
		return TradeResult{}, fmt.Errorf("%w: symbol: %v", ErrConfig, err)
	}
	side := venue.Side(req.Side)
	if side != venue.Buy && side != venue.Sell {
		return TradeResult{}, fmt.Errorf("%w: side must be BUY or SELL", ErrConfig)
	}
	if !req.Amount.IsPositive() {
		return TradeResult{}, fmt.Errorf("%w: amount must be positive", ErrConfig)
	}
	path, err := trade.ParsePath(req.Path)
	if err != nil {
		return TradeResult{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	out := b.exec.Execute(ctx, b.mainSurface(), req.Symbol, side, req.Amount, path)
	return toResult(req.Symbol, side, req.Amount, out), nil
}

// SellAll sells every holding above dust through the API, one per second,
// then refreshes the balance.
func (b *Bot) SellAll(ctx context.Context) ([]TradeResult, error) {
	if !b.client.HasAuth() {
		return nil, venue.ErrNoAuth
	}
	snap, err := b.wallet.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("sniper: sell all: %w", err)
	}
	var results []TradeResult
	for _, h := range snap.Holdings {
		if !h.Quantity.GreaterThan(dustQuantity) {
			continue
		}
		if len(results) > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(time.Second):
			}
		}
		out := b.exec.Execute(ctx, nil, h.Symbol, venue.Sell, h.Quantity, trade.PathAPI)
		results = append(results, toResult(h.Symbol, venue.Sell, h.Quantity, out))
	}
	if _, err := b.wallet.Refresh(ctx); err != nil {
		b.logger.Warn("sniper: refresh after sell all", "error", err)
	}
	b.out.Info(fmt.Sprintf("sell all done, %d assets", len(results)))
	return results, nil
}

// Balance returns the cached wallet snapshot, refreshed first when asked.
func (b *Bot) Balance(ctx context.Context, refresh bool) (wallet.Snapshot, error) {
	if refresh {
		return b.wallet.Refresh(ctx)
	}
	return b.wallet.Snapshot(), nil
}

// Listings returns the most recent listings, newest first.
func (b *Bot) Listings(ctx context.Context) ([]venue.Listing, error) {
	return b.client.Recent(ctx)
}

// StartChurn starts the random buy/sell loop on symbol, or on the
// configured symbol when empty.
func (b *Bot) StartChurn(ctx context.Context, symbol string) error {
	base, err := b.baseContext()
	if err != nil {
		return err
	}
	if b.run.Active() {
		return ErrSniperActive
	}
	if symbol == "" {
		symbol = b.cfg.Churn.Symbol
	}
	if err := b.churn.Start(base, symbol); err != nil {
		if errors.Is(err, churn.ErrRunning) {
			return ErrChurnActive
		}
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	b.journal.LogEvent(context.WithoutCancel(ctx), observability.BusinessEvent{
		EventType:   observability.EventSniper,
		ServiceName: serviceName,
		EntityType:  "asset",
		EntityID:    symbol,
		Action:      "churn_start",
		Success:     true,
	})
	return nil
}

// StopChurn stops the random buy/sell loop.
func (b *Bot) StopChurn() { b.churn.Stop() }

// recordTrade journals every trade outcome.
func (b *Bot) recordTrade(ctx context.Context, rec trade.Record) {
	details, _ := json.Marshal(map[string]any{
		"amount":  rec.Amount.String(),
		"outcome": rec.Outcome.Kind.String(),
		"reason":  rec.Outcome.Reason,
		"path":    string(rec.Outcome.Path),
		"took_ms": rec.Took.Milliseconds(),
	})
	b.journal.LogEvent(context.WithoutCancel(ctx), observability.BusinessEvent{
		EventType:   observability.EventTrade,
		ServiceName: serviceName,
		EntityType:  "asset",
		EntityID:    rec.Symbol,
		Action:      string(rec.Side),
		Details:     string(details),
		Success:     rec.Outcome.OK(),
	})
	if !rec.Outcome.OK() {
		return
	}
	name := observability.MetricBuyAmount
	if rec.Side == venue.Sell {
		name = observability.MetricSellAmount
	}
	b.metrics.Record(name, rec.Amount.InexactFloat64(), "units", map[string]string{
		"symbol": rec.Symbol,
		"path":   string(rec.Outcome.Path),
	})
}

// recordReport journals a finished worker.
func (b *Bot) recordReport(ctx context.Context, r worker.Report) {
	details, _ := json.Marshal(r)
	b.journal.LogEvent(context.WithoutCancel(ctx), observability.BusinessEvent{
		EventType:   observability.EventWorkerReport,
		ServiceName: serviceName,
		EntityType:  "worker",
		EntityID:    r.WorkerID,
		Action:      r.Symbol,
		Details:     string(details),
		Success:     r.Exited,
	})
	labels := map[string]string{"symbol": r.Symbol}
	b.metrics.Record(observability.MetricSellAttempts, float64(r.Attempts), "attempts", labels)
	b.metrics.Record(observability.MetricWorkerDuration, float64(r.Took.Milliseconds()), "ms", labels)
}
