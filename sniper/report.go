package sniper

import (
	"context"
	"time"

	"github.com/hazyhaar/snipebot/observability"
	"github.com/hazyhaar/snipebot/sniper/internal/status"
	"github.com/hazyhaar/snipebot/sniper/internal/wallet"
)

// StatusReport is a point-in-time view of the bot.
type StatusReport struct {
	Running      bool            `json:"running"`
	Churn        bool            `json:"churn"`
	ChurnSymbol  string          `json:"churn_symbol,omitempty"`
	Authed       bool            `json:"authed"`
	BrowserAlive bool            `json:"browser_alive"`
	Breaker      string          `json:"breaker"`
	Sizing       string          `json:"sizing"`
	Path         string          `json:"path"`
	Queue        []string        `json:"queue"`
	Workers      []WorkerStatus  `json:"workers"`
	Wallet       wallet.Snapshot `json:"wallet"`
	Current      status.Event    `json:"current"`
	Dropped      uint64          `json:"dropped_events"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
}

// Status reports the running flags, the pending queue, running workers and
// the cached wallet.
func (b *Bot) Status() StatusReport {
	r := StatusReport{
		Running:      b.run.Active(),
		Churn:        b.churn.Active(),
		Authed:       b.client.HasAuth(),
		BrowserAlive: b.mgr.Alive(),
		Breaker:      b.client.BreakerState().String(),
		Sizing:       b.Sizing().String(),
		Path:         string(b.path),
		Queue:        b.queue.Snapshot(),
		Workers:      b.Workers(),
		Wallet:       b.wallet.Snapshot(),
		Current:      b.hub.Current(),
		Dropped:      b.hub.Dropped(),
	}
	if r.Churn {
		r.ChurnSymbol = b.churn.Symbol()
	}
	if r.Running {
		b.mu.Lock()
		started := b.started
		b.mu.Unlock()
		r.StartedAt = &started
	}
	return r
}

// History holds the latest status events and, when a journal is attached,
// the latest journal entries.
type History struct {
	Events  []status.Event                `json:"events"`
	Journal []observability.BusinessEvent `json:"journal,omitempty"`
}

// History returns up to limit status events and journal entries of
// eventType ("" for every type), newest last for events and newest first for
// the journal.
func (b *Bot) History(ctx context.Context, eventType string, limit int) (History, error) {
	h := History{Events: b.hub.History(limit)}
	if b.journal == nil {
		return h, nil
	}
	entries, err := b.journal.Recent(ctx, eventType, limit)
	if err != nil {
		return h, err
	}
	h.Journal = entries
	return h, nil
}
