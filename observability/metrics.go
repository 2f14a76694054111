// Package observability is the SQLite journal of snipebot: business events
// for trades and worker reports, process heartbeats, and metric datapoints.
//
// Persistence never applies backpressure to trading: event write failures are
// logged and dropped, metrics are queued and written in batches.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Metric names recorded by snipebot.
const (
	MetricBuyAmount      = "snipe_buy_amount"
	MetricSellAmount     = "snipe_sell_amount"
	MetricSellAttempts   = "worker_sell_attempts"
	MetricWorkerDuration = "worker_duration_ms"
	MetricStatusDropped  = "status_events_dropped"
)

// Metric is one datapoint.
type Metric struct {
	Name   string
	At     time.Time
	Value  float64
	Unit   string
	Labels map[string]string
}

// MetricsManager queues datapoints on a channel and writes them from a single
// goroutine, one transaction per batch. Record never blocks: when the queue
// is full the datapoint is counted in Dropped and discarded.
type MetricsManager struct {
	db      *sql.DB
	queue   chan Metric
	batch   int
	every   time.Duration
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewMetricsManager starts the writer. A batch is written when batch
// datapoints are pending or every interval, whichever comes first.
func NewMetricsManager(db *sql.DB, batch int, every time.Duration) *MetricsManager {
	if batch <= 0 {
		batch = 100
	}
	if every <= 0 {
		every = 5 * time.Second
	}
	mm := &MetricsManager{
		db:    db,
		queue: make(chan Metric, batch*4),
		batch: batch,
		every: every,
		done:  make(chan struct{}),
	}
	go mm.run()
	return mm
}

// Record queues a datapoint. A nil manager ignores it.
func (mm *MetricsManager) Record(name string, value float64, unit string, labels map[string]string) {
	if mm == nil {
		return
	}
	select {
	case mm.queue <- Metric{Name: name, At: time.Now(), Value: value, Unit: unit, Labels: labels}:
	default:
		mm.dropped.Add(1)
	}
}

// Dropped counts datapoints discarded on a full queue.
func (mm *MetricsManager) Dropped() int64 {
	if mm == nil {
		return 0
	}
	return mm.dropped.Load()
}

// Sum adds up the written datapoints of one metric.
func (mm *MetricsManager) Sum(ctx context.Context, name string) (float64, error) {
	var total sql.NullFloat64
	err := mm.db.QueryRowContext(ctx,
		`SELECT SUM(value) FROM metric_points WHERE name = ?`, name).Scan(&total)
	return total.Float64, err
}

// Close writes what is queued and stops the writer. Record must not be
// called after Close.
func (mm *MetricsManager) Close() error {
	if mm == nil {
		return nil
	}
	mm.closeOnce.Do(func() { close(mm.queue) })
	<-mm.done
	return nil
}

func (mm *MetricsManager) run() {
	defer close(mm.done)
	tick := time.NewTicker(mm.every)
	defer tick.Stop()

	pending := make([]Metric, 0, mm.batch)
	for {
		select {
		case m, ok := <-mm.queue:
			if !ok {
				mm.write(pending)
				return
			}
			pending = append(pending, m)
			if len(pending) < mm.batch {
				continue
			}
		case <-tick.C:
		}
		mm.write(pending)
		pending = pending[:0]
	}
}

func (mm *MetricsManager) write(points []Metric) {
	if len(points) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("journal metrics: begin", "error", err, "points", len(points))
		return
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metric_points (name, ts, value, unit, labels) VALUES (?,?,?,?,?)`)
	if err != nil {
		slog.Error("journal metrics: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, p := range points {
		var labels sql.NullString
		if len(p.Labels) > 0 {
			raw, _ := json.Marshal(p.Labels)
			labels = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, p.Name, p.At.Unix(), p.Value, p.Unit, labels); err != nil {
			slog.Error("journal metrics: insert", "error", err, "metric", p.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("journal metrics: commit", "error", err, "points", len(points))
	}
}
