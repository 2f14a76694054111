package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/snipebot/dbopen"
	"github.com/hazyhaar/snipebot/idgen"
)

// Event types written by snipebot.
const (
	EventTrade        = "trade"
	EventWorkerReport = "worker_report"
	EventSniper       = "sniper"
)

// BusinessEvent is a domain-level journal entry.
type BusinessEvent struct {
	EventType   string    `json:"event_type"`
	ServiceName string    `json:"service_name"`
	EntityType  string    `json:"entity_type,omitempty"` // "asset", "worker"
	EntityID    string    `json:"entity_id,omitempty"`   // symbol or worker id
	Action      string    `json:"action"`                // "BUY", "SELL", "sold", "start"
	Details     string    `json:"details,omitempty"`     // optional JSON
	Success     bool      `json:"success"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventLogger writes business events to the journal.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets the generator used for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithLogger sets the slog logger used to report write failures.
func WithLogger(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = logger }
}

// NewEventLogger creates a logger backed by the journal database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a business event. Write failures are logged and swallowed
// so a broken journal never stalls trading.
func (l *EventLogger) LogEvent(ctx context.Context, event BusinessEvent) {
	if l == nil || l.db == nil {
		return
	}
	created := event.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO journal_events (id, kind, service, subject, subject_id, action, details, ok, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		l.newID(), event.EventType, event.ServiceName, event.EntityType, event.EntityID,
		event.Action, event.Details, event.Success, created.Unix())
	if err != nil {
		l.logger.Error("journal: event log failed", "error", err, "event_type", event.EventType)
	}
}

// Recent returns the newest events, optionally filtered by type, newest first.
func (l *EventLogger) Recent(ctx context.Context, eventType string, limit int) ([]BusinessEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT kind, service, COALESCE(subject,''), COALESCE(subject_id,''),
	             action, COALESCE(details,''), ok, created_at
	      FROM journal_events`
	args := []any{}
	if eventType != "" {
		q += " WHERE kind = ?"
		args = append(args, eventType)
	}
	q += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()

	var out []BusinessEvent
	for rows.Next() {
		var e BusinessEvent
		var ts int64
		if err := rows.Scan(&e.EventType, &e.ServiceName, &e.EntityType, &e.EntityID,
			&e.Action, &e.Details, &e.Success, &ts); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		e.CreatedAt = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RetentionConfig specifies per-table retention in days. Zero disables cleanup.
type RetentionConfig struct {
	EventLogsDays  int
	HeartbeatsDays int
	MetricsDays    int
}

// Cleanup deletes journal rows older than the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()
	targets := []struct {
		query string
		days  int
	}{
		{"DELETE FROM journal_events WHERE created_at < ?", cfg.EventLogsDays},
		{"DELETE FROM heartbeats WHERE ts < ?", cfg.HeartbeatsDays},
		{"DELETE FROM metric_points WHERE ts < ?", cfg.MetricsDays},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		if _, err := db.ExecContext(ctx, t.query, now-int64(t.days*86400)); err != nil {
			return fmt.Errorf("journal: cleanup: %w", err)
		}
	}
	return nil
}
