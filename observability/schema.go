package observability

import "database/sql"

// Schema is the DDL of the snipebot journal. Timestamps are unix seconds.
//
//	journal_events  trades, worker reports and sniper lifecycle
//	heartbeats      process liveness and running worker count
//	metric_points   trade sizes, sell attempts, worker durations
const Schema = `
CREATE TABLE IF NOT EXISTS journal_events (
    id         TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    service    TEXT NOT NULL,
    subject    TEXT,
    subject_id TEXT,
    action     TEXT NOT NULL,
    details    TEXT,
    ok         INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_kind ON journal_events(kind, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_journal_subject ON journal_events(subject_id, created_at DESC);

CREATE TABLE IF NOT EXISTS heartbeats (
    process        TEXT NOT NULL,
    host           TEXT NOT NULL,
    pid            INTEGER NOT NULL,
    ts             INTEGER NOT NULL,
    goroutines     INTEGER,
    heap_mb        REAL,
    active_workers INTEGER
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_process ON heartbeats(process, ts DESC);

CREATE TABLE IF NOT EXISTS metric_points (
    name   TEXT NOT NULL,
    ts     INTEGER NOT NULL,
    value  REAL NOT NULL,
    unit   TEXT,
    labels TEXT
);
CREATE INDEX IF NOT EXISTS idx_metric_points_name ON metric_points(name, ts DESC);
`

// Init applies the journal schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
