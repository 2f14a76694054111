package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// HeartbeatWriter records that the bot process is alive, with its goroutine
// count, heap size and number of sniper workers in flight.
type HeartbeatWriter struct {
	db       *sql.DB
	process  string
	host     string
	every    time.Duration
	inFlight func() int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeatWriter returns a writer for process. inFlight may be nil.
func NewHeartbeatWriter(db *sql.DB, process string, every time.Duration, inFlight func() int) *HeartbeatWriter {
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}
	if every <= 0 {
		every = 15 * time.Second
	}
	if inFlight == nil {
		inFlight = func() int { return 0 }
	}
	return &HeartbeatWriter{db: db, process: process, host: host, every: every, inFlight: inFlight}
}

// Beat writes one heartbeat row.
func (hw *HeartbeatWriter) Beat(ctx context.Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	_, err := hw.db.ExecContext(ctx, `
		INSERT INTO heartbeats (process, host, pid, ts, goroutines, heap_mb, active_workers)
		VALUES (?,?,?,?,?,?,?)`,
		hw.process, hw.host, os.Getpid(), time.Now().Unix(),
		runtime.NumGoroutine(), float64(mem.HeapAlloc)/(1<<20), hw.inFlight())
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", hw.process, err)
	}
	return nil
}

// Start beats once before returning, then every interval until Stop or ctx
// ends.
func (hw *HeartbeatWriter) Start(ctx context.Context) {
	ctx, hw.cancel = context.WithCancel(ctx)
	hw.done = make(chan struct{})
	hw.beat(ctx)
	go func() {
		defer close(hw.done)
		tick := time.NewTicker(hw.every)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				hw.beat(ctx)
			}
		}
	}()
}

func (hw *HeartbeatWriter) beat(ctx context.Context) {
	if err := hw.Beat(ctx); err != nil && ctx.Err() == nil {
		slog.Error("journal: heartbeat", "error", err)
	}
}

// Stop ends the loop started by Start and waits for it.
func (hw *HeartbeatWriter) Stop() {
	if hw.cancel == nil {
		return
	}
	hw.cancel()
	<-hw.done
}

// HeartbeatStatus is the newest heartbeat of a process.
type HeartbeatStatus struct {
	Process       string    `json:"process"`
	Host          string    `json:"host"`
	PID           int       `json:"pid"`
	At            time.Time `json:"at"`
	ActiveWorkers int       `json:"active_workers"`
	Alive         bool      `json:"alive"`
}

// LatestHeartbeat returns the newest heartbeat of process, or nil when there
// is none. Alive is false once the beat is older than staleness.
func LatestHeartbeat(ctx context.Context, db *sql.DB, process string, staleness time.Duration) (*HeartbeatStatus, error) {
	var (
		hs HeartbeatStatus
		ts int64
	)
	err := db.QueryRowContext(ctx, `
		SELECT process, host, pid, ts, COALESCE(active_workers, 0)
		FROM heartbeats WHERE process = ?
		ORDER BY ts DESC LIMIT 1`, process).
		Scan(&hs.Process, &hs.Host, &hs.PID, &ts, &hs.ActiveWorkers)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest heartbeat %s: %w", process, err)
	}
	hs.At = time.Unix(ts, 0)
	hs.Alive = time.Since(hs.At) <= staleness
	return &hs, nil
}
