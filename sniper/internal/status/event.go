// Package status carries progress messages from the sniper loops and
// workers to whatever presents them. Producers never block: events go
// through a buffered channel drained by a single consumer.
package status

import "time"

// Level grades an event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one status message.
type Event struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Source  string    `json:"source"` // "scanner", "dispatch", "worker-3", "churn"
	Symbol  string    `json:"symbol,omitempty"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

// Emitter is the producer side of the status channel.
type Emitter interface {
	Emit(Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

// Scoped stamps a source and symbol on events before forwarding them.
type Scoped struct {
	Out    Emitter
	Source string
	Symbol string
}

// Info emits an info event.
func (s Scoped) Info(msg string) { s.emit(LevelInfo, msg) }

// Warn emits a warning event.
func (s Scoped) Warn(msg string) { s.emit(LevelWarn, msg) }

// Error emits an error event.
func (s Scoped) Error(msg string) { s.emit(LevelError, msg) }

func (s Scoped) emit(level Level, msg string) {
	if s.Out == nil {
		return
	}
	s.Out.Emit(Event{Time: time.Now(), Source: s.Source, Symbol: s.Symbol, Level: level, Message: msg})
}
