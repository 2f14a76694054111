package sniper

import (
	"io"
	"log/slog"

	"github.com/hazyhaar/snipebot/sniper/internal/status"
)

// Event is one status message. Re-exported from internal.
type Event = status.Event

// Level grades an event.
type Level = status.Level

// Sink receives status events.
type Sink = status.Sink

// NewStdoutSink writes events as JSON lines to w.
func NewStdoutSink(w io.Writer) Sink {
	return status.NewStdout(w)
}

// NewWebhookSink POSTs events at or above minLevel to url.
func NewWebhookSink(url string, minLevel Level, logger *slog.Logger) Sink {
	return status.NewWebhook(url, status.WithWebhookMinLevel(minLevel), status.WithWebhookLogger(logger))
}

// NewCallbackSink calls fn for every event, in-process.
func NewCallbackSink(fn status.EventFunc) Sink {
	return status.NewCallback(fn)
}
