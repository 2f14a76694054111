package status

import "context"

// Sink delivers consumed status events to a backend (stdout, webhook,
// in-process callback, websocket clients).
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}
