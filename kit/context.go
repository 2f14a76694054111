// Package kit carries request metadata shared by the HTTP control routes and
// the MCP tools, and adapts typed handlers to MCP tool calls.
package kit

import "context"

type transportKey struct{}

type requestIDKey struct{}

// WithTransport records which surface a request came in on: "http" or "mcp".
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey{}, t)
}

// GetTransport defaults to "http".
func GetTransport(ctx context.Context) string {
	if t, ok := ctx.Value(transportKey{}).(string); ok {
		return t
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
