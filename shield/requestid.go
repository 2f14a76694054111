package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/snipebot/horosafe"
	"github.com/hazyhaar/snipebot/idgen"
	"github.com/hazyhaar/snipebot/kit"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID tags each request with an ID, taken from the X-Request-ID header
// when it is a safe identifier and generated otherwise. The ID lands in the
// kit context, the response headers and a per-request logger.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || horosafe.ValidateIdentifier(id) != nil {
			id = idgen.New()
		}

		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRequestID(ctx, id)
		w.Header().Set(RequestIDHeader, id)

		logger := slog.Default().With(
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Debug("request", "remote_addr", r.RemoteAddr)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
