package sniper

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/snipebot/shield"
	"github.com/hazyhaar/snipebot/sniper/internal/venue"
)

// Handler returns the HTTP control surface: JSON endpoints under /api, the
// websocket status stream at /api/events and, when enabled, MCP at /mcp.
func (b *Bot) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.APIStack(b.cfg.Control.MaxBody) {
		r.Use(mw)
	}
	r.Use(shield.BearerAuth(b.cfg.Control.TokenHash, "/health"))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"running": b.Running(),
			"browser": b.mgr.Alive(),
		})
	})

	r.Get("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, b.Status())
	})

	r.Post("/api/sniper/stop", func(w http.ResponseWriter, _ *http.Request) {
		b.Stop()
		writeJSON(w, http.StatusOK, map[string]bool{"running": false})
	})

	r.Get("/api/config/buy", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, b.BuyConfig())
	})
	r.Put("/api/config/buy", func(w http.ResponseWriter, r *http.Request) {
		var bc BuyConfig
		if err := decodeJSON(r, &bc, false); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := b.SetBuy(bc); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, b.BuyConfig())
	})

	r.Get("/api/balance", func(w http.ResponseWriter, r *http.Request) {
		refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
		snap, err := b.Balance(r.Context(), refresh)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Get("/api/history", func(w http.ResponseWriter, r *http.Request) {
		h, err := b.History(r.Context(), r.URL.Query().Get("type"), queryInt(r, "limit", 100))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, h)
	})

	r.Get("/api/listings", func(w http.ResponseWriter, r *http.Request) {
		listings, err := b.Listings(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
	})

	r.Post("/api/session/capture", func(w http.ResponseWriter, r *http.Request) {
		snap, err := b.CaptureSession(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/api/churn/stop", func(w http.ResponseWriter, _ *http.Request) {
		b.StopChurn()
		writeJSON(w, http.StatusOK, map[string]bool{"churn": false})
	})

	r.Get("/api/events", func(w http.ResponseWriter, r *http.Request) {
		b.stream.serve(w, r, b.hub.History(queryInt(r, "backlog", 50)))
	})

	// Routes that place orders are rate limited per client.
	limiter := shield.NewRateLimiter(b.cfg.Control.TradeLimit, time.Minute)
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)

		r.Post("/api/sniper/start", func(w http.ResponseWriter, r *http.Request) {
			if err := b.Start(r.Context()); err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"running": true})
		})

		r.Post("/api/churn/start", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Symbol string `json:"symbol"`
			}
			if err := decodeJSON(r, &req, true); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := b.StartChurn(r.Context(), req.Symbol); err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"churn": true, "symbol": b.churn.Symbol()})
		})

		r.Post("/api/trade", func(w http.ResponseWriter, r *http.Request) {
			var req TradeRequest
			if err := decodeJSON(r, &req, false); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			res, err := b.Trade(r.Context(), req)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/api/sellall", func(w http.ResponseWriter, r *http.Request) {
			results, err := b.SellAll(r.Context())
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"results": results})
		})
	})

	if b.cfg.Control.MCP {
		srv := b.NewMCPServer()
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	}
	return r
}

// statusFor maps bot errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrChurnActive),
		errors.Is(err, ErrSniperActive), errors.Is(err, ErrNoCookies),
		errors.Is(err, venue.ErrNoAuth):
		return http.StatusConflict
	case errors.Is(err, ErrNoBrowser), errors.Is(err, ErrNotOpen),
		errors.Is(err, venue.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, venue.ErrSessionInvalid):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes the request body into v. An empty body is accepted
// only when optional is set.
func decodeJSON(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}
