package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"pdifin.org/internal/auth"
	"pdifin.org/internal/obs"
	"pdifin.org/internal/stream"
)

const serviceName = "pdifin-api"

// ReadyProbe is a simple readiness check (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the authentication engine.
type API struct {
	mux        *http.ServeMux
	engine     *auth.Engine
	events     *stream.Stream
	readyProbe ReadyProbe
	version    string

	loginRatePerSec int
	loginRateBurst  int
}

// Option configures the API.
type Option func(*API)

// WithLoginRateLimit bounds login attempts per client IP.
func WithLoginRateLimit(perSec, burst int) Option {
	return func(a *API) {
		if perSec > 0 && burst > 0 {
			a.loginRatePerSec = perSec
			a.loginRateBurst = burst
		}
	}
}

func New(engine *auth.Engine, events *stream.Stream, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:             http.NewServeMux(),
		engine:          engine,
		events:          events,
		readyProbe:      rp,
		version:         version,
		loginRatePerSec: 5,
		loginRateBurst:  10,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication surface; login carries its own per-IP limiter
	a.mux.Handle("/v1/auth/login", RateLimit(http.HandlerFunc(a.handleLogin), a.loginRateBurst, a.loginRatePerSec))
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)
	a.mux.HandleFunc("/v1/auth/events", a.handleEvents)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
