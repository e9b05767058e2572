// Package health serves the liveness, readiness and status endpoints.
//
//   - /healthz: liveness; always 200 while the process serves HTTP.
//   - /readyz: 200 only when every registered [Checker] passes.
//   - /status: a JSON snapshot of the running pipeline.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is healthy.
type Checker struct {
	// Name is the key in the /readyz response, e.g. "store" or "capture".
	Name string

	// Check must respect context cancellation.
	Check func(ctx context.Context) error
}

// StatusFunc returns the current /status document.
type StatusFunc func() any

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	status   StatusFunc
}

// Option configures a [Handler].
type Option func(*Handler)

// WithChecker adds a readiness check.
func WithChecker(name string, check func(ctx context.Context) error) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, Checker{Name: name, Check: check}) }
}

// WithStatus sets the /status source. Without it /status returns 404.
func WithStatus(fn StatusFunc) Option {
	return func(h *Handler) { h.status = fn }
}

// New creates a [Handler].
func New(opts ...Option) *Handler {
	h := &Handler{}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently, each with its own [checkTimeout]
// deadline, and returns 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	code := http.StatusOK
	if !allOK {
		res.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// Status writes the snapshot from the configured [StatusFunc].
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// Register adds the /healthz, /readyz and /status routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /status", h.Status)
}

// writeJSON falls back to a plain 500 when v cannot be encoded.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
