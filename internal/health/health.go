// Package health serves the liveness (/healthz) and readiness (/readyz)
// probes of the node.
//
// Liveness fails when the command reactor stops turning over; readiness
// additionally fails while track loading is tripped or the node is draining
// for shutdown. Both answer with a JSON document:
//
//	{"status":"ok","checks":{"reactor":{"status":"ok","latencyMs":0}}}
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single check.
const checkTimeout = 2 * time.Second

// ErrDraining is reported by readiness while the node shuts down.
var ErrDraining = errors.New("health: draining")

// Checker is a named probe. Check returns nil when healthy and must honour
// context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Alive adapts a liveness predicate taking the tolerated lag, bound to a
// maximum lag.
func Alive(name string, maxLag time.Duration, alive func(time.Duration) bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !alive(maxLag) {
				return fmt.Errorf("no progress within %s", maxLag)
			}
			return nil
		},
	}
}

type checkResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the probes. The checker sets are fixed at construction.
type Handler struct {
	liveness  []Checker
	readiness []Checker
	draining  atomic.Bool
}

// Option configures a [Handler].
type Option func(*Handler)

// WithLiveness adds checks to both probes.
func WithLiveness(c ...Checker) Option {
	return func(h *Handler) { h.liveness = append(h.liveness, c...) }
}

// WithReadiness adds checks to /readyz only.
func WithReadiness(c ...Checker) Option {
	return func(h *Handler) { h.readiness = append(h.readiness, c...) }
}

// New creates a handler.
func New(opts ...Option) *Handler {
	h := &Handler{}
	for _, o := range opts {
		o(h)
	}
	return h
}

// SetDraining makes /readyz fail so load balancers stop routing new clients
// while existing players wind down.
func (h *Handler) SetDraining(v bool) { h.draining.Store(v) }

// Healthz runs the liveness checks.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.liveness)
}

// Readyz runs the liveness and readiness checks.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make([]Checker, 0, len(h.liveness)+len(h.readiness)+1)
	checks = append(checks, h.liveness...)
	checks = append(checks, h.readiness...)
	checks = append(checks, Checker{Name: "draining", Check: func(context.Context) error {
		if h.draining.Load() {
			return ErrDraining
		}
		return nil
	}})
	h.serve(w, r, checks)
}

// Register adds GET /healthz and GET /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, checks []Checker) {
	rep := run(r.Context(), checks)
	status := http.StatusOK
	if rep.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rep)
}

// run evaluates checks concurrently.
func run(ctx context.Context, checks []Checker) report {
	rep := report{Status: "ok", Checks: make(map[string]checkResult, len(checks))}
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			res := checkResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}
			mu.Lock()
			rep.Checks[c.Name] = res
			if err != nil {
				rep.Status = "fail"
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return rep
}
