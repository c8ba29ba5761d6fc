package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func ok(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func failing(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return errors.New(name + " down") }}
}

func probe(t *testing.T, h *Handler, path string) (int, report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var rep report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, rep
}

func TestProbes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		opts       []Option
		draining   bool
		path       string
		wantStatus int
		wantFailed []string
	}{
		{
			name:       "healthz without checks",
			path:       "/healthz",
			wantStatus: http.StatusOK,
		},
		{
			name:       "healthz ignores readiness",
			opts:       []Option{WithLiveness(ok("reactor")), WithReadiness(failing("loader"))},
			path:       "/healthz",
			wantStatus: http.StatusOK,
		},
		{
			name:       "healthz liveness failure",
			opts:       []Option{WithLiveness(failing("reactor"))},
			path:       "/healthz",
			wantStatus: http.StatusServiceUnavailable,
			wantFailed: []string{"reactor"},
		},
		{
			name:       "readyz all pass",
			opts:       []Option{WithLiveness(ok("reactor")), WithReadiness(ok("loader"))},
			path:       "/readyz",
			wantStatus: http.StatusOK,
		},
		{
			name:       "readyz readiness failure",
			opts:       []Option{WithLiveness(ok("reactor")), WithReadiness(failing("loader"))},
			path:       "/readyz",
			wantStatus: http.StatusServiceUnavailable,
			wantFailed: []string{"loader"},
		},
		{
			name:       "readyz draining",
			opts:       []Option{WithLiveness(ok("reactor"))},
			draining:   true,
			path:       "/readyz",
			wantStatus: http.StatusServiceUnavailable,
			wantFailed: []string{"draining"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := New(tc.opts...)
			h.SetDraining(tc.draining)
			code, rep := probe(t, h, tc.path)
			if code != tc.wantStatus {
				t.Errorf("status = %d, want %d", code, tc.wantStatus)
			}
			var failed []string
			for name, res := range rep.Checks {
				if res.Status == "fail" {
					failed = append(failed, name)
					if res.Error == "" {
						t.Errorf("check %s failed without an error", name)
					}
				}
			}
			if len(failed) != len(tc.wantFailed) || (len(failed) == 1 && failed[0] != tc.wantFailed[0]) {
				t.Errorf("failed checks = %v, want %v", failed, tc.wantFailed)
			}
			wantReport := "ok"
			if tc.wantStatus != http.StatusOK {
				wantReport = "fail"
			}
			if rep.Status != wantReport {
				t.Errorf("report status = %q, want %q", rep.Status, wantReport)
			}
		})
	}
}

func TestAlive(t *testing.T) {
	t.Parallel()

	var gotLag time.Duration
	c := Alive("reactor", 3*time.Second, func(d time.Duration) bool { gotLag = d; return false })
	if err := c.Check(context.Background()); err == nil {
		t.Error("stalled reactor reported alive")
	}
	if gotLag != 3*time.Second {
		t.Errorf("max lag = %v, want 3s", gotLag)
	}

	c = Alive("reactor", time.Second, func(time.Duration) bool { return true })
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("live reactor: %v", err)
	}
}

func TestReadyz_CheckTimeout(t *testing.T) {
	t.Parallel()

	h := New(WithReadiness(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))
	start := time.Now()
	code, rep := probe(t, h, "/readyz")
	if code != http.StatusServiceUnavailable || rep.Checks["slow"].Status != "fail" {
		t.Errorf("status = %d, checks = %+v", code, rep.Checks)
	}
	if elapsed := time.Since(start); elapsed > checkTimeout+time.Second {
		t.Errorf("readyz took %v", elapsed)
	}
}
