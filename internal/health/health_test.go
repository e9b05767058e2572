package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func get(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	rec := get(t, New(WithChecker("store", func(context.Context) error { return errors.New("down") })), "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 regardless of readiness", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	tests := []struct {
		name       string
		opts       []Option
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			opts:       []Option{WithChecker("store", ok), WithChecker("capture", ok)},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"store": "ok", "capture": "ok"},
		},
		{
			name: "one fails",
			opts: []Option{
				WithChecker("store", func(context.Context) error { return errors.New("connection refused") }),
				WithChecker("capture", ok),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"store": "fail: connection refused", "capture": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, New(tt.opts...), "/readyz")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decode(t, rec)
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if body.Checks[name] != want {
					t.Errorf("check %s = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_CheckerGetsDeadline(t *testing.T) {
	var deadline time.Time
	h := New(WithChecker("store", func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	}))
	get(t, h, "/readyz")
	if deadline.IsZero() {
		t.Fatal("checker context has no deadline")
	}
	if until := time.Until(deadline); until > checkTimeout {
		t.Errorf("deadline in %v, want at most %v", until, checkTimeout)
	}
}

func TestStatus(t *testing.T) {
	type snapshot struct {
		Mode     string `json:"mode"`
		Speakers int    `json:"speakers"`
	}
	h := New(WithStatus(func() any { return snapshot{Mode: "GEMMA_CONVERSATION", Speakers: 2} }))

	rec := get(t, h, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var got snapshot
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Mode != "GEMMA_CONVERSATION" || got.Speakers != 2 {
		t.Errorf("status = %+v", got)
	}
}

func TestStatus_NotConfigured(t *testing.T) {
	rec := get(t, New(), "/status")
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestStatus_EncodeFailure(t *testing.T) {
	rec := get(t, New(WithStatus(func() any { return map[string]any{"bad": make(chan int)} })), "/status")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "error") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
