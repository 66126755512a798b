package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type phase int

func (p phase) String() string {
	switch p {
	case 1:
		return "streaming"
	case 2:
		return "closed"
	}
	return "connecting"
}

func readyz(t *testing.T, h *Handler) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	New(Checker{Name: "x", Check: func(context.Context) error { return errors.New("down") }}).
		Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz_FollowsSessionState(t *testing.T) {
	t.Parallel()

	var cur atomic.Int32
	h := New(StateChecker("session", func() phase { return phase(cur.Load()) }, phase(1)))

	tests := []struct {
		state  int32
		code   int
		status string
		check  string
	}{
		{0, http.StatusServiceUnavailable, "fail", "fail: state is connecting"},
		{1, http.StatusOK, "ok", "ok"},
		{2, http.StatusServiceUnavailable, "fail", "fail: state is closed"},
	}
	for _, tt := range tests {
		cur.Store(tt.state)
		code, body := readyz(t, h)
		if code != tt.code || body.Status != tt.status || body.Checks["session"] != tt.check {
			t.Errorf("state %d: got %d %q %q, want %d %q %q",
				tt.state, code, body.Status, body.Checks["session"], tt.code, tt.status, tt.check)
		}
	}
}

func TestReadyz_AnyFailureFails(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "a", Check: func(context.Context) error { return nil }},
		Checker{Name: "b", Check: func(context.Context) error { return errors.New("unreachable") }},
	)
	code, body := readyz(t, h)
	if code != http.StatusServiceUnavailable || body.Status != "fail" {
		t.Errorf("got %d %q, want 503 fail", code, body.Status)
	}
	if body.Checks["a"] != "ok" || body.Checks["b"] != "fail: unreachable" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	t.Parallel()
	if code, body := readyz(t, New()); code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz_CheckGetsDeadline(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "deadline", Check: func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	}})
	if code, body := readyz(t, h); code != http.StatusOK {
		t.Errorf("got %d, checks %v", code, body.Checks)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New().Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
	resp, err := http.Post(srv.URL+"/healthz", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz = %d, want 405", resp.StatusCode)
	}
}
