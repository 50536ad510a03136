package device

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, WithPollTiming(time.Millisecond, 5*time.Millisecond, 50*time.Millisecond))
}

func TestCreateScene(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scene/" || r.Method != "POST" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"id": "scene-1"}`))
	}))

	id, err := c.CreateScene(context.Background(), SceneSettings{
		PrinterType:   "Form 4",
		MaterialCode:  "FLGPBK05",
		LayerHeightMM: 0.05,
	})
	if err != nil {
		t.Fatal(err)
	}
	if have, want := id, "scene-1"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestAPIErrorVerbatim(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail": "material not loaded"}`))
	}))

	_, err := c.AutoOrient(context.Background(), "scene-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got: %v", err)
	}
	if have, want := apiErr.StatusCode, http.StatusUnprocessableEntity; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if !strings.Contains(apiErr.Detail, "material not loaded") {
		t.Errorf("error payload not passed through: %v", apiErr.Detail)
	}
}

func TestWaitOperationCompleted(t *testing.T) {
	polls := 0
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 3 {
			w.Write([]byte(`{"status": "IN_PROGRESS", "progress_percent": 40}`))
			return
		}
		w.Write([]byte(`{"status": "COMPLETED", "progress_percent": 100}`))
	}))

	op, err := c.WaitOperation(context.Background(), "op-1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := op.Status, StatusCompleted; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if polls != 3 {
		t.Errorf("unexpected poll count: %d", polls)
	}
}

func TestWaitOperationFailedVerbatim(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "FAILED", "error": "mesh is not manifold"}`))
	}))

	_, err := c.WaitOperation(context.Background(), "op-1")
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got: %v", err)
	}
	if have, want := opErr.Detail, "mesh is not manifold"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestWaitOperationTimeout(t *testing.T) {
	// never resolves
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "PENDING"}`))
	}))

	start := time.Now()
	_, err := c.WaitOperation(context.Background(), "op-1")
	if !errors.Is(err, ErrOperationTimeout) {
		t.Fatalf("expected timeout, got: %v", err)
	}
	// ceiling plus at most one poll interval
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("polling did not stop at ceiling: %v", elapsed)
	}
}

func TestWaitOperationCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.Write([]byte(`{"status": "IN_PROGRESS"}`))
	}))

	_, err := c.WaitOperation(ctx, "op-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
}
