package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/printcmd/printcmd/subsystem/notify/storage"
	"github.com/printcmd/printcmd/subsystem/notify/storage/inmem"
	"github.com/printcmd/printcmd/utils/uuid"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
)

func testMux(store storage.Store) *flow.Mux {
	mux := flow.New()
	HandleAPIv1("/v1", mux, log.NopLogger, store, uuid.NewStaticIDs("sub-static"))
	return mux
}

func TestSubscriptionAPI(t *testing.T) {
	store := inmem.New()
	mux := testMux(store)

	// create with a generated ID
	req := httptest.NewRequest("POST", "/v1/tenant/tenant-a/subscriptions",
		strings.NewReader(`{"printer_serial": "Form4-abc", "milestones": true}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if have, want := rec.Code, http.StatusCreated; have != want {
		t.Fatalf("status: have: %v, want: %v: %s", have, want, rec.Body.String())
	}
	var created storage.Subscription
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if have, want := created.ID, "sub-static"; have != want {
		t.Errorf("id: have: %v, want: %v", have, want)
	}

	// named put
	req = httptest.NewRequest("PUT", "/v1/tenant/tenant-a/subscription/mine",
		strings.NewReader(`{"milestones": false}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if have, want := rec.Code, http.StatusNoContent; have != want {
		t.Fatalf("status: have: %v, want: %v: %s", have, want, rec.Body.String())
	}

	// list
	req = httptest.NewRequest("GET", "/v1/tenant/tenant-a/subscriptions", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if have, want := rec.Code, http.StatusOK; have != want {
		t.Fatalf("status: have: %v, want: %v", have, want)
	}
	var subs []*storage.Subscription
	if err := json.Unmarshal(rec.Body.Bytes(), &subs); err != nil {
		t.Fatal(err)
	}
	if have, want := len(subs), 2; have != want {
		t.Fatalf("subscriptions: have: %v, want: %v", have, want)
	}

	// another tenant sees nothing
	req = httptest.NewRequest("GET", "/v1/tenant/tenant-b/subscriptions", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if have, want := strings.TrimSpace(rec.Body.String()), "[]"; have != want {
		t.Errorf("body: have: %v, want: %v", have, want)
	}

	// delete
	req = httptest.NewRequest("DELETE", "/v1/tenant/tenant-a/subscription/mine", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if have, want := rec.Code, http.StatusNoContent; have != want {
		t.Fatalf("status: have: %v, want: %v", have, want)
	}
}
