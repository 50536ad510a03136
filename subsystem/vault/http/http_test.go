package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/printcmd/printcmd/subsystem/vault/storage"
	"github.com/printcmd/printcmd/subsystem/vault/storage/inmem"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
)

func testMux(store storage.Store, invalidators ...Invalidator) *flow.Mux {
	mux := flow.New()
	HandleAPIv1("/v1", mux, log.NopLogger, store, invalidators...)
	return mux
}

// captureInvalidator records invalidated tenant IDs.
type captureInvalidator struct {
	tenants []string
}

func (c *captureInvalidator) InvalidateTenant(tenantID string) {
	c.tenants = append(c.tenants, tenantID)
}

func TestCredentialAPI(t *testing.T) {
	store := inmem.New()
	mux := testMux(store)

	// unknown tenant
	req := httptest.NewRequest("GET", "/v1/tenant/tenant-a/credential", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if have, want := rec.Code, http.StatusNotFound; have != want {
		t.Fatalf("status: have: %v, want: %v", have, want)
	}

	// a credential without any secret is rejected
	req = httptest.NewRequest("PUT", "/v1/tenant/tenant-a/credential",
		strings.NewReader(`{"username": "ops@example.com"}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if have, want := rec.Code, http.StatusBadRequest; have != want {
		t.Fatalf("status: have: %v, want: %v", have, want)
	}

	req = httptest.NewRequest("PUT", "/v1/tenant/tenant-a/credential",
		strings.NewReader(`{"token": "secret-token-1", "username": "ops@example.com"}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if have, want := rec.Code, http.StatusNoContent; have != want {
		t.Fatalf("status: have: %v, want: %v: %s", have, want, rec.Body.String())
	}

	// status reports the holder but never the secret
	req = httptest.NewRequest("GET", "/v1/tenant/tenant-a/credential", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if have, want := rec.Code, http.StatusOK; have != want {
		t.Fatalf("status: have: %v, want: %v", have, want)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "ops@example.com") {
		t.Errorf("status missing username: %s", body)
	}
	if strings.Contains(body, "secret-token-1") {
		t.Errorf("status leaked token: %s", body)
	}

	req = httptest.NewRequest("DELETE", "/v1/tenant/tenant-a/credential", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if have, want := rec.Code, http.StatusNoContent; have != want {
		t.Fatalf("status: have: %v, want: %v", have, want)
	}

	req = httptest.NewRequest("GET", "/v1/tenant/tenant-a/credential", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if have, want := rec.Code, http.StatusNotFound; have != want {
		t.Fatalf("status after delete: have: %v, want: %v", have, want)
	}
}

func TestCredentialChangeInvalidates(t *testing.T) {
	store := inmem.New()
	inv := new(captureInvalidator)
	mux := testMux(store, inv)

	// a rejected credential must not invalidate
	req := httptest.NewRequest("PUT", "/v1/tenant/tenant-a/credential",
		strings.NewReader(`{"username": "ops@example.com"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if have, want := len(inv.tenants), 0; have != want {
		t.Fatalf("invalidations after rejected store: have: %v, want: %v", have, want)
	}

	// storing and deleting each drop cached state for the tenant
	req = httptest.NewRequest("PUT", "/v1/tenant/tenant-a/credential",
		strings.NewReader(`{"token": "secret-token-2"}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if have, want := rec.Code, http.StatusNoContent; have != want {
		t.Fatalf("status: have: %v, want: %v: %s", have, want, rec.Body.String())
	}

	req = httptest.NewRequest("DELETE", "/v1/tenant/tenant-a/credential", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if have, want := rec.Code, http.StatusNoContent; have != want {
		t.Fatalf("status: have: %v, want: %v", have, want)
	}

	if have, want := len(inv.tenants), 2; have != want {
		t.Fatalf("invalidations: have: %v, want: %v", have, want)
	}
	for _, tenantID := range inv.tenants {
		if have, want := tenantID, "tenant-a"; have != want {
			t.Errorf("invalidated tenant: have: %v, want: %v", have, want)
		}
	}
}
