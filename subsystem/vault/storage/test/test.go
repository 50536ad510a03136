// Package test implements a storage test suite for vault backends.
package test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/printcmd/printcmd/subsystem/vault/storage"
)

// TestStore runs a vault storage backend through the store/retrieve/
// delete lifecycle.
func TestStore(t *testing.T, newStore func() storage.Store) {
	s := newStore()
	ctx := context.Background()

	tenantID := "tenant-a"

	_, err := s.RetrieveCredential(ctx, tenantID)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}

	cred := &storage.Credential{
		TenantID: tenantID,
		Token:    "tok-1",
		Username: "user@example.com",
		IssuedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err = s.StoreCredential(ctx, tenantID, cred); err != nil {
		t.Fatal(err)
	}

	got, err := s.RetrieveCredential(ctx, tenantID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := got.Token, "tok-1"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	// replace
	cred.Token = "tok-2"
	if err = s.StoreCredential(ctx, tenantID, cred); err != nil {
		t.Fatal(err)
	}
	got, err = s.RetrieveCredential(ctx, tenantID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := got.Token, "tok-2"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	// tenants never co-mingle
	other := &storage.Credential{TenantID: "tenant-b", Token: "tok-b"}
	if err = s.StoreCredential(ctx, "tenant-b", other); err != nil {
		t.Fatal(err)
	}
	got, err = s.RetrieveCredential(ctx, tenantID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := got.Token, "tok-2"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	if err = s.DeleteCredential(ctx, tenantID); err != nil {
		t.Fatal(err)
	}
	_, err = s.RetrieveCredential(ctx, tenantID)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got: %v", err)
	}

	// deleting again is not an error
	if err = s.DeleteCredential(ctx, tenantID); err != nil {
		t.Error(err)
	}
}

// TestStoreConcurrent replaces and reads one tenant's credential
// concurrently; a reader must only ever observe a complete token.
func TestStoreConcurrent(t *testing.T, newStore func() storage.Store) {
	s := newStore()
	ctx := context.Background()

	tenantID := "tenant-a"
	tokens := map[string]bool{"token-one": true, "token-two": true}

	if err := s.StoreCredential(ctx, tenantID, &storage.Credential{TenantID: tenantID, Token: "token-one"}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			tok := "token-one"
			if i%2 == 0 {
				tok = "token-two"
			}
			for j := 0; j < 25; j++ {
				if err := s.StoreCredential(ctx, tenantID, &storage.Credential{TenantID: tenantID, Token: tok}); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				cred, err := s.RetrieveCredential(ctx, tenantID)
				if err != nil {
					t.Error(err)
					return
				}
				if !tokens[cred.Token] {
					t.Errorf("observed partially written token: %q", cred.Token)
					return
				}
			}
		}()
	}
	wg.Wait()
}
