// Package test implements a storage test suite for approval backends.
package test

import (
	"context"
	"testing"
	"time"

	"github.com/printcmd/printcmd/subsystem/approval/storage"
)

// TestStore runs an approval storage backend through the approve/
// revoke lifecycle.
func TestStore(t *testing.T, newStore func() storage.Store) {
	s := newStore()
	ctx := context.Background()

	ok, err := s.IsApproved(ctx, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("unknown tenant is approved")
	}

	now := time.Now().UTC().Truncate(time.Second)
	records := []*storage.Record{
		{TenantID: "tenant-a", ApprovedBy: "ops@example.com", ApprovedAt: now},
		{TenantID: "tenant-admin", Admin: true, ApprovedBy: "ops@example.com", ApprovedAt: now},
	}
	for _, record := range records {
		if err = s.Approve(ctx, record); err != nil {
			t.Fatal(err)
		}
	}

	ok, err = s.IsApproved(ctx, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("approved tenant not approved")
	}

	ok, err = s.IsAdmin(ctx, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("non-admin tenant is admin")
	}
	ok, err = s.IsAdmin(ctx, "tenant-admin")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("admin tenant not admin")
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(list), 2; have != want {
		t.Errorf("records: have: %v, want: %v", have, want)
	}

	if err = s.Revoke(ctx, "tenant-a"); err != nil {
		t.Fatal(err)
	}
	ok, err = s.IsApproved(ctx, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("revoked tenant still approved")
	}

	// revoking an unknown tenant is not an error.
	if err = s.Revoke(ctx, "missing"); err != nil {
		t.Errorf("revoke of unknown tenant: %v", err)
	}
}
