// Package test implements a storage test suite for notification backends.
package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/printcmd/printcmd/subsystem/notify/storage"
)

// TestStore runs a notification storage backend through the
// subscription and job snapshot lifecycles.
func TestStore(t *testing.T, newStore func() storage.Store) {
	t.Run("subscriptions", func(t *testing.T) {
		testSubscriptions(t, newStore())
	})
	t.Run("snapshots", func(t *testing.T) {
		testSnapshots(t, newStore())
	})
	t.Run("prune", func(t *testing.T) {
		testPrune(t, newStore())
	})
}

func testSubscriptions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := s.RetrieveSubscription(ctx, "tenant-a", "missing")
	if !errors.Is(err, storage.ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got: %v", err)
	}

	tenants, err := s.RetrieveSubscribedTenants(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(tenants), 0; have != want {
		t.Errorf("subscribed tenants: have: %v, want: %v", have, want)
	}

	subs := []*storage.Subscription{
		{ID: "sub-1", TenantID: "tenant-a", Milestones: true, CreatedAt: now},
		{ID: "sub-2", TenantID: "tenant-a", PrinterSerial: "Form4-abc", CreatedAt: now},
		{ID: "sub-1", TenantID: "tenant-b", CreatedAt: now},
	}
	for _, sub := range subs {
		if err = s.StoreSubscription(ctx, sub); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.RetrieveSubscription(ctx, "tenant-a", "sub-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Milestones {
		t.Error("milestones flag lost")
	}

	// same ID under another tenant is a distinct subscription.
	got, err = s.RetrieveSubscription(ctx, "tenant-b", "sub-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Milestones {
		t.Error("tenant-b subscription has tenant-a's milestones flag")
	}

	list, err := s.RetrieveTenantSubscriptions(ctx, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(list), 2; have != want {
		t.Errorf("tenant subscriptions: have: %v, want: %v", have, want)
	}

	tenants, err = s.RetrieveSubscribedTenants(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(tenants), 2; have != want {
		t.Errorf("subscribed tenants: have: %v, want: %v", have, want)
	}

	if err = s.DeleteSubscription(ctx, "tenant-a", "sub-1"); err != nil {
		t.Fatal(err)
	}
	if _, err = s.RetrieveSubscription(ctx, "tenant-a", "sub-1"); !errors.Is(err, storage.ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got: %v", err)
	}

	// deleting an unknown subscription is not an error.
	if err = s.DeleteSubscription(ctx, "tenant-a", "missing"); err != nil {
		t.Errorf("delete of unknown subscription: %v", err)
	}

	if err = s.DeleteTenantSubscriptions(ctx, "tenant-a"); err != nil {
		t.Fatal(err)
	}
	list, err = s.RetrieveTenantSubscriptions(ctx, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(list), 0; have != want {
		t.Errorf("tenant subscriptions after cascade: have: %v, want: %v", have, want)
	}
	if _, err = s.RetrieveSubscription(ctx, "tenant-b", "sub-1"); err != nil {
		t.Errorf("tenant-b subscription lost to tenant-a cascade: %v", err)
	}
}

func testSnapshots(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	snap, err := s.RetrieveJobSnapshot(ctx, "tenant-a", "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Errorf("unseen job has snapshot: %v", snap)
	}

	advance := func(tenantID, jobID, status string) bool {
		t.Helper()
		advanced, err := s.AdvanceLastNotified(ctx, &storage.JobSnapshot{
			TenantID:      tenantID,
			JobID:         jobID,
			PrinterSerial: "Form4-abc",
			Name:          "bracket",
			LastStatus:    status,
			UpdatedAt:     now,
		})
		if err != nil {
			t.Fatal(err)
		}
		return advanced
	}

	if !advance("tenant-a", "job-1", storage.JobStatusQueued) {
		t.Error("first snapshot did not advance")
	}
	if !advance("tenant-a", "job-1", storage.JobStatusPrinting) {
		t.Error("higher status did not advance")
	}
	// replay of the same status must not advance again.
	if advance("tenant-a", "job-1", storage.JobStatusPrinting) {
		t.Error("replayed status advanced")
	}
	// a stale lower status must never regress the snapshot.
	if advance("tenant-a", "job-1", storage.JobStatusQueued) {
		t.Error("stale status advanced")
	}

	if !advance("tenant-a", "job-1", storage.JobStatusFinished) {
		t.Error("terminal status did not advance")
	}
	// terminal statuses share a rank; a job never leaves them.
	if advance("tenant-a", "job-1", storage.JobStatusAborted) {
		t.Error("terminal status replaced")
	}

	snap, err = s.RetrieveJobSnapshot(ctx, "tenant-a", "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := snap.LastStatus, storage.JobStatusFinished; have != want {
		t.Errorf("last status: have: %v, want: %v", have, want)
	}
	if have, want := snap.PrinterSerial, "Form4-abc"; have != want {
		t.Errorf("printer serial: have: %v, want: %v", have, want)
	}

	// the same job under another tenant is tracked independently.
	if !advance("tenant-b", "job-1", storage.JobStatusQueued) {
		t.Error("tenant-b snapshot did not advance")
	}
	snap, err = s.RetrieveJobSnapshot(ctx, "tenant-b", "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := snap.LastStatus, storage.JobStatusQueued; have != want {
		t.Errorf("tenant-b last status: have: %v, want: %v", have, want)
	}
}

func testPrune(t *testing.T, s storage.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	snaps := []*storage.JobSnapshot{
		{TenantID: "tenant-a", JobID: "job-old", LastStatus: storage.JobStatusFinished, UpdatedAt: now.Add(-8 * 24 * time.Hour)},
		{TenantID: "tenant-a", JobID: "job-new", LastStatus: storage.JobStatusPrinting, UpdatedAt: now},
	}
	for _, snap := range snaps {
		if _, err := s.AdvanceLastNotified(ctx, snap); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.PruneJobSnapshots(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if have, want := n, 1; have != want {
		t.Errorf("pruned: have: %v, want: %v", have, want)
	}

	snap, err := s.RetrieveJobSnapshot(ctx, "tenant-a", "job-old")
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Error("stale snapshot survived prune")
	}
	snap, err = s.RetrieveJobSnapshot(ctx, "tenant-a", "job-new")
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil {
		t.Error("fresh snapshot pruned")
	}
}
