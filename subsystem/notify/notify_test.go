package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/printcmd/printcmd/fleet"
	"github.com/printcmd/printcmd/subsystem/notify/storage"
	"github.com/printcmd/printcmd/subsystem/notify/storage/inmem"
)

// fakeSource serves scripted prints per tenant.
type fakeSource struct {
	mu     sync.Mutex
	prints map[string][]fleet.Print
	errs   map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		prints: make(map[string][]fleet.Print),
		errs:   make(map[string]error),
	}
}

func (f *fakeSource) set(tenantID string, prints ...fleet.Print) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prints[tenantID] = prints
}

func (f *fakeSource) TenantPrints(_ context.Context, tenantID string) ([]fleet.Print, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[tenantID]; err != nil {
		return nil, err
	}
	return f.prints[tenantID], nil
}

// captureSink records delivered events and can fail on demand.
type captureSink struct {
	mu     sync.Mutex
	events []*Event
	fail   error
}

func (s *captureSink) Deliver(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) all() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Event(nil), s.events...)
}

func subscribe(t *testing.T, store storage.Store, tenantID string, milestones bool, printerSerial string) {
	t.Helper()
	err := store.StoreSubscription(context.Background(), &storage.Subscription{
		ID:            fmt.Sprintf("sub-%s", tenantID),
		TenantID:      tenantID,
		PrinterSerial: printerSerial,
		Milestones:    milestones,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func job(status string) fleet.Print {
	return fleet.Print{
		GUID:    "job-1",
		Name:    "bracket",
		Printer: "Form4-abc",
		Status:  status,
	}
}

func TestPollerTransitions(t *testing.T) {
	store := inmem.New()
	source := newFakeSource()
	sink := &captureSink{}
	p := New(source, store, sink)
	ctx := context.Background()

	subscribe(t, store, "tenant-a", true, "")

	for _, status := range []string{
		fleet.PrintStatusQueued,
		fleet.PrintStatusPrinting,
		fleet.PrintStatusFinished,
	} {
		source.set("tenant-a", job(status))
		// polling twice per status must not duplicate events.
		if err := p.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
		if err := p.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
	}

	events := sink.all()
	if have, want := len(events), 2; have != want {
		t.Fatalf("events: have: %v, want: %v", have, want)
	}
	if have, want := events[0].NewStatus, fleet.PrintStatusPrinting; have != want {
		t.Errorf("first event: have: %v, want: %v", have, want)
	}
	if have, want := events[1].NewStatus, fleet.PrintStatusFinished; have != want {
		t.Errorf("second event: have: %v, want: %v", have, want)
	}
	if have, want := events[1].OldStatus, fleet.PrintStatusPrinting; have != want {
		t.Errorf("second event old status: have: %v, want: %v", have, want)
	}
}

func TestPollerRestartDoesNotRefire(t *testing.T) {
	store := inmem.New()
	source := newFakeSource()
	sink := &captureSink{}
	ctx := context.Background()

	subscribe(t, store, "tenant-a", true, "")
	source.set("tenant-a", job(fleet.PrintStatusQueued))
	if err := New(source, store, sink).RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	source.set("tenant-a", job(fleet.PrintStatusFinished))
	if err := New(source, store, sink).RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if have, want := len(sink.all()), 1; have != want {
		t.Fatalf("events: have: %v, want: %v", have, want)
	}

	// a fresh poller over the same store sees the snapshot.
	if err := New(source, store, sink).RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if have, want := len(sink.all()), 1; have != want {
		t.Errorf("events after restart: have: %v, want: %v", have, want)
	}
}

func TestPollerFirstSightIsSilent(t *testing.T) {
	store := inmem.New()
	source := newFakeSource()
	sink := &captureSink{}
	p := New(source, store, sink)
	ctx := context.Background()

	// a tenant subscribing with a backlog of finished prints must not
	// be notified about any of them.
	subscribe(t, store, "tenant-a", true, "")
	source.set("tenant-a",
		fleet.Print{GUID: "job-1", Printer: "Form4-abc", Status: fleet.PrintStatusFinished},
		fleet.Print{GUID: "job-2", Printer: "Form4-abc", Status: fleet.PrintStatusAborted},
		fleet.Print{GUID: "job-3", Printer: "Form4-def", Status: fleet.PrintStatusFinished},
	)

	if err := p.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if have, want := len(sink.all()), 0; have != want {
		t.Fatalf("events on first sight: have: %v, want: %v", have, want)
	}

	// first sight still records the snapshot.
	snap, err := store.RetrieveJobSnapshot(ctx, "tenant-a", "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil {
		t.Fatal("first sight did not record a snapshot")
	}
	if have, want := snap.LastStatus, fleet.PrintStatusFinished; have != want {
		t.Errorf("snapshot status: have: %v, want: %v", have, want)
	}
}

func TestPollerTerminalOnly(t *testing.T) {
	store := inmem.New()
	source := newFakeSource()
	sink := &captureSink{}
	p := New(source, store, sink)
	ctx := context.Background()

	subscribe(t, store, "tenant-a", false, "")

	for _, status := range []string{
		fleet.PrintStatusQueued,
		fleet.PrintStatusPrinting,
		fleet.PrintStatusError,
	} {
		source.set("tenant-a", job(status))
		if err := p.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
	}

	events := sink.all()
	if have, want := len(events), 1; have != want {
		t.Fatalf("events: have: %v, want: %v", have, want)
	}
	if have, want := events[0].NewStatus, fleet.PrintStatusError; have != want {
		t.Errorf("event: have: %v, want: %v", have, want)
	}
	// milestone transitions still advance the snapshot.
	if have, want := events[0].OldStatus, fleet.PrintStatusPrinting; have != want {
		t.Errorf("old status: have: %v, want: %v", have, want)
	}
}

func TestPollerPrinterFilter(t *testing.T) {
	store := inmem.New()
	source := newFakeSource()
	sink := &captureSink{}
	p := New(source, store, sink)
	ctx := context.Background()

	subscribe(t, store, "tenant-a", false, "Form4-xyz")

	other := job(fleet.PrintStatusPrinting)
	filtered := fleet.Print{GUID: "job-2", Name: "case", Printer: "Form4-xyz", Status: fleet.PrintStatusPrinting}
	source.set("tenant-a", other, filtered)
	if err := p.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	other.Status = fleet.PrintStatusFinished
	filtered.Status = fleet.PrintStatusFinished
	source.set("tenant-a", other, filtered)
	if err := p.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	events := sink.all()
	if have, want := len(events), 1; have != want {
		t.Fatalf("events: have: %v, want: %v", have, want)
	}
	if have, want := events[0].PrinterSerial, "Form4-xyz"; have != want {
		t.Errorf("printer serial: have: %v, want: %v", have, want)
	}
}

func TestPollerTenantIsolation(t *testing.T) {
	store := inmem.New()
	source := newFakeSource()
	sink := &captureSink{}
	p := New(source, store, sink)
	ctx := context.Background()

	subscribe(t, store, "tenant-a", false, "")
	subscribe(t, store, "tenant-b", false, "")

	source.errs["tenant-a"] = errors.New("credential revoked")
	source.set("tenant-b", job(fleet.PrintStatusPrinting))
	if err := p.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	source.set("tenant-b", job(fleet.PrintStatusFinished))
	if err := p.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	events := sink.all()
	if have, want := len(events), 1; have != want {
		t.Fatalf("events: have: %v, want: %v", have, want)
	}
	if have, want := events[0].TenantID, "tenant-b"; have != want {
		t.Errorf("tenant: have: %v, want: %v", have, want)
	}
}

func TestPollerRedeliversAfterSinkFailure(t *testing.T) {
	store := inmem.New()
	source := newFakeSource()
	sink := &captureSink{}
	p := New(source, store, sink)
	ctx := context.Background()

	subscribe(t, store, "tenant-a", false, "")
	source.set("tenant-a", job(fleet.PrintStatusPrinting))
	if err := p.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	sink.mu.Lock()
	sink.fail = errors.New("webhook down")
	sink.mu.Unlock()
	source.set("tenant-a", job(fleet.PrintStatusFinished))
	if err := p.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if have, want := len(sink.all()), 0; have != want {
		t.Fatalf("events during outage: have: %v, want: %v", have, want)
	}

	// an undelivered transition is retried on the next poll.
	sink.mu.Lock()
	sink.fail = nil
	sink.mu.Unlock()
	if err := p.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if have, want := len(sink.all()), 1; have != want {
		t.Errorf("events after recovery: have: %v, want: %v", have, want)
	}
}

func TestPollerPrunesStaleSnapshots(t *testing.T) {
	store := inmem.New()
	source := newFakeSource()
	sink := &captureSink{}
	p := New(source, store, sink, WithRetention(time.Hour))
	ctx := context.Background()

	subscribe(t, store, "tenant-a", false, "")
	if _, err := store.AdvanceLastNotified(ctx, &storage.JobSnapshot{
		TenantID:   "tenant-a",
		JobID:      "job-old",
		LastStatus: storage.JobStatusFinished,
		UpdatedAt:  time.Now().Add(-2 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	if err := p.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	snap, err := store.RetrieveJobSnapshot(ctx, "tenant-a", "job-old")
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Error("stale snapshot survived poll")
	}
}
