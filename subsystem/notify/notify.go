// Package notify polls the fleet API for print job status changes and
// delivers events for the transitions tenants subscribed to. Snapshot
// bookkeeping makes delivery idempotent across poller restarts.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/printcmd/printcmd/fleet"
	"github.com/printcmd/printcmd/logkeys"
	"github.com/printcmd/printcmd/subsystem/notify/storage"

	"github.com/micromdm/nanolib/log"
)

const DefaultPollerDuration = time.Minute
const DefaultSnapshotRetention = 7 * 24 * time.Hour

// Event is one print job status transition.
type Event struct {
	TenantID      string    `json:"tenant_id"`
	JobID         string    `json:"job_id"`
	PrinterSerial string    `json:"printer_serial"`
	Name          string    `json:"name"`
	OldStatus     string    `json:"old_status,omitempty"`
	NewStatus     string    `json:"new_status"`
	At            time.Time `json:"at"`
}

// Sink receives events. A delivery error leaves the job snapshot
// unadvanced so the event is retried on the next poll.
type Sink interface {
	Deliver(ctx context.Context, event *Event) error
}

// PrintSource lists a tenant's print jobs.
type PrintSource interface {
	TenantPrints(ctx context.Context, tenantID string) ([]fleet.Print, error)
}

// FleetSource adapts a fleet client into a PrintSource.
type FleetSource struct {
	Client *fleet.Client
}

func (f FleetSource) TenantPrints(ctx context.Context, tenantID string) ([]fleet.Print, error) {
	return f.Client.ListPrints(tenantID, fleet.PrintFilter{}).Collect(ctx)
}

// Poller drives the notification loop.
type Poller struct {
	prints PrintSource
	store  storage.Store
	sink   Sink
	logger log.Logger

	// duration is the interval at which the poller wakes up.
	duration time.Duration

	// retain is how long job snapshots are kept after their last
	// status change.
	retain time.Duration
}

type Option func(p *Poller)

func WithLogger(logger log.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithDuration configures the polling interval.
func WithDuration(d time.Duration) Option {
	return func(p *Poller) {
		p.duration = d
	}
}

// WithRetention configures how long job snapshots are kept.
func WithRetention(d time.Duration) Option {
	return func(p *Poller) {
		p.retain = d
	}
}

// New creates a new notification poller.
func New(prints PrintSource, store storage.Store, sink Sink, opts ...Option) *Poller {
	p := &Poller{
		prints:   prints,
		store:    store,
		sink:     sink,
		logger:   log.NopLogger,
		duration: DefaultPollerDuration,
		retain:   DefaultSnapshotRetention,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunOnce polls every subscribed tenant and prunes stale snapshots.
// A failing tenant is logged and skipped so one tenant's broken
// credentials cannot starve the rest.
func (p *Poller) RunOnce(ctx context.Context) error {
	tenants, err := p.store.RetrieveSubscribedTenants(ctx)
	if err != nil {
		return fmt.Errorf("retrieving subscribed tenants: %w", err)
	}

	for _, tenantID := range tenants {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = p.pollTenant(ctx, tenantID); err != nil {
			p.logger.Info(
				logkeys.Message, "polling tenant",
				logkeys.TenantID, tenantID,
				logkeys.Error, err,
			)
		}
	}

	if p.retain > 0 {
		n, err := p.store.PruneJobSnapshots(ctx, time.Now().Add(-p.retain))
		if err != nil {
			return fmt.Errorf("pruning job snapshots: %w", err)
		}
		if n > 0 {
			p.logger.Debug(logkeys.Message, "pruned job snapshots", logkeys.GenericCount, n)
		}
	}
	return nil
}

func (p *Poller) pollTenant(ctx context.Context, tenantID string) error {
	subs, err := p.store.RetrieveTenantSubscriptions(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("retrieving subscriptions: %w", err)
	}
	if len(subs) < 1 {
		return nil
	}

	prints, err := p.prints.TenantPrints(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("listing prints: %w", err)
	}

	for _, pr := range prints {
		if err = p.observe(ctx, tenantID, subs, pr); err != nil {
			p.logger.Info(
				logkeys.Message, "observing print",
				logkeys.TenantID, tenantID,
				logkeys.JobID, pr.GUID,
				logkeys.Error, err,
			)
		}
	}
	return nil
}

// observe compares one print against its snapshot and delivers at most
// one event. The snapshot advances only after successful delivery;
// snapshot monotonicity in storage makes replays harmless.
func (p *Poller) observe(ctx context.Context, tenantID string, subs []*storage.Subscription, pr fleet.Print) error {
	prev, err := p.store.RetrieveJobSnapshot(ctx, tenantID, pr.GUID)
	if err != nil {
		return fmt.Errorf("retrieving job snapshot: %w", err)
	}
	// A job first observed, whatever its status, is recorded without
	// notifying. Only transitions seen across polls fire events;
	// otherwise a new subscription would replay every historical print.
	if prev == nil {
		return p.advance(ctx, tenantID, pr)
	}
	if storage.StatusRank(pr.Status) <= storage.StatusRank(prev.LastStatus) {
		return nil
	}

	matched := false
	for _, sub := range subs {
		if sub.Matches(pr.Printer, pr.Status) {
			matched = true
			break
		}
	}
	if matched {
		event := &Event{
			TenantID:      tenantID,
			JobID:         pr.GUID,
			PrinterSerial: pr.Printer,
			Name:          pr.Name,
			OldStatus:     prev.LastStatus,
			NewStatus:     pr.Status,
			At:            time.Now().UTC(),
		}
		if err = p.sink.Deliver(ctx, event); err != nil {
			return fmt.Errorf("delivering event: %w", err)
		}
	}

	return p.advance(ctx, tenantID, pr)
}

// advance records the print's current status in its job snapshot.
func (p *Poller) advance(ctx context.Context, tenantID string, pr fleet.Print) error {
	_, err := p.store.AdvanceLastNotified(ctx, &storage.JobSnapshot{
		TenantID:      tenantID,
		JobID:         pr.GUID,
		PrinterSerial: pr.Printer,
		Name:          pr.Name,
		LastStatus:    pr.Status,
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("advancing job snapshot: %w", err)
	}
	return nil
}

// Run starts and runs the poller forever on an interval.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Debug(logkeys.Message, "starting poller", "duration", p.duration)

	ticker := time.NewTicker(p.duration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// LogSink writes events to a logger.
type LogSink struct {
	Logger log.Logger
}

func (s LogSink) Deliver(_ context.Context, event *Event) error {
	s.Logger.Info(
		logkeys.Message, "print status changed",
		logkeys.TenantID, event.TenantID,
		logkeys.JobID, event.JobID,
		logkeys.PrinterSerial, event.PrinterSerial,
		logkeys.JobStatus, event.NewStatus,
	)
	return nil
}
