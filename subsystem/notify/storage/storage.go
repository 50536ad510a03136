// Package storage defines types and interfaces for notification
// subscription and job snapshot persistence.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

// Print job statuses, in lifecycle order.
const (
	JobStatusQueued   = "QUEUED"
	JobStatusPreprint = "PREPRINT"
	JobStatusPrinting = "PRINTING"
	JobStatusFinished = "FINISHED"
	JobStatusError    = "ERROR"
	JobStatusAborted  = "ABORTED"
)

// StatusRank orders job statuses for monotonic snapshot advancement.
// Terminal statuses share the highest rank; a job never leaves them.
// Unknown statuses rank below QUEUED so they can never clobber a
// recorded snapshot.
func StatusRank(status string) int {
	switch status {
	case JobStatusQueued:
		return 1
	case JobStatusPreprint:
		return 2
	case JobStatusPrinting:
		return 3
	case JobStatusFinished, JobStatusError, JobStatusAborted:
		return 4
	}
	return 0
}

// Subscription registers a tenant's interest in print job events.
type Subscription struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	// PrinterSerial restricts the subscription to one printer when set.
	PrinterSerial string `json:"printer_serial,omitempty"`

	// Milestones includes PRINTING transitions in addition to terminal
	// statuses.
	Milestones bool `json:"milestones"`

	CreatedAt time.Time `json:"created_at"`
}

// Matches reports whether the subscription covers a job on the given
// printer reaching the given status.
func (s *Subscription) Matches(printerSerial, status string) bool {
	if s.PrinterSerial != "" && s.PrinterSerial != printerSerial {
		return false
	}
	if status == JobStatusPrinting {
		return s.Milestones
	}
	return StatusRank(status) >= StatusRank(JobStatusFinished)
}

// JobSnapshot records the last job status a tenant was notified about.
type JobSnapshot struct {
	TenantID      string    `json:"tenant_id"`
	JobID         string    `json:"job_id"`
	PrinterSerial string    `json:"printer_serial"`
	Name          string    `json:"name"`
	LastStatus    string    `json:"last_status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ReadStore interface {
	// RetrieveSubscription returns a tenant's subscription or
	// ErrSubscriptionNotFound.
	RetrieveSubscription(ctx context.Context, tenantID, id string) (*Subscription, error)

	// RetrieveTenantSubscriptions returns all of a tenant's subscriptions.
	RetrieveTenantSubscriptions(ctx context.Context, tenantID string) ([]*Subscription, error)

	// RetrieveSubscribedTenants returns the tenant IDs holding at least
	// one subscription.
	RetrieveSubscribedTenants(ctx context.Context) ([]string, error)
}

// Store persists subscriptions and job snapshots.
type Store interface {
	ReadStore

	// StoreSubscription inserts or replaces a subscription.
	StoreSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription removes a subscription. Unknown IDs are not an
	// error.
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// DeleteTenantSubscriptions removes all of a tenant's subscriptions
	// and job snapshots.
	DeleteTenantSubscriptions(ctx context.Context, tenantID string) error

	// RetrieveJobSnapshot returns the tenant's snapshot for a job, or
	// nil when the job has not been seen.
	RetrieveJobSnapshot(ctx context.Context, tenantID, jobID string) (*JobSnapshot, error)

	// AdvanceLastNotified stores the snapshot only if its status ranks
	// strictly above the recorded one, or the job is unseen. Reports
	// whether the snapshot advanced. Concurrent or replayed lower-rank
	// writes are dropped.
	AdvanceLastNotified(ctx context.Context, snap *JobSnapshot) (bool, error)

	// PruneJobSnapshots deletes snapshots not updated since the cutoff
	// and returns how many were removed.
	PruneJobSnapshots(ctx context.Context, cutoff time.Time) (int, error)
}
