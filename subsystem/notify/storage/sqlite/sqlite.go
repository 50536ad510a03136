// Package sqlite implements a notification storage backend using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/printcmd/printcmd/subsystem/notify/storage"
)

//go:embed schema.sql
var schema string

// SQLiteStorage implements a storage.Store using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at path and applies the
// schema. WAL mode keeps the poller and the HTTP handlers from
// blocking each other.
func New(path string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// RetrieveSubscription returns a tenant's subscription.
func (s *SQLiteStorage) RetrieveSubscription(ctx context.Context, tenantID, id string) (*storage.Subscription, error) {
	sub := &storage.Subscription{TenantID: tenantID, ID: id}
	err := s.db.QueryRowContext(
		ctx, `
SELECT printer_serial, milestones, created_at
FROM subscriptions
WHERE tenant_id = ? AND id = ?;`,
		tenantID, id,
	).Scan(&sub.PrinterSerial, &sub.Milestones, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrSubscriptionNotFound, id)
	} else if err != nil {
		return nil, err
	}
	return sub, nil
}

// RetrieveTenantSubscriptions returns all of a tenant's subscriptions.
func (s *SQLiteStorage) RetrieveTenantSubscriptions(ctx context.Context, tenantID string) ([]*storage.Subscription, error) {
	rows, err := s.db.QueryContext(
		ctx, `
SELECT id, printer_serial, milestones, created_at
FROM subscriptions
WHERE tenant_id = ?;`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var r []*storage.Subscription
	for rows.Next() {
		sub := &storage.Subscription{TenantID: tenantID}
		if err = rows.Scan(&sub.ID, &sub.PrinterSerial, &sub.Milestones, &sub.CreatedAt); err != nil {
			return nil, err
		}
		r = append(r, sub)
	}
	return r, rows.Err()
}

// RetrieveSubscribedTenants returns tenant IDs holding subscriptions.
func (s *SQLiteStorage) RetrieveSubscribedTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM subscriptions;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var r []string
	for rows.Next() {
		var tenantID string
		if err = rows.Scan(&tenantID); err != nil {
			return nil, err
		}
		r = append(r, tenantID)
	}
	return r, rows.Err()
}

// StoreSubscription inserts or replaces a subscription.
func (s *SQLiteStorage) StoreSubscription(ctx context.Context, sub *storage.Subscription) error {
	if sub == nil || sub.TenantID == "" || sub.ID == "" {
		return errors.New("invalid subscription")
	}
	_, err := s.db.ExecContext(
		ctx, `
INSERT INTO subscriptions
    (tenant_id, id, printer_serial, milestones, created_at)
VALUES
    (?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, id) DO UPDATE SET
    printer_serial = excluded.printer_serial,
    milestones = excluded.milestones;`,
		sub.TenantID,
		sub.ID,
		sub.PrinterSerial,
		sub.Milestones,
		sub.CreatedAt.UTC(),
	)
	return err
}

// DeleteSubscription removes a subscription.
func (s *SQLiteStorage) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	_, err := s.db.ExecContext(
		ctx,
		`DELETE FROM subscriptions WHERE tenant_id = ? AND id = ?;`,
		tenantID, id,
	)
	return err
}

// DeleteTenantSubscriptions removes a tenant's subscriptions and
// snapshots.
func (s *SQLiteStorage) DeleteTenantSubscriptions(ctx context.Context, tenantID string) error {
	if _, err := s.db.ExecContext(
		ctx, `DELETE FROM subscriptions WHERE tenant_id = ?;`, tenantID,
	); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx, `DELETE FROM job_snapshots WHERE tenant_id = ?;`, tenantID,
	)
	return err
}

// RetrieveJobSnapshot returns a tenant's job snapshot, nil when unseen.
func (s *SQLiteStorage) RetrieveJobSnapshot(ctx context.Context, tenantID, jobID string) (*storage.JobSnapshot, error) {
	snap := &storage.JobSnapshot{TenantID: tenantID, JobID: jobID}
	err := s.db.QueryRowContext(
		ctx, `
SELECT printer_serial, name, last_status, updated_at
FROM job_snapshots
WHERE tenant_id = ? AND job_id = ?;`,
		tenantID, jobID,
	).Scan(&snap.PrinterSerial, &snap.Name, &snap.LastStatus, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return snap, nil
}

// AdvanceLastNotified stores the snapshot if its status ranks above
// the recorded one. The guard runs in the database so concurrent
// pollers cannot regress a snapshot.
func (s *SQLiteStorage) AdvanceLastNotified(ctx context.Context, snap *storage.JobSnapshot) (bool, error) {
	if snap == nil || snap.TenantID == "" || snap.JobID == "" {
		return false, errors.New("invalid job snapshot")
	}
	result, err := s.db.ExecContext(
		ctx, `
INSERT INTO job_snapshots
    (tenant_id, job_id, printer_serial, name, last_status, status_rank, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, job_id) DO UPDATE SET
    printer_serial = excluded.printer_serial,
    name = excluded.name,
    last_status = excluded.last_status,
    status_rank = excluded.status_rank,
    updated_at = excluded.updated_at
WHERE excluded.status_rank > job_snapshots.status_rank;`,
		snap.TenantID,
		snap.JobID,
		snap.PrinterSerial,
		snap.Name,
		snap.LastStatus,
		storage.StatusRank(snap.LastStatus),
		snap.UpdatedAt.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PruneJobSnapshots deletes snapshots not updated since the cutoff.
func (s *SQLiteStorage) PruneJobSnapshots(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(
		ctx,
		`DELETE FROM job_snapshots WHERE updated_at < ?;`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}
