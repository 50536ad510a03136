// Package mysql implements a notification storage backend using MySQL.
// The tables are defined in schema.sql and must exist before use.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/printcmd/printcmd/subsystem/notify/storage"
)

const mySQLTimestampFormat = "2006-01-02 15:04:05"

// MySQLStorage implements a storage.Store using MySQL.
type MySQLStorage struct {
	db *sql.DB
}

type config struct {
	driver string
	dsn    string
	db     *sql.DB
}

// Option allows configuring a MySQLStorage.
type Option func(*config)

// WithDSN sets the storage MySQL data source name.
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.dsn = dsn
	}
}

// WithDriver sets a custom MySQL driver for the storage.
// Default driver is "mysql" but is ignored if WithDB is used.
func WithDriver(driver string) Option {
	return func(c *config) {
		c.driver = driver
	}
}

// WithDB sets a custom MySQL *sql.DB to the storage.
// If set, driver passed via WithDriver is ignored.
func WithDB(db *sql.DB) Option {
	return func(c *config) {
		c.db = db
	}
}

// New creates and returns a new MySQL notification storage backend.
func New(opts ...Option) (*MySQLStorage, error) {
	cfg := &config{driver: "mysql"}
	for _, opt := range opts {
		opt(cfg)
	}
	var err error
	if cfg.db == nil {
		cfg.db, err = sql.Open(cfg.driver, cfg.dsn)
		if err != nil {
			return nil, err
		}
	}
	if err = cfg.db.Ping(); err != nil {
		return nil, err
	}
	return &MySQLStorage{db: cfg.db}, nil
}

// RetrieveSubscription returns a tenant's subscription.
func (s *MySQLStorage) RetrieveSubscription(ctx context.Context, tenantID, id string) (*storage.Subscription, error) {
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
func (s *MySQLStorage) RetrieveTenantSubscriptions(ctx context.Context, tenantID string) ([]*storage.Subscription, error) {
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
func (s *MySQLStorage) RetrieveSubscribedTenants(ctx context.Context) ([]string, error) {
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
func (s *MySQLStorage) StoreSubscription(ctx context.Context, sub *storage.Subscription) error {
	if sub == nil || sub.TenantID == "" || sub.ID == "" {
		return errors.New("invalid subscription")
	}
	_, err := s.db.ExecContext(
		ctx, `
INSERT INTO subscriptions
    (tenant_id, id, printer_serial, milestones, created_at)
VALUES
    (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    printer_serial = VALUES(printer_serial),
    milestones = VALUES(milestones);`,
		sub.TenantID,
		sub.ID,
		sub.PrinterSerial,
		sub.Milestones,
		sub.CreatedAt.UTC().Format(mySQLTimestampFormat),
	)
	return err
}

// DeleteSubscription removes a subscription.
func (s *MySQLStorage) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	_, err := s.db.ExecContext(
		ctx,
		`DELETE FROM subscriptions WHERE tenant_id = ? AND id = ?;`,
		tenantID, id,
	)
	return err
}

// DeleteTenantSubscriptions removes a tenant's subscriptions and
// snapshots.
func (s *MySQLStorage) DeleteTenantSubscriptions(ctx context.Context, tenantID string) error {
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
func (s *MySQLStorage) RetrieveJobSnapshot(ctx context.Context, tenantID, jobID string) (*storage.JobSnapshot, error) {
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
// pollers cannot regress a snapshot. The status_rank assignment must
// stay last: MySQL evaluates the update list in order and the earlier
// assignments compare against the stored rank.
func (s *MySQLStorage) AdvanceLastNotified(ctx context.Context, snap *storage.JobSnapshot) (bool, error) {
	if snap == nil || snap.TenantID == "" || snap.JobID == "" {
		return false, errors.New("invalid job snapshot")
	}
	result, err := s.db.ExecContext(
		ctx, `
INSERT INTO job_snapshots
    (tenant_id, job_id, printer_serial, name, last_status, status_rank, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    printer_serial = IF(VALUES(status_rank) > status_rank, VALUES(printer_serial), printer_serial),
    name = IF(VALUES(status_rank) > status_rank, VALUES(name), name),
    last_status = IF(VALUES(status_rank) > status_rank, VALUES(last_status), last_status),
    updated_at = IF(VALUES(status_rank) > status_rank, VALUES(updated_at), updated_at),
    status_rank = IF(VALUES(status_rank) > status_rank, VALUES(status_rank), status_rank);`,
		snap.TenantID,
		snap.JobID,
		snap.PrinterSerial,
		snap.Name,
		snap.LastStatus,
		storage.StatusRank(snap.LastStatus),
		snap.UpdatedAt.UTC().Format(mySQLTimestampFormat),
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	// 1 row for an insert, 2 for a changed update, 0 for no change.
	return n > 0, nil
}

// PruneJobSnapshots deletes snapshots not updated since the cutoff.
func (s *MySQLStorage) PruneJobSnapshots(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(
		ctx,
		`DELETE FROM job_snapshots WHERE updated_at < ?;`,
		cutoff.UTC().Format(mySQLTimestampFormat),
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}
