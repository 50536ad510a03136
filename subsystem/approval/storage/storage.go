// Package storage defines types and interfaces for tenant approval
// persistence. A tenant must be approved before the service will hold
// credentials or run workflows for it.
package storage

import (
	"context"
	"time"
)

// Record is one tenant's approval.
type Record struct {
	TenantID string `json:"tenant_id"`

	// Admin grants access to the approval endpoints themselves.
	Admin bool `json:"admin"`

	ApprovedBy string    `json:"approved_by"`
	ApprovedAt time.Time `json:"approved_at"`
}

type ReadStore interface {
	// IsApproved reports whether the tenant is approved. Unknown
	// tenants are not approved; this is not an error.
	IsApproved(ctx context.Context, tenantID string) (bool, error)

	// IsAdmin reports whether the tenant is an approved admin.
	IsAdmin(ctx context.Context, tenantID string) (bool, error)

	// List returns all approval records.
	List(ctx context.Context) ([]*Record, error)
}

// Store persists tenant approvals.
type Store interface {
	ReadStore

	// Approve inserts or replaces an approval record.
	Approve(ctx context.Context, record *Record) error

	// Revoke removes a tenant's approval. Unknown tenants are not an
	// error.
	Revoke(ctx context.Context, tenantID string) error
}
