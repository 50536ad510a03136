// Package storage defines types and interfaces for the credential vault.
// The vault isolates each tenant's remote-API credential under its own
// scoped key. A missing credential is not exceptional: callers treat
// ErrNotFound as "not logged in."
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a tenant has no stored credential.
var ErrNotFound = errors.New("credential not found")

// Credential is a tenant's remote fleet API credential: either a
// pre-issued access token or an OAuth2 client-credentials pair. All
// secret fields are opaque blobs and must never be written to any log
// sink.
type Credential struct {
	TenantID     string    `json:"tenant_id"`
	Token        string    `json:"token,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	Username     string    `json:"username,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
}

type ReadStore interface {
	// RetrieveCredential returns the tenant's credential or ErrNotFound.
	RetrieveCredential(ctx context.Context, tenantID string) (*Credential, error)
}

// Store persists per-tenant credentials. Implementations must never
// co-mingle two tenants under one key, and store/retrieve for the same
// tenant must be safe concurrently: replace is atomic and a reader
// never observes a partially written credential.
type Store interface {
	ReadStore

	// StoreCredential persists or replaces the tenant's credential.
	StoreCredential(ctx context.Context, tenantID string, cred *Credential) error

	// DeleteCredential removes the tenant's credential.
	// Deleting an absent credential is not an error.
	DeleteCredential(ctx context.Context, tenantID string) error
}
