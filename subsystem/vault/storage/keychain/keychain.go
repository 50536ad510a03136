// Package keychain implements a vault storage backend on the system
// keychain (macOS Keychain, Secret Service, Windows Credential
// Manager). Secrets are encrypted at rest by the OS and scoped one
// keychain account per tenant.
package keychain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/printcmd/printcmd/subsystem/vault/storage"

	"github.com/zalando/go-keyring"
)

const (
	// DefaultService is the keychain service name entries are filed under.
	DefaultService = "printcmd"

	// accountPrefix prefixes the per-tenant keychain account name.
	accountPrefix = "tenant-"
)

// Keychain is a vault storage backend using the system keychain.
type Keychain struct {
	service string
}

// Option configures a Keychain.
type Option func(*Keychain)

// WithService sets the keychain service name.
func WithService(service string) Option {
	return func(k *Keychain) {
		k.service = service
	}
}

// New creates a new system keychain vault storage backend.
func New(opts ...Option) *Keychain {
	k := &Keychain{service: DefaultService}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func account(tenantID string) string {
	return accountPrefix + tenantID
}

// RetrieveCredential returns the tenant's credential from the keychain.
func (k *Keychain) RetrieveCredential(ctx context.Context, tenantID string) (*storage.Credential, error) {
	secret, err := keyring.Get(k.service, account(tenantID))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, tenantID)
	} else if err != nil {
		return nil, fmt.Errorf("keychain get: %w", err)
	}
	cred := new(storage.Credential)
	if err = json.Unmarshal([]byte(secret), cred); err != nil {
		return nil, fmt.Errorf("unmarshal credential: %w", err)
	}
	return cred, nil
}

// StoreCredential persists or replaces the tenant's credential in the
// keychain. The keychain replaces entries atomically per account.
func (k *Keychain) StoreCredential(ctx context.Context, tenantID string, cred *storage.Credential) error {
	if cred == nil {
		return errors.New("nil credential")
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	if err = keyring.Set(k.service, account(tenantID), string(raw)); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

// DeleteCredential removes the tenant's credential from the keychain.
func (k *Keychain) DeleteCredential(ctx context.Context, tenantID string) error {
	err := keyring.Delete(k.service, account(tenantID))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}
