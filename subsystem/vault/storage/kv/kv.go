// Package kv implements a vault storage backend using a key-value store.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/printcmd/printcmd/subsystem/vault/storage"

	"github.com/micromdm/nanolib/storage/kv"
)

// keyPfxTenant scopes each credential under its own per-tenant key.
const keyPfxTenant = "tenant."

// KV is a vault storage backend using a key-value store.
type KV struct {
	b kv.KeysPrefixTraversingBucket
}

// New creates a new key-value vault storage backend.
func New(b kv.KeysPrefixTraversingBucket) *KV {
	return &KV{b: b}
}

// RetrieveCredential returns the tenant's credential from the key-value store.
func (s *KV) RetrieveCredential(ctx context.Context, tenantID string) (*storage.Credential, error) {
	raw, err := s.b.Get(ctx, keyPfxTenant+tenantID)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, tenantID)
	} else if err != nil {
		return nil, fmt.Errorf("getting credential: %w", err)
	}
	cred := new(storage.Credential)
	if err = json.Unmarshal(raw, cred); err != nil {
		return nil, fmt.Errorf("unmarshal credential: %w", err)
	}
	return cred, nil
}

// StoreCredential persists or replaces the tenant's credential.
func (s *KV) StoreCredential(ctx context.Context, tenantID string, cred *storage.Credential) error {
	if cred == nil {
		return errors.New("nil credential")
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	if err = s.b.Set(ctx, keyPfxTenant+tenantID, raw); err != nil {
		return fmt.Errorf("setting credential: %w", err)
	}
	return nil
}

// DeleteCredential removes the tenant's credential.
func (s *KV) DeleteCredential(ctx context.Context, tenantID string) error {
	err := s.b.Delete(ctx, keyPfxTenant+tenantID)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil
	}
	return err
}
