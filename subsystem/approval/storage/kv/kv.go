// Package kv implements an approval storage backend using a key-value store.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/printcmd/printcmd/subsystem/approval/storage"

	"github.com/micromdm/nanolib/storage/kv"
)

const keyPfxTenant = "tenant."

// KV is an approval storage backend using a key-value store.
type KV struct {
	mu sync.RWMutex
	b  kv.KeysPrefixTraversingBucket
}

// New creates a new key-value approval storage backend.
func New(b kv.KeysPrefixTraversingBucket) *KV {
	return &KV{b: b}
}

func (s *KV) get(ctx context.Context, tenantID string) (*storage.Record, error) {
	raw, err := s.b.Get(ctx, keyPfxTenant+tenantID)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("getting approval: %w", err)
	}
	record := new(storage.Record)
	if err = json.Unmarshal(raw, record); err != nil {
		return nil, fmt.Errorf("unmarshal approval record: %w", err)
	}
	return record, nil
}

// IsApproved reports whether the tenant is approved.
func (s *KV) IsApproved(ctx context.Context, tenantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, err := s.get(ctx, tenantID)
	return record != nil, err
}

// IsAdmin reports whether the tenant is an approved admin.
func (s *KV) IsAdmin(ctx context.Context, tenantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, err := s.get(ctx, tenantID)
	return record != nil && record.Admin, err
}

// List returns all approval records.
func (s *KV) List(ctx context.Context) ([]*storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for k := range s.b.KeysPrefix(ctx, keyPfxTenant, nil) {
		ids = append(ids, k[len(keyPfxTenant):])
	}
	var r []*storage.Record
	for _, id := range ids {
		record, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if record != nil {
			r = append(r, record)
		}
	}
	return r, nil
}

// Approve inserts or replaces an approval record.
func (s *KV) Approve(ctx context.Context, record *storage.Record) error {
	if record == nil || record.TenantID == "" {
		return errors.New("invalid approval record")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal approval record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Set(ctx, keyPfxTenant+record.TenantID, raw)
}

// Revoke removes a tenant's approval.
func (s *KV) Revoke(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.b.Delete(ctx, keyPfxTenant+tenantID)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil
	}
	return err
}
