// Package kv implements a notification storage backend using a key-value store.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/printcmd/printcmd/subsystem/notify/storage"

	"github.com/micromdm/nanolib/storage/kv"
)

const (
	keyPfxSub = "sub."
	keyPfxJob = "job."
)

// KV is a notification storage backend using a key-value store.
type KV struct {
	mu sync.Mutex
	b  kv.KeysPrefixTraversingBucket
}

// New creates a new key-value notification storage backend.
func New(b kv.KeysPrefixTraversingBucket) *KV {
	return &KV{b: b}
}

func subKey(tenantID, id string) string {
	return keyPfxSub + tenantID + "." + id
}

func jobKey(tenantID, jobID string) string {
	return keyPfxJob + tenantID + "." + jobID
}

// RetrieveSubscription returns a tenant's subscription.
func (s *KV) RetrieveSubscription(ctx context.Context, tenantID, id string) (*storage.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.b.Get(ctx, subKey(tenantID, id))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", storage.ErrSubscriptionNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("getting subscription: %w", err)
	}
	sub := new(storage.Subscription)
	if err = json.Unmarshal(raw, sub); err != nil {
		return nil, fmt.Errorf("unmarshal subscription: %w", err)
	}
	return sub, nil
}

// RetrieveTenantSubscriptions returns all of a tenant's subscriptions.
func (s *KV) RetrieveTenantSubscriptions(ctx context.Context, tenantID string) ([]*storage.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r []*storage.Subscription
	for k := range s.b.KeysPrefix(ctx, keyPfxSub+tenantID+".", nil) {
		raw, err := s.b.Get(ctx, k)
		if errors.Is(err, kv.ErrKeyNotFound) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("getting subscription: %w", err)
		}
		sub := new(storage.Subscription)
		if err = json.Unmarshal(raw, sub); err != nil {
			return nil, fmt.Errorf("unmarshal subscription: %w", err)
		}
		r = append(r, sub)
	}
	return r, nil
}

// RetrieveSubscribedTenants returns tenant IDs holding subscriptions.
func (s *KV) RetrieveSubscribedTenants(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var r []string
	for k := range s.b.KeysPrefix(ctx, keyPfxSub, nil) {
		rest := k[len(keyPfxSub):]
		i := strings.IndexByte(rest, '.')
		if i < 1 {
			continue
		}
		tenantID := rest[:i]
		if _, ok := seen[tenantID]; ok {
			continue
		}
		seen[tenantID] = struct{}{}
		r = append(r, tenantID)
	}
	return r, nil
}

// StoreSubscription inserts or replaces a subscription.
func (s *KV) StoreSubscription(ctx context.Context, sub *storage.Subscription) error {
	if sub == nil || sub.TenantID == "" || sub.ID == "" {
		return errors.New("invalid subscription")
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Set(ctx, subKey(sub.TenantID, sub.ID), raw)
}

// DeleteSubscription removes a subscription.
func (s *KV) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.b.Delete(ctx, subKey(tenantID, id))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil
	}
	return err
}

// DeleteTenantSubscriptions removes a tenant's subscriptions and
// snapshots.
func (s *KV) DeleteTenantSubscriptions(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pfx := range []string{keyPfxSub + tenantID + ".", keyPfxJob + tenantID + "."} {
		var keys []string
		for k := range s.b.KeysPrefix(ctx, pfx, nil) {
			keys = append(keys, k)
		}
		if err := kv.DeleteSlice(ctx, s.b, keys); err != nil {
			return fmt.Errorf("deleting tenant keys: %w", err)
		}
	}
	return nil
}

// RetrieveJobSnapshot returns a tenant's job snapshot, nil when unseen.
func (s *KV) RetrieveJobSnapshot(ctx context.Context, tenantID, jobID string) (*storage.JobSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSnapshot(ctx, tenantID, jobID)
}

func (s *KV) getSnapshot(ctx context.Context, tenantID, jobID string) (*storage.JobSnapshot, error) {
	raw, err := s.b.Get(ctx, jobKey(tenantID, jobID))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("getting job snapshot: %w", err)
	}
	snap := new(storage.JobSnapshot)
	if err = json.Unmarshal(raw, snap); err != nil {
		return nil, fmt.Errorf("unmarshal job snapshot: %w", err)
	}
	return snap, nil
}

// AdvanceLastNotified stores the snapshot if its status ranks above
// the recorded one. The compare and set run under one lock.
func (s *KV) AdvanceLastNotified(ctx context.Context, snap *storage.JobSnapshot) (bool, error) {
	if snap == nil || snap.TenantID == "" || snap.JobID == "" {
		return false, errors.New("invalid job snapshot")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, err := s.getSnapshot(ctx, snap.TenantID, snap.JobID)
	if err != nil {
		return false, err
	}
	if prev != nil && storage.StatusRank(snap.LastStatus) <= storage.StatusRank(prev.LastStatus) {
		return false, nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("marshal job snapshot: %w", err)
	}
	if err = s.b.Set(ctx, jobKey(snap.TenantID, snap.JobID), raw); err != nil {
		return false, fmt.Errorf("setting job snapshot: %w", err)
	}
	return true, nil
}

// PruneJobSnapshots deletes snapshots not updated since the cutoff.
func (s *KV) PruneJobSnapshots(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.b.KeysPrefix(ctx, keyPfxJob, nil) {
		keys = append(keys, k)
	}
	var stale []string
	for _, k := range keys {
		raw, err := s.b.Get(ctx, k)
		if errors.Is(err, kv.ErrKeyNotFound) {
			continue
		} else if err != nil {
			return 0, fmt.Errorf("getting job snapshot: %w", err)
		}
		snap := new(storage.JobSnapshot)
		if err = json.Unmarshal(raw, snap); err != nil {
			return 0, fmt.Errorf("unmarshal job snapshot: %w", err)
		}
		if snap.UpdatedAt.Before(cutoff) {
			stale = append(stale, k)
		}
	}
	if err := kv.DeleteSlice(ctx, s.b, stale); err != nil {
		return 0, fmt.Errorf("deleting job snapshots: %w", err)
	}
	return len(stale), nil
}
