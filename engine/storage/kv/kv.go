// Package kv implements an engine storage backend using a key-value store.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/printcmd/printcmd/engine/storage"

	"github.com/micromdm/nanolib/storage/kv"
)

const keyPfxScene = "scene."

// KV is an engine storage backend using a key-value store.
type KV struct {
	mu sync.RWMutex
	b  kv.KeysPrefixTraversingBucket
}

// New creates a new key-value engine storage backend.
func New(b kv.KeysPrefixTraversingBucket) *KV {
	return &KV{b: b}
}

// RetrieveScene returns a scene record from the key-value store.
func (s *KV) RetrieveScene(ctx context.Context, sceneID string) (*storage.SceneRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getScene(ctx, sceneID)
}

func (s *KV) getScene(ctx context.Context, sceneID string) (*storage.SceneRecord, error) {
	raw, err := s.b.Get(ctx, keyPfxScene+sceneID)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", storage.ErrSceneNotFound, sceneID)
	} else if err != nil {
		return nil, fmt.Errorf("getting scene: %w", err)
	}
	record := new(storage.SceneRecord)
	if err = json.Unmarshal(raw, record); err != nil {
		return nil, fmt.Errorf("unmarshal scene record: %w", err)
	}
	return record, nil
}

// RetrieveTenantScenes returns the tenant's scene records.
func (s *KV) RetrieveTenantScenes(ctx context.Context, tenantID string) ([]*storage.SceneRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var r []*storage.SceneRecord
	err := s.eachScene(ctx, func(record *storage.SceneRecord) {
		if record.TenantID == tenantID {
			r = append(r, record)
		}
	})
	return r, err
}

// StoreScene inserts or replaces a scene record.
func (s *KV) StoreScene(ctx context.Context, record *storage.SceneRecord) error {
	if record == nil || record.SceneID == "" {
		return errors.New("invalid scene record")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal scene record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.b.Set(ctx, keyPfxScene+record.SceneID, raw); err != nil {
		return fmt.Errorf("setting scene record: %w", err)
	}
	return nil
}

// DeleteScene removes a scene record.
func (s *KV) DeleteScene(ctx context.Context, sceneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.b.Delete(ctx, keyPfxScene+sceneID)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil
	}
	return err
}

// RetrieveIdleScenes returns scene records not updated since idleBefore.
func (s *KV) RetrieveIdleScenes(ctx context.Context, idleBefore time.Time) ([]*storage.SceneRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var r []*storage.SceneRecord
	err := s.eachScene(ctx, func(record *storage.SceneRecord) {
		if record.UpdatedAt.Before(idleBefore) {
			r = append(r, record)
		}
	})
	return r, err
}

func (s *KV) eachScene(ctx context.Context, f func(*storage.SceneRecord)) error {
	var ids []string
	for k := range s.b.KeysPrefix(ctx, keyPfxScene, nil) {
		ids = append(ids, k[len(keyPfxScene):])
	}
	for _, id := range ids {
		record, err := s.getScene(ctx, id)
		if errors.Is(err, storage.ErrSceneNotFound) {
			continue
		} else if err != nil {
			return err
		}
		f(record)
	}
	return nil
}
