// Package storage defines types and interfaces for workflow engine
// scene persistence. Scene records exist so that an in-flight workflow
// can be inspected, resumed, or expired after a crash; this is
// at-least-once bookkeeping, not a durable queue.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrSceneNotFound is returned for unknown scene IDs.
var ErrSceneNotFound = errors.New("scene not found")

// SceneRecord tracks one scene's lifecycle. A scene belongs to exactly
// one tenant for its lifetime.
type SceneRecord struct {
	SceneID  string `json:"scene_id"`
	TenantID string `json:"tenant_id"`
	State    string `json:"state"`

	PrinterType   string  `json:"printer_type"`
	MaterialCode  string  `json:"material_code"`
	LayerHeightMM float64 `json:"layer_height_mm"`

	ModelCount int `json:"model_count"`

	// FailedStep and LastError record the first failing step and the
	// server's error verbatim.
	FailedStep string `json:"failed_step,omitempty"`
	LastError  string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ReadStorage interface {
	// RetrieveScene returns a scene record or ErrSceneNotFound.
	RetrieveScene(ctx context.Context, sceneID string) (*SceneRecord, error)

	// RetrieveTenantScenes returns all scene records for a tenant.
	RetrieveTenantScenes(ctx context.Context, tenantID string) ([]*SceneRecord, error)
}

// Storage persists scene records.
type Storage interface {
	ReadStorage

	// StoreScene inserts or replaces a scene record.
	StoreScene(ctx context.Context, record *SceneRecord) error

	// DeleteScene removes a scene record. Unknown scene IDs are not an
	// error.
	DeleteScene(ctx context.Context, sceneID string) error
}

// WorkerStorage is used by the engine worker's idle sweep.
type WorkerStorage interface {
	// RetrieveIdleScenes returns scene records not updated since
	// idleBefore.
	RetrieveIdleScenes(ctx context.Context, idleBefore time.Time) ([]*SceneRecord, error)
}

// AllStorage is everything an engine storage backend implements.
type AllStorage interface {
	Storage
	WorkerStorage
}
