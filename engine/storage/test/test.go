// Package test implements a storage test suite for engine backends.
package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/printcmd/printcmd/engine/storage"
)

// TestStorage runs an engine storage backend through the scene record
// lifecycle.
func TestStorage(t *testing.T, newStorage func() storage.AllStorage) {
	s := newStorage()
	ctx := context.Background()

	_, err := s.RetrieveScene(ctx, "missing")
	if !errors.Is(err, storage.ErrSceneNotFound) {
		t.Errorf("expected ErrSceneNotFound, got: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	record := &storage.SceneRecord{
		SceneID:       "scene-1",
		TenantID:      "tenant-a",
		State:         "EMPTY",
		PrinterType:   "Form 4",
		MaterialCode:  "FLGPBK05",
		LayerHeightMM: 0.05,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err = s.StoreScene(ctx, record); err != nil {
		t.Fatal(err)
	}

	got, err := s.RetrieveScene(ctx, "scene-1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := got.State, "EMPTY"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := got.TenantID, "tenant-a"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	// replace with updated state
	record.State = "MODEL_IMPORTED"
	record.ModelCount = 1
	record.UpdatedAt = now.Add(time.Minute)
	if err = s.StoreScene(ctx, record); err != nil {
		t.Fatal(err)
	}
	got, err = s.RetrieveScene(ctx, "scene-1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := got.State, "MODEL_IMPORTED"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	// tenant listing
	other := &storage.SceneRecord{SceneID: "scene-2", TenantID: "tenant-b", State: "EMPTY", CreatedAt: now, UpdatedAt: now}
	if err = s.StoreScene(ctx, other); err != nil {
		t.Fatal(err)
	}
	scenes, err := s.RetrieveTenantScenes(ctx, "tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(scenes), 1; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := scenes[0].SceneID, "scene-1"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	// idle sweep picks up only stale records
	idle, err := s.RetrieveIdleScenes(ctx, now.Add(30*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(idle), 1; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := idle[0].SceneID, "scene-2"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	if err = s.DeleteScene(ctx, "scene-1"); err != nil {
		t.Fatal(err)
	}
	_, err = s.RetrieveScene(ctx, "scene-1")
	if !errors.Is(err, storage.ErrSceneNotFound) {
		t.Errorf("expected ErrSceneNotFound after delete, got: %v", err)
	}

	// deleting again is not an error
	if err = s.DeleteScene(ctx, "scene-1"); err != nil {
		t.Error(err)
	}
}
