// Package diskv implements an on-disk engine storage backend using diskv.
package diskv

import (
	"path/filepath"

	"github.com/printcmd/printcmd/engine/storage/kv"

	"github.com/micromdm/nanolib/storage/kv/kvdiskv"
	"github.com/peterbourgon/diskv/v3"
)

// Diskv is an on-disk engine storage backend.
type Diskv struct {
	*kv.KV
}

// New creates a new on-disk engine storage backend at path.
func New(path string) *Diskv {
	return &Diskv{
		KV: kv.New(kvdiskv.New(diskv.New(diskv.Options{
			BasePath:     filepath.Join(path, "engine"),
			Transform:    kvdiskv.FlatTransform,
			CacheSizeMax: 1024 * 1024,
		}))),
	}
}
