// Package diskv implements an on-disk approval storage backend using diskv.
package diskv

import (
	"path/filepath"

	"github.com/printcmd/printcmd/subsystem/approval/storage/kv"

	"github.com/micromdm/nanolib/storage/kv/kvdiskv"
	"github.com/peterbourgon/diskv/v3"
)

// Diskv is an on-disk approval storage backend.
type Diskv struct {
	*kv.KV
}

// New creates a new on-disk approval storage backend at path.
func New(path string) *Diskv {
	return &Diskv{
		KV: kv.New(kvdiskv.New(diskv.New(diskv.Options{
			BasePath:     filepath.Join(path, "approval"),
			Transform:    kvdiskv.FlatTransform,
			CacheSizeMax: 1024 * 1024,
		}))),
	}
}
