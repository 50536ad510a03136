// Package diskv implements an on-disk vault storage backend using diskv.
package diskv

import (
	"path/filepath"

	"github.com/printcmd/printcmd/subsystem/vault/storage/kv"

	"github.com/micromdm/nanolib/storage/kv/kvdiskv"
	"github.com/peterbourgon/diskv/v3"
)

// Diskv is an on-disk vault storage backend.
// Credentials are stored unencrypted; restrict the directory to the
// service user, or use the keychain backend where one is available.
type Diskv struct {
	*kv.KV
}

// New creates a new on-disk vault storage backend at path.
func New(path string) *Diskv {
	return &Diskv{
		KV: kv.New(kvdiskv.New(diskv.New(diskv.Options{
			BasePath:     filepath.Join(path, "vault"),
			Transform:    kvdiskv.FlatTransform,
			CacheSizeMax: 1024 * 1024,
		}))),
	}
}
