// Package inmem implements an in-memory approval storage backend.
package inmem

import (
	"github.com/printcmd/printcmd/subsystem/approval/storage/kv"

	"github.com/micromdm/nanolib/storage/kv/kvmap"
)

// InMem is an in-memory approval storage backend.
type InMem struct {
	*kv.KV
}

// New creates a new in-memory approval storage backend.
func New() *InMem {
	return &InMem{KV: kv.New(kvmap.New())}
}
