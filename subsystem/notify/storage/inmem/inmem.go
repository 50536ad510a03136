// Package inmem implements an in-memory notification storage backend.
package inmem

import (
	"github.com/printcmd/printcmd/subsystem/notify/storage/kv"

	"github.com/micromdm/nanolib/storage/kv/kvmap"
)

// InMem is an in-memory notification storage backend.
type InMem struct {
	*kv.KV
}

// New creates a new in-memory notification storage backend.
func New() *InMem {
	return &InMem{KV: kv.New(kvmap.New())}
}
