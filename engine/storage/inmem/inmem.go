// Package inmem implements an in-memory engine storage backend.
package inmem

import (
	"github.com/printcmd/printcmd/engine/storage/kv"

	"github.com/micromdm/nanolib/storage/kv/kvmap"
)

// InMem is an in-memory engine storage backend.
type InMem struct {
	*kv.KV
}

// New creates a new in-memory engine storage backend.
func New() *InMem {
	return &InMem{KV: kv.New(kvmap.New())}
}
