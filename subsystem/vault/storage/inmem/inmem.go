// Package inmem implements an in-memory vault storage backend.
package inmem

import (
	"github.com/printcmd/printcmd/subsystem/vault/storage/kv"

	"github.com/micromdm/nanolib/storage/kv/kvmap"
)

// InMem is an in-memory vault storage backend.
// Intended for testing; tokens are not encrypted at rest.
type InMem struct {
	*kv.KV
}

// New creates a new in-memory vault storage backend.
func New() *InMem {
	return &InMem{KV: kv.New(kvmap.New())}
}
