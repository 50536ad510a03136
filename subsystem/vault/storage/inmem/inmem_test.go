package inmem

import (
	"testing"

	"github.com/printcmd/printcmd/subsystem/vault/storage"
	"github.com/printcmd/printcmd/subsystem/vault/storage/test"
)

func TestInMem(t *testing.T) {
	test.TestStore(t, func() storage.Store { return New() })
}

func TestInMemConcurrent(t *testing.T) {
	test.TestStoreConcurrent(t, func() storage.Store { return New() })
}
