package diskv

import (
	"testing"

	"github.com/printcmd/printcmd/subsystem/vault/storage"
	"github.com/printcmd/printcmd/subsystem/vault/storage/test"
)

func TestDiskv(t *testing.T) {
	test.TestStore(t, func() storage.Store { return New(t.TempDir()) })
	test.TestStoreConcurrent(t, func() storage.Store { return New(t.TempDir()) })
}
