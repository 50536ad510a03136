package diskv

import (
	"testing"

	"github.com/printcmd/printcmd/subsystem/notify/storage"
	"github.com/printcmd/printcmd/subsystem/notify/storage/test"
)

func TestDiskv(t *testing.T) {
	test.TestStore(t, func() storage.Store { return New(t.TempDir()) })
}
