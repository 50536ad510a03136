package inmem

import (
	"testing"

	"github.com/printcmd/printcmd/subsystem/notify/storage"
	"github.com/printcmd/printcmd/subsystem/notify/storage/test"
)

func TestInMem(t *testing.T) {
	test.TestStore(t, func() storage.Store { return New() })
}
