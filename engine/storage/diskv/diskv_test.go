package diskv

import (
	"testing"

	"github.com/printcmd/printcmd/engine/storage"
	"github.com/printcmd/printcmd/engine/storage/test"
)

func TestDiskv(t *testing.T) {
	test.TestStorage(t, func() storage.AllStorage { return New(t.TempDir()) })
}
