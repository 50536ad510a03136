package mysql

import (
	"os"
	"testing"

	"github.com/printcmd/printcmd/subsystem/notify/storage"
	"github.com/printcmd/printcmd/subsystem/notify/storage/test"

	_ "github.com/go-sql-driver/mysql"
)

func TestMySQLStorage(t *testing.T) {
	testDSN := os.Getenv("PRINTCMD_MYSQL_STORAGE_TEST_DSN")
	if testDSN == "" {
		t.Skip("PRINTCMD_MYSQL_STORAGE_TEST_DSN not set")
	}

	s, err := New(WithDSN(testDSN))
	if err != nil {
		t.Fatal(err)
	}

	test.TestStore(t, func() storage.Store {
		for _, table := range []string{"subscriptions", "job_snapshots"} {
			if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
				t.Fatal(err)
			}
		}
		return s
	})
}
