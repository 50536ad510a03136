package main

import (
	"fmt"

	storageeng "github.com/printcmd/printcmd/engine/storage"
	storageengdiskv "github.com/printcmd/printcmd/engine/storage/diskv"
	storageenginmem "github.com/printcmd/printcmd/engine/storage/inmem"
	storageapproval "github.com/printcmd/printcmd/subsystem/approval/storage"
	storageapprovaldiskv "github.com/printcmd/printcmd/subsystem/approval/storage/diskv"
	storageapprovalinmem "github.com/printcmd/printcmd/subsystem/approval/storage/inmem"
	storagenotify "github.com/printcmd/printcmd/subsystem/notify/storage"
	storagenotifydiskv "github.com/printcmd/printcmd/subsystem/notify/storage/diskv"
	storagenotifyinmem "github.com/printcmd/printcmd/subsystem/notify/storage/inmem"
	storagenotifymysql "github.com/printcmd/printcmd/subsystem/notify/storage/mysql"
	storagenotifysqlite "github.com/printcmd/printcmd/subsystem/notify/storage/sqlite"
	storagevault "github.com/printcmd/printcmd/subsystem/vault/storage"
	storagevaultdiskv "github.com/printcmd/printcmd/subsystem/vault/storage/diskv"
	storagevaultinmem "github.com/printcmd/printcmd/subsystem/vault/storage/inmem"
	storagevaultkeychain "github.com/printcmd/printcmd/subsystem/vault/storage/keychain"

	_ "github.com/go-sql-driver/mysql"
)

type storageConfig struct {
	engine   storageeng.AllStorage
	vault    storagevault.Store
	notify   storagenotify.Store
	approval storageapproval.Store
}

// parseStorage builds the storage backends from the -storage flag.
// The notify subsystem has SQL backends; the others use diskv for
// "file" and in-memory stores otherwise. The vault can be pointed at
// the OS keychain independently via useKeychain.
func parseStorage(name, dsn string, useKeychain bool) (*storageConfig, error) {
	cfg := new(storageConfig)
	switch name {
	case "inmem":
		cfg.engine = storageenginmem.New()
		cfg.vault = storagevaultinmem.New()
		cfg.notify = storagenotifyinmem.New()
		cfg.approval = storageapprovalinmem.New()
	case "file", "diskv":
		if dsn == "" {
			dsn = "db"
		}
		cfg.engine = storageengdiskv.New(dsn)
		cfg.vault = storagevaultdiskv.New(dsn)
		cfg.notify = storagenotifydiskv.New(dsn)
		cfg.approval = storageapprovaldiskv.New(dsn)
	case "sqlite":
		if dsn == "" {
			dsn = "db/printcmd.db"
		}
		notify, err := storagenotifysqlite.New(dsn)
		if err != nil {
			return nil, fmt.Errorf("creating notify sqlite storage: %w", err)
		}
		cfg.engine = storageenginmem.New()
		cfg.vault = storagevaultinmem.New()
		cfg.notify = notify
		cfg.approval = storageapprovalinmem.New()
	case "mysql":
		notify, err := storagenotifymysql.New(storagenotifymysql.WithDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("creating notify mysql storage: %w", err)
		}
		cfg.engine = storageenginmem.New()
		cfg.vault = storagevaultinmem.New()
		cfg.notify = notify
		cfg.approval = storageapprovalinmem.New()
	default:
		return nil, fmt.Errorf("unknown storage: %s", name)
	}
	if useKeychain {
		cfg.vault = storagevaultkeychain.New()
	}
	return cfg, nil
}
