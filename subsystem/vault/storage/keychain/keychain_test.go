package keychain

import (
	"testing"

	"github.com/printcmd/printcmd/subsystem/vault/storage"
	"github.com/printcmd/printcmd/subsystem/vault/storage/test"

	"github.com/zalando/go-keyring"
)

func TestKeychain(t *testing.T) {
	keyring.MockInit()
	test.TestStore(t, func() storage.Store { return New(WithService("printcmd-test")) })
}
