package http

import (
	"net/http"

	"github.com/printcmd/printcmd/subsystem/approval/storage"

	"github.com/micromdm/nanolib/log"
)

// Mux can register HTTP handlers.
// Ostensibly this supports flow router.
type Mux interface {
	// Handle registers the handler for the given pattern.
	Handle(pattern string, handler http.Handler, methods ...string)
}

// HandleAPIv1 registers the various API handlers into mux.
// API endpoint paths are prepended with prefix.
// Authentication or any other layered handlers are not present.
// They are assumed to be layered with mux, possibly at the Handle call.
// The logger is adorned with a "handler" key of the endpoint name.
func HandleAPIv1(prefix string, mux Mux, logger log.Logger, store storage.Store, revokers ...Revoker) {
	mux.Handle(
		prefix+"/approvals",
		ListHandler(store, logger.With("handler", "list approvals")),
		"GET",
	)
	mux.Handle(
		prefix+"/approval/:id",
		ApproveHandler(store, logger.With("handler", "approve tenant")),
		"PUT",
	)
	mux.Handle(
		prefix+"/approval/:id",
		RevokeHandler(store, logger.With("handler", "revoke tenant"), revokers...),
		"DELETE",
	)
}
