package http

import (
	"net/http"

	"github.com/printcmd/printcmd/subsystem/notify/storage"
	"github.com/printcmd/printcmd/utils/uuid"

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
func HandleAPIv1(prefix string, mux Mux, logger log.Logger, store storage.Store, ider uuid.IDer) {
	mux.Handle(
		prefix+"/tenant/:id/subscriptions",
		ListSubscriptionsHandler(store, logger.With("handler", "list subscriptions")),
		"GET",
	)
	mux.Handle(
		prefix+"/tenant/:id/subscriptions",
		CreateSubscriptionHandler(store, ider, logger.With("handler", "create subscription")),
		"POST",
	)
	mux.Handle(
		prefix+"/tenant/:id/subscription/:name",
		StoreSubscriptionHandler(store, logger.With("handler", "store subscription")),
		"PUT",
	)
	mux.Handle(
		prefix+"/tenant/:id/subscription/:name",
		DeleteSubscriptionHandler(store, logger.With("handler", "delete subscription")),
		"DELETE",
	)
}
