// Package http provides HTTP handlers for the notification subsystem.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/alexedwards/flow"
	"github.com/printcmd/printcmd/http/api"
	"github.com/printcmd/printcmd/logkeys"
	"github.com/printcmd/printcmd/subsystem/notify/storage"
	"github.com/printcmd/printcmd/utils/uuid"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

var (
	ErrEmptyTenantID       = errors.New("empty tenant id")
	ErrEmptySubscriptionID = errors.New("empty subscription id")
)

type subscriptionRequest struct {
	PrinterSerial string `json:"printer_serial,omitempty"`
	Milestones    bool   `json:"milestones,omitempty"`
}

func params(r *http.Request) (tenantID, id string, err error) {
	tenantID = flow.Param(r.Context(), "id")
	if tenantID == "" {
		return "", "", ErrEmptyTenantID
	}
	id = flow.Param(r.Context(), "name")
	if id == "" {
		return "", "", ErrEmptySubscriptionID
	}
	return tenantID, id, nil
}

// StoreSubscriptionHandler returns an HTTP handler that creates or
// replaces a named subscription.
func StoreSubscriptionHandler(store storage.Store, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		tenantID, id, err := params(r)
		if err != nil {
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.TenantID, tenantID)

		var req subscriptionRequest
		if r.ContentLength > 0 {
			if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
				logger.Info(logkeys.Message, "decoding body", logkeys.Error, err)
				api.JSONError(w, err, http.StatusBadRequest)
				return
			}
		}

		err = store.StoreSubscription(r.Context(), &storage.Subscription{
			ID:            id,
			TenantID:      tenantID,
			PrinterSerial: req.PrinterSerial,
			Milestones:    req.Milestones,
			CreatedAt:     time.Now().UTC(),
		})
		if err != nil {
			logger.Info(logkeys.Message, "storing subscription", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteSubscriptionHandler returns an HTTP handler that removes a
// named subscription.
func DeleteSubscriptionHandler(store storage.Store, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		tenantID, id, err := params(r)
		if err != nil {
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		if err = store.DeleteSubscription(r.Context(), tenantID, id); err != nil {
			logger.Info(logkeys.Message, "deleting subscription",
				logkeys.TenantID, tenantID, logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// CreateSubscriptionHandler returns an HTTP handler that creates a
// subscription with a generated ID and returns it.
func CreateSubscriptionHandler(store storage.Store, ider uuid.IDer, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		tenantID := flow.Param(r.Context(), "id")
		if tenantID == "" {
			api.JSONError(w, ErrEmptyTenantID, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.TenantID, tenantID)

		var req subscriptionRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				logger.Info(logkeys.Message, "decoding body", logkeys.Error, err)
				api.JSONError(w, err, http.StatusBadRequest)
				return
			}
		}

		sub := &storage.Subscription{
			ID:            ider.ID(),
			TenantID:      tenantID,
			PrinterSerial: req.PrinterSerial,
			Milestones:    req.Milestones,
			CreatedAt:     time.Now().UTC(),
		}
		if err := store.StoreSubscription(r.Context(), sub); err != nil {
			logger.Info(logkeys.Message, "storing subscription", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(sub)
	}
}

// ListSubscriptionsHandler returns an HTTP handler that lists a
// tenant's subscriptions.
func ListSubscriptionsHandler(store storage.ReadStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		tenantID := flow.Param(r.Context(), "id")
		if tenantID == "" {
			api.JSONError(w, ErrEmptyTenantID, http.StatusBadRequest)
			return
		}
		subs, err := store.RetrieveTenantSubscriptions(r.Context(), tenantID)
		if err != nil {
			logger.Info(logkeys.Message, "listing subscriptions",
				logkeys.TenantID, tenantID, logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		if subs == nil {
			subs = []*storage.Subscription{}
		}
		api.JSON(w, subs)
	}
}
