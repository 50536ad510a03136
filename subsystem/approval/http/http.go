// Package http provides HTTP handlers for the tenant approval subsystem.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/alexedwards/flow"
	"github.com/printcmd/printcmd/http/api"
	"github.com/printcmd/printcmd/logkeys"
	"github.com/printcmd/printcmd/subsystem/approval/storage"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

var (
	ErrEmptyTenantID = errors.New("empty tenant id")
	ErrNotApproved   = errors.New("tenant not approved")
)

// Revoker removes per-tenant state when an approval is revoked.
// The vault and notification subsystems hook in here so a revoked
// tenant's credential and subscriptions go away with the approval.
type Revoker interface {
	RevokeTenant(ctx context.Context, tenantID string) error
}

// RevokerFunc adapts a function to a Revoker.
type RevokerFunc func(ctx context.Context, tenantID string) error

func (f RevokerFunc) RevokeTenant(ctx context.Context, tenantID string) error {
	return f(ctx, tenantID)
}

type approveRequest struct {
	Admin      bool   `json:"admin,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty"`
}

// ApproveHandler returns an HTTP handler that approves a tenant.
func ApproveHandler(store storage.Store, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		tenantID := flow.Param(r.Context(), "id")
		if tenantID == "" {
			api.JSONError(w, ErrEmptyTenantID, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.TenantID, tenantID)

		var req approveRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				logger.Info(logkeys.Message, "decoding body", logkeys.Error, err)
				api.JSONError(w, err, http.StatusBadRequest)
				return
			}
		}

		err := store.Approve(r.Context(), &storage.Record{
			TenantID:   tenantID,
			Admin:      req.Admin,
			ApprovedBy: req.ApprovedBy,
			ApprovedAt: time.Now().UTC(),
		})
		if err != nil {
			logger.Info(logkeys.Message, "approving tenant", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		logger.Debug(logkeys.Message, "approved tenant")
		w.WriteHeader(http.StatusNoContent)
	}
}

// RevokeHandler returns an HTTP handler that revokes a tenant's
// approval and cascades through the given revokers.
func RevokeHandler(store storage.Store, logger log.Logger, revokers ...Revoker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		tenantID := flow.Param(r.Context(), "id")
		if tenantID == "" {
			api.JSONError(w, ErrEmptyTenantID, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.TenantID, tenantID)

		if err := store.Revoke(r.Context(), tenantID); err != nil {
			logger.Info(logkeys.Message, "revoking tenant", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		for _, revoker := range revokers {
			if err := revoker.RevokeTenant(r.Context(), tenantID); err != nil {
				logger.Info(logkeys.Message, "cascading revocation", logkeys.Error, err)
				api.JSONError(w, err, 0)
				return
			}
		}
		logger.Debug(logkeys.Message, "revoked tenant")
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListHandler returns an HTTP handler that lists approval records.
func ListHandler(store storage.ReadStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		records, err := store.List(r.Context())
		if err != nil {
			logger.Info(logkeys.Message, "listing approvals", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		if records == nil {
			records = []*storage.Record{}
		}
		api.JSON(w, records)
	}
}

// ApprovedOnlyMiddleware rejects requests whose ":id" URL parameter
// names an unapproved tenant.
func ApprovedOnlyMiddleware(store storage.ReadStore, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := ctxlog.Logger(r.Context(), logger)
			tenantID := flow.Param(r.Context(), "id")
			if tenantID == "" {
				api.JSONError(w, ErrEmptyTenantID, http.StatusBadRequest)
				return
			}
			ok, err := store.IsApproved(r.Context(), tenantID)
			if err != nil {
				logger.Info(logkeys.Message, "checking approval",
					logkeys.TenantID, tenantID, logkeys.Error, err)
				api.JSONError(w, err, 0)
				return
			}
			if !ok {
				api.JSONError(w, ErrNotApproved, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
