// Package http provides HTTP handlers for the credential vault subsystem.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/alexedwards/flow"
	"github.com/printcmd/printcmd/http/api"
	"github.com/printcmd/printcmd/logkeys"
	"github.com/printcmd/printcmd/subsystem/vault/storage"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

var (
	ErrEmptyTenantID = errors.New("empty tenant id")
	ErrNoSecret      = errors.New("credential carries no token or client secret")
)

// Invalidator drops process state derived from a tenant's credential,
// such as a cached API token source. Called whenever the credential
// is stored or deleted so stale state never outlives it.
type Invalidator interface {
	InvalidateTenant(tenantID string)
}

// credentialRequest is the login request body. Either a bearer token
// or an OAuth2 client-credentials pair must be present.
type credentialRequest struct {
	Token        string `json:"token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Username     string `json:"username,omitempty"`
}

// credentialStatus is the credential read response. Secret material is
// never echoed back.
type credentialStatus struct {
	TenantID string    `json:"tenant_id"`
	Username string    `json:"username,omitempty"`
	ClientID string    `json:"client_id,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// StoreCredentialHandler returns an HTTP handler that stores a
// tenant's credential. Invalidators run after a successful store so a
// replaced credential takes effect immediately.
func StoreCredentialHandler(store storage.Store, logger log.Logger, invalidators ...Invalidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		tenantID := flow.Param(r.Context(), "id")
		if tenantID == "" {
			logger.Info(logkeys.Message, "tenant check", logkeys.Error, ErrEmptyTenantID)
			api.JSONError(w, ErrEmptyTenantID, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.TenantID, tenantID)

		var req credentialRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Info(logkeys.Message, "decoding body", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		if req.Token == "" && (req.ClientID == "" || req.ClientSecret == "") {
			logger.Info(logkeys.Message, "credential check", logkeys.Error, ErrNoSecret)
			api.JSONError(w, ErrNoSecret, http.StatusBadRequest)
			return
		}

		err := store.StoreCredential(r.Context(), tenantID, &storage.Credential{
			TenantID:     tenantID,
			Token:        req.Token,
			ClientID:     req.ClientID,
			ClientSecret: req.ClientSecret,
			Username:     req.Username,
			IssuedAt:     time.Now().UTC(),
		})
		if err != nil {
			logger.Info(logkeys.Message, "storing credential", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		for _, inv := range invalidators {
			inv.InvalidateTenant(tenantID)
		}
		logger.Debug(logkeys.Message, "stored credential")
		w.WriteHeader(http.StatusNoContent)
	}
}

// GetCredentialStatusHandler returns an HTTP handler that reports
// whether a tenant holds a credential, without revealing it.
func GetCredentialStatusHandler(store storage.ReadStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		tenantID := flow.Param(r.Context(), "id")
		if tenantID == "" {
			api.JSONError(w, ErrEmptyTenantID, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.TenantID, tenantID)

		cred, err := store.RetrieveCredential(r.Context(), tenantID)
		if errors.Is(err, storage.ErrNotFound) {
			api.JSONError(w, err, http.StatusNotFound)
			return
		} else if err != nil {
			logger.Info(logkeys.Message, "retrieving credential", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		api.JSON(w, &credentialStatus{
			TenantID: tenantID,
			Username: cred.Username,
			ClientID: cred.ClientID,
			IssuedAt: cred.IssuedAt,
		})
	}
}

// DeleteCredentialHandler returns an HTTP handler that removes a
// tenant's credential and invalidates any state derived from it.
func DeleteCredentialHandler(store storage.Store, logger log.Logger, invalidators ...Invalidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		tenantID := flow.Param(r.Context(), "id")
		if tenantID == "" {
			api.JSONError(w, ErrEmptyTenantID, http.StatusBadRequest)
			return
		}
		if err := store.DeleteCredential(r.Context(), tenantID); err != nil {
			logger.Info(logkeys.Message, "deleting credential",
				logkeys.TenantID, tenantID, logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		for _, inv := range invalidators {
			inv.InvalidateTenant(tenantID)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
