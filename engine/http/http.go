// Package http provides HTTP handlers for the workflow engine.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/alexedwards/flow"
	"github.com/printcmd/printcmd/engine"
	enginestorage "github.com/printcmd/printcmd/engine/storage"
	"github.com/printcmd/printcmd/http/api"
	"github.com/printcmd/printcmd/logkeys"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

var (
	ErrEmptyTenantID = errors.New("empty tenant id")
	ErrEmptySceneID  = errors.New("empty scene id")
	ErrNoModel       = errors.New("missing model file")
	ErrNoTarget      = errors.New("missing printer id or group id")
)

// APIEngine is the engine surface the handlers drive.
type APIEngine interface {
	RunPrintWorkflow(ctx context.Context, tenantID string, req engine.WorkflowRequest, progress engine.ProgressFunc) (*engine.WorkflowResult, error)
	Scene(ctx context.Context, tenantID, sceneID string) (*enginestorage.SceneRecord, error)
	TenantScenes(ctx context.Context, tenantID string) ([]*enginestorage.SceneRecord, error)
	DeleteScene(ctx context.Context, tenantID, sceneID string) error
}

// maxModelBytes caps multipart parsing memory, not the model size;
// larger files spill to disk.
const maxModelBytes = 32 << 20

// StartWorkflowHandler returns an HTTP handler that runs the full
// prepare-and-print workflow from a multipart upload. The form carries
// the model file under "model" plus the print settings fields. The
// workflow result is returned whether or not the run succeeded; the
// HTTP status reflects the outcome.
func StartWorkflowHandler(e APIEngine, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		tenantID := flow.Param(r.Context(), "id")
		if tenantID == "" {
			api.JSONError(w, ErrEmptyTenantID, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.TenantID, tenantID)

		if err := r.ParseMultipartForm(maxModelBytes); err != nil {
			logger.Info(logkeys.Message, "parsing form", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		model, header, err := r.FormFile("model")
		if err != nil {
			logger.Info(logkeys.Message, "form file", logkeys.Error, ErrNoModel)
			api.JSONError(w, ErrNoModel, http.StatusBadRequest)
			return
		}
		defer model.Close()

		layerHeight, err := strconv.ParseFloat(r.FormValue("layer_height_mm"), 64)
		if err != nil {
			logger.Info(logkeys.Message, "parsing layer height", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}

		req := engine.WorkflowRequest{
			Settings: engine.SceneSettings{
				PrinterType:   r.FormValue("printer_type"),
				MaterialCode:  r.FormValue("material_code"),
				LayerHeightMM: layerHeight,
			},
			Filename:    header.Filename,
			Model:       model,
			SupportMode: r.FormValue("support_mode"),
			Send: engine.SendOptions{
				PrinterID: r.FormValue("printer_id"),
				GroupID:   r.FormValue("group_id"),
				JobName:   r.FormValue("job_name"),
				Queue:     r.FormValue("queue") == "true",
			},
		}
		if req.Send.PrinterID == "" && req.Send.GroupID == "" {
			api.JSONError(w, ErrNoTarget, http.StatusBadRequest)
			return
		}

		result, err := e.RunPrintWorkflow(r.Context(), tenantID, req, func(step string, completed, total int) {
			logger.Debug(
				logkeys.Message, "workflow progress",
				logkeys.StepName, step,
				logkeys.GenericCount, completed,
			)
		})
		if err != nil {
			logger.Info(logkeys.Message, "running workflow", logkeys.Error, err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			api.JSON(w, result)
			return
		}
		api.JSON(w, result)
	}
}

// GetSceneHandler returns an HTTP handler that reports a scene record.
func GetSceneHandler(e APIEngine, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		tenantID := flow.Param(r.Context(), "id")
		sceneID := flow.Param(r.Context(), "scene")
		if tenantID == "" || sceneID == "" {
			api.JSONError(w, ErrEmptySceneID, http.StatusBadRequest)
			return
		}
		record, err := e.Scene(r.Context(), tenantID, sceneID)
		if errors.Is(err, enginestorage.ErrSceneNotFound) || errors.Is(err, engine.ErrWrongTenant) {
			api.JSONError(w, enginestorage.ErrSceneNotFound, http.StatusNotFound)
			return
		} else if err != nil {
			logger.Info(logkeys.Message, "retrieving scene",
				logkeys.TenantID, tenantID, logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		api.JSON(w, record)
	}
}

// ListScenesHandler returns an HTTP handler that lists a tenant's
// scene records.
func ListScenesHandler(e APIEngine, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		tenantID := flow.Param(r.Context(), "id")
		if tenantID == "" {
			api.JSONError(w, ErrEmptyTenantID, http.StatusBadRequest)
			return
		}
		records, err := e.TenantScenes(r.Context(), tenantID)
		if err != nil {
			logger.Info(logkeys.Message, "listing scenes",
				logkeys.TenantID, tenantID, logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		if records == nil {
			records = []*enginestorage.SceneRecord{}
		}
		api.JSON(w, records)
	}
}

// DeleteSceneHandler returns an HTTP handler that deletes a scene.
func DeleteSceneHandler(e APIEngine, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		tenantID := flow.Param(r.Context(), "id")
		sceneID := flow.Param(r.Context(), "scene")
		if tenantID == "" || sceneID == "" {
			api.JSONError(w, ErrEmptySceneID, http.StatusBadRequest)
			return
		}
		err := e.DeleteScene(r.Context(), tenantID, sceneID)
		if errors.Is(err, enginestorage.ErrSceneNotFound) || errors.Is(err, engine.ErrWrongTenant) {
			api.JSONError(w, enginestorage.ErrSceneNotFound, http.StatusNotFound)
			return
		} else if err != nil {
			logger.Info(logkeys.Message, "deleting scene",
				logkeys.TenantID, tenantID, logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
