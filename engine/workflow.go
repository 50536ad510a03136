package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/printcmd/printcmd/logkeys"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// DefaultSupportMode is the support-generation strategy used when a
// workflow request does not name one.
const DefaultSupportMode = "auto-v2"

// WorkflowRequest describes a full prepare-and-print run.
type WorkflowRequest struct {
	Settings    SceneSettings
	Filename    string
	Model       io.Reader
	SupportMode string
	Send        SendOptions

	// SkipRepair disables mesh repair during import.
	SkipRepair bool
}

// WorkflowResult reports how far a workflow run got.
type WorkflowResult struct {
	Success        bool     `json:"success"`
	SceneID        string   `json:"scene_id,omitempty"`
	Message        string   `json:"message"`
	CompletedSteps []string `json:"completed_steps"`
	FailedStep     string   `json:"failed_step,omitempty"`
	Cancelled      bool     `json:"cancelled,omitempty"`
}

// ProgressFunc is called after each completed workflow step. May be nil.
type ProgressFunc func(step string, completed, total int)

// workflowSteps is the fixed step order of the composite workflow,
// after scene creation.
var workflowSteps = []string{StepImport, StepOrient, StepSupport, StepLayout, StepSlice, StepSend}

// RunPrintWorkflow runs the full chain: create scene, import, orient,
// support, layout, slice, send. It halts at the first failing step and
// reports which steps completed. A cancelled context stops the chain
// between steps; the step in flight is allowed to drain so scene state
// stays consistent with the server.
func (e *Engine) RunPrintWorkflow(ctx context.Context, tenantID string, req WorkflowRequest, progress ProgressFunc) (*WorkflowResult, error) {
	result := &WorkflowResult{CompletedSteps: []string{}}
	total := len(workflowSteps)

	sceneID, err := e.CreateScene(ctx, tenantID, req.Settings)
	if err != nil {
		result.FailedStep = StepCreate
		result.Message = fmt.Sprintf("workflow failed at %s: %v", StepCreate, err)
		return result, err
	}
	result.SceneID = sceneID

	mode := req.SupportMode
	if mode == "" {
		mode = DefaultSupportMode
	}

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{StepImport, func(ctx context.Context) error {
			return e.Import(ctx, tenantID, sceneID, req.Model, ImportOptions{
				Filename: req.Filename,
				Repair:   !req.SkipRepair,
			})
		}},
		{StepOrient, func(ctx context.Context) error { return e.Orient(ctx, tenantID, sceneID) }},
		{StepSupport, func(ctx context.Context) error { return e.Support(ctx, tenantID, sceneID, mode) }},
		{StepLayout, func(ctx context.Context) error { return e.Layout(ctx, tenantID, sceneID) }},
		{StepSlice, func(ctx context.Context) error { return e.Slice(ctx, tenantID, sceneID) }},
		{StepSend, func(ctx context.Context) error { return e.Send(ctx, tenantID, sceneID, req.Send) }},
	}

	for i, step := range steps {
		if err = ctx.Err(); err != nil {
			result.Cancelled = true
			result.Message = fmt.Sprintf("workflow cancelled after %d of %d steps", i, total)
			return result, err
		}
		if err = step.run(ctx); err != nil {
			if errors.Is(err, ctx.Err()) && ctx.Err() != nil {
				result.Cancelled = true
				result.Message = fmt.Sprintf("workflow cancelled during %s", step.name)
				return result, err
			}
			result.FailedStep = step.name
			result.Message = fmt.Sprintf("workflow failed at %s: %v", step.name, err)
			return result, err
		}
		result.CompletedSteps = append(result.CompletedSteps, step.name)
		if progress != nil {
			progress(step.name, i+1, total)
		}
	}

	result.Success = true
	result.Message = fmt.Sprintf("scene %s sent to print", sceneID)
	ctxlog.Logger(ctx, e.logger).Info(
		logkeys.Message, "workflow completed",
		logkeys.TenantID, tenantID,
		logkeys.SceneID, sceneID,
	)
	return result, nil
}
