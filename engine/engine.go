// Package engine implements the device workflow engine: a per-scene
// state machine that drives the device-control API through the print
// preparation lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/printcmd/printcmd/device"
	"github.com/printcmd/printcmd/engine/storage"
	"github.com/printcmd/printcmd/logkeys"
	"github.com/printcmd/printcmd/preset"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// Scene lifecycle states.
const (
	StateEmpty         = "EMPTY"
	StateModelImported = "MODEL_IMPORTED"
	StateOriented      = "ORIENTED"
	StateSupported     = "SUPPORTED"
	StateLaidOut       = "LAID_OUT"
	StateSliced        = "SLICED"
	StateSent          = "SENT" // terminal
	StateFailed        = "FAILED"
)

// Step names, used in errors, progress reports, and scene records.
const (
	StepCreate  = "create"
	StepImport  = "import"
	StepOrient  = "orient"
	StepSupport = "support"
	StepLayout  = "layout"
	StepSlice   = "slice"
	StepSend    = "send"
)

// DefaultSceneCap bounds resident scenes, respecting the
// device-control server's documented scene-cache capacity.
const DefaultSceneCap = 100

var (
	ErrWrongTenant = errors.New("scene belongs to another tenant")
	ErrSceneCap    = errors.New("resident scene limit reached")

	// ErrInvalidTransition indicates a step was requested from a state
	// that does not allow it.
	ErrInvalidTransition = errors.New("invalid scene state for step")
)

// StepError tags a failure with the producing step.
type StepError struct {
	Step    string
	SceneID string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s on scene %s: %v", e.Step, e.SceneID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// DeviceClient is the device-control API surface the engine drives.
type DeviceClient interface {
	CreateScene(ctx context.Context, settings device.SceneSettings) (string, error)
	DeleteScene(ctx context.Context, sceneID string) error
	ImportModel(ctx context.Context, sceneID, filename string, model io.Reader, opts device.ImportOptions) error
	AutoOrient(ctx context.Context, sceneID string) (string, error)
	AutoSupport(ctx context.Context, sceneID, mode string) (string, error)
	AutoLayout(ctx context.Context, sceneID string) (string, error)
	Slice(ctx context.Context, sceneID string) (string, error)
	PrintScene(ctx context.Context, sceneID, printerID, jobName string) error
	RemotePrintScene(ctx context.Context, sceneID, groupID, jobName string, queue bool) error
	WaitOperation(ctx context.Context, opID string) (*device.Operation, error)
}

// Engine drives scenes through the print preparation lifecycle.
type Engine struct {
	client  DeviceClient
	storage storage.AllStorage
	logger  log.Logger
	locks   *sceneLocks

	// slots bounds resident scenes; a slot is held from scene creation
	// until deletion or expiry.
	slots chan struct{}
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSceneCap bounds the number of resident scenes.
func WithSceneCap(n int) Option {
	return func(e *Engine) {
		e.slots = make(chan struct{}, n)
	}
}

// New creates a new workflow engine.
func New(client DeviceClient, store storage.AllStorage, opts ...Option) *Engine {
	e := &Engine{
		client:  client,
		storage: store,
		logger:  log.NopLogger,
		locks:   newSceneLocks(),
		slots:   make(chan struct{}, DefaultSceneCap),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SceneSettings are the validated print settings for a new scene.
type SceneSettings struct {
	PrinterType   string  `json:"printer_type"`
	MaterialCode  string  `json:"material_code"`
	LayerHeightMM float64 `json:"layer_height_mm"`
}

// CreateScene validates settings, creates a scene on the device-control
// server, and records it. Settings are rejected before any network
// call when the printer or material is unknown.
func (e *Engine) CreateScene(ctx context.Context, tenantID string, settings SceneSettings) (string, error) {
	if err := preset.ValidatePrintSettings(settings.PrinterType, settings.MaterialCode, settings.LayerHeightMM); err != nil {
		return "", &StepError{Step: StepCreate, Err: err}
	}

	select {
	case e.slots <- struct{}{}:
	default:
		return "", &StepError{Step: StepCreate, Err: ErrSceneCap}
	}

	sceneID, err := e.client.CreateScene(ctx, device.SceneSettings{
		PrinterType:   settings.PrinterType,
		MaterialCode:  settings.MaterialCode,
		LayerHeightMM: settings.LayerHeightMM,
	})
	if err != nil {
		<-e.slots
		return "", &StepError{Step: StepCreate, Err: err}
	}

	now := time.Now().UTC()
	record := &storage.SceneRecord{
		SceneID:       sceneID,
		TenantID:      tenantID,
		State:         StateEmpty,
		PrinterType:   settings.PrinterType,
		MaterialCode:  settings.MaterialCode,
		LayerHeightMM: settings.LayerHeightMM,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err = e.storage.StoreScene(ctx, record); err != nil {
		<-e.slots
		return "", fmt.Errorf("recording scene %s: %w", sceneID, err)
	}

	ctxlog.Logger(ctx, e.logger).Debug(
		logkeys.Message, "created scene",
		logkeys.TenantID, tenantID,
		logkeys.SceneID, sceneID,
	)
	return sceneID, nil
}

// Scene returns the tenant's scene record.
func (e *Engine) Scene(ctx context.Context, tenantID, sceneID string) (*storage.SceneRecord, error) {
	record, err := e.storage.RetrieveScene(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	if record.TenantID != tenantID {
		return nil, ErrWrongTenant
	}
	return record, nil
}

// TenantScenes returns all of a tenant's scene records.
func (e *Engine) TenantScenes(ctx context.Context, tenantID string) ([]*storage.SceneRecord, error) {
	return e.storage.RetrieveTenantScenes(ctx, tenantID)
}

// DeleteScene removes the scene from the server and the record store
// and releases its resident slot.
func (e *Engine) DeleteScene(ctx context.Context, tenantID, sceneID string) error {
	unlock := e.locks.lock(sceneID)
	defer unlock()

	if _, err := e.Scene(ctx, tenantID, sceneID); err != nil {
		return err
	}
	return e.removeScene(ctx, sceneID)
}

// removeScene deletes server and record state. Callers hold the scene
// lock.
func (e *Engine) removeScene(ctx context.Context, sceneID string) error {
	var apiErr *device.APIError
	if err := e.client.DeleteScene(ctx, sceneID); err != nil && !(errors.As(err, &apiErr) && apiErr.StatusCode == 404) {
		return fmt.Errorf("deleting server scene %s: %w", sceneID, err)
	}
	if err := e.storage.DeleteScene(ctx, sceneID); err != nil {
		return fmt.Errorf("deleting scene record %s: %w", sceneID, err)
	}
	select {
	case <-e.slots:
	default:
	}
	return nil
}

// stepFunc performs one step's device interaction for a scene.
type stepFunc func(ctx context.Context) error

// step runs one state machine transition under the scene's lock: it
// verifies tenant and state, runs the device interaction, and advances
// or fails the scene. The lock is held for the duration of the step
// and released on all exit paths.
func (e *Engine) step(ctx context.Context, tenantID, sceneID, name string, from []string, to string, fn stepFunc) error {
	unlock := e.locks.lock(sceneID)
	defer unlock()

	record, err := e.Scene(ctx, tenantID, sceneID)
	if err != nil {
		return &StepError{Step: name, SceneID: sceneID, Err: err}
	}

	allowed := false
	for _, s := range from {
		if record.State == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return &StepError{Step: name, SceneID: sceneID, Err: fmt.Errorf("%w: %s", ErrInvalidTransition, record.State)}
	}

	logger := ctxlog.Logger(ctx, e.logger).With(
		logkeys.TenantID, tenantID,
		logkeys.SceneID, sceneID,
		logkeys.StepName, name,
	)

	if err = fn(ctx); err != nil {
		record.State = StateFailed
		record.FailedStep = name
		record.LastError = err.Error()
		record.UpdatedAt = time.Now().UTC()
		if serr := e.storage.StoreScene(ctx, record); serr != nil {
			logger.Info(logkeys.Message, "recording failed scene", logkeys.Error, serr)
		}
		logger.Info(logkeys.Message, "step failed", logkeys.Error, err)
		return &StepError{Step: name, SceneID: sceneID, Err: err}
	}

	if name == StepImport {
		record.ModelCount++
	}
	record.State = to
	record.UpdatedAt = time.Now().UTC()
	if err = e.storage.StoreScene(ctx, record); err != nil {
		return fmt.Errorf("recording scene %s after %s: %w", sceneID, name, err)
	}
	logger.Debug(logkeys.Message, "step completed", logkeys.SceneState, to)
	return nil
}

// transformStep submits an asynchronous transform and polls its
// operation to a terminal status. Polling deliberately survives caller
// cancellation: an operation already accepted by the server cannot be
// retracted, and scene state must stay consistent with the server.
func (e *Engine) transformStep(submit func(ctx context.Context) (string, error)) stepFunc {
	return func(ctx context.Context) error {
		opID, err := submit(ctx)
		if err != nil {
			return err
		}
		_, err = e.client.WaitOperation(context.WithoutCancel(ctx), opID)
		return err
	}
}

// ImportOptions control a model import step.
type ImportOptions struct {
	Filename   string
	AutoOrient bool
	Repair     bool
}

// Import adds a model to the scene. Importing the same model again
// adds a new model instance; callers own duplicate-submission guards.
func (e *Engine) Import(ctx context.Context, tenantID, sceneID string, model io.Reader, opts ImportOptions) error {
	return e.step(ctx, tenantID, sceneID, StepImport,
		[]string{StateEmpty, StateModelImported}, StateModelImported,
		func(ctx context.Context) error {
			return e.client.ImportModel(ctx, sceneID, opts.Filename, model, device.ImportOptions{
				AutoOrient: opts.AutoOrient,
				Repair:     opts.Repair,
			})
		})
}

// Orient auto-orients the scene's models.
func (e *Engine) Orient(ctx context.Context, tenantID, sceneID string) error {
	return e.step(ctx, tenantID, sceneID, StepOrient,
		[]string{StateModelImported}, StateOriented,
		e.transformStep(func(ctx context.Context) (string, error) {
			return e.client.AutoOrient(ctx, sceneID)
		}))
}

// Support generates supports for the scene's models.
func (e *Engine) Support(ctx context.Context, tenantID, sceneID, mode string) error {
	return e.step(ctx, tenantID, sceneID, StepSupport,
		[]string{StateOriented}, StateSupported,
		e.transformStep(func(ctx context.Context) (string, error) {
			return e.client.AutoSupport(ctx, sceneID, mode)
		}))
}

// Layout lays the scene's models out on the build plate.
func (e *Engine) Layout(ctx context.Context, tenantID, sceneID string) error {
	return e.step(ctx, tenantID, sceneID, StepLayout,
		[]string{StateSupported}, StateLaidOut,
		e.transformStep(func(ctx context.Context) (string, error) {
			return e.client.AutoLayout(ctx, sceneID)
		}))
}

// Slice slices the scene for printing.
func (e *Engine) Slice(ctx context.Context, tenantID, sceneID string) error {
	return e.step(ctx, tenantID, sceneID, StepSlice,
		[]string{StateLaidOut}, StateSliced,
		e.transformStep(func(ctx context.Context) (string, error) {
			return e.client.Slice(ctx, sceneID)
		}))
}

// SendOptions address a print dispatch.
type SendOptions struct {
	PrinterID string
	GroupID   string
	JobName   string
	Queue     bool
}

// Send dispatches the sliced scene to a printer or a fleet group queue.
func (e *Engine) Send(ctx context.Context, tenantID, sceneID string, opts SendOptions) error {
	return e.step(ctx, tenantID, sceneID, StepSend,
		[]string{StateSliced}, StateSent,
		func(ctx context.Context) error {
			if opts.GroupID != "" {
				return e.client.RemotePrintScene(ctx, sceneID, opts.GroupID, opts.JobName, opts.Queue)
			}
			return e.client.PrintScene(ctx, sceneID, opts.PrinterID, opts.JobName)
		})
}
