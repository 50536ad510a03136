package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/printcmd/printcmd/engine/storage"
	"github.com/printcmd/printcmd/logkeys"

	"github.com/micromdm/nanolib/log"
)

const DefaultWorkerDuration = time.Minute * 5
const DefaultIdleTimeout = time.Minute * 30

// Worker sweeps idle scenes on an interval. Scenes that have not seen
// a step for the idle timeout are deleted from the device-control
// server and the record store so they stop holding resident slots.
type Worker struct {
	engine  *Engine
	logger  log.Logger
	storage storage.WorkerStorage

	// duration is the interval at which the worker wakes up to sweep.
	duration time.Duration

	// idleTimeout is how long a scene may go without a step before it
	// is expired.
	idleTimeout time.Duration
}

type WorkerOption func(w *Worker)

func WithWorkerLogger(logger log.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithWorkerDuration configures the sweep interval for the worker.
func WithWorkerDuration(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.duration = d
	}
}

// WithIdleTimeout configures how long a scene may sit idle before the
// worker expires it. A non-positive duration disables expiry.
func WithIdleTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.idleTimeout = d
	}
}

func NewWorker(engine *Engine, opts ...WorkerOption) *Worker {
	w := &Worker{
		engine:      engine,
		storage:     engine.storage,
		logger:      log.NopLogger,
		duration:    DefaultWorkerDuration,
		idleTimeout: DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RunOnce performs one idle-scene sweep and logs errors.
func (w *Worker) RunOnce(ctx context.Context) error {
	if w.idleTimeout <= 0 {
		return nil
	}

	scenes, err := w.storage.RetrieveIdleScenes(ctx, time.Now().Add(-w.idleTimeout))
	if err != nil {
		err = fmt.Errorf("retrieving idle scenes: %w", err)
		w.logger.Info(logkeys.Message, "sweeping idle scenes", logkeys.Error, err)
		return err
	}

	for _, scene := range scenes {
		logger := w.logger.With(
			logkeys.TenantID, scene.TenantID,
			logkeys.SceneID, scene.SceneID,
		)

		unlock := w.engine.locks.lock(scene.SceneID)
		err = w.engine.removeScene(ctx, scene.SceneID)
		unlock()

		if err != nil {
			logger.Info(logkeys.Message, "expiring idle scene", logkeys.Error, err)
			continue
		}
		logger.Debug(logkeys.Message, "expired idle scene")
	}
	return nil
}

// Run starts and runs the worker forever on an interval.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug(logkeys.Message, "starting worker", "duration", w.duration)

	ticker := time.NewTicker(w.duration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
