package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/printcmd/printcmd/logkeys"
)

// Operation statuses reported by the device-control API.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

const (
	// DefaultPollInterval is the starting operation poll interval.
	DefaultPollInterval = time.Second

	// DefaultPollMax caps the poll interval backoff.
	DefaultPollMax = 5 * time.Second

	// DefaultPollCeiling is the hard ceiling per operation. Polling
	// stops once an operation has been outstanding this long.
	DefaultPollCeiling = 10 * time.Minute
)

// ErrOperationTimeout indicates an operation did not reach a terminal
// status before the poll ceiling elapsed.
var ErrOperationTimeout = errors.New("operation timed out")

// Operation is a handle to an asynchronous long-running server-side
// task. Operation IDs are unique within a server's cache; terminal
// operations are garbage-collected server side.
type Operation struct {
	ID              string          `json:"operationId"`
	Status          string          `json:"status"`
	ProgressPercent float64         `json:"progress_percent"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Terminal reports whether the operation reached a final status.
func (op *Operation) Terminal() bool {
	return op.Status == StatusCompleted || op.Status == StatusFailed
}

// OperationError is a FAILED operation's error, recorded verbatim.
type OperationError struct {
	OperationID string
	Detail      string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s failed: %s", e.OperationID, e.Detail)
}

// GetOperation fetches the current status of an operation.
func (c *Client) GetOperation(ctx context.Context, opID string) (*Operation, error) {
	op := new(Operation)
	if err := c.doJSON(ctx, "GET", "/operations/"+url.PathEscape(opID)+"/", nil, op); err != nil {
		return nil, err
	}
	if op.ID == "" {
		op.ID = opID
	}
	return op, nil
}

// WaitOperation polls an operation until it completes, fails, or the
// poll ceiling elapses. The poll interval starts at the configured
// interval and doubles up to the configured cap between attempts.
//
// A COMPLETED operation is returned with a nil error. A FAILED
// operation returns an *OperationError carrying the server's error
// verbatim. If the ceiling elapses first, polling stops and
// ErrOperationTimeout is returned.
func (c *Client) WaitOperation(ctx context.Context, opID string) (*Operation, error) {
	deadline := time.Now().Add(c.pollCeiling)
	interval := c.pollInterval

	for {
		op, err := c.GetOperation(ctx, opID)
		if err != nil {
			return nil, fmt.Errorf("polling operation %s: %w", opID, err)
		}

		switch op.Status {
		case StatusCompleted:
			return op, nil
		case StatusFailed:
			return op, &OperationError{OperationID: opID, Detail: op.Error}
		}

		c.logger.Debug(
			logkeys.Message, "operation in progress",
			logkeys.OperationID, opID,
			"progress_percent", op.ProgressPercent,
		)

		if time.Now().After(deadline) {
			return op, fmt.Errorf("%w: operation %s after %v", ErrOperationTimeout, opID, c.pollCeiling)
		}

		select {
		case <-ctx.Done():
			return op, ctx.Err()
		case <-time.After(interval):
		}

		interval *= 2
		if interval > c.pollMax {
			interval = c.pollMax
		}
	}
}
