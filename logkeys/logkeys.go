// Package logkeys defines some static logging keys for consistent structured logging output.
// Mostly exists as a mental aid when drafting log messages.
package logkeys

const (
	Message = "msg"
	Error   = "err"

	// an isolated end user with its own credential and subscriptions
	TenantID = "tenant_id"

	SceneID     = "scene_id"
	StepName    = "step_name"
	SceneState  = "scene_state"
	OperationID = "operation_id"

	JobID         = "job_id"
	JobStatus     = "job_status"
	PrinterSerial = "printer_serial"

	Endpoint = "endpoint"

	// a context-dependent numerical count/length of something
	GenericCount = "count"
)
