// Package core defines sentinel errors shared across the container.
package core

import "errors"

// Sentinel errors, grouped by concern.
var (
	// Task management errors
	ErrTaskNotFound      = errors.New("samza-runloop: task not found")
	ErrTaskAlreadyExists = errors.New("samza-runloop: task already exists")
	ErrTaskStartFailed   = errors.New("samza-runloop: task start failed")

	// RunLoop dispatch errors
	ErrDispatchRejected = errors.New("samza-runloop: worker rejected dispatch")
	ErrWorkerFailed     = errors.New("samza-runloop: worker failed")

	// ConsumerMux errors
	ErrMuxClosed       = errors.New("samza-runloop: consumer mux closed")
	ErrMuxChooseFailed = errors.New("samza-runloop: consumer mux choose failed")

	// OffsetManager errors
	ErrOffsetUpdateFailed   = errors.New("samza-runloop: offset update failed")
	ErrOffsetCheckpointRead = errors.New("samza-runloop: offset checkpoint read failed")

	// Configuration errors
	ErrConfigInvalid = errors.New("samza-runloop: invalid configuration")

	// Container errors
	ErrContainerNotRunning = errors.New("samza-runloop: container not running")
)
