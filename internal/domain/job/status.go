// Package job defines the domain model for device jobs: lifecycle statuses,
// services and their sub-processes, status documents pushed by the device,
// and the reason-code tables that drive what a user may do with a running job.
package job

import "fmt"

// Status represents the lifecycle state of a device job as reported in the
// jobStatus field of a status document.
type Status string

const (
	// StatusUnspecified indicates an unknown or uninitialized job status.
	StatusUnspecified Status = "UNSPECIFIED"

	// StatusPending indicates the job has been accepted but not started.
	StatusPending Status = "pending"

	// StatusProcessing indicates the job is actively running on the device.
	StatusProcessing Status = "processing"

	// StatusProcessingStopped indicates the job halted mid-run and is
	// waiting, typically for user action such as placing the next original.
	StatusProcessingStopped Status = "processing_stopped"

	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "completed"

	// StatusAborted indicates the device gave up on the job.
	StatusAborted Status = "aborted"

	// StatusCanceled indicates the job was canceled on request.
	StatusCanceled Status = "canceled"
)

// String returns the wire representation of the status.
func (s Status) String() string { return string(s) }

// ParseStatus converts a raw jobStatus string to a Status.
func ParseStatus(s string) Status {
	switch s {
	case "pending", "processing", "processing_stopped", "completed", "aborted", "canceled":
		return Status(s)
	default:
		return StatusUnspecified
	}
}

// Int32 returns a stable numeric representation, useful for metrics and
// ordering in logs.
func (s Status) Int32() int32 {
	switch s {
	case StatusPending:
		return 1
	case StatusProcessing:
		return 2
	case StatusProcessingStopped:
		return 3
	case StatusCompleted:
		return 4
	case StatusAborted:
		return 5
	case StatusCanceled:
		return 6
	default:
		return 0
	}
}

// IsTerminal reports whether the status is one of the three mutually
// exclusive final states.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusAborted, StatusCanceled:
		return true
	default:
		return false
	}
}

// ValidateTransition checks whether moving from the current status to the
// target status is valid.
func (s Status) ValidateTransition(target Status) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid job status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition encodes the job lifecycle:
// pending -> processing -> (processing_stopped <-> processing)* ->
// completed | aborted | canceled. The device may abort or cancel a job
// before it ever starts processing.
func (s Status) isValidTransition(target Status) bool {
	switch s {
	case StatusUnspecified:
		return target == StatusPending || target == StatusProcessing
	case StatusPending:
		switch target {
		case StatusProcessing, StatusAborted, StatusCanceled:
			return true
		}
	case StatusProcessing:
		switch target {
		case StatusProcessingStopped, StatusCompleted, StatusAborted, StatusCanceled:
			return true
		}
	case StatusProcessingStopped:
		switch target {
		case StatusProcessing, StatusCompleted, StatusAborted, StatusCanceled:
			return true
		}
	}
	return false
}
