package domain

import "fmt"

// BatchStatus represents the lifecycle state of a job or step execution
type BatchStatus string

const (
	StatusStarting  BatchStatus = "STARTING"
	StatusStarted   BatchStatus = "STARTED"
	StatusCompleted BatchStatus = "COMPLETED"
	StatusFailed    BatchStatus = "FAILED"
)

// Exit codes recorded alongside a terminal status
const (
	ExitCompleted = "COMPLETED"
	ExitFailed    = "FAILED"
	ExitUnknown   = "UNKNOWN"
	ExitExecuting = "EXECUTING"
)

// IsTerminal reports whether no further transition is allowed from s
func (s BatchStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ExitCode maps a status to the exit code stored in the ledger
func (s BatchStatus) ExitCode() string {
	switch s {
	case StatusCompleted:
		return ExitCompleted
	case StatusFailed:
		return ExitFailed
	case StatusStarted:
		return ExitExecuting
	default:
		return ExitUnknown
	}
}

func isAllowedTransition(from, to BatchStatus) bool {
	switch from {
	case StatusStarting:
		return to == StatusStarted || to == StatusFailed
	case StatusStarted:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// ValidateTransition returns an error when from -> to is not part of the lifecycle
func ValidateTransition(from, to BatchStatus) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed status transition: %s -> %s", from, to)
	}
	return nil
}
