// Package notify announces finished job executions to external channels.
package notify

import "context"

// Level grades a notification
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

// Notification is one message about a job execution
type Notification struct {
	Title       string
	Message     string
	Level       Level
	JobName     string
	ExecutionID int64
}

// Notifier delivers notifications
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}
