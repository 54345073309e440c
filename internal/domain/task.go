package domain

import "time"

// TaskStatus tracks the progress of a to-do item.
type TaskStatus string

const (
	TaskStatusResearching  TaskStatus = "RESEARCHING"
	TaskStatusToProcessing TaskStatus = "TO_PROCESSING"
	TaskStatusCancelled    TaskStatus = "CANCELLED"
	TaskStatusCompleted    TaskStatus = "COMPLETED"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusResearching, TaskStatusToProcessing, TaskStatusCancelled, TaskStatusCompleted:
		return true
	default:
		return false
	}
}

// Task is a single to-do item.
type Task struct {
	ID          int64
	Title       string
	Description string
	Status      TaskStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
