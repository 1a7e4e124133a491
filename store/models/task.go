package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	StatusQueued     TaskStatus = "QUEUED"
	StatusProcessing TaskStatus = "PROCESSING"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
)

// Terminal reports whether the status is one of the two end states.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var ErrTaskTerminal = errors.New("task already in a terminal state")

// Task is the unit of work. One row per processing request; never deleted by
// this subsystem.
type Task struct {
	ID                   int64
	TaskID               string
	BucketName           string
	ObjectKey            string
	OutputBucket         string
	FormulaEnabled       bool
	OCREnabled           bool
	TableEnabled         bool
	InlineFormulaEnabled bool
	OCRLang              string
	OutputInfo           string
	CreateTime           time.Time
	FinishTime           *time.Time
	Status               TaskStatus
}

// NewTaskID returns a short unique task identifier.
func NewTaskID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// MarkProcessing moves the task to PROCESSING. Claiming a task that already
// reached a terminal state would regress the status and is rejected; claiming
// an already-PROCESSING task happens on redelivery and is a no-op overwrite.
func (t *Task) MarkProcessing() error {
	if t.Status.Terminal() {
		return ErrTaskTerminal
	}
	t.Status = StatusProcessing
	return nil
}

// MarkFinished records the terminal state. The overwrite is unconditional so
// redelivered executions converge on a single outcome instead of flip-flopping.
func (t *Task) MarkFinished(succeeded bool, result string, now time.Time) {
	if succeeded {
		t.Status = StatusCompleted
	} else {
		t.Status = StatusFailed
	}
	t.OutputInfo = result
	finish := now
	t.FinishTime = &finish
}
