package repository

import (
	"context"
	"errors"

	"docpipeline/store/models"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskAlreadyExists = errors.New("task already exists")
)

// Repository is the durable job store. Every mutating call reads the row back
// so callers observe server-assigned fields.
type Repository interface {
	// CreateTask inserts a new task in QUEUED state.
	CreateTask(ctx context.Context, task *models.Task) error

	// GetTask is a point lookup by task id.
	GetTask(ctx context.Context, taskID string) (*models.Task, error)

	// ClaimTask marks the task PROCESSING and returns the refreshed row.
	// Calling it twice for the same task is not supported; with one in-flight
	// message per worker it only happens on crash redelivery, where the
	// second write is a harmless overwrite.
	ClaimTask(ctx context.Context, taskID string) (*models.Task, error)

	// FinalizeTask sets finish_time and the terminal status, stores result
	// into output_info, and returns both the finalized task and the oldest
	// still-QUEUED task (nil when the queue is empty) so a worker loop can
	// chain work without a second round trip.
	FinalizeTask(ctx context.Context, taskID string, succeeded bool, result string) (*models.Task, *models.Task, error)

	// CountQueued and CountProcessing feed upstream admission control.
	CountQueued(ctx context.Context) (int, error)
	CountProcessing(ctx context.Context) (int, error)
}
