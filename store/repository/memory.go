package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"docpipeline/store/models"
)

// MemoryRepo is an in-process Repository used by tests and local runs without
// a database. It honors the same contract as the Postgres implementation.
type MemoryRepo struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[string]*models.Task
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{tasks: make(map[string]*models.Task)}
}

func (r *MemoryRepo) CreateTask(_ context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.TaskID]; ok {
		return ErrTaskAlreadyExists
	}

	r.nextID++
	task.ID = r.nextID
	if task.CreateTime.IsZero() {
		task.CreateTime = time.Now()
	}
	task.Status = models.StatusQueued

	stored := *task
	r.tasks[task.TaskID] = &stored
	return nil
}

func (r *MemoryRepo) GetTask(_ context.Context, taskID string) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}

func (r *MemoryRepo) ClaimTask(_ context.Context, taskID string) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if err := task.MarkProcessing(); err != nil {
		return nil, err
	}
	copied := *task
	return &copied, nil
}

func (r *MemoryRepo) FinalizeTask(_ context.Context, taskID string, succeeded bool, result string) (*models.Task, *models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return nil, nil, ErrTaskNotFound
	}
	task.MarkFinished(succeeded, result, time.Now())
	done := *task

	next := r.oldestQueuedLocked()
	if next == nil {
		return &done, nil, nil
	}
	copied := *next
	return &done, &copied, nil
}

func (r *MemoryRepo) CountQueued(_ context.Context) (int, error) {
	return r.countByStatus(models.StatusQueued), nil
}

func (r *MemoryRepo) CountProcessing(_ context.Context) (int, error) {
	return r.countByStatus(models.StatusProcessing), nil
}

func (r *MemoryRepo) countByStatus(status models.TaskStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, task := range r.tasks {
		if task.Status == status {
			count++
		}
	}
	return count
}

func (r *MemoryRepo) oldestQueuedLocked() *models.Task {
	queued := make([]*models.Task, 0)
	for _, task := range r.tasks {
		if task.Status == models.StatusQueued {
			queued = append(queued, task)
		}
	}
	if len(queued) == 0 {
		return nil
	}
	sort.Slice(queued, func(i, j int) bool {
		return queued[i].CreateTime.Before(queued[j].CreateTime)
	})
	return queued[0]
}
