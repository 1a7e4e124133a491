package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"docpipeline/api/dto"
	"docpipeline/cache"
	"docpipeline/storage"
	"docpipeline/store/models"
	"docpipeline/store/repository"
)

// Router is the queue side of task submission: probe backlog across the
// candidate queues and enqueue a task reference on the chosen one.
type Router interface {
	ChooseLeastLoaded(ctx context.Context, queueNames []string) (string, int)
	Submit(ctx context.Context, queueName, taskID string) error
}

type Options struct {
	Queues          []string
	MaxQueuingTasks int
	// DefaultBucket and DefaultOutputBucket fill in request fields the
	// client omitted.
	DefaultBucket       string
	DefaultOutputBucket string
}

type TaskService struct {
	repo     repository.Repository
	statuses *cache.StatusCache
	router   Router
	objects  storage.ObjectStorage
	opts     Options
}

func NewTaskService(repo repository.Repository, statuses *cache.StatusCache, router Router, objects storage.ObjectStorage, opts Options) *TaskService {
	return &TaskService{
		repo:     repo,
		statuses: statuses,
		router:   router,
		objects:  objects,
		opts:     opts,
	}
}

// CreateTask persists a new QUEUED task, routes it to the least-backlogged
// queue and submits it there. Admission is rejected with ErrQueueFull once
// the queued depth reaches the configured ceiling.
func (s *TaskService) CreateTask(ctx context.Context, req *dto.CreateTaskRequest) (*dto.TaskResponse, error) {
	bucket := req.BucketName
	if bucket == "" {
		bucket = s.opts.DefaultBucket
	}
	outputBucket := req.OutputBucket
	if outputBucket == "" {
		outputBucket = s.opts.DefaultOutputBucket
	}

	if s.objects != nil {
		// Probe failures are tolerated; a degraded object store must not
		// block submission of work it may still be able to serve later.
		if exists, err := s.objects.Exists(ctx, bucket, req.ObjectKey); err == nil && !exists {
			return nil, dto.ErrObjectNotFound
		}
	}

	queued, err := s.repo.CountQueued(ctx)
	if err != nil {
		return nil, err
	}
	if queued >= s.opts.MaxQueuingTasks {
		return nil, dto.ErrQueueFull
	}

	inlineFormula := true
	if req.InlineFormulaEnabled != nil {
		inlineFormula = *req.InlineFormulaEnabled
	}

	task := &models.Task{
		TaskID:               models.NewTaskID(),
		BucketName:           bucket,
		ObjectKey:            req.ObjectKey,
		OutputBucket:         outputBucket,
		FormulaEnabled:       req.FormulaEnabled,
		OCREnabled:           req.OCREnabled,
		TableEnabled:         req.TableEnabled,
		InlineFormulaEnabled: inlineFormula,
		OCRLang:              req.OCRLang,
		CreateTime:           time.Now(),
		Status:               models.StatusQueued,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	queueName, backlog := s.router.ChooseLeastLoaded(ctx, s.opts.Queues)
	if err := s.router.Submit(ctx, queueName, task.TaskID); err != nil {
		return nil, err
	}

	s.setStatus(ctx, task.TaskID, models.StatusQueued)

	return &dto.TaskResponse{
		TaskID:    task.TaskID,
		Status:    string(models.StatusQueued),
		Message:   "task queued",
		Queue:     queueName,
		Backlog:   &backlog,
		CreatedAt: task.CreateTime.Format(time.RFC3339),
	}, nil
}

// GetTaskStatus reports the last durably-written state of a task. Non-terminal
// statuses are answered from the cache when possible; terminal ones always go
// to the store so the response can carry the result payload.
func (s *TaskService) GetTaskStatus(ctx context.Context, taskID string) (*dto.TaskResponse, error) {
	if s.statuses != nil {
		if status, err := s.statuses.Get(ctx, taskID); err == nil && !status.Terminal() {
			return &dto.TaskResponse{
				TaskID: taskID,
				Status: string(status),
			}, nil
		}
	}

	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, dto.ErrTaskNotFound
		}
		return nil, err
	}
	s.setStatus(ctx, task.TaskID, task.Status)

	resp := &dto.TaskResponse{
		TaskID:    task.TaskID,
		Status:    string(task.Status),
		CreatedAt: task.CreateTime.Format(time.RFC3339),
	}
	if task.FinishTime != nil {
		finished := task.FinishTime.Format(time.RFC3339)
		resp.FinishedAt = &finished
	}

	// output_info is opaque: a result descriptor on COMPLETED, an error
	// string on FAILED. Only the completed form is surfaced as JSON.
	switch task.Status {
	case models.StatusCompleted:
		if json.Valid([]byte(task.OutputInfo)) {
			resp.OutputInfo = json.RawMessage(task.OutputInfo)
		}
	case models.StatusFailed:
		resp.Message = task.OutputInfo
	}
	return resp, nil
}

// setStatus mirrors the status to the cache. The job store is the source of
// truth; cache writes are best-effort.
func (s *TaskService) setStatus(ctx context.Context, taskID string, status models.TaskStatus) {
	if s.statuses == nil {
		return
	}
	_ = s.statuses.Set(ctx, taskID, status)
}
