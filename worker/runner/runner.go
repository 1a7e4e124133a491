package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"docpipeline/cache"
	"docpipeline/queue"
	"docpipeline/store/models"
	"docpipeline/store/repository"
	"docpipeline/worker/processor"
)

// Result is the typed outcome of one execution attempt. Processor errors and
// panics are converted into a failed Result at the boundary; they never
// escape the loop.
type Result struct {
	Succeeded bool
	Output    string
}

// Runner is the per-worker execution loop: claim, run the document processor,
// finalize. It is built once per process and owns its handles exclusively.
type Runner struct {
	repo      repository.Repository
	processor processor.DocumentProcessor
	statuses  *cache.StatusCache
	logger    *zap.Logger
}

func New(repo repository.Repository, proc processor.DocumentProcessor, statuses *cache.StatusCache, logger *zap.Logger) *Runner {
	return &Runner{
		repo:      repo,
		processor: proc,
		statuses:  statuses,
		logger:    logger,
	}
}

// Handle processes one delivery. It always returns nil: per-job failures are
// recorded in the job store, and a bad job must not crash a worker that is
// meant to run indefinitely. Store-write failures are logged and swallowed —
// durability of the PROCESSING marker is best-effort, and a failed finalize
// write leaves the task visibly stuck for operators rather than killing the
// loop.
func (r *Runner) Handle(ctx context.Context, msg *queue.Message) error {
	task, err := r.repo.ClaimTask(ctx, msg.TaskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			r.logger.Error("Dropping delivery for unknown task", zap.String("task_id", msg.TaskID))
			return nil
		}
		r.logger.Error("Claim write failed, attempting anyway",
			zap.String("task_id", msg.TaskID),
			zap.Error(err),
		)
		task, err = r.repo.GetTask(ctx, msg.TaskID)
		if err != nil {
			r.logger.Error("Task unreadable, dropping delivery",
				zap.String("task_id", msg.TaskID),
				zap.Error(err),
			)
			return nil
		}
	}
	r.setStatus(ctx, task.TaskID, models.StatusProcessing)

	result := r.execute(ctx, task)

	done, next, err := r.repo.FinalizeTask(ctx, task.TaskID, result.Succeeded, result.Output)
	if err != nil {
		r.logger.Error("Finalize write failed",
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
		return nil
	}
	r.setStatus(ctx, done.TaskID, done.Status)

	r.logger.Info("Task finalized",
		zap.String("task_id", done.TaskID),
		zap.String("status", string(done.Status)),
	)
	if next != nil {
		r.logger.Info("Oldest queued task waiting", zap.String("task_id", next.TaskID))
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, task *models.Task) (result Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Processor panicked",
				zap.String("task_id", task.TaskID),
				zap.Any("panic", p),
			)
			result = Result{Succeeded: false, Output: fmt.Sprintf("panic: %v", p)}
		}
	}()

	output, err := r.processor.Process(ctx, task)
	if err != nil {
		r.logger.Error("Processing failed",
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
		return Result{Succeeded: false, Output: err.Error()}
	}
	return Result{Succeeded: true, Output: output}
}

func (r *Runner) setStatus(ctx context.Context, taskID string, status models.TaskStatus) {
	if r.statuses == nil {
		return
	}
	if err := r.statuses.Set(ctx, taskID, status); err != nil {
		r.logger.Warn("Status cache write failed",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}
