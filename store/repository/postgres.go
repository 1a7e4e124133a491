package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"docpipeline/store/models"
)

const taskColumns = `id, task_id, bucket_name, object_key, output_bucket,
	formula_enabled, ocr_enabled, table_enabled, inline_formula_enabled,
	ocr_lang, output_info, create_time, finish_time, status`

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CreateTask(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (task_id, bucket_name, object_key, output_bucket,
			formula_enabled, ocr_enabled, table_enabled, inline_formula_enabled,
			ocr_lang, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, create_time, status
	`

	err := r.db.QueryRow(ctx, query,
		task.TaskID,
		task.BucketName,
		task.ObjectKey,
		task.OutputBucket,
		task.FormulaEnabled,
		task.OCREnabled,
		task.TableEnabled,
		task.InlineFormulaEnabled,
		task.OCRLang,
		models.StatusQueued,
	).Scan(&task.ID, &task.CreateTime, &task.Status)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrTaskAlreadyExists
		}
		return err
	}

	return nil
}

func (r *PostgresRepo) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE task_id = $1`
	return r.scanTask(r.db.QueryRow(ctx, query, taskID))
}

func (r *PostgresRepo) ClaimTask(ctx context.Context, taskID string) (*models.Task, error) {
	query := `
		UPDATE tasks SET status = $1 WHERE task_id = $2
		RETURNING ` + taskColumns + `
	`
	return r.scanTask(r.db.QueryRow(ctx, query, models.StatusProcessing, taskID))
}

func (r *PostgresRepo) FinalizeTask(ctx context.Context, taskID string, succeeded bool, result string) (*models.Task, *models.Task, error) {
	status := models.StatusCompleted
	if !succeeded {
		status = models.StatusFailed
	}

	query := `
		UPDATE tasks SET status = $1, output_info = $2, finish_time = NOW()
		WHERE task_id = $3
		RETURNING ` + taskColumns + `
	`
	done, err := r.scanTask(r.db.QueryRow(ctx, query, status, result, taskID))
	if err != nil {
		return nil, nil, err
	}

	nextQuery := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE status = $1 ORDER BY create_time ASC LIMIT 1
	`
	next, err := r.scanTask(r.db.QueryRow(ctx, nextQuery, models.StatusQueued))
	if errors.Is(err, ErrTaskNotFound) {
		return done, nil, nil
	}
	if err != nil {
		return done, nil, err
	}

	return done, next, nil
}

func (r *PostgresRepo) CountQueued(ctx context.Context) (int, error) {
	return r.countByStatus(ctx, models.StatusQueued)
}

func (r *PostgresRepo) CountProcessing(ctx context.Context) (int, error) {
	return r.countByStatus(ctx, models.StatusProcessing)
}

func (r *PostgresRepo) countByStatus(ctx context.Context, status models.TaskStatus) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE status = $1`, status).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PostgresRepo) scanTask(row pgx.Row) (*models.Task, error) {
	var task models.Task
	err := row.Scan(
		&task.ID,
		&task.TaskID,
		&task.BucketName,
		&task.ObjectKey,
		&task.OutputBucket,
		&task.FormulaEnabled,
		&task.OCREnabled,
		&task.TableEnabled,
		&task.InlineFormulaEnabled,
		&task.OCRLang,
		&task.OutputInfo,
		&task.CreateTime,
		&task.FinishTime,
		&task.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}
