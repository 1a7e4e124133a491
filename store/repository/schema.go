package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tasks (
	id BIGSERIAL PRIMARY KEY,
	task_id TEXT UNIQUE NOT NULL,
	bucket_name TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL,
	output_bucket TEXT NOT NULL DEFAULT '',
	formula_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	ocr_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	table_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	inline_formula_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	ocr_lang TEXT NOT NULL DEFAULT '',
	output_info TEXT NOT NULL DEFAULT '',
	create_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finish_time TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'QUEUED'
);

CREATE INDEX IF NOT EXISTS idx_tasks_status_create_time ON tasks (status, create_time);
`

// EnsureSchema creates the tasks table on first run so a fresh environment
// works without a separate migration step.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
