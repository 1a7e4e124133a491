package dto

import (
	"encoding/json"
	"errors"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrQueueFull      = errors.New("queue is full")
	ErrObjectNotFound = errors.New("source object not found")
)

type CreateTaskRequest struct {
	BucketName           string `json:"bucket_name"`
	ObjectKey            string `json:"object_key"`
	OutputBucket         string `json:"output_bucket"`
	FormulaEnabled       bool   `json:"formula_enabled"`
	OCREnabled           bool   `json:"ocr_enabled"`
	TableEnabled         bool   `json:"table_enabled"`
	InlineFormulaEnabled *bool  `json:"inline_formula_enabled"`
	OCRLang              string `json:"ocr_lang"`
}

type TaskResponse struct {
	TaskID     string          `json:"task_id"`
	Status     string          `json:"status"`
	Message    string          `json:"message,omitempty"`
	Queue      string          `json:"queue,omitempty"`
	Backlog    *int            `json:"backlog,omitempty"`
	CreatedAt  string          `json:"created_at,omitempty"`
	FinishedAt *string         `json:"finished_at,omitempty"`
	OutputInfo json.RawMessage `json:"output_info,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
