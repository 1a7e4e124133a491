package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"docpipeline/api/dto"
	"docpipeline/api/middleware"
)

// TaskService is the slice of the service layer the HTTP handlers need.
type TaskService interface {
	CreateTask(ctx context.Context, req *dto.CreateTaskRequest) (*dto.TaskResponse, error)
	GetTaskStatus(ctx context.Context, taskID string) (*dto.TaskResponse, error)
}

type TaskHandler struct {
	service TaskService
	logger  *zap.Logger
}

func NewTaskHandler(service TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service: service,
		logger:  logger,
	}
}

func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Failed to parse request body", err, traceID, http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.ObjectKey) == "" {
		h.handleError(w, "object_key is required", nil, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.CreateTask(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, dto.ErrQueueFull):
			h.handleError(w, "Queue is full, try again later", err, traceID, http.StatusTooManyRequests)
		case errors.Is(err, dto.ErrObjectNotFound):
			h.handleError(w, "Source object not found", err, traceID, http.StatusNotFound)
		default:
			h.handleError(w, "Failed to create task", err, traceID, http.StatusInternalServerError)
		}
		return
	}

	h.logger.Info("Task queued",
		zap.String("trace_id", traceID),
		zap.String("task_id", resp.TaskID),
		zap.String("object_key", req.ObjectKey),
		zap.String("queue", resp.Queue),
	)

	h.respondJSON(w, http.StatusCreated, resp)
}

func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID := strings.TrimPrefix(r.URL.Path, "/status/")
	if taskID == "" {
		h.handleError(w, "Task ID is required", nil, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.GetTaskStatus(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, dto.ErrTaskNotFound) {
			h.handleError(w, "Task not found", err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to get task status", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *TaskHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
