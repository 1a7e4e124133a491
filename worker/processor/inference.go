package processor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"docpipeline/storage"
	"docpipeline/store/models"
)

// InferenceProcessor runs a task against the worker's paired model-serving
// instance: download the source object, normalize oversized page images, send
// the document to the inference backend, store the result in the output
// bucket.
type InferenceProcessor struct {
	storage   storage.ObjectStorage
	serverURL string
	client    *http.Client
	logger    *zap.Logger
}

func NewInferenceProcessor(store storage.ObjectStorage, serverURL string, logger *zap.Logger) *InferenceProcessor {
	return &InferenceProcessor{
		storage:   store,
		serverURL: strings.TrimRight(serverURL, "/"),
		// Document analysis is long-running; the timeout bounds a wedged
		// backend, not normal processing.
		client: &http.Client{Timeout: 30 * time.Minute},
		logger: logger,
	}
}

type analyzeRequest struct {
	TaskID               string `json:"task_id"`
	Filename             string `json:"filename"`
	Document             string `json:"document"` // base64
	OCREnabled           bool   `json:"ocr_enabled"`
	FormulaEnabled       bool   `json:"formula_enabled"`
	TableEnabled         bool   `json:"table_enabled"`
	InlineFormulaEnabled bool   `json:"inline_formula_enabled"`
	OCRLang              string `json:"ocr_lang"`
}

type analyzeResponse struct {
	Markdown string `json:"markdown"`
	Pages    int    `json:"pages"`
}

type outputInfo struct {
	OutputBucket string `json:"output_bucket"`
	ObjectKey    string `json:"object_key"`
	ContentType  string `json:"content_type"`
	Pages        int    `json:"pages"`
}

func (p *InferenceProcessor) Process(ctx context.Context, task *models.Task) (string, error) {
	data, err := p.storage.Download(ctx, task.BucketName, task.ObjectKey)
	if err != nil {
		return "", fmt.Errorf("download source: %w", err)
	}

	if isPageImage(task.ObjectKey) {
		normalized, err := NormalizePageImage(data, DefaultMaxPageDim)
		if err != nil {
			p.logger.Warn("Image normalization failed, sending original",
				zap.String("task_id", task.TaskID),
				zap.Error(err),
			)
		} else {
			data = normalized
		}
	}

	result, err := p.analyze(ctx, task, data)
	if err != nil {
		return "", err
	}

	outKey := task.TaskID + "/" + strings.TrimSuffix(path.Base(task.ObjectKey), path.Ext(task.ObjectKey)) + ".md"
	if err := p.storage.Upload(ctx, task.OutputBucket, outKey, []byte(result.Markdown), "text/markdown"); err != nil {
		return "", fmt.Errorf("upload result: %w", err)
	}

	info, err := json.Marshal(outputInfo{
		OutputBucket: task.OutputBucket,
		ObjectKey:    outKey,
		ContentType:  "text/markdown",
		Pages:        result.Pages,
	})
	if err != nil {
		return "", err
	}
	return string(info), nil
}

func (p *InferenceProcessor) analyze(ctx context.Context, task *models.Task, data []byte) (*analyzeResponse, error) {
	reqBody, err := json.Marshal(analyzeRequest{
		TaskID:               task.TaskID,
		Filename:             path.Base(task.ObjectKey),
		Document:             base64.StdEncoding.EncodeToString(data),
		OCREnabled:           task.OCREnabled,
		FormulaEnabled:       task.FormulaEnabled,
		TableEnabled:         task.TableEnabled,
		InlineFormulaEnabled: task.InlineFormulaEnabled,
		OCRLang:              task.OCRLang,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/analyze", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference backend: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read inference response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference backend returned %d: %s", resp.StatusCode, string(body))
	}

	var result analyzeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	return &result, nil
}

func isPageImage(objectKey string) bool {
	switch strings.ToLower(path.Ext(objectKey)) {
	case ".png", ".jpg", ".jpeg":
		return true
	default:
		return false
	}
}
