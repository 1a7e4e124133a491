package processor

import (
	"context"

	"docpipeline/store/models"
)

// DocumentProcessor turns one task's source document into a result payload
// for output_info. Implementations own every library- or backend-specific
// workaround; callers only see this boundary.
type DocumentProcessor interface {
	Process(ctx context.Context, task *models.Task) (string, error)
}
