package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"docpipeline/store/models"
)

const (
	statusKeyPrefix = "task:status:"
	statusTTL       = 10 * time.Minute
)

// StatusCache mirrors the last known task status in Redis so status queries
// avoid a database round trip for hot tasks. The job store stays the source
// of truth; every write here is best-effort.
type StatusCache struct {
	client *redis.Client
}

func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

func (sc *StatusCache) Get(ctx context.Context, taskID string) (models.TaskStatus, error) {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, taskID)

	data, err := sc.client.Get(ctx, key).Result()
	if err != nil {
		return "", err
	}
	return models.TaskStatus(data), nil
}

func (sc *StatusCache) Set(ctx context.Context, taskID string, status models.TaskStatus) error {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, taskID)
	return sc.client.Set(ctx, key, string(status), statusTTL).Err()
}

func (sc *StatusCache) Delete(ctx context.Context, taskID string) error {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, taskID)
	return sc.client.Del(ctx, key).Err()
}
