package queue

import (
	"context"
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTaskName is the logical task-type name shared out of band by the
// producer and every consumer.
const DefaultTaskName = "process_pdf"

// TaskName resolves the logical task name, overridable via env so deployments
// can keep producer and consumer in sync from one place.
func TaskName() string {
	if name := os.Getenv("TASK_NAME_PROCESS_PDF"); name != "" {
		return name
	}
	return DefaultTaskName
}

// Message is the queue envelope. It carries the task id only, never the full
// payload; workers read the record from the job store.
type Message struct {
	Task       string `json:"task"`
	DeliveryID string `json:"delivery_id"`
	TaskID     string `json:"task_id"`
}

type Broker struct {
	client *redis.Client
	logger *zap.Logger
}

func NewBroker(client *redis.Client, logger *zap.Logger) *Broker {
	return &Broker{client: client, logger: logger}
}

// Submit enqueues a reference to the task onto the named queue.
func (b *Broker) Submit(ctx context.Context, queueName, taskID string) error {
	msg := Message{
		Task:       TaskName(),
		DeliveryID: uuid.New().String(),
		TaskID:     taskID,
	}

	data, err := json.Marshal(&msg)
	if err != nil {
		return err
	}

	return b.client.LPush(ctx, queueName, data).Err()
}

// Backlog returns the number of waiting entries on the queue. The primary
// probe is an LLEN on the raw queue key; when that reads zero, a secondary
// probe checks the "queue:<name>" key in case the broker keeps its lists under
// a prefix. Broker errors yield 0 so routing stays available when the broker
// is degraded, at the cost of undercounting.
func (b *Broker) Backlog(ctx context.Context, queueName string) int {
	waiting, err := b.client.LLen(ctx, queueName).Result()
	if err != nil {
		waiting = 0
	}

	if waiting == 0 {
		alt := "queue:" + queueName
		keyType, err := b.client.Type(ctx, alt).Result()
		if err == nil && keyType == "list" {
			if altLen, err := b.client.LLen(ctx, alt).Result(); err == nil {
				waiting = altLen
			}
		}
	}

	return int(waiting)
}

// BacklogProber is the read side of queue-depth routing.
type BacklogProber interface {
	Backlog(ctx context.Context, queueName string) int
}

// ChooseLeastLoaded measures every candidate and returns the first minimum in
// input order. Backlog is measured rather than estimated because worker
// throughput varies by device and document size.
func ChooseLeastLoaded(ctx context.Context, prober BacklogProber, queueNames []string) (string, int) {
	if len(queueNames) == 0 {
		return "", 0
	}

	bestName := queueNames[0]
	bestBacklog := prober.Backlog(ctx, bestName)
	for _, name := range queueNames[1:] {
		backlog := prober.Backlog(ctx, name)
		if backlog < bestBacklog {
			bestName = name
			bestBacklog = backlog
		}
	}
	return bestName, bestBacklog
}

// ChooseLeastLoaded on the broker itself, for callers holding a *Broker.
func (b *Broker) ChooseLeastLoaded(ctx context.Context, queueNames []string) (string, int) {
	name, backlog := ChooseLeastLoaded(ctx, b, queueNames)
	b.logger.Info("Queue backlog measured",
		zap.String("queue", name),
		zap.Int("backlog", backlog),
	)
	return name, backlog
}
