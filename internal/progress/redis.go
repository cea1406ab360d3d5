package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/company-scraper/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the part of the redis client used here.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Redis appends every update to a stream so other processes can follow a
// batch.
type Redis struct {
	client  RedisClient
	stream  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewRedis(client RedisClient, stream string, logger *slog.Logger) *Redis {
	return &Redis{
		client:  client,
		stream:  stream,
		timeout: 5 * time.Second,
		logger:  logger.With("component", "progress_redis"),
	}
}

// Publish logs failures instead of returning them; a stream outage must not
// affect the batch.
func (r *Redis) Publish(update models.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.publish(ctx, update); err != nil {
		r.logger.Error("failed to publish update", "task_id", update.Task.ID, "kind", update.Kind, "error", err)
	}
}

func (r *Redis) publish(ctx context.Context, update models.Update) error {
	data, err := json.Marshal(update.Task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	values := map[string]interface{}{
		"task_id":   update.Task.ID,
		"kind":      string(update.Kind),
		"type":      string(update.Task.Kind),
		"status":    string(update.Task.Status),
		"current":   update.Task.Current,
		"total":     update.Task.Total,
		"data":      string(data),
		"timestamp": fmt.Sprintf("%d", time.Now().UnixNano()),
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: values,
	}

	if _, err := r.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
