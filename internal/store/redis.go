package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/stegline/core/internal/errors"
)

// RedisAttachments stores attachment blobs in Redis.
type RedisAttachments struct {
	client *redis.Client
}

// NewRedisAttachments connects to Redis.
func NewRedisAttachments(ctx context.Context, redisURL string) (*RedisAttachments, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisAttachments{client: client}, nil
}

// Close closes the Redis connection.
func (a *RedisAttachments) Close() error {
	return a.client.Close()
}

// Ping checks the Redis connection.
func (a *RedisAttachments) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// attachmentKey returns the key for an attachment path.
func attachmentKey(path string) string {
	return fmt.Sprintf("stego-files:%s", path)
}

// Upload stores data at path. Attachments do not expire.
func (a *RedisAttachments) Upload(ctx context.Context, path string, data []byte) error {
	ok, err := a.client.SetNX(ctx, attachmentKey(path), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to upload attachment: %w", err)
	}
	if !ok {
		return fmt.Errorf("attachment %s already exists", path)
	}
	return nil
}

// Download returns the bytes stored at path.
func (a *RedisAttachments) Download(ctx context.Context, path string) ([]byte, error) {
	data, err := a.client.Get(ctx, attachmentKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("attachment %s: %w", path, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download attachment: %w", err)
	}
	return data, nil
}
