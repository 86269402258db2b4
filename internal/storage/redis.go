package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/situation-engine/pkg/storage"
)

const slotPrefix = "situations:"

// RedisStorage keeps slots as JSON strings under situations:<id>
type RedisStorage struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// Ensure RedisStorage implements Storage interface
var _ storage.Storage = (*RedisStorage)(nil)

// NewRedisStorage connects to redisURL, which may be a redis:// URL or a
// bare host:port. A zero ttl keeps slots forever.
func NewRedisStorage(redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisStorage, error) {
	opt := &redis.Options{Addr: redisURL}
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		opt = parsed
	}
	return NewRedisStorageFromClient(redis.NewClient(opt), ttl, logger), nil
}

// NewRedisStorageFromClient wraps an existing client
func NewRedisStorageFromClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStorage{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

func slotKey(id uuid.UUID) string {
	return slotPrefix + id.String()
}

func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStorage) WaitForConnection(ctx context.Context) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := range maxRetries {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

func (r *RedisStorage) SaveSlot(ctx context.Context, slot *storage.Slot) error {
	if slot == nil {
		return errors.New("slot cannot be nil")
	}
	slot.UpdatedAt = time.Now()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = slot.UpdatedAt
	}

	data, err := json.Marshal(slot)
	if err != nil {
		r.logger.Error("Failed to marshal slot", "slot_id", slot.ID, "error", err)
		return fmt.Errorf("failed to marshal slot: %w", err)
	}

	if err := r.client.Set(ctx, slotKey(slot.ID), data, r.ttl).Err(); err != nil {
		r.logger.Error("Failed to save slot", "slot_id", slot.ID, "error", err)
		return fmt.Errorf("failed to save slot: %w", err)
	}
	return nil
}

func (r *RedisStorage) LoadSlot(ctx context.Context, id uuid.UUID) (*storage.Slot, error) {
	data, err := r.client.Get(ctx, slotKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logger.Debug("Slot not found", "slot_id", id)
			return nil, nil
		}
		r.logger.Error("Failed to load slot", "slot_id", id, "error", err)
		return nil, fmt.Errorf("failed to load slot: %w", err)
	}

	var slot storage.Slot
	if err := json.Unmarshal(data, &slot); err != nil {
		r.logger.Error("Failed to unmarshal slot", "slot_id", id, "error", err)
		return nil, fmt.Errorf("failed to unmarshal slot: %w", err)
	}
	return &slot, nil
}

func (r *RedisStorage) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	if err := r.client.Del(ctx, slotKey(id)).Err(); err != nil {
		r.logger.Error("Failed to delete slot", "slot_id", id, "error", err)
		return fmt.Errorf("failed to delete slot: %w", err)
	}
	return nil
}

func (r *RedisStorage) ListSlots(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	iter := r.client.Scan(ctx, 0, slotPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id, err := uuid.Parse(strings.TrimPrefix(iter.Val(), slotPrefix))
		if err != nil {
			r.logger.Warn("Ignoring malformed slot key", "key", iter.Val())
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	storage.SortIDs(ids)
	return ids, nil
}
