package storage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/situation-engine/pkg/storage"
)

// Open returns the slot store for backend, either "redis" or "file"
func Open(backend, redisURL, snapshotDir string, ttl time.Duration, logger *slog.Logger) (storage.Storage, error) {
	switch backend {
	case "redis":
		return NewRedisStorage(redisURL, ttl, logger)
	case "file":
		return NewFileStorage(snapshotDir, logger)
	}
	return nil, fmt.Errorf("unsupported storage backend %q", backend)
}
