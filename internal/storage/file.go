package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/jwebster45206/situation-engine/pkg/storage"
)

const snapshotExt = ".json.zst"

// FileStorage keeps each slot as a zstd-compressed JSON file named
// <id>.json.zst. Writes go through a temp file and a rename so a crash never
// leaves a torn snapshot behind.
type FileStorage struct {
	dir    string
	logger *slog.Logger
}

// Ensure FileStorage implements Storage interface
var _ storage.Storage = (*FileStorage)(nil)

func NewFileStorage(dir string, logger *slog.Logger) (*FileStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileStorage{dir: dir, logger: logger}, nil
}

func (f *FileStorage) path(id uuid.UUID) string {
	return filepath.Join(f.dir, id.String()+snapshotExt)
}

// Ping checks that the snapshot directory is still there
func (f *FileStorage) Ping(ctx context.Context) error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return fmt.Errorf("snapshot directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("snapshot path %s is not a directory", f.dir)
	}
	return nil
}

func (f *FileStorage) Close() error {
	return nil
}

func (f *FileStorage) SaveSlot(ctx context.Context, slot *storage.Slot) error {
	if slot == nil {
		return errors.New("slot cannot be nil")
	}
	slot.UpdatedAt = time.Now()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = slot.UpdatedAt
	}

	tmp, err := os.CreateTemp(f.dir, ".slot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeCompressed(tmp, slot); err != nil {
		tmp.Close()
		f.logger.Error("Failed to write snapshot", "slot_id", slot.ID, "error", err)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(slot.ID)); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}

	f.logger.Debug("Snapshot written", "slot_id", slot.ID, "path", f.path(slot.ID))
	return nil
}

func writeCompressed(w *os.File, slot *storage.Slot) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	if err := json.NewEncoder(bw).Encode(slot); err != nil {
		enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func (f *FileStorage) LoadSlot(ctx context.Context, id uuid.UUID) (*storage.Slot, error) {
	file, err := os.Open(f.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open zstd stream: %w", err)
	}
	defer dec.Close()

	var slot storage.Slot
	if err := json.NewDecoder(bufio.NewReader(dec)).Decode(&slot); err != nil {
		f.logger.Error("Failed to decode snapshot", "slot_id", id, "error", err)
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &slot, nil
}

func (f *FileStorage) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	if err := os.Remove(f.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func (f *FileStorage) ListSlots(ctx context.Context) ([]uuid.UUID, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}
	var ids []uuid.UUID
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), snapshotExt)
		if entry.IsDir() || !ok {
			continue
		}
		id, err := uuid.Parse(name)
		if err != nil {
			f.logger.Warn("Ignoring malformed snapshot name", "name", entry.Name())
			continue
		}
		ids = append(ids, id)
	}
	storage.SortIDs(ids)
	return ids, nil
}
