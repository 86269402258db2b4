package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/situation-engine/pkg/engine"
	"github.com/jwebster45206/situation-engine/pkg/situation"
	"github.com/jwebster45206/situation-engine/pkg/world"
)

// Slot is one saved playthrough: the engine snapshot plus the world its
// effects write to
type Slot struct {
	ID        uuid.UUID        `json:"id"`
	Engine    *engine.Snapshot `json:"engine"`
	World     world.State      `json:"world"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewSlot starts a playthrough over the registry's seeds. The world is seeded
// from vars and the engine runs one tick at start so situations that already
// match are spawned. It returns the journal that tick wrote.
func NewSlot(reg *engine.Registry, cfg engine.Config, vars map[string]any, start situation.Time, logger *slog.Logger) (*Slot, []engine.JournalEntry, error) {
	w := world.New(logger)
	if err := w.SetAll(vars); err != nil {
		return nil, nil, fmt.Errorf("invalid world variables: %w", err)
	}
	e := engine.New(cfg, reg, w, nil, w, engine.WithLogger(logger), engine.WithStartTime(start))
	if _, err := e.Advance(start); err != nil {
		return nil, nil, fmt.Errorf("failed to run the first tick: %w", err)
	}
	return &Slot{
		ID:     uuid.New(),
		Engine: e.Snapshot(),
		World:  w.State(),
	}, e.Journal(), nil
}

// Clone deep-copies a slot through its JSON form
func (s *Slot) Clone() (*Slot, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal slot: %w", err)
	}
	var out Slot
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal slot: %w", err)
	}
	return &out, nil
}

// Storage defines slot persistence. Redis is the primary store; compressed
// snapshot files serve offline tooling and backups.
type Storage interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// SaveSlot writes the slot and stamps UpdatedAt
	SaveSlot(ctx context.Context, slot *Slot) error
	// LoadSlot returns nil without error when the slot does not exist
	LoadSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	DeleteSlot(ctx context.Context, id uuid.UUID) error
	ListSlots(ctx context.Context) ([]uuid.UUID, error)
}

// SortIDs orders slot ids by their string form
func SortIDs(ids []uuid.UUID) {
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})
}
