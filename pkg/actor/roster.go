package actor

import (
	"fmt"
	"log/slog"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// Standings is a live source of relationship values, usually the world the
// engine's effects write to
type Standings interface {
	Relationships() map[string]float64
}

// Roster holds the player characters that can act on situations. It
// implements situation.Capabilities. Relationship values are the
// character's baseline plus whatever the standings source reports.
type Roster struct {
	mu        sync.RWMutex
	pcs       map[string]*PC
	standings Standings
	logger    *slog.Logger
}

func NewRoster(standings Standings, logger *slog.Logger) *Roster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Roster{
		pcs:       make(map[string]*PC),
		standings: standings,
		logger:    logger,
	}
}

// LoadRoster reads every .json file in dir as a PC
func LoadRoster(dir string, standings Standings, logger *slog.Logger) (*Roster, error) {
	r := NewRoster(standings, logger)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read PC directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		pc, err := LoadPC(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", entry.Name(), err)
		}
		r.Add(pc)
	}
	r.logger.Info("Loaded roster", "dir", dir, "count", r.Len())
	return r, nil
}

// WithStandings returns a roster with the same characters reading
// relationship changes from a different source. Workers use it to bind the
// shared roster to one slot's world.
func (r *Roster) WithStandings(standings Standings) *Roster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Roster{
		pcs:       maps.Clone(r.pcs),
		standings: standings,
		logger:    r.logger,
	}
}

// Add registers a PC, replacing any with the same id
func (r *Roster) Add(pc *PC) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pcs[pc.Spec.ID] = pc
}

func (r *Roster) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pcs, id)
}

func (r *Roster) Get(id string) (*PC, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pc, ok := r.pcs[id]
	return pc, ok
}

// IDs returns the registered ids in sorted order
func (r *Roster) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.pcs))
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pcs)
}

// Query implements situation.Capabilities
func (r *Roster) Query(actorID string) (situation.CapabilitySet, error) {
	pc, ok := r.Get(actorID)
	if !ok {
		return situation.CapabilitySet{}, fmt.Errorf("unknown actor %q", actorID)
	}
	caps := pc.Capabilities()
	if r.standings == nil {
		return caps, nil
	}
	for npc, delta := range r.standings.Relationships() {
		if caps.Relationships == nil {
			caps.Relationships = make(map[string]int)
		}
		caps.Relationships[npc] += int(math.Round(delta))
	}
	return caps, nil
}
