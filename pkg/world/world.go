package world

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/jwebster45206/situation-engine/pkg/conditionals"
)

// Variable name prefixes for the values the router maintains
const (
	RelationshipPrefix = "relationship."
	PricePrefix        = "price."
	ReactionPrefix     = "npc."
)

// Reaction is an NPC's remembered response to a consequence
type Reaction struct {
	NPC         string `json:"npc"`
	Text        string `json:"text"`
	SituationID string `json:"situation_id,omitempty"`
}

// World is an in-memory world: named variables plus the NPC reactions that
// effects leave behind. It implements conditionals.WorldView and
// situation.EffectRouter and is safe for concurrent use.
type World struct {
	mu        sync.RWMutex
	vars      map[string]conditionals.Value
	reactions []Reaction
	logger    *slog.Logger
}

// State is the serializable form of a World
type State struct {
	Vars      map[string]conditionals.Value `json:"vars"`
	Reactions []Reaction                    `json:"reactions,omitempty"`
}

func New(logger *slog.Logger) *World {
	if logger == nil {
		logger = slog.Default()
	}
	return &World{
		vars:   make(map[string]conditionals.Value),
		logger: logger,
	}
}

// FromState builds a world from saved state
func FromState(st State, logger *slog.Logger) *World {
	w := New(logger)
	w.Restore(st)
	return w
}

// Normalize turns a variable or selector name into its canonical form:
// lower case, with spaces and dashes as underscores. Dots are kept so
// names can be namespaced.
func Normalize(name string) string {
	var out strings.Builder
	prevUnderscore := false
	for i, r := range strings.TrimSpace(name) {
		if r >= 'A' && r <= 'Z' {
			r = r + ('a' - 'A')
		}
		if r == ' ' || r == '-' || r == '_' {
			if !prevUnderscore && i > 0 {
				out.WriteRune('_')
				prevUnderscore = true
			}
			continue
		}
		out.WriteRune(r)
		prevUnderscore = false
	}
	return out.String()
}

// Read implements conditionals.WorldView
func (w *World) Read(name string) (conditionals.Value, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.vars[Normalize(name)]
	if !ok {
		return conditionals.Value{}, false
	}
	return v.Clone(), true
}

// Snapshot implements conditionals.Snapshotter
func (w *World) Snapshot() conditionals.MapView {
	w.mu.RLock()
	defer w.mu.RUnlock()
	view := make(conditionals.MapView, len(w.vars))
	for k, v := range w.vars {
		view[k] = v.Clone()
	}
	return view
}

// Set writes a variable
func (w *World) Set(name string, v conditionals.Value) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.vars[Normalize(name)] = v.Clone()
}

// SetAll writes several variables from plain Go values (numbers, bools,
// strings and string slices)
func (w *World) SetAll(vars map[string]any) error {
	converted := make(map[string]conditionals.Value, len(vars))
	for name, raw := range vars {
		v, err := valueOf(raw)
		if err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
		converted[Normalize(name)] = v
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	maps.Copy(w.vars, converted)
	return nil
}

// Unset removes a variable
func (w *World) Unset(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.vars, Normalize(name))
}

// Number reads a numeric variable, treating anything else as 0
func (w *World) Number(name string) float64 {
	v, ok := w.Read(name)
	if !ok || v.Kind != conditionals.KindNumber {
		return 0
	}
	return v.Num
}

// Relationship is the player's standing with an NPC or faction
func (w *World) Relationship(selector string) float64 {
	return w.Number(RelationshipPrefix + selector)
}

// Relationships returns every recorded standing keyed by selector
func (w *World) Relationships() map[string]float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]float64)
	for k, v := range w.vars {
		if sel, ok := strings.CutPrefix(k, RelationshipPrefix); ok && v.Kind == conditionals.KindNumber {
			out[sel] = v.Num
		}
	}
	return out
}

// Reactions returns the reactions recorded for an NPC, oldest first. An
// empty npc returns every reaction.
func (w *World) Reactions(npc string) []Reaction {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if npc == "" {
		return slices.Clone(w.reactions)
	}
	npc = Normalize(npc)
	var out []Reaction
	for _, r := range w.reactions {
		if r.NPC == npc {
			out = append(out, r)
		}
	}
	return out
}

// Names lists the variable names in sorted order
func (w *World) Names() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Sorted(maps.Keys(w.vars))
}

// State copies the world for saving
func (w *World) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st := State{
		Vars:      make(map[string]conditionals.Value, len(w.vars)),
		Reactions: slices.Clone(w.reactions),
	}
	for k, v := range w.vars {
		st.Vars[k] = v.Clone()
	}
	return st
}

// Restore replaces the world with saved state
func (w *World) Restore(st State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.vars = make(map[string]conditionals.Value, len(st.Vars))
	for k, v := range st.Vars {
		w.vars[Normalize(k)] = v.Clone()
	}
	w.reactions = slices.Clone(st.Reactions)
}

func valueOf(raw any) (conditionals.Value, error) {
	switch v := raw.(type) {
	case conditionals.Value:
		return v.Clone(), nil
	case bool:
		return conditionals.Bool(v), nil
	case int:
		return conditionals.Number(float64(v)), nil
	case int64:
		return conditionals.Number(float64(v)), nil
	case float64:
		return conditionals.Number(v), nil
	case string:
		return conditionals.String(v), nil
	case []string:
		return conditionals.List(slices.Clone(v)...), nil
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, fmt.Sprint(item))
		}
		return conditionals.List(items...), nil
	}
	return conditionals.Value{}, fmt.Errorf("unsupported value type %T", raw)
}
