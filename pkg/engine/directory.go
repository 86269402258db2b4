package engine

import (
	"errors"
	"slices"

	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// Directory is the authoritative table of situation instances and clues.
// Every state change goes through Transition.
type Directory struct {
	instances map[string]*situation.Instance
	order     []string // spawn order
	clues     map[string]*situation.Clue
	byOwner   map[string][]string // situation id -> clue ids, creation order
	spawns    map[string]int      // seed id -> number of instances spawned
}

func NewDirectory() *Directory {
	return &Directory{
		instances: make(map[string]*situation.Instance),
		clues:     make(map[string]*situation.Clue),
		byOwner:   make(map[string][]string),
		spawns:    make(map[string]int),
	}
}

// Spawn creates the next instance of seed in the dormant state. The caller
// activates it.
func (d *Directory) Spawn(seed *situation.SeedTemplate, now situation.Time, depth int, rootID string, causedBy uint64) *situation.Instance {
	ordinal := d.spawns[seed.ID] + 1
	d.spawns[seed.ID] = ordinal

	inst := &situation.Instance{
		ID:        situation.InstanceID(seed.ID, ordinal),
		SeedID:    seed.ID,
		Ordinal:   ordinal,
		State:     situation.StateDormant,
		SpawnedAt: now,
		Depth:     depth,
		RootID:    rootID,
		CausedBy:  causedBy,
	}
	if inst.RootID == "" {
		inst.RootID = inst.ID
	}
	if seed.TimeSensitive {
		inst.ExpiresAt = situation.TimePtr(now.Add(seed.Expiry))
	}

	d.instances[inst.ID] = inst
	d.order = append(d.order, inst.ID)
	return inst
}

// Transition moves inst along ev and stamps the matching timestamp
func (d *Directory) Transition(inst *situation.Instance, ev situation.Event, now situation.Time) error {
	next, err := situation.Transition(inst.State, ev)
	if err != nil {
		var serr *situation.Error
		if errors.As(err, &serr) {
			serr.For(inst.ID)
		}
		return err
	}
	inst.State = next
	switch next {
	case situation.StateActive:
		inst.DiscoveredAt = situation.TimePtr(now)
	case situation.StateResolvable:
		inst.ResolvableAt = situation.TimePtr(now)
	case situation.StateResolved, situation.StateExpired, situation.StateAbandoned:
		inst.ClosedAt = situation.TimePtr(now)
	}
	return nil
}

// Get returns the live record. Callers outside the engine receive clones.
func (d *Directory) Get(id string) (*situation.Instance, bool) {
	inst, ok := d.instances[id]
	return inst, ok
}

// Instances returns every instance in spawn order
func (d *Directory) Instances() []*situation.Instance {
	out := make([]*situation.Instance, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.instances[id])
	}
	return out
}

// InState returns instances in any of the given states, in spawn order
func (d *Directory) InState(states ...situation.State) []*situation.Instance {
	var out []*situation.Instance
	for _, id := range d.order {
		inst := d.instances[id]
		if slices.Contains(states, inst.State) {
			out = append(out, inst)
		}
	}
	return out
}

// Live returns the newest live instance of a seed, if any
func (d *Directory) Live(seedID string) *situation.Instance {
	for i := len(d.order) - 1; i >= 0; i-- {
		inst := d.instances[d.order[i]]
		if inst.SeedID == seedID && inst.State.Live() {
			return inst
		}
	}
	return nil
}

// Spawned is the number of instances a seed has produced
func (d *Directory) Spawned(seedID string) int {
	return d.spawns[seedID]
}

// Dormant reports whether the seed is eligible for activation: no live
// instance, and either never spawned or repeatable
func (d *Directory) Dormant(seed *situation.SeedTemplate) bool {
	if d.Live(seed.ID) != nil {
		return false
	}
	return d.spawns[seed.ID] == 0 || seed.Repeatable
}

// Lookup finds an instance by id. A seed id picks the newest live instance
// of that seed, or its newest instance of all when none is live.
func (d *Directory) Lookup(ref string) (*situation.Instance, bool) {
	if inst, ok := d.instances[ref]; ok {
		return inst, true
	}
	if inst := d.Live(ref); inst != nil {
		return inst, true
	}
	for i := len(d.order) - 1; i >= 0; i-- {
		if inst := d.instances[d.order[i]]; inst.SeedID == ref {
			return inst, true
		}
	}
	return nil, false
}

// AddClue records a clue. A clue id already owned by another situation is
// rejected; re-adding the same clue is a no-op.
func (d *Directory) AddClue(c *situation.Clue) (bool, error) {
	if existing, ok := d.clues[c.ID]; ok {
		if existing.SituationID != c.SituationID {
			return false, situation.Errorf(situation.CodeInvalidEffect, "clue %s already belongs to %s", c.ID, existing.SituationID)
		}
		return false, nil
	}
	d.clues[c.ID] = c
	d.byOwner[c.SituationID] = append(d.byOwner[c.SituationID], c.ID)
	return true, nil
}

// Clue looks up a clue by id
func (d *Directory) Clue(id string) (*situation.Clue, bool) {
	c, ok := d.clues[id]
	return c, ok
}

// CluesOf returns a situation's clues in creation order
func (d *Directory) CluesOf(situationID string) []*situation.Clue {
	ids := d.byOwner[situationID]
	out := make([]*situation.Clue, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.clues[id])
	}
	return out
}

// ClueAt returns the clue a situation holds at source
func (d *Directory) ClueAt(situationID, source string) (*situation.Clue, bool) {
	return d.Clue(situation.ClueID(situationID, source))
}
