package engine

import (
	"fmt"
	"slices"

	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// matches returns every dormant seed whose predicate holds, best first:
// priority descending, then registration order.
func (e *Engine) matches() []*situation.SeedTemplate {
	view := e.currentView()
	var out []*situation.SeedTemplate
	for _, seed := range e.registry.Seeds() {
		if !e.dir.Dormant(seed) {
			continue
		}
		if seed.When.Evaluate(view) {
			out = append(out, seed)
		}
	}
	// Seeds() is in registration order, so a stable sort keeps it as the tie-break
	slices.SortStableFunc(out, func(a, b *situation.SeedTemplate) int {
		return b.Priority - a.Priority
	})
	return out
}

// freeSlots is the number of situations that may still surface, or -1 for
// no limit
func (e *Engine) freeSlots() int {
	if e.cfg.MaxDiscoverable <= 0 {
		return -1
	}
	return max(e.cfg.MaxDiscoverable-len(e.dir.InState(situation.StateDiscoverable)), 0)
}

// activate promotes matching dormant seeds to discoverable situations.
// Seeds that lose on capacity are skipped for this tick, not queued.
func (e *Engine) activate() []*situation.Instance {
	slots := e.freeSlots()
	var spawned []*situation.Instance
	for _, seed := range e.matches() {
		if slots == 0 {
			e.log.Debug("Discovery slots full, skipping seed", "seed_id", seed.ID, "priority", seed.Priority)
			continue
		}
		inst, err := e.spawn(seed, 0, "", 0)
		if err != nil {
			e.log.Error("Failed to spawn situation", "seed_id", seed.ID, "error", err)
			continue
		}
		spawned = append(spawned, inst)
		if slots > 0 {
			slots--
		}
	}
	return spawned
}

// spawn instantiates a seed as a discoverable situation and creates its
// authored clues
func (e *Engine) spawn(seed *situation.SeedTemplate, depth int, rootID string, causedBy uint64) (*situation.Instance, error) {
	inst := e.dir.Spawn(seed, e.now, depth, rootID, causedBy)
	if err := e.dir.Transition(inst, situation.EventActivate, e.now); err != nil {
		return nil, err
	}
	for _, src := range seed.ClueSources() {
		if _, err := e.dir.AddClue(situation.NewClue(inst.ID, src, seed.Clues[src], e.now)); err != nil {
			return nil, fmt.Errorf("failed to create clue %s: %w", src, err)
		}
	}

	e.record(EntrySpawned, inst, fmt.Sprintf("Something is stirring: %s.", seed.DisplayName()))
	e.log.Info("Situation spawned",
		"situation_id", inst.ID,
		"seed_id", seed.ID,
		"depth", depth,
		"time", e.now)
	return inst, nil
}
