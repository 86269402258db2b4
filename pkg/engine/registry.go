package engine

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// Registry holds seed templates in registration order and the catalog of
// named effects that cascades refer to. Templates are never mutated once
// registered.
type Registry struct {
	seeds   []*situation.SeedTemplate
	index   map[string]int
	effects map[string]situation.EffectSpec
	log     *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		index:   make(map[string]int),
		effects: make(map[string]situation.EffectSpec),
		log:     log,
	}
}

// RegisterEffect adds a named effect to the catalog
func (r *Registry) RegisterEffect(spec situation.EffectSpec) error {
	if spec.ID == "" {
		return situation.Errorf(situation.CodeInvalidEffect, "catalog effect needs an id")
	}
	if _, exists := r.effects[spec.ID]; exists {
		return situation.Errorf(situation.CodeInvalidEffect, "duplicate catalog effect %q", spec.ID)
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("catalog effect %q: %w", spec.ID, err)
	}
	r.effects[spec.ID] = spec.Clone()
	return nil
}

// Register validates and appends a seed. Registration order is the
// tie-break the matcher uses between equal priorities.
func (r *Registry) Register(seed situation.SeedTemplate) error {
	if err := seed.Validate(); err != nil {
		return err
	}
	if _, exists := r.index[seed.ID]; exists {
		return situation.Errorf(situation.CodePredicateEval, "duplicate seed %q", seed.ID)
	}
	s := seed.Clone()
	r.index[s.ID] = len(r.seeds)
	r.seeds = append(r.seeds, &s)
	return nil
}

// Load registers each seed, logging and skipping the ones that fail.
// It returns the errors of the rejected seeds.
func (r *Registry) Load(seeds []situation.SeedTemplate) []error {
	var rejected []error
	for _, seed := range seeds {
		if err := r.Register(seed); err != nil {
			r.log.Error("Rejected seed", "seed_id", seed.ID, "error", err)
			rejected = append(rejected, err)
			continue
		}
		r.log.Debug("Registered seed", "seed_id", seed.ID, "priority", seed.Priority)
	}
	return rejected
}

// Verify checks every cross reference: cascade names must be in the catalog
// and spawn_seed selectors must name registered seeds. Seeds with dangling
// references are removed and reported.
func (r *Registry) Verify() []error {
	var problems []error

	for name, spec := range r.effects {
		for _, next := range spec.Then {
			if _, ok := r.effects[next]; !ok {
				problems = append(problems, situation.Errorf(situation.CodeInvalidEffect, "catalog effect %q cascades to unknown effect %q", name, next))
			}
		}
		if spec.Kind == situation.KindSpawnSeed {
			if _, ok := r.index[spec.Selector]; !ok {
				problems = append(problems, situation.Errorf(situation.CodeInvalidEffect, "catalog effect %q spawns unknown seed %q", name, spec.Selector))
			}
		}
	}

	var drop []string
	for _, seed := range r.seeds {
		names, seedRefs := seed.EffectRefs()
		for _, name := range names {
			if _, ok := r.effects[name]; !ok {
				problems = append(problems, situation.Errorf(situation.CodePredicateEval, "seed %q cascades to unknown effect %q", seed.ID, name))
				drop = append(drop, seed.ID)
			}
		}
		for _, ref := range seedRefs {
			if _, ok := r.index[ref]; !ok {
				problems = append(problems, situation.Errorf(situation.CodePredicateEval, "seed %q spawns unknown seed %q", seed.ID, ref))
				drop = append(drop, seed.ID)
			}
		}
	}

	for _, id := range drop {
		r.remove(id)
	}
	for _, err := range problems {
		r.log.Error("Content reference check failed", "error", err)
	}
	return problems
}

func (r *Registry) remove(id string) {
	i, ok := r.index[id]
	if !ok {
		return
	}
	r.seeds = slices.Delete(r.seeds, i, i+1)
	r.index = make(map[string]int, len(r.seeds))
	for j, s := range r.seeds {
		r.index[s.ID] = j
	}
	r.log.Warn("Removed seed with broken references", "seed_id", id)
}

// Seed looks up a template by id
func (r *Registry) Seed(id string) (*situation.SeedTemplate, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.seeds[i], true
}

// Order returns the registration position of a seed
func (r *Registry) Order(id string) int {
	if i, ok := r.index[id]; ok {
		return i
	}
	return -1
}

// Seeds returns the templates in registration order
func (r *Registry) Seeds() []*situation.SeedTemplate {
	return slices.Clone(r.seeds)
}

// Effect implements consequence.Catalog
func (r *Registry) Effect(name string) (situation.EffectSpec, bool) {
	e, ok := r.effects[name]
	if !ok {
		return situation.EffectSpec{}, false
	}
	return e.Clone(), true
}

// Effects returns the catalog sorted by name
func (r *Registry) Effects() []situation.EffectSpec {
	out := make([]situation.EffectSpec, 0, len(r.effects))
	for _, e := range r.effects {
		out = append(out, e.Clone())
	}
	slices.SortFunc(out, func(a, b situation.EffectSpec) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Len is the number of registered seeds
func (r *Registry) Len() int {
	return len(r.seeds)
}
