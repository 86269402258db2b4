package engine

import (
	"fmt"
	"maps"
	"slices"

	"github.com/jwebster45206/situation-engine/pkg/conditionals"
	"github.com/jwebster45206/situation-engine/pkg/consequence"
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// SnapshotVersion is bumped whenever the persisted layout changes
const SnapshotVersion = 1

// Snapshot is everything needed to resume Advance deterministically after a
// reload: templates, instances, clues, investigations, pending
// consequences, counters and the clock.
type Snapshot struct {
	Version        int                      `json:"version"`
	Now            situation.Time           `json:"now"`
	Seeds          []situation.SeedTemplate `json:"seeds"`
	Effects        []situation.EffectSpec   `json:"effects,omitempty"`
	Instances      []*situation.Instance    `json:"instances"`
	Clues          []*situation.Clue        `json:"clues"`
	SpawnCounts    map[string]int           `json:"spawn_counts"`
	Investigations []*Investigation         `json:"investigations"`
	Scheduler      consequence.State        `json:"scheduler"`
	Journal        []JournalEntry           `json:"journal,omitempty"`
	JournalSeq     uint64                   `json:"journal_seq"`
}

// Snapshot captures the engine state. The result shares nothing with the engine.
func (e *Engine) Snapshot() *Snapshot {
	snap := &Snapshot{
		Version:        SnapshotVersion,
		Now:            e.now,
		Effects:        e.registry.Effects(),
		SpawnCounts:    maps.Clone(e.dir.spawns),
		Investigations: e.ledger.snapshot(),
		Scheduler:      e.sched.Snapshot(),
		Journal:        e.journal.Entries(),
		JournalSeq:     e.journal.Seq(),
	}
	for _, seed := range e.registry.Seeds() {
		snap.Seeds = append(snap.Seeds, seed.Clone())
	}
	for _, inst := range e.dir.Instances() {
		snap.Instances = append(snap.Instances, inst.Clone())
		for _, c := range e.dir.CluesOf(inst.ID) {
			cp := *c
			snap.Clues = append(snap.Clues, &cp)
		}
	}
	return snap
}

// Restore rebuilds an engine from a snapshot. Collaborators are supplied
// again since they are not part of the engine state.
func Restore(snap *Snapshot, cfg Config, world conditionals.WorldView, caps situation.Capabilities, router situation.EffectRouter, opts ...Option) (*Engine, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d (want %d)", snap.Version, SnapshotVersion)
	}

	registry := NewRegistry(nil)
	e := New(cfg, registry, world, caps, router, opts...)
	registry.log = e.log

	for _, spec := range snap.Effects {
		if err := registry.RegisterEffect(spec); err != nil {
			return nil, fmt.Errorf("failed to restore effect catalog: %w", err)
		}
	}
	for _, seed := range snap.Seeds {
		if err := registry.Register(seed); err != nil {
			return nil, fmt.Errorf("failed to restore seed %s: %w", seed.ID, err)
		}
	}

	if err := e.dir.restore(snap.Instances, snap.Clues, snap.SpawnCounts); err != nil {
		return nil, fmt.Errorf("failed to restore directory: %w", err)
	}
	for _, inst := range snap.Instances {
		if _, ok := registry.Seed(inst.SeedID); !ok {
			return nil, fmt.Errorf("situation %s refers to unknown seed %s", inst.ID, inst.SeedID)
		}
	}
	for _, rec := range snap.Investigations {
		if _, ok := e.dir.Get(rec.SituationID); !ok {
			return nil, fmt.Errorf("investigation of unknown situation %s", rec.SituationID)
		}
	}
	e.ledger.restore(snap.Investigations)
	if err := e.sched.Restore(snap.Scheduler); err != nil {
		return nil, fmt.Errorf("failed to restore scheduler: %w", err)
	}
	e.journal.restore(snap.Journal, snap.JournalSeq)
	e.now = snap.Now

	e.log.Info("Engine restored",
		"time", e.now,
		"seeds", registry.Len(),
		"situations", len(snap.Instances),
		"pending", e.sched.Len())
	return e, nil
}

func (d *Directory) restore(instances []*situation.Instance, clues []*situation.Clue, spawns map[string]int) error {
	d.instances = make(map[string]*situation.Instance, len(instances))
	d.order = d.order[:0]
	d.clues = make(map[string]*situation.Clue, len(clues))
	d.byOwner = make(map[string][]string)
	d.spawns = maps.Clone(spawns)
	if d.spawns == nil {
		d.spawns = make(map[string]int)
	}

	for _, inst := range instances {
		if inst == nil || inst.ID == "" {
			return fmt.Errorf("situation without id")
		}
		if _, dup := d.instances[inst.ID]; dup {
			return fmt.Errorf("duplicate situation %s", inst.ID)
		}
		if !slices.Contains(situation.States(), inst.State) {
			return fmt.Errorf("situation %s has unknown state %q", inst.ID, inst.State)
		}
		if inst.Ordinal > d.spawns[inst.SeedID] {
			d.spawns[inst.SeedID] = inst.Ordinal
		}
		d.instances[inst.ID] = inst.Clone()
		d.order = append(d.order, inst.ID)
	}
	for _, c := range clues {
		if _, ok := d.instances[c.SituationID]; !ok {
			return fmt.Errorf("clue %s belongs to unknown situation %s", c.ID, c.SituationID)
		}
		cp := *c
		if _, err := d.AddClue(&cp); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) restore(entries []JournalEntry, seq uint64) {
	j.entries = slices.Clone(entries)
	j.seq = seq
	if n := len(j.entries); n > 0 && j.entries[n-1].Seq > j.seq {
		j.seq = j.entries[n-1].Seq
	}
	if j.limit > 0 && len(j.entries) > j.limit {
		j.entries = slices.Delete(j.entries, 0, len(j.entries)-j.limit)
	}
}
