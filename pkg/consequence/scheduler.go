package consequence

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/jwebster45206/situation-engine/pkg/conditionals"
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

const (
	// DefaultMaxDepth is the cascade ceiling when none is configured
	DefaultMaxDepth = 8
	// DefaultHistoryLimit bounds how many closed consequences are retained
	DefaultHistoryLimit = 256
)

// Catalog resolves the named effects a cascade refers to
type Catalog interface {
	Effect(name string) (situation.EffectSpec, bool)
}

// Applier realises a due consequence. Implementations must validate fully
// before writing anything, so a returned error means nothing changed.
type Applier interface {
	ApplyConsequence(t *Tracked, now situation.Time) error
}

// Voider is optionally implemented by appliers. A consequence whose owning
// or root situation has been voided still lands, but its recurrences and
// cascades are not enqueued.
type Voider interface {
	Voided(situationID string) bool
}

// Scheduler owns every tracked consequence from enqueue until it is applied,
// cancelled or dropped. It is not safe for concurrent use.
type Scheduler struct {
	catalog      Catalog
	maxDepth     int
	historyLimit int
	log          *slog.Logger

	nextID  uint64
	pending []*Tracked
	history []*Tracked
}

type Option func(*Scheduler)

func WithMaxDepth(depth int) Option {
	return func(s *Scheduler) {
		if depth >= 0 {
			s.maxDepth = depth
		}
	}
}

func WithHistoryLimit(limit int) Option {
	return func(s *Scheduler) {
		if limit > 0 {
			s.historyLimit = limit
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates an empty scheduler. catalog may be nil when no effect uses cascades.
func New(catalog Catalog, opts ...Option) *Scheduler {
	s := &Scheduler{
		catalog:      catalog,
		maxDepth:     DefaultMaxDepth,
		historyLimit: DefaultHistoryLimit,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxDepth returns the configured cascade ceiling
func (s *Scheduler) MaxDepth() int {
	return s.maxDepth
}

// Plan checks that every spec could be enqueued, without enqueuing anything
func (s *Scheduler) Plan(specs []situation.EffectSpec) error {
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("effect %d: %w", i, err)
		}
		for _, name := range spec.Then {
			if s.catalog == nil {
				return situation.Errorf(situation.CodeInvalidEffect, "effect %d cascades to %q but no catalog is loaded", i, name)
			}
			if _, ok := s.catalog.Effect(name); !ok {
				return situation.Errorf(situation.CodeInvalidEffect, "effect %d cascades to unknown effect %q", i, name)
			}
		}
	}
	return nil
}

// Enqueue binds spec to a due time computed from its firing policy. When the
// origin depth is past the ceiling the consequence is recorded as dropped and
// returned together with a CascadeDepthExceeded error.
func (s *Scheduler) Enqueue(spec situation.EffectSpec, now situation.Time, origin Origin) (*Tracked, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	s.nextID++
	t := &Tracked{
		ID:          s.nextID,
		Effect:      spec.Clone(),
		SituationID: origin.SituationID,
		RootID:      origin.RootID,
		BranchID:    origin.BranchID,
		ParentID:    origin.ParentID,
		Depth:       origin.Depth,
		EnqueuedAt:  now,
		Due:         now,
	}

	if origin.Depth > s.maxDepth {
		detail := fmt.Sprintf("depth %d exceeds ceiling %d", origin.Depth, s.maxDepth)
		t.close(OutcomeDepthExceeded, now, detail)
		s.remember(t)
		s.log.Warn("Cascade depth exceeded, dropping effect",
			"consequence_id", t.ID,
			"parent_id", origin.ParentID,
			"situation_id", origin.SituationID,
			"effect", spec.Label(),
			"depth", origin.Depth,
			"max_depth", s.maxDepth)
		return t, situation.Errorf(situation.CodeCascadeDepthExceeded, "%s", detail).For(origin.SituationID)
	}

	switch spec.Firing.EffectiveMode() {
	case situation.FireDelayed:
		t.Due = now.Add(spec.Firing.Delay)
	case situation.FireRecurring:
		t.Due = now.Add(spec.Firing.Interval)
		t.Occurrence = 1
	case situation.FireConditional:
		t.Deadline = situation.TimePtr(now.Add(spec.Firing.Timeout))
	}

	s.pending = append(s.pending, t)
	s.log.Debug("Consequence enqueued",
		"consequence_id", t.ID,
		"situation_id", t.SituationID,
		"effect", spec.Label(),
		"due", t.Due,
		"depth", t.Depth)
	return t, nil
}

// Tick applies every pending consequence due at or before now, in due order
// with ties broken by enqueue order. Consequences enqueued while ticking are
// processed in the same pass when they are due. Conditional consequences are
// checked against view; those still waiting stay queued.
func (s *Scheduler) Tick(now situation.Time, view conditionals.WorldView, applier Applier) []Result {
	var results []Result
	waiting := make(map[uint64]bool)

	for {
		next := s.nextDue(now, waiting)
		if next == nil {
			break
		}

		if next.Effect.Firing.EffectiveMode() == situation.FireConditional && !next.Effect.Firing.When.Evaluate(view) {
			if next.Deadline != nil && now >= *next.Deadline {
				s.remove(next.ID)
				next.close(OutcomeConditionsNotMet, now, "conditions never met")
				s.remember(next)
				s.log.Info("Conditional consequence timed out",
					"consequence_id", next.ID,
					"situation_id", next.SituationID,
					"effect", next.Effect.Label())
				results = append(results, Result{Consequence: next.Clone()})
				continue
			}
			waiting[next.ID] = true
			continue
		}

		results = append(results, s.fire(next, now, applier)...)
	}

	return results
}

func (s *Scheduler) fire(t *Tracked, now situation.Time, applier Applier) []Result {
	s.remove(t.ID)

	if err := applier.ApplyConsequence(t, now); err != nil {
		t.close(OutcomeFailed, now, err.Error())
		s.remember(t)
		s.log.Error("Failed to apply consequence",
			"consequence_id", t.ID,
			"situation_id", t.SituationID,
			"effect", t.Effect.Label(),
			"error", err)
		return []Result{{Consequence: t.Clone(), Err: err}}
	}

	t.close(OutcomeApplied, now, "")
	s.remember(t)
	s.log.Info("Consequence applied",
		"consequence_id", t.ID,
		"situation_id", t.SituationID,
		"effect", t.Effect.Label(),
		"depth", t.Depth)
	results := []Result{{Consequence: t.Clone()}}

	if t.Effect.Duration > 0 && t.Reverses == 0 {
		s.enqueueReversal(t, now)
	}

	if v, ok := applier.(Voider); ok && (v.Voided(t.SituationID) || v.Voided(t.RootID)) {
		s.log.Info("Situation voided, skipping follow-ups",
			"consequence_id", t.ID,
			"situation_id", t.SituationID,
			"root_id", t.RootID)
		return results
	}

	if t.Effect.Firing.EffectiveMode() == situation.FireRecurring && t.Occurrence < t.Effect.Firing.MaxOccurrences {
		s.nextID++
		again := &Tracked{
			ID:          s.nextID,
			Effect:      t.Effect.Clone(),
			SituationID: t.SituationID,
			RootID:      t.RootID,
			BranchID:    t.BranchID,
			ParentID:    t.ParentID,
			Depth:       t.Depth,
			EnqueuedAt:  now,
			Due:         t.Due.Add(t.Effect.Firing.Interval),
			Occurrence:  t.Occurrence + 1,
		}
		s.pending = append(s.pending, again)
	}

	for _, name := range t.Effect.Then {
		spec, ok := s.lookup(name)
		if !ok {
			err := situation.Errorf(situation.CodeInvalidEffect, "unknown cascade effect %q", name).For(t.SituationID)
			s.log.Error("Cascade refers to unknown effect", "consequence_id", t.ID, "effect", name)
			results = append(results, Result{Consequence: t.Clone(), Err: err})
			continue
		}
		child, err := s.Enqueue(spec, now, Origin{
			SituationID: t.SituationID,
			RootID:      t.RootID,
			BranchID:    t.BranchID,
			ParentID:    t.ID,
			Depth:       t.Depth + 1,
		})
		if err != nil {
			if child != nil {
				results = append(results, Result{Consequence: child.Clone(), Err: err})
			} else {
				results = append(results, Result{Consequence: t.Clone(), Err: err})
			}
		}
	}

	return results
}

// enqueueReversal schedules the negated effect for when a temporary
// effect runs out
func (s *Scheduler) enqueueReversal(t *Tracked, now situation.Time) {
	s.nextID++
	r := &Tracked{
		ID:          s.nextID,
		Effect:      t.Effect.Reversal(),
		SituationID: t.SituationID,
		RootID:      t.RootID,
		BranchID:    t.BranchID,
		ParentID:    t.ID,
		Depth:       t.Depth,
		EnqueuedAt:  now,
		Due:         now.Add(t.Effect.Duration),
		Reverses:    t.ID,
	}
	s.pending = append(s.pending, r)
	s.log.Debug("Reversal enqueued",
		"consequence_id", r.ID,
		"reverses", t.ID,
		"effect", r.Effect.Label(),
		"due", r.Due)
}

func (s *Scheduler) lookup(name string) (situation.EffectSpec, bool) {
	if s.catalog == nil {
		return situation.EffectSpec{}, false
	}
	return s.catalog.Effect(name)
}

func (s *Scheduler) nextDue(now situation.Time, skip map[uint64]bool) *Tracked {
	var best *Tracked
	for _, t := range s.pending {
		if t.Due > now || skip[t.ID] {
			continue
		}
		if best == nil || t.before(best) {
			best = t
		}
	}
	return best
}

func (s *Scheduler) remove(id uint64) {
	s.pending = slices.DeleteFunc(s.pending, func(t *Tracked) bool { return t.ID == id })
}

func (s *Scheduler) remember(t *Tracked) {
	s.history = append(s.history, t)
	if over := len(s.history) - s.historyLimit; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
}

// CancelRoot cancels every pending consequence caused by the situation,
// directly or through a chain rooted at it. Reversals of temporary effects
// that already landed stay queued.
func (s *Scheduler) CancelRoot(situationID string, now situation.Time) []*Tracked {
	var cancelled []*Tracked
	kept := s.pending[:0]
	for _, t := range s.pending {
		if t.Reverses == 0 && (t.RootID == situationID || t.SituationID == situationID) {
			t.close(OutcomeCancelled, now, "situation abandoned")
			s.remember(t)
			cancelled = append(cancelled, t.Clone())
			continue
		}
		kept = append(kept, t)
	}
	clear(s.pending[len(kept):])
	s.pending = kept

	if len(cancelled) > 0 {
		s.log.Info("Cancelled pending consequences", "situation_id", situationID, "count", len(cancelled))
	}
	return cancelled
}

// Pending returns copies of the queued consequences in firing order
func (s *Scheduler) Pending() []*Tracked {
	out := make([]*Tracked, len(s.pending))
	for i, t := range s.pending {
		out[i] = t.Clone()
	}
	slices.SortFunc(out, func(a, b *Tracked) int {
		if a.before(b) {
			return -1
		}
		if b.before(a) {
			return 1
		}
		return 0
	})
	return out
}

// History returns copies of recently closed consequences, oldest first
func (s *Scheduler) History() []*Tracked {
	out := make([]*Tracked, len(s.history))
	for i, t := range s.history {
		out[i] = t.Clone()
	}
	return out
}

// Len is the number of pending consequences
func (s *Scheduler) Len() int {
	return len(s.pending)
}

// Snapshot captures the scheduler state
func (s *Scheduler) Snapshot() State {
	return State{
		NextID:  s.nextID,
		Pending: s.Pending(),
		History: s.History(),
	}
}

// Restore replaces the scheduler state with st
func (s *Scheduler) Restore(st State) error {
	seen := make(map[uint64]bool, len(st.Pending))
	pending := make([]*Tracked, 0, len(st.Pending))
	for _, t := range st.Pending {
		if t == nil {
			continue
		}
		if t.ID == 0 || t.ID > st.NextID {
			return fmt.Errorf("pending consequence %d is outside the id range (next %d)", t.ID, st.NextID)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate pending consequence %d", t.ID)
		}
		if t.Applied || t.Cancelled {
			return fmt.Errorf("pending consequence %d is already closed", t.ID)
		}
		seen[t.ID] = true
		pending = append(pending, t.Clone())
	}

	history := make([]*Tracked, 0, len(st.History))
	for _, t := range st.History {
		if t != nil {
			history = append(history, t.Clone())
		}
	}

	s.nextID = st.NextID
	s.pending = pending
	s.history = history
	if over := len(s.history) - s.historyLimit; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
	return nil
}
