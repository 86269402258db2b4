package engine

import (
	"fmt"
	"log/slog"

	"github.com/jwebster45206/situation-engine/pkg/conditionals"
	"github.com/jwebster45206/situation-engine/pkg/consequence"
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// Config holds the engine tuning knobs
type Config struct {
	MaxCascadeDepth int `json:"max_cascade_depth" yaml:"max_cascade_depth"`
	MaxDiscoverable int `json:"max_discoverable" yaml:"max_discoverable"` // 0 means unlimited
	JournalLimit    int `json:"journal_limit" yaml:"journal_limit"`
	HistoryLimit    int `json:"history_limit" yaml:"history_limit"`
}

func DefaultConfig() Config {
	return Config{
		MaxCascadeDepth: consequence.DefaultMaxDepth,
		MaxDiscoverable: 0,
		JournalLimit:    500,
		HistoryLimit:    consequence.DefaultHistoryLimit,
	}
}

// Engine advances situations and their consequences through world time.
// It is single-threaded: callers serialise every method call.
type Engine struct {
	cfg      Config
	registry *Registry
	world    conditionals.WorldView
	caps     situation.Capabilities
	router   situation.EffectRouter
	notifier Notifier
	log      *slog.Logger

	now     situation.Time
	dir     *Directory
	ledger  *Ledger
	sched   *consequence.Scheduler
	journal *Journal
	view    *conditionals.Frozen
}

type Option func(*Engine)

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithStartTime sets the clock of a fresh engine
func WithStartTime(t situation.Time) Option {
	return func(e *Engine) {
		e.now = t
	}
}

// New creates an engine over a loaded registry. world, caps and router are
// the external collaborators; none is held as a global.
func New(cfg Config, registry *Registry, world conditionals.WorldView, caps situation.Capabilities, router situation.EffectRouter, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		world:    world,
		caps:     caps,
		router:   router,
		log:      slog.Default(),
		dir:      NewDirectory(),
		journal:  NewJournal(cfg.JournalLimit),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ledger = NewLedger(e.dir, registry)
	e.sched = consequence.New(registry,
		consequence.WithMaxDepth(cfg.MaxCascadeDepth),
		consequence.WithHistoryLimit(cfg.HistoryLimit),
		consequence.WithLogger(e.log))
	return e
}

// Now is the engine clock
func (e *Engine) Now() situation.Time {
	return e.now
}

// Registry exposes the loaded templates
func (e *Engine) Registry() *Registry {
	return e.registry
}

// TickReport summarises one Advance call
type TickReport struct {
	Time         situation.Time       `json:"time"`
	Spawned      []string             `json:"spawned,omitempty"`
	Expired      []string             `json:"expired,omitempty"`
	Promoted     []string             `json:"promoted,omitempty"`
	Consequences []ConsequenceOutcome `json:"consequences,omitempty"`
}

// ConsequenceOutcome is the externally visible form of a scheduler result
type ConsequenceOutcome struct {
	ID          uint64              `json:"id"`
	SituationID string              `json:"situation_id,omitempty"`
	Effect      string              `json:"effect"`
	Outcome     consequence.Outcome `json:"outcome"`
	Depth       int                 `json:"depth"`
	Error       string              `json:"error,omitempty"`
}

// Advance moves the clock to t and runs one tick: activation, expiry,
// investigation promotion, then due consequences. Every predicate in the
// tick reads the same frozen world snapshot.
func (e *Engine) Advance(t situation.Time) (*TickReport, error) {
	if t < e.now {
		return nil, situation.Errorf(situation.CodeTimeRegression, "cannot advance from %s back to %s", e.now, t)
	}
	e.now = t
	e.view = conditionals.Freeze(e.world)
	defer func() { e.view = nil }()

	report := &TickReport{Time: t}

	for _, inst := range e.activate() {
		report.Spawned = append(report.Spawned, inst.ID)
	}
	report.Expired = e.expire()
	report.Promoted = e.promote()

	for _, r := range e.sched.Tick(t, e.view, e) {
		report.Consequences = append(report.Consequences, e.recordResult(r))
	}

	e.log.Debug("Advanced world time",
		"time", t,
		"spawned", len(report.Spawned),
		"expired", len(report.Expired),
		"promoted", len(report.Promoted),
		"consequences", len(report.Consequences),
		"pending", e.sched.Len())
	return report, nil
}

// currentView is the frozen view inside a tick, or a fresh one outside
func (e *Engine) currentView() conditionals.WorldView {
	if e.view != nil {
		return e.view
	}
	return conditionals.Freeze(e.world)
}

// expire closes every live situation whose expiry time has been reached and
// enqueues its ignore effects
func (e *Engine) expire() []string {
	var expired []string
	for _, inst := range e.dir.InState(situation.StateDiscoverable, situation.StateActive, situation.StateResolvable) {
		if inst.ExpiresAt == nil || e.now < *inst.ExpiresAt {
			continue
		}
		seed, ok := e.registry.Seed(inst.SeedID)
		if !ok {
			continue
		}
		if err := e.dir.Transition(inst, situation.EventExpire, e.now); err != nil {
			e.log.Error("Failed to expire situation", "situation_id", inst.ID, "error", err)
			continue
		}
		inst.Outcome = "expired"
		expired = append(expired, inst.ID)
		e.record(EntryExpired, inst, fmt.Sprintf("%s is no longer relevant.", seed.DisplayName()))
		e.log.Info("Situation expired", "situation_id", inst.ID, "seed_id", inst.SeedID)

		ignore := seed.IgnoreBranch()
		for _, spec := range ignore.Effects {
			e.enqueue(spec, inst, ignore.ID)
		}
	}
	return expired
}

// promote moves active situations whose investigation is complete to resolvable
func (e *Engine) promote() []string {
	var promoted []string
	for _, inst := range e.dir.InState(situation.StateActive) {
		if e.checkResolvable(inst) {
			promoted = append(promoted, inst.ID)
		}
	}
	return promoted
}

func (e *Engine) checkResolvable(inst *situation.Instance) bool {
	if inst.State != situation.StateActive {
		return false
	}
	ok, err := e.ledger.IsResolvable(inst.ID)
	if err != nil || !ok {
		return false
	}
	if err := e.dir.Transition(inst, situation.EventCluesComplete, e.now); err != nil {
		e.log.Error("Failed to promote situation", "situation_id", inst.ID, "error", err)
		return false
	}
	e.record(EntryResolvable, inst, fmt.Sprintf("You know enough to act on %s.", e.displayName(inst)))
	return true
}

// enqueue schedules an effect caused by inst. Depth overflow is recorded,
// never fatal.
func (e *Engine) enqueue(spec situation.EffectSpec, inst *situation.Instance, branchID string) *consequence.Tracked {
	t, err := e.sched.Enqueue(spec, e.now, consequence.Origin{
		SituationID: inst.ID,
		RootID:      inst.RootID,
		BranchID:    branchID,
		ParentID:    inst.CausedBy,
		Depth:       inst.Depth,
	})
	if err != nil {
		if t != nil {
			e.recordResult(consequence.Result{Consequence: t, Err: err})
		} else {
			e.log.Error("Failed to enqueue effect", "situation_id", inst.ID, "effect", spec.Label(), "error", err)
		}
		return nil
	}
	return t
}

func (e *Engine) recordResult(r consequence.Result) ConsequenceOutcome {
	t := r.Consequence
	out := ConsequenceOutcome{
		ID:          t.ID,
		SituationID: t.SituationID,
		Effect:      t.Effect.Label(),
		Outcome:     t.Outcome,
		Depth:       t.Depth,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}

	inst, _ := e.dir.Get(t.SituationID)
	switch {
	case r.Err != nil && situation.CodeOf(r.Err) == situation.CodeCascadeDepthExceeded:
		e.record(EntryCascadeLimit, inst, fmt.Sprintf("Ripples fade: %s was dropped (%s).", t.Effect.Label(), t.Detail))
	case t.Outcome == consequence.OutcomeApplied:
		if t.Effect.Kind != situation.KindNotify {
			e.record(EntryApplied, inst, t.Effect.Label())
		}
	case t.Outcome == consequence.OutcomeConditionsNotMet:
		e.record(EntryDropped, inst, fmt.Sprintf("%s never came to pass.", t.Effect.Label()))
	case r.Err != nil:
		e.record(EntryFailed, inst, fmt.Sprintf("%s failed: %s", t.Effect.Label(), situation.ReasonOf(r.Err)))
	}
	return out
}

// record appends a journal entry and pushes it to the notifier. inst may be nil.
func (e *Engine) record(kind EntryKind, inst *situation.Instance, text string) {
	entry := JournalEntry{Time: e.now, Kind: kind, Text: text}
	if inst != nil {
		entry.SituationID = inst.ID
		entry.SeedID = inst.SeedID
	}
	entry = e.journal.append(entry)
	if e.notifier != nil {
		e.notifier.Notify(entry)
	}
}

// decline reports a refused action to the notifier without touching engine state
func (e *Engine) decline(inst *situation.Instance, err error) {
	if e.notifier == nil {
		return
	}
	entry := JournalEntry{Time: e.now, Kind: EntryDeclined, Text: situation.ReasonOf(err)}
	if inst != nil {
		entry.SituationID = inst.ID
		entry.SeedID = inst.SeedID
	}
	e.notifier.Notify(entry)
}

func (e *Engine) displayName(inst *situation.Instance) string {
	if seed, ok := e.registry.Seed(inst.SeedID); ok {
		return seed.DisplayName()
	}
	return inst.SeedID
}

// Journal returns the retained journal entries
func (e *Engine) Journal() []JournalEntry {
	return e.journal.Entries()
}

// JournalSince returns entries newer than seq
func (e *Engine) JournalSince(seq uint64) []JournalEntry {
	return e.journal.Since(seq)
}

// Pending returns the queued consequences in firing order
func (e *Engine) Pending() []*consequence.Tracked {
	return e.sched.Pending()
}

// History returns recently closed consequences
func (e *Engine) History() []*consequence.Tracked {
	return e.sched.History()
}

// Situation returns a copy of an instance
func (e *Engine) Situation(id string) (*situation.Instance, error) {
	inst, ok := e.dir.Get(id)
	if !ok {
		return nil, situation.Errorf(situation.CodeUnknownSituation, "no situation %s", id).For(id)
	}
	return inst.Clone(), nil
}

// Situations returns copies of every instance in spawn order
func (e *Engine) Situations() []*situation.Instance {
	all := e.dir.Instances()
	out := make([]*situation.Instance, len(all))
	for i, inst := range all {
		out[i] = inst.Clone()
	}
	return out
}

// Clues returns copies of a situation's clues
func (e *Engine) Clues(situationID string) []situation.Clue {
	var out []situation.Clue
	for _, c := range e.dir.CluesOf(situationID) {
		out = append(out, *c)
	}
	return out
}
