package consequence

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/situation-engine/pkg/conditionals"
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

type mapCatalog map[string]situation.EffectSpec

func (m mapCatalog) Effect(name string) (situation.EffectSpec, bool) {
	e, ok := m[name]
	return e, ok
}

// recordingApplier remembers which consequences were applied and in what order
type recordingApplier struct {
	applied []uint64
	labels  []string
	fail    map[uint64]error
}

func (r *recordingApplier) ApplyConsequence(t *Tracked, now situation.Time) error {
	if err := r.fail[t.ID]; err != nil {
		return err
	}
	r.applied = append(r.applied, t.ID)
	r.labels = append(r.labels, t.Effect.Text)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func notify(text string) situation.EffectSpec {
	return situation.EffectSpec{Kind: situation.KindNotify, Text: text}
}

func TestScheduler_DueTimes(t *testing.T) {
	s := New(nil, WithLogger(quietLogger()))
	now := situation.Time(100)

	imm, err := s.Enqueue(notify("now"), now, Origin{})
	require.NoError(t, err)
	assert.Equal(t, now, imm.Due)

	delayed := notify("later")
	delayed.Firing = situation.Firing{Mode: situation.FireDelayed, Delay: situation.Hour}
	d, err := s.Enqueue(delayed, now, Origin{})
	require.NoError(t, err)
	assert.Equal(t, now.Add(situation.Hour), d.Due)

	rec := notify("again")
	rec.Firing = situation.Firing{Mode: situation.FireRecurring, Interval: 30, MaxOccurrences: 2}
	r, err := s.Enqueue(rec, now, Origin{})
	require.NoError(t, err)
	assert.Equal(t, now.Add(30), r.Due)
	assert.Equal(t, 1, r.Occurrence)

	cond := notify("when")
	cond.Firing = situation.Firing{
		Mode:    situation.FireConditional,
		When:    conditionals.Predicate{{Var: "gate_open", Op: conditionals.OpEq, Value: conditionals.Bool(true)}},
		Timeout: situation.Day,
	}
	c, err := s.Enqueue(cond, now, Origin{})
	require.NoError(t, err)
	assert.Equal(t, now, c.Due)
	require.NotNil(t, c.Deadline)
	assert.Equal(t, now.Add(situation.Day), *c.Deadline)

	assert.Equal(t, 4, s.Len())
}

func TestScheduler_TickOrderIsDueThenFIFO(t *testing.T) {
	s := New(nil, WithLogger(quietLogger()))
	app := &recordingApplier{}

	late := notify("c")
	late.Firing = situation.Firing{Mode: situation.FireDelayed, Delay: 10}
	_, _ = s.Enqueue(late, 0, Origin{})
	_, _ = s.Enqueue(notify("a"), 0, Origin{})
	_, _ = s.Enqueue(notify("b"), 0, Origin{})

	results := s.Tick(20, conditionals.MapView{}, app)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"a", "b", "c"}, app.labels)
	for _, r := range results {
		assert.True(t, r.Consequence.Applied)
		assert.Equal(t, OutcomeApplied, r.Consequence.Outcome)
	}
	assert.Zero(t, s.Len())
}

func TestScheduler_TickIsIdempotent(t *testing.T) {
	s := New(nil, WithLogger(quietLogger()))
	app := &recordingApplier{}

	_, _ = s.Enqueue(notify("a"), 0, Origin{})
	later := notify("b")
	later.Firing = situation.Firing{Mode: situation.FireDelayed, Delay: 50}
	_, _ = s.Enqueue(later, 0, Origin{})

	view := conditionals.MapView{}
	first := s.Tick(10, view, app)
	second := s.Tick(10, view, app)

	assert.Len(t, first, 1)
	assert.Empty(t, second)
	assert.Equal(t, []string{"a"}, app.labels)
	assert.Equal(t, 1, s.Len())
}

func TestScheduler_RecurringStopsAtMaxOccurrences(t *testing.T) {
	s := New(nil, WithLogger(quietLogger()))
	app := &recordingApplier{}

	rec := notify("tax")
	rec.Firing = situation.Firing{Mode: situation.FireRecurring, Interval: situation.Day, MaxOccurrences: 3}
	_, err := s.Enqueue(rec, 0, Origin{SituationID: "s1"})
	require.NoError(t, err)

	s.Tick(situation.Time(situation.Day), conditionals.MapView{}, app)
	assert.Len(t, app.applied, 1)

	// A long jump catches up every remaining occurrence and no more
	s.Tick(situation.Time(30*situation.Day), conditionals.MapView{}, app)
	assert.Len(t, app.applied, 3)
	assert.Zero(t, s.Len())

	occurrences := []int{}
	for _, h := range s.History() {
		occurrences = append(occurrences, h.Occurrence)
	}
	assert.Equal(t, []int{1, 2, 3}, occurrences)
}

func TestScheduler_ConditionalFiresOrTimesOut(t *testing.T) {
	s := New(nil, WithLogger(quietLogger()))
	app := &recordingApplier{}
	when := conditionals.Predicate{{Var: "gate_open", Op: conditionals.OpEq, Value: conditionals.Bool(true)}}

	fires := notify("fires")
	fires.Firing = situation.Firing{Mode: situation.FireConditional, When: when, Timeout: 100}
	_, _ = s.Enqueue(fires, 0, Origin{})

	closed := conditionals.MapView{"gate_open": conditionals.Bool(false)}
	assert.Empty(t, s.Tick(10, closed, app))
	assert.Equal(t, 1, s.Len())

	open := conditionals.MapView{"gate_open": conditionals.Bool(true)}
	results := s.Tick(20, open, app)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeApplied, results[0].Consequence.Outcome)

	never := notify("never")
	never.Firing = situation.Firing{Mode: situation.FireConditional, When: when, Timeout: 100}
	_, _ = s.Enqueue(never, 20, Origin{})

	assert.Empty(t, s.Tick(119, closed, app))
	results = s.Tick(120, closed, app)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeConditionsNotMet, results[0].Consequence.Outcome)
	assert.False(t, results[0].Consequence.Applied)
	assert.Equal(t, []string{"fires"}, app.labels)
}

func TestScheduler_InfiniteCascadeTerminates(t *testing.T) {
	loop := notify("loop")
	loop.Then = []string{"loop"}
	catalog := mapCatalog{"loop": loop}

	s := New(catalog, WithMaxDepth(8), WithLogger(quietLogger()))
	app := &recordingApplier{}

	_, err := s.Enqueue(loop, 0, Origin{SituationID: "s1", RootID: "s1"})
	require.NoError(t, err)

	results := s.Tick(0, conditionals.MapView{}, app)

	// depths 0..8 apply, depth 9 is rejected
	assert.Len(t, app.applied, 9)
	require.NotEmpty(t, results)
	last := results[len(results)-1]
	assert.ErrorIs(t, last.Err, situation.ErrCascadeDepthExceeded)
	assert.Equal(t, OutcomeDepthExceeded, last.Consequence.Outcome)
	assert.Equal(t, 9, last.Consequence.Depth)
	assert.False(t, last.Consequence.Applied)
	assert.Zero(t, s.Len())

	for _, h := range s.History() {
		assert.LessOrEqual(t, h.Depth, 9)
	}
}

func TestScheduler_CascadeParentChain(t *testing.T) {
	catalog := mapCatalog{"followup": notify("followup")}
	s := New(catalog, WithLogger(quietLogger()))
	app := &recordingApplier{}

	root := notify("root")
	root.Then = []string{"followup"}
	parent, err := s.Enqueue(root, 0, Origin{SituationID: "s1", RootID: "s1"})
	require.NoError(t, err)

	results := s.Tick(0, conditionals.MapView{}, app)
	require.Len(t, results, 2)
	child := results[1].Consequence
	assert.Equal(t, parent.ID, child.ParentID)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, "s1", child.RootID)
}

func TestScheduler_FailedApplyIsNotRetried(t *testing.T) {
	s := New(nil, WithLogger(quietLogger()))
	tr, _ := s.Enqueue(notify("boom"), 0, Origin{})
	app := &recordingApplier{fail: map[uint64]error{tr.ID: errors.New("router offline")}}

	results := s.Tick(0, conditionals.MapView{}, app)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.Equal(t, OutcomeFailed, results[0].Consequence.Outcome)
	assert.Empty(t, s.Tick(5, conditionals.MapView{}, app))
}

func TestScheduler_CancelRoot(t *testing.T) {
	s := New(nil, WithLogger(quietLogger()))
	later := notify("later")
	later.Firing = situation.Firing{Mode: situation.FireDelayed, Delay: 10}

	_, _ = s.Enqueue(later, 0, Origin{SituationID: "a", RootID: "a"})
	_, _ = s.Enqueue(later, 0, Origin{SituationID: "child", RootID: "a"})
	_, _ = s.Enqueue(later, 0, Origin{SituationID: "b", RootID: "b"})

	cancelled := s.CancelRoot("a", 5)
	assert.Len(t, cancelled, 2)
	for _, c := range cancelled {
		assert.True(t, c.Cancelled)
		assert.Equal(t, OutcomeCancelled, c.Outcome)
	}

	app := &recordingApplier{}
	s.Tick(10, conditionals.MapView{}, app)
	assert.Len(t, app.applied, 1)
}

// voidingApplier voids a situation as soon as a given consequence lands,
// the way an abandon effect does
type voidingApplier struct {
	recordingApplier
	voidOn uint64
	target string
	voided map[string]bool
}

func (v *voidingApplier) ApplyConsequence(t *Tracked, now situation.Time) error {
	if err := v.recordingApplier.ApplyConsequence(t, now); err != nil {
		return err
	}
	if t.ID == v.voidOn {
		v.voided[v.target] = true
	}
	return nil
}

func (v *voidingApplier) Voided(id string) bool {
	return v.voided[id]
}

func TestScheduler_VoidedSituationSkipsFollowUps(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		wantApplied int
		wantPending int
	}{
		{name: "own situation voided", target: "s1", wantApplied: 1, wantPending: 0},
		{name: "root voided", target: "root", wantApplied: 1, wantPending: 0},
		{name: "unrelated situation voided", target: "other", wantApplied: 2, wantPending: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grudge := notify("grudge")
			grudge.Firing = situation.Firing{Mode: situation.FireDelayed, Delay: situation.Day}
			s := New(mapCatalog{"grudge": grudge, "gossip": notify("gossip")}, WithLogger(quietLogger()))

			walkout := notify("walkout")
			walkout.Then = []string{"grudge", "gossip"}
			walkout.Firing = situation.Firing{Mode: situation.FireRecurring, Interval: 10, MaxOccurrences: 2}
			tr, err := s.Enqueue(walkout, 0, Origin{SituationID: "s1", RootID: "root"})
			require.NoError(t, err)

			app := &voidingApplier{voidOn: tr.ID, target: tt.target, voided: map[string]bool{}}
			s.Tick(10, conditionals.MapView{}, app)

			// gossip fires at once when follow-ups are allowed; grudge and the
			// second walkout wait
			assert.Len(t, app.applied, tt.wantApplied)
			assert.Equal(t, tt.wantPending, s.Len())
		})
	}
}

func TestScheduler_TemporaryEffectIsReversed(t *testing.T) {
	type applied struct {
		magnitude float64
		at        situation.Time
	}
	var got []applied
	app := applierFunc(func(tr *Tracked, now situation.Time) error {
		got = append(got, applied{tr.Effect.Magnitude, now})
		return nil
	})

	s := New(nil, WithLogger(quietLogger()))
	snub := situation.EffectSpec{Kind: situation.KindRelationshipDelta, Selector: "smiths", Magnitude: -10, Duration: 2 * situation.Day}
	first, err := s.Enqueue(snub, 0, Origin{SituationID: "s1", RootID: "s1"})
	require.NoError(t, err)

	s.Tick(0, conditionals.MapView{}, app)
	require.Equal(t, 1, s.Len())
	reversal := s.Pending()[0]
	assert.Equal(t, first.ID, reversal.Reverses)
	assert.Equal(t, situation.Time(2*situation.Day), reversal.Due)
	assert.Zero(t, reversal.Effect.Duration)

	// abandoning the situation does not make the snub permanent
	assert.Empty(t, s.CancelRoot("s1", 10))

	s.Tick(situation.Time(2*situation.Day), conditionals.MapView{}, app)
	assert.Equal(t, []applied{{-10, 0}, {10, situation.Time(2 * situation.Day)}}, got)
	assert.Zero(t, s.Len())
}

type applierFunc func(t *Tracked, now situation.Time) error

func (f applierFunc) ApplyConsequence(t *Tracked, now situation.Time) error { return f(t, now) }

func TestScheduler_PlanRejectsUnknownCascade(t *testing.T) {
	s := New(mapCatalog{}, WithLogger(quietLogger()))
	bad := notify("x")
	bad.Then = []string{"missing"}

	err := s.Plan([]situation.EffectSpec{notify("ok"), bad})
	assert.ErrorIs(t, err, situation.ErrInvalidEffect)
	assert.Zero(t, s.Len())
}

func TestScheduler_SnapshotRestore(t *testing.T) {
	s := New(nil, WithLogger(quietLogger()))
	later := notify("later")
	later.Firing = situation.Firing{Mode: situation.FireDelayed, Delay: 60}
	_, _ = s.Enqueue(later, 0, Origin{SituationID: "s1"})
	_, _ = s.Enqueue(notify("now"), 0, Origin{SituationID: "s1"})
	s.Tick(0, conditionals.MapView{}, &recordingApplier{})

	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var st State
	require.NoError(t, json.Unmarshal(data, &st))
	restored := New(nil, WithLogger(quietLogger()))
	require.NoError(t, restored.Restore(st))

	origApp, restoredApp := &recordingApplier{}, &recordingApplier{}
	s.Tick(60, conditionals.MapView{}, origApp)
	restored.Tick(60, conditionals.MapView{}, restoredApp)
	assert.Equal(t, origApp.applied, restoredApp.applied)

	next, err := restored.Enqueue(notify("fresh"), 60, Origin{})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next.ID)
}

func TestScheduler_RestoreRejectsClosedPending(t *testing.T) {
	s := New(nil)
	err := s.Restore(State{NextID: 1, Pending: []*Tracked{{ID: 1, Applied: true}}})
	assert.Error(t, err)
}
