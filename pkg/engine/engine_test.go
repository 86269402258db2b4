package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/situation-engine/pkg/conditionals"
	"github.com/jwebster45206/situation-engine/pkg/consequence"
	"github.com/jwebster45206/situation-engine/pkg/situation"
	"github.com/jwebster45206/situation-engine/pkg/world"
)

const lostKeysJSON = `{
	"id": "lost_keys",
	"when": [{"var": "days_in_location", "op": "ge", "value": 3}],
	"discovery_methods": ["overheard", "found"],
	"clues": {
		"corridor": "Jenkins mutters about his missing keys.",
		"tavern": {"text": "A drunk swears the keys went into the river.", "red_herring": true}
	},
	"time_sensitive": true,
	"expiry": "24h",
	"branches": [{
		"id": "return_keys",
		"description": "Return the keys to Jenkins",
		"approach": "diplomacy",
		"requires": [{"kind": "item", "name": "guard_keys"}],
		"effects": [{"scope": "personal", "selector": "guard_jenkins", "kind": "relationship_delta", "magnitude": 5}]
	}],
	"ignore_effects": [{"scope": "personal", "selector": "guard_jenkins", "kind": "relationship_delta", "magnitude": -5}]
}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	t      *testing.T
	world  *world.World
	engine *Engine
	notes  []JournalEntry
}

var testCaps = situation.StaticCapabilities{
	"player":   {Items: []string{"guard_keys"}, Skills: map[string]int{"persuasion": 3}},
	"stranger": {},
}

func decodeSeed(t *testing.T, raw string) situation.SeedTemplate {
	t.Helper()
	var seed situation.SeedTemplate
	require.NoError(t, json.Unmarshal([]byte(raw), &seed))
	return seed
}

func newHarness(t *testing.T, cfg Config, effects []situation.EffectSpec, seeds ...string) *harness {
	t.Helper()
	log := quietLogger()
	reg := NewRegistry(log)
	for _, spec := range effects {
		require.NoError(t, reg.RegisterEffect(spec))
	}
	for _, raw := range seeds {
		require.NoError(t, reg.Register(decodeSeed(t, raw)))
	}
	require.Empty(t, reg.Verify())

	h := &harness{t: t, world: world.New(log)}
	h.engine = New(cfg, reg, h.world, testCaps, h.world,
		WithLogger(log),
		WithNotifier(NotifierFunc(func(e JournalEntry) { h.notes = append(h.notes, e) })))
	return h
}

func (h *harness) advance(at situation.Time) *TickReport {
	h.t.Helper()
	report, err := h.engine.Advance(at)
	require.NoError(h.t, err)
	return report
}

func (h *harness) only(seedID string) *situation.Instance {
	h.t.Helper()
	var found []*situation.Instance
	for _, inst := range h.engine.Situations() {
		if inst.SeedID == seedID {
			found = append(found, inst)
		}
	}
	require.Len(h.t, found, 1, "expected exactly one %s situation", seedID)
	return found[0]
}

func journalKinds(entries []JournalEntry) []EntryKind {
	kinds := make([]EntryKind, 0, len(entries))
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func TestLostKeysScenario(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, lostKeysJSON)

	for day := range 3 {
		h.world.Set("days_in_location", conditionals.Number(float64(day)))
		report := h.advance(situation.Time(day) * situation.Time(situation.Day))
		assert.Empty(t, report.Spawned, "day %d", day)
		assert.Empty(t, h.engine.Situations(), "seed must stay dormant on day %d", day)
	}

	day3 := situation.Time(3 * situation.Day)
	h.world.Set("days_in_location", conditionals.Number(3))
	report := h.advance(day3)
	require.Len(t, report.Spawned, 1)
	inst := h.only("lost_keys")
	assert.Equal(t, situation.StateDiscoverable, inst.State)
	assert.Equal(t, situation.InstanceID("lost_keys", 1), inst.ID)
	require.NotNil(t, inst.ExpiresAt)
	assert.Equal(t, day3.Add(24*situation.Hour), *inst.ExpiresAt)

	res := h.engine.NotifyDiscovery(situation.MethodOverheard, "corridor", "lost_keys")
	assert.Equal(t, []string{inst.ID}, res.Revealed)
	assert.Equal(t, []string{situation.ClueID(inst.ID, "corridor")}, res.CluesFound)
	inst = h.only("lost_keys")
	assert.Equal(t, situation.StateActive, inst.State)
	assert.Equal(t, situation.MethodOverheard, inst.DiscoveredBy)
	assert.True(t, inst.HasClue(situation.ClueID(inst.ID, "corridor")))

	_, err := h.engine.Resolve(inst.ID, "return_keys", "stranger")
	assert.ErrorIs(t, err, situation.ErrPrerequisiteNotMet)
	assert.Empty(t, h.engine.Pending())

	resolution, err := h.engine.Resolve(inst.ID, "return_keys", "player")
	require.NoError(t, err)
	assert.Equal(t, "return_keys", resolution.BranchID)
	require.Len(t, resolution.Consequences, 1)

	pending := h.engine.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, day3, pending[0].Due)
	assert.Equal(t, situation.KindRelationshipDelta, pending[0].Effect.Kind)
	assert.Equal(t, 5.0, pending[0].Effect.Magnitude)
	assert.Equal(t, situation.StateResolved, h.only("lost_keys").State)

	_, err = h.engine.Resolve(inst.ID, "return_keys", "player")
	assert.ErrorIs(t, err, situation.ErrAlreadyResolved)
	assert.Len(t, h.engine.Pending(), 1, "a second resolve must not enqueue anything")

	report = h.advance(day3)
	require.Len(t, report.Consequences, 1)
	assert.Equal(t, consequence.OutcomeApplied, report.Consequences[0].Outcome)
	assert.Equal(t, 5.0, h.world.Relationship("guard_jenkins"))
	assert.Empty(t, h.engine.Pending())

	// expiry no longer applies to a resolved situation
	h.advance(day3.Add(2 * situation.Day))
	assert.Equal(t, 5.0, h.world.Relationship("guard_jenkins"))
	assert.Len(t, h.engine.Situations(), 1, "non-repeatable seed must not respawn")

	assert.Equal(t, []EntryKind{EntrySpawned, EntryDiscovered, EntryClueFound, EntryResolvable, EntryResolved, EntryApplied},
		journalKinds(h.engine.Journal()))
}

func TestLostKeys_ExpiryAppliesIgnoreEffects(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, lostKeysJSON)
	h.world.Set("days_in_location", conditionals.Number(3))

	start := situation.Time(3 * situation.Day)
	h.advance(start)
	h.advance(start.Add(23 * situation.Hour))
	assert.Equal(t, situation.StateDiscoverable, h.only("lost_keys").State)

	report := h.advance(start.Add(24 * situation.Hour))
	inst := h.only("lost_keys")
	assert.Equal(t, []string{inst.ID}, report.Expired)
	assert.Equal(t, situation.StateExpired, inst.State)
	require.Len(t, report.Consequences, 1)
	assert.Equal(t, situation.IgnoreBranchID, h.engine.History()[0].BranchID)
	assert.Equal(t, -5.0, h.world.Relationship("guard_jenkins"))
	assert.Contains(t, journalKinds(h.engine.Journal()), EntryExpired)

	_, err := h.engine.Resolve(inst.ID, "ignore", "player")
	assert.ErrorIs(t, err, situation.ErrSituationClosed)
}

func TestAdvance_TimeRegression(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, lostKeysJSON)
	h.advance(100)
	h.advance(100)

	_, err := h.engine.Advance(99)
	assert.ErrorIs(t, err, situation.ErrTimeRegression)
	assert.Equal(t, situation.Time(100), h.engine.Now())
}

func TestResolve_ValidationLeavesNoTrace(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, lostKeysJSON)
	h.world.Set("days_in_location", conditionals.Number(5))
	h.advance(0)
	inst := h.only("lost_keys")

	_, err := h.engine.Resolve(inst.ID, "return_keys", "player")
	assert.ErrorIs(t, err, situation.ErrNotResolvable)

	h.engine.NotifyDiscovery(situation.MethodOverheard, "corridor", "")
	h.advance(10)
	require.Equal(t, situation.StateResolvable, h.only("lost_keys").State)

	before := h.engine.Snapshot()
	tests := []struct {
		name     string
		ref      string
		branch   string
		actor    string
		sentinel error
	}{
		{"unknown situation", "nope", "return_keys", "player", situation.ErrUnknownSituation},
		{"unknown branch", inst.ID, "bribe", "player", situation.ErrUnknownBranch},
		{"missing item", inst.ID, "return_keys", "stranger", situation.ErrPrerequisiteNotMet},
		{"unknown actor", inst.ID, "return_keys", "ghost", situation.ErrPrerequisiteNotMet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notes := len(h.notes)
			_, err := h.engine.Resolve(tt.ref, tt.branch, tt.actor)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, before, h.engine.Snapshot())
			require.Len(t, h.notes, notes+1)
			assert.Equal(t, EntryDeclined, h.notes[len(h.notes)-1].Kind)
		})
	}
}

func TestResolve_RefusedStraightFromActive(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, lostKeysJSON)
	h.world.Set("days_in_location", conditionals.Number(3))
	h.advance(0)
	h.engine.NotifyDiscovery(situation.MethodOverheard, "corridor", "lost_keys")
	inst := h.only("lost_keys")
	require.Equal(t, situation.StateActive, inst.State, "no tick has promoted it yet")

	before := h.engine.Snapshot()
	notes := len(h.notes)
	_, err := h.engine.Resolve(inst.ID, "return_keys", "stranger")
	assert.ErrorIs(t, err, situation.ErrPrerequisiteNotMet)
	assert.Equal(t, before, h.engine.Snapshot())
	assert.Equal(t, situation.StateActive, h.only("lost_keys").State)
	assert.Nil(t, h.only("lost_keys").ResolvableAt)
	assert.Equal(t, []EntryKind{EntryDeclined}, journalKinds(h.notes[notes:]))

	// the same call from a capable actor promotes and resolves in one go
	res, err := h.engine.Resolve(inst.ID, "return_keys", "player")
	require.NoError(t, err)
	assert.Equal(t, "return_keys", res.BranchID)
	assert.Equal(t, []EntryKind{EntryDeclined, EntryResolvable, EntryResolved}, journalKinds(h.notes[notes:]))
}

func TestNoDeadEndBranches(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, lostKeysJSON)
	h.world.Set("days_in_location", conditionals.Number(3))
	h.advance(0)
	h.engine.NotifyDiscovery(situation.MethodOverheard, "corridor", "lost_keys")
	h.advance(1)

	for _, actor := range []string{"player", "stranger", "ghost"} {
		summaries := h.engine.ListActive(actor)
		require.Len(t, summaries, 1)
		s := summaries[0]
		assert.Equal(t, situation.StateResolvable, s.State)
		assert.Equal(t, "Lost Keys", s.Name)

		selectable := 0
		for _, b := range s.Branches {
			if b.Available {
				selectable++
			}
		}
		assert.NotZero(t, selectable, "actor %s has no selectable branch", actor)
		assert.Equal(t, situation.IgnoreBranchID, s.Branches[len(s.Branches)-1].ID)
		assert.True(t, s.Branches[len(s.Branches)-1].Available)
	}

	opts, err := h.engine.AvailableBranches("lost_keys", "stranger")
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.False(t, opts[0].Available)
	assert.Equal(t, "requires guard_keys", opts[0].Reason)

	_, err = h.engine.Resolve("lost_keys", situation.IgnoreBranchID, "ghost")
	require.NoError(t, err)
	h.advance(1)
	assert.Equal(t, -5.0, h.world.Relationship("guard_jenkins"))
}

func TestDiscovery_Filters(t *testing.T) {
	tests := []struct {
		name   string
		method situation.Method
		source string
		hint   string
		match  bool
	}{
		{"matching", situation.MethodOverheard, "corridor", "lost_keys", true},
		{"no hint", situation.MethodOverheard, "corridor", "", true},
		{"wrong method", situation.MethodWitnessed, "corridor", "lost_keys", false},
		{"unknown source", situation.MethodOverheard, "stables", "lost_keys", false},
		{"other hint", situation.MethodOverheard, "corridor", "missing_cat", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig(), nil, lostKeysJSON)
			h.world.Set("days_in_location", conditionals.Number(3))
			h.advance(0)

			res := h.engine.NotifyDiscovery(tt.method, tt.source, tt.hint)
			assert.Equal(t, !tt.match, res.Empty())
			want := situation.StateDiscoverable
			if tt.match {
				want = situation.StateActive
			}
			assert.Equal(t, want, h.only("lost_keys").State)
		})
	}
}

func TestDiscovery_FirstEventWins(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, lostKeysJSON)
	h.world.Set("days_in_location", conditionals.Number(3))
	h.advance(0)
	inst := h.only("lost_keys")

	first := h.engine.NotifyDiscovery(situation.MethodOverheard, "corridor", "lost_keys")
	second := h.engine.NotifyDiscovery(situation.MethodFound, "tavern", "lost_keys")
	assert.Equal(t, []string{inst.ID}, first.Revealed)
	assert.Empty(t, second.Revealed)
	assert.Equal(t, []string{situation.ClueID(inst.ID, "tavern")}, second.CluesFound)
	assert.Equal(t, situation.MethodOverheard, h.only("lost_keys").DiscoveredBy)

	again := h.engine.NotifyDiscovery(situation.MethodOverheard, "corridor", "lost_keys")
	assert.True(t, again.Empty(), "recording a clue twice is a no-op")

	added, err := h.engine.AddClue(inst.ID, "corridor")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = h.engine.AddClue("nope", "corridor")
	assert.ErrorIs(t, err, situation.ErrUnknownSituation)

	rec, ok := h.engine.Investigation(inst.ID)
	require.True(t, ok)
	assert.Len(t, rec.Found, 2)
	assert.Equal(t, 1.0, rec.Confidence)
}

func TestAbandon_CancelsConsequencesByRoot(t *testing.T) {
	const feud = `{
		"id": "feud",
		"when": [{"var": "tension", "op": "gt", "value": 5}],
		"discovery_methods": ["witnessed"],
		"immediately_resolvable": true,
		"branches": [{
			"id": "provoke",
			"approach": "violence",
			"effects": [
				{"scope": "local", "selector": "tension", "kind": "var_delta", "magnitude": 1},
				{"scope": "faction", "selector": "smiths", "kind": "relationship_delta", "magnitude": -10, "firing": {"mode": "delayed", "delay": "2d"}},
				{"kind": "notify", "text": "The smiths are gathering.", "firing": {"mode": "recurring", "interval": "1d", "max_occurrences": 3}}
			]
		}]
	}`
	h := newHarness(t, DefaultConfig(), nil, feud)
	h.world.Set("tension", conditionals.Number(6))
	h.advance(0)
	h.engine.NotifyDiscovery(situation.MethodWitnessed, "market", "feud")

	res, err := h.engine.Resolve("feud", "provoke", "player")
	require.NoError(t, err)
	assert.InDelta(t, 0.45, res.Impact, 1e-9)
	assert.Equal(t, -30, res.Moral)

	h.advance(10)
	assert.Equal(t, 7.0, h.world.Number("tension"))
	assert.Len(t, h.engine.Pending(), 2)

	require.NoError(t, h.engine.Abandon(res.SituationID, "the smiths left town"))
	assert.Empty(t, h.engine.Pending())
	inst, err := h.engine.Situation(res.SituationID)
	require.NoError(t, err)
	assert.Equal(t, situation.StateAbandoned, inst.State)
	assert.Equal(t, "provoke", inst.BranchID)

	h.advance(situation.Time(5 * situation.Day))
	assert.Zero(t, h.world.Relationship("smiths"), "cancelled consequence must never fire")

	kinds := journalKinds(h.engine.Journal())
	assert.Contains(t, kinds, EntryAbandoned)
	assert.Contains(t, kinds, EntryCancelled)
	assert.NotContains(t, kinds, EntryNotice)

	err = h.engine.Abandon(res.SituationID, "again")
	assert.ErrorIs(t, err, situation.ErrSituationClosed)
	assert.ErrorIs(t, h.engine.Abandon("nope", ""), situation.ErrUnknownSituation)
}

func TestAbandon_LiveSituation(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, lostKeysJSON)
	h.world.Set("days_in_location", conditionals.Number(3))
	h.advance(0)

	require.NoError(t, h.engine.Abandon("lost_keys", "Jenkins died"))
	inst := h.only("lost_keys")
	assert.Equal(t, situation.StateAbandoned, inst.State)
	assert.Equal(t, "Jenkins died", inst.Outcome)

	h.advance(situation.Time(2 * situation.Day))
	assert.Zero(t, h.world.Relationship("guard_jenkins"), "abandoned situations do not expire into ignore effects")
	assert.True(t, h.engine.NotifyDiscovery(situation.MethodOverheard, "corridor", "").Empty())
}

// An abandon effect that voids its own situation must not leave the rest of
// that situation's chain running.
func TestAbandonEffect_VoidsOwnFollowUps(t *testing.T) {
	grudge := situation.EffectSpec{
		ID:        "grudge",
		Scope:     situation.ScopeFaction,
		Selector:  "smiths",
		Kind:      situation.KindRelationshipDelta,
		Magnitude: -10,
		Firing:    situation.Firing{Mode: situation.FireDelayed, Delay: situation.Day},
	}

	tests := []struct {
		name     string
		selector string
	}{
		{"by instance id", situation.InstanceID("strike", 1)},
		{"by seed id", "strike"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strike := fmt.Sprintf(`{
				"id": "strike",
				"when": [{"var": "go", "op": "eq", "value": true}],
				"discovery_methods": ["witnessed"],
				"immediately_resolvable": true,
				"branches": [{
					"id": "walk_out",
					"approach": "diplomacy",
					"effects": [
						{"scope": "local", "selector": %q, "kind": "abandon_situation", "text": "the guild gave in", "then": ["grudge"]},
						{"kind": "notify", "text": "The forges stay cold.", "firing": {"mode": "recurring", "interval": "1d", "max_occurrences": 3}}
					]
				}]
			}`, tt.selector)
			h := newHarness(t, DefaultConfig(), []situation.EffectSpec{grudge}, strike)
			h.world.Set("go", conditionals.Bool(true))
			h.advance(0)
			h.engine.NotifyDiscovery(situation.MethodWitnessed, "forge", "strike")
			_, err := h.engine.Resolve("strike", "walk_out", "player")
			require.NoError(t, err)

			h.advance(10)
			inst := h.only("strike")
			assert.Equal(t, situation.StateAbandoned, inst.State)
			assert.Equal(t, "the guild gave in", inst.Outcome)
			assert.Empty(t, h.engine.Pending())

			h.advance(situation.Time(3 * situation.Day))
			assert.Zero(t, h.world.Relationship("smiths"))
			assert.Zero(t, countKind(h.engine.Journal(), EntryNotice))
		})
	}
}

func TestAbandon_SeedIDReachesClosedSituation(t *testing.T) {
	const debt = `{
		"id": "debt",
		"when": [{"var": "go", "op": "eq", "value": true}],
		"discovery_methods": ["told"],
		"immediately_resolvable": true,
		"branches": [{
			"id": "borrow",
			"approach": "economic",
			"effects": [{"scope": "global", "selector": "interest", "kind": "var_delta", "magnitude": 1, "firing": {"mode": "delayed", "delay": "1d"}}]
		}]
	}`
	h := newHarness(t, DefaultConfig(), nil, debt)
	h.world.Set("go", conditionals.Bool(true))
	h.advance(0)
	h.engine.NotifyDiscovery(situation.MethodTold, "bank", "debt")
	res, err := h.engine.Resolve("debt", "borrow", "player")
	require.NoError(t, err)
	assert.Zero(t, res.Moral)
	require.Len(t, h.engine.Pending(), 1)

	require.NoError(t, h.engine.Abandon("debt", "the bank burned down"))
	assert.Empty(t, h.engine.Pending())
	assert.Equal(t, situation.StateAbandoned, h.only("debt").State)

	h.advance(situation.Time(2 * situation.Day))
	assert.Zero(t, h.world.Number("interest"))
	assert.ErrorIs(t, h.engine.Abandon("debt", "again"), situation.ErrSituationClosed)
}

func TestTemporaryEffect_ReversedAfterDuration(t *testing.T) {
	const insult = `{
		"id": "insult",
		"when": [{"var": "go", "op": "eq", "value": true}],
		"discovery_methods": ["witnessed"],
		"immediately_resolvable": true,
		"branches": [{
			"id": "mock",
			"approach": "violence",
			"effects": [
				{"scope": "faction", "selector": "smiths", "kind": "relationship_delta", "magnitude": -10, "duration": "2d"},
				{"scope": "faction", "selector": "bakers", "kind": "relationship_delta", "magnitude": -5}
			]
		}]
	}`
	h := newHarness(t, DefaultConfig(), nil, insult)
	h.world.Set("go", conditionals.Bool(true))
	h.advance(0)
	h.engine.NotifyDiscovery(situation.MethodWitnessed, "square", "insult")
	res, err := h.engine.Resolve("insult", "mock", "player")
	require.NoError(t, err)

	h.advance(10)
	assert.Equal(t, -10.0, h.world.Relationship("smiths"))
	pending := h.engine.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, res.Consequences[0], pending[0].Reverses)

	// voiding the situation does not make the snub permanent
	require.NoError(t, h.engine.Abandon(res.SituationID, "apologised"))
	require.Len(t, h.engine.Pending(), 1)

	h.advance(situation.Time(10 + 2*situation.Day - 1))
	assert.Equal(t, -10.0, h.world.Relationship("smiths"))

	h.advance(situation.Time(10 + 2*situation.Day))
	assert.Zero(t, h.world.Relationship("smiths"))
	assert.Equal(t, -5.0, h.world.Relationship("bakers"))
	assert.Empty(t, h.engine.Pending())
}

func TestMoralImpact(t *testing.T) {
	tests := []struct {
		approach situation.Approach
		want     int
	}{
		{situation.ApproachViolence, -30},
		{situation.ApproachStealth, -10},
		{situation.ApproachDiplomacy, 20},
		{situation.ApproachEconomic, 0},
		{situation.ApproachSupernatural, 0},
		{situation.ApproachIgnore, -20},
	}
	for _, tt := range tests {
		t.Run(string(tt.approach), func(t *testing.T) {
			assert.Equal(t, tt.want, MoralImpact(tt.approach))
		})
	}
}

// Expiry is inclusive: a situation is gone on the tick that reaches its
// expiry time.
func TestExpiry_Boundary(t *testing.T) {
	tests := []struct {
		name  string
		after situation.Duration
		want  situation.State
	}{
		{"one minute before", 24*situation.Hour - situation.Minute, situation.StateDiscoverable},
		{"exactly at expiry", 24 * situation.Hour, situation.StateExpired},
		{"past expiry", 24*situation.Hour + situation.Minute, situation.StateExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig(), nil, lostKeysJSON)
			h.world.Set("days_in_location", conditionals.Number(3))
			h.advance(0)
			h.advance(situation.Time(0).Add(tt.after))
			assert.Equal(t, tt.want, h.only("lost_keys").State)
		})
	}
}
