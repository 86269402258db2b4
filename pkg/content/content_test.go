package content

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/situation-engine/pkg/actor"
	"github.com/jwebster45206/situation-engine/pkg/engine"
	"github.com/jwebster45206/situation-engine/pkg/situation"
	"github.com/jwebster45206/situation-engine/pkg/world"
)

const packDir = "../../data/packs"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader(quietLogger())
	require.NoError(t, err)
	return l
}

func TestLoadDir_SamplePacks(t *testing.T) {
	packs, err := newLoader(t).LoadDir(packDir)
	require.NoError(t, err)
	require.Len(t, packs, 2)
	assert.Equal(t, "lost_keys", packs[0].Name)
	assert.Equal(t, "market", packs[1].Name)

	reg := engine.NewRegistry(quietLogger())
	assert.Empty(t, Register(reg, packs...))
	assert.Equal(t, 3, reg.Len())
	assert.Len(t, reg.Effects(), 3)

	seed, ok := reg.Seed("lost_keys")
	require.True(t, ok)
	assert.Equal(t, situation.Duration(24*60), seed.Expiry)
	assert.True(t, seed.Clues["tavern"].RedHerring)
	assert.Equal(t, 6, seed.Priority)

	grain, ok := reg.Seed("grain_theft")
	require.True(t, ok)
	assert.Equal(t, situation.DefaultPriority, grain.Priority)
	assert.Equal(t, situation.ThresholdNOfM, grain.Threshold.Mode)
}

func TestParse_YAMLMatchesJSON(t *testing.T) {
	l := newLoader(t)
	yamlDoc := `
seeds:
  - id: rats
    when: [{var: cellar_open, op: eq, value: true}]
    discovery_methods: [stumbled]
    clues:
      droppings: Droppings everywhere.
    expiry: 90
`
	jsonDoc := `{"seeds": [{
		"id": "rats",
		"when": [{"var": "cellar_open", "op": "eq", "value": true}],
		"discovery_methods": ["stumbled"],
		"clues": {"droppings": "Droppings everywhere."},
		"expiry": 90
	}]}`

	fromYAML, err := l.Parse("rats.yml", []byte(yamlDoc))
	require.NoError(t, err)
	fromJSON, err := l.Parse("rats.json", []byte(jsonDoc))
	require.NoError(t, err)

	require.Len(t, fromYAML.Seeds, 1)
	assert.Equal(t, fromJSON.Seeds, fromYAML.Seeds)
	assert.Equal(t, "rats", fromYAML.Name, "name falls back to the file name")
}

func TestParse_RejectsBadSeedsAndKeepsTheRest(t *testing.T) {
	doc := `{"seeds": [
		{"id": "good", "when": [{"var": "x", "op": "eq", "value": 1}], "discovery_methods": ["told"]},
		{"id": "Bad Id", "when": [{"var": "x", "op": "eq", "value": 1}], "discovery_methods": ["told"]},
		{"id": "no_methods", "when": [{"var": "x", "op": "eq", "value": 1}], "discovery_methods": []},
		{"id": "unknown_field", "when": [{"var": "x", "op": "eq", "value": 1}], "discovery_methods": ["told"], "reward": 5},
		{"id": "too_demanding", "when": [{"var": "x", "op": "eq", "value": 1}], "discovery_methods": ["found"],
		 "clues": {"a": "A clue."}, "threshold": {"mode": "n_of_m", "n": 3}},
		{"id": "bad_op", "when": [{"var": "x", "op": "roughly", "value": 1}], "discovery_methods": ["told"]}
	]}`

	pack, err := newLoader(t).Parse("mixed.json", []byte(doc))
	require.NoError(t, err)
	require.Len(t, pack.Seeds, 1)
	assert.Equal(t, "good", pack.Seeds[0].ID)
	require.Len(t, pack.Rejected, 5)
	for _, err := range pack.Rejected {
		assert.ErrorIs(t, err, situation.ErrPredicateEval)
	}
}

func TestParse_InvalidPacks(t *testing.T) {
	tests := []struct {
		name string
		file string
		doc  string
	}{
		{"catalog effect without id", "a.json", `{"effects": [{"kind": "notify", "text": "hi"}]}`},
		{"unknown effect kind", "b.json", `{"effects": [{"id": "x", "kind": "teleport"}]}`},
		{"unknown top-level key", "c.json", `{"quests": []}`},
		{"not an object", "d.json", `[]`},
		{"broken JSON", "e.json", `{"seeds": [`},
		{"broken YAML", "f.yaml", "seeds: [\n  - id: x\n bad"},
		{"empty YAML", "g.yaml", ""},
	}
	l := newLoader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Parse(tt.file, []byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestRegister_ReportsEveryProblem(t *testing.T) {
	l := newLoader(t)
	first, err := l.Parse("first.json", []byte(`{
		"effects": [{"id": "echo", "kind": "notify", "text": "again", "then": ["missing"]}],
		"seeds": [
			{"id": "spawner", "when": [{"var": "x", "op": "eq", "value": 1}], "discovery_methods": ["told"],
			 "ignore_effects": [{"kind": "spawn_seed", "selector": "ghost"}]},
			{"id": "Bad", "when": [], "discovery_methods": ["told"]}
		]
	}`))
	require.NoError(t, err)
	second, err := l.Parse("second.json", []byte(`{
		"effects": [{"id": "echo", "kind": "notify", "text": "duplicate"}],
		"seeds": [{"id": "fine", "when": [{"var": "x", "op": "eq", "value": 1}], "discovery_methods": ["told"]}]
	}`))
	require.NoError(t, err)

	reg := engine.NewRegistry(quietLogger())
	problems := Register(reg, first, second)
	// rejected seed, duplicate effect, dangling cascade, dangling spawn
	assert.Len(t, problems, 4)
	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Seed("fine")
	assert.True(t, ok)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := newLoader(t).LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadDir_SkipsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not content"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "one.yaml"), []byte("seeds: []\n"), 0644))

	packs, err := newLoader(t).LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, packs, 1)
	assert.Equal(t, "one", packs[0].Name)
}

// The sample packs, the sample character and the reference world together
// play out the lost keys story end to end.
func TestSampleContent_LostKeysEndToEnd(t *testing.T) {
	log := quietLogger()
	packs, err := newLoader(t).LoadDir(packDir)
	require.NoError(t, err)
	reg := engine.NewRegistry(log)
	require.Empty(t, Register(reg, packs...))

	w := world.New(log)
	require.NoError(t, w.SetAll(map[string]any{"days_in_location": 3, "season": "spring"}))
	roster, err := actor.LoadRoster("../../data/pcs", w, log)
	require.NoError(t, err)

	e := engine.New(engine.DefaultConfig(), reg, w, roster, w, engine.WithLogger(log))

	report, err := e.Advance(0)
	require.NoError(t, err)
	require.Len(t, report.Spawned, 1, "only lost_keys matches in spring")
	id := report.Spawned[0]

	found := e.NotifyDiscovery(situation.MethodOverheard, "corridor", "lost_keys")
	assert.Equal(t, []string{id}, found.Revealed)

	_, err = e.Advance(situation.Time(situation.Hour))
	require.NoError(t, err)

	options, err := e.AvailableBranches(id, "player")
	require.NoError(t, err)
	byID := map[string]engine.BranchOption{}
	for _, o := range options {
		byID[o.ID] = o
	}
	assert.True(t, byID["return_keys"].Available)
	assert.False(t, byID["sell_keys"].Available, "the player has no standing with the smugglers")

	res, err := e.Resolve(id, "return_keys", "player")
	require.NoError(t, err)
	assert.Len(t, res.Consequences, 2)

	_, err = e.Advance(situation.Time(2 * situation.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5.0, w.Relationship("guard_jenkins"))
	require.Len(t, w.Reactions("guard_jenkins"), 1)

	caps, err := roster.Query("player")
	require.NoError(t, err)
	assert.Equal(t, 6, caps.Relationships["guard_jenkins"], "baseline 1 plus the world's 5")
}
