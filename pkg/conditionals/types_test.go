package conditionals

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingView records how often each variable was read
type countingView struct {
	vars  map[string]Value
	reads map[string]int
}

func (c *countingView) Read(name string) (Value, bool) {
	if c.reads == nil {
		c.reads = make(map[string]int)
	}
	c.reads[name]++
	v, ok := c.vars[name]
	return v, ok
}

func TestComparison_Holds(t *testing.T) {
	tests := []struct {
		name   string
		cmp    Comparison
		actual Value
		want   bool
	}{
		{"eq number", Comparison{"x", OpEq, Number(3)}, Number(3), true},
		{"eq different kind", Comparison{"x", OpEq, Number(3)}, String("3"), false},
		{"ne string", Comparison{"x", OpNe, String("a")}, String("b"), true},
		{"lt", Comparison{"x", OpLt, Number(3)}, Number(2), true},
		{"le equal", Comparison{"x", OpLe, Number(3)}, Number(3), true},
		{"gt false", Comparison{"x", OpGt, Number(3)}, Number(3), false},
		{"ge", Comparison{"x", OpGe, Number(3)}, Number(4), true},
		{"ge on bool", Comparison{"x", OpGe, Number(1)}, Bool(true), false},
		{"in list", Comparison{"x", OpIn, List("red", "blue")}, String("blue"), true},
		{"in list miss", Comparison{"x", OpIn, List("red", "blue")}, String("green"), false},
		{"in numeric", Comparison{"x", OpIn, List("1", "2")}, Number(2), true},
		{"contains list", Comparison{"x", OpContains, String("keys")}, List("sword", "keys"), true},
		{"contains string", Comparison{"x", OpContains, String("war")}, String("civil_war"), true},
		{"contains on number", Comparison{"x", OpContains, String("1")}, Number(1), false},
		{"eq bool", Comparison{"x", OpEq, Bool(true)}, Bool(true), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cmp.Holds(tt.actual))
		})
	}
}

func TestComparison_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cmp     Comparison
		wantErr bool
	}{
		{"valid", Comparison{"tension", OpGe, Number(3)}, false},
		{"missing var", Comparison{"", OpEq, Number(1)}, true},
		{"unknown op", Comparison{"x", Op("~"), Number(1)}, true},
		{"missing value", Comparison{"x", OpEq, Value{}}, true},
		{"ordering on string", Comparison{"x", OpLt, String("a")}, true},
		{"in without list", Comparison{"x", OpIn, String("a")}, true},
		{"contains list literal", Comparison{"x", OpContains, List("a")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmp.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPredicate_UnmarshalJSON(t *testing.T) {
	raw := `[
		{"var": "days_in_location", "op": ">=", "value": 3},
		{"var": "guard_jenkins.has_keys", "op": "==", "value": false},
		{"var": "weather", "op": "in", "value": ["rain", "fog"]}
	]`

	var p Predicate
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	require.Len(t, p, 3)
	assert.Equal(t, OpGe, p[0].Op)
	assert.Equal(t, Number(3), p[0].Value)
	assert.Equal(t, OpEq, p[1].Op)
	assert.Equal(t, Bool(false), p[1].Value)
	assert.Equal(t, List("rain", "fog"), p[2].Value)
	assert.NoError(t, p.Validate())

	view := MapView{
		"days_in_location":       Number(3),
		"guard_jenkins.has_keys": Bool(false),
		"weather":                String("fog"),
	}
	assert.True(t, p.Evaluate(view))

	view["weather"] = String("sun")
	assert.False(t, p.Evaluate(view))
}

func TestPredicate_UnknownOperatorRejected(t *testing.T) {
	var p Predicate
	err := json.Unmarshal([]byte(`[{"var":"x","op":"approximately","value":1}]`), &p)
	assert.Error(t, err)
}

func TestPredicate_MissingVariableFails(t *testing.T) {
	p := Predicate{{Var: "missing", Op: OpNe, Value: Number(1)}}
	assert.False(t, p.Evaluate(MapView{}))
}

func TestPredicate_EmptyHolds(t *testing.T) {
	assert.True(t, Predicate(nil).Evaluate(MapView{}))
}

// Evaluate must agree with a direct per-comparison check over random worlds.
func TestPredicate_EvaluateMatchesComparisons(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	vars := []string{"tension", "scarcity", "reputation", "day"}
	ops := []Op{OpEq, OpNe, OpLt, OpLe, OpGt, OpGe}

	for i := 0; i < 500; i++ {
		var p Predicate
		for j := 0; j < 1+rng.Intn(3); j++ {
			p = append(p, Comparison{
				Var:   vars[rng.Intn(len(vars))],
				Op:    ops[rng.Intn(len(ops))],
				Value: Number(float64(rng.Intn(5))),
			})
		}
		require.NoError(t, p.Validate())

		view := MapView{}
		for _, name := range vars {
			if rng.Intn(6) == 0 {
				continue
			}
			view[name] = Number(float64(rng.Intn(5)))
		}

		want := true
		for _, c := range p {
			v, ok := view[c.Var]
			if !ok || !c.Holds(v) {
				want = false
				break
			}
		}
		assert.Equal(t, want, p.Evaluate(view), "predicate %s", p)
	}
}

func TestFrozen_MemoizesReads(t *testing.T) {
	base := &countingView{vars: map[string]Value{"tension": Number(1)}}
	f := Freeze(base)

	v, ok := f.Read("tension")
	require.True(t, ok)
	assert.Equal(t, Number(1), v)

	base.vars["tension"] = Number(9)
	v, _ = f.Read("tension")
	assert.Equal(t, Number(1), v, "frozen view should not see later writes")

	_, ok = f.Read("absent")
	assert.False(t, ok)
	_, _ = f.Read("absent")

	assert.Equal(t, 1, base.reads["tension"])
	assert.Equal(t, 1, base.reads["absent"])
}

func TestValue_JSONRoundTrip(t *testing.T) {
	for _, v := range []Value{Number(2.5), Bool(true), String("x"), List("a", "b")} {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		var back Value
		require.NoError(t, json.Unmarshal(data, &back))
		assert.True(t, v.Equal(back), "round trip of %s", v)
	}
}
