package conditionals

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Op is a comparison operator
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpLt       Op = "lt"
	OpLe       Op = "le"
	OpGt       Op = "gt"
	OpGe       Op = "ge"
	OpIn       Op = "in"
	OpContains Op = "contains"
)

var opAliases = map[string]Op{
	"==": OpEq, "=": OpEq, "eq": OpEq,
	"!=": OpNe, "ne": OpNe,
	"<": OpLt, "lt": OpLt,
	"<=": OpLe, "le": OpLe,
	">": OpGt, "gt": OpGt,
	">=": OpGe, "ge": OpGe,
	"in":       OpIn,
	"contains": OpContains,
}

// ParseOp accepts both symbolic ("<=") and named ("le") operators
func ParseOp(s string) (Op, error) {
	op, ok := opAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown operator %q", s)
	}
	return op, nil
}

// UnmarshalJSON normalizes symbolic operators to their named form
func (o *Op) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	op, err := ParseOp(s)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

func (o Op) ordering() bool {
	return o == OpLt || o == OpLe || o == OpGt || o == OpGe
}

// Comparison tests one named world variable against a literal
type Comparison struct {
	Var   string `json:"var"`
	Op    Op     `json:"op"`
	Value Value  `json:"value"`
}

func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.Var, c.Op, c.Value)
}

// Validate checks that the operator and literal kinds fit together
func (c Comparison) Validate() error {
	if strings.TrimSpace(c.Var) == "" {
		return errors.New("variable name is required")
	}
	if _, ok := opAliases[string(c.Op)]; !ok {
		return fmt.Errorf("unknown operator %q", c.Op)
	}
	if c.Value.IsZero() {
		return fmt.Errorf("%s: value is required", c.Var)
	}
	switch {
	case c.Op.ordering():
		if c.Value.Kind != KindNumber {
			return fmt.Errorf("%s: operator %s needs a number, got %s", c.Var, c.Op, c.Value.Kind)
		}
	case c.Op == OpIn:
		if c.Value.Kind != KindList {
			return fmt.Errorf("%s: operator in needs a list, got %s", c.Var, c.Value.Kind)
		}
	case c.Op == OpContains:
		if c.Value.Kind != KindString && c.Value.Kind != KindNumber {
			return fmt.Errorf("%s: operator contains needs a scalar, got %s", c.Var, c.Value.Kind)
		}
	}
	return nil
}

// Holds reports whether the comparison is satisfied by actual
func (c Comparison) Holds(actual Value) bool {
	switch c.Op {
	case OpEq:
		return actual.Equal(c.Value)
	case OpNe:
		return !actual.Equal(c.Value)
	case OpLt, OpLe, OpGt, OpGe:
		if actual.Kind != KindNumber {
			return false
		}
		switch c.Op {
		case OpLt:
			return actual.Num < c.Value.Num
		case OpLe:
			return actual.Num <= c.Value.Num
		case OpGt:
			return actual.Num > c.Value.Num
		default:
			return actual.Num >= c.Value.Num
		}
	case OpIn:
		if actual.Kind == KindList {
			return false
		}
		return slices.Contains(c.Value.List, actual.String())
	case OpContains:
		switch actual.Kind {
		case KindList:
			return slices.Contains(actual.List, c.Value.String())
		case KindString:
			return strings.Contains(actual.Str, c.Value.String())
		}
	}
	return false
}

// Predicate is a conjunction of comparisons
type Predicate []Comparison

// Clone returns a deep copy
func (p Predicate) Clone() Predicate {
	if p == nil {
		return nil
	}
	out := make(Predicate, len(p))
	for i, c := range p {
		c.Value = c.Value.Clone()
		out[i] = c
	}
	return out
}

// Validate reports the first malformed comparison
func (p Predicate) Validate() error {
	for i, c := range p {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("comparison %d: %w", i, err)
		}
	}
	return nil
}

// Evaluate checks every comparison against the view. A variable the view
// cannot read fails its comparison. An empty predicate holds.
func (p Predicate) Evaluate(view WorldView) bool {
	for _, c := range p {
		actual, ok := view.Read(c.Var)
		if !ok {
			return false
		}
		if !c.Holds(actual) {
			return false
		}
	}
	return true
}

// Vars returns the distinct variable names the predicate reads
func (p Predicate) Vars() []string {
	var names []string
	for _, c := range p {
		if !slices.Contains(names, c.Var) {
			names = append(names, c.Var)
		}
	}
	return names
}

func (p Predicate) String() string {
	parts := make([]string, len(p))
	for i, c := range p {
		parts[i] = c.String()
	}
	return strings.Join(parts, " and ")
}

// WorldView is the minimal read interface predicates need.
// Implementations must not mutate anything when read.
type WorldView interface {
	Read(name string) (Value, bool)
}

// MapView adapts a plain map to WorldView
type MapView map[string]Value

func (m MapView) Read(name string) (Value, bool) {
	v, ok := m[name]
	return v, ok
}
