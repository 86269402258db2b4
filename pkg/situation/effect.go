package situation

import (
	"fmt"
	"slices"

	"github.com/jwebster45206/situation-engine/pkg/conditionals"
)

// Scope is the breadth of the world an effect touches
type Scope string

const (
	ScopePersonal Scope = "personal"
	ScopeLocal    Scope = "local"
	ScopeFaction  Scope = "faction"
	ScopeRegional Scope = "regional"
	ScopeGlobal   Scope = "global"
)

var scopes = []Scope{ScopePersonal, ScopeLocal, ScopeFaction, ScopeRegional, ScopeGlobal}

// EffectKind is the closed set of world mutations
type EffectKind string

const (
	// Routed to the EffectRouter
	KindRelationshipDelta EffectKind = "relationship_delta"
	KindPriceModifier     EffectKind = "price_modifier"
	KindFlagSet           EffectKind = "flag_set"
	KindVarSet            EffectKind = "var_set"
	KindVarDelta          EffectKind = "var_delta"
	KindNPCReaction       EffectKind = "npc_reaction"

	// Realised by the engine itself
	KindSpawnSeed        EffectKind = "spawn_seed"
	KindAddClue          EffectKind = "add_clue"
	KindAbandonSituation EffectKind = "abandon_situation"
	KindNotify           EffectKind = "notify"
)

var routedKinds = []EffectKind{KindRelationshipDelta, KindPriceModifier, KindFlagSet, KindVarSet, KindVarDelta, KindNPCReaction}
var engineKinds = []EffectKind{KindSpawnSeed, KindAddClue, KindAbandonSituation, KindNotify}

// Routed reports whether the kind is applied by the external EffectRouter
func (k EffectKind) Routed() bool {
	return slices.Contains(routedKinds, k)
}

// Reversible reports whether the kind can carry a duration. Only numeric
// deltas can be undone by applying the negated magnitude.
func (k EffectKind) Reversible() bool {
	return k == KindRelationshipDelta || k == KindPriceModifier || k == KindVarDelta
}

func (k EffectKind) valid() bool {
	return k.Routed() || slices.Contains(engineKinds, k)
}

// Severity grades how much an effect matters to the player, 1 (trivial) to 5 (critical)
type Severity int

const (
	SeverityTrivial  Severity = 1
	SeverityMinor    Severity = 2
	SeverityModerate Severity = 3
	SeverityMajor    Severity = 4
	SeverityCritical Severity = 5
)

// FiringMode selects how the due time is computed
type FiringMode string

const (
	FireImmediate   FiringMode = "immediate"
	FireDelayed     FiringMode = "delayed"
	FireRecurring   FiringMode = "recurring"
	FireConditional FiringMode = "conditional"
)

// Firing is the firing policy of an effect. The zero value fires immediately.
type Firing struct {
	Mode           FiringMode             `json:"mode,omitempty"`
	Delay          Duration               `json:"delay,omitempty"`
	Interval       Duration               `json:"interval,omitempty"`
	MaxOccurrences int                    `json:"max_occurrences,omitempty"`
	When           conditionals.Predicate `json:"when,omitempty"`
	Timeout        Duration               `json:"timeout,omitempty"`
}

// EffectiveMode treats an unset mode as immediate
func (f Firing) EffectiveMode() FiringMode {
	if f.Mode == "" {
		return FireImmediate
	}
	return f.Mode
}

func (f Firing) validate() error {
	switch f.EffectiveMode() {
	case FireImmediate:
		return nil
	case FireDelayed:
		if f.Delay < 0 {
			return fmt.Errorf("delayed effect needs a non-negative delay")
		}
	case FireRecurring:
		if f.Interval <= 0 {
			return fmt.Errorf("recurring effect needs a positive interval")
		}
		if f.MaxOccurrences <= 0 {
			return fmt.Errorf("recurring effect needs max_occurrences > 0")
		}
	case FireConditional:
		if len(f.When) == 0 {
			return fmt.Errorf("conditional effect needs a when predicate")
		}
		if err := f.When.Validate(); err != nil {
			return fmt.Errorf("conditional effect: %w", err)
		}
		if f.Timeout <= 0 {
			return fmt.Errorf("conditional effect needs a positive timeout")
		}
	default:
		return fmt.Errorf("unknown firing mode %q", f.Mode)
	}
	return nil
}

// ClueGrant is the follow-up clue an add_clue effect attaches to a situation
type ClueGrant struct {
	Source string   `json:"source"`
	Clue   ClueSpec `json:"clue"`
}

// EffectSpec describes a single world mutation
type EffectSpec struct {
	ID        string              `json:"id,omitempty"`
	Scope     Scope               `json:"scope"`
	Selector  string              `json:"selector"`
	Kind      EffectKind          `json:"kind"`
	Magnitude float64             `json:"magnitude,omitempty"`
	Value     *conditionals.Value `json:"value,omitempty"`
	Text      string              `json:"text,omitempty"`
	Severity  Severity            `json:"severity,omitempty"`
	Firing    Firing              `json:"firing,omitzero"`
	Duration  Duration            `json:"duration,omitempty"` // temporary: reversed this long after it applies
	Then      []string            `json:"then,omitempty"`
	Grant     *ClueGrant          `json:"grant,omitempty"`
}

// Validate checks the spec is self-consistent. Cross references (seed ids,
// catalog names) are checked by the registry.
func (e EffectSpec) Validate() error {
	if !e.Kind.valid() {
		return Errorf(CodeInvalidEffect, "unknown effect kind %q", e.Kind)
	}
	if e.Scope != "" && !slices.Contains(scopes, e.Scope) {
		return Errorf(CodeInvalidEffect, "%s: unknown scope %q", e.Kind, e.Scope)
	}
	if e.Severity < 0 || e.Severity > SeverityCritical {
		return Errorf(CodeInvalidEffect, "%s: severity %d out of range", e.Kind, e.Severity)
	}
	if err := e.Firing.validate(); err != nil {
		return Wrap(CodeInvalidEffect, string(e.Kind), err)
	}
	if e.Duration < 0 {
		return Errorf(CodeInvalidEffect, "%s: negative duration", e.Kind)
	}
	if e.Duration > 0 && !e.Kind.Reversible() {
		return Errorf(CodeInvalidEffect, "%s cannot be temporary", e.Kind)
	}

	switch e.Kind {
	case KindRelationshipDelta, KindPriceModifier, KindVarDelta:
		if e.Selector == "" {
			return Errorf(CodeInvalidEffect, "%s needs a selector", e.Kind)
		}
	case KindFlagSet, KindVarSet:
		if e.Selector == "" {
			return Errorf(CodeInvalidEffect, "%s needs a selector", e.Kind)
		}
		if e.Value == nil {
			return Errorf(CodeInvalidEffect, "%s %s needs a value", e.Kind, e.Selector)
		}
		if e.Kind == KindFlagSet && e.Value.Kind != conditionals.KindBool {
			return Errorf(CodeInvalidEffect, "flag_set %s needs a bool value", e.Selector)
		}
	case KindNPCReaction:
		if e.Selector == "" || e.Text == "" {
			return Errorf(CodeInvalidEffect, "npc_reaction needs a selector and text")
		}
	case KindSpawnSeed, KindAbandonSituation:
		if e.Selector == "" {
			return Errorf(CodeInvalidEffect, "%s needs a seed or situation selector", e.Kind)
		}
	case KindAddClue:
		if e.Selector == "" || e.Grant == nil || e.Grant.Source == "" {
			return Errorf(CodeInvalidEffect, "add_clue needs a selector and a grant with a source")
		}
	case KindNotify:
		if e.Text == "" {
			return Errorf(CodeInvalidEffect, "notify needs text")
		}
	}
	return nil
}

// Label is a short description for logs and journal lines
func (e EffectSpec) Label() string {
	switch e.Kind {
	case KindRelationshipDelta, KindPriceModifier, KindVarDelta:
		return fmt.Sprintf("%s %s %+g", e.Kind, e.Selector, e.Magnitude)
	case KindFlagSet, KindVarSet:
		if e.Value != nil {
			return fmt.Sprintf("%s %s=%s", e.Kind, e.Selector, e.Value)
		}
	case KindNotify:
		return e.Text
	}
	if e.Selector != "" {
		return fmt.Sprintf("%s %s", e.Kind, e.Selector)
	}
	return string(e.Kind)
}

// Clone returns a deep copy
func (e EffectSpec) Clone() EffectSpec {
	if e.Value != nil {
		v := e.Value.Clone()
		e.Value = &v
	}
	e.Then = slices.Clone(e.Then)
	e.Firing.When = e.Firing.When.Clone()
	if e.Grant != nil {
		g := *e.Grant
		e.Grant = &g
	}
	return e
}

// Reversal is the effect that undoes a temporary effect. It fires
// immediately, once, with no cascades.
func (e EffectSpec) Reversal() EffectSpec {
	r := e.Clone()
	r.Magnitude = -e.Magnitude
	r.Duration = 0
	r.Firing = Firing{}
	r.Then = nil
	return r
}

// Mutation is what the EffectRouter receives for a routed effect
type Mutation struct {
	Scope         Scope               `json:"scope"`
	Selector      string              `json:"selector"`
	Kind          EffectKind          `json:"kind"`
	Magnitude     float64             `json:"magnitude,omitempty"`
	Value         *conditionals.Value `json:"value,omitempty"`
	Text          string              `json:"text,omitempty"`
	SituationID   string              `json:"situation_id,omitempty"`
	ConsequenceID uint64              `json:"consequence_id,omitempty"`
}

// MutationFor builds the router payload for an effect
func MutationFor(e EffectSpec, situationID string, consequenceID uint64) Mutation {
	m := Mutation{
		Scope:         e.Scope,
		Selector:      e.Selector,
		Kind:          e.Kind,
		Magnitude:     e.Magnitude,
		Text:          e.Text,
		SituationID:   situationID,
		ConsequenceID: consequenceID,
	}
	if e.Value != nil {
		v := e.Value.Clone()
		m.Value = &v
	}
	return m
}

// EffectRouter realises routed effects in the world, economy and NPC systems
type EffectRouter interface {
	Apply(m Mutation) error
}

// MutationValidator is implemented by routers that can reject a mutation
// before anything is written
type MutationValidator interface {
	Validate(m Mutation) error
}
