package situation

import (
	"fmt"
	"slices"

	"github.com/jwebster45206/situation-engine/pkg/conditionals"
)

// PrerequisiteKind is the closed set of branch requirements
type PrerequisiteKind string

const (
	RequireSkill        PrerequisiteKind = "skill"
	RequireItem         PrerequisiteKind = "item"
	RequireRelationship PrerequisiteKind = "relationship"
	RequireWorld        PrerequisiteKind = "world"
)

// Prerequisite is a single branch requirement. Skill and relationship
// requirements compare against Min; item requirements need Name in the
// inventory; world requirements test Compare against the world snapshot.
type Prerequisite struct {
	Kind    PrerequisiteKind         `json:"kind"`
	Name    string                   `json:"name,omitempty"`
	Min     int                      `json:"min,omitempty"`
	Compare *conditionals.Comparison `json:"compare,omitempty"`
}

func (p Prerequisite) Validate() error {
	switch p.Kind {
	case RequireSkill, RequireItem, RequireRelationship:
		if p.Name == "" {
			return fmt.Errorf("%s prerequisite needs a name", p.Kind)
		}
	case RequireWorld:
		if p.Compare == nil {
			return fmt.Errorf("world prerequisite needs a comparison")
		}
		if err := p.Compare.Validate(); err != nil {
			return fmt.Errorf("world prerequisite: %w", err)
		}
	default:
		return fmt.Errorf("unknown prerequisite kind %q", p.Kind)
	}
	return nil
}

// Check evaluates the requirement. The returned reason is user-facing text
// describing what is missing.
func (p Prerequisite) Check(caps CapabilitySet, view conditionals.WorldView) (bool, string) {
	switch p.Kind {
	case RequireSkill:
		if have := caps.Skills[p.Name]; have < p.Min {
			return false, fmt.Sprintf("requires %s %d (have %d)", p.Name, p.Min, have)
		}
	case RequireItem:
		if !caps.HasItem(p.Name) {
			return false, fmt.Sprintf("requires %s", p.Name)
		}
	case RequireRelationship:
		if have := caps.Relationships[p.Name]; have < p.Min {
			return false, fmt.Sprintf("requires standing %d with %s (have %d)", p.Min, p.Name, have)
		}
	case RequireWorld:
		if view == nil {
			return false, fmt.Sprintf("requires %s", p.Compare)
		}
		actual, ok := view.Read(p.Compare.Var)
		if !ok || !p.Compare.Holds(actual) {
			return false, fmt.Sprintf("requires %s", p.Compare)
		}
	default:
		return false, fmt.Sprintf("unsupported requirement %q", p.Kind)
	}
	return true, ""
}

// CapabilitySet is what an acting entity brings to a resolution
type CapabilitySet struct {
	Skills        map[string]int `json:"skills,omitempty"`
	Items         []string       `json:"items,omitempty"`
	Relationships map[string]int `json:"relationships,omitempty"`
}

func (c CapabilitySet) HasItem(name string) bool {
	return slices.Contains(c.Items, name)
}

// Capabilities answers capability queries for acting entities
type Capabilities interface {
	Query(actorID string) (CapabilitySet, error)
}

// StaticCapabilities serves fixed capability sets keyed by actor id
type StaticCapabilities map[string]CapabilitySet

func (s StaticCapabilities) Query(actorID string) (CapabilitySet, error) {
	caps, ok := s[actorID]
	if !ok {
		return CapabilitySet{}, fmt.Errorf("unknown actor %q", actorID)
	}
	return caps, nil
}
