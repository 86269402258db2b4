package actor

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/jwebster45206/d20"
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// Stats5e represents the six core D&D 5e ability scores
type Stats5e struct {
	Strength     int `json:"strength"`
	Dexterity    int `json:"dexterity"`
	Constitution int `json:"constitution"`
	Intelligence int `json:"intelligence"`
	Wisdom       int `json:"wisdom"`
	Charisma     int `json:"charisma"`
}

// ToAttributes converts Stats5e to a map for d20.Actor compatibility
func (s *Stats5e) ToAttributes() map[string]int {
	return map[string]int{
		"strength":     s.Strength,
		"dexterity":    s.Dexterity,
		"constitution": s.Constitution,
		"intelligence": s.Intelligence,
		"wisdom":       s.Wisdom,
		"charisma":     s.Charisma,
	}
}

// PCSpec is the serializable specification for a Player Character
type PCSpec struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Pronouns      string         `json:"pronouns,omitempty"`
	Description   string         `json:"description,omitempty"`
	Stats         Stats5e        `json:"stats,omitempty"`
	HP            int            `json:"hp,omitempty"`     // Current HP (for serialization)
	MaxHP         int            `json:"max_hp,omitempty"` // Maximum HP
	AC            int            `json:"ac,omitempty"`
	Attributes    map[string]int `json:"attributes,omitempty"`    // Skills, proficiencies, etc.
	Inventory     []string       `json:"inventory,omitempty"`     // Item ids the character carries
	Relationships map[string]int `json:"relationships,omitempty"` // Baseline standing per NPC or faction
}

// PC is the runtime representation of a Player Character
type PC struct {
	Spec  *PCSpec
	Actor *d20.Actor // Built at runtime from PCSpec
}

// NewPCFromSpec creates a PC from a PCSpec
func NewPCFromSpec(spec *PCSpec) (*PC, error) {
	if spec == nil {
		return nil, fmt.Errorf("spec cannot be nil")
	}
	actor, err := buildActor(spec)
	if err != nil {
		return nil, err
	}
	return &PC{Spec: spec, Actor: actor}, nil
}

func buildActor(spec *PCSpec) (*d20.Actor, error) {
	// Core stats first, then skills so a skill can never be shadowed
	allAttrs := spec.Stats.ToAttributes()
	maps.Copy(allAttrs, spec.Attributes)

	actor, err := d20.NewActor(spec.ID).
		WithHP(spec.MaxHP).
		WithAC(spec.AC).
		WithAttributes(allAttrs).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build actor: %w", err)
	}

	// Set current HP if different from max
	if spec.HP != spec.MaxHP && spec.HP > 0 {
		if err := actor.SetHP(spec.HP); err != nil {
			return nil, fmt.Errorf("failed to set HP: %w", err)
		}
	}
	return actor, nil
}

// LoadPC loads a PC from a JSON file and builds its d20.Actor.
// The filename (without .json extension) overrides any ID in the JSON.
func LoadPC(path string) (*PC, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PC file: %w", err)
	}

	var spec PCSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal PC spec: %w", err)
	}

	spec.ID = strings.TrimSuffix(filepath.Base(path), ".json")

	return NewPCFromSpec(&spec)
}

// Capabilities reports what the character brings to a resolution. Skills
// are read back from the d20 actor so runtime changes to attributes count.
func (pc *PC) Capabilities() situation.CapabilitySet {
	caps := situation.CapabilitySet{
		Skills:        make(map[string]int),
		Items:         append([]string(nil), pc.Spec.Inventory...),
		Relationships: maps.Clone(pc.Spec.Relationships),
	}
	for key := range pc.Spec.Stats.ToAttributes() {
		if val, ok := pc.Actor.Attribute(key); ok {
			caps.Skills[key] = val
		}
	}
	for key := range pc.Spec.Attributes {
		if val, ok := pc.Actor.Attribute(key); ok {
			caps.Skills[key] = val
		}
	}
	return caps
}

// MarshalJSON converts PC back to PCSpec format, reading current runtime
// state from the Actor
func (pc *PC) MarshalJSON() ([]byte, error) {
	if pc == nil {
		return []byte("null"), nil
	}
	if pc.Actor == nil {
		return json.Marshal(pc.Spec)
	}

	getAttr := func(key string) int {
		if val, ok := pc.Actor.Attribute(key); ok {
			return val
		}
		return 0
	}

	resp := *pc.Spec
	resp.HP = pc.Actor.HP()
	resp.MaxHP = pc.Actor.MaxHP()
	resp.AC = pc.Actor.AC()
	resp.Stats = Stats5e{
		Strength:     getAttr("strength"),
		Dexterity:    getAttr("dexterity"),
		Constitution: getAttr("constitution"),
		Intelligence: getAttr("intelligence"),
		Wisdom:       getAttr("wisdom"),
		Charisma:     getAttr("charisma"),
	}
	if len(pc.Spec.Attributes) > 0 {
		resp.Attributes = make(map[string]int, len(pc.Spec.Attributes))
		for key := range pc.Spec.Attributes {
			resp.Attributes[key] = getAttr(key)
		}
	}
	return json.Marshal(resp)
}

// UnmarshalJSON reconstructs a PC from JSON and rebuilds its Actor
func (pc *PC) UnmarshalJSON(data []byte) error {
	var spec PCSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("failed to unmarshal PC spec: %w", err)
	}
	actor, err := buildActor(&spec)
	if err != nil {
		return fmt.Errorf("failed to rebuild actor: %w", err)
	}
	pc.Spec = &spec
	pc.Actor = actor
	return nil
}
