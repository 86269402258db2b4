package situation

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jwebster45206/situation-engine/pkg/conditionals"
)

// DefaultPriority applies when a seed does not declare one
const DefaultPriority = 5

// Method is a discovery channel
type Method string

const (
	MethodOverheard     Method = "overheard"
	MethodWitnessed     Method = "witnessed"
	MethodFound         Method = "found"
	MethodTold          Method = "told"
	MethodStumbled      Method = "stumbled"
	MethodTriggered     Method = "triggered"
	MethodConsequence   Method = "consequence"
	MethodEnvironmental Method = "environmental"
)

var methods = []Method{MethodOverheard, MethodWitnessed, MethodFound, MethodTold, MethodStumbled, MethodTriggered, MethodConsequence, MethodEnvironmental}

// ParseMethod is case-insensitive
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(methods, m) {
		return "", fmt.Errorf("unknown discovery method %q", s)
	}
	return m, nil
}

// ClueSpec is the authored form of a clue. In content a bare string is
// shorthand for a clue with only text.
type ClueSpec struct {
	Text       string  `json:"text"`
	Method     Method  `json:"method,omitempty"` // required discovery method, if any
	RedHerring bool    `json:"red_herring,omitempty"`
	Weight     float64 `json:"weight,omitempty"`
}

// UnmarshalJSON accepts either a plain string or an object
func (c *ClueSpec) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = ClueSpec{Text: text}
		return nil
	}

	type Alias ClueSpec
	aux := &struct{ *Alias }{Alias: (*Alias)(c)}
	return json.Unmarshal(data, aux)
}

// EffectiveWeight treats an unset weight as 1
func (c ClueSpec) EffectiveWeight() float64 {
	if c.Weight <= 0 {
		return 1
	}
	return c.Weight
}

// ThresholdMode selects the resolvability rule
type ThresholdMode string

const (
	ThresholdAll  ThresholdMode = "all"
	ThresholdNOfM ThresholdMode = "n_of_m"
)

// Threshold decides when investigation is complete
type Threshold struct {
	Mode              ThresholdMode `json:"mode,omitempty"`
	N                 float64       `json:"n,omitempty"`
	RedHerringPenalty float64       `json:"red_herring_penalty,omitempty"`
}

// EffectiveMode treats an unset mode as "all"
func (t Threshold) EffectiveMode() ThresholdMode {
	if t.Mode == "" {
		return ThresholdAll
	}
	return t.Mode
}

// Approach is the category of a resolution branch
type Approach string

const (
	ApproachViolence     Approach = "violence"
	ApproachStealth      Approach = "stealth"
	ApproachDiplomacy    Approach = "diplomacy"
	ApproachEconomic     Approach = "economic"
	ApproachSupernatural Approach = "supernatural"
	ApproachIgnore       Approach = "ignore"
)

var approaches = []Approach{ApproachViolence, ApproachStealth, ApproachDiplomacy, ApproachEconomic, ApproachSupernatural, ApproachIgnore}

// IgnoreBranchID is the id of the implicit branch every seed offers
const IgnoreBranchID = "ignore"

// Branch is one resolution path
type Branch struct {
	ID          string         `json:"id"`
	Description string         `json:"description,omitempty"`
	Approach    Approach       `json:"approach"`
	Requires    []Prerequisite `json:"requires,omitempty"`
	Effects     []EffectSpec   `json:"effects,omitempty"`
}

// SeedTemplate is the immutable definition a situation spawns from
type SeedTemplate struct {
	ID                    string                 `json:"id"`
	Name                  string                 `json:"name,omitempty"`
	Description           string                 `json:"description,omitempty"`
	When                  conditionals.Predicate `json:"when"`
	Methods               []Method               `json:"discovery_methods"`
	Clues                 map[string]ClueSpec    `json:"clues,omitempty"`
	TimeSensitive         bool                   `json:"time_sensitive,omitempty"`
	Expiry                Duration               `json:"expiry,omitempty"`
	Priority              int                    `json:"priority"`
	Repeatable            bool                   `json:"repeatable,omitempty"`
	SingletonActive       bool                   `json:"singleton_active,omitempty"`
	ImmediatelyResolvable bool                   `json:"immediately_resolvable,omitempty"`
	Threshold             Threshold              `json:"threshold,omitzero"`
	Branches              []Branch               `json:"branches,omitempty"`
	IgnoreEffects         []EffectSpec           `json:"ignore_effects,omitempty"`
	Tags                  []string               `json:"tags,omitempty"`
}

// UnmarshalJSON fills in the default priority when the field is absent
func (s *SeedTemplate) UnmarshalJSON(data []byte) error {
	type Alias SeedTemplate
	aux := Alias{Priority: DefaultPriority}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = SeedTemplate(aux)
	return nil
}

// Clone returns a deep copy
func (s SeedTemplate) Clone() SeedTemplate {
	s.When = s.When.Clone()
	s.Methods = slices.Clone(s.Methods)
	s.Clues = maps.Clone(s.Clues)
	s.Tags = slices.Clone(s.Tags)
	s.IgnoreEffects = cloneEffects(s.IgnoreEffects)
	if s.Branches != nil {
		branches := make([]Branch, len(s.Branches))
		for i, b := range s.Branches {
			branches[i] = b.Clone()
		}
		s.Branches = branches
	}
	return s
}

// Clone returns a deep copy
func (b Branch) Clone() Branch {
	if b.Requires != nil {
		reqs := make([]Prerequisite, len(b.Requires))
		for i, p := range b.Requires {
			if p.Compare != nil {
				c := *p.Compare
				c.Value = c.Value.Clone()
				p.Compare = &c
			}
			reqs[i] = p
		}
		b.Requires = reqs
	}
	b.Effects = cloneEffects(b.Effects)
	return b
}

func cloneEffects(effects []EffectSpec) []EffectSpec {
	if effects == nil {
		return nil
	}
	out := make([]EffectSpec, len(effects))
	for i, e := range effects {
		out[i] = e.Clone()
	}
	return out
}

// DisplayName falls back to a titled form of the id
func (s *SeedTemplate) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return cases.Title(language.English).String(strings.ReplaceAll(s.ID, "_", " "))
}

// Validate rejects malformed seed data. All failures carry CodePredicateEval
// since they are fatal at load time.
func (s *SeedTemplate) Validate() error {
	fail := func(format string, args ...any) error {
		return &Error{Code: CodePredicateEval, Reason: fmt.Sprintf("seed %q: ", s.ID) + fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(s.ID) == "" {
		return fail("id is required")
	}
	if len(s.When) == 0 {
		return fail("activation predicate is empty")
	}
	if err := s.When.Validate(); err != nil {
		return fail("activation predicate: %v", err)
	}
	if len(s.Methods) == 0 {
		return fail("at least one discovery method is required")
	}
	for _, m := range s.Methods {
		if !slices.Contains(methods, m) {
			return fail("unknown discovery method %q", m)
		}
	}
	for source, clue := range s.Clues {
		if source == "" {
			return fail("clue with empty source")
		}
		if clue.Method != "" && !slices.Contains(s.Methods, clue.Method) {
			return fail("clue %q requires method %q the seed does not accept", source, clue.Method)
		}
	}
	if s.TimeSensitive && s.Expiry <= 0 {
		return fail("time-sensitive seed needs a positive expiry")
	}
	switch s.Threshold.EffectiveMode() {
	case ThresholdAll:
	case ThresholdNOfM:
		if s.Threshold.N <= 0 {
			return fail("n_of_m threshold needs n > 0")
		}
		if s.Threshold.N > s.genuineWeight() {
			return fail("n_of_m threshold %g exceeds available clue weight %g", s.Threshold.N, s.genuineWeight())
		}
	default:
		return fail("unknown threshold mode %q", s.Threshold.Mode)
	}

	seen := make(map[string]bool)
	for _, b := range s.Branches {
		if b.ID == "" {
			return fail("branch id is required")
		}
		if seen[b.ID] {
			return fail("duplicate branch %q", b.ID)
		}
		seen[b.ID] = true
		if !slices.Contains(approaches, b.Approach) {
			return fail("branch %q: unknown approach %q", b.ID, b.Approach)
		}
		if b.ID == IgnoreBranchID && len(b.Requires) > 0 {
			return fail("the ignore branch cannot have prerequisites")
		}
		for _, p := range b.Requires {
			if err := p.Validate(); err != nil {
				return fail("branch %q: %v", b.ID, err)
			}
		}
		for i, e := range b.Effects {
			if err := e.Validate(); err != nil {
				return fail("branch %q effect %d: %v", b.ID, i, err)
			}
		}
	}
	for i, e := range s.IgnoreEffects {
		if err := e.Validate(); err != nil {
			return fail("ignore effect %d: %v", i, err)
		}
	}
	return nil
}

func (s *SeedTemplate) genuineWeight() float64 {
	var total float64
	for _, c := range s.Clues {
		if !c.RedHerring {
			total += c.EffectiveWeight()
		}
	}
	return total
}

// AcceptsMethod reports whether the seed can be discovered through m
func (s *SeedTemplate) AcceptsMethod(m Method) bool {
	return slices.Contains(s.Methods, m)
}

// MatchesHint reports whether a discovery hint names this seed
func (s *SeedTemplate) MatchesHint(hint string) bool {
	return hint == "" || hint == s.ID || slices.Contains(s.Tags, hint)
}

// ClueSources returns clue sources in a stable order
func (s *SeedTemplate) ClueSources() []string {
	sources := make([]string, 0, len(s.Clues))
	for src := range s.Clues {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return sources
}

// IgnoreBranch returns the implicit ignore branch, or the seed's own
// declaration if it overrides it
func (s *SeedTemplate) IgnoreBranch() Branch {
	for _, b := range s.Branches {
		if b.ID == IgnoreBranchID {
			return b
		}
	}
	return Branch{
		ID:          IgnoreBranchID,
		Description: "Let events run their course",
		Approach:    ApproachIgnore,
		Effects:     s.IgnoreEffects,
	}
}

// AllBranches returns the declared branches plus the implicit ignore branch
func (s *SeedTemplate) AllBranches() []Branch {
	out := make([]Branch, 0, len(s.Branches)+1)
	hasIgnore := false
	for _, b := range s.Branches {
		if b.ID == IgnoreBranchID {
			hasIgnore = true
		}
		out = append(out, b)
	}
	if !hasIgnore {
		out = append(out, s.IgnoreBranch())
	}
	return out
}

// Branch finds a branch by id, including the implicit ignore branch
func (s *SeedTemplate) Branch(id string) (Branch, bool) {
	for _, b := range s.AllBranches() {
		if b.ID == id {
			return b, true
		}
	}
	return Branch{}, false
}

// EffectRefs lists every catalog name and seed id the seed's effects point at
func (s *SeedTemplate) EffectRefs() (catalog []string, seeds []string) {
	visit := func(effects []EffectSpec) {
		for _, e := range effects {
			catalog = append(catalog, e.Then...)
			if e.Kind == KindSpawnSeed {
				seeds = append(seeds, e.Selector)
			}
		}
	}
	for _, b := range s.Branches {
		visit(b.Effects)
	}
	visit(s.IgnoreEffects)
	return catalog, seeds
}
