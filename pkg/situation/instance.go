package situation

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// namespace for deterministic instance ids
var instanceNamespace = uuid.MustParse("6f3a3c0e-59a5-4d5e-9b7e-1c2f4f0d8a21")

// InstanceID derives the id of the n-th spawn of a seed. The same seed and
// ordinal always produce the same id, which keeps replays stable.
func InstanceID(seedID string, ordinal int) string {
	return uuid.NewSHA1(instanceNamespace, fmt.Appendf(nil, "%s#%d", seedID, ordinal)).String()
}

// ClueID is the id of the clue a situation holds at source
func ClueID(situationID, source string) string {
	return situationID + "/" + source
}

// Instance is a live occurrence of a seed
type Instance struct {
	ID           string   `json:"id"`
	SeedID       string   `json:"seed_id"`
	Ordinal      int      `json:"ordinal"`
	State        State    `json:"state"`
	SpawnedAt    Time     `json:"spawned_at"`
	DiscoveredAt *Time    `json:"discovered_at,omitempty"`
	DiscoveredBy Method   `json:"discovered_by,omitempty"`
	ResolvableAt *Time    `json:"resolvable_at,omitempty"`
	ClosedAt     *Time    `json:"closed_at,omitempty"`
	ExpiresAt    *Time    `json:"expires_at,omitempty"`
	ClueIDs      []string `json:"clue_ids,omitempty"` // discovered clues, in discovery order
	BranchID     string   `json:"branch_id,omitempty"`
	Depth        int      `json:"depth"`
	RootID       string   `json:"root_id"`
	CausedBy     uint64   `json:"caused_by,omitempty"` // consequence that force-spawned this instance
	Outcome      string   `json:"outcome,omitempty"`
}

// HasClue reports whether the clue has been discovered
func (i *Instance) HasClue(clueID string) bool {
	return slices.Contains(i.ClueIDs, clueID)
}

// Clone returns a deep copy
func (i *Instance) Clone() *Instance {
	c := *i
	c.ClueIDs = slices.Clone(i.ClueIDs)
	c.DiscoveredAt = cloneTime(i.DiscoveredAt)
	c.ResolvableAt = cloneTime(i.ResolvableAt)
	c.ClosedAt = cloneTime(i.ClosedAt)
	c.ExpiresAt = cloneTime(i.ExpiresAt)
	return &c
}

func cloneTime(t *Time) *Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr is a convenience for optional timestamps
func TimePtr(t Time) *Time {
	return &t
}

// Clue is an atomic discoverable fact owned by exactly one situation
type Clue struct {
	ID          string  `json:"id"`
	SituationID string  `json:"situation_id"`
	Source      string  `json:"source"`
	Method      Method  `json:"method,omitempty"`
	Text        string  `json:"text"`
	RedHerring  bool    `json:"red_herring,omitempty"`
	Weight      float64 `json:"weight"`
	CreatedAt   Time    `json:"created_at"`
}

// NewClue binds an authored clue to a situation
func NewClue(situationID, source string, spec ClueSpec, now Time) *Clue {
	return &Clue{
		ID:          ClueID(situationID, source),
		SituationID: situationID,
		Source:      source,
		Method:      spec.Method,
		Text:        spec.Text,
		RedHerring:  spec.RedHerring,
		Weight:      spec.EffectiveWeight(),
		CreatedAt:   now,
	}
}

// RevealedBy reports whether a discovery through m at this clue's source reveals it
func (c *Clue) RevealedBy(m Method) bool {
	return c.Method == "" || c.Method == m
}
