package engine

import (
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// ClueSummary is a discovered clue as the player sees it
type ClueSummary struct {
	ID     string           `json:"id"`
	Source string           `json:"source"`
	Text   string           `json:"text"`
	Method situation.Method `json:"method,omitempty"`
}

// SituationSummary is the read-only projection of a known situation
type SituationSummary struct {
	ID           string           `json:"id"`
	SeedID       string           `json:"seed_id"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	State        situation.State  `json:"state"`
	DiscoveredBy situation.Method `json:"discovered_by,omitempty"`
	DiscoveredAt *situation.Time  `json:"discovered_at,omitempty"`
	ExpiresAt    *situation.Time  `json:"expires_at,omitempty"`
	Clues        []ClueSummary    `json:"clues"`
	Confidence   float64          `json:"confidence"`
	Branches     []BranchOption   `json:"branches"`
	Tags         []string         `json:"tags,omitempty"`
}

// ListActive projects every situation the player knows about and has not
// closed, in spawn order, with branch availability for actorID
func (e *Engine) ListActive(actorID string) []SituationSummary {
	view := e.currentView()
	var out []SituationSummary
	for _, inst := range e.dir.InState(situation.StateActive, situation.StateResolvable) {
		seed, ok := e.registry.Seed(inst.SeedID)
		if !ok {
			continue
		}
		s := SituationSummary{
			ID:           inst.ID,
			SeedID:       seed.ID,
			Name:         seed.DisplayName(),
			Description:  seed.Description,
			State:        inst.State,
			DiscoveredBy: inst.DiscoveredBy,
			Confidence:   e.ledger.Confidence(inst.ID),
			Branches:     e.branchOptions(seed, actorID, view),
			Tags:         seed.Tags,
		}
		if inst.DiscoveredAt != nil {
			s.DiscoveredAt = situation.TimePtr(*inst.DiscoveredAt)
		}
		if inst.ExpiresAt != nil {
			s.ExpiresAt = situation.TimePtr(*inst.ExpiresAt)
		}
		for _, id := range inst.ClueIDs {
			c, ok := e.dir.Clue(id)
			if !ok {
				continue
			}
			s.Clues = append(s.Clues, ClueSummary{ID: c.ID, Source: c.Source, Text: c.Text, Method: c.Method})
		}
		out = append(out, s)
	}
	return out
}
