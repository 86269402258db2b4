package engine

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// DiscoveryResult lists what a discovery event changed. An event that
// matches nothing yields an empty result.
type DiscoveryResult struct {
	Revealed   []string `json:"revealed,omitempty"`    // situations that became active
	CluesFound []string `json:"clues_found,omitempty"` // clue ids newly recorded
}

// Empty reports whether the event matched nothing
func (r DiscoveryResult) Empty() bool {
	return len(r.Revealed) == 0 && len(r.CluesFound) == 0
}

// NotifyDiscovery handles a discovery-eligible action. Discoverable
// situations that accept the method, match the hint and hold a clue at
// source become active; situations already under investigation record a
// matching clue. A situation reached by two events is revealed by the first.
// Promotion to resolvable happens on the next Advance or Resolve.
func (e *Engine) NotifyDiscovery(method situation.Method, source, hint string) DiscoveryResult {
	var res DiscoveryResult
	candidates := e.dir.InState(situation.StateDiscoverable, situation.StateActive, situation.StateResolvable)
	for _, inst := range candidates {
		seed, ok := e.registry.Seed(inst.SeedID)
		if !ok {
			continue
		}
		if !seed.MatchesHint(hint) && hint != inst.ID {
			continue
		}

		clue, hasClue := e.dir.ClueAt(inst.ID, source)
		if hasClue && !clue.RevealedBy(method) {
			continue
		}

		if inst.State == situation.StateDiscoverable {
			if !seed.AcceptsMethod(method) || (!hasClue && len(seed.Clues) > 0) {
				continue
			}
			if err := e.reveal(inst, method); err != nil {
				e.log.Error("Failed to reveal situation", "situation_id", inst.ID, "error", err)
				continue
			}
			res.Revealed = append(res.Revealed, inst.ID)
		}

		if hasClue && e.ledger.Add(inst, clue.ID) {
			res.CluesFound = append(res.CluesFound, clue.ID)
			e.record(EntryClueFound, inst, clue.Text)
		}
	}

	if res.Empty() {
		e.log.Debug("Discovery matched nothing", "method", method, "source", source, "hint", hint)
	}
	return res
}

func (e *Engine) reveal(inst *situation.Instance, method situation.Method) error {
	if err := e.dir.Transition(inst, situation.EventDiscover, e.now); err != nil {
		return err
	}
	inst.DiscoveredBy = method
	e.ledger.Open(inst.ID)
	e.record(EntryDiscovered, inst, fmt.Sprintf("You learned of %s (%s).", e.displayName(inst), method))
	e.log.Info("Situation discovered", "situation_id", inst.ID, "method", method)
	return nil
}

// AddClue records a clue found by investigation. clueRef is a clue id or a
// clue source of the situation; situationRef is an instance id or a seed id.
// Recording a clue twice, or a clue the situation does not own, is not an error.
func (e *Engine) AddClue(situationRef, clueRef string) (bool, error) {
	inst, ok := e.dir.Lookup(situationRef)
	if !ok {
		return false, situation.Errorf(situation.CodeUnknownSituation, "no situation %s", situationRef).For(situationRef)
	}
	if !inst.State.Known() {
		return false, nil
	}
	clueID := clueRef
	if !strings.Contains(clueRef, "/") {
		clueID = situation.ClueID(inst.ID, clueRef)
	}
	if !e.ledger.Add(inst, clueID) {
		return false, nil
	}
	if clue, ok := e.dir.Clue(clueID); ok {
		e.record(EntryClueFound, inst, clue.Text)
	}
	return true, nil
}

// Investigation returns the ledger record of a known situation
func (e *Engine) Investigation(situationID string) (*Investigation, bool) {
	return e.ledger.Get(situationID)
}
