package engine

import (
	"fmt"

	"github.com/jwebster45206/situation-engine/pkg/conditionals"
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// Resolution is the committed outcome of a Resolve call
type Resolution struct {
	SituationID  string         `json:"situation_id"`
	BranchID     string         `json:"branch_id"`
	Approach     string         `json:"approach"`
	Consequences []uint64       `json:"consequences,omitempty"` // tracked consequence ids, in declared order
	Impact       float64        `json:"impact"`
	Moral        int            `json:"moral"`
	Time         situation.Time `json:"time"`
}

// Resolve commits branchID for a resolvable situation on behalf of actorID.
// Everything is validated before the first mutation; a refused resolution
// leaves the engine untouched and is reported to the notifier as declined.
func (e *Engine) Resolve(situationRef, branchID, actorID string) (*Resolution, error) {
	inst, ok := e.dir.Lookup(situationRef)
	if !ok {
		err := situation.Errorf(situation.CodeUnknownSituation, "no situation %s", situationRef).For(situationRef)
		e.decline(nil, err)
		return nil, err
	}

	seed, branch, err := e.validateResolve(inst, branchID, actorID)
	if err != nil {
		e.decline(inst, err)
		e.log.Info("Resolution declined",
			"situation_id", inst.ID,
			"branch_id", branchID,
			"actor_id", actorID,
			"code", situation.CodeOf(err))
		return nil, err
	}

	// a finished investigation counts even if no tick has promoted it yet
	if inst.State == situation.StateActive && !e.checkResolvable(inst) {
		return nil, situation.Errorf(situation.CodeNotResolvable, "situation is still %s", inst.State).For(inst.ID)
	}
	if err := e.dir.Transition(inst, situation.EventResolve, e.now); err != nil {
		return nil, err
	}
	inst.BranchID = branch.ID
	inst.Outcome = string(branch.Approach)

	res := &Resolution{
		SituationID: inst.ID,
		BranchID:    branch.ID,
		Approach:    string(branch.Approach),
		Impact:      ImpactScore(branch),
		Moral:       MoralImpact(branch.Approach),
		Time:        e.now,
	}
	for _, spec := range branch.Effects {
		if t := e.enqueue(spec, inst, branch.ID); t != nil {
			res.Consequences = append(res.Consequences, t.ID)
		}
	}

	text := fmt.Sprintf("%s resolved: %s.", seed.DisplayName(), branch.ID)
	if branch.Description != "" {
		text = fmt.Sprintf("%s resolved: %s.", seed.DisplayName(), branch.Description)
	}
	e.record(EntryResolved, inst, text)
	e.log.Info("Situation resolved",
		"situation_id", inst.ID,
		"branch_id", branch.ID,
		"actor_id", actorID,
		"moral", res.Moral,
		"consequences", len(res.Consequences))
	return res, nil
}

func (e *Engine) validateResolve(inst *situation.Instance, branchID, actorID string) (*situation.SeedTemplate, situation.Branch, error) {
	switch {
	case inst.State == situation.StateResolved:
		return nil, situation.Branch{}, situation.Errorf(situation.CodeAlreadyResolved, "already resolved via %s", inst.BranchID).For(inst.ID)
	case inst.State.Terminal():
		return nil, situation.Branch{}, situation.Errorf(situation.CodeSituationClosed, "situation is %s", inst.State).For(inst.ID)
	case inst.State != situation.StateResolvable && !e.investigationComplete(inst):
		return nil, situation.Branch{}, situation.Errorf(situation.CodeNotResolvable, "situation is still %s", inst.State).For(inst.ID)
	}

	seed, ok := e.registry.Seed(inst.SeedID)
	if !ok {
		return nil, situation.Branch{}, situation.Errorf(situation.CodeUnknownSeed, "seed %s is not loaded", inst.SeedID).For(inst.ID)
	}
	branch, ok := seed.Branch(branchID)
	if !ok {
		return nil, situation.Branch{}, situation.Errorf(situation.CodeUnknownBranch, "no branch %q", branchID).For(inst.ID)
	}
	if reason, ok := e.branchAvailable(branch, actorID, e.currentView()); !ok {
		return nil, situation.Branch{}, situation.Errorf(situation.CodePrerequisiteNotMet, "%s", reason).For(inst.ID)
	}
	if err := e.sched.Plan(branch.Effects); err != nil {
		return nil, situation.Branch{}, err
	}
	return seed, branch, nil
}

// investigationComplete reports whether an active situation's ledger
// already meets its threshold. It never changes state.
func (e *Engine) investigationComplete(inst *situation.Instance) bool {
	if inst.State != situation.StateActive {
		return false
	}
	ok, err := e.ledger.IsResolvable(inst.ID)
	return err == nil && ok
}

// branchAvailable checks a branch's prerequisites for an actor. The reason
// names the first requirement that failed.
func (e *Engine) branchAvailable(branch situation.Branch, actorID string, view conditionals.WorldView) (string, bool) {
	if len(branch.Requires) == 0 {
		return "", true
	}
	var caps situation.CapabilitySet
	if e.caps != nil {
		c, err := e.caps.Query(actorID)
		if err != nil {
			return fmt.Sprintf("capabilities of %s unavailable: %v", actorID, err), false
		}
		caps = c
	}
	for _, p := range branch.Requires {
		if ok, reason := p.Check(caps, view); !ok {
			return reason, false
		}
	}
	return "", true
}

// BranchOption is a branch as offered to one actor
type BranchOption struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Approach    string `json:"approach"`
	Available   bool   `json:"available"`
	Reason      string `json:"reason,omitempty"`
}

// AvailableBranches lists every branch of a situation with its availability
// for actorID. The ignore branch is always available, so a resolvable
// situation is never a dead end.
func (e *Engine) AvailableBranches(situationRef, actorID string) ([]BranchOption, error) {
	inst, ok := e.dir.Lookup(situationRef)
	if !ok {
		return nil, situation.Errorf(situation.CodeUnknownSituation, "no situation %s", situationRef).For(situationRef)
	}
	seed, ok := e.registry.Seed(inst.SeedID)
	if !ok {
		return nil, situation.Errorf(situation.CodeUnknownSeed, "seed %s is not loaded", inst.SeedID).For(inst.ID)
	}
	return e.branchOptions(seed, actorID, e.currentView()), nil
}

func (e *Engine) branchOptions(seed *situation.SeedTemplate, actorID string, view conditionals.WorldView) []BranchOption {
	branches := seed.AllBranches()
	out := make([]BranchOption, 0, len(branches))
	for _, b := range branches {
		reason, ok := e.branchAvailable(b, actorID, view)
		out = append(out, BranchOption{
			ID:          b.ID,
			Description: b.Description,
			Approach:    string(b.Approach),
			Available:   ok,
			Reason:      reason,
		})
	}
	return out
}

// ImpactScore rates how much a branch changes the world: 0.1 per variable or
// flag change, 0.15 per relationship change, 0.25 per spawned situation and
// 0.2 per delayed effect, capped at 1.
func ImpactScore(branch situation.Branch) float64 {
	var impact float64
	for _, e := range branch.Effects {
		switch e.Kind {
		case situation.KindVarSet, situation.KindVarDelta, situation.KindFlagSet:
			impact += 0.1
		case situation.KindRelationshipDelta:
			impact += 0.15
		case situation.KindSpawnSeed:
			impact += 0.25
		}
		if e.Firing.EffectiveMode() == situation.FireDelayed {
			impact += 0.2
		}
	}
	return min(impact, 1.0)
}

var moralWeights = map[situation.Approach]int{
	situation.ApproachViolence:  -30,
	situation.ApproachStealth:   -10,
	situation.ApproachDiplomacy: 20,
	situation.ApproachIgnore:    -20,
}

// MoralImpact is how the world judges an approach. Economic and supernatural
// approaches are neutral.
func MoralImpact(approach situation.Approach) int {
	return moralWeights[approach]
}
