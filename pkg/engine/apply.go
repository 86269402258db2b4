package engine

import (
	"fmt"

	"github.com/jwebster45206/situation-engine/pkg/consequence"
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// ApplyConsequence implements consequence.Applier. Routed kinds go to the
// EffectRouter; the rest change engine state. Each branch checks everything
// it needs before its first write.
func (e *Engine) ApplyConsequence(t *consequence.Tracked, now situation.Time) error {
	spec := t.Effect
	switch {
	case spec.Kind.Routed():
		return e.route(t)
	case spec.Kind == situation.KindSpawnSeed:
		return e.applySpawn(t)
	case spec.Kind == situation.KindAddClue:
		return e.applyClue(t, now)
	case spec.Kind == situation.KindAbandonSituation:
		target, ok := e.dir.Lookup(spec.Selector)
		if !ok {
			return situation.Errorf(situation.CodeUnknownSituation, "no situation %s", spec.Selector)
		}
		if target.State == situation.StateAbandoned {
			return situation.Errorf(situation.CodeSituationClosed, "situation is already abandoned").For(target.ID)
		}
		reason := spec.Text
		if reason == "" {
			reason = "overtaken by events"
		}
		return e.abandon(target, reason)
	case spec.Kind == situation.KindNotify:
		inst, _ := e.dir.Get(t.SituationID)
		e.record(EntryNotice, inst, spec.Text)
		return nil
	}
	return situation.Errorf(situation.CodeInvalidEffect, "unsupported effect kind %q", spec.Kind)
}

// Voided implements consequence.Voider
func (e *Engine) Voided(situationID string) bool {
	inst, ok := e.dir.Get(situationID)
	return ok && inst.State == situation.StateAbandoned
}

func (e *Engine) route(t *consequence.Tracked) error {
	if e.router == nil {
		return situation.Errorf(situation.CodeInvalidEffect, "no effect router for %s", t.Effect.Kind)
	}
	m := situation.MutationFor(t.Effect, t.SituationID, t.ID)
	if v, ok := e.router.(situation.MutationValidator); ok {
		if err := v.Validate(m); err != nil {
			return situation.Wrap(situation.CodeInvalidEffect, t.Effect.Label(), err)
		}
	}
	if err := e.router.Apply(m); err != nil {
		return fmt.Errorf("failed to route %s: %w", t.Effect.Label(), err)
	}
	return nil
}

func (e *Engine) applySpawn(t *consequence.Tracked) error {
	seed, ok := e.registry.Seed(t.Effect.Selector)
	if !ok {
		return situation.Errorf(situation.CodeUnknownSeed, "no seed %s", t.Effect.Selector)
	}
	if seed.SingletonActive {
		if live := e.dir.Live(seed.ID); live != nil {
			e.log.Info("Singleton seed already live, skipping spawn",
				"seed_id", seed.ID,
				"situation_id", live.ID,
				"consequence_id", t.ID)
			return nil
		}
	}
	_, err := e.spawn(seed, t.Depth+1, t.RootID, t.ID)
	return err
}

func (e *Engine) applyClue(t *consequence.Tracked, now situation.Time) error {
	grant := t.Effect.Grant
	target, ok := e.dir.Lookup(t.Effect.Selector)
	if !ok {
		return situation.Errorf(situation.CodeUnknownSituation, "no situation %s", t.Effect.Selector)
	}
	if target.State.Terminal() {
		return situation.Errorf(situation.CodeSituationClosed, "situation is %s", target.State).For(target.ID)
	}
	added, err := e.dir.AddClue(situation.NewClue(target.ID, grant.Source, grant.Clue, now))
	if err != nil {
		return err
	}
	if added {
		e.ledger.Refresh(target.ID)
		e.record(EntryClueAdded, target, grant.Clue.Text)
	}
	return nil
}

// Abandon voids a situation from outside. Pending consequences caused by it,
// directly or through a chain it is the root of, are cancelled and it
// becomes abandoned. Resolved and expired situations can be voided too;
// nothing else fires.
func (e *Engine) Abandon(situationRef, reason string) error {
	inst, ok := e.dir.Lookup(situationRef)
	if !ok {
		return situation.Errorf(situation.CodeUnknownSituation, "no situation %s", situationRef).For(situationRef)
	}
	if inst.State == situation.StateAbandoned {
		return situation.Errorf(situation.CodeSituationClosed, "situation is already abandoned").For(inst.ID)
	}
	return e.abandon(inst, reason)
}

func (e *Engine) abandon(inst *situation.Instance, reason string) error {
	if _, err := situation.Transition(inst.State, situation.EventAbandon); err != nil {
		return err
	}
	cancelled := e.sched.CancelRoot(inst.ID, e.now)
	if err := e.dir.Transition(inst, situation.EventAbandon, e.now); err != nil {
		return err
	}
	inst.Outcome = reason

	text := fmt.Sprintf("%s was voided.", e.displayName(inst))
	if reason != "" {
		text = fmt.Sprintf("%s was voided: %s.", e.displayName(inst), reason)
	}
	e.record(EntryAbandoned, inst, text)
	for _, t := range cancelled {
		e.record(EntryCancelled, inst, t.Effect.Label())
	}
	e.log.Info("Situation abandoned",
		"situation_id", inst.ID,
		"reason", reason,
		"cancelled", len(cancelled))
	return nil
}
