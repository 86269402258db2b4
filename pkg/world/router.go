package world

import (
	"fmt"

	"github.com/jwebster45206/situation-engine/pkg/conditionals"
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// Validate implements situation.MutationValidator. A mutation that passes
// is guaranteed to apply.
func (w *World) Validate(m situation.Mutation) error {
	if m.Selector == "" {
		return fmt.Errorf("%s needs a selector", m.Kind)
	}
	switch m.Kind {
	case situation.KindRelationshipDelta, situation.KindPriceModifier:
		return nil
	case situation.KindVarDelta:
		if v, ok := w.Read(m.Selector); ok && v.Kind != conditionals.KindNumber {
			return fmt.Errorf("cannot add to %s: it holds a %s", m.Selector, v.Kind)
		}
		return nil
	case situation.KindVarSet:
		if m.Value == nil {
			return fmt.Errorf("var_set %s needs a value", m.Selector)
		}
		return nil
	case situation.KindFlagSet:
		if m.Value == nil || m.Value.Kind != conditionals.KindBool {
			return fmt.Errorf("flag_set %s needs a bool value", m.Selector)
		}
		return nil
	case situation.KindNPCReaction:
		if m.Text == "" {
			return fmt.Errorf("npc_reaction for %s needs text", m.Selector)
		}
		return nil
	}
	return fmt.Errorf("effect kind %s is not routed to the world", m.Kind)
}

// Apply implements situation.EffectRouter
func (w *World) Apply(m situation.Mutation) error {
	if err := w.Validate(m); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	selector := Normalize(m.Selector)
	switch m.Kind {
	case situation.KindRelationshipDelta:
		w.addLocked(RelationshipPrefix+selector, m.Magnitude)
	case situation.KindPriceModifier:
		w.addLocked(PricePrefix+selector, m.Magnitude)
	case situation.KindVarDelta:
		w.addLocked(selector, m.Magnitude)
	case situation.KindVarSet, situation.KindFlagSet:
		w.vars[selector] = m.Value.Clone()
	case situation.KindNPCReaction:
		w.reactions = append(w.reactions, Reaction{NPC: selector, Text: m.Text, SituationID: m.SituationID})
		w.vars[ReactionPrefix+selector+".last_reaction"] = conditionals.String(m.Text)
	}

	w.logger.Debug("World mutation applied",
		"kind", m.Kind,
		"scope", m.Scope,
		"selector", selector,
		"magnitude", m.Magnitude,
		"situation_id", m.SituationID,
		"consequence_id", m.ConsequenceID)
	return nil
}

func (w *World) addLocked(name string, delta float64) {
	cur := w.vars[name]
	if cur.Kind != conditionals.KindNumber {
		cur = conditionals.Number(0)
	}
	w.vars[name] = conditionals.Number(cur.Num + delta)
}
