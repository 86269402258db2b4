package engine

import (
	"slices"

	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// Investigation is the ledger record of one situation
type Investigation struct {
	SituationID string   `json:"situation_id"`
	Found       []string `json:"found"`
	Confidence  float64  `json:"confidence"`
}

func (i *Investigation) clone() *Investigation {
	c := *i
	c.Found = slices.Clone(i.Found)
	return &c
}

// Ledger tracks discovered clues per situation and decides when a
// situation's investigation is complete. It never fails on progress: a clue
// that does not count is simply not recorded.
type Ledger struct {
	dir      *Directory
	registry *Registry
	records  map[string]*Investigation
}

func NewLedger(dir *Directory, registry *Registry) *Ledger {
	return &Ledger{
		dir:      dir,
		registry: registry,
		records:  make(map[string]*Investigation),
	}
}

// Open starts an investigation. Opening twice keeps the existing record.
func (l *Ledger) Open(situationID string) *Investigation {
	if rec, ok := l.records[situationID]; ok {
		return rec
	}
	rec := &Investigation{SituationID: situationID}
	l.records[situationID] = rec
	l.recompute(rec)
	return rec
}

// Add records a discovered clue. It reports false when the clue was already
// recorded, belongs to a different situation, or the investigation is not open.
func (l *Ledger) Add(inst *situation.Instance, clueID string) bool {
	rec, ok := l.records[inst.ID]
	if !ok {
		return false
	}
	clue, ok := l.dir.Clue(clueID)
	if !ok || clue.SituationID != inst.ID {
		return false
	}
	if slices.Contains(rec.Found, clueID) {
		return false
	}
	rec.Found = append(rec.Found, clueID)
	inst.ClueIDs = append(inst.ClueIDs, clueID)
	l.recompute(rec)
	return true
}

// Get returns a copy of the investigation record
func (l *Ledger) Get(situationID string) (*Investigation, bool) {
	rec, ok := l.records[situationID]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// Confidence is 0 for situations without an open investigation
func (l *Ledger) Confidence(situationID string) float64 {
	if rec, ok := l.records[situationID]; ok {
		return rec.Confidence
	}
	return 0
}

// IsResolvable applies the seed's threshold rule
func (l *Ledger) IsResolvable(situationID string) (bool, error) {
	inst, ok := l.dir.Get(situationID)
	if !ok {
		return false, situation.Errorf(situation.CodeUnknownSituation, "no situation %s", situationID).For(situationID)
	}
	rec, ok := l.records[situationID]
	if !ok {
		return false, nil
	}
	seed, ok := l.registry.Seed(inst.SeedID)
	if !ok {
		return false, nil
	}
	if seed.ImmediatelyResolvable {
		return true, nil
	}

	t := l.count(rec)
	switch seed.Threshold.EffectiveMode() {
	case situation.ThresholdNOfM:
		return t.score(seed.Threshold.RedHerringPenalty) >= seed.Threshold.N, nil
	default:
		return t.genuineFound == t.genuineTotal, nil
	}
}

type tally struct {
	genuineTotal  int
	genuineFound  int
	weightTotal   float64
	weightFound   float64
	herringWeight float64
}

func (t tally) score(penalty float64) float64 {
	return t.weightFound - penalty*t.herringWeight
}

func (l *Ledger) count(rec *Investigation) tally {
	var t tally
	for _, c := range l.dir.CluesOf(rec.SituationID) {
		found := slices.Contains(rec.Found, c.ID)
		if c.RedHerring {
			if found {
				t.herringWeight += c.Weight
			}
			continue
		}
		t.genuineTotal++
		t.weightTotal += c.Weight
		if found {
			t.genuineFound++
			t.weightFound += c.Weight
		}
	}
	return t
}

func (l *Ledger) recompute(rec *Investigation) {
	t := l.count(rec)
	if t.weightTotal == 0 {
		rec.Confidence = 1
		return
	}
	penalty := 0.0
	if inst, ok := l.dir.Get(rec.SituationID); ok {
		if seed, ok := l.registry.Seed(inst.SeedID); ok {
			penalty = seed.Threshold.RedHerringPenalty
		}
	}
	c := t.score(penalty) / t.weightTotal
	rec.Confidence = min(max(c, 0), 1)
}

// Refresh recomputes confidence after the clue set of a situation grew
func (l *Ledger) Refresh(situationID string) {
	if rec, ok := l.records[situationID]; ok {
		l.recompute(rec)
	}
}

func (l *Ledger) snapshot() []*Investigation {
	out := make([]*Investigation, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec.clone())
	}
	slices.SortFunc(out, func(a, b *Investigation) int {
		switch {
		case a.SituationID < b.SituationID:
			return -1
		case a.SituationID > b.SituationID:
			return 1
		}
		return 0
	})
	return out
}

func (l *Ledger) restore(recs []*Investigation) {
	l.records = make(map[string]*Investigation, len(recs))
	for _, rec := range recs {
		l.records[rec.SituationID] = rec.clone()
	}
}
