package consequence

import (
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// Outcome records how a tracked consequence left the queue
type Outcome string

const (
	OutcomePending          Outcome = ""
	OutcomeApplied          Outcome = "applied"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeConditionsNotMet Outcome = "conditions_never_met"
	OutcomeDepthExceeded    Outcome = "cascade_depth_exceeded"
	OutcomeFailed           Outcome = "failed"
)

// Origin describes where an enqueued effect came from
type Origin struct {
	SituationID string
	RootID      string
	BranchID    string
	ParentID    uint64
	Depth       int
}

// Tracked is an effect bound to a concrete due time. The ID doubles as the
// enqueue order.
type Tracked struct {
	ID          uint64               `json:"id"`
	Effect      situation.EffectSpec `json:"effect"`
	SituationID string               `json:"situation_id,omitempty"`
	RootID      string               `json:"root_id,omitempty"`
	BranchID    string               `json:"branch_id,omitempty"`
	ParentID    uint64               `json:"parent_id,omitempty"`
	Depth       int                  `json:"depth"`
	EnqueuedAt  situation.Time       `json:"enqueued_at"`
	Due         situation.Time       `json:"due"`
	Deadline    *situation.Time      `json:"deadline,omitempty"`
	Occurrence  int                  `json:"occurrence,omitempty"`
	Reverses    uint64               `json:"reverses,omitempty"` // set on the entry that undoes a temporary effect
	Applied     bool                 `json:"applied"`
	Cancelled   bool                 `json:"cancelled,omitempty"`
	Outcome     Outcome              `json:"outcome,omitempty"`
	ClosedAt    *situation.Time      `json:"closed_at,omitempty"`
	Detail      string               `json:"detail,omitempty"`
}

// Clone returns a deep copy
func (t *Tracked) Clone() *Tracked {
	c := *t
	c.Effect = t.Effect.Clone()
	if t.Deadline != nil {
		d := *t.Deadline
		c.Deadline = &d
	}
	if t.ClosedAt != nil {
		d := *t.ClosedAt
		c.ClosedAt = &d
	}
	return &c
}

func (t *Tracked) before(o *Tracked) bool {
	if t.Due != o.Due {
		return t.Due < o.Due
	}
	return t.ID < o.ID
}

func (t *Tracked) close(outcome Outcome, now situation.Time, detail string) {
	t.Outcome = outcome
	t.ClosedAt = situation.TimePtr(now)
	t.Detail = detail
	switch outcome {
	case OutcomeApplied:
		t.Applied = true
	case OutcomeCancelled:
		t.Cancelled = true
	}
}

// Result reports one consequence that left the queue during a tick
type Result struct {
	Consequence *Tracked
	Err         error
}

// State is the serializable form of the scheduler
type State struct {
	NextID  uint64     `json:"next_id"`
	Pending []*Tracked `json:"pending"`
	History []*Tracked `json:"history,omitempty"`
}
