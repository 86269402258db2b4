package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// CommandType identifies what a queued command asks the engine to do
type CommandType string

const (
	// CommandAdvance moves the slot's clock forward
	CommandAdvance CommandType = "advance"

	// CommandDiscover reports a discovery event
	CommandDiscover CommandType = "discover"

	// CommandAddClue records a clue for a known situation
	CommandAddClue CommandType = "add_clue"

	// CommandResolve picks a branch for a resolvable situation
	CommandResolve CommandType = "resolve"

	// CommandAbandon voids a situation
	CommandAbandon CommandType = "abandon"

	// CommandSetVars writes world variables; usually followed by an advance
	CommandSetVars CommandType = "set_vars"
)

// Command is one queued request against a slot
type Command struct {
	RequestID string      `json:"request_id"`
	Type      CommandType `json:"type"`
	SlotID    uuid.UUID   `json:"slot_id"`

	// Advance: either an absolute time or a step from the slot's clock
	To *situation.Time    `json:"to,omitempty"`
	By situation.Duration `json:"by,omitempty"`

	// Discover
	Method situation.Method `json:"method,omitempty"`
	Source string           `json:"source,omitempty"`
	Hint   string           `json:"hint,omitempty"`

	// AddClue, Resolve and Abandon
	SituationID string `json:"situation_id,omitempty"`
	ClueRef     string `json:"clue_ref,omitempty"`
	BranchID    string `json:"branch_id,omitempty"`
	ActorID     string `json:"actor_id,omitempty"`
	Reason      string `json:"reason,omitempty"`

	// SetVars
	Vars map[string]any `json:"vars,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewCommand stamps a request id and enqueue time
func NewCommand(slotID uuid.UUID, t CommandType) *Command {
	return &Command{
		RequestID:  uuid.New().String(),
		Type:       t,
		SlotID:     slotID,
		EnqueuedAt: time.Now(),
	}
}

// Validate checks that the fields the command type needs are present
func (c *Command) Validate() error {
	if c.SlotID == uuid.Nil {
		return fmt.Errorf("slot_id is required")
	}
	switch c.Type {
	case CommandAdvance:
		if c.To == nil && c.By <= 0 {
			return fmt.Errorf("advance needs to or a positive by")
		}
	case CommandDiscover:
		if _, err := situation.ParseMethod(string(c.Method)); err != nil {
			return err
		}
		if c.Source == "" {
			return fmt.Errorf("discover needs a source")
		}
	case CommandAddClue:
		if c.SituationID == "" || c.ClueRef == "" {
			return fmt.Errorf("add_clue needs situation_id and clue_ref")
		}
	case CommandResolve:
		if c.SituationID == "" || c.BranchID == "" {
			return fmt.Errorf("resolve needs situation_id and branch_id")
		}
	case CommandAbandon:
		if c.SituationID == "" {
			return fmt.Errorf("abandon needs situation_id")
		}
	case CommandSetVars:
		if len(c.Vars) == 0 {
			return fmt.Errorf("set_vars needs at least one variable")
		}
	default:
		return fmt.Errorf("unknown command type %q", c.Type)
	}
	return nil
}

// ToJSON converts the command to JSON bytes for Redis
func (c *Command) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}

// FromJSON parses a command from JSON bytes
func FromJSON(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}
