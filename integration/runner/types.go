package runner

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/situation-engine/pkg/queue"
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// TestSuite defines a complete integration test scenario
// Can either be a regular test with Steps, or a suite that references other Cases
type TestSuite struct {
	Name  string         `json:"name"`
	Vars  map[string]any `json:"vars,omitempty"`  // World variables for the new slot
	Actor string         `json:"actor,omitempty"` // Actor used for resolves and situation listings
	Steps []TestStep     `json:"steps,omitempty"` // Used for regular tests
	Cases []string       `json:"cases,omitempty"` // Used for suite tests (list of case files)
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// TestStep defines a single command and its expected outcomes
type TestStep struct {
	Name         string       `json:"name,omitempty"`
	Command      StepCommand  `json:"command"`
	Expectations Expectations `json:"expect"`
}

// StepCommand is a queue command that names situations by seed id. The
// runner swaps the seed id for the live instance id before sending.
type StepCommand struct {
	Type   queue.CommandType  `json:"type"`
	By     situation.Duration `json:"by,omitempty"`
	Method situation.Method   `json:"method,omitempty"`
	Source string             `json:"source,omitempty"`
	Hint   string             `json:"hint,omitempty"`
	Seed   string             `json:"seed,omitempty"`
	Clue   string             `json:"clue,omitempty"`
	Branch string             `json:"branch,omitempty"`
	Reason string             `json:"reason,omitempty"`
	Vars   map[string]any     `json:"vars,omitempty"`
}

// Expectations defines what to check after a step's command settles
type Expectations struct {
	Clock    *string           `json:"clock,omitempty"`     // Slot clock, e.g. "day 0 01:00"
	Known    []string          `json:"known,omitempty"`     // Seeds the actor has active or resolvable situations for
	NotKnown []string          `json:"not_known,omitempty"` // Seeds the actor must not see
	States   map[string]string `json:"states,omitempty"`    // Seed id to situation state
	Vars     map[string]string `json:"vars,omitempty"`      // World variables
	Journal  []string          `json:"journal,omitempty"`   // Entry kinds the command must produce
	Refused  *string           `json:"refused,omitempty"`   // Error code the engine must refuse with
	Pending  *int              `json:"pending,omitempty"`   // Scheduled consequences still waiting
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	TestName string
	StepName string
	Success  bool
	Error    error
	Duration time.Duration
	Journal  []string // Entry kinds the step's command produced
	Refused  string   // Error code the command was refused with, if any
	Clock    string   // Slot clock once the command settled
}

// TestJob represents a test suite to be executed
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job      TestJob
	Results  []TestResult
	Error    error
	Duration time.Duration
	Slot     uuid.UUID // ID of the slot used for this test
	Clock    string    // Slot clock after the last step that settled
}
