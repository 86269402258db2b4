package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/situation-engine/internal/handlers"
	"github.com/jwebster45206/situation-engine/pkg/queue"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// DefaultActor is used when a suite does not name one
const DefaultActor = "player"

// Runner executes integration tests against a running situation engine API
// and worker
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Timeout           time.Duration
	Logger            func(format string, args ...interface{})
	ErrorHandlingMode ErrorHandlingMode
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 60 * time.Second},
		Timeout:           30 * time.Second,
		Logger:            func(string, ...interface{}) {},
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a JSON file
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}

	return suite, nil
}

// LoadTestSuiteWithExpansion loads a test suite and expands it if it's a sequence
// Returns a list of actual test suites (expanded from the sequence if needed)
func LoadTestSuiteWithExpansion(filename string, casesDir string) ([]TestJob, error) {
	suite, err := LoadTestSuite(filename)
	if err != nil {
		return nil, err
	}

	if !suite.IsSequence() {
		return []TestJob{{
			Name:     suite.Name,
			Suite:    suite,
			CaseFile: filename,
		}}, nil
	}

	var jobs []TestJob
	for _, caseFile := range suite.Cases {
		casePath := filepath.Join(casesDir, caseFile)

		// A sequence may reference another sequence
		subJobs, err := LoadTestSuiteWithExpansion(casePath, casesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load case '%s' referenced by sequence '%s': %w", caseFile, suite.Name, err)
		}

		jobs = append(jobs, subJobs...)
	}

	return jobs, nil
}

// suiteRun is the per-suite state steps share
type suiteRun struct {
	slot   uuid.UUID
	actor  string
	stream *EventStream
	// seed id to the last instance id seen for it
	instances map[string]string
}

// RunSuite executes a complete test suite against a fresh slot
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Job: TestJob{
			Name:  suite.Name,
			Suite: suite,
		},
		Results: make([]TestResult, 0, len(suite.Steps)),
	}

	slotID, err := r.createSlot(ctx, suite.Vars)
	if err != nil {
		result.Error = fmt.Errorf("failed to create slot: %w", err)
		result.Duration = time.Since(start)
		return result, result.Error
	}
	result.Slot = slotID
	defer func() {
		if err := r.deleteSlot(context.Background(), slotID); err != nil {
			r.Logger("    Warning: failed to delete slot %s: %v", slotID, err)
		}
	}()

	stream, err := DialEvents(ctx, r.BaseURL, slotID)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result, result.Error
	}
	defer func() { _ = stream.Close() }()

	run := &suiteRun{
		slot:      slotID,
		actor:     suite.Actor,
		stream:    stream,
		instances: make(map[string]string),
	}
	if run.actor == "" {
		run.actor = DefaultActor
	}

	for i, step := range suite.Steps {
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult := r.runStep(ctx, run, step)
		stepResult.TestName = suite.Name
		result.Results = append(result.Results, stepResult)
		if stepResult.Clock != "" {
			result.Clock = stepResult.Clock
		}

		if stepResult.Error != nil {
			r.Logger("    [%d/%d] ✗ %s: %v", i+1, len(suite.Steps), step.Name, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i, step.Name, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
			continue
		}

		r.Logger("    [%d/%d] ✓ %s (%v)", i+1, len(suite.Steps), step.Name, stepResult.Duration)
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

func (r *Runner) createSlot(ctx context.Context, vars map[string]any) (uuid.UUID, error) {
	body, err := json.Marshal(handlers.CreateSlotRequest{Vars: vars})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/v1/slots", bytes.NewBuffer(body))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create slot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return uuid.Nil, fmt.Errorf("create slot returned %d: %s", resp.StatusCode, string(raw))
	}

	var slot handlers.SlotResponse
	if err := json.NewDecoder(resp.Body).Decode(&slot); err != nil {
		return uuid.Nil, fmt.Errorf("failed to decode created slot: %w", err)
	}
	return slot.ID, nil
}

func (r *Runner) deleteSlot(ctx context.Context, slotID uuid.UUID) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, r.BaseURL+"/v1/slots/"+slotID.String(), nil)
	if err != nil {
		return err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete slot returned %d", resp.StatusCode)
	}
	return nil
}

// runStep executes a single test step and checks expectations.
// Will retry once on timeout errors without backoff.
func (r *Runner) runStep(ctx context.Context, run *suiteRun, step TestStep) TestResult {
	for attempt := 1; attempt <= 2; attempt++ {
		result := r.executeStep(ctx, run, step)
		if result.Success || result.Error == nil {
			return result
		}

		isTimeout := strings.Contains(result.Error.Error(), "timeout waiting for command")
		if isTimeout && attempt == 1 {
			r.Logger("    Timeout detected, retrying step: %s", step.Name)
			continue
		}
		return result
	}

	return TestResult{StepName: step.Name, Error: fmt.Errorf("unexpected error in retry logic")}
}

// executeStep sends the step's command, waits for it to settle and checks
// the slot afterwards
func (r *Runner) executeStep(ctx context.Context, run *suiteRun, step TestStep) TestResult {
	start := time.Now()
	result := TestResult{
		StepName: step.Name,
	}
	fail := func(err error) TestResult {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	before, err := GetSlot(ctx, r.Client, r.BaseURL, run.slot, run.actor)
	if err != nil {
		return fail(fmt.Errorf("failed to get slot before command: %w", err))
	}
	run.remember(before)

	cmd := r.buildCommand(run, step.Command)
	if err := cmd.Validate(); err != nil {
		return fail(fmt.Errorf("invalid step command: %w", err))
	}

	requestID, err := PostCommandAsync(ctx, r.Client, r.BaseURL, cmd)
	if err != nil {
		return fail(err)
	}

	settled, err := run.stream.WaitForCommand(ctx, requestID)
	if err != nil {
		return fail(err)
	}
	result.Journal = settled.Journal
	if settled.Failed {
		result.Refused = settled.Code
	}

	after, err := GetSlot(ctx, r.Client, r.BaseURL, run.slot, run.actor)
	if err != nil {
		return fail(fmt.Errorf("failed to get slot after command: %w", err))
	}
	run.remember(after)
	result.Clock = after.Clock

	if err := r.checkExpectations(ctx, run, step.Expectations, settled, after); err != nil {
		return fail(fmt.Errorf("expectation failed: %w", err))
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) buildCommand(run *suiteRun, sc StepCommand) *queue.Command {
	cmd := queue.NewCommand(run.slot, sc.Type)
	cmd.By = sc.By
	cmd.Method = sc.Method
	cmd.Source = sc.Source
	cmd.Hint = sc.Hint
	cmd.ClueRef = sc.Clue
	cmd.BranchID = sc.Branch
	cmd.Reason = sc.Reason
	cmd.Vars = sc.Vars
	if sc.Seed != "" {
		cmd.SituationID = run.instanceFor(sc.Seed)
	}
	if sc.Type == queue.CommandResolve {
		cmd.ActorID = run.actor
	}
	return cmd
}

// remember records the instance ids of every situation the actor can see
func (run *suiteRun) remember(slot *handlers.SlotResponse) {
	for _, s := range slot.Active {
		run.instances[s.SeedID] = s.ID
	}
}

// instanceFor maps a seed id to its instance. Unknown seeds are sent as
// given so the engine can refuse them.
func (run *suiteRun) instanceFor(seedID string) string {
	if id, ok := run.instances[seedID]; ok {
		return id
	}
	return seedID
}

// getSituationState reads one situation directly, which works after it has
// left the actor's active list
func (r *Runner) getSituationState(ctx context.Context, run *suiteRun, instanceID string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/slots/%s/situations/%s", r.BaseURL, run.slot, instanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get situation: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("situation endpoint returned %d: %s", resp.StatusCode, string(raw))
	}
	var sr handlers.SituationResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("failed to decode situation: %w", err)
	}
	return string(sr.Situation.State), nil
}

// checkExpectations validates the test expectations against the settled
// command and the slot afterwards
func (r *Runner) checkExpectations(ctx context.Context, run *suiteRun, exp Expectations, settled *Settled, slot *handlers.SlotResponse) error {
	// Refusal check
	if exp.Refused != nil {
		if !settled.Failed {
			return fmt.Errorf("expected the command to be refused with %s, but it completed", *exp.Refused)
		}
		if settled.Code != *exp.Refused {
			return fmt.Errorf("expected refusal code %s, got %q (%s)", *exp.Refused, settled.Code, settled.Message)
		}
	} else if settled.Failed {
		return fmt.Errorf("command failed: %s %s", settled.Code, settled.Message)
	}

	if exp.Clock != nil {
		if slot.Clock != *exp.Clock {
			return fmt.Errorf("expected clock %s, got %s", *exp.Clock, slot.Clock)
		}
	}

	known := make(map[string]string)
	for _, s := range slot.Active {
		known[s.SeedID] = string(s.State)
	}
	for _, seedID := range exp.Known {
		if _, ok := known[seedID]; !ok {
			return fmt.Errorf("expected %s to be known to %s, but it isn't", seedID, run.actor)
		}
	}
	for _, seedID := range exp.NotKnown {
		if _, ok := known[seedID]; ok {
			return fmt.Errorf("expected %s to be unknown to %s, but it is %s", seedID, run.actor, known[seedID])
		}
	}

	for seedID, expectedState := range exp.States {
		actual, ok := known[seedID]
		if !ok {
			id, seen := run.instances[seedID]
			if !seen {
				return fmt.Errorf("expected %s to be %s, but no situation for it was seen", seedID, expectedState)
			}
			var err error
			if actual, err = r.getSituationState(ctx, run, id); err != nil {
				return err
			}
		}
		if actual != expectedState {
			return fmt.Errorf("expected %s to be %s, got %s", seedID, expectedState, actual)
		}
	}

	for key, expectedValue := range exp.Vars {
		actualValue, exists := slot.World.Vars[key]
		if !exists {
			return fmt.Errorf("expected variable %s to be set, but it doesn't exist", key)
		}
		if actualValue.String() != expectedValue {
			return fmt.Errorf("expected variable %s to be %s, got %s", key, expectedValue, actualValue.String())
		}
	}

	for _, kind := range exp.Journal {
		if !slices.Contains(settled.Journal, kind) {
			return fmt.Errorf("expected a %s journal entry, got %v", kind, settled.Journal)
		}
	}

	if exp.Pending != nil {
		if len(slot.Pending) != *exp.Pending {
			return fmt.Errorf("expected %d pending consequences, got %d", *exp.Pending, len(slot.Pending))
		}
	}

	return nil
}
