package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jwebster45206/situation-engine/pkg/actor"
	"github.com/jwebster45206/situation-engine/pkg/engine"
	"github.com/jwebster45206/situation-engine/pkg/queue"
	"github.com/jwebster45206/situation-engine/pkg/situation"
	"github.com/jwebster45206/situation-engine/pkg/storage"
	"github.com/jwebster45206/situation-engine/pkg/world"
)

// ErrSlotNotFound is returned when a command names a slot that is not stored
var ErrSlotNotFound = errors.New("slot not found")

// JournalSink receives the journal entries a command produced
type JournalSink interface {
	Append(ctx context.Context, slotID uuid.UUID, entries []engine.JournalEntry) error
}

// Outcome is what one command did to a slot
type Outcome struct {
	Result map[string]any

	// Journal holds every entry the command wrote plus declines, which
	// carry no sequence number
	Journal []engine.JournalEntry

	// Err is set when the engine refused the command. The slot is saved
	// either way; a refusal leaves the engine as it was.
	Err error
}

// SlotProcessor applies queued commands to stored slots. It is used by the
// worker and by tests that want to drive a slot synchronously.
type SlotProcessor struct {
	storage storage.Storage
	journal JournalSink
	roster  *actor.Roster
	cfg     engine.Config
	logger  *slog.Logger
}

// NewSlotProcessor creates a processor. journal and roster may be nil; a
// nil roster makes every branch with a capability prerequisite unavailable.
func NewSlotProcessor(store storage.Storage, journal JournalSink, roster *actor.Roster, cfg engine.Config, logger *slog.Logger) *SlotProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlotProcessor{
		storage: store,
		journal: journal,
		roster:  roster,
		cfg:     cfg,
		logger:  logger,
	}
}

// Process loads the slot, applies cmd and saves the result
func (p *SlotProcessor) Process(ctx context.Context, cmd *queue.Command) (*Outcome, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}

	slot, err := p.storage.LoadSlot(ctx, cmd.SlotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load slot: %w", err)
	}
	if slot == nil {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, cmd.SlotID)
	}

	var notes []engine.JournalEntry
	w := world.FromState(slot.World, p.logger)
	var caps situation.Capabilities
	if p.roster != nil {
		caps = p.roster.WithStandings(w)
	}
	e, err := engine.Restore(slot.Engine, p.cfg, w, caps, w,
		engine.WithLogger(p.logger.With("slot_id", cmd.SlotID)),
		engine.WithNotifier(engine.NotifierFunc(func(entry engine.JournalEntry) {
			notes = append(notes, entry)
		})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to restore engine: %w", err)
	}

	outcome := &Outcome{Result: map[string]any{}}
	outcome.Err = p.apply(e, w, cmd, outcome.Result)
	outcome.Result["now"] = e.Now().String()
	outcome.Journal = notes

	slot.Engine = e.Snapshot()
	slot.World = w.State()
	if err := p.storage.SaveSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("failed to save slot: %w", err)
	}

	if p.journal != nil {
		if err := p.journal.Append(ctx, cmd.SlotID, journaled(notes)); err != nil {
			// The snapshot is the source of truth; the index can lag
			p.logger.Error("Failed to index journal", "error", err, "slot_id", cmd.SlotID)
		}
	}

	p.logger.Debug("Command applied",
		"request_id", cmd.RequestID,
		"slot_id", cmd.SlotID,
		"type", cmd.Type,
		"entries", len(notes),
		"refused", outcome.Err != nil)
	return outcome, nil
}

// apply runs one command against a restored engine
func (p *SlotProcessor) apply(e *engine.Engine, w *world.World, cmd *queue.Command, result map[string]any) error {
	switch cmd.Type {
	case queue.CommandAdvance:
		target := e.Now().Add(cmd.By)
		if cmd.To != nil {
			target = *cmd.To
		}
		report, err := e.Advance(target)
		if err != nil {
			return err
		}
		result["report"] = report

	case queue.CommandDiscover:
		res := e.NotifyDiscovery(cmd.Method, cmd.Source, cmd.Hint)
		result["discovery"] = res

	case queue.CommandAddClue:
		added, err := e.AddClue(cmd.SituationID, cmd.ClueRef)
		if err != nil {
			return err
		}
		result["added"] = added

	case queue.CommandResolve:
		res, err := e.Resolve(cmd.SituationID, cmd.BranchID, cmd.ActorID)
		if err != nil {
			return err
		}
		result["resolution"] = res

	case queue.CommandAbandon:
		if err := e.Abandon(cmd.SituationID, cmd.Reason); err != nil {
			return err
		}
		result["abandoned"] = cmd.SituationID

	case queue.CommandSetVars:
		if err := w.SetAll(cmd.Vars); err != nil {
			return situation.Wrap(situation.CodeInvalidEffect, "bad variable value", err)
		}
		result["vars"] = len(cmd.Vars)

	default:
		return fmt.Errorf("unknown command type: %s", cmd.Type)
	}
	return nil
}

// journaled drops declines, which never reach the journal itself
func journaled(entries []engine.JournalEntry) []engine.JournalEntry {
	out := make([]engine.JournalEntry, 0, len(entries))
	for _, e := range entries {
		if e.Seq > 0 {
			out = append(out, e)
		}
	}
	return out
}
