package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	internalStorage "github.com/jwebster45206/situation-engine/internal/storage"
	"github.com/jwebster45206/situation-engine/pkg/actor"
	"github.com/jwebster45206/situation-engine/pkg/consequence"
	"github.com/jwebster45206/situation-engine/pkg/engine"
	"github.com/jwebster45206/situation-engine/pkg/queue"
	"github.com/jwebster45206/situation-engine/pkg/situation"
	"github.com/jwebster45206/situation-engine/pkg/storage"
	"github.com/jwebster45206/situation-engine/pkg/world"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// CommandEnqueuer accepts commands for the worker
type CommandEnqueuer interface {
	Enqueue(ctx context.Context, cmd *queue.Command) error
}

// QueuedPublisher announces accepted commands to event subscribers
type QueuedPublisher interface {
	PublishCommandQueued(ctx context.Context, slotID uuid.UUID, requestID string, commandType string) error
}

// JournalStore is the queryable journal index
type JournalStore interface {
	Append(ctx context.Context, slotID uuid.UUID, entries []engine.JournalEntry) error
	Query(ctx context.Context, slotID uuid.UUID, q internalStorage.JournalQuery) ([]engine.JournalEntry, error)
	DeleteSlot(ctx context.Context, slotID uuid.UUID) error
}

// CreateSlotRequest starts a playthrough
type CreateSlotRequest struct {
	Vars  map[string]any `json:"vars,omitempty"`
	Start situation.Time `json:"start,omitempty"`
}

// SlotResponse summarises a slot
type SlotResponse struct {
	ID         uuid.UUID                 `json:"id"`
	Now        situation.Time            `json:"now"`
	Clock      string                    `json:"clock"`
	Situations int                       `json:"situations"`
	Pending    []*consequence.Tracked    `json:"pending"`
	World      world.State               `json:"world"`
	Journal    []engine.JournalEntry     `json:"journal,omitempty"`
	Active     []engine.SituationSummary `json:"active,omitempty"`
}

// SituationResponse is the host's full view of one situation
type SituationResponse struct {
	Situation     *situation.Instance   `json:"situation"`
	Clues         []situation.Clue      `json:"clues"`
	Branches      []engine.BranchOption `json:"branches"`
	Investigation *engine.Investigation `json:"investigation,omitempty"`
}

// CommandAccepted is returned when a command is queued
type CommandAccepted struct {
	RequestID string            `json:"request_id"`
	SlotID    uuid.UUID         `json:"slot_id"`
	Type      queue.CommandType `json:"type"`
	Status    string            `json:"status"`
}

// SlotsHandler serves slots, their situations, journals and commands
type SlotsHandler struct {
	storage   storage.Storage
	registry  *engine.Registry
	cfg       engine.Config
	roster    *actor.Roster
	journal   JournalStore
	commands  CommandEnqueuer
	publisher QueuedPublisher
	logger    *slog.Logger
}

// NewSlotsHandler wires the slot routes. journal, commands and publisher
// may be nil; their routes then answer 503.
func NewSlotsHandler(store storage.Storage, registry *engine.Registry, cfg engine.Config, roster *actor.Roster,
	journal JournalStore, commands CommandEnqueuer, publisher QueuedPublisher, logger *slog.Logger) *SlotsHandler {
	return &SlotsHandler{
		storage:   store,
		registry:  registry,
		cfg:       cfg,
		roster:    roster,
		journal:   journal,
		commands:  commands,
		publisher: publisher,
		logger:    logger,
	}
}

// ServeHTTP handles HTTP requests for slot operations
// Routes:
// POST   /v1/slots                          - Create a slot
// GET    /v1/slots                          - List slot ids
// GET    /v1/slots/{id}                     - Read a slot summary
// DELETE /v1/slots/{id}                     - Delete a slot
// GET    /v1/slots/{id}/situations          - List active situations (?actor=)
// GET    /v1/slots/{id}/situations/{sid}    - Read one situation (?actor=)
// GET    /v1/slots/{id}/journal             - Query the journal index
// POST   /v1/slots/{id}/commands            - Enqueue a command
func (h *SlotsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/slots"), "/")
	if path == "" {
		switch r.Method {
		case http.MethodPost:
			h.handleCreate(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed. Supported methods: POST, GET")
		}
		return
	}

	parts := strings.Split(path, "/")
	slotID, err := uuid.Parse(parts[0])
	if err != nil {
		h.logger.Warn("Invalid slot ID", "id", parts[0], "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid slot ID format")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleRead(w, r, slotID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.handleDelete(w, r, slotID)
	case len(parts) == 2 && parts[1] == "situations" && r.Method == http.MethodGet:
		h.handleSituations(w, r, slotID)
	case len(parts) == 3 && parts[1] == "situations" && r.Method == http.MethodGet:
		h.handleSituation(w, r, slotID, parts[2])
	case len(parts) == 2 && parts[1] == "journal" && r.Method == http.MethodGet:
		h.handleJournal(w, r, slotID)
	case len(parts) == 2 && parts[1] == "commands" && r.Method == http.MethodPost:
		h.handleCommand(w, r, slotID)
	case len(parts) <= 3:
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed for this route")
	default:
		h.writeError(w, http.StatusNotFound, "Route not found")
	}
}

func (h *SlotsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateSlotRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.logger.Warn("Invalid create slot request", "error", err)
			h.writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
			return
		}
	}

	slot, journal, err := storage.NewSlot(h.registry, h.cfg, req.Vars, req.Start, h.logger)
	if err != nil {
		h.logger.Warn("Failed to create slot", "error", err)
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.storage.SaveSlot(r.Context(), slot); err != nil {
		h.logger.Error("Failed to save new slot", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to save slot")
		return
	}
	if h.journal != nil {
		if err := h.journal.Append(r.Context(), slot.ID, journal); err != nil {
			h.logger.Error("Failed to index journal", "error", err, "slot_id", slot.ID)
		}
	}

	h.logger.Info("Slot created", "slot_id", slot.ID, "situations", len(slot.Engine.Instances))
	e, err := h.open(slot)
	if err != nil {
		h.logger.Error("Failed to restore new slot", "error", err, "slot_id", slot.ID)
		h.writeError(w, http.StatusInternalServerError, "Failed to restore slot")
		return
	}
	h.writeJSON(w, http.StatusCreated, h.summary(slot, e, ""))
}

func (h *SlotsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ids, err := h.storage.ListSlots(r.Context())
	if err != nil {
		h.logger.Error("Failed to list slots", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list slots")
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"slots": ids})
}

func (h *SlotsHandler) handleRead(w http.ResponseWriter, r *http.Request, slotID uuid.UUID) {
	slot, e, ok := h.load(w, r, slotID)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.summary(slot, e, r.URL.Query().Get("actor")))
}

func (h *SlotsHandler) handleDelete(w http.ResponseWriter, r *http.Request, slotID uuid.UUID) {
	if err := h.storage.DeleteSlot(r.Context(), slotID); err != nil {
		h.logger.Error("Failed to delete slot", "error", err, "slot_id", slotID)
		h.writeError(w, http.StatusInternalServerError, "Failed to delete slot")
		return
	}
	if h.journal != nil {
		if err := h.journal.DeleteSlot(r.Context(), slotID); err != nil {
			h.logger.Error("Failed to delete journal", "error", err, "slot_id", slotID)
		}
	}
	h.logger.Info("Slot deleted", "slot_id", slotID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *SlotsHandler) handleSituations(w http.ResponseWriter, r *http.Request, slotID uuid.UUID) {
	_, e, ok := h.load(w, r, slotID)
	if !ok {
		return
	}
	active := e.ListActive(r.URL.Query().Get("actor"))
	if active == nil {
		active = []engine.SituationSummary{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"situations": active})
}

func (h *SlotsHandler) handleSituation(w http.ResponseWriter, r *http.Request, slotID uuid.UUID, situationID string) {
	_, e, ok := h.load(w, r, slotID)
	if !ok {
		return
	}
	inst, err := e.Situation(situationID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	branches, err := e.AvailableBranches(inst.ID, r.URL.Query().Get("actor"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	resp := SituationResponse{
		Situation: inst,
		Clues:     e.Clues(inst.ID),
		Branches:  branches,
	}
	if resp.Clues == nil {
		resp.Clues = []situation.Clue{}
	}
	if inv, ok := e.Investigation(inst.ID); ok {
		resp.Investigation = inv
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *SlotsHandler) handleJournal(w http.ResponseWriter, r *http.Request, slotID uuid.UUID) {
	if h.journal == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Journal index is not configured")
		return
	}
	q := r.URL.Query()
	query := internalStorage.JournalQuery{
		SituationID: q.Get("situation_id"),
		Kind:        engine.EntryKind(q.Get("kind")),
	}
	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "after must be a sequence number")
			return
		}
		query.AfterSeq = after
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		query.Limit = limit
	}

	entries, err := h.journal.Query(r.Context(), slotID, query)
	if err != nil {
		h.logger.Error("Failed to query journal", "error", err, "slot_id", slotID)
		h.writeError(w, http.StatusInternalServerError, "Failed to query journal")
		return
	}
	if entries == nil {
		entries = []engine.JournalEntry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *SlotsHandler) handleCommand(w http.ResponseWriter, r *http.Request, slotID uuid.UUID) {
	if h.commands == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Command queue is not configured")
		return
	}

	var cmd queue.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.logger.Warn("Invalid command body", "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	cmd.SlotID = slotID
	cmd.RequestID = uuid.New().String()
	cmd.EnqueuedAt = time.Now()
	if err := cmd.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slot, err := h.storage.LoadSlot(r.Context(), slotID)
	if err != nil {
		h.logger.Error("Failed to load slot", "error", err, "slot_id", slotID)
		h.writeError(w, http.StatusInternalServerError, "Failed to load slot")
		return
	}
	if slot == nil {
		h.writeError(w, http.StatusNotFound, "Slot not found")
		return
	}

	if err := h.commands.Enqueue(r.Context(), &cmd); err != nil {
		h.logger.Error("Failed to enqueue command", "error", err, "slot_id", slotID)
		h.writeError(w, http.StatusInternalServerError, "Failed to enqueue command")
		return
	}
	if h.publisher != nil {
		if err := h.publisher.PublishCommandQueued(r.Context(), slotID, cmd.RequestID, string(cmd.Type)); err != nil {
			h.logger.Error("Failed to publish queued event", "error", err)
		}
	}

	h.logger.Info("Command queued", "request_id", cmd.RequestID, "slot_id", slotID, "type", cmd.Type)
	h.writeJSON(w, http.StatusAccepted, CommandAccepted{
		RequestID: cmd.RequestID,
		SlotID:    slotID,
		Type:      cmd.Type,
		Status:    "queued",
	})
}

// load reads a slot and restores a read-only engine over it, answering the
// request itself on failure
func (h *SlotsHandler) load(w http.ResponseWriter, r *http.Request, slotID uuid.UUID) (*storage.Slot, *engine.Engine, bool) {
	slot, err := h.storage.LoadSlot(r.Context(), slotID)
	if err != nil {
		h.logger.Error("Failed to load slot", "error", err, "slot_id", slotID)
		h.writeError(w, http.StatusInternalServerError, "Failed to load slot")
		return nil, nil, false
	}
	if slot == nil {
		h.writeError(w, http.StatusNotFound, "Slot not found")
		return nil, nil, false
	}
	e, err := h.open(slot)
	if err != nil {
		h.logger.Error("Failed to restore slot", "error", err, "slot_id", slotID)
		h.writeError(w, http.StatusInternalServerError, "Failed to restore slot")
		return nil, nil, false
	}
	return slot, e, true
}

func (h *SlotsHandler) open(slot *storage.Slot) (*engine.Engine, error) {
	wv := world.FromState(slot.World, h.logger)
	var caps situation.Capabilities
	if h.roster != nil {
		caps = h.roster.WithStandings(wv)
	}
	return engine.Restore(slot.Engine, h.cfg, wv, caps, wv, engine.WithLogger(h.logger))
}

func (h *SlotsHandler) summary(slot *storage.Slot, e *engine.Engine, actorID string) SlotResponse {
	return SlotResponse{
		ID:         slot.ID,
		Now:        e.Now(),
		Clock:      e.Now().String(),
		Situations: len(e.Situations()),
		Pending:    e.Pending(),
		World:      slot.World,
		Journal:    e.Journal(),
		Active:     e.ListActive(actorID),
	}
}

func (h *SlotsHandler) writeDomainError(w http.ResponseWriter, err error) {
	code := situation.CodeOf(err)
	if code == "" {
		h.logger.Error("Unexpected engine error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(code.HTTPStatus())
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error: situation.ReasonOf(err),
		Code:  string(code),
	}); err != nil {
		h.logger.Error("Failed to encode error response", "error", err)
	}
}

func (h *SlotsHandler) writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: msg}); err != nil {
		h.logger.Error("Failed to encode error response", "error", err)
	}
}

func (h *SlotsHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}
