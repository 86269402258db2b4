package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/situation-engine/pkg/actor"
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// PCSummary is the list form of a player character
type PCSummary struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	Pronouns     string                  `json:"pronouns,omitempty"`
	Capabilities situation.CapabilitySet `json:"capabilities"`
}

type PCHandler struct {
	log    *slog.Logger
	roster *actor.Roster
}

func NewPCHandler(log *slog.Logger, roster *actor.Roster) *PCHandler {
	return &PCHandler{
		log:    log,
		roster: roster,
	}
}

func (h *PCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Path == "/v1/pcs" || r.URL.Path == "/v1/pcs/" {
			h.ListPCs(w, r)
		} else {
			h.handleGet(w, r)
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ListPCs lists the roster with each character's baseline capabilities
func (h *PCHandler) ListPCs(w http.ResponseWriter, r *http.Request) {
	// Initialize as empty slice instead of nil
	pcList := make([]PCSummary, 0, h.roster.Len())
	for _, id := range h.roster.IDs() {
		pc, ok := h.roster.Get(id)
		if !ok {
			continue
		}
		pcList = append(pcList, PCSummary{
			ID:           pc.Spec.ID,
			Name:         pc.Spec.Name,
			Pronouns:     pc.Spec.Pronouns,
			Capabilities: pc.Capabilities(),
		})
	}

	data, err := json.Marshal(pcList)
	if err != nil {
		h.log.Error("Failed to marshal PC list", "error", err)
		http.Error(w, "Failed to process PC list", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Error("Failed to write PC list response", "error", err)
	}
}

func (h *PCHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/pcs/"))
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "PC ID is required in URL path (e.g., /v1/pcs/player)", http.StatusBadRequest)
		return
	}

	pc, ok := h.roster.Get(id)
	if !ok {
		http.Error(w, "PC not found", http.StatusNotFound)
		return
	}

	// Marshal the PC (uses custom MarshalJSON that reads from Actor)
	data, err := json.Marshal(pc)
	if err != nil {
		h.log.Error("Failed to marshal PC", "error", err, "id", id)
		http.Error(w, "Failed to process PC", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Error("Failed to write response", "error", err, "id", id)
	}
}
