package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/situation-engine/internal/services/events"
)

const (
	keepaliveInterval = 30 * time.Second
	writeWait         = 10 * time.Second
)

// EventsHandler streams a slot's events to websocket clients
type EventsHandler struct {
	redisClient *redis.Client
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(redisClient *redis.Client, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		redisClient: redisClient,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades to a websocket and forwards slot events
// GET /v1/events/slots/{slotID}
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.logger.Warn("Method not allowed for events endpoint",
			"method", r.Method,
			"path", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		if err := json.NewEncoder(w).Encode(ErrorResponse{
			Error: "Method not allowed. Only GET is supported.",
		}); err != nil {
			h.logger.Error("Failed to encode error response", "error", err)
		}
		return
	}

	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) != 4 || pathParts[0] != "v1" || pathParts[1] != "events" || pathParts[2] != "slots" {
		h.badRequest(w, "Invalid path. Expected /v1/events/slots/{slotID}")
		return
	}
	slotID, err := uuid.Parse(pathParts[3])
	if err != nil {
		h.badRequest(w, "Invalid slot ID format.")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client
		h.logger.Warn("Websocket upgrade failed", "error", err, "slot_id", slotID.String())
		return
	}
	defer conn.Close()

	h.logger.Info("Websocket connection established",
		"slot_id", slotID.String(),
		"remote_addr", r.RemoteAddr)

	ctx := r.Context()
	pubsub := h.redisClient.Subscribe(ctx, events.Channel(slotID))
	defer func() {
		if err := pubsub.Close(); err != nil {
			h.logger.Error("Failed to close pubsub", "error", err)
		}
	}()
	if _, err := pubsub.Receive(ctx); err != nil {
		h.logger.Error("Failed to subscribe", "error", err, "slot_id", slotID.String())
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(writeWait))
		return
	}

	// The reader only watches for the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.send(conn, events.Event{
		Type:   "connected",
		SlotID: slotID.String(),
		Data:   map[string]any{"message": "Connected to event stream"},
	}); err != nil {
		return
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	msgChan := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			h.logger.Info("Websocket client disconnected", "slot_id", slotID.String())
			return
		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			var event events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logger.Error("Failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			if err := h.send(conn, event); err != nil {
				return
			}
		case <-keepalive.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.logger.Debug("Keepalive failed", "error", err)
				return
			}
		}
	}
}

func (h *EventsHandler) send(conn *websocket.Conn, event events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(event); err != nil {
		h.logger.Debug("Failed to write event", "error", err, "event_type", event.Type)
		return err
	}
	return nil
}

func (h *EventsHandler) badRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: msg}); err != nil {
		h.logger.Error("Failed to encode error response", "error", err)
	}
}
