package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/situation-engine/pkg/engine"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeCommandQueued     EventType = "command.queued"
	EventTypeCommandProcessing EventType = "command.processing"
	EventTypeCommandCompleted  EventType = "command.completed"
	EventTypeCommandFailed     EventType = "command.failed"
	EventTypeJournalEntry      EventType = "journal.entry"
)

// Event represents a generic event structure
type Event struct {
	Type      EventType      `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	SlotID    string         `json:"slot_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Channel is the pub/sub channel carrying one slot's events
func Channel(slotID uuid.UUID) string {
	return fmt.Sprintf("situation-events:%s", slotID.String())
}

// Broadcaster publishes events to Redis Pub/Sub for websocket distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishCommandQueued publishes a command.queued event
func (b *Broadcaster) PublishCommandQueued(ctx context.Context, slotID uuid.UUID, requestID string, commandType string) error {
	return b.publishToSlot(ctx, slotID, Event{
		Type:      EventTypeCommandQueued,
		RequestID: requestID,
		SlotID:    slotID.String(),
		Data: map[string]any{
			"status": "queued",
			"type":   commandType,
		},
	})
}

// PublishCommandProcessing publishes a command.processing event
func (b *Broadcaster) PublishCommandProcessing(ctx context.Context, slotID uuid.UUID, requestID string, commandType string) error {
	return b.publishToSlot(ctx, slotID, Event{
		Type:      EventTypeCommandProcessing,
		RequestID: requestID,
		SlotID:    slotID.String(),
		Data: map[string]any{
			"status": "processing",
			"type":   commandType,
		},
	})
}

// PublishCommandCompleted publishes a command.completed event
func (b *Broadcaster) PublishCommandCompleted(ctx context.Context, slotID uuid.UUID, requestID string, result map[string]any) error {
	return b.publishToSlot(ctx, slotID, Event{
		Type:      EventTypeCommandCompleted,
		RequestID: requestID,
		SlotID:    slotID.String(),
		Data: map[string]any{
			"status": "completed",
			"result": result,
		},
	})
}

// PublishCommandFailed publishes a command.failed event. code is the engine
// error code when the engine refused the command, empty otherwise.
func (b *Broadcaster) PublishCommandFailed(ctx context.Context, slotID uuid.UUID, requestID string, code string, errorMsg string) error {
	data := map[string]any{
		"status": "failed",
		"error":  errorMsg,
	}
	if code != "" {
		data["code"] = code
	}
	return b.publishToSlot(ctx, slotID, Event{
		Type:      EventTypeCommandFailed,
		RequestID: requestID,
		SlotID:    slotID.String(),
		Data:      data,
	})
}

// PublishJournal publishes one journal.entry event per entry, in order
func (b *Broadcaster) PublishJournal(ctx context.Context, slotID uuid.UUID, requestID string, entries []engine.JournalEntry) error {
	for _, entry := range entries {
		err := b.publishToSlot(ctx, slotID, Event{
			Type:      EventTypeJournalEntry,
			RequestID: requestID,
			SlotID:    slotID.String(),
			Data: map[string]any{
				"seq":          entry.Seq,
				"time":         entry.Time.String(),
				"kind":         string(entry.Kind),
				"situation_id": entry.SituationID,
				"seed_id":      entry.SeedID,
				"text":         entry.Text,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Subscribe opens a pub/sub subscription to one slot's events. The caller
// closes it.
func (b *Broadcaster) Subscribe(ctx context.Context, slotID uuid.UUID) *redis.PubSub {
	return b.redisClient.Subscribe(ctx, Channel(slotID))
}

// publishToSlot publishes an event to the slot-specific channel
func (b *Broadcaster) publishToSlot(ctx context.Context, slotID uuid.UUID, event Event) error {
	channel := Channel(slotID)

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", event.Type,
		"request_id", event.RequestID,
	)

	return nil
}
