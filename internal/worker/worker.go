package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/situation-engine/internal/services/events"
	"github.com/jwebster45206/situation-engine/internal/services/queue"
	"github.com/jwebster45206/situation-engine/pkg/situation"
	queuePkg "github.com/jwebster45206/situation-engine/pkg/queue"
)

const (
	workerTimeout = 5 * time.Second
	lockTTL       = 30 * time.Second
)

// Only delete if we own the lock
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Worker processes commands from the queue, one slot at a time
type Worker struct {
	id          string
	queue       *queue.CommandQueue
	processor   *SlotProcessor
	broadcaster *events.Broadcaster
	redisClient *redis.Client
	log         *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

// New creates a new worker instance
func New(commands *queue.CommandQueue, processor *SlotProcessor, redisClient *redis.Client, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		id:          workerID,
		queue:       commands,
		processor:   processor,
		broadcaster: events.NewBroadcaster(redisClient, log),
		redisClient: redisClient,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ID returns the worker's lock owner id
func (w *Worker) ID() string {
	return w.id
}

// Start begins processing commands from the queue
func (w *Worker) Start() error {
	w.log.Info("Worker starting", "worker_id", w.id)

	for {
		select {
		case <-w.ctx.Done():
			w.log.Info("Worker shutting down", "worker_id", w.id)
			return nil
		default:
			if _, err := w.processNext(); err != nil {
				w.log.Error("Error processing command", "error", err, "worker_id", w.id)
				// Continue processing even on error
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested", "worker_id", w.id)
	w.cancel()
}

// processNext pulls the next command from the queue and processes it.
// It reports whether a command was taken off the queue.
func (w *Worker) processNext() (bool, error) {
	ctx, cancel := context.WithTimeout(w.ctx, workerTimeout+time.Second)
	defer cancel()

	cmd, err := w.queue.BlockingDequeue(ctx, workerTimeout)
	if err != nil {
		if w.ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to dequeue command: %w", err)
	}
	if cmd == nil {
		// Timed out with nothing queued
		return false, nil
	}

	w.log.Info("Received command from queue",
		"worker_id", w.id,
		"request_id", cmd.RequestID,
		"type", cmd.Type,
		"slot_id", cmd.SlotID.String(),
	)

	locked, err := w.acquireSlotLock(cmd.SlotID)
	if err != nil {
		return true, fmt.Errorf("failed to acquire slot lock: %w", err)
	}
	if !locked {
		// Another worker holds this slot; go to the back of the line
		w.log.Info("Slot already locked, re-queueing command",
			"worker_id", w.id,
			"request_id", cmd.RequestID,
			"slot_id", cmd.SlotID.String(),
		)
		if err := w.queue.Requeue(w.ctx, cmd); err != nil {
			return true, fmt.Errorf("failed to re-queue command: %w", err)
		}
		return true, nil
	}

	defer w.releaseSlotLock(cmd.SlotID)
	return true, w.processCommand(cmd)
}

func slotLockKey(slotID uuid.UUID) string {
	return fmt.Sprintf("slot-lock:%s", slotID.String())
}

// acquireSlotLock returns true if the lock was acquired, false if already locked
func (w *Worker) acquireSlotLock(slotID uuid.UUID) (bool, error) {
	return w.redisClient.SetNX(w.ctx, slotLockKey(slotID), w.id, lockTTL).Result()
}

func (w *Worker) releaseSlotLock(slotID uuid.UUID) {
	if err := releaseScript.Run(w.ctx, w.redisClient, []string{slotLockKey(slotID)}, w.id).Err(); err != nil {
		w.log.Error("Failed to release slot lock", "error", err, "slot_id", slotID.String())
	}
}

// processCommand runs one command and publishes its lifecycle events.
// Event publishing failures are logged and never fail the command.
func (w *Worker) processCommand(cmd *queuePkg.Command) error {
	start := time.Now()

	if err := w.broadcaster.PublishCommandProcessing(w.ctx, cmd.SlotID, cmd.RequestID, string(cmd.Type)); err != nil {
		w.log.Error("Failed to publish processing event", "error", err)
	}

	outcome, err := w.processor.Process(w.ctx, cmd)
	if err != nil {
		w.log.Error("Failed to process command",
			"error", err,
			"request_id", cmd.RequestID,
			"slot_id", cmd.SlotID.String(),
		)
		if pubErr := w.broadcaster.PublishCommandFailed(w.ctx, cmd.SlotID, cmd.RequestID, "", err.Error()); pubErr != nil {
			w.log.Error("Failed to publish failure event", "error", pubErr)
		}
		return fmt.Errorf("failed to process command: %w", err)
	}

	if err := w.broadcaster.PublishJournal(w.ctx, cmd.SlotID, cmd.RequestID, outcome.Journal); err != nil {
		w.log.Error("Failed to publish journal", "error", err)
	}

	if outcome.Err != nil {
		// The engine refused; that is an answer, not a worker error
		w.log.Info("Command refused",
			"worker_id", w.id,
			"request_id", cmd.RequestID,
			"code", situation.CodeOf(outcome.Err),
			"reason", situation.ReasonOf(outcome.Err),
		)
		if err := w.broadcaster.PublishCommandFailed(w.ctx, cmd.SlotID, cmd.RequestID,
			string(situation.CodeOf(outcome.Err)), situation.ReasonOf(outcome.Err)); err != nil {
			w.log.Error("Failed to publish failure event", "error", err)
		}
		return nil
	}

	outcome.Result["duration_ms"] = time.Since(start).Milliseconds()
	if err := w.broadcaster.PublishCommandCompleted(w.ctx, cmd.SlotID, cmd.RequestID, outcome.Result); err != nil {
		w.log.Error("Failed to publish completion event", "error", err)
	}

	w.log.Info("Command processed successfully",
		"worker_id", w.id,
		"request_id", cmd.RequestID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
