package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/situation-engine/pkg/queue"
)

// CommandsKey is the global list every worker pops from
const CommandsKey = "situation-commands"

// CommandQueue is a FIFO of engine commands shared by all slots. Ordering
// within a slot is kept by the worker's slot lock, not by the list.
type CommandQueue struct {
	client *Client
}

func NewCommandQueue(client *Client) *CommandQueue {
	return &CommandQueue{client: client}
}

// Enqueue validates a command and appends it to the queue
func (q *CommandQueue) Enqueue(ctx context.Context, cmd *queue.Command) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	data, err := cmd.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize command: %w", err)
	}
	if err := q.client.rdb.RPush(ctx, CommandsKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue command: %w", err)
	}
	q.client.logger.Debug("Command enqueued",
		"request_id", cmd.RequestID,
		"slot_id", cmd.SlotID,
		"type", cmd.Type,
	)
	return nil
}

// Requeue puts a command back at the tail without re-validating it
func (q *CommandQueue) Requeue(ctx context.Context, cmd *queue.Command) error {
	data, err := cmd.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize command: %w", err)
	}
	if err := q.client.rdb.RPush(ctx, CommandsKey, data).Err(); err != nil {
		return fmt.Errorf("failed to requeue command: %w", err)
	}
	return nil
}

// Dequeue removes and returns the next command.
// Returns nil if the queue is empty.
func (q *CommandQueue) Dequeue(ctx context.Context) (*queue.Command, error) {
	result, err := q.client.rdb.LPop(ctx, CommandsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue command: %w", err)
	}
	return parseCommand(result)
}

// BlockingDequeue waits up to timeout for a command. A zero timeout waits
// forever. Returns nil, nil when the timeout passes with nothing queued.
func (q *CommandQueue) BlockingDequeue(ctx context.Context, timeout time.Duration) (*queue.Command, error) {
	result, err := q.client.rdb.BLPop(ctx, timeout, CommandsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue command: %w", err)
	}

	// BLPop returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BLPop result: %v", result)
	}
	return parseCommand(result[1])
}

func parseCommand(raw string) (*queue.Command, error) {
	cmd, err := queue.FromJSON([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}
	return cmd, nil
}

// Depth returns the number of commands waiting
func (q *CommandQueue) Depth(ctx context.Context) (int, error) {
	count, err := q.client.rdb.LLen(ctx, CommandsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return int(count), nil
}
