package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/jwebster45206/situation-engine/internal/services/queue"
	queuePkg "github.com/jwebster45206/situation-engine/pkg/queue"
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// Enqueues the lost keys walkthrough against an existing slot:
//
//	go run ./cmd/test-enqueue <slot id>
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <slot id>\n", os.Args[0])
		os.Exit(1)
	}
	slotID, err := uuid.Parse(os.Args[1])
	if err != nil {
		log.Fatal("Invalid slot id:", err)
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	client, err := queue.NewClient(redisURL, slog.Default())
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer client.Close()

	ctx := context.Background()
	commands := queue.NewCommandQueue(client)

	fmt.Println("Connected to Redis successfully!")

	discover := queuePkg.NewCommand(slotID, queuePkg.CommandDiscover)
	discover.Method = situation.MethodOverheard
	discover.Source = "corridor"
	discover.Hint = "lost_keys"

	wait := queuePkg.NewCommand(slotID, queuePkg.CommandAdvance)
	wait.By = situation.Hour

	for _, cmd := range []*queuePkg.Command{discover, wait} {
		if err := commands.Enqueue(ctx, cmd); err != nil {
			log.Fatal("Failed to enqueue command:", err)
		}
		fmt.Printf("✅ Enqueued %s command: %s\n", cmd.Type, cmd.RequestID)
	}

	depth, err := commands.Depth(ctx)
	if err != nil {
		log.Fatal("Failed to get queue depth:", err)
	}

	fmt.Printf("\n📊 Queue depth: %d commands\n", depth)
	fmt.Println("\n💡 Now start the worker to see it process these commands!")
	fmt.Println("   Run: go run ./cmd/worker")
	fmt.Println("   Then resolve with a command such as /resolve 1 return_keys in the console.")
}
