package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/agentforge/coordinator/internal/scheduler"
	"github.com/agentforge/coordinator/internal/transport"
)

// agentHeartbeat is the payload published to SubjectAgentHeartbeat,
// letting a monitoring adapter on another process track agent
// liveness without going through the in-process Scheduler directly.
type agentHeartbeat struct {
	AgentID   string          `json:"agent_id"`
	State     scheduler.State `json:"state"`
	CurrentOp string          `json:"current_op,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func main() {
	natsURL := flag.String("url", "nats://127.0.0.1:4222", "NATS server URL")
	agentID := flag.String("agent", "", "Agent id")
	state := flag.String("state", string(scheduler.StateAvailable), "Agent state (available, exclusive_computation, awaiting_dependency, context_switching)")
	currentOp := flag.String("op", "", "Current operation description")
	flag.Parse()

	if *agentID == "" {
		log.Fatal("agent id is required (-agent)")
	}

	client, err := transport.NewClient(*natsURL)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer client.Close()

	msg := agentHeartbeat{
		AgentID:   *agentID,
		State:     scheduler.State(*state),
		CurrentOp: *currentOp,
		Timestamp: time.Now(),
	}

	subject := fmt.Sprintf(transport.SubjectAgentHeartbeat, *agentID)
	if err := client.PublishJSON(subject, msg); err != nil {
		log.Fatalf("Failed to publish heartbeat: %v", err)
	}
	if err := client.Flush(); err != nil {
		log.Fatalf("Failed to flush: %v", err)
	}

	fmt.Printf("Heartbeat published for %s: %s\n", *agentID, *state)
}
