package transport

import (
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// StreamManager provisions the JetStream streams this substrate
// relies on for durable, replayable delivery of messages, approval
// decisions, and events when running in multi-process mode.
type StreamManager struct {
	js nats.JetStreamContext
}

// NewStreamManager builds a StreamManager from an established connection.
func NewStreamManager(conn *nats.Conn) (*StreamManager, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, err
	}
	return &StreamManager{js: js}, nil
}

// SetupStreams creates or updates the MESSAGES, APPROVALS, and EVENTS
// streams (spec.md §4.4's at-most-once-within-a-process guarantee
// becomes at-least-once across processes once durability is backed by
// these streams).
func (sm *StreamManager) SetupStreams() error {
	streams := []nats.StreamConfig{
		{
			Name:        "MESSAGES",
			Description: "Direct, team, and broadcast messages between agents",
			Subjects:    []string{"message.>"},
			Storage:     nats.FileStorage,
			MaxAge:      7 * 24 * time.Hour,
			Retention:   nats.LimitsPolicy,
		},
		{
			Name:        "APPROVALS",
			Description: "Approval requests and decisions routed through the authority chain",
			Subjects:    []string{"approval.>"},
			Storage:     nats.FileStorage,
			MaxAge:      30 * 24 * time.Hour,
			Retention:   nats.LimitsPolicy,
		},
		{
			Name:        "EVENTS",
			Description: "Event Log mirror for multi-process subscribers",
			Subjects:    []string{"event.>"},
			Storage:     nats.FileStorage,
			MaxAge:      30 * 24 * time.Hour,
			Retention:   nats.LimitsPolicy,
		},
	}

	for _, cfg := range streams {
		if err := sm.createOrUpdateStream(cfg); err != nil {
			return err
		}
	}
	return nil
}

func (sm *StreamManager) createOrUpdateStream(cfg nats.StreamConfig) error {
	_, err := sm.js.StreamInfo(cfg.Name)
	if err != nil {
		if err == nats.ErrStreamNotFound {
			log.Printf("[transport] creating stream %s (subjects %v)", cfg.Name, cfg.Subjects)
			_, err := sm.js.AddStream(&cfg)
			return err
		}
		return err
	}

	_, err = sm.js.UpdateStream(&cfg)
	return err
}

// DeleteStream removes a stream by name.
func (sm *StreamManager) DeleteStream(name string) error {
	return sm.js.DeleteStream(name)
}

// StreamInfo returns metadata about a named stream.
func (sm *StreamManager) StreamInfo(name string) (*nats.StreamInfo, error) {
	return sm.js.StreamInfo(name)
}
