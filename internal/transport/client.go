// Package transport is the optional multi-process carrier for the
// Message Bus and Event Log (SPEC_FULL.md §4.13): a NATS client
// wrapper, an embeddable dev server, and a JetStream StreamManager
// for the MESSAGES/APPROVALS/EVENTS streams. In a single-process
// deployment the in-process internal/messaging.Bus and
// internal/eventlog.Log are sufficient and this package is unused;
// transport exists for the case where agents run as separate
// processes and need a wire carrier between them. Grounded in the
// teacher's internal/nats package almost verbatim — the client
// wrapper, embedded server, and JetStream stream manager are the same
// shape, retargeted from the teacher's chat/presence/command subjects
// to this substrate's message/approval/event subjects.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"
)

// Subject patterns for the coordination substrate's own message kinds.
const (
	SubjectMessageDirect    = "message.%s.direct"    // fmt with recipient agent id
	SubjectMessageTeam      = "message.team.%s"       // fmt with team id
	SubjectMessageBroadcast = "message.broadcast"
	SubjectApprovalRequest  = "approval.request.%s"  // fmt with approver agent id
	SubjectApprovalDecision = "approval.decision.%s" // fmt with requester agent id
	SubjectEventAppend      = "event.append"
	SubjectLockPromotion    = "lock.promotion.%s" // fmt with path hash
	SubjectAgentHeartbeat   = "agent.heartbeat.%s" // fmt with agent id
)

// Envelope is the wire message carried over every subject.
type Envelope struct {
	Subject string
	Reply   string
	Data    []byte
}

// Client wraps a NATS connection with convenience methods, matching
// the teacher's internal/nats.Client: reconnect with no retry limit,
// JSON publish/subscribe/request helpers, and queue subscriptions for
// load-balanced consumers.
type Client struct {
	conn *nc.Conn
}

// NewClient connects to a NATS server, reconnecting indefinitely on
// disconnect.
func NewClient(url string) (*Client, error) {
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Publish sends raw bytes to a subject.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it to subject.
func (c *Client) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.Publish(subject, data)
}

// Subscribe creates an asynchronous subscription on subject.
func (c *Client) Subscribe(subject string, handler func(*Envelope)) (*nc.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(&Envelope{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// QueueSubscribe creates a load-balanced queue subscription, so that
// only one of several subscribed processes handles each message.
func (c *Client) QueueSubscribe(subject, queue string, handler func(*Envelope)) (*nc.Subscription, error) {
	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nc.Msg) {
		handler(&Envelope{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// Flush blocks until all buffered publishes reach the server.
func (c *Client) Flush() error {
	if err := c.conn.Flush(); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	return nil
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// RawConn exposes the underlying *nats.Conn for StreamManager setup.
func (c *Client) RawConn() *nc.Conn {
	return c.conn
}
