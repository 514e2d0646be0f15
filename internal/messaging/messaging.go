// Package messaging implements the Message Bus (spec.md §4.4):
// addressable delivery of typed messages to agents, teams (with
// auto-join), and role-filtered broadcasts, plus per-recipient
// mailboxes and collaboration-request responses. Grounded in the
// teacher's internal/notifications.Router (fan-out-to-channels
// pattern, generalized here to fan-out-to-recipient-mailboxes) and
// internal/nats/messages.go's typed-message/subject convention
// (kept as the wire shape for the optional NATS transport in
// internal/transport).
package messaging

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/apierr"
	"github.com/agentforge/coordinator/internal/eventlog"
)

// Kind is the message's category (spec.md §3).
type Kind string

const (
	KindDirect               Kind = "direct"
	KindTeam                 Kind = "team"
	KindBroadcast            Kind = "broadcast"
	KindTaskUpdate           Kind = "task_update"
	KindMeetingInvite        Kind = "meeting_invite"
	KindCollaborationRequest Kind = "collaboration_request"
	KindStatusUpdate         Kind = "status_update"
)

// CollaborationResponse is the verdict on a collaboration request.
type CollaborationResponse string

const (
	ResponseAccept  CollaborationResponse = "accept"
	ResponseDecline CollaborationResponse = "decline"
	ResponseCounter CollaborationResponse = "counter"
)

// Message is a single addressed message (spec.md §3). Exactly one of
// ToAgent, TeamID, or Broadcast is set.
type Message struct {
	ID        string
	FromAgent string
	ToAgent   string
	TeamID    string
	Broadcast bool
	Kind      Kind
	Priority  string
	Subject   string
	Body      string
	Metadata  map[string]string
	Timestamp time.Time
	Read      bool
	Replied   bool
}

// Team is a named set of agents (spec.md §3).
type Team struct {
	ID      string
	Name    string
	Members map[string]bool
}

// Sender is the capability every transport (in-process bus, NATS
// bridge) must implement so the Bus's delivery logic stays transport-agnostic.
type Sender interface {
	Deliver(recipient string, m *Message) error
}

// Bus is the in-process Message Bus: per-recipient mailboxes, team
// membership with auto-join, and role-filtered broadcast.
type Bus struct {
	mu        sync.Mutex
	mailboxes map[string][]*Message // agent id -> messages, newest appended last
	teams     map[string]*Team
	agents    *agent.Registry
	log       *eventlog.Log
	project   string
}

// NewBus builds a Message Bus over the shared agent registry. log may
// be nil, in which case deliveries are not audited.
func NewBus(project string, agents *agent.Registry, log *eventlog.Log) *Bus {
	return &Bus{
		mailboxes: make(map[string][]*Message),
		teams:     make(map[string]*Team),
		agents:    agents,
		log:       log,
		project:   project,
	}
}

// CreateTeam registers a team. Existing teams with the same id are replaced.
func (b *Bus) CreateTeam(id, name string, members []string) *Team {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := &Team{ID: id, Name: name, Members: make(map[string]bool, len(members))}
	for _, m := range members {
		t.Members[m] = true
	}
	b.teams[id] = t
	return t
}

func (b *Bus) deliverLocked(recipient string, m *Message) {
	b.mailboxes[recipient] = append(b.mailboxes[recipient], m)
}

// SendDirect delivers a message to exactly one recipient.
func (b *Bus) SendDirect(from, to, subject, body, priority string, metadata map[string]string) (string, error) {
	m := newMessage(from, subject, body, priority, metadata)
	m.ToAgent = to
	m.Kind = KindDirect

	b.mu.Lock()
	b.deliverLocked(to, m)
	b.mu.Unlock()

	b.audit(m, "send_direct")
	return m.ID, nil
}

// SendTeam delivers a message to every member of a team, except the
// sender. If the sender is not yet a member, they are added first
// (auto-join) before fan-out.
func (b *Bus) SendTeam(from, teamID, subject, body, priority string, metadata map[string]string) (string, error) {
	b.mu.Lock()
	team, ok := b.teams[teamID]
	if !ok {
		b.mu.Unlock()
		return "", apierr.New(apierr.NotFound, "messaging.SendTeam", "team not found: "+teamID)
	}
	if !team.Members[from] {
		team.Members[from] = true
	}

	m := newMessage(from, subject, body, priority, metadata)
	m.TeamID = teamID
	m.Kind = KindTeam

	for member := range team.Members {
		if member == from {
			continue
		}
		b.deliverLocked(member, m)
	}
	b.mu.Unlock()

	b.audit(m, "send_team")
	return m.ID, nil
}

// Broadcast delivers a message to every agent whose role is in
// targetRoles, or to every agent if targetRoles is empty.
func (b *Bus) Broadcast(from, subject, body string, targetRoles []agent.Role, metadata map[string]string) (string, error) {
	roleSet := make(map[agent.Role]bool, len(targetRoles))
	for _, r := range targetRoles {
		roleSet[r] = true
	}

	m := newMessage(from, subject, body, "", metadata)
	m.Broadcast = true
	m.Kind = KindBroadcast

	b.mu.Lock()
	for _, a := range b.agents.All() {
		if a.ID == from {
			continue
		}
		if len(roleSet) > 0 && !roleSet[a.Role] {
			continue
		}
		b.deliverLocked(a.ID, m)
	}
	b.mu.Unlock()

	b.audit(m, "broadcast")
	return m.ID, nil
}

// RespondToCollaboration records an agent's response to a pending
// collaboration request and notifies the original requester.
func (b *Bus) RespondToCollaboration(agentID, requestID string, response CollaborationResponse, note string) error {
	b.mu.Lock()
	var original *Message
	for _, inbox := range b.mailboxes {
		for _, m := range inbox {
			if m.ID == requestID && m.Kind == KindCollaborationRequest {
				original = m
				break
			}
		}
		if original != nil {
			break
		}
	}
	if original == nil {
		b.mu.Unlock()
		return apierr.New(apierr.NotFound, "messaging.RespondToCollaboration", "collaboration request not found: "+requestID)
	}
	original.Replied = true

	reply := newMessage(agentID, "Re: "+original.Subject, string(response)+": "+note, original.Priority, nil)
	reply.ToAgent = original.FromAgent
	reply.Kind = KindDirect
	b.deliverLocked(original.FromAgent, reply)
	b.mu.Unlock()

	b.audit(reply, "respond_to_collaboration")
	return nil
}

// ListMessages returns an agent's mailbox, newest-first, optionally
// filtered to unread only and capped at limit.
func (b *Bus) ListMessages(agentID string, unreadOnly bool, limit int) []*Message {
	b.mu.Lock()
	inbox := append([]*Message(nil), b.mailboxes[agentID]...)
	b.mu.Unlock()

	sort.SliceStable(inbox, func(i, j int) bool { return inbox[i].Timestamp.After(inbox[j].Timestamp) })

	var out []*Message
	for _, m := range inbox {
		if unreadOnly && m.Read {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// MarkRead marks a message read, succeeding only if agentID is a
// legitimate recipient of it.
func (b *Bus) MarkRead(agentID, messageID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, m := range b.mailboxes[agentID] {
		if m.ID == messageID {
			m.Read = true
			return true
		}
	}
	return false
}

func newMessage(from, subject, body, priority string, metadata map[string]string) *Message {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &Message{
		ID:        uuid.New().String(),
		FromAgent: from,
		Subject:   subject,
		Body:      body,
		Priority:  priority,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}
}

func (b *Bus) audit(m *Message, action string) {
	if b.log == nil {
		return
	}
	r := eventlog.New(b.project, m.FromAgent, "message", action, m.Subject)
	b.log.Append(r)
}
