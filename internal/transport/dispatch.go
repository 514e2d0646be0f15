package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/api"
	"github.com/agentforge/coordinator/internal/apierr"
	"github.com/agentforge/coordinator/internal/approval"
	"github.com/agentforge/coordinator/internal/assignment"
	ctxassembler "github.com/agentforge/coordinator/internal/context"
	"github.com/agentforge/coordinator/internal/locks"
	"github.com/agentforge/coordinator/internal/messaging"
	"github.com/agentforge/coordinator/internal/tasks"

	nc "github.com/nats-io/nats.go"
)

// SubjectFacadeCommand is the single request/reply subject every
// mutating operations-surface call goes through; Command.Op selects
// the operation, matching the teacher's internal/nats.Handler
// dispatching many logical operations over a handful of subjects
// rather than minting one subject per RPC.
const SubjectFacadeCommand = "facade.command"

// facadeQueueGroup load-balances commands across every Dispatcher
// instance subscribed to SubjectFacadeCommand, the same
// queue-subscribe pattern internal/nats.Handler used for tool calls.
const facadeQueueGroup = "facade-workers"

// Command is the envelope carried on SubjectFacadeCommand.
type Command struct {
	Op      string          `json:"op"`
	Project string          `json:"project"`
	Payload json.RawMessage `json:"payload"`
}

// Response is the envelope returned on the NATS reply subject.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload translates an apierr.Error to the wire, letting a
// remote caller do the NATS-side equivalent of checking an HTTP status.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Dispatcher adapts internal/api.Facade's mutating operations to NATS
// request/reply, the realization SPEC_FULL.md §6 calls for alongside
// internal/monitor's read-only HTTP adapter.
type Dispatcher struct {
	client *Client
	facade *api.Facade

	mu  sync.Mutex
	sub *nc.Subscription
}

// NewDispatcher builds a Dispatcher over an already-connected client
// and a facade resolving project ids to live projects.
func NewDispatcher(client *Client, facade *api.Facade) *Dispatcher {
	return &Dispatcher{client: client, facade: facade}
}

// Start subscribes SubjectFacadeCommand as a queue group so multiple
// Dispatcher processes share load without double-handling a command.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sub != nil {
		return fmt.Errorf("dispatcher already started")
	}

	sub, err := d.client.conn.QueueSubscribe(SubjectFacadeCommand, facadeQueueGroup, func(msg *nc.Msg) {
		d.handle(msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", SubjectFacadeCommand, err)
	}
	d.sub = sub
	return nil
}

// Stop unsubscribes the Dispatcher.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sub != nil {
		d.sub.Unsubscribe()
		d.sub = nil
	}
}

func (d *Dispatcher) handle(msg *nc.Msg) {
	if msg.Reply == "" {
		return
	}

	var cmd Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		d.reply(msg.Reply, nil, apierr.New(apierr.InvalidArgument, "dispatch", "malformed command envelope"))
		return
	}

	result, err := d.dispatch(cmd)
	d.reply(msg.Reply, result, err)
}

func (d *Dispatcher) reply(subject string, result interface{}, err error) {
	resp := Response{}
	if err != nil {
		resp.Error = &ErrorPayload{Kind: string(apierr.Of(err)), Message: err.Error()}
	} else if result != nil {
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			resp.Error = &ErrorPayload{Kind: string(apierr.Internal), Message: marshalErr.Error()}
		} else {
			resp.Result = data
		}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = d.client.conn.Publish(subject, data)
}

func (d *Dispatcher) dispatch(cmd Command) (interface{}, error) {
	switch cmd.Op {
	case "create_task":
		var task tasks.Task
		if err := json.Unmarshal(cmd.Payload, &task); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed task payload")
		}
		if err := d.facade.CreateTask(cmd.Project, &task); err != nil {
			return nil, err
		}
		return &task, nil

	case "get_task":
		var req struct{ TaskID string `json:"task_id"` }
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		return d.facade.GetTask(cmd.Project, req.TaskID)

	case "get_hierarchy":
		var req struct{ TaskID string `json:"task_id"` }
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		return d.facade.GetHierarchy(cmd.Project, req.TaskID)

	case "assign_task":
		var req struct {
			TaskID     string `json:"task_id"`
			AgentID    string `json:"agent_id"`
			AssignedBy string `json:"assigned_by"`
			Reason     string `json:"reason"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		if err := d.facade.AssignTask(cmd.Project, req.TaskID, req.AgentID, req.AssignedBy, req.Reason); err != nil {
			return nil, err
		}
		return nil, nil

	case "auto_assign":
		var req struct {
			Task       tasks.Task          `json:"task"`
			Algorithm  assignment.Algorithm `json:"algorithm"`
			AssignedBy string              `json:"assigned_by"`
			Reason     string              `json:"reason"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		agentID, err := d.facade.AutoAssign(cmd.Project, &req.Task, req.Algorithm, req.AssignedBy, req.Reason)
		if err != nil {
			return nil, err
		}
		return map[string]string{"agent_id": agentID}, nil

	case "acquire_lock":
		var req struct {
			AgentID string     `json:"agent_id"`
			Path    string     `json:"path"`
			Kind    locks.Kind `json:"kind"`
			Timeout string     `json:"timeout"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		timeout, err := time.ParseDuration(req.Timeout)
		if err != nil {
			return nil, apierr.Wrap(apierr.InvalidArgument, cmd.Op, "invalid timeout", err)
		}
		return d.facade.AcquireLock(cmd.Project, req.AgentID, req.Path, req.Kind, timeout)

	case "release_lock":
		var req struct {
			LockID  string `json:"lock_id"`
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		ok, err := d.facade.ReleaseLock(cmd.Project, req.LockID, req.AgentID)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"released": ok}, nil

	case "check_access":
		var req struct {
			AgentID string     `json:"agent_id"`
			Path    string     `json:"path"`
			Kind    locks.Kind `json:"kind"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		return d.facade.CheckAccess(cmd.Project, req.AgentID, req.Path, req.Kind)

	case "send_message":
		var req struct {
			From     string            `json:"from"`
			To       string            `json:"to"`
			Subject  string            `json:"subject"`
			Body     string            `json:"body"`
			Priority string            `json:"priority"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		msgID, err := d.facade.SendMessage(cmd.Project, req.From, req.To, req.Subject, req.Body, req.Priority, req.Metadata)
		if err != nil {
			return nil, err
		}
		return map[string]string{"message_id": msgID}, nil

	case "broadcast":
		var req struct {
			From        string            `json:"from"`
			Subject     string            `json:"subject"`
			Body        string            `json:"body"`
			TargetRoles []agent.Role      `json:"target_roles"`
			Metadata    map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		msgID, err := d.facade.Broadcast(cmd.Project, req.From, req.Subject, req.Body, req.TargetRoles, req.Metadata)
		if err != nil {
			return nil, err
		}
		return map[string]string{"message_id": msgID}, nil

	case "request_approval":
		var req struct {
			Requester     string                 `json:"requester"`
			DecisionType  approval.DecisionType  `json:"decision_type"`
			Title         string                 `json:"title"`
			Description   string                 `json:"description"`
			Justification string                 `json:"justification"`
			Amount        *float64               `json:"amount"`
			Priority      string                 `json:"priority"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		reqID, err := d.facade.RequestApproval(cmd.Project, req.Requester, req.DecisionType, req.Title, req.Description, req.Justification, req.Amount, req.Priority)
		if err != nil {
			return nil, err
		}
		return map[string]string{"request_id": reqID}, nil

	case "decide_approval":
		var req struct {
			Approve   bool   `json:"approve"`
			Approver  string `json:"approver"`
			RequestID string `json:"request_id"`
			Reasoning string `json:"reasoning"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		if err := d.facade.DecideApproval(cmd.Project, req.Approve, req.Approver, req.RequestID, req.Reasoning); err != nil {
			return nil, err
		}
		return nil, nil

	case "estimate_response":
		var req struct {
			AgentID               string  `json:"agent_id"`
			TaskType              string  `json:"task_type"`
			Complexity            float64 `json:"complexity"`
			Priority              string  `json:"priority"`
			RequiresCollaboration bool    `json:"requires_collaboration"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		seconds, explanation, err := d.facade.EstimateResponse(cmd.Project, req.AgentID, req.TaskType, req.Complexity, req.Priority, req.RequiresCollaboration)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"seconds": seconds, "explanation": explanation}, nil

	case "agent_state":
		var req struct{ AgentID string `json:"agent_id"` }
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		state, err := d.facade.AgentState(cmd.Project, req.AgentID)
		if err != nil {
			return nil, err
		}
		return map[string]string{"state": string(state)}, nil

	case "create_project":
		p, err := d.facade.CreateProject(cmd.Project)
		if err != nil {
			return nil, err
		}
		return map[string]string{"project_id": p.ID}, nil

	case "list_projects":
		return d.facade.ListProjects()

	case "get_project_status":
		return d.facade.GetProjectStatus(cmd.Project)

	case "list_tasks":
		var opts tasks.ListOptions
		if err := json.Unmarshal(cmd.Payload, &opts); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		return d.facade.ListTasks(cmd.Project, opts)

	case "list_locks_by_path":
		var req struct{ Path string `json:"path"` }
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		active, pending, err := d.facade.ListLocksByPath(cmd.Project, req.Path)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"active": active, "pending": pending}, nil

	case "list_locks_by_agent":
		var req struct{ AgentID string `json:"agent_id"` }
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		return d.facade.ListLocksByAgent(cmd.Project, req.AgentID)

	case "detect_conflicts":
		var req struct {
			Path        string    `json:"path"`
			FileModTime time.Time `json:"file_mod_time"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		return d.facade.DetectConflicts(cmd.Project, req.Path, req.FileModTime)

	case "send_team":
		var req struct {
			From     string            `json:"from"`
			TeamID   string            `json:"team_id"`
			Subject  string            `json:"subject"`
			Body     string            `json:"body"`
			Priority string            `json:"priority"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		msgID, err := d.facade.SendTeam(cmd.Project, req.From, req.TeamID, req.Subject, req.Body, req.Priority, req.Metadata)
		if err != nil {
			return nil, err
		}
		return map[string]string{"message_id": msgID}, nil

	case "list_messages":
		var req struct {
			AgentID    string `json:"agent_id"`
			UnreadOnly bool   `json:"unread_only"`
			Limit      int    `json:"limit"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		return d.facade.ListMessages(cmd.Project, req.AgentID, req.UnreadOnly, req.Limit)

	case "mark_read":
		var req struct {
			AgentID   string `json:"agent_id"`
			MessageID string `json:"message_id"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		ok, err := d.facade.MarkRead(cmd.Project, req.AgentID, req.MessageID)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"marked": ok}, nil

	case "respond_to_collaboration":
		var req struct {
			AgentID   string                         `json:"agent_id"`
			RequestID string                         `json:"request_id"`
			Response  messaging.CollaborationResponse `json:"response"`
			Note      string                         `json:"note"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		if err := d.facade.RespondToCollaboration(cmd.Project, req.AgentID, req.RequestID, req.Response, req.Note); err != nil {
			return nil, err
		}
		return nil, nil

	case "add_content":
		var chunk ctxassembler.Chunk
		if err := json.Unmarshal(cmd.Payload, &chunk); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed chunk payload")
		}
		if err := d.facade.AddContent(cmd.Project, &chunk); err != nil {
			return nil, err
		}
		return &chunk, nil

	case "get_context":
		var req struct {
			AgentID        string                `json:"agent_id"`
			Query          string                `json:"query"`
			QueryEmbedding []float64             `json:"query_embedding"`
			Strategy       ctxassembler.Strategy `json:"strategy"`
			Budget         int                   `json:"budget"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		return d.facade.GetContext(cmd.Project, req.AgentID, req.Query, req.QueryEmbedding, req.Strategy, req.Budget)

	case "context_summary":
		var req struct {
			AgentID        string                `json:"agent_id"`
			Query          string                `json:"query"`
			QueryEmbedding []float64             `json:"query_embedding"`
			Strategy       ctxassembler.Strategy `json:"strategy"`
			Budget         int                   `json:"budget"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, apierr.New(apierr.InvalidArgument, cmd.Op, "malformed request")
		}
		return d.facade.ContextSummary(cmd.Project, req.AgentID, req.Query, req.QueryEmbedding, req.Strategy, req.Budget)

	default:
		return nil, apierr.New(apierr.InvalidArgument, "dispatch", "unknown operation: "+cmd.Op)
	}
}
