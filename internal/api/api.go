// Package api is the thin, transport-agnostic operations surface
// named in SPEC_FULL.md §6: plain Go methods over a project's
// component set, with no wire format of its own. internal/monitor
// adapts the read-only operations to HTTP; internal/transport adapts
// the mutating ones to NATS request/reply. Grounded in how the
// teacher's internal/handlers package calls straight into
// internal/captain.Captain and internal/coordinator rather than
// embedding business logic in the HTTP layer — here that same
// separation is pulled one level further out so a second, non-HTTP
// adapter (transport) can reuse it without importing gorilla/mux.
package api

import (
	"time"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/apierr"
	"github.com/agentforge/coordinator/internal/approval"
	"github.com/agentforge/coordinator/internal/assignment"
	ctxassembler "github.com/agentforge/coordinator/internal/context"
	"github.com/agentforge/coordinator/internal/locks"
	"github.com/agentforge/coordinator/internal/messaging"
	"github.com/agentforge/coordinator/internal/monitor"
	"github.com/agentforge/coordinator/internal/orchestrator"
	"github.com/agentforge/coordinator/internal/scheduler"
	"github.com/agentforge/coordinator/internal/tasks"
)

// ProjectLookup resolves a project id to its composition root, the
// same shape monitor.SourceLookup uses so both adapters share one
// registry of live projects.
type ProjectLookup func(projectID string) (*orchestrator.Project, bool)

// Facade is the operations surface. Every call is routed to the named
// project's own components. reg is only required for the Projects
// operations (create/list/get-status); a Facade built with New alone
// can still serve every per-project operation.
type Facade struct {
	lookup ProjectLookup
	reg    *orchestrator.Registry
}

// New builds a Facade over lookup, without Projects-operation support.
func New(lookup ProjectLookup) *Facade {
	return &Facade{lookup: lookup}
}

// NewWithRegistry builds a Facade backed by a live project registry,
// so CreateProject/ListProjects/GetProjectStatus are available
// alongside every per-project operation.
func NewWithRegistry(reg *orchestrator.Registry) *Facade {
	return &Facade{lookup: reg.Get, reg: reg}
}

func (f *Facade) project(projectID string) (*orchestrator.Project, error) {
	p, ok := f.lookup(projectID)
	if !ok {
		return nil, apierr.New(apierr.NotFound, "api.project", "unknown project: "+projectID)
	}
	return p, nil
}

// CreateProject registers a new, empty-roster project (spec.md §6
// "Projects: create").
func (f *Facade) CreateProject(projectID string) (*orchestrator.Project, error) {
	if f.reg == nil {
		return nil, apierr.New(apierr.Internal, "api.CreateProject", "facade has no project registry")
	}
	return f.reg.Create(projectID, nil)
}

// ListProjects returns every registered project id (spec.md §6
// "Projects: list").
func (f *Facade) ListProjects() ([]string, error) {
	if f.reg == nil {
		return nil, apierr.New(apierr.Internal, "api.ListProjects", "facade has no project registry")
	}
	return f.reg.List(), nil
}

// GetProjectStatus returns a project's current dashboard snapshot
// (spec.md §6 "Projects: get-status"), reusing the same snapshot
// assembly internal/monitor serves over HTTP.
func (f *Facade) GetProjectStatus(projectID string) (*monitor.Snapshot, error) {
	p, err := f.project(projectID)
	if err != nil {
		return nil, err
	}
	return monitor.BuildSnapshot(p.Sources())
}

// CreateTask creates t under project projectID.
func (f *Facade) CreateTask(projectID string, t *tasks.Task) error {
	p, err := f.project(projectID)
	if err != nil {
		return err
	}
	return p.CreateTask(t)
}

// GetTask returns a task by id.
func (f *Facade) GetTask(projectID, taskID string) (*tasks.Task, error) {
	p, err := f.project(projectID)
	if err != nil {
		return nil, err
	}
	return p.Tasks.Get(taskID)
}

// GetHierarchy returns a task and its rolled-up subtree progress.
func (f *Facade) GetHierarchy(projectID, taskID string) (*tasks.Hierarchy, error) {
	p, err := f.project(projectID)
	if err != nil {
		return nil, err
	}
	return p.Tasks.GetHierarchy(taskID)
}

// ListTasks returns tasks matching opts (spec.md §6 "Tasks: ... list
// by project/agent").
func (f *Facade) ListTasks(projectID string, opts tasks.ListOptions) ([]*tasks.Task, error) {
	p, err := f.project(projectID)
	if err != nil {
		return nil, err
	}
	if !opts.AllProjects && opts.ProjectID == "" {
		opts.ProjectID = projectID
	}
	return p.Tasks.List(opts)
}

// AssignTask assigns taskID to agentID.
func (f *Facade) AssignTask(projectID, taskID, agentID, assignedBy, reason string) error {
	p, err := f.project(projectID)
	if err != nil {
		return err
	}
	return p.AssignTask(taskID, agentID, assignedBy, reason)
}

// AutoAssign picks and assigns the best eligible agent for t under algo.
func (f *Facade) AutoAssign(projectID string, t *tasks.Task, algo assignment.Algorithm, assignedBy, reason string) (string, error) {
	p, err := f.project(projectID)
	if err != nil {
		return "", err
	}
	return p.AutoAssign(t, algo, assignedBy, reason)
}

// AcquireLock requests a file lock, queuing FIFO if the path is busy.
func (f *Facade) AcquireLock(projectID, agentID, path string, kind locks.Kind, timeout time.Duration) (*locks.Lock, error) {
	p, err := f.project(projectID)
	if err != nil {
		return nil, err
	}
	return p.Locks.Acquire(agentID, path, kind, timeout)
}

// ReleaseLock releases a held lock, promoting the next queued request.
func (f *Facade) ReleaseLock(projectID, lockID, agentID string) (bool, error) {
	p, err := f.project(projectID)
	if err != nil {
		return false, err
	}
	return p.Locks.Release(lockID, agentID)
}

// CheckAccess reports whether agentID may access path at kind without
// acquiring anything.
func (f *Facade) CheckAccess(projectID, agentID, path string, kind locks.Kind) (locks.AccessResult, error) {
	p, err := f.project(projectID)
	if err != nil {
		return locks.AccessResult{}, err
	}
	return p.Locks.CheckAccess(agentID, path, kind), nil
}

// ListLocksByPath returns the active and FIFO-queued pending locks on
// path (spec.md §6 "Locks: ... list by project/agent").
func (f *Facade) ListLocksByPath(projectID, path string) (active, pending []*locks.Lock, err error) {
	p, err := f.project(projectID)
	if err != nil {
		return nil, nil, err
	}
	a, pend := p.Locks.ActiveLocksByPath(path)
	return a, pend, nil
}

// ListLocksByAgent returns every active/pending lock held or queued by
// agentID (spec.md §6 "Locks: ... list by project/agent").
func (f *Facade) ListLocksByAgent(projectID, agentID string) ([]*locks.Lock, error) {
	p, err := f.project(projectID)
	if err != nil {
		return nil, err
	}
	return p.Locks.ActiveLocksByAgent(agentID), nil
}

// DetectConflicts reports invariant violations on path given the
// caller's observed file modification time (spec.md §6 "Locks: ...
// detect-conflicts").
func (f *Facade) DetectConflicts(projectID, path string, fileModTime time.Time) ([]locks.Conflict, error) {
	p, err := f.project(projectID)
	if err != nil {
		return nil, err
	}
	return p.Locks.DetectConflicts(path, fileModTime), nil
}

// SendMessage sends a direct message between two agents.
func (f *Facade) SendMessage(projectID, from, to, subject, body, priority string, metadata map[string]string) (string, error) {
	p, err := f.project(projectID)
	if err != nil {
		return "", err
	}
	return p.Messages.SendDirect(from, to, subject, body, priority, metadata)
}

// Broadcast sends a message to every agent in targetRoles (or all
// agents, if empty).
func (f *Facade) Broadcast(projectID, from, subject, body string, targetRoles []agent.Role, metadata map[string]string) (string, error) {
	p, err := f.project(projectID)
	if err != nil {
		return "", err
	}
	return p.Messages.Broadcast(from, subject, body, targetRoles, metadata)
}

// SendTeam sends a message to every member of teamID (spec.md §6
// "Messages: ... send-team").
func (f *Facade) SendTeam(projectID, from, teamID, subject, body, priority string, metadata map[string]string) (string, error) {
	p, err := f.project(projectID)
	if err != nil {
		return "", err
	}
	return p.Messages.SendTeam(from, teamID, subject, body, priority, metadata)
}

// ListMessages returns agentID's mailbox, newest-first (spec.md §6
// "Messages: ... list").
func (f *Facade) ListMessages(projectID, agentID string, unreadOnly bool, limit int) ([]*messaging.Message, error) {
	p, err := f.project(projectID)
	if err != nil {
		return nil, err
	}
	return p.Messages.ListMessages(agentID, unreadOnly, limit), nil
}

// MarkRead marks a message read on agentID's behalf (spec.md §6
// "Messages: ... mark-read").
func (f *Facade) MarkRead(projectID, agentID, messageID string) (bool, error) {
	p, err := f.project(projectID)
	if err != nil {
		return false, err
	}
	return p.Messages.MarkRead(agentID, messageID), nil
}

// RespondToCollaboration records agentID's response to a pending
// collaboration request (spec.md §6 "Messages: ...
// respond-to-collaboration").
func (f *Facade) RespondToCollaboration(projectID, agentID, requestID string, response messaging.CollaborationResponse, note string) error {
	p, err := f.project(projectID)
	if err != nil {
		return err
	}
	return p.Messages.RespondToCollaboration(agentID, requestID, response, note)
}

// RequestApproval files a new decision request.
func (f *Facade) RequestApproval(projectID, requester string, decisionType approval.DecisionType, title, description, justification string, amount *float64, priority string) (string, error) {
	p, err := f.project(projectID)
	if err != nil {
		return "", err
	}
	return p.Approvals.Request(requester, decisionType, title, description, justification, amount, priority)
}

// DecideApproval approves or rejects a pending/escalated request.
func (f *Facade) DecideApproval(projectID string, approve bool, approver, requestID, reasoning string) error {
	p, err := f.project(projectID)
	if err != nil {
		return err
	}
	return p.DecideApproval(approve, approver, requestID, reasoning)
}

// EstimateResponse returns the Resource-State Scheduler's estimated
// response time for a hypothetical task.
func (f *Facade) EstimateResponse(projectID, agentID, taskType string, complexity float64, priority string, requiresCollaboration bool) (int, string, error) {
	p, err := f.project(projectID)
	if err != nil {
		return 0, "", err
	}
	return p.Scheduler.EstimateResponse(agentID, taskType, complexity, priority, requiresCollaboration)
}

// AgentState returns an agent's current scheduler state.
func (f *Facade) AgentState(projectID, agentID string) (scheduler.State, error) {
	p, err := f.project(projectID)
	if err != nil {
		return "", err
	}
	return p.Scheduler.State(agentID), nil
}

// AddContent indexes a chunk of retrievable content (spec.md §6
// "Context: add-content (with type & metadata)").
func (f *Facade) AddContent(projectID string, chunk *ctxassembler.Chunk) error {
	p, err := f.project(projectID)
	if err != nil {
		return err
	}
	if chunk.Project == "" {
		chunk.Project = projectID
	}
	return p.Context.Index(chunk)
}

// GetContext assembles a budget-bounded context for (agent, query)
// under strategy (spec.md §6 "Context: get-context (with strategy,
// budget, filters)").
func (f *Facade) GetContext(projectID, agentID, query string, queryEmbedding []float64, strategy ctxassembler.Strategy, budget int) (*ctxassembler.Result, error) {
	p, err := f.project(projectID)
	if err != nil {
		return nil, err
	}
	candidates, err := p.Context.CollectCandidates(projectID, agentID, query, queryEmbedding)
	if err != nil {
		return nil, err
	}
	return p.Context.Select(strategy, query, queryEmbedding, candidates, budget), nil
}

// ContextSummary returns the assembled result's cluster/type
// summaries without the caller needing to know the candidate set
// (spec.md §6 "Context: ... summary").
func (f *Facade) ContextSummary(projectID, agentID, query string, queryEmbedding []float64, strategy ctxassembler.Strategy, budget int) ([]*ctxassembler.Summary, error) {
	result, err := f.GetContext(projectID, agentID, query, queryEmbedding, strategy, budget)
	if err != nil {
		return nil, err
	}
	return result.Summaries, nil
}
