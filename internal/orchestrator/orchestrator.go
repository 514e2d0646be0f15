// Package orchestrator is the per-project composition root (spec.md
// §4.9): it owns one instance of every component for a project, wires
// the cross-cutting side effects spec.md §4.9 calls out (index
// content on task creation, notify the assignee and nudge the
// scheduler on assignment, notify on approval decisions, desktop-alert
// on starvation/exhaustion), and starts the bounded periodic sweeps
// each component needs. Grounded in internal/server.Server's
// composition-root shape (one struct holding every subsystem,
// constructed once, exposing the handlers that stitch them together)
// and internal/captain.Captain's "decide, then fan out to the right
// subsystem" dispatch style.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/alerting"
	"github.com/agentforge/coordinator/internal/apierr"
	"github.com/agentforge/coordinator/internal/approval"
	"github.com/agentforge/coordinator/internal/assignment"
	"github.com/agentforge/coordinator/internal/clock"
	ctxassembler "github.com/agentforge/coordinator/internal/context"
	"github.com/agentforge/coordinator/internal/eventlog"
	"github.com/agentforge/coordinator/internal/locks"
	"github.com/agentforge/coordinator/internal/messaging"
	"github.com/agentforge/coordinator/internal/monitor"
	"github.com/agentforge/coordinator/internal/scheduler"
	"github.com/agentforge/coordinator/internal/tasks"
)

// LockStarveWarning is how long a pending writer must wait before a
// force-expiring sweep raises a desktop alert (spec.md §4.15).
const LockStarveWarning = 5 * time.Minute

// Project bundles every component instance for one project. Nothing
// outside this package reaches into a component's internals directly;
// callers go through Project's methods so the cross-cutting wiring
// always runs.
type Project struct {
	ID string

	Agents       *agent.Registry
	Tasks        *tasks.Service
	TaskStore    *tasks.Store
	Assignment   *assignment.Engine
	Locks        *locks.Manager
	Messages     *messaging.Bus
	Scheduler    *scheduler.Scheduler
	Approvals    *approval.Engine
	Context      *ctxassembler.Assembler
	ContextStore *ctxassembler.Store
	EventLog     *eventlog.Log

	clock     clock.Clock
	alerts    alerting.Notifier
	mon       *monitor.Server
	exhausted map[string]bool // request ids already alerted on, so a stuck request pages once
}

// Deps are the shared dependencies every Project is built from besides
// its stores (one clock, one alert sink, one monitor server) — the
// pieces that are process-wide rather than per-project.
type Deps struct {
	Clock   clock.Clock
	Alerts  alerting.Notifier
	Monitor *monitor.Server
}

// NewProject wires one project's full component set over an already-
// initialized set of stores. Callers (typically a cmd/ entrypoint)
// construct the per-package stores against a shared *sql.DB via
// internal/storage first.
func NewProject(id string, agents *agent.Registry, taskStore *tasks.Store, log *eventlog.Log, contextStore *ctxassembler.Store, assign *assignment.Engine, deps Deps) *Project {
	c := deps.Clock
	if c == nil {
		c = clock.NewReal()
	}
	alerts := deps.Alerts
	if alerts == nil {
		alerts = &alerting.NoopNotifier{}
	}

	return &Project{
		ID:           id,
		Agents:       agents,
		Tasks:        tasks.NewService(taskStore, agents),
		TaskStore:    taskStore,
		Assignment:   assign,
		Locks:        locks.NewManager(id, c),
		Messages:     messaging.NewBus(id, agents, log),
		Scheduler:    scheduler.NewScheduler(id, agents, log, c),
		Approvals:    approval.NewEngine(id, agents, log, c, nil),
		Context:      ctxassembler.NewAssembler(contextStore, c.Now),
		ContextStore: contextStore,
		EventLog:     log,
		clock:        c,
		alerts:       alerts,
		mon:          deps.Monitor,
		exhausted:    make(map[string]bool),
	}
}

// Sources builds the monitor.Sources view the monitoring adapter
// reads this project's live state through.
func (p *Project) Sources() monitor.Sources {
	return monitor.Sources{
		Project:   p.ID,
		Agents:    p.Agents,
		Tasks:     p.TaskStore,
		Locks:     p.Locks,
		Approvals: p.Approvals,
		Scheduler: p.Scheduler,
		Now:       p.clock.Now,
	}
}

// CreateTask persists a new task and indexes its description as a
// retrievable content chunk (spec.md §4.9: "index content on task
// creation"), so the Context Assembler can surface it without the
// caller doing a separate write.
func (p *Project) CreateTask(t *tasks.Task) error {
	if err := p.Tasks.CreateTask(t); err != nil {
		return err
	}
	if p.ContextStore == nil {
		return nil
	}
	chunk := &ctxassembler.Chunk{
		ID:            "chunk-task-" + t.ID,
		Project:       p.ID,
		Agent:         t.CreatedBy,
		Content:       t.Title + "\n\n" + t.Description,
		Type:          ctxassembler.TypeTaskDescription,
		Timestamp:     t.CreatedAt,
		LastAccessed:  t.CreatedAt,
		Relationships: map[string][]string{"task": {t.ID}},
	}
	return p.ContextStore.Put(chunk)
}

// AssignTask assigns a task to an agent, notifies the assignee over
// the message bus, and nudges the Resource-State Scheduler so its
// context_switching transition fires (spec.md §4.9: "notify assignee
// and update the Resource-State Scheduler on assignment").
func (p *Project) AssignTask(taskID, agentID, assignedBy, reason string) error {
	if err := p.Tasks.Assign(taskID, agentID, assignedBy, reason); err != nil {
		return err
	}
	t, err := p.Tasks.Get(taskID)
	if err != nil {
		return err
	}
	if _, err := p.Messages.SendDirect(assignedBy, agentID, "Task assigned: "+t.Title,
		fmt.Sprintf("You have been assigned %s: %s", t.ID, reason), "normal", nil); err != nil {
		return err
	}
	p.Scheduler.NoteAssignmentChange(agentID)
	return nil
}

// AutoAssign picks the best eligible agent for t under algo and routes
// through AssignTask, so automatic assignment gets the same
// notify+scheduler-nudge side effects as a manual one.
func (p *Project) AutoAssign(t *tasks.Task, algo assignment.Algorithm, assignedBy, reason string) (string, error) {
	agentID := p.Assignment.AutoAssign(t, algo)
	if agentID == "" {
		return "", apierr.New(apierr.NotFound, "orchestrator.AutoAssign", "no eligible agent for task "+t.ID)
	}
	if err := p.AssignTask(t.ID, agentID, assignedBy, reason); err != nil {
		return "", err
	}
	return agentID, nil
}

// DecideApproval applies an approve/reject decision and notifies the
// requester (spec.md §4.9: "notify on approval decisions").
func (p *Project) DecideApproval(approve bool, approver, requestID, reasoning string) error {
	req, err := p.Approvals.Get(requestID)
	if err != nil {
		return err
	}

	var ok bool
	if approve {
		ok, err = p.Approvals.Approve(approver, requestID, reasoning)
	} else {
		ok, err = p.Approvals.Reject(approver, requestID, reasoning)
	}
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	status := "rejected"
	if approve {
		status = "approved"
	}
	_, err = p.Messages.SendDirect(approver, req.Requester,
		fmt.Sprintf("Approval request %s %s", requestID, status),
		reasoning, "normal", nil)
	return err
}

// SweepLocks runs the lock expiry sweep and alerts on any
// force-expired lock whose pending writers have starved past
// LockStarveWarning (spec.md §4.15).
func (p *Project) SweepLocks() []*locks.Lock {
	expired := p.Locks.Sweep()
	now := p.clock.Now()
	for _, l := range expired {
		_, pending := p.Locks.ActiveLocksByPath(l.Path)
		for _, pend := range pending {
			if now.Sub(pend.AcquiredAt) >= LockStarveWarning || now.Sub(l.AcquiredAt) >= LockStarveWarning {
				p.alerts.LockStarved(l.Path, pend.AgentID, now.Sub(l.AcquiredAt).String())
				break
			}
		}
	}
	return expired
}

// SweepApprovals runs the escalation sweep and alerts (once per
// request) whenever a request is sitting on StatusEscalated with its
// current approver already at the top of the authority chain — no
// further escalation is possible (spec.md §4.15: "an approval
// escalates to executive with no further chain").
func (p *Project) SweepApprovals() {
	p.Approvals.Sweep()

	for _, r := range p.Approvals.List() {
		if r.Status != approval.StatusEscalated || p.exhausted[r.ID] {
			continue
		}
		a, err := p.Agents.Get(r.CurrentApprover)
		if err != nil || a.ReportsTo != "" {
			continue
		}
		p.exhausted[r.ID] = true
		p.alerts.ApprovalExhausted(r.ID, r.Title)
	}
}

// RunSweeps starts every component's bounded periodic sweep on its own
// goroutine, each gated by its own ticker and stopped when ctx is
// cancelled, mirroring
// how internal/server.Server owns stopChan and starts its background
// loops from one place (spec.md §5).
func (p *Project) RunSweeps(ctx context.Context) {
	go p.loop(ctx, 60*time.Second, func() { p.SweepLocks() })
	go p.loop(ctx, 5*time.Second, func() { p.Scheduler.Sweep() })
	go p.loop(ctx, time.Hour, p.SweepApprovals)
	if p.mon != nil {
		go p.loop(ctx, time.Hour, func() {
			if snap, err := monitor.BuildSnapshot(p.Sources()); err == nil {
				p.mon.RecordSnapshot(snap)
			}
		})
	}
}

func (p *Project) loop(ctx context.Context, interval time.Duration, fn func()) {
	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			fn()
		}
	}
}
