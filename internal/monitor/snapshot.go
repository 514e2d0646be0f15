// Package monitor exposes the read-only "Monitoring" operations named
// in spec.md §6 over HTTP and WebSocket: a per-project dashboard
// snapshot, a bounded metric time-series, and a push feed of state
// changes. Grounded in internal/server.Hub and internal/server/
// handlers.go's snapshot-building handlers, generalized from the
// teacher's dashboard-specific DashboardState into this domain's
// Task/Agent/Lock/Approval state.
package monitor

import (
	"sort"
	"time"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/approval"
	"github.com/agentforge/coordinator/internal/locks"
	"github.com/agentforge/coordinator/internal/scheduler"
	"github.com/agentforge/coordinator/internal/tasks"
)

// AgentSummary is one row of a dashboard snapshot's roster.
type AgentSummary struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Role            agent.Role      `json:"role"`
	State           scheduler.State `json:"state"`
	CurrentWorkload float64         `json:"current_workload"`
	MaxWorkload     float64         `json:"max_workload"`
}

// Snapshot is the full per-project dashboard state (spec.md §6
// Monitoring: "dashboard snapshot").
type Snapshot struct {
	ProjectID          string         `json:"project_id"`
	GeneratedAt        time.Time      `json:"generated_at"`
	Agents             []AgentSummary `json:"agents"`
	TaskCountsByStatus map[string]int `json:"task_counts_by_status"`
	ActiveLocks        int            `json:"active_locks"`
	PendingLocks       int            `json:"pending_locks"`
	PendingApprovals   int            `json:"pending_approvals"`
}

// Sources bundles the read-only views a snapshot is assembled from.
// The Orchestrator constructs one per project from its component
// instances; nothing here mutates state.
type Sources struct {
	Project    string
	Agents     *agent.Registry
	Tasks      *tasks.Store
	Locks      *locks.Manager
	Approvals  *approval.Engine
	Scheduler  *scheduler.Scheduler
	Now        func() time.Time
}

// BuildSnapshot assembles a Snapshot from live component state.
func BuildSnapshot(src Sources) (*Snapshot, error) {
	now := time.Now
	if src.Now != nil {
		now = src.Now
	}

	snap := &Snapshot{
		ProjectID:          src.Project,
		GeneratedAt:        now(),
		TaskCountsByStatus: make(map[string]int),
	}

	if src.Agents != nil {
		for _, a := range src.Agents.All() {
			state := scheduler.State("")
			if src.Scheduler != nil {
				state = src.Scheduler.State(a.ID)
			}
			snap.Agents = append(snap.Agents, AgentSummary{
				ID:              a.ID,
				Name:            a.Name,
				Role:            a.Role,
				State:           state,
				CurrentWorkload: a.CurrentWorkload,
				MaxWorkload:     a.MaxWorkload,
			})
		}
		sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].ID < snap.Agents[j].ID })
	}

	if src.Tasks != nil {
		ts, err := src.Tasks.List(tasks.ListOptions{ProjectID: src.Project})
		if err != nil {
			return nil, err
		}
		for _, t := range ts {
			snap.TaskCountsByStatus[string(t.Status)]++
		}
	}

	if src.Locks != nil {
		snap.ActiveLocks = len(src.Locks.ActiveLocksByProject())
		snap.PendingLocks = len(src.Locks.PendingLocksByProject())
	}

	if src.Approvals != nil {
		for _, r := range src.Approvals.List() {
			if r.Status == approval.StatusPending || r.Status == approval.StatusEscalated {
				snap.PendingApprovals++
			}
		}
	}

	return snap, nil
}
