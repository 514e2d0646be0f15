package orchestrator

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/alerting"
	"github.com/agentforge/coordinator/internal/approval"
	"github.com/agentforge/coordinator/internal/assignment"
	"github.com/agentforge/coordinator/internal/clock"
	ctxassembler "github.com/agentforge/coordinator/internal/context"
	"github.com/agentforge/coordinator/internal/eventlog"
	"github.com/agentforge/coordinator/internal/scheduler"
	"github.com/agentforge/coordinator/internal/tasks"

	_ "github.com/mattn/go-sqlite3"
)

func newTestProject(t *testing.T) (*Project, *clock.Fake, *alerting.NoopNotifier) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	taskStore := tasks.NewStore(db)
	require.NoError(t, taskStore.Init())
	log := eventlog.NewLog(db)
	require.NoError(t, log.Init())
	ctxStore := ctxassembler.NewStore(db)
	require.NoError(t, ctxStore.Init())

	reg := agent.NewRegistry()
	require.NoError(t, reg.Put(&agent.Agent{ID: "exec-1", Name: "Exec", Role: agent.RoleExecutive, MaxWorkload: 100}))
	require.NoError(t, reg.Put(&agent.Agent{
		ID: "mgr-1", Name: "Manager", Role: agent.RoleMiddleManagement, MaxWorkload: 100, ReportsTo: "exec-1",
	}))
	require.NoError(t, reg.Put(&agent.Agent{
		ID: "a1", Name: "Ada", Role: agent.RoleIndividualContrib, MaxWorkload: 40,
		ReportsTo: "mgr-1", Skills: map[string]bool{"go": true}, SkillLevels: map[string]int{"go": 8},
	}))

	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	alerts := &alerting.NoopNotifier{}
	assign := assignment.NewEngine(reg)

	proj := NewProject("proj-1", reg, taskStore, log, ctxStore, assign, Deps{Clock: fc, Alerts: alerts})
	return proj, fc, alerts
}

func TestCreateTaskIndexesContentChunk(t *testing.T) {
	proj, _, _ := newTestProject(t)

	task := tasks.New("proj-1", "Implement retry", "Add backoff to the store layer", tasks.TypeTask, tasks.PriorityHigh, "mgr-1")
	require.NoError(t, proj.CreateTask(task))

	chunk, err := proj.ContextStore.Get("chunk-task-" + task.ID)
	require.NoError(t, err)
	require.Equal(t, ctxassembler.TypeTaskDescription, chunk.Type)
}

func TestAssignTaskNotifiesAndUpdatesScheduler(t *testing.T) {
	proj, _, _ := newTestProject(t)

	task := tasks.New("proj-1", "Implement retry", "desc", tasks.TypeTask, tasks.PriorityHigh, "mgr-1")
	task.EstimatedHours = 4
	require.NoError(t, proj.CreateTask(task))

	require.NoError(t, proj.AssignTask(task.ID, "a1", "mgr-1", "best fit"))

	msgs := proj.Messages.ListMessages("a1", true, 10)
	require.Len(t, msgs, 1, "expected 1 unread notification for the assignee")
	require.Equal(t, scheduler.StateContextSwitching, proj.Scheduler.State("a1"))
}

func TestAutoAssignRoutesThroughAssignTask(t *testing.T) {
	proj, _, _ := newTestProject(t)

	task := tasks.New("proj-1", "Fix bug", "desc", tasks.TypeBug, tasks.PriorityMedium, "mgr-1")
	task.EstimatedHours = 2
	task.RequiredSkills = map[string]bool{"go": true}
	require.NoError(t, proj.CreateTask(task))

	agentID, err := proj.AutoAssign(task, assignment.SkillBased, "mgr-1", "auto")
	require.NoError(t, err)
	require.Equal(t, "a1", agentID)
}

func TestDecideApprovalNotifiesRequester(t *testing.T) {
	proj, _, _ := newTestProject(t)

	reqID, err := proj.Approvals.Request("a1", approval.Operational, "Deploy change", "need it", "justified", nil, "normal")
	require.NoError(t, err)
	req, err := proj.Approvals.Get(reqID)
	require.NoError(t, err)

	require.NoError(t, proj.DecideApproval(true, req.CurrentApprover, reqID, "looks fine"))

	msgs := proj.Messages.ListMessages("a1", true, 10)
	require.Len(t, msgs, 1, "expected the requester to get one notification")
}

func TestSweepApprovalsAlertsOnceWhenChainExhausted(t *testing.T) {
	proj, fc, alerts := newTestProject(t)

	// mgr-1's chain resolves the approver straight to exec-1 (the only
	// agent outranking senior_management), who already has no further
	// chain to escalate to.
	_, err := proj.Approvals.Request("mgr-1", approval.Budget, "More compute", "need it", "justified", nil, "normal")
	require.NoError(t, err)

	fc.Advance(25 * time.Hour)
	proj.SweepApprovals()
	proj.SweepApprovals()

	require.Len(t, alerts.ApprovalExhaustedCalls, 1, "expected exactly 1 exhaustion alert across two sweeps")
}
