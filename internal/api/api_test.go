package api

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/alerting"
	"github.com/agentforge/coordinator/internal/assignment"
	"github.com/agentforge/coordinator/internal/clock"
	ctxassembler "github.com/agentforge/coordinator/internal/context"
	"github.com/agentforge/coordinator/internal/eventlog"
	"github.com/agentforge/coordinator/internal/locks"
	"github.com/agentforge/coordinator/internal/orchestrator"
	"github.com/agentforge/coordinator/internal/tasks"

	_ "github.com/mattn/go-sqlite3"
)

func newTestFacade(t *testing.T) *Facade {
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
	require.NoError(t, reg.Put(&agent.Agent{ID: "mgr-1", Name: "Manager", Role: agent.RoleMiddleManagement, MaxWorkload: 100}))
	require.NoError(t, reg.Put(&agent.Agent{
		ID: "a1", Name: "Ada", Role: agent.RoleIndividualContrib, MaxWorkload: 40, ReportsTo: "mgr-1",
	}))

	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assign := assignment.NewEngine(reg)
	proj := orchestrator.NewProject("proj-1", reg, taskStore, log, ctxStore, assign, orchestrator.Deps{
		Clock: fc, Alerts: &alerting.NoopNotifier{},
	})

	return New(func(projectID string) (*orchestrator.Project, bool) {
		if projectID == proj.ID {
			return proj, true
		}
		return nil, false
	})
}

func TestFacadeUnknownProjectReturnsNotFound(t *testing.T) {
	f := newTestFacade(t)
	err := f.CreateTask("nope", tasks.New("nope", "x", "y", tasks.TypeTask, tasks.PriorityLow, "mgr-1"))
	require.Error(t, err)
}

func TestFacadeCreateAndGetTask(t *testing.T) {
	f := newTestFacade(t)
	task := tasks.New("proj-1", "Write docs", "desc", tasks.TypeTask, tasks.PriorityLow, "mgr-1")
	require.NoError(t, f.CreateTask("proj-1", task))

	got, err := f.GetTask("proj-1", task.ID)
	require.NoError(t, err)
	require.Equal(t, "Write docs", got.Title)
}

func TestFacadeAssignTask(t *testing.T) {
	f := newTestFacade(t)
	task := tasks.New("proj-1", "Write docs", "desc", tasks.TypeTask, tasks.PriorityLow, "mgr-1")
	task.EstimatedHours = 2
	require.NoError(t, f.CreateTask("proj-1", task))
	require.NoError(t, f.AssignTask("proj-1", task.ID, "a1", "mgr-1", "best fit"))

	got, err := f.GetTask("proj-1", task.ID)
	require.NoError(t, err)
	require.Equal(t, "a1", got.AssignedTo)
}

func TestFacadeLockAcquireCheckRelease(t *testing.T) {
	f := newTestFacade(t)
	lock, err := f.AcquireLock("proj-1", "a1", "src/main.go", locks.Write, time.Minute)
	require.NoError(t, err)

	access, err := f.CheckAccess("proj-1", "mgr-1", "src/main.go", locks.Write)
	require.NoError(t, err)
	require.False(t, access.Allowed, "expected a conflicting writer to be denied access")

	ok, err := f.ReleaseLock("proj-1", lock.ID, "a1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFacadeAutoAssignRoutesThroughOrchestrator(t *testing.T) {
	f := newTestFacade(t)
	task := tasks.New("proj-1", "Fix bug", "desc", tasks.TypeBug, tasks.PriorityMedium, "mgr-1")
	task.EstimatedHours = 2
	require.NoError(t, f.CreateTask("proj-1", task))

	agentID, err := f.AutoAssign("proj-1", task, assignment.HierarchyAware, "mgr-1", "auto")
	require.NoError(t, err)
	require.NotEmpty(t, agentID, "expected an agent to be picked")
}
