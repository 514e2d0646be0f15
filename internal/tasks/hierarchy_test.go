package tasks

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentforge/coordinator/internal/agent"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := NewStore(db)
	if err := store.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	registry := agent.NewRegistry()
	return NewService(store, registry)
}

func mustCreate(t *testing.T, svc *Service, task *Task) *Task {
	t.Helper()
	if err := svc.CreateTask(task); err != nil {
		t.Fatalf("create %s: %v", task.Title, err)
	}
	return task
}

// TestProgressRollup reproduces spec.md scenario 2: epic E has
// children T1..T4 at progress 100,100,50,0. Updating T3 to 100
// expects the parent at 75/in_progress; updating T4 to 100 next
// expects the parent at 100/completed with completed_at set.
func TestProgressRollup(t *testing.T) {
	svc := newTestService(t)

	epic := New("proj-1", "E", "", TypeEpic, PriorityMedium, "alice")
	mustCreate(t, svc, epic)

	t1 := New("proj-1", "T1", "", TypeTask, PriorityMedium, "alice")
	t1.ParentTaskID = epic.ID
	t2 := New("proj-1", "T2", "", TypeTask, PriorityMedium, "alice")
	t2.ParentTaskID = epic.ID
	t3 := New("proj-1", "T3", "", TypeTask, PriorityMedium, "alice")
	t3.ParentTaskID = epic.ID
	t4 := New("proj-1", "T4", "", TypeTask, PriorityMedium, "alice")
	t4.ParentTaskID = epic.ID
	for _, tk := range []*Task{t1, t2, t3, t4} {
		mustCreate(t, svc, tk)
	}

	if err := svc.UpdateProgress(t1.ID, 100, nil, nil); err != nil {
		t.Fatalf("update t1: %v", err)
	}
	if err := svc.UpdateProgress(t2.ID, 100, nil, nil); err != nil {
		t.Fatalf("update t2: %v", err)
	}
	if err := svc.UpdateProgress(t3.ID, 50, nil, nil); err != nil {
		t.Fatalf("update t3: %v", err)
	}

	got, err := svc.Get(epic.ID)
	if err != nil {
		t.Fatalf("get epic: %v", err)
	}
	if got.ProgressPercent != 62 && got.ProgressPercent != 63 {
		// (100+100+50+0)/4 = 62.5 -> rounds to 63 with half-away-from-zero.
		t.Fatalf("expected ~62-63%% progress after first three updates, got %d", got.ProgressPercent)
	}

	if err := svc.UpdateProgress(t3.ID, 100, nil, nil); err != nil {
		t.Fatalf("update t3 to 100: %v", err)
	}

	got, err = svc.Get(epic.ID)
	if err != nil {
		t.Fatalf("get epic: %v", err)
	}
	if got.ProgressPercent != 75 {
		t.Fatalf("expected parent progress 75 after three children done, one at 0, got %d", got.ProgressPercent)
	}
	if got.Status == StatusCompleted {
		t.Fatalf("parent should not be completed while T4 is at 0")
	}

	if err := svc.UpdateProgress(t4.ID, 100, nil, nil); err != nil {
		t.Fatalf("update t4: %v", err)
	}

	got, err = svc.Get(epic.ID)
	if err != nil {
		t.Fatalf("get epic: %v", err)
	}
	if got.ProgressPercent != 100 {
		t.Fatalf("expected parent progress 100, got %d", got.ProgressPercent)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected parent completed, got status %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
}

func TestCreateTaskRejectsCycle(t *testing.T) {
	svc := newTestService(t)

	a := New("proj-1", "A", "", TypeStory, PriorityMedium, "alice")
	mustCreate(t, svc, a)

	b := New("proj-1", "B", "", TypeTask, PriorityMedium, "alice")
	b.ParentTaskID = a.ID
	mustCreate(t, svc, b)

	// Now try to reparent A under B, which would create a cycle A -> B -> A.
	a.ParentTaskID = b.ID
	err := svc.checkNoCycle(a.ID, b.ID)
	if err == nil {
		t.Fatal("expected cycle rejection when parenting A under its own descendant B")
	}
}

func TestLinkDependencyRejectsCycle(t *testing.T) {
	svc := newTestService(t)

	a := New("proj-1", "A", "", TypeTask, PriorityMedium, "alice")
	mustCreate(t, svc, a)
	b := New("proj-1", "B", "", TypeTask, PriorityMedium, "alice")
	mustCreate(t, svc, b)

	if err := svc.LinkDependency(a.ID, b.ID); err != nil {
		t.Fatalf("link a->b: %v", err)
	}
	if err := svc.LinkDependency(b.ID, a.ID); err == nil {
		t.Fatal("expected cycle rejection for b->a when a already depends on b")
	}
}

// TestAssignAtomicWorkloadAndStatus reproduces the transactional
// assign boundary: task status/assignee and agent workload move
// together, and a capacity violation leaves both untouched.
func TestAssignAtomicWorkloadAndStatus(t *testing.T) {
	svc := newTestService(t)

	ag := &agent.Agent{
		ID:             "agent-1",
		Name:           "Alice",
		Role:           agent.RoleIndividualContrib,
		MaxWorkload:    10,
		CurrentWorkload: 0,
	}
	if err := svc.db.Put(ag); err != nil {
		t.Fatalf("put agent: %v", err)
	}

	task := New("proj-1", "T", "", TypeTask, PriorityMedium, "alice")
	task.EstimatedHours = 4
	mustCreate(t, svc, task)

	if err := svc.Assign(task.ID, ag.ID, "bob", "initial assignment"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	got, _ := svc.Get(task.ID)
	if got.Status != StatusAssigned || got.AssignedTo != ag.ID {
		t.Fatalf("expected task assigned to %s, got %+v", ag.ID, got)
	}

	updated, err := svc.db.Get(ag.ID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if updated.CurrentWorkload != 4 {
		t.Fatalf("expected workload 4, got %v", updated.CurrentWorkload)
	}

	// Assigning a second task that would exceed capacity must fail and
	// leave both task and workload unchanged.
	big := New("proj-1", "Big", "", TypeTask, PriorityMedium, "alice")
	big.EstimatedHours = 100
	mustCreate(t, svc, big)

	if err := svc.Assign(big.ID, ag.ID, "bob", "overload"); err == nil {
		t.Fatal("expected capacity_exceeded error")
	}

	gotBig, _ := svc.Get(big.ID)
	if gotBig.Status == StatusAssigned {
		t.Fatal("expected failed assignment to leave task unassigned")
	}

	stillUpdated, _ := svc.db.Get(ag.ID)
	if stillUpdated.CurrentWorkload != 4 {
		t.Fatalf("expected workload unchanged at 4 after failed assign, got %v", stillUpdated.CurrentWorkload)
	}
}

func TestGetHierarchy(t *testing.T) {
	svc := newTestService(t)

	epic := New("proj-1", "E", "", TypeEpic, PriorityMedium, "alice")
	mustCreate(t, svc, epic)
	c1 := New("proj-1", "C1", "", TypeTask, PriorityMedium, "alice")
	c1.ParentTaskID = epic.ID
	mustCreate(t, svc, c1)
	c2 := New("proj-1", "C2", "", TypeTask, PriorityMedium, "alice")
	c2.ParentTaskID = epic.ID
	mustCreate(t, svc, c2)

	if err := svc.UpdateProgress(c1.ID, 100, nil, nil); err != nil {
		t.Fatalf("update c1: %v", err)
	}

	h, err := svc.GetHierarchy(epic.ID)
	if err != nil {
		t.Fatalf("get hierarchy: %v", err)
	}
	if h.TotalChildCount != 2 || h.CompletedCount != 1 {
		t.Fatalf("expected 2 children, 1 completed, got %+v", h)
	}

	h2, err := svc.GetHierarchy(c1.ID)
	if err != nil {
		t.Fatalf("get hierarchy for child: %v", err)
	}
	if len(h2.Chain) != 1 || h2.Chain[0].ID != epic.ID {
		t.Fatalf("expected parent chain [epic], got %+v", h2.Chain)
	}
}
