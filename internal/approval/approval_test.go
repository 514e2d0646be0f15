package approval

import (
	"testing"
	"time"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/clock"
)

func seedChain(t *testing.T) *agent.Registry {
	t.Helper()
	reg := agent.NewRegistry()
	exec := &agent.Agent{ID: "exec-1", Name: "Exec", Role: agent.RoleExecutive, MaxWorkload: 40}
	sm := &agent.Agent{ID: "sm-1", Name: "SM", Role: agent.RoleSeniorManagement, ReportsTo: "exec-1", MaxWorkload: 40}
	mm := &agent.Agent{ID: "mm-1", Name: "MM", Role: agent.RoleMiddleManagement, ReportsTo: "sm-1", MaxWorkload: 40}
	ic := &agent.Agent{ID: "ic-1", Name: "IC", Role: agent.RoleIndividualContrib, ReportsTo: "mm-1", MaxWorkload: 40}
	for _, a := range []*agent.Agent{exec, sm, mm, ic} {
		if err := reg.Put(a); err != nil {
			t.Fatalf("put %s: %v", a.ID, err)
		}
	}
	return reg
}

// TestApprovalEscalationScenario reproduces spec.md scenario 4: a
// budget request for 200000 from an IC whose chain is IC -> MM -> SM
// -> EXEC. Initial current_approver must be EXEC (the minimum
// sufficient authority in the chain); on timeout with no higher
// approver available, the request becomes escalated with reason
// "timeout" and current_approver unchanged.
func TestApprovalEscalationScenario(t *testing.T) {
	reg := seedChain(t)
	fc := clock.NewFake(time.Now())
	eng := NewEngine("proj-1", reg, nil, fc, nil)

	amount := 200000.0
	reqID, err := eng.Request("ic-1", Budget, "Server budget", "new hardware", "capacity", &amount, "high")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	r, err := eng.Get(reqID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.CurrentApprover != "exec-1" {
		t.Fatalf("expected initial approver exec-1, got %s", r.CurrentApprover)
	}
	if r.Status != StatusPending {
		t.Fatalf("expected pending, got %s", r.Status)
	}

	fc.Advance(25 * time.Hour)
	eng.Sweep()

	r, err = eng.Get(reqID)
	if err != nil {
		t.Fatalf("get after sweep: %v", err)
	}
	if r.Status != StatusEscalated {
		t.Fatalf("expected escalated after timeout, got %s", r.Status)
	}
	if r.Reasoning != "timeout" {
		t.Fatalf("expected reason timeout, got %q", r.Reasoning)
	}
	if r.CurrentApprover != "exec-1" {
		t.Fatalf("expected current_approver unchanged at exec-1, got %s", r.CurrentApprover)
	}
}

func TestRequiredLevelBudgetThresholds(t *testing.T) {
	amt := func(v float64) *float64 { return &v }

	cases := []struct {
		amount   float64
		expected agent.Role
	}{
		{200000, agent.RoleExecutive},
		{50000, agent.RoleSeniorManagement},
		{10000, agent.RoleMiddleManagement},
		{1000, agent.RoleIndividualContrib},
	}
	for _, c := range cases {
		got := RequiredLevel(Budget, amt(c.amount))
		if got != c.expected {
			t.Errorf("amount=%v: expected %s, got %s", c.amount, c.expected, got)
		}
	}
}

func TestNonBudgetUsesApprovalMatrix(t *testing.T) {
	if got := RequiredLevel(Operational, nil); got != agent.RoleMiddleManagement {
		t.Fatalf("expected middle_management for operational, got %s", got)
	}
	if got := RequiredLevel(Strategic, nil); got != agent.RoleExecutive {
		t.Fatalf("expected executive for strategic, got %s", got)
	}
}

func TestFindApproverFallsBackToFullRegistryScan(t *testing.T) {
	reg := agent.NewRegistry()
	isolated := &agent.Agent{ID: "ic-2", Name: "Isolated IC", Role: agent.RoleIndividualContrib, MaxWorkload: 40}
	exec := &agent.Agent{ID: "exec-2", Name: "Exec Elsewhere", Role: agent.RoleExecutive, MaxWorkload: 40}
	reg.Put(isolated)
	reg.Put(exec)

	eng := NewEngine("proj-1", reg, nil, clock.NewReal(), nil)
	reqID, err := eng.Request("ic-2", Policy, "New hiring policy", "desc", "reason", nil, "normal")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	r, err := eng.Get(reqID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.CurrentApprover != "exec-2" {
		t.Fatalf("expected fallback scan to find exec-2, got %s", r.CurrentApprover)
	}
}

func TestApproveRejectsWrongApprover(t *testing.T) {
	reg := seedChain(t)
	eng := NewEngine("proj-1", reg, nil, clock.NewReal(), nil)

	reqID, err := eng.Request("ic-1", Technical, "Schema change", "desc", "reason", nil, "normal")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if _, err := eng.Approve("ic-1", reqID, "looks fine"); err == nil {
		t.Fatal("expected error approving as non-current-approver")
	}

	r, _ := eng.Get(reqID)
	ok, err := eng.Approve(r.CurrentApprover, reqID, "approved")
	if err != nil || !ok {
		t.Fatalf("expected approval to succeed, got ok=%v err=%v", ok, err)
	}
	r, _ = eng.Get(reqID)
	if r.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", r.Status)
	}
}

func TestEscalateFailsWithNoHigherApprover(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Put(&agent.Agent{ID: "exec-1", Name: "Exec", Role: agent.RoleExecutive, MaxWorkload: 40})

	eng := NewEngine("proj-1", reg, nil, clock.NewReal(), nil)
	reqID, err := eng.Request("exec-1", Strategic, "Title", "desc", "reason", nil, "normal")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := eng.Escalate(reqID, "manual escalation"); err == nil {
		t.Fatal("expected CannotEscalate error")
	}
}
