package scheduler

import (
	"testing"
	"time"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/clock"
)

// TestResponseTimingScenario reproduces spec.md scenario 6: agent with
// personality=perfectionist, specializations={code_review},
// state=available, load=0.2 receives a code_review request with
// complexity=0.5. Expected delay ≈ base(0.5) × 1.4 ÷ 1.2 × (1 + 0.1) ×
// 1.0, rounded up, ≥ 1 second — base(0.5) = 30 + 0.5*(150-30) = 90, so
// 90 × 1.4 / 1.2 × 1.1 = 115.5 → 116.
func TestResponseTimingScenario(t *testing.T) {
	reg := agent.NewRegistry()
	a := &agent.Agent{
		ID:              "agent-1",
		Name:            "Perfectionist",
		Role:            agent.RoleIndividualContrib,
		Personality:     agent.PersonalityPerfectionist,
		Specializations: map[string]bool{"code_review": true},
		MaxWorkload:     10,
	}
	if err := reg.Put(a); err != nil {
		t.Fatalf("put: %v", err)
	}

	sched := NewScheduler("proj-1", reg, nil, clock.NewReal())
	sched.SetLoad("agent-1", 0.2)

	seconds, reason, err := sched.EstimateResponse("agent-1", "code_review", 0.5, "normal", false)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if seconds != 116 {
		t.Fatalf("expected 116 seconds, got %d (reason=%q)", seconds, reason)
	}
}

func TestStateMachineTransitions(t *testing.T) {
	reg := agent.NewRegistry()
	a := &agent.Agent{ID: "agent-1", Name: "A", Role: agent.RoleIndividualContrib, MaxWorkload: 10}
	reg.Put(a)

	sched := NewScheduler("proj-1", reg, nil, clock.NewReal())

	if sched.State("agent-1") != StateAvailable {
		t.Fatalf("expected initial state available, got %s", sched.State("agent-1"))
	}

	sched.StartTask("agent-1", "code_review", 5*time.Second, true, false)
	if sched.State("agent-1") != StateExclusiveComputation {
		t.Fatalf("expected exclusive_computation, got %s", sched.State("agent-1"))
	}

	sched.CompleteTask("agent-1")
	if sched.State("agent-1") != StateAvailable {
		t.Fatalf("expected available after completion, got %s", sched.State("agent-1"))
	}

	sched.StartTask("agent-1", "research", 5*time.Second, true, true)
	if sched.State("agent-1") != StateAwaitingDependency {
		t.Fatalf("expected awaiting_dependency, got %s", sched.State("agent-1"))
	}

	sched.DependencyCompleted("agent-1")
	if sched.State("agent-1") != StateAvailable {
		t.Fatalf("expected available after dependency completion, got %s", sched.State("agent-1"))
	}
}

func TestPreemptRejectsNonInterruptible(t *testing.T) {
	reg := agent.NewRegistry()
	a := &agent.Agent{ID: "agent-1", Name: "A", Role: agent.RoleIndividualContrib, MaxWorkload: 10}
	reg.Put(a)

	sched := NewScheduler("proj-1", reg, nil, clock.NewReal())
	sched.StartTask("agent-1", "feature_implementation", 45*time.Second, false, false)

	result := sched.Preempt("agent-1")
	if result.Accepted {
		t.Fatal("expected preemption rejected for non-interruptible task")
	}
	if result.Cost != 45*time.Second {
		t.Fatalf("expected reported cost 45s, got %v", result.Cost)
	}
}

func TestContextSwitchingAutoReturns(t *testing.T) {
	reg := agent.NewRegistry()
	a := &agent.Agent{ID: "agent-1", Name: "A", Role: agent.RoleIndividualContrib, MaxWorkload: 10}
	reg.Put(a)

	fc := clock.NewFake(time.Now())
	sched := NewScheduler("proj-1", reg, nil, fc)

	sched.StartTask("agent-1", "code_review", time.Second, true, false)
	sched.CompleteTask("agent-1") // back to available
	sched.NoteAssignmentChange("agent-1")
	if sched.State("agent-1") != StateContextSwitching {
		t.Fatalf("expected context_switching, got %s", sched.State("agent-1"))
	}

	fc.Advance(4 * time.Second)
	sched.Sweep()

	if sched.State("agent-1") != StateAvailable {
		t.Fatalf("expected auto-return to available after bounded delay, got %s", sched.State("agent-1"))
	}
}

func TestDeferredMessageDrainedOnSweep(t *testing.T) {
	reg := agent.NewRegistry()
	fc := clock.NewFake(time.Now())
	sched := NewScheduler("proj-1", reg, nil, fc)

	delivered := false
	sched.Defer("agent-1", 2*time.Second, "busy", func() { delivered = true })

	sched.Sweep()
	if delivered {
		t.Fatal("expected message not yet delivered before delay elapses")
	}

	fc.Advance(3 * time.Second)
	sched.Sweep()
	if !delivered {
		t.Fatal("expected deferred message delivered after delay elapses")
	}
}
