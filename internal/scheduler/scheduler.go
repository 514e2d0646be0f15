// Package scheduler implements the Resource-State Scheduler (spec.md
// §4.5): a per-agent computational-availability state machine,
// interruption cost accounting, response-time estimation, and a
// delayed-message queue drained by a periodic tick. Grounded in
// original_source/perpetual_efficiency_model.py's
// PerpetualEfficiencyModel (the same five-step response-time pipeline
// and processing-template durations), translated into Go's explicit
// per-agent mutex + clock-driven sweep style the way the teacher's
// internal/supervisor runs its periodic poll loops.
package scheduler

import (
	"math"
	"sync"
	"time"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/clock"
	"github.com/agentforge/coordinator/internal/eventlog"
)

// State is an agent's computational-availability state (spec.md §4.5).
type State string

const (
	StateAvailable            State = "available"
	StateExclusiveComputation State = "exclusive_computation"
	StateAwaitingDependency   State = "awaiting_dependency"
	StateContextSwitching     State = "context_switching"
)

var stateMultiplier = map[State]float64{
	StateAvailable:            1.0,
	StateExclusiveComputation: 3.0,
	StateAwaitingDependency:   0.1,
	StateContextSwitching:     1.5,
}

// contextSwitchDuration bounds how long an agent stays in
// context_switching before auto-returning to its prior state
// (spec.md §4.5: "briefly... after a bounded delay").
const contextSwitchDuration = 3 * time.Second

// Template is a per-task-type response-time model: base(complexity) =
// f_low + complexity*(f_high-f_low), grounded in
// perpetual_efficiency_model.py's processing_templates lambdas.
type Template struct {
	FLow  float64
	FHigh float64
}

func (t Template) base(complexity float64) float64 {
	return t.FLow + complexity*(t.FHigh-t.FLow)
}

// templates are keyed by task type string (free-form, matching the
// Message Bus's task-type vocabulary, not internal/tasks.Type, since a
// "response" here is to an inbound message, not necessarily a task).
var templates = map[string]Template{
	"code_review":            {FLow: 30, FHigh: 150},
	"architecture_analysis":  {FLow: 180, FHigh: 780},
	"bug_analysis":           {FLow: 45, FHigh: 225},
	"feature_implementation": {FLow: 300, FHigh: 1500},
	"research_analysis":      {FLow: 600, FHigh: 2400},
	"simple_response":        {FLow: 2, FHigh: 17},
}

func templateFor(taskType string) Template {
	if t, ok := templates[taskType]; ok {
		return t
	}
	return templates["simple_response"]
}

// inFlightTask is the currently executing task on an agent, carrying
// the interruption cost model from spec.md §4.5.
type inFlightTask struct {
	kind              string
	interruptionCost  time.Duration
	interruptible     bool
}

// agentState is the mutable per-agent record the scheduler tracks.
type agentState struct {
	mu               sync.Mutex
	state            State
	priorState       State // state to restore after context_switching
	contextSwitchAt  time.Time
	computationalLoad float64 // 0-1
	current          *inFlightTask
}

// PreemptResult reports the outcome of a preemption request.
type PreemptResult struct {
	Accepted bool
	Cost     time.Duration
}

// DelayedMessage is a response scheduled for future delivery.
type DelayedMessage struct {
	AgentID  string
	SendTime time.Time
	Reason   string
	Deliver  func()
}

// Scheduler is the Resource-State Scheduler.
type Scheduler struct {
	agents *agent.Registry
	log    *eventlog.Log
	clock  clock.Clock
	project string

	mu     sync.Mutex
	states map[string]*agentState
	queue  []*DelayedMessage
}

// NewScheduler builds a Resource-State Scheduler over the shared
// agent registry. log may be nil (no audit trail).
func NewScheduler(project string, agents *agent.Registry, log *eventlog.Log, c clock.Clock) *Scheduler {
	return &Scheduler{
		agents:  agents,
		log:     log,
		clock:   c,
		project: project,
		states:  make(map[string]*agentState),
	}
}

func (s *Scheduler) stateFor(agentID string) *agentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[agentID]
	if !ok {
		st = &agentState{state: StateAvailable}
		s.states[agentID] = st
	}
	return st
}

// StartTask transitions an agent from available to
// exclusive_computation (or awaiting_dependency if depUnsatisfied),
// recording the in-flight task's interruption model.
func (s *Scheduler) StartTask(agentID, kind string, interruptionCost time.Duration, interruptible bool, depUnsatisfied bool) {
	st := s.stateFor(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.current = &inFlightTask{kind: kind, interruptionCost: interruptionCost, interruptible: interruptible}
	if depUnsatisfied {
		st.state = StateAwaitingDependency
	} else {
		st.state = StateExclusiveComputation
	}
	s.audit(agentID, "start_task", kind)
}

// CompleteTask returns the agent to available and clears the in-flight task.
func (s *Scheduler) CompleteTask(agentID string) {
	st := s.stateFor(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.current = nil
	st.state = StateAvailable
	s.audit(agentID, "complete_task", "")
}

// DependencyCompleted moves an agent from awaiting_dependency back to available.
func (s *Scheduler) DependencyCompleted(agentID string) {
	st := s.stateFor(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.state == StateAwaitingDependency {
		st.state = StateAvailable
	}
}

// NoteAssignmentChange transitions an agent into context_switching
// briefly; Sweep auto-returns it to its prior state once
// contextSwitchDuration has elapsed.
func (s *Scheduler) NoteAssignmentChange(agentID string) {
	st := s.stateFor(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.state != StateContextSwitching {
		st.priorState = st.state
	}
	st.state = StateContextSwitching
	st.contextSwitchAt = s.clock.Now()
}

// Preempt requests preemption of an agent's in-flight task. Rejected
// (with the cost reported) if the task is not interruptible.
func (s *Scheduler) Preempt(agentID string) PreemptResult {
	st := s.stateFor(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.current == nil {
		return PreemptResult{Accepted: true, Cost: 0}
	}
	if !st.current.interruptible {
		return PreemptResult{Accepted: false, Cost: st.current.interruptionCost}
	}
	return PreemptResult{Accepted: true, Cost: st.current.interruptionCost}
}

// SetLoad sets an agent's computational_load (0-1).
func (s *Scheduler) SetLoad(agentID string, load float64) {
	st := s.stateFor(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.computationalLoad = load
}

// State returns the agent's current state.
func (s *Scheduler) State(agentID string) State {
	st := s.stateFor(agentID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// EstimateResponse computes the response delay for an incoming
// message per the five-step model in spec.md §4.5, returning whole
// seconds (rounded up, minimum 1) and a textual reason.
func (s *Scheduler) EstimateResponse(agentID, taskType string, complexity float64, priority string, requiresCollaboration bool) (int, string, error) {
	a, err := s.agents.Get(agentID)
	if err != nil {
		return 0, "", err
	}
	st := s.stateFor(agentID)
	st.mu.Lock()
	load := st.computationalLoad
	state := st.state
	st.mu.Unlock()

	reason := "standard processing"
	duration := templateFor(taskType).base(complexity)

	duration *= a.Personality.TimingFactor()
	switch a.Personality {
	case agent.PersonalityPerfectionist:
		reason = "additional validation and quality checks"
	case agent.PersonalityRapidExecutor:
		reason = "optimized execution path"
	case agent.PersonalityThoroughAnalyst:
		reason = "comprehensive analysis and verification"
	case agent.PersonalityCollaborativeOptim:
		reason = "collaboration and consensus building"
	case agent.PersonalityEfficientSpecialist:
		reason = "specialized expertise application"
	}

	if a.Specializations[taskType] {
		duration /= 1.2
		reason += " with specialization efficiency"
	}

	duration *= 1 + 0.5*load
	duration *= stateMultiplier[state]

	if requiresCollaboration && a.Personality == agent.PersonalityCollaborativeOptim {
		duration += 30
		reason += " including collaboration coordination"
	}

	seconds := int(math.Ceil(duration))
	if seconds < 1 {
		seconds = 1
	}
	return seconds, reason, nil
}

// Defer enqueues deliver to run at now+delay, returning control to the
// caller immediately. It is drained by Sweep on each tick.
func (s *Scheduler) Defer(agentID string, delay time.Duration, reason string, deliver func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, &DelayedMessage{
		AgentID:  agentID,
		SendTime: s.clock.Now().Add(delay),
		Reason:   reason,
		Deliver:  deliver,
	})
}

// Sweep drains due delayed messages and returns agents stuck in
// context_switching past their bound to their prior state. Intended to
// run on a periodic tick (≤ 5 s, spec.md §4.5).
func (s *Scheduler) Sweep() {
	now := s.clock.Now()

	s.mu.Lock()
	var due []*DelayedMessage
	var remaining []*DelayedMessage
	for _, m := range s.queue {
		if !m.SendTime.After(now) {
			due = append(due, m)
		} else {
			remaining = append(remaining, m)
		}
	}
	s.queue = remaining
	s.mu.Unlock()

	for _, m := range due {
		m.Deliver()
	}

	s.mu.Lock()
	agentIDs := make([]string, 0, len(s.states))
	for id := range s.states {
		agentIDs = append(agentIDs, id)
	}
	s.mu.Unlock()

	for _, id := range agentIDs {
		st := s.stateFor(id)
		st.mu.Lock()
		if st.state == StateContextSwitching && now.Sub(st.contextSwitchAt) >= contextSwitchDuration {
			st.state = st.priorState
		}
		st.mu.Unlock()
	}
}

func (s *Scheduler) audit(agentID, action, payload string) {
	if s.log == nil {
		return
	}
	r := eventlog.New(s.project, agentID, "resource_state", action, payload)
	s.log.Append(r)
}
