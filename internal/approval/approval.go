// Package approval implements the Approval Engine (spec.md §4.6):
// routing decision requests to an approver with sufficient authority,
// escalating on timeout or when an approver's authority is
// insufficient. Grounded in
// original_source/organizational_hierarchy.py's OrganizationalHierarchy
// (approval matrix, budget thresholds, reporting-chain walk), adapted
// to spec.md's "current_approver has authority >= required level"
// invariant rather than the original's exact-level match.
package approval

import (
	"sort"
	"sync"
	"time"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/apierr"
	"github.com/agentforge/coordinator/internal/clock"
	"github.com/agentforge/coordinator/internal/eventlog"
	"github.com/google/uuid"
)

// DecisionType classifies the request, selecting which row of the
// approval matrix applies (organizational_hierarchy.py's DecisionType).
type DecisionType string

const (
	Strategic  DecisionType = "strategic"
	Budget     DecisionType = "budget"
	Hiring     DecisionType = "hiring"
	Operational DecisionType = "operational"
	Technical  DecisionType = "technical"
	Policy     DecisionType = "policy"
	Emergency  DecisionType = "emergency"
)

// approvalMatrix lists the authority levels empowered to decide each
// decision type, mirroring _setup_approval_matrix exactly. The
// required level is the lowest (least-authority) entry in the list,
// since any of the listed levels may approve.
var approvalMatrix = map[DecisionType][]agent.Role{
	Strategic:   {agent.RoleExecutive},
	Budget:      {agent.RoleSeniorManagement, agent.RoleExecutive},
	Hiring:      {agent.RoleSeniorManagement, agent.RoleExecutive},
	Operational: {agent.RoleMiddleManagement, agent.RoleSeniorManagement, agent.RoleExecutive},
	Technical:   {agent.RoleMiddleManagement, agent.RoleSeniorManagement, agent.RoleExecutive},
	Policy:      {agent.RoleExecutive},
	Emergency:   {agent.RoleMiddleManagement, agent.RoleSeniorManagement, agent.RoleExecutive},
}

func lowestOf(levels []agent.Role) agent.Role {
	lowest := agent.RoleExecutive
	for _, r := range levels {
		if lowest.Outranks(r) {
			lowest = r
		}
	}
	return lowest
}

// RequiredLevel determines the minimum authority level needed to
// decide a request, per _get_required_approval_level: budget requests
// scale with amount, everything else consults the fixed matrix.
func RequiredLevel(decisionType DecisionType, amount *float64) agent.Role {
	if decisionType == Budget && amount != nil && *amount > 0 {
		switch {
		case *amount > 100000:
			return agent.RoleExecutive
		case *amount > 25000:
			return agent.RoleSeniorManagement
		case *amount > 5000:
			return agent.RoleMiddleManagement
		default:
			return agent.RoleIndividualContrib
		}
	}
	levels, ok := approvalMatrix[decisionType]
	if !ok {
		return agent.RoleExecutive
	}
	return lowestOf(levels)
}

// Status is a request's lifecycle state (spec.md §3 Approval Request).
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusEscalated Status = "escalated"
)

// Request is an Approval Request (spec.md §3): current_approver has
// authority >= RequiredLevel for (DecisionType, Amount).
type Request struct {
	ID              string
	Requester       string
	DecisionType    DecisionType
	Title           string
	Description     string
	Justification   string
	Amount          *float64
	Priority        string
	RequiredLevel   agent.Role
	CurrentApprover string
	Chain           []string // agent ids already traversed, requester first
	Status          Status
	Reasoning       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Deadline        time.Time
}

// EscalationRule is a declared background trigger (spec.md §4.6:
// "e.g. budget not reviewed within 24 h"), grounded in
// organizational_hierarchy.py's escalation_rules seed data.
type EscalationRule struct {
	Name         string
	DecisionType DecisionType
	Unreviewed   time.Duration // fires if still pending this long since CreatedAt
	Reason       string
}

// DefaultEscalationRules mirrors the canonical example trigger in
// organizational_hierarchy.py and spec.md §4.6: a budget request not
// reviewed within 24 hours escalates toward executive authority.
var DefaultEscalationRules = []EscalationRule{
	{Name: "budget_review_timeout", DecisionType: Budget, Unreviewed: 24 * time.Hour, Reason: "budget request not reviewed within 24 hours"},
	{Name: "emergency_immediate", DecisionType: Emergency, Unreviewed: time.Hour, Reason: "emergency request not reviewed within 1 hour"},
}

// Engine routes, decides, and escalates approval requests.
type Engine struct {
	agents *agent.Registry
	log    *eventlog.Log
	clock  clock.Clock
	project string
	rules  []EscalationRule

	mu       sync.Mutex
	requests map[string]*Request
}

// NewEngine builds an Approval Engine over the shared agent registry.
// rules may be nil, in which case DefaultEscalationRules is used.
func NewEngine(project string, agents *agent.Registry, log *eventlog.Log, c clock.Clock, rules []EscalationRule) *Engine {
	if rules == nil {
		rules = DefaultEscalationRules
	}
	return &Engine{
		agents:   agents,
		log:      log,
		clock:    c,
		project:  project,
		rules:    rules,
		requests: make(map[string]*Request),
	}
}

// findApprover walks requester's reporting chain for the first agent
// whose authority >= required; falling back to a full-registry scan
// if nobody in the chain qualifies (spec.md §4.6).
func (e *Engine) findApprover(requester string, required agent.Role) (string, error) {
	chain, err := e.agents.ReportingChain(requester)
	if err != nil {
		return "", err
	}
	for _, id := range chain {
		a, err := e.agents.Get(id)
		if err != nil {
			continue
		}
		if a.Role.Outranks(required) {
			return a.ID, nil
		}
	}
	for _, a := range e.agents.All() {
		if a.Role.Outranks(required) {
			return a.ID, nil
		}
	}
	return "", apierr.New(apierr.NotFound, "approval.Request", "NoApprover: no agent with sufficient authority")
}

// Request files a new decision request and routes it to the
// lowest-level qualified approver.
func (e *Engine) Request(requester string, decisionType DecisionType, title, description, justification string, amount *float64, priority string) (string, error) {
	if _, err := e.agents.Get(requester); err != nil {
		return "", err
	}
	required := RequiredLevel(decisionType, amount)
	approver, err := e.findApprover(requester, required)
	if err != nil {
		return "", err
	}

	now := e.clock.Now()
	r := &Request{
		ID:              uuid.NewString(),
		Requester:       requester,
		DecisionType:    decisionType,
		Title:           title,
		Description:     description,
		Justification:   justification,
		Amount:          amount,
		Priority:        priority,
		RequiredLevel:   required,
		CurrentApprover: approver,
		Chain:           []string{requester},
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		Deadline:        now.Add(24 * time.Hour),
	}

	e.mu.Lock()
	e.requests[r.ID] = r
	e.mu.Unlock()

	e.audit(requester, "request", r.ID)
	return r.ID, nil
}

func (e *Engine) get(requestID string) (*Request, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.requests[requestID]
	if !ok {
		return nil, apierr.New(apierr.NotFound, "approval.get", "request not found: "+requestID)
	}
	return r, nil
}

// actionable reports whether a request can still be decided: pending
// requests obviously, and escalated ones too (escalated only marks
// that a rule or agent bumped the approver at least once, it is not
// terminal the way approved/rejected are).
func actionable(s Status) bool {
	return s == StatusPending || s == StatusEscalated
}

// Approve decides a request in favor of the requester. Fails if
// approver is not the current_approver, or escalates automatically if
// the approver's authority is (now) insufficient.
func (e *Engine) Approve(approver, requestID, reasoning string) (bool, error) {
	e.mu.Lock()
	r, ok := e.requests[requestID]
	if !ok {
		e.mu.Unlock()
		return false, apierr.New(apierr.NotFound, "approval.Approve", "request not found: "+requestID)
	}
	if !actionable(r.Status) {
		e.mu.Unlock()
		return false, apierr.New(apierr.Conflict, "approval.Approve", "request is not pending")
	}
	if r.CurrentApprover != approver {
		e.mu.Unlock()
		return false, apierr.New(apierr.PermissionDenied, "approval.Approve", "approver is not the current approver")
	}
	e.mu.Unlock()

	a, err := e.agents.Get(approver)
	if err != nil {
		return false, err
	}
	if !a.Role.Outranks(r.RequiredLevel) {
		return false, e.Escalate(requestID, "insufficient authority level")
	}

	e.mu.Lock()
	r.Status = StatusApproved
	r.Reasoning = reasoning
	r.Chain = append(r.Chain, approver)
	r.UpdatedAt = e.clock.Now()
	e.mu.Unlock()

	e.audit(approver, "approve", requestID)
	return true, nil
}

// Reject decides a request against the requester.
func (e *Engine) Reject(approver, requestID, reasoning string) (bool, error) {
	e.mu.Lock()
	r, ok := e.requests[requestID]
	if !ok {
		e.mu.Unlock()
		return false, apierr.New(apierr.NotFound, "approval.Reject", "request not found: "+requestID)
	}
	if !actionable(r.Status) {
		e.mu.Unlock()
		return false, apierr.New(apierr.Conflict, "approval.Reject", "request is not pending")
	}
	if r.CurrentApprover != approver {
		e.mu.Unlock()
		return false, apierr.New(apierr.PermissionDenied, "approval.Reject", "approver is not the current approver")
	}
	r.Status = StatusRejected
	r.Reasoning = reasoning
	r.Chain = append(r.Chain, approver)
	r.UpdatedAt = e.clock.Now()
	e.mu.Unlock()

	e.audit(approver, "reject", requestID)
	return true, nil
}

// Escalate bumps current_approver to that approver's own reports_to.
// Fails with CannotEscalate if the current approver has no manager.
func (e *Engine) Escalate(requestID, reason string) error {
	r, err := e.get(requestID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if !actionable(r.Status) {
		e.mu.Unlock()
		return apierr.New(apierr.Conflict, "approval.Escalate", "request is not pending")
	}
	current := r.CurrentApprover
	e.mu.Unlock()

	a, err := e.agents.Get(current)
	if err != nil {
		return err
	}
	if a.ReportsTo == "" {
		return apierr.New(apierr.Conflict, "approval.Escalate", "CannotEscalate: current approver has no manager")
	}

	e.mu.Lock()
	r.CurrentApprover = a.ReportsTo
	r.Status = StatusEscalated
	r.Reasoning = reason
	r.Chain = append(r.Chain, a.ReportsTo)
	r.UpdatedAt = e.clock.Now()
	e.mu.Unlock()

	e.audit(current, "escalate", reason)
	return nil
}

// Get returns the current state of a request.
func (e *Engine) Get(requestID string) (*Request, error) {
	return e.get(requestID)
}

// List returns every request for this project, sorted by id, for
// monitoring snapshots.
func (e *Engine) List() []*Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Request, 0, len(e.requests))
	for _, r := range e.requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sweep evaluates declared escalation rules against every actionable
// request, escalating each request at most once per sweep (the first
// matching rule decides) (spec.md §4.6 scenario 4: a budget request whose current_approver
// already has no higher authority to escalate to still transitions to
// escalated on timeout, with current_approver left unchanged and
// reason "timeout" — distinct from Escalate's hard CannotEscalate
// failure, which is for an agent explicitly requesting escalation).
func (e *Engine) Sweep() {
	now := e.clock.Now()

	e.mu.Lock()
	var due []*Request
	for _, r := range e.requests {
		if !actionable(r.Status) {
			continue
		}
		for _, rule := range e.rules {
			if rule.DecisionType == r.DecisionType && now.Sub(r.CreatedAt) >= rule.Unreviewed {
				due = append(due, r)
				break
			}
		}
	}
	e.mu.Unlock()

	for _, r := range due {
		if err := e.Escalate(r.ID, "timeout"); err != nil {
			e.mu.Lock()
			r.Status = StatusEscalated
			r.Reasoning = "timeout"
			r.UpdatedAt = now
			e.mu.Unlock()
			e.audit(r.CurrentApprover, "escalate_timeout", "timeout")
		}
	}
}

func (e *Engine) audit(agentID, action, payload string) {
	if e.log == nil {
		return
	}
	e.log.Append(eventlog.New(e.project, agentID, "approval", action, payload))
}
