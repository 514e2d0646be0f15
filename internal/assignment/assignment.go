// Package assignment implements the Assignment Engine (spec.md §4.3):
// pluggable scoring algorithms that match an unassigned task to the
// best eligible agent. Grounded in the teacher's internal/captain
// dispatch logic (captain.go's worker-selection loop, which filters
// eligible workers before ranking them), generalized to the four
// named scoring algorithms and their exact formulas.
package assignment

import (
	"sort"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/tasks"
)

// Algorithm selects which scoring formula auto_assign uses.
type Algorithm string

const (
	SkillBased         Algorithm = "skill_based"
	WorkloadBalanced   Algorithm = "workload_balanced"
	HierarchyAware     Algorithm = "hierarchy_aware" // default
	ExperienceWeighted Algorithm = "experience_weighted"
)

// complexity maps a task type to its numeric complexity weight, used
// by hierarchy_aware's hierarchy-level term.
var complexity = map[tasks.Type]float64{
	tasks.TypeEpic:     10,
	tasks.TypeStory:    7,
	tasks.TypeBug:      4,
	tasks.TypeTask:     5,
	tasks.TypeSubtask:  3,
	tasks.TypeResearch: 6,
}

func complexityOf(t tasks.Type) float64 {
	if c, ok := complexity[t]; ok {
		return c
	}
	return 5 // task's own default
}

var priorityFactor = map[tasks.Priority]float64{
	tasks.PriorityCritical: 1.2,
	tasks.PriorityHigh:     1.1,
	tasks.PriorityMedium:   1.0,
	tasks.PriorityLow:      0.9,
}

func priorityFactorOf(p tasks.Priority) float64 {
	if f, ok := priorityFactor[p]; ok {
		return f
	}
	return 1.0
}

// Engine selects agents for tasks via the four pluggable algorithms.
type Engine struct {
	agents *agent.Registry
}

// NewEngine builds an Assignment Engine over the shared agent registry.
func NewEngine(agents *agent.Registry) *Engine {
	return &Engine{agents: agents}
}

// AutoAssign returns the id of the best eligible agent for t under
// algo, or "" if none is eligible. All four algorithms are total: they
// either produce a candidate or report none, they never error on a
// non-empty, correctly-filtered agent pool.
func (e *Engine) AutoAssign(t *tasks.Task, algo Algorithm) string {
	eligible := e.eligibleAgents(t)
	if len(eligible) == 0 {
		return ""
	}

	switch algo {
	case SkillBased:
		return skillBased(t, eligible)
	case WorkloadBalanced:
		return workloadBalanced(t, eligible)
	case ExperienceWeighted:
		return experienceWeighted(t, eligible)
	default:
		return hierarchyAware(t, eligible)
	}
}

// eligibleAgents applies the shared eligibility filter
// (current_workload < max_workload) and returns agents sorted by id
// so tie-breaks are deterministic regardless of registry iteration
// order.
func (e *Engine) eligibleAgents(t *tasks.Task) []*agent.Agent {
	all := e.agents.All()
	out := make([]*agent.Agent, 0, len(all))
	for _, a := range all {
		if a.CurrentWorkload < a.MaxWorkload {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func skillMatchMean(requiredSkills map[string]bool, a *agent.Agent) float64 {
	if len(requiredSkills) == 0 {
		return 0
	}
	sum := 0
	for skill := range requiredSkills {
		sum += a.SkillLevels[skill]
	}
	return float64(sum) / float64(len(requiredSkills))
}

func skillMatchFraction(requiredSkills map[string]bool, a *agent.Agent) float64 {
	if len(requiredSkills) == 0 {
		return 1
	}
	present := 0
	for skill := range requiredSkills {
		if a.Skills[skill] {
			present++
		}
	}
	return float64(present) / float64(len(requiredSkills))
}

func hasAnyRequiredSkill(requiredSkills map[string]bool, a *agent.Agent) bool {
	if len(requiredSkills) == 0 {
		return true
	}
	for skill := range requiredSkills {
		if a.Skills[skill] {
			return true
		}
	}
	return false
}

// skillBased: score = mean over task.required_skills of
// agent.skill_levels[skill] (absent skill contributes 0); tie-break by
// lower current_workload. Requires at least one required-skill match
// when required skills are non-empty.
func skillBased(t *tasks.Task, eligible []*agent.Agent) string {
	var best *agent.Agent
	bestScore := -1.0
	for _, a := range eligible {
		if len(t.RequiredSkills) > 0 && !hasAnyRequiredSkill(t.RequiredSkills, a) {
			continue
		}
		score := skillMatchMean(t.RequiredSkills, a)
		if best == nil || score > bestScore ||
			(score == bestScore && a.CurrentWorkload < best.CurrentWorkload) {
			best, bestScore = a, score
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// workloadBalanced: among agents possessing any required skill, pick
// the lowest current_workload/max_workload ratio.
func workloadBalanced(t *tasks.Task, eligible []*agent.Agent) string {
	var best *agent.Agent
	bestRatio := 2.0 // > any valid ratio in [0,1)
	for _, a := range eligible {
		if !hasAnyRequiredSkill(t.RequiredSkills, a) {
			continue
		}
		ratio := loadRatio(a)
		if best == nil || ratio < bestRatio {
			best, bestRatio = a, ratio
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

func loadRatio(a *agent.Agent) float64 {
	if a.MaxWorkload <= 0 {
		return 1
	}
	return a.CurrentWorkload / a.MaxWorkload
}

// hierarchyAware: score = 0.4·skill_match + 0.3·min(hierarchy_level/(10·c),1)
// + 0.3·max(0,1−load_ratio), multiplied by the task's priority factor.
func hierarchyAware(t *tasks.Task, eligible []*agent.Agent) string {
	c := complexityOf(t.Type)
	pf := priorityFactorOf(t.Priority)

	var best *agent.Agent
	bestScore := -1.0
	for _, a := range eligible {
		skillMatch := skillMatchFraction(t.RequiredSkills, a)
		hierarchyTerm := minF(float64(a.HierarchyLevel)/(10*c), 1)
		loadTerm := maxF(0, 1-loadRatio(a))
		score := (0.4*skillMatch + 0.3*hierarchyTerm + 0.3*loadTerm) * pf

		if best == nil || score > bestScore {
			best, bestScore = a, score
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// experienceWeighted: weighted combination of skill sum,
// completion_rate, quality_score, hierarchy_level, multiplied by
// speed_factor.
func experienceWeighted(t *tasks.Task, eligible []*agent.Agent) string {
	var best *agent.Agent
	bestScore := -1.0
	for _, a := range eligible {
		skillSum := 0.0
		for skill := range t.RequiredSkills {
			skillSum += float64(a.SkillLevels[skill])
		}
		score := (0.3*skillSum + 0.3*a.CompletionRate + 0.2*a.QualityScore + 0.2*float64(a.HierarchyLevel)/100) * a.SpeedFactor

		if best == nil || score > bestScore {
			best, bestScore = a, score
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
