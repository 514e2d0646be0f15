// Package tasks implements the Task Store & Hierarchy component
// (spec.md §4.2): CRUD and hierarchy queries over tasks, progress
// rollup, and the assign operation. Grounded in the teacher's
// internal/tasks package (types.go's status/transition model,
// queue.go's priority ordering, store.go's SQLite persistence
// conventions), generalized to the richer task model spec.md §3
// requires (parent/child hierarchy, dependency set, progress rollup,
// skills).
package tasks

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the task's kind (spec.md §3).
type Type string

const (
	TypeEpic     Type = "epic"
	TypeStory    Type = "story"
	TypeTask     Type = "task"
	TypeSubtask  Type = "subtask"
	TypeBug      Type = "bug"
	TypeResearch Type = "research"
)

// Status is the task's lifecycle state (spec.md §3).
type Status string

const (
	StatusDraft      Status = "draft"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusReview     Status = "review"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Priority is the task's scheduling priority (spec.md §3).
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// priorityRank orders priorities for sort comparisons (lower rank
// sorts first, matching the teacher's "lower number = higher
// priority" ordering in internal/tasks/queue.go, generalized to the
// spec's named priority levels).
var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Rank returns the sortable ordinal of the priority.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// Task is a unit of work (spec.md §3).
type Task struct {
	ID              string
	ProjectID       string
	Title           string
	Description     string
	Type            Type
	Status          Status
	Priority        Priority
	CreatedBy       string
	AssignedTo      string
	ParentTaskID    string
	SubtaskIDs      []string
	Dependencies    map[string]bool
	EstimatedHours  float64
	ActualHours     float64
	DueDate         *time.Time
	RequiredSkills  map[string]bool
	ProgressPercent int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// New creates a task with a fresh id and draft status.
func New(projectID, title, description string, typ Type, priority Priority, createdBy string) *Task {
	now := time.Now()
	return &Task{
		ID:             "task-" + uuid.New().String(),
		ProjectID:      projectID,
		Title:          title,
		Description:    description,
		Type:           typ,
		Status:         StatusDraft,
		Priority:       priority,
		CreatedBy:      createdBy,
		Dependencies:   map[string]bool{},
		RequiredSkills: map[string]bool{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks field-level invariants independent of the store.
func (t *Task) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if t.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if t.ProgressPercent < 0 || t.ProgressPercent > 100 {
		return fmt.Errorf("progress_percentage must be within [0,100]")
	}
	if t.Status == StatusCompleted && t.ProgressPercent != 100 {
		return fmt.Errorf("completed task must have progress_percentage = 100")
	}
	return nil
}

// IsLeaf reports whether the task has no subtasks.
func (t *Task) IsLeaf() bool { return len(t.SubtaskIDs) == 0 }

// Clone returns a deep-enough copy safe to hand across package
// boundaries.
func (t *Task) Clone() *Task {
	cp := *t
	cp.SubtaskIDs = append([]string(nil), t.SubtaskIDs...)
	cp.Dependencies = cloneSet(t.Dependencies)
	cp.RequiredSkills = cloneSet(t.RequiredSkills)
	if t.DueDate != nil {
		d := *t.DueDate
		cp.DueDate = &d
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		cp.CompletedAt = &c
	}
	return &cp
}

func cloneSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
