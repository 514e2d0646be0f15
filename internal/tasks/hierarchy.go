package tasks

import (
	"fmt"
	"time"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/apierr"
)

// Service is the Task Store & Hierarchy component (spec.md §4.2),
// composing the durable Store with the agent Registry. Assign changes
// the agent's workload in the Registry and the task in the Store as two
// separate writes, with no transaction spanning both; if the task write
// fails, Assign undoes the workload change itself.
type Service struct {
	store *Store
	db    *agent.Registry
}

// NewService builds a Task Store & Hierarchy service over a Store and
// the shared agent registry.
func NewService(store *Store, agents *agent.Registry) *Service {
	return &Service{store: store, db: agents}
}

// CreateTask persists a new task, appending it to its parent's
// subtask_ids if ParentTaskID is set, after rejecting creation that
// would introduce a cycle in the parent graph.
func (s *Service) CreateTask(t *Task) error {
	if err := t.Validate(); err != nil {
		return apierr.Wrap(apierr.InvalidArgument, "tasks.CreateTask", "invalid task", err)
	}

	if t.ParentTaskID != "" {
		if err := s.checkNoCycle(t.ID, t.ParentTaskID); err != nil {
			return err
		}
	}

	if err := s.store.Save(t); err != nil {
		return apierr.Wrap(apierr.Internal, "tasks.CreateTask", "failed to persist task", err)
	}

	if t.ParentTaskID != "" {
		parent, err := s.store.GetByID(t.ParentTaskID)
		if err != nil {
			return err
		}
		parent.SubtaskIDs = append(parent.SubtaskIDs, t.ID)
		parent.UpdatedAt = time.Now()
		if err := s.store.Save(parent); err != nil {
			return apierr.Wrap(apierr.Internal, "tasks.CreateTask", "failed to attach to parent", err)
		}
	}

	return nil
}

// checkNoCycle walks upward from candidateParent and fails if newID
// is found in the ancestor chain (i.e. newID is transitively an
// ancestor of candidateParent, which would make candidateParent a
// descendant of the new task it's about to parent).
func (s *Service) checkNoCycle(newID, candidateParent string) error {
	seen := map[string]bool{newID: true}
	cur := candidateParent
	for cur != "" {
		if seen[cur] {
			return apierr.New(apierr.InvalidArgument, "tasks.CreateTask", "parent assignment would introduce a cycle")
		}
		seen[cur] = true
		t, err := s.store.GetByID(cur)
		if err != nil {
			if apierr.Of(err) == apierr.NotFound {
				return nil // dangling parent reference, not our problem here
			}
			return err
		}
		cur = t.ParentTaskID
	}
	return nil
}

// LinkDependency adds a dependency edge task -> dependsOn, rejecting
// it if it would introduce a cycle in the dependency graph.
func (s *Service) LinkDependency(taskID, dependsOn string) error {
	if taskID == dependsOn {
		return apierr.New(apierr.InvalidArgument, "tasks.LinkDependency", "a task cannot depend on itself")
	}

	if err := s.checkNoDependencyCycle(taskID, dependsOn); err != nil {
		return err
	}

	return s.store.withTaskLock(taskID, func() error {
		t, err := s.store.GetByID(taskID)
		if err != nil {
			return err
		}
		t.Dependencies[dependsOn] = true
		t.UpdatedAt = time.Now()
		return s.store.Save(t)
	})
}

func (s *Service) checkNoDependencyCycle(taskID, dependsOn string) error {
	seen := map[string]bool{taskID: true}
	queue := []string{dependsOn}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			return apierr.New(apierr.InvalidArgument, "tasks.LinkDependency", "dependency would introduce a cycle")
		}
		seen[cur] = true
		t, err := s.store.GetByID(cur)
		if err != nil {
			if apierr.Of(err) == apierr.NotFound {
				continue
			}
			return err
		}
		for dep := range t.Dependencies {
			queue = append(queue, dep)
		}
	}
	return nil
}

// UpdateProgress clamps progress to [0,100], flips status to
// completed with completed_at stamped when progress reaches 100, then
// recursively recomputes every ancestor's progress as the mean of its
// children's, marking an ancestor completed when all its children
// are. Recursion terminates at the root because the task graph is a
// tree (spec.md §4.2).
func (s *Service) UpdateProgress(taskID string, progress int, status *Status, actualHours *float64) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	return s.store.withTaskLock(taskID, func() error {
		t, err := s.store.GetByID(taskID)
		if err != nil {
			return err
		}

		t.ProgressPercent = progress
		if status != nil {
			t.Status = *status
		}
		if actualHours != nil {
			t.ActualHours = *actualHours
		}
		if progress == 100 {
			t.Status = StatusCompleted
			now := time.Now()
			t.CompletedAt = &now
		}
		t.UpdatedAt = time.Now()

		if err := s.store.Save(t); err != nil {
			return apierr.Wrap(apierr.Internal, "tasks.UpdateProgress", "failed to persist task", err)
		}

		return s.rollupAncestors(t.ParentTaskID)
	})
}

// rollupAncestors recomputes progress/status up the parent chain.
// Each ancestor is locked individually by id, so a concurrent sibling
// update can interleave safely — the rollup always re-reads current
// children state rather than trusting an in-memory value.
func (s *Service) rollupAncestors(parentID string) error {
	for parentID != "" {
		var nextParent string
		err := s.store.withTaskLock(parentID, func() error {
			parent, err := s.store.GetByID(parentID)
			if err != nil {
				return err
			}

			if len(parent.SubtaskIDs) == 0 {
				nextParent = parent.ParentTaskID
				return nil
			}

			sum := 0
			allCompleted := true
			for _, childID := range parent.SubtaskIDs {
				child, err := s.store.GetByID(childID)
				if err != nil {
					return err
				}
				sum += child.ProgressPercent
				if child.Status != StatusCompleted {
					allCompleted = false
				}
			}
			mean := int(roundHalfAwayFromZero(float64(sum) / float64(len(parent.SubtaskIDs))))

			parent.ProgressPercent = mean
			if allCompleted {
				parent.Status = StatusCompleted
				if parent.CompletedAt == nil {
					now := time.Now()
					parent.CompletedAt = &now
				}
			} else if parent.Status == StatusCompleted {
				// Regression: a previously-completed parent now has an
				// incomplete child (e.g. progress was revised down).
				parent.Status = StatusInProgress
				parent.CompletedAt = nil
			}
			parent.UpdatedAt = time.Now()

			if err := s.store.Save(parent); err != nil {
				return err
			}
			nextParent = parent.ParentTaskID
			return nil
		})
		if err != nil {
			return err
		}
		parentID = nextParent
	}
	return nil
}

func roundHalfAwayFromZero(f float64) float64 {
	if f >= 0 {
		return float64(int(f + 0.5))
	}
	return float64(int(f - 0.5))
}

// Assign assigns a task to an agent: sets assigned_to and
// status=assigned on the task, then adds estimated_hours to the
// agent's current_workload. The task row lives in sqlite; the agent
// registry is an in-memory map, so the two writes can't share a
// single SQL transaction. If the workload adjustment fails after the
// task write lands, Assign compensates by writing the task back to
// its prior state and surfaces a combined error if that rollback
// write itself fails, rather than leaving a task claiming assignment
// with no matching workload delta (Design Note in spec.md §9).
func (s *Service) Assign(taskID, agentID, assignedBy, reason string) error {
	return s.store.withTaskLock(taskID, func() error {
		t, err := s.store.GetByID(taskID)
		if err != nil {
			return err
		}

		a, err := s.db.Get(agentID)
		if err != nil {
			return err
		}
		if a.CurrentWorkload+t.EstimatedHours > a.MaxWorkload {
			return apierr.New(apierr.CapacityExceeded, "tasks.Assign",
				fmt.Sprintf("assigning %s would exceed %s's max workload", taskID, agentID))
		}

		// Task before agent, per spec.md §5's fixed lock order for
		// cross-shard writes.
		prevStatus := t.Status
		t.AssignedTo = agentID
		t.Status = StatusAssigned
		t.UpdatedAt = time.Now()
		if err := t.Validate(); err != nil {
			return apierr.Wrap(apierr.InvalidArgument, "tasks.Assign", "invalid resulting task state", err)
		}

		if err := s.store.Save(t); err != nil {
			return apierr.Wrap(apierr.Internal, "tasks.Assign", "failed to persist task", err)
		}

		if err := s.db.AdjustWorkload(agentID, t.EstimatedHours); err != nil {
			// Compensate: the workload delta never landed, so the
			// task must not claim to be assigned.
			t.AssignedTo = ""
			t.Status = prevStatus
			if rollbackErr := s.store.Save(t); rollbackErr != nil {
				return apierr.Wrap(apierr.Internal, "tasks.Assign",
					fmt.Sprintf("workload adjustment failed (%v) and rollback save also failed, task %s may be left inconsistent", err, taskID),
					rollbackErr)
			}
			return err
		}

		return s.store.RecordHistory(taskID, prevStatus, StatusAssigned, assignedBy, reason)
	})
}

// GetHierarchy returns the root-first parent chain and the task's
// immediate children along with their completion counts.
type Hierarchy struct {
	Chain           []*Task
	Children        []*Task
	CompletedCount  int
	TotalChildCount int
}

func (s *Service) GetHierarchy(taskID string) (*Hierarchy, error) {
	t, err := s.store.GetByID(taskID)
	if err != nil {
		return nil, err
	}

	var chain []*Task
	cur := t
	for cur.ParentTaskID != "" {
		parent, err := s.store.GetByID(cur.ParentTaskID)
		if err != nil {
			break
		}
		chain = append([]*Task{parent}, chain...)
		cur = parent
	}

	var children []*Task
	completed := 0
	for _, childID := range t.SubtaskIDs {
		child, err := s.store.GetByID(childID)
		if err != nil {
			continue
		}
		children = append(children, child)
		if child.Status == StatusCompleted {
			completed++
		}
	}

	return &Hierarchy{
		Chain:           chain,
		Children:        children,
		CompletedCount:  completed,
		TotalChildCount: len(children),
	}, nil
}

// List delegates to the Store's filtered, sorted listing.
func (s *Service) List(opts ListOptions) ([]*Task, error) {
	return s.store.List(opts)
}

// Get returns a single task.
func (s *Service) Get(id string) (*Task, error) {
	return s.store.GetByID(id)
}
