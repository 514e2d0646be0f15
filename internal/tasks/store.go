package tasks

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentforge/coordinator/internal/apierr"
)

// Store persists tasks to SQLite, following the column-per-field,
// JSON-for-sets convention of the teacher's internal/tasks/store.go.
// Writes to a single task are serialized per task id via keyedLocks,
// satisfying spec.md §4.2's "writes to a task must be serialized per
// task id" while reads go straight to the database and may observe
// any point-in-time snapshot.
type Store struct {
	db *sql.DB

	keyMu sync.Mutex
	keys  map[string]*sync.Mutex
}

// NewStore wraps an existing *sql.DB. Init must be called once before use.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, keys: make(map[string]*sync.Mutex)}
}

// Init creates the tasks and task_history tables.
func (s *Store) Init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			created_by TEXT,
			assigned_to TEXT,
			parent_task_id TEXT,
			subtask_ids TEXT,
			dependencies TEXT,
			estimated_hours REAL,
			actual_hours REAL,
			due_date TIMESTAMP,
			required_skills TEXT,
			progress_percent INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(project_id, status);
		CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_to);
		CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS task_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			from_status TEXT,
			to_status TEXT,
			changed_by TEXT,
			reason TEXT,
			changed_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	m, ok := s.keys[id]
	if !ok {
		m = &sync.Mutex{}
		s.keys[id] = m
	}
	return m
}

// withTaskLock serializes f's execution per task id.
func (s *Store) withTaskLock(id string, f func() error) error {
	m := s.lockFor(id)
	m.Lock()
	defer m.Unlock()
	return f()
}

// Save creates or updates a task row (upsert), matching the teacher's
// ON CONFLICT DO UPDATE pattern.
func (s *Store) Save(t *Task) error {
	subtasks, _ := json.Marshal(t.SubtaskIDs)
	deps, _ := json.Marshal(setToSlice(t.Dependencies))
	skills, _ := json.Marshal(setToSlice(t.RequiredSkills))

	_, err := s.db.Exec(`
		INSERT INTO tasks (id, project_id, title, description, type, status, priority, created_by, assigned_to,
			parent_task_id, subtask_ids, dependencies, estimated_hours, actual_hours, due_date, required_skills,
			progress_percent, created_at, updated_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, description=excluded.description, type=excluded.type, status=excluded.status,
			priority=excluded.priority, assigned_to=excluded.assigned_to, parent_task_id=excluded.parent_task_id,
			subtask_ids=excluded.subtask_ids, dependencies=excluded.dependencies, estimated_hours=excluded.estimated_hours,
			actual_hours=excluded.actual_hours, due_date=excluded.due_date, required_skills=excluded.required_skills,
			progress_percent=excluded.progress_percent, updated_at=excluded.updated_at, completed_at=excluded.completed_at
	`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Type, t.Status, t.Priority, t.CreatedBy, nullableStr(t.AssignedTo),
		nullableStr(t.ParentTaskID), string(subtasks), string(deps), t.EstimatedHours, t.ActualHours,
		nullableTime(t.DueDate), string(skills), t.ProgressPercent, t.CreatedAt, t.UpdatedAt, nullableTime(t.CompletedAt),
	)
	return err
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func setToSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sliceToSet(s []string) map[string]bool {
	out := make(map[string]bool, len(s))
	for _, v := range s {
		out[v] = true
	}
	return out
}

var taskColumns = `id, project_id, title, description, type, status, priority, created_by, assigned_to,
	parent_task_id, subtask_ids, dependencies, estimated_hours, actual_hours, due_date, required_skills,
	progress_percent, created_at, updated_at, completed_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*Task, error) {
	var t Task
	var assignedTo, parentID sql.NullString
	var subtasks, deps, skills sql.NullString
	var dueT, completedT sql.NullTime

	err := row.Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Type, &t.Status, &t.Priority, &t.CreatedBy, &assignedTo,
		&parentID, &subtasks, &deps, &t.EstimatedHours, &t.ActualHours, &dueT, &skills,
		&t.ProgressPercent, &t.CreatedAt, &t.UpdatedAt, &completedT,
	)
	if err != nil {
		return nil, err
	}

	if assignedTo.Valid {
		t.AssignedTo = assignedTo.String
	}
	if parentID.Valid {
		t.ParentTaskID = parentID.String
	}
	if dueT.Valid {
		d := dueT.Time
		t.DueDate = &d
	}
	if completedT.Valid {
		c := completedT.Time
		t.CompletedAt = &c
	}

	t.SubtaskIDs = nil
	if subtasks.Valid && subtasks.String != "" {
		json.Unmarshal([]byte(subtasks.String), &t.SubtaskIDs)
	}
	var depSlice, skillSlice []string
	if deps.Valid && deps.String != "" {
		json.Unmarshal([]byte(deps.String), &depSlice)
	}
	if skills.Valid && skills.String != "" {
		json.Unmarshal([]byte(skills.String), &skillSlice)
	}
	t.Dependencies = sliceToSet(depSlice)
	t.RequiredSkills = sliceToSet(skillSlice)

	return &t, nil
}

// GetByID retrieves a task by id.
func (s *Store) GetByID(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.NotFound, "tasks.GetByID", "task not found: "+id)
	}
	return t, err
}

// query runs a SELECT and scans every row into a Task slice.
func (s *Store) query(whereClause string, args ...interface{}) ([]*Task, error) {
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks `+whereClause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListOptions controls listing filters. AllProjects resolves the
// empty-string-sentinel Open Question from spec.md §9 explicitly.
type ListOptions struct {
	ProjectID   string
	AllProjects bool
	AssignedTo  string
	Type        Type
	Status      Status
}

// List returns tasks matching the given filters, ordered by
// (priority, due_date, created_at) with nulls-last, per spec.md §4.2.
func (s *Store) List(opts ListOptions) ([]*Task, error) {
	var clauses []string
	var args []interface{}

	if !opts.AllProjects {
		clauses = append(clauses, "project_id = ?")
		args = append(args, opts.ProjectID)
	}
	if opts.AssignedTo != "" {
		clauses = append(clauses, "assigned_to = ?")
		args = append(args, opts.AssignedTo)
	}
	if opts.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, opts.Status)
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	tasks, err := s.query(where, args...)
	if err != nil {
		return nil, err
	}

	sortTasks(tasks)
	return tasks, nil
}

func sortTasks(tasks []*Task) {
	// priority asc, due_date asc (nulls last), created_at asc
	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0 && taskLess(tasks[j], tasks[j-1]); j-- {
			tasks[j], tasks[j-1] = tasks[j-1], tasks[j]
		}
	}
}

func taskLess(a, b *Task) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	if (a.DueDate == nil) != (b.DueDate == nil) {
		return a.DueDate != nil // non-nil due dates sort before nil
	}
	if a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate) {
		return a.DueDate.Before(*b.DueDate)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// RecordHistory appends a status-transition audit row.
func (s *Store) RecordHistory(taskID string, from, to Status, changedBy, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO task_history (task_id, from_status, to_status, changed_by, reason, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, taskID, from, to, changedBy, reason, time.Now())
	return err
}

func (s *Store) fmtNotFound(op, id string) error {
	return apierr.New(apierr.NotFound, op, fmt.Sprintf("task not found: %s", id))
}
