// Package eventlog implements the Event Log (spec.md §4.8): an
// append-only, SQLite-persisted record of structured interactions
// keyed by (project, agent, kind), with time-range, filtered, and
// free-text queries. Grounded in the teacher's internal/events
// package: Event/EventType's field shape and SQLiteStore's
// column-per-field schema are kept, generalized from the teacher's
// delivery-queue semantics (delivered_at, GetPending) to an
// audit/query log (no delivery tracking — every write is terminal).
package eventlog

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/coordinator/internal/apierr"
)

// Level is the severity of a logged record.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Record is one append-only Event Log entry (spec.md §4.8).
type Record struct {
	ID        string
	Timestamp time.Time
	Project   string
	Agent     string
	Kind      string
	Action    string
	Content   string
	Context   map[string]interface{}
	Metadata  map[string]string
	Level     Level
	ParentID  string
	SessionID string
}

// New builds a Record with a fresh id and the current timestamp.
func New(project, agent, kind, action, content string) *Record {
	return &Record{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Project:   project,
		Agent:     agent,
		Kind:      kind,
		Action:    action,
		Content:   content,
		Context:   map[string]interface{}{},
		Metadata:  map[string]string{},
		Level:     LevelInfo,
	}
}

// Log is the durable, queryable Event Log backed by SQLite.
type Log struct {
	db *sql.DB
}

// NewLog wraps an existing *sql.DB. Init must be called once before use.
func NewLog(db *sql.DB) *Log {
	return &Log{db: db}
}

// Init creates the event_log table and its indexes.
func (l *Log) Init() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS event_log (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			project TEXT NOT NULL,
			agent TEXT NOT NULL,
			kind TEXT NOT NULL,
			action TEXT NOT NULL,
			content TEXT,
			context TEXT,
			metadata TEXT,
			level TEXT NOT NULL,
			parent_id TEXT,
			session_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_event_log_project_agent_kind ON event_log(project, agent, kind);
		CREATE INDEX IF NOT EXISTS idx_event_log_timestamp ON event_log(timestamp);
	`)
	return err
}

// Append writes a record, acknowledging only once the row is durably
// committed — callers for audit-critical operations (approvals,
// assignments, lock grants) must wait on this before reporting their
// own operation complete, per spec.md §4.8.
func (l *Log) Append(r *Record) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	if r.Level == "" {
		r.Level = LevelInfo
	}

	ctxJSON, err := json.Marshal(r.Context)
	if err != nil {
		return apierr.Wrap(apierr.InvalidArgument, "eventlog.Append", "context not serializable", err)
	}
	metaJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		return apierr.Wrap(apierr.InvalidArgument, "eventlog.Append", "metadata not serializable", err)
	}

	_, err = l.db.Exec(`
		INSERT INTO event_log (id, timestamp, project, agent, kind, action, content, context, metadata, level, parent_id, session_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		r.ID, r.Timestamp, r.Project, r.Agent, r.Kind, r.Action, r.Content,
		string(ctxJSON), string(metaJSON), r.Level, nullableStr(r.ParentID), nullableStr(r.SessionID),
	)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "eventlog.Append", "failed to persist record", err)
	}
	return nil
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Query filters Event Log records. A zero-value field is unfiltered
// on that dimension. Search, if non-empty, matches Content or Action
// as a case-insensitive substring.
type Query struct {
	Project  string
	Agent    string
	Kind     string
	Since    *time.Time
	Until    *time.Time
	Search   string
	Limit    int
}

// Find returns records matching q, newest-first.
func (l *Log) Find(q Query) ([]*Record, error) {
	var clauses []string
	var args []interface{}

	if q.Project != "" {
		clauses = append(clauses, "project = ?")
		args = append(args, q.Project)
	}
	if q.Agent != "" {
		clauses = append(clauses, "agent = ?")
		args = append(args, q.Agent)
	}
	if q.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, q.Kind)
	}
	if q.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, *q.Since)
	}
	if q.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, *q.Until)
	}
	if q.Search != "" {
		clauses = append(clauses, "(content LIKE ? OR action LIKE ?)")
		like := "%" + q.Search + "%"
		args = append(args, like, like)
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	query := `SELECT id, timestamp, project, agent, kind, action, content, context, metadata, level, parent_id, session_id
		FROM event_log ` + where + ` ORDER BY timestamp DESC`
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "eventlog.Find", "query failed", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var r Record
	var ctxJSON, metaJSON string
	var parentID, sessionID sql.NullString

	err := row.Scan(&r.ID, &r.Timestamp, &r.Project, &r.Agent, &r.Kind, &r.Action, &r.Content,
		&ctxJSON, &metaJSON, &r.Level, &parentID, &sessionID)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		r.ParentID = parentID.String
	}
	if sessionID.Valid {
		r.SessionID = sessionID.String
	}
	r.Context = map[string]interface{}{}
	if ctxJSON != "" {
		json.Unmarshal([]byte(ctxJSON), &r.Context)
	}
	r.Metadata = map[string]string{}
	if metaJSON != "" {
		json.Unmarshal([]byte(metaJSON), &r.Metadata)
	}

	return &r, nil
}
