package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// dbctl is a small external script for scraping the coordinator's
// sqlite store directly — useful from shell tooling that doesn't want
// to link the Go module. It only reads; mutations go through the
// substrate's own API so its invariants (serialized writes, event
// logging, alerting) aren't bypassed.
func main() {
	dbPath := flag.String("db", "data/coordinator.db", "Path to the coordinator's SQLite database")
	action := flag.String("action", "", "Action to perform: get-task, agent-tasks, tail-events")
	taskID := flag.String("task", "", "Task id (for get-task)")
	agentID := flag.String("agent", "", "Agent id (for agent-tasks, tail-events)")
	limit := flag.Int("limit", 20, "Row limit (for agent-tasks, tail-events)")
	flag.Parse()

	if *action == "" {
		fmt.Fprintf(os.Stderr, "Usage: dbctl -db <path> -action <action> [-task <id>] [-agent <id>] [-limit <n>]\n")
		fmt.Fprintf(os.Stderr, "Actions: get-task, agent-tasks, tail-events\n")
		os.Exit(1)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", *dbPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch *action {
	case "get-task":
		if *taskID == "" {
			fmt.Fprintln(os.Stderr, "get-task requires -task")
			os.Exit(1)
		}
		row, err := getTask(db, *taskID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to get task: %v\n", err)
			os.Exit(1)
		}
		json.NewEncoder(os.Stdout).Encode(row)

	case "agent-tasks":
		if *agentID == "" {
			fmt.Fprintln(os.Stderr, "agent-tasks requires -agent")
			os.Exit(1)
		}
		rows, err := agentTasks(db, *agentID, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list tasks: %v\n", err)
			os.Exit(1)
		}
		json.NewEncoder(os.Stdout).Encode(rows)

	case "tail-events":
		if *agentID == "" {
			fmt.Fprintln(os.Stderr, "tail-events requires -agent")
			os.Exit(1)
		}
		rows, err := tailEvents(db, *agentID, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to tail events: %v\n", err)
			os.Exit(1)
		}
		json.NewEncoder(os.Stdout).Encode(rows)

	default:
		fmt.Fprintf(os.Stderr, "Unknown action: %s\n", *action)
		os.Exit(1)
	}
}

type taskRow struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Priority   string  `json:"priority"`
	AssignedTo *string `json:"assigned_to"`
	Progress   int     `json:"progress_percent"`
}

func getTask(db *sql.DB, id string) (*taskRow, error) {
	var t taskRow
	var assignedTo sql.NullString
	err := db.QueryRow(`SELECT id, project_id, title, status, priority, assigned_to, progress_percent
		FROM tasks WHERE id = ?`, id).Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Status, &t.Priority, &assignedTo, &t.Progress,
	)
	if err != nil {
		return nil, err
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.String
	}
	return &t, nil
}

func agentTasks(db *sql.DB, agentID string, limit int) ([]taskRow, error) {
	rows, err := db.Query(`SELECT id, project_id, title, status, priority, assigned_to, progress_percent
		FROM tasks WHERE assigned_to = ? ORDER BY updated_at DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []taskRow
	for rows.Next() {
		var t taskRow
		var assignedTo sql.NullString
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Status, &t.Priority, &assignedTo, &t.Progress); err != nil {
			return nil, err
		}
		if assignedTo.Valid {
			t.AssignedTo = &assignedTo.String
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type eventRow struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Action    string `json:"action"`
	Content   string `json:"content"`
}

func tailEvents(db *sql.DB, agentID string, limit int) ([]eventRow, error) {
	rows, err := db.Query(`SELECT id, timestamp, kind, action, content
		FROM event_log WHERE agent = ? ORDER BY timestamp DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []eventRow
	for rows.Next() {
		var e eventRow
		var content sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &e.Action, &content); err != nil {
			return nil, err
		}
		e.Content = content.String
		out = append(out, e)
	}
	return out, rows.Err()
}
