package eventlog

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	log := NewLog(db)
	if err := log.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	return log
}

func TestAppendAndFindByProjectAgentKind(t *testing.T) {
	log := newTestLog(t)

	r1 := New("proj-1", "agent-1", "lock_grant", "acquire", "granted write lock on /a.py")
	r2 := New("proj-1", "agent-2", "assignment", "assign", "assigned task-1 to agent-2")
	r3 := New("proj-2", "agent-1", "lock_grant", "acquire", "granted read lock on /b.py")

	for _, r := range []*Record{r1, r2, r3} {
		if err := log.Append(r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := log.Find(Query{Project: "proj-1", Kind: "lock_grant"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].ID != r1.ID {
		t.Fatalf("expected only r1, got %+v", got)
	}
}

func TestFindTimeRangeAndSearch(t *testing.T) {
	log := newTestLog(t)

	old := New("proj-1", "agent-1", "note", "write", "ancient note about deployment")
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	recent := New("proj-1", "agent-1", "note", "write", "fresh note about the migration")

	if err := log.Append(old); err != nil {
		t.Fatalf("append old: %v", err)
	}
	if err := log.Append(recent); err != nil {
		t.Fatalf("append recent: %v", err)
	}

	since := time.Now().Add(-time.Hour)
	got, err := log.Find(Query{Project: "proj-1", Since: &since})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].ID != recent.ID {
		t.Fatalf("expected only the recent record, got %+v", got)
	}

	got, err = log.Find(Query{Project: "proj-1", Search: "migration"})
	if err != nil {
		t.Fatalf("find search: %v", err)
	}
	if len(got) != 1 || got[0].ID != recent.ID {
		t.Fatalf("expected search to match only the migration note, got %+v", got)
	}
}

func TestFindOrdersNewestFirst(t *testing.T) {
	log := newTestLog(t)

	first := New("proj-1", "agent-1", "note", "write", "first")
	first.Timestamp = time.Now().Add(-time.Hour)
	second := New("proj-1", "agent-1", "note", "write", "second")
	second.Timestamp = time.Now()

	if err := log.Append(first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log.Append(second); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := log.Find(Query{Project: "proj-1"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 || got[0].ID != second.ID || got[1].ID != first.ID {
		t.Fatalf("expected newest-first ordering, got %+v", got)
	}
}
