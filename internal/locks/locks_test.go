package locks

import (
	"testing"
	"time"

	"github.com/agentforge/coordinator/internal/clock"
)

func TestAcquireCompatibleReadsGrantImmediately(t *testing.T) {
	m := NewManager("proj-1", clock.NewReal())

	l1, err := m.Acquire("X", "/a.py", Read, 60*time.Second)
	if err != nil || l1.Status != Active {
		t.Fatalf("expected active read lock, got %v err=%v", l1, err)
	}

	l2, err := m.Acquire("Y", "/a.py", Read, 60*time.Second)
	if err != nil || l2.Status != Active {
		t.Fatalf("expected second read lock active, got %v err=%v", l2, err)
	}
}

// TestReadWriteFIFO reproduces spec.md scenario 1.
func TestReadWriteFIFO(t *testing.T) {
	m := NewManager("proj-1", clock.NewReal())

	lx, _ := m.Acquire("X", "/a.py", Read, 60*time.Second)
	ly, _ := m.Acquire("Y", "/a.py", Read, 60*time.Second)
	lz, _ := m.Acquire("Z", "/a.py", Read, 60*time.Second)

	lw, _ := m.Acquire("W", "/a.py", Write, 60*time.Second)
	if lw.Status != Pending {
		t.Fatalf("expected W pending, got %s", lw.Status)
	}

	lv, _ := m.Acquire("V", "/a.py", Read, 60*time.Second)
	if lv.Status != Pending {
		t.Fatalf("expected V pending (cannot jump W), got %s", lv.Status)
	}

	m.Release(lx.ID, "X")
	m.Release(ly.ID, "Y")
	m.Release(lz.ID, "Z")

	active, pending := m.ActiveLocksByPath("/a.py")
	if len(active) != 1 || active[0].ID != lw.ID {
		t.Fatalf("expected only W active, got %+v", active)
	}
	if len(pending) != 1 || pending[0].ID != lv.ID {
		t.Fatalf("expected V still pending, got %+v", pending)
	}
}

func TestReleaseWrongAgentDenied(t *testing.T) {
	m := NewManager("proj-1", clock.NewReal())
	l, _ := m.Acquire("X", "/a.py", Write, 60*time.Second)

	_, err := m.Release(l.ID, "Y")
	if err == nil {
		t.Fatal("expected permission denied releasing another agent's lock")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	m := NewManager("proj-1", clock.NewReal())
	l, _ := m.Acquire("X", "/a.py", Write, 60*time.Second)

	ok, err := m.Release(l.ID, "X")
	if !ok || err != nil {
		t.Fatalf("expected first release to succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = m.Release(l.ID, "X")
	if ok || err != nil {
		t.Fatalf("expected second release to be a no-op, got ok=%v err=%v", ok, err)
	}
}

func TestSweepExpiresLocksAndPromotes(t *testing.T) {
	fc := clock.NewFake(time.Now())
	m := NewManager("proj-1", fc)

	l, _ := m.Acquire("X", "/a.py", Write, 10*time.Second)
	pending, _ := m.Acquire("Y", "/a.py", Write, 10*time.Second)
	if pending.Status != Pending {
		t.Fatalf("expected Y pending behind active write, got %s", pending.Status)
	}

	fc.Advance(11 * time.Second)
	expired := m.Sweep()
	if len(expired) != 1 || expired[0].ID != l.ID {
		t.Fatalf("expected X to expire, got %+v", expired)
	}

	active, _ := m.ActiveLocksByPath("/a.py")
	if len(active) != 1 || active[0].ID != pending.ID {
		t.Fatalf("expected Y promoted to active after sweep, got %+v", active)
	}
}

func TestDetectConflictsNewerModTime(t *testing.T) {
	m := NewManager("proj-1", clock.NewReal())
	// Two simultaneous writers cannot be produced through the public
	// API (Acquire excludes them), so this checks the newer-mtime
	// conflict instead, which is reachable through the public API.
	l, _ := m.Acquire("X", "/a.py", Write, 60*time.Second)

	conflicts := m.DetectConflicts("/a.py", time.Now().Add(time.Hour))
	if len(conflicts) != 1 {
		t.Fatalf("expected one newer-mtime conflict, got %+v", conflicts)
	}
	if conflicts[0].LockIDs[0] != l.ID {
		t.Fatalf("expected conflict to name the stale lock")
	}
}

func TestForceReleaseReleasesAllAndPromotes(t *testing.T) {
	m := NewManager("proj-1", clock.NewReal())
	l1, _ := m.Acquire("X", "/a.py", Write, 60*time.Second)
	_ = l1
	pending, _ := m.Acquire("Y", "/a.py", Write, 60*time.Second)

	n := m.ForceRelease("X")
	if n != 1 {
		t.Fatalf("expected 1 lock force-released, got %d", n)
	}

	active, _ := m.ActiveLocksByPath("/a.py")
	if len(active) != 1 || active[0].ID != pending.ID {
		t.Fatalf("expected Y promoted after force release, got %+v", active)
	}
}
