// Package locks implements the per-project File Lock Manager
// (spec.md §4.1): concurrent-access control with shared/exclusive
// locks, FIFO queuing, timeout, and conflict detection. Grounded in
// the teacher's concurrency style (sync.RWMutex-guarded maps, as in
// internal/tasks.Queue) and in original_source's
// services/file_lock_manager.py for the lock/queue/sweep shape, with
// spec.md's FIFO promotion-of-a-compatible-run rule implemented
// exactly as specified.
package locks

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/coordinator/internal/apierr"
	"github.com/agentforge/coordinator/internal/clock"
)

// Kind is a lock's access mode.
type Kind string

const (
	Read      Kind = "read"
	Write     Kind = "write"
	Exclusive Kind = "exclusive"
)

// compatible reports whether two lock kinds may be held concurrently
// on the same path. Read+Read is the only compatible pairing
// (spec.md §4.1 compatibility matrix).
func compatible(a, b Kind) bool {
	return a == Read && b == Read
}

// Status is a lock's lifecycle state.
type Status string

const (
	Active   Status = "active"
	Pending  Status = "pending"
	Expired  Status = "expired"
	Released Status = "released"
)

// Lock is one grant or pending request on a path.
type Lock struct {
	ID         string
	ProjectID  string
	AgentID    string
	Path       string
	Kind       Kind
	Status     Status
	AcquiredAt time.Time
	ExpiresAt  time.Time
	Metadata   map[string]string

	enqueuedAt time.Time // used for FIFO ordering while pending
}

// Conflict describes a detected invariant violation on a path.
type Conflict struct {
	Path        string
	Description string
	LockIDs     []string
	DetectedAt  time.Time
}

// AccessResult is check_access's return value.
type AccessResult struct {
	Allowed      bool
	BlockingLock []*Lock
}

// pathState holds everything mutated for one normalized path.
type pathState struct {
	active  []*Lock
	pending []*Lock // strict FIFO order
}

// Manager is a single project's Lock Manager. One Manager instance is
// owned per project, matching spec.md §5's "each project owns a Lock
// Manager worker with exclusive write access to that project's lock
// state."
type Manager struct {
	projectID string
	clock     clock.Clock

	mu      sync.Mutex
	byPath  map[string]*pathState
	byID    map[string]*Lock
	byAgent map[string]map[string]bool // agent -> set of lock ids (active+pending)
}

// NewManager creates a Lock Manager for one project.
func NewManager(projectID string, c clock.Clock) *Manager {
	if c == nil {
		c = clock.NewReal()
	}
	return &Manager{
		projectID: projectID,
		clock:     c,
		byPath:    make(map[string]*pathState),
		byID:      make(map[string]*Lock),
		byAgent:   make(map[string]map[string]bool),
	}
}

func normalize(path string) string {
	return filepath.Clean(path)
}

// Acquire requests a lock. If immediately compatible with the active
// set on the path, it is granted (status Active) with
// expires_at = now + timeout. Otherwise it is enqueued FIFO on that
// path and returned with status Pending.
//
// Same-agent re-acquisition of a compatible kind is granted
// immediately without blocking on the agent's own prior locks
// (spec.md §4.1).
func (m *Manager) Acquire(agentID, path string, kind Kind, timeout time.Duration) (*Lock, error) {
	if agentID == "" || path == "" {
		return nil, apierr.New(apierr.InvalidArgument, "locks.Acquire", "agent and path are required")
	}
	path = normalize(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	ps := m.stateFor(path)

	lock := &Lock{
		ID:         "lock-" + uuid.New().String(),
		ProjectID:  m.projectID,
		AgentID:    agentID,
		Path:       path,
		Kind:       kind,
		Metadata:   map[string]string{},
		enqueuedAt: now,
	}

	if m.compatibleWithActive(ps, kind, agentID) {
		lock.Status = Active
		lock.AcquiredAt = now
		lock.ExpiresAt = now.Add(timeout)
		ps.active = append(ps.active, lock)
	} else {
		lock.Status = Pending
		ps.pending = append(ps.pending, lock)
	}

	m.byID[lock.ID] = lock
	m.indexAgent(agentID, lock.ID)

	return lock, nil
}

// compatibleWithActive reports whether kind can be granted
// immediately given the path's current active set. A same-agent
// re-acquisition of a compatible kind never blocks on the agent's own
// prior active locks, per spec.md §4.1; it still must be compatible
// with other agents' active locks.
func (m *Manager) compatibleWithActive(ps *pathState, kind Kind, agentID string) bool {
	if len(ps.pending) > 0 {
		// Fairness: never let a new request jump a non-empty FIFO
		// queue, even if it would technically be compatible with the
		// active set — otherwise a run of reads could starve a
		// pending write indefinitely.
		return false
	}
	for _, l := range ps.active {
		if l.AgentID == agentID {
			continue
		}
		if !compatible(l.Kind, kind) {
			return false
		}
	}
	return true
}

func (m *Manager) stateFor(path string) *pathState {
	ps, ok := m.byPath[path]
	if !ok {
		ps = &pathState{}
		m.byPath[path] = ps
	}
	return ps
}

func (m *Manager) indexAgent(agentID, lockID string) {
	set, ok := m.byAgent[agentID]
	if !ok {
		set = make(map[string]bool)
		m.byAgent[agentID] = set
	}
	set[lockID] = true
}

// Release releases a lock. If agent is non-empty, it must match the
// lock's holder or the call fails with PermissionDenied. Idempotent:
// releasing an already-released lock id succeeds silently (returns
// false, nil). On success, re-evaluates the path's pending queue and
// promotes a contiguous compatible run at its head.
func (m *Manager) Release(lockID string, agent string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.byID[lockID]
	if !ok {
		return false, nil // idempotent on unknown/already-gone ids
	}
	if lock.Status == Released || lock.Status == Expired {
		return false, nil
	}
	if agent != "" && lock.AgentID != agent {
		return false, apierr.New(apierr.PermissionDenied, "locks.Release", "lock held by a different agent")
	}

	m.releaseLocked(lock, Released)
	return true, nil
}

// releaseLocked marks lock released/expired, removes it from the
// active set, and promotes the pending queue. Caller must hold m.mu.
func (m *Manager) releaseLocked(lock *Lock, reason Status) {
	lock.Status = reason

	ps := m.byPath[lock.Path]
	if ps != nil {
		ps.active = removeLock(ps.active, lock.ID)
	}
	if set := m.byAgent[lock.AgentID]; set != nil {
		delete(set, lock.ID)
	}

	if ps != nil {
		m.promoteLocked(ps)
	}
}

// promoteLocked promotes a contiguous run of mutually compatible
// pending requests at the head of the queue. Example: [read, read,
// write, read] promotes only the first two reads; the write still
// blocks the trailing read (spec.md's FIFO fairness requirement —
// later reads must never jump an earlier pending write).
func (m *Manager) promoteLocked(ps *pathState) {
	now := m.clock.Now()

	for len(ps.pending) > 0 {
		head := ps.pending[0]

		ok := true
		for _, a := range ps.active {
			if !compatible(a.Kind, head.Kind) {
				ok = false
				break
			}
		}
		if !ok {
			break
		}

		// Promote the head, then every contiguous entry compatible
		// with it, so a run of reads at the front promotes together
		// (a write or exclusive head promotes alone).
		run := []*Lock{head}
		ps.pending = ps.pending[1:]
		for len(ps.pending) > 0 {
			next := ps.pending[0]
			if !compatible(next.Kind, head.Kind) {
				break
			}
			run = append(run, next)
			ps.pending = ps.pending[1:]
		}

		for _, l := range run {
			l.Status = Active
			l.AcquiredAt = now
			// The original request's timeout isn't tracked, so a
			// promoted lock whose expiry has passed (always the case
			// for a never-granted request, whose ExpiresAt is zero)
			// gets a fixed 60s window from now, matching the
			// teacher's pattern of re-stamping expiry on grant.
			if l.ExpiresAt.Before(now) {
				l.ExpiresAt = now.Add(60 * time.Second)
			}
			ps.active = append(ps.active, l)
		}
	}
}

func removeLock(locks []*Lock, id string) []*Lock {
	out := locks[:0]
	for _, l := range locks {
		if l.ID != id {
			out = append(out, l)
		}
	}
	return out
}

// CheckAccess reports whether access_kind could be granted right now
// without enqueuing, and which active locks would block it.
func (m *Manager) CheckAccess(agentID, path string, kind Kind) AccessResult {
	path = normalize(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	ps, ok := m.byPath[path]
	if !ok {
		return AccessResult{Allowed: true}
	}

	var blockers []*Lock
	for _, l := range ps.active {
		if l.AgentID == agentID {
			continue
		}
		if !compatible(l.Kind, kind) {
			blockers = append(blockers, l)
		}
	}
	allowed := len(blockers) == 0 && len(ps.pending) == 0
	return AccessResult{Allowed: allowed, BlockingLock: blockers}
}

// ActiveLocksByProject returns all active locks (this Manager is
// already scoped to one project).
func (m *Manager) ActiveLocksByProject() []*Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Lock
	for _, ps := range m.byPath {
		out = append(out, cloneLocks(ps.active)...)
	}
	return out
}

// PendingLocksByProject returns every queued (not yet granted) lock
// request across all paths, for monitoring snapshots.
func (m *Manager) PendingLocksByProject() []*Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Lock
	for _, ps := range m.byPath {
		out = append(out, cloneLocks(ps.pending)...)
	}
	return out
}

// ActiveLocksByAgent returns all active+pending locks held/requested
// by an agent.
func (m *Manager) ActiveLocksByAgent(agentID string) []*Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.byAgent[agentID]
	out := make([]*Lock, 0, len(set))
	for id := range set {
		if l, ok := m.byID[id]; ok {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out
}

// ActiveLocksByPath returns the active and pending locks on a path.
func (m *Manager) ActiveLocksByPath(path string) (active, pending []*Lock) {
	path = normalize(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.byPath[path]
	if !ok {
		return nil, nil
	}
	return cloneLocks(ps.active), cloneLocks(ps.pending)
}

func cloneLocks(locks []*Lock) []*Lock {
	out := make([]*Lock, len(locks))
	for i, l := range locks {
		cp := *l
		out[i] = &cp
	}
	return out
}

// DetectConflicts returns descriptive conflict records for a path:
// multiple simultaneous write/exclusive holders (should not occur
// absent a bug), or any active holder whose acquisition predates a
// newer mtime supplied by the caller.
func (m *Manager) DetectConflicts(path string, fileModTime time.Time) []Conflict {
	path = normalize(path)
	m.mu.Lock()
	defer m.mu.Unlock()

	ps, ok := m.byPath[path]
	if !ok {
		return nil
	}

	var conflicts []Conflict
	var writers []*Lock
	for _, l := range ps.active {
		if l.Kind != Read {
			writers = append(writers, l)
		}
	}
	if len(writers) > 1 {
		ids := make([]string, len(writers))
		for i, w := range writers {
			ids[i] = w.ID
		}
		conflicts = append(conflicts, Conflict{
			Path:        path,
			Description: "multiple write/exclusive locks active simultaneously",
			LockIDs:     ids,
			DetectedAt:  m.clock.Now(),
		})
	}

	if !fileModTime.IsZero() {
		for _, l := range ps.active {
			if fileModTime.After(l.AcquiredAt) {
				conflicts = append(conflicts, Conflict{
					Path:        path,
					Description: "file modified after lock acquisition",
					LockIDs:     []string{l.ID},
					DetectedAt:  m.clock.Now(),
				})
			}
		}
	}

	return conflicts
}

// ForceRelease releases every lock (active and pending) held by an
// agent — an administrative operation — and triggers pending
// promotion on every affected path.
func (m *Manager) ForceRelease(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.byAgent[agentID]
	if set == nil {
		return 0
	}

	var paths = map[string]bool{}
	count := 0
	for id := range set {
		lock, ok := m.byID[id]
		if !ok {
			continue
		}
		if lock.Status == Active {
			lock.Status = Released
			ps := m.byPath[lock.Path]
			if ps != nil {
				ps.active = removeLock(ps.active, lock.ID)
				paths[lock.Path] = true
			}
			count++
		} else if lock.Status == Pending {
			lock.Status = Released
			ps := m.byPath[lock.Path]
			if ps != nil {
				ps.pending = removePendingLock(ps.pending, lock.ID)
			}
			count++
		}
	}
	delete(m.byAgent, agentID)

	for path := range paths {
		m.promoteLocked(m.byPath[path])
	}
	return count
}

func removePendingLock(locks []*Lock, id string) []*Lock {
	out := locks[:0]
	for _, l := range locks {
		if l.ID != id {
			out = append(out, l)
		}
	}
	return out
}

// Sweep releases every active lock whose expires_at has passed,
// marking it Expired (not Released), and promotes pending queues
// accordingly. It is idempotent: running it twice in a row with no
// intervening time is a no-op the second time. Intended to be driven
// by a periodic background loop bounded at <=60s (spec.md §4.1).
func (m *Manager) Sweep() []*Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var expired []*Lock
	pathsTouched := map[string]bool{}

	for path, ps := range m.byPath {
		var stillActive []*Lock
		for _, l := range ps.active {
			if !l.ExpiresAt.After(now) {
				l.Status = Expired
				expired = append(expired, l)
				if set := m.byAgent[l.AgentID]; set != nil {
					delete(set, l.ID)
				}
				pathsTouched[path] = true
			} else {
				stillActive = append(stillActive, l)
			}
		}
		ps.active = stillActive
	}

	for path := range pathsTouched {
		m.promoteLocked(m.byPath[path])
	}

	return expired
}
