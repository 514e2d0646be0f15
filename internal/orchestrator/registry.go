package orchestrator

import (
	"sort"
	"sync"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/apierr"
	"github.com/agentforge/coordinator/internal/assignment"
	ctxassembler "github.com/agentforge/coordinator/internal/context"
	"github.com/agentforge/coordinator/internal/eventlog"
	"github.com/agentforge/coordinator/internal/tasks"
)

// Registry owns the live set of per-project composition roots and
// backs the Projects operations from spec.md §6 (create, list,
// get-status). Every project shares the same process-wide stores
// (sqlite task store, event log, context store) and only gets its own
// agent.Registry and assignment.Engine, since task/content rows are
// already project-scoped by column rather than by separate storage.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]*Project

	taskStore    *tasks.Store
	log          *eventlog.Log
	contextStore *ctxassembler.Store
	deps         Deps
}

// NewRegistry builds a Registry over the shared stores every project
// composition root is built from.
func NewRegistry(taskStore *tasks.Store, log *eventlog.Log, contextStore *ctxassembler.Store, deps Deps) *Registry {
	return &Registry{
		projects:     make(map[string]*Project),
		taskStore:    taskStore,
		log:          log,
		contextStore: contextStore,
		deps:         deps,
	}
}

// Create builds and registers a new project, failing with Conflict if
// id is already taken. agents may be nil, in which case the project
// starts with an empty roster.
func (r *Registry) Create(id string, agents *agent.Registry) (*Project, error) {
	if id == "" {
		return nil, apierr.New(apierr.InvalidArgument, "orchestrator.Create", "project id must not be empty")
	}
	if agents == nil {
		agents = agent.NewRegistry()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.projects[id]; exists {
		return nil, apierr.New(apierr.Conflict, "orchestrator.Create", "project already exists: "+id)
	}

	assign := assignment.NewEngine(agents)
	p := NewProject(id, agents, r.taskStore, r.log, r.contextStore, assign, r.deps)
	r.projects[id] = p
	return p, nil
}

// Register adds an already-built project, e.g. the bootstrap project
// an entrypoint constructs before any projects exist in the registry.
func (r *Registry) Register(p *Project) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[p.ID] = p
}

// Get resolves id to its composition root — the shape both
// internal/api.ProjectLookup and internal/monitor.SourceLookup need.
func (r *Registry) Get(id string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	return p, ok
}

// List returns every registered project id, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.projects))
	for id := range r.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
