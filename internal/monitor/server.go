package monitor

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// maxHistory bounds the in-memory metric time-series kept per project
// (spec.md §6 Monitoring: "metric time-series" — sampled, not a full
// durable history; durability lives in the event log).
const maxHistory = 500

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SourceLookup resolves a project id to the live component state a
// snapshot is built from. The Orchestrator supplies this.
type SourceLookup func(projectID string) (Sources, bool)

// Server is the gorilla/mux HTTP surface plus the WebSocket hub
// fanning out state-change events (spec.md §4.14).
type Server struct {
	router   *mux.Router
	hub      *Hub
	lookup   SourceLookup
	shutdown chan struct{}

	mu      sync.Mutex
	history map[string][]*Snapshot
}

// NewServer builds a monitoring server. lookup supplies per-project
// component state for on-demand snapshots.
func NewServer(lookup SourceLookup) *Server {
	s := &Server{
		hub:      NewHub(),
		lookup:   lookup,
		history:  make(map[string][]*Snapshot),
		shutdown: make(chan struct{}, 1),
	}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/projects/{id}/snapshot", s.handleSnapshot).Methods("GET")
	s.router.HandleFunc("/projects/{id}/metrics", s.handleMetrics).Methods("GET")
	s.router.HandleFunc("/api/shutdown", s.handleShutdown).Methods("POST")
	s.router.HandleFunc("/ws", s.handleWebSocket)
	return s
}

// ShutdownRequested fires once a POST /api/shutdown has been handled,
// letting the owning process fold a remote stop request into the same
// select loop it uses for OS signals.
func (s *Server) ShutdownRequested() <-chan struct{} { return s.shutdown }

// Handler returns the composed HTTP handler for embedding or ListenAndServe.
func (s *Server) Handler() http.Handler { return s.router }

// Hub exposes the push feed so the Orchestrator can broadcast deltas.
func (s *Server) Hub() *Hub { return s.hub }

// Run starts the hub's event loop; call in its own goroutine.
func (s *Server) Run(done <-chan struct{}) { s.hub.Run(done) }

// RecordSnapshot appends a sample to a project's bounded history and
// pushes it to connected clients. The Orchestrator calls this on its
// periodic metric-snapshot sweep (spec.md §5: "metric snapshot <=1h").
func (s *Server) RecordSnapshot(snap *Snapshot) {
	s.mu.Lock()
	hist := append(s.history[snap.ProjectID], snap)
	if len(hist) > maxHistory {
		hist = hist[len(hist)-maxHistory:]
	}
	s.history[snap.ProjectID] = hist
	s.mu.Unlock()

	s.hub.Broadcast(Event{Type: EventSnapshot, Data: snap})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]
	src, ok := s.lookup(projectID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown project: "+projectID)
		return
	}
	snap, err := BuildSnapshot(src)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.RecordSnapshot(snap)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]
	s.mu.Lock()
	hist := append([]*Snapshot(nil), s.history[projectID]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, hist)
}

// handleShutdown acknowledges the request before signaling, so the
// caller (internal/instance.SendShutdownRequest) sees its 200 even
// though the process tears the listener down right after.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	select {
	case s.shutdown <- struct{}{}:
	default:
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, BroadcastBufferSize)}
	s.hub.register <- c
	go c.readPump()
	go c.writePump()
}
