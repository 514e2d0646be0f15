package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentforge/coordinator/internal/agent"
)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func seedRegistry(t *testing.T) *agent.Registry {
	t.Helper()
	reg := agent.NewRegistry()
	if err := reg.Put(&agent.Agent{ID: "a1", Name: "Ada", Role: agent.RoleIndividualContrib, MaxWorkload: 40}); err != nil {
		t.Fatalf("put: %v", err)
	}
	return reg
}

func TestBuildSnapshotWithNoOptionalSources(t *testing.T) {
	reg := seedRegistry(t)
	snap, err := BuildSnapshot(Sources{Project: "proj-1", Agents: reg, Now: fixedNow})
	if err != nil {
		t.Fatalf("build snapshot: %v", err)
	}
	if snap.ProjectID != "proj-1" {
		t.Fatalf("expected project id proj-1, got %s", snap.ProjectID)
	}
	if len(snap.Agents) != 1 || snap.Agents[0].ID != "a1" {
		t.Fatalf("expected roster of 1 agent a1, got %+v", snap.Agents)
	}
}

func TestServerSnapshotEndpointUnknownProject(t *testing.T) {
	srv := NewServer(func(string) (Sources, bool) { return Sources{}, false })
	req := httptest.NewRequest("GET", "/projects/missing/snapshot", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServerSnapshotEndpointAndHistory(t *testing.T) {
	reg := seedRegistry(t)
	srv := NewServer(func(id string) (Sources, bool) {
		return Sources{Project: id, Agents: reg, Now: fixedNow}, true
	})

	req := httptest.NewRequest("GET", "/projects/proj-1/snapshot", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.ProjectID != "proj-1" {
		t.Fatalf("expected proj-1, got %s", snap.ProjectID)
	}

	mreq := httptest.NewRequest("GET", "/projects/proj-1/metrics", nil)
	mrec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(mrec, mreq)
	var hist []*Snapshot
	if err := json.Unmarshal(mrec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("expected 1 recorded snapshot, got %d", len(hist))
	}
}

func TestHubBroadcastReachesRegisteredClient(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go hub.Run(done)
	defer close(done)

	recv := make(chan []byte, 1)
	c := &client{hub: hub, send: make(chan []byte, 1)}
	hub.register <- c
	go func() {
		for msg := range c.send {
			recv <- msg
		}
	}()

	hub.Broadcast(Event{Type: EventSnapshot, Data: map[string]string{"k": "v"}})

	select {
	case msg := <-recv:
		var evt Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.Type != EventSnapshot {
			t.Fatalf("expected snapshot event, got %s", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}
