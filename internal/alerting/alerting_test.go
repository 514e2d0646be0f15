package alerting

import (
	"runtime"
	"testing"
)

func TestDesktopNotifierSupportedMatchesGOOS(t *testing.T) {
	n := NewDesktopNotifier("", "")
	if n.Supported() != (runtime.GOOS == "windows") {
		t.Fatalf("expected Supported() to reflect runtime.GOOS")
	}
}

func TestDesktopNotifierFailsOffWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("only verifies the non-windows no-op path")
	}
	n := NewDesktopNotifier("app", "http://localhost:9090")
	if err := n.LockStarved("/repo/a.go", "agent-1", "12m"); err == nil {
		t.Fatal("expected an error off windows")
	}
	if err := n.ApprovalExhausted("req-1", "budget increase"); err == nil {
		t.Fatal("expected an error off windows")
	}
}

func TestNoopNotifierRecordsCalls(t *testing.T) {
	n := &NoopNotifier{}
	if err := n.LockStarved("/repo/a.go", "agent-1", "12m"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := n.ApprovalExhausted("req-1", "budget increase"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(n.LockStarvedCalls) != 1 || len(n.ApprovalExhaustedCalls) != 1 {
		t.Fatalf("expected one recorded call each, got %+v / %+v", n.LockStarvedCalls, n.ApprovalExhaustedCalls)
	}
	if n.Supported() {
		t.Fatal("expected NoopNotifier.Supported() to be false")
	}
}
