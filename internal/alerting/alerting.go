// Package alerting wraps desktop toast notifications behind a
// capability interface (spec.md §4.15), mirroring
// internal/notifications/toast.go's ToastNotifier: native toasts on
// Windows, a no-op elsewhere.
package alerting

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"
)

// Notifier raises operator-facing alerts for conditions the
// Orchestrator decides warrant interrupting a human: a lock starved
// past its warning threshold, or an approval escalated with no
// further chain (spec.md §4.15).
type Notifier interface {
	LockStarved(path, agentID string, waited string) error
	ApprovalExhausted(requestID, title string) error
	Supported() bool
}

// DesktopNotifier pushes Windows toast notifications; calls are no-ops
// with an error return on any other platform, matching the teacher's
// runtime.GOOS guard.
type DesktopNotifier struct {
	appID        string
	dashboardURL string
}

// NewDesktopNotifier builds a notifier. dashboardURL is opened when
// the user clicks a toast's action; empty defaults to localhost.
func NewDesktopNotifier(appID, dashboardURL string) *DesktopNotifier {
	if appID == "" {
		appID = "agentforge-coordinator"
	}
	if dashboardURL == "" {
		dashboardURL = "http://localhost:8080"
	}
	return &DesktopNotifier{appID: appID, dashboardURL: dashboardURL}
}

func (n *DesktopNotifier) push(title, message string, audio toast.Audio) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("toast notifications only supported on windows")
	}
	notification := toast.Notification{
		AppID:   n.appID,
		Title:   title,
		Message: message,
		Audio:   audio,
		Actions: []toast.Action{
			{Type: "protocol", Label: "Open Dashboard", Arguments: n.dashboardURL},
		},
	}
	return notification.Push()
}

// LockStarved alerts that a pending writer has waited past the
// starvation warning threshold on path (spec.md §4.15).
func (n *DesktopNotifier) LockStarved(path, agentID, waited string) error {
	return n.push(
		"Lock contention",
		fmt.Sprintf("%s has waited %s for %s", agentID, waited, path),
		toast.Default,
	)
}

// ApprovalExhausted alerts that a request escalated to the top of the
// authority chain with nobody left to approve it (spec.md §4.15).
func (n *DesktopNotifier) ApprovalExhausted(requestID, title string) error {
	return n.push(
		"Approval needs a human",
		fmt.Sprintf("%s (%s) has no further approver", title, requestID),
		toast.IM,
	)
}

// Supported reports whether this platform can actually show toasts.
func (n *DesktopNotifier) Supported() bool {
	return runtime.GOOS == "windows"
}

// NoopNotifier discards every alert; used in tests and on headless
// deployments where no desktop session exists to show a toast.
type NoopNotifier struct {
	LockStarvedCalls      []string
	ApprovalExhaustedCalls []string
}

func (n *NoopNotifier) LockStarved(path, agentID, waited string) error {
	n.LockStarvedCalls = append(n.LockStarvedCalls, path+"|"+agentID+"|"+waited)
	return nil
}

func (n *NoopNotifier) ApprovalExhausted(requestID, title string) error {
	n.ApprovalExhaustedCalls = append(n.ApprovalExhaustedCalls, requestID+"|"+title)
	return nil
}

func (n *NoopNotifier) Supported() bool { return false }
