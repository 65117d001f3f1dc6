package hooks

import "github.com/bazelment/yoloswe/agentbridge/protocol"

// Decision is the outcome a callback returns for a permission prompt or a
// lifecycle hook. The set of implementations is closed.
type Decision interface {
	isDecision()
}

// Allow lets the action proceed unchanged.
type Allow struct{}

// AllowWithInput lets the action proceed with a rewritten input.
type AllowWithInput struct {
	Input map[string]any
}

// AllowWithPermissionUpdates lets the action proceed and installs permission
// rule changes. Input may be nil to keep the original input.
type AllowWithPermissionUpdates struct {
	Input   map[string]any
	Updates []protocol.PermissionUpdate
}

// Deny blocks the action. The reason is shown to the model.
type Deny struct {
	Reason string
}

// DenyInterrupt blocks the action and interrupts the running turn.
type DenyInterrupt struct {
	Reason string
}

// Continue halts the agent loop after the current step.
type Continue struct {
	Reason string
}

// Reject blocks only the current step; the loop keeps going.
type Reject struct {
	Reason string
}

// Instructions injects guidance for the model.
type Instructions struct {
	Text string
}

// Failed reports that the callback itself failed.
type Failed struct {
	Reason string
}

func (Allow) isDecision()                      {}
func (AllowWithInput) isDecision()             {}
func (AllowWithPermissionUpdates) isDecision() {}
func (Deny) isDecision()                       {}
func (DenyInterrupt) isDecision()              {}
func (Continue) isDecision()                   {}
func (Reject) isDecision()                     {}
func (Instructions) isDecision()               {}
func (Failed) isDecision()                     {}
