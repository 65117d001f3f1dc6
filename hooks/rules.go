package hooks

import (
	"context"
	"path"
)

// Rules is a declarative permission policy over tool names. Patterns use
// path.Match glob syntax, e.g. "mcp__calc__*".
type Rules struct {
	Allow []string
	Deny  []string
	// DenyReason is shown to the model when a deny rule or the default
	// matches.
	DenyReason string
	// DefaultAllow applies when no rule matches.
	DefaultAllow bool
}

// Decide evaluates deny rules first, then allow rules, then the default.
func (r Rules) Decide(toolName string) Decision {
	reason := r.DenyReason
	if reason == "" {
		reason = "tool " + toolName + " is not permitted"
	}
	if matchAny(r.Deny, toolName) {
		return Deny{Reason: reason}
	}
	if matchAny(r.Allow, toolName) || r.DefaultAllow {
		return Allow{}
	}
	return Deny{Reason: reason}
}

// PermissionFunc adapts the policy to a can_use_tool callback.
func (r Rules) PermissionFunc() PermissionFunc {
	return func(_ context.Context, req PermissionRequest) (Decision, error) {
		return r.Decide(req.ToolName), nil
	}
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
