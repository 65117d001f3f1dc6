package hooks

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNilDecision is reported when a callback returns no decision.
var ErrNilDecision = errors.New("nil decision")

// TranslationError is a fault inside a translator. It never reaches the
// wire; callers only see the conservative fallback.
type TranslationError struct {
	Cause    error
	Decision Decision
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translate %T: %v", e.Decision, e.Cause)
}

func (e *TranslationError) Unwrap() error { return e.Cause }

// PermissionResult converts d into the body of a can_use_tool reply. It
// never fails: any translation fault yields a deny.
func PermissionResult(d Decision) map[string]any {
	out, err := TranslatePermission(d)
	if err != nil {
		return denyResult("permission decision rejected: "+err.Error(), false)
	}
	return out
}

// HookOutput converts d into the body of a hook_callback reply for event. It
// never fails: any translation fault yields an empty object.
func HookOutput(event Event, d Decision) map[string]any {
	out, err := TranslateHook(event, d)
	if err != nil {
		return map[string]any{}
	}
	return out
}

// TranslatePermission is the strict form of PermissionResult.
func TranslatePermission(d Decision) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &TranslationError{Decision: d, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	switch v := d.(type) {
	case Allow:
		return map[string]any{"behavior": "allow"}, nil
	case AllowWithInput:
		if err := checkInput(v.Input, true); err != nil {
			return nil, &TranslationError{Decision: d, Cause: err}
		}
		return map[string]any{"behavior": "allow", "updatedInput": v.Input}, nil
	case AllowWithPermissionUpdates:
		if err := checkInput(v.Input, false); err != nil {
			return nil, &TranslationError{Decision: d, Cause: err}
		}
		out := map[string]any{"behavior": "allow"}
		if v.Input != nil {
			out["updatedInput"] = v.Input
		}
		if len(v.Updates) > 0 {
			out["updatedPermissions"] = v.Updates
		}
		return out, nil
	case Deny:
		return denyResult(v.Reason, false), nil
	case DenyInterrupt:
		return denyResult(v.Reason, true), nil
	case Continue:
		// Stopping the loop from a permission prompt means denying this
		// call and interrupting the turn.
		return denyResult(v.Reason, true), nil
	case Reject:
		return denyResult(v.Reason, false), nil
	case Instructions:
		// The deny message is how guidance reaches the model here.
		return denyResult(v.Text, false), nil
	case Failed:
		return denyResult(v.Reason, false), nil
	case nil:
		return nil, &TranslationError{Cause: ErrNilDecision}
	default:
		return nil, &TranslationError{Decision: d, Cause: errors.New("unsupported decision")}
	}
}

// TranslateHook is the strict form of HookOutput.
func TranslateHook(event Event, d Decision) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &TranslationError{Decision: d, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	switch v := d.(type) {
	case Allow:
		return specific(event, "allow", "", nil), nil
	case AllowWithInput:
		if err := checkInput(v.Input, true); err != nil {
			return nil, &TranslationError{Decision: d, Cause: err}
		}
		return specific(event, "allow", "", v.Input), nil
	case AllowWithPermissionUpdates:
		// Hooks cannot install permission rules; only the input rewrite
		// carries over.
		if err := checkInput(v.Input, false); err != nil {
			return nil, &TranslationError{Decision: d, Cause: err}
		}
		return specific(event, "allow", "", v.Input), nil
	case Deny:
		return specific(event, "deny", v.Reason, nil), nil
	case DenyInterrupt:
		out := specific(event, "deny", v.Reason, nil)
		out["continue"] = false
		out["stopReason"] = v.Reason
		return out, nil
	case Continue:
		return map[string]any{"continue": false, "stopReason": v.Reason}, nil
	case Reject:
		return map[string]any{"decision": "block", "reason": v.Reason}, nil
	case Instructions:
		return map[string]any{"customInstructions": v.Text}, nil
	case Failed:
		return nil, &TranslationError{Decision: d, Cause: errors.New(v.Reason)}
	case nil:
		return nil, &TranslationError{Cause: ErrNilDecision}
	default:
		return nil, &TranslationError{Decision: d, Cause: errors.New("unsupported decision")}
	}
}

func denyResult(msg string, interrupt bool) map[string]any {
	out := map[string]any{"behavior": "deny", "message": msg}
	if interrupt {
		out["interrupt"] = true
	}
	return out
}

func specific(event Event, decision, reason string, input map[string]any) map[string]any {
	hso := map[string]any{
		"hookEventName":      string(event),
		"permissionDecision": decision,
	}
	if reason != "" {
		hso["permissionDecisionReason"] = reason
	}
	if input != nil {
		hso["updatedInput"] = input
	}
	return map[string]any{"hookSpecificOutput": hso}
}

// checkInput verifies that an updated input will encode as a JSON object.
func checkInput(input map[string]any, required bool) error {
	if input == nil {
		if required {
			return errors.New("updated input must be an object, got nil")
		}
		return nil
	}
	if _, err := json.Marshal(input); err != nil {
		return fmt.Errorf("updated input: %w", err)
	}
	return nil
}
