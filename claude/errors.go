package claude

import (
	"errors"

	"github.com/bazelment/yoloswe/agentbridge/transport"
)

// Sentinel errors for common error conditions.
var (
	ErrAlreadyStarted         = errors.New("session already started")
	ErrNotStarted             = errors.New("session not started")
	ErrSessionClosed          = errors.New("session is closed")
	ErrTimeout                = errors.New("operation timed out")
	ErrPrematureEnd           = errors.New("agent output ended before the query completed")
	ErrTooManyProtocolErrors  = errors.New("too many consecutive malformed lines")
	ErrQueryInProgress        = errors.New("a query is already in progress")
	ErrUnknownQuery           = errors.New("unknown query id")
	ErrStreamClaimed          = errors.New("stream already claimed by another consumer")
	ErrBudgetExceeded         = errors.New("budget limit exceeded")
	ErrNoCompletedTurn        = errors.New("no completed turn to fork from")
	ErrControlRequestRejected = errors.New("control request rejected")
)

// IsRecoverable returns true if the session that produced err can still
// accept queries.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}

	// Process level failures end the session.
	var te *transport.Error
	if errors.As(err, &te) {
		return false
	}

	var pe *ProtocolError
	if errors.As(err, &pe) && pe.Fatal {
		return false
	}

	if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrNotStarted) {
		return false
	}

	return true
}
