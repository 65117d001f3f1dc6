package protocol

import (
	"encoding/json"
	"time"
)

// Trace directions.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// TraceEntry is one line of a session trace file. Trace files wrap the raw
// protocol lines with metadata and are useful as test fixtures.
type TraceEntry struct {
	SessionID string          `json:"sessionId"`
	Timestamp string          `json:"timestamp"`
	Direction string          `json:"direction"`
	Message   json.RawMessage `json:"message"`
}

// NewTraceEntry stamps a raw line with the current time.
func NewTraceEntry(sessionID, direction string, line []byte) TraceEntry {
	msg := make(json.RawMessage, len(line))
	copy(msg, line)
	if !json.Valid(msg) {
		// Keep malformed lines in the trace as JSON strings.
		msg, _ = json.Marshal(string(line))
	}
	return TraceEntry{
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Direction: direction,
		Message:   msg,
	}
}

// ParseTraceEntry decodes the protocol message inside a trace line. Lines
// that are not wrapped are parsed as raw protocol messages.
func ParseTraceEntry(line []byte) (Message, error) {
	var entry TraceEntry
	if err := json.Unmarshal(line, &entry); err != nil || entry.Direction == "" || len(entry.Message) == 0 {
		return ParseMessage(line)
	}
	return ParseMessage(entry.Message)
}
