// Package transport owns the agent subprocess: it spawns it in its own
// process group, frames stdin/stdout as newline-delimited JSON and reports
// abnormal exits.
package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bazelment/yoloswe/agentbridge/internal/ndjson"
)

// Sentinel errors.
var (
	// ErrNotFound is wrapped when the executable cannot be located.
	ErrNotFound = errors.New("executable not found")
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("transport closed")
)

// Error is a transport failure: spawn failure, broken pipe or abnormal exit.
type Error struct {
	Cause    error
	Op       string
	Stderr   string
	ExitCode int
}

func (e *Error) Error() string {
	msg := "transport " + e.Op
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Stderr != "" {
		msg += "\nstderr: " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Command describes the process to spawn.
type Command struct {
	Path string
	Dir  string
	Args []string
	// Env is handed to the child verbatim. A nil Env inherits the parent's
	// environment.
	Env []string
}

type options struct {
	logger    *slog.Logger
	onStderr  func(line string)
	stopGrace time.Duration
	killGrace time.Duration
	tailLines int
}

func defaultOptions() options {
	return options{
		logger:    slog.New(slog.DiscardHandler),
		stopGrace: 2 * time.Second,
		killGrace: 500 * time.Millisecond,
		tailLines: 20,
	}
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStderr registers a callback invoked for every stderr line.
func WithStderr(fn func(line string)) Option {
	return func(o *options) { o.onStderr = fn }
}

// WithStopGrace sets how long Close waits after closing stdin before it
// signals the process group.
func WithStopGrace(d time.Duration) Option {
	return func(o *options) { o.stopGrace = d }
}

// Stream frames an arbitrary reader/writer pair. Process embeds one; tests
// and in-process peers use it directly over io.Pipe.
type Stream struct {
	reader *ndjson.Reader
	writer *ndjson.Writer
	in     io.Closer
	out    io.Closer

	mu     sync.Mutex
	closed bool
}

// NewStream frames r (lines from the peer) and w (lines to the peer).
// Close closes w, and r too when it implements io.Closer.
func NewStream(r io.Reader, w io.WriteCloser) *Stream {
	s := &Stream{
		reader: ndjson.NewReader(r),
		writer: ndjson.NewWriter(w),
		in:     w,
	}
	if c, ok := r.(io.Closer); ok {
		s.out = c
	}
	return s
}

// ReadLine returns the next line from the peer. It must be called from a
// single goroutine; the sequence is not restartable.
func (s *Stream) ReadLine() ([]byte, error) {
	return s.reader.ReadLine()
}

// WriteLine writes one line. Concurrent calls are serialized.
func (s *Stream) WriteLine(line []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := s.writer.WriteRaw(line); err != nil {
		return &Error{Op: "write", Cause: err}
	}
	return nil
}

// WriteJSON marshals v and writes it as one line.
func (s *Stream) WriteJSON(v any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := s.writer.WriteJSON(v); err != nil {
		return &Error{Op: "write", Cause: err}
	}
	return nil
}

// CloseWrite closes the write side, signalling end of input to the peer.
func (s *Stream) CloseWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.in.Close()
}

// Close closes both directions.
func (s *Stream) Close() error {
	err := s.CloseWrite()
	if s.out != nil {
		if cerr := s.out.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
