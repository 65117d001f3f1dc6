// Package ndjson reads and writes newline-delimited JSON.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxLineSize bounds a single line. Tool results with large file contents
// routinely exceed bufio's 64 KiB default.
const MaxLineSize = 16 << 20

// ErrLineTooLong is returned when a line exceeds MaxLineSize.
var ErrLineTooLong = errors.New("ndjson: line too long")

// Reader yields one line at a time. It is not safe for concurrent use.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// ReadLine returns the next non-blank line without its terminator. The
// returned slice is owned by the caller. At end of input it returns io.EOF;
// a final line without a trailing newline is still returned first.
func (r *Reader) ReadLine() ([]byte, error) {
	for {
		line, err := r.readRaw()
		if len(bytes.TrimSpace(line)) > 0 {
			return bytes.TrimRight(line, "\r\n"), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (r *Reader) readRaw() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.r.ReadSlice('\n')
		if len(buf)+len(chunk) > MaxLineSize {
			// Drain the rest of the oversized line so the next call starts
			// on a fresh line.
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = r.r.ReadSlice('\n')
			}
			return nil, ErrLineTooLong
		}
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			return buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return buf, err
		}
	}
}

// Writer writes one JSON value per line. Writes are serialized so that lines
// from concurrent callers never interleave.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteJSON marshals v and writes it as a single line.
func (w *Writer) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ndjson: marshal %T: %w", v, err)
	}
	return w.WriteRaw(data)
}

// WriteRaw writes data followed by a newline. data must not contain a
// newline.
func (w *Writer) WriteRaw(data []byte) error {
	if bytes.IndexByte(data, '\n') >= 0 {
		return errors.New("ndjson: embedded newline")
	}
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(line)
	return err
}
