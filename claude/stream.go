package claude

import (
	"context"
	"errors"
	"io"
	"iter"
)

// Stream is the consumer side of one query. Messages arrive in the order
// the agent produced them and the terminal message is always last. A Stream
// is not safe for concurrent use.
type Stream struct {
	session *Session
	pending *pendingRequest
	done    bool
}

// QueryID returns the id of the query.
func (st *Stream) QueryID() string { return st.pending.id }

// Next returns the next message. After the terminal message it returns
// io.EOF.
func (st *Stream) Next(ctx context.Context) (Message, error) {
	if st.done {
		return nil, io.EOF
	}
	select {
	case m, ok := <-st.pending.sink:
		if ok {
			return m, nil
		}
		st.done = true
		st.session.forget(st.pending.id)
		select {
		case m := <-st.pending.final:
			return m, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// All iterates over the remaining messages. Iteration stops after the
// terminal message or when ctx is done, in which case the context error is
// yielded once.
func (st *Stream) All(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for {
			m, err := st.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(m, err) || err != nil {
				return
			}
		}
	}
}

// Close abandons the stream and forgets its query. Messages still produced
// for the query are discarded so the session is never blocked on it.
func (st *Stream) Close() error {
	if st.done {
		return nil
	}
	st.done = true
	p := st.pending
	st.session.forget(p.id)
	err := st.session.do(context.Background(), func() { st.session.detach(p) })
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}
