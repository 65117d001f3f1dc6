package claude

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazelment/yoloswe/agentbridge/internal/ndjson"
	"github.com/bazelment/yoloswe/agentbridge/protocol"
	"github.com/bazelment/yoloswe/agentbridge/transport"
)

// StopReasonCancelled is the stop reason of an interrupted query.
const StopReasonCancelled = "cancelled"

// maxUnclaimedResults bounds how many finished queries whose stream was
// never claimed stay readable.
const maxUnclaimedResults = 64

// exitWait bounds how long the reader waits for the process exit status
// after end of output.
const exitWait = 5 * time.Second

type laneItem struct {
	msg  protocol.Message
	err  error
	line []byte
}

type blockKey struct {
	query string
	index int
}

type blockState struct {
	kind protocol.ContentBlockType
	buf  strings.Builder
}

type folded struct {
	kind protocol.ContentBlockType
	text string
}

// turnRef identifies the last completed turn, the point a fork resumes at.
type turnRef struct {
	sessionID     string
	assistantUUID string
}

// engine is the query state. Only the engine goroutine touches it.
type engine struct {
	fatal         error
	blocks        map[blockKey]*blockState
	lastTurn      turnRef
	messageID     string
	stopReason    string
	lastAssistant string
	pending       []*pendingRequest
	unclaimed     []*pendingRequest
	// folded holds blocks already delivered from stream events, so the
	// complete assistant message that follows does not repeat them.
	folded     []folded
	malformed  int
	terminated bool
}

// pendingRequest correlates a query with its consumer.
type pendingRequest struct {
	sink    chan Message
	final   chan Message
	id      string
	claimed atomic.Bool
	partial bool

	// Engine owned.
	interrupted bool
	// interruptQueued is set when Interrupt arrived while the query was
	// still waiting behind another one.
	interruptQueued bool
	detached    bool
	done        bool
}

func newPendingRequest(id string, size int, partial bool) *pendingRequest {
	return &pendingRequest{
		id:      id,
		sink:    make(chan Message, size),
		final:   make(chan Message, 1),
		partial: partial,
	}
}

type queryConfig struct {
	partial bool
}

// QueryOption configures a single query.
type QueryOption func(*queryConfig)

// WithPartials overrides whether the query receives AssistantPartial
// deltas. Deltas only exist when the session was started with
// WithIncludePartialMessages.
func WithPartials(on bool) QueryOption {
	return func(c *queryConfig) {
		c.partial = on
	}
}

func (s *Session) readLoop() error {
	defer close(s.lane)
	for {
		line, err := s.conn.ReadLine()
		if errors.Is(err, ndjson.ErrLineTooLong) {
			if !s.forward(laneItem{err: &protocol.DecodeError{Cause: err}}) {
				return nil
			}
			continue
		}
		if err != nil {
			s.readErr = s.classifyReadErr(err)
			return nil
		}
		s.record(protocol.DirectionReceived, line)

		msg, perr := protocol.ParseMessage(line)
		if perr == nil {
			switch m := msg.(type) {
			case protocol.ControlRequest:
				select {
				case s.controlLane <- m:
				case <-s.stopCh:
					return nil
				}
				continue
			case protocol.ControlResponse:
				s.resolveControl(m.Response)
				continue
			case protocol.ControlCancelRequest:
				s.cancelControl(m.RequestID)
				continue
			}
		}
		if !s.forward(laneItem{msg: msg, err: perr, line: line}) {
			return nil
		}
	}
}

// forward hands an item to the engine. It blocks while the engine is
// blocked on a slow consumer, which stops the reader from draining the pipe.
func (s *Session) forward(it laneItem) bool {
	select {
	case s.lane <- it:
		return true
	case <-s.stopCh:
		return false
	}
}

func (s *Session) classifyReadErr(err error) error {
	if errors.Is(err, io.EOF) {
		if werr := waitExit(s.conn, exitWait); werr != nil {
			return werr
		}
		return ErrPrematureEnd
	}
	var te *transport.Error
	if errors.As(err, &te) {
		return err
	}
	return &transport.Error{Op: "read", Cause: err}
}

func (s *Session) engineLoop() error {
	defer close(s.engineDone)
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case it, ok := <-s.lane:
			if !ok {
				cause := s.readErr
				select {
				case <-s.stopCh:
					cause = s.haltCause
				default:
				}
				s.logger.Debug("agent output ended", "cause", cause)
				s.halt(cause)
				s.terminate(cause)
				return nil
			}
			s.dispatch(it)
			if s.eng.fatal != nil {
				s.logger.Error("terminating session", "error", s.eng.fatal)
				s.halt(s.eng.fatal)
				s.terminate(s.eng.fatal)
				return nil
			}
		case <-s.stopCh:
			s.terminate(s.haltCause)
			return nil
		}
	}
}

func (s *Session) dispatch(it laneItem) {
	if it.err != nil {
		s.decodeFailure(it.err, it.line)
		return
	}
	s.eng.malformed = 0

	switch m := it.msg.(type) {
	case protocol.SystemMessage:
		s.onSystem(m)
	case protocol.AssistantMessage:
		s.onAssistant(m)
	case protocol.UserMessage:
		s.onUser(m)
	case protocol.StreamEvent:
		s.onStreamEvent(m, it.line)
	case protocol.ResultMessage:
		s.onResult(m)
	}
}

// decodeFailure reports a line that could not be turned into a message.
// Unknown message types are reported but do not count towards the
// consecutive malformed line limit.
func (s *Session) decodeFailure(err error, line []byte) {
	reason := "malformed"
	var ute *protocol.UnknownTypeError
	if errors.As(err, &ute) {
		reason = "unknown_type"
	} else {
		s.eng.malformed++
	}
	s.metrics.protocolError(reason)
	s.malformedLog.Do(func() {
		s.logger.Warn("undecodable line from agent", "reason", reason, "error", err, "line", truncate(string(line), 200))
	})

	if p := s.active(); p != nil {
		s.deliver(p, &ProtocolError{Meta: Meta{Query: p.id}, Err: err, Line: string(line)})
	}
	if s.eng.malformed >= MaxConsecutiveProtocolErrors {
		s.eng.fatal = fmt.Errorf("%w: %d in a row", ErrTooManyProtocolErrors, s.eng.malformed)
	}
}

func (s *Session) onSystem(m protocol.SystemMessage) {
	if m.Subtype != "init" {
		s.logger.Debug("system message", "subtype", m.Subtype)
		return
	}
	s.mu.Lock()
	s.info = &SessionInfo{
		SessionID:      m.SessionID,
		Model:          m.Model,
		CWD:            m.CWD,
		PermissionMode: m.PermissionMode,
		CLIVersion:     m.CLIVersion,
		Tools:          m.Tools,
		MCPServers:     m.MCPServers,
	}
	s.mu.Unlock()

	if p := s.active(); p != nil {
		s.deliver(p, SystemInit{
			Meta:           Meta{Query: p.id},
			SessionID:      m.SessionID,
			Model:          m.Model,
			CWD:            m.CWD,
			PermissionMode: m.PermissionMode,
			CLIVersion:     m.CLIVersion,
			Tools:          m.Tools,
			MCPServers:     m.MCPServers,
		})
	}
}

func (s *Session) onAssistant(m protocol.AssistantMessage) {
	if m.UUID != "" {
		s.eng.lastAssistant = m.UUID
	}
	p := s.active()
	if p == nil {
		s.logger.Debug("dropping assistant message with no active query", "uuid", m.UUID)
		return
	}
	parent := deref(m.ParentToolUseID)
	for i, block := range m.Message.Content {
		switch b := block.(type) {
		case protocol.TextBlock:
			if s.consumeFolded(protocol.ContentBlockTypeText, b.Text) {
				continue
			}
			s.deliver(p, AssistantText{
				Meta:            Meta{Query: p.id},
				MessageID:       m.Message.ID,
				Text:            b.Text,
				ParentToolUseID: parent,
				Index:           i,
			})
		case protocol.ThinkingBlock:
			if s.consumeFolded(protocol.ContentBlockTypeThinking, b.Thinking) {
				continue
			}
			s.deliver(p, AssistantThinking{
				Meta:      Meta{Query: p.id},
				MessageID: m.Message.ID,
				Thinking:  b.Thinking,
				Index:     i,
			})
		case protocol.ToolUseBlock:
			s.deliver(p, ToolUseRequest{
				Meta:            Meta{Query: p.id},
				Input:           b.Input,
				ID:              b.ID,
				Name:            b.Name,
				ParentToolUseID: parent,
			})
		}
	}
}

func (s *Session) onUser(m protocol.UserMessage) {
	p := s.active()
	if p == nil {
		return
	}
	for _, block := range m.Message.Content {
		if b, ok := block.(protocol.ToolResultBlock); ok {
			s.deliver(p, ToolResult{
				Meta:      Meta{Query: p.id},
				ToolUseID: b.ToolUseID,
				Content:   b.Text(),
				IsError:   b.IsError,
			})
		}
	}
}

// onStreamEvent folds partial deltas into the accumulator. Subscribed
// queries see every delta; all queries see the folded block once it stops.
func (s *Session) onStreamEvent(m protocol.StreamEvent, line []byte) {
	ev, err := m.Parsed()
	if err != nil {
		s.decodeFailure(err, line)
		return
	}
	if ev == nil {
		return
	}
	p := s.active()
	if p == nil {
		return
	}

	switch e := ev.(type) {
	case protocol.MessageStartEvent:
		s.eng.messageID = e.Message.ID
		s.eng.stopReason = ""
		s.eng.folded = s.eng.folded[:0]
		s.dropBlocks(p.id)
	case protocol.ContentBlockStartEvent:
		st := &blockState{}
		if b, err := e.Block(); err == nil && b != nil {
			st.kind = b.BlockType()
		}
		s.eng.blocks[blockKey{p.id, e.Index}] = st
	case protocol.ContentBlockDeltaEvent:
		key := blockKey{p.id, e.Index}
		st, ok := s.eng.blocks[key]
		if !ok {
			st = &blockState{kind: kindForDelta(e.Delta.Type)}
			s.eng.blocks[key] = st
		}
		fragment := e.Delta.Fragment()
		if e.Delta.Type != protocol.DeltaTypeSignature {
			st.buf.WriteString(fragment)
		}
		if p.partial {
			s.deliver(p, AssistantPartial{
				Meta:      Meta{Query: p.id},
				MessageID: s.eng.messageID,
				DeltaType: e.Delta.Type,
				Fragment:  fragment,
				Index:     e.Index,
			})
		}
	case protocol.ContentBlockStopEvent:
		key := blockKey{p.id, e.Index}
		st, ok := s.eng.blocks[key]
		if !ok {
			return
		}
		delete(s.eng.blocks, key)
		text := st.buf.String()
		switch st.kind {
		case protocol.ContentBlockTypeText:
			s.eng.folded = append(s.eng.folded, folded{kind: st.kind, text: text})
			s.deliver(p, AssistantText{
				Meta:            Meta{Query: p.id},
				MessageID:       s.eng.messageID,
				Text:            text,
				ParentToolUseID: deref(m.ParentToolUseID),
				Index:           e.Index,
			})
		case protocol.ContentBlockTypeThinking:
			s.eng.folded = append(s.eng.folded, folded{kind: st.kind, text: text})
			s.deliver(p, AssistantThinking{
				Meta:      Meta{Query: p.id},
				MessageID: s.eng.messageID,
				Thinking:  text,
				Index:     e.Index,
			})
		}
	case protocol.MessageDeltaEvent:
		if r := deref(e.Delta.StopReason); r != "" {
			s.eng.stopReason = r
		}
	}
}

func (s *Session) onResult(m protocol.ResultMessage) {
	if m.SessionID != "" {
		s.eng.lastTurn = turnRef{sessionID: m.SessionID, assistantUUID: s.eng.lastAssistant}
	}

	cost := decimal.Zero
	if m.TotalCostUSD != "" {
		if c, err := decimal.NewFromString(m.TotalCostUSD.String()); err == nil {
			cost = c
		} else {
			s.logger.Warn("unparseable result cost", "value", m.TotalCostUSD, "error", err)
		}
	}
	s.mu.Lock()
	s.totalCost = s.totalCost.Add(cost)
	total := s.totalCost
	if s.info == nil {
		s.info = &SessionInfo{SessionID: m.SessionID}
	} else if s.info.SessionID == "" {
		s.info.SessionID = m.SessionID
	}
	s.mu.Unlock()
	s.metrics.cost(cost.InexactFloat64())

	p := s.active()
	if p == nil {
		s.logger.Debug("dropping result with no active query", "session", m.SessionID)
		return
	}

	stop := deref(m.StopReason)
	if stop == "" {
		stop = s.eng.stopReason
	}
	rf := ResultFinal{
		Meta:        Meta{Query: p.id},
		Usage:       m.Usage,
		CostUSD:     cost,
		SessionID:   m.SessionID,
		Subtype:     m.Subtype,
		Result:      m.Result,
		StopReason:  stop,
		NumTurns:    m.NumTurns,
		Duration:    time.Duration(m.DurationMs) * time.Millisecond,
		IsError:     m.IsError,
		Interrupted: p.interrupted,
	}
	if p.interrupted {
		rf.StopReason = StopReasonCancelled
	}
	if s.config.MaxBudgetUSD.IsPositive() && total.GreaterThanOrEqual(s.config.MaxBudgetUSD) {
		rf.Err = fmt.Errorf("%w: spent %s of %s USD", ErrBudgetExceeded, total.String(), s.config.MaxBudgetUSD.String())
	}

	s.eng.folded = s.eng.folded[:0]
	s.eng.stopReason = ""
	s.finish(p, rf)
}

// terminate ends every outstanding query. Interrupted queries end with a
// cancelled ResultFinal, all others with a fatal ProtocolError.
func (s *Session) terminate(cause error) {
	if s.eng.terminated {
		return
	}
	s.eng.terminated = true
	s.setStatus(StatusTerminated)

	pending := s.eng.pending
	s.eng.pending = nil
	for _, p := range pending {
		if p.interrupted {
			s.finish(p, ResultFinal{
				Meta:        Meta{Query: p.id},
				Subtype:     "interrupted",
				StopReason:  StopReasonCancelled,
				Interrupted: true,
			})
			continue
		}
		s.finish(p, &ProtocolError{Meta: Meta{Query: p.id}, Err: cause, Fatal: true})
	}
	clear(s.eng.blocks)
	s.metrics.sessionEnded()
}

func (s *Session) register(p *pendingRequest) error {
	if s.eng.terminated {
		return ErrSessionClosed
	}
	if !s.config.MultiTurn && len(s.eng.pending) > 0 {
		return ErrQueryInProgress
	}
	s.eng.pending = append(s.eng.pending, p)
	return nil
}

// abort ends a query whose prompt never reached the agent.
func (s *Session) abort(p *pendingRequest, err error) {
	if p.done {
		return
	}
	s.finish(p, &ProtocolError{Meta: Meta{Query: p.id}, Err: err, Fatal: true})
}

// requestInterrupt reports whether an interrupt for p must be sent now.
// The agent's interrupt carries no query id and stops the running turn, so
// a query queued behind another is only marked and interrupted once it
// reaches the head.
func (s *Session) requestInterrupt(p *pendingRequest) bool {
	if p.done || p.interrupted {
		return false
	}
	if s.active() != p {
		p.interruptQueued = true
		return false
	}
	p.interrupted = true
	return true
}

// promote sends the interrupt queued for the new head query, if any.
func (s *Session) promote() {
	p := s.active()
	if p == nil || !p.interruptQueued || s.eng.terminated {
		return
	}
	p.interruptQueued = false
	p.interrupted = true
	s.group.Go(func() error {
		if err := s.sendInterrupt(p.id); err != nil {
			s.logger.Debug("queued interrupt not sent", "query_id", p.id, "error", err)
		}
		return nil
	})
}

// detach drops further messages for a query whose consumer went away.
func (s *Session) detach(p *pendingRequest) {
	p.detached = true
}

// active is the query the agent is currently answering.
func (s *Session) active() *pendingRequest {
	if len(s.eng.pending) == 0 {
		return nil
	}
	return s.eng.pending[0]
}

// deliver queues m for p, blocking while p's queue is full. Commands keep
// being served while blocked so that consumers can detach or interrupt.
func (s *Session) deliver(p *pendingRequest, m Message) bool {
	if p.detached || p.done {
		return false
	}
	select {
	case p.sink <- m:
		s.metrics.message(m.Kind())
		return true
	default:
	}

	s.metrics.backpressure()
	for {
		select {
		case p.sink <- m:
			s.metrics.message(m.Kind())
			return true
		case fn := <-s.cmds:
			fn()
			if p.detached || p.done {
				return false
			}
		case <-s.stopCh:
			return false
		}
	}
}

// finish hands p its terminal message and closes its stream. The terminal
// message goes to a reserved slot so that finishing never blocks.
func (s *Session) finish(p *pendingRequest, m Message) {
	if p.done {
		return
	}
	p.done = true
	p.final <- m
	close(p.sink)
	s.metrics.message(m.Kind())
	s.removePending(p)
	s.dropBlocks(p.id)
	s.retain(p)
	s.logger.Debug("query finished", "query_id", p.id, "kind", m.Kind())
	s.promote()
}

// retain keeps a finished query nobody claimed readable through Stream.
// Past maxUnclaimedResults the oldest one is forgotten. Claimed queries are
// forgotten by their Stream.
func (s *Session) retain(p *pendingRequest) {
	if p.claimed.Load() {
		return
	}
	s.eng.unclaimed = append(s.eng.unclaimed, p)
	if len(s.eng.unclaimed) <= maxUnclaimedResults {
		return
	}
	old := s.eng.unclaimed[0]
	s.eng.unclaimed = slices.Delete(s.eng.unclaimed, 0, 1)
	s.streamsMu.Lock()
	if !old.claimed.Load() {
		delete(s.streams, old.id)
	}
	s.streamsMu.Unlock()
}

func (s *Session) removePending(p *pendingRequest) {
	for i, q := range s.eng.pending {
		if q == p {
			s.eng.pending = append(s.eng.pending[:i], s.eng.pending[i+1:]...)
			return
		}
	}
}

func (s *Session) dropBlocks(queryID string) {
	for k := range s.eng.blocks {
		if k.query == queryID {
			delete(s.eng.blocks, k)
		}
	}
}

func (s *Session) consumeFolded(kind protocol.ContentBlockType, text string) bool {
	for i, f := range s.eng.folded {
		if f.kind == kind && f.text == text {
			s.eng.folded = append(s.eng.folded[:i], s.eng.folded[i+1:]...)
			return true
		}
	}
	return false
}

func kindForDelta(deltaType string) protocol.ContentBlockType {
	switch deltaType {
	case protocol.DeltaTypeThinking, protocol.DeltaTypeSignature:
		return protocol.ContentBlockTypeThinking
	case protocol.DeltaTypeInputJSON:
		return protocol.ContentBlockTypeToolUse
	}
	return protocol.ContentBlockTypeText
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
