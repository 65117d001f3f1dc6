package claude

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bazelment/yoloswe/agentbridge/hooks"
	"github.com/bazelment/yoloswe/agentbridge/internal/ndjson"
	"github.com/bazelment/yoloswe/agentbridge/protocol"
	"github.com/bazelment/yoloswe/agentbridge/sdkmcp"
)

// Status is the lifecycle status of a Session.
type Status int32

const (
	StatusProvisioning Status = iota
	StatusRunning
	StatusForking
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusProvisioning:
		return "provisioning"
	case StatusRunning:
		return "running"
	case StatusForking:
		return "forking"
	case StatusTerminated:
		return "terminated"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// SessionInfo is the agent metadata reported by the system init message.
type SessionInfo struct {
	SessionID      string
	Model          string
	CWD            string
	PermissionMode string
	CLIVersion     string
	Tools          []string
	MCPServers     []protocol.MCPServer
}

type hookBinding struct {
	fn      hooks.Func
	event   hooks.Event
	timeout time.Duration
}

type sdkServer struct {
	registry *sdkmcp.Registry
	router   *sdkmcp.Router
}

// Session drives one agent process. It is safe for concurrent use.
//
// Three goroutines serve a started session. The reader decodes lines and
// splits them into two lanes: control requests go to the control worker,
// which is always drained, and agent messages go to the engine, which owns
// all query state and blocks when a consumer is slow.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   Conn
	trace  *ndjson.Writer
	logger *slog.Logger

	metrics *Metrics
	routers map[string]sdkServer
	hookFns map[string]hookBinding
	hookCfg map[string][]protocol.HookMatcher

	lane        chan laneItem
	controlLane chan protocol.ControlRequest
	cmds        chan func()
	stopCh      chan struct{}
	engineDone  chan struct{}
	haltCause   error
	readErr     error

	pendingControl map[string]chan protocol.ControlResponsePayload
	inflight       map[string]context.CancelFunc
	streams        map[string]*pendingRequest
	info           *SessionInfo

	id       string
	parentID string

	eng    engine
	config SessionConfig

	totalCost decimal.Decimal
	group     errgroup.Group

	malformedLog rate.Sometimes

	haltOnce  sync.Once
	startMu   sync.Mutex
	queryMu   sync.Mutex
	ctrlMu    sync.Mutex
	streamsMu sync.Mutex
	mu        sync.Mutex

	status  atomic.Int32
	started atomic.Bool
}

// NewSession creates a new session with the given options.
func NewSession(opts ...SessionOption) *Session {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return newSession(config)
}

func newSession(config SessionConfig) *Session {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.InitTimeout <= 0 {
		config.InitTimeout = DefaultInitTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:             uuid.NewString(),
		config:         config,
		ctx:            ctx,
		cancel:         cancel,
		metrics:        config.Metrics,
		routers:        make(map[string]sdkServer, len(config.SDKServers)),
		hookFns:        make(map[string]hookBinding),
		hookCfg:        make(map[string][]protocol.HookMatcher),
		lane:           make(chan laneItem, config.QueueSize),
		controlLane:    make(chan protocol.ControlRequest, 64),
		cmds:           make(chan func()),
		stopCh:         make(chan struct{}),
		engineDone:     make(chan struct{}),
		pendingControl: make(map[string]chan protocol.ControlResponsePayload),
		inflight:       make(map[string]context.CancelFunc),
		streams:        make(map[string]*pendingRequest),
		malformedLog:   rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	s.eng.blocks = make(map[blockKey]*blockState)
	s.logger = config.Logger.With("session_id", s.id)
	if config.Trace != nil {
		s.trace = ndjson.NewWriter(config.Trace)
	}

	for name, srv := range config.SDKServers {
		ropts := []sdkmcp.RouterOption{
			sdkmcp.WithLogger(s.logger),
			sdkmcp.WithCallObserver(s.metrics.toolObserver(name)),
		}
		s.routers[name] = sdkServer{
			registry: srv.Registry,
			router:   sdkmcp.NewRouter(name, append(ropts, srv.Options...)...),
		}
	}
	s.registerHooks()
	return s
}

// registerHooks assigns callback ids in a stable order so that the
// initialize request is deterministic.
func (s *Session) registerHooks() {
	n := 0
	for _, event := range slices.Sorted(maps.Keys(s.config.Hooks)) {
		for _, m := range s.config.Hooks[event] {
			hm := protocol.HookMatcher{HookCallbackIDs: []string{}}
			if m.Pattern != "" {
				pattern := m.Pattern
				hm.Matcher = &pattern
			}
			if m.Timeout > 0 {
				secs := m.Timeout.Seconds()
				hm.Timeout = &secs
			}
			for _, fn := range m.Hooks {
				id := fmt.Sprintf("hook_%d", n)
				n++
				s.hookFns[id] = hookBinding{fn: fn, event: event, timeout: m.Timeout}
				hm.HookCallbackIDs = append(hm.HookCallbackIDs, id)
			}
			s.hookCfg[string(event)] = append(s.hookCfg[string(event)], hm)
		}
	}
}

// Start connects to the agent and performs the initialize handshake.
func (s *Session) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.Status() == StatusTerminated {
		return ErrSessionClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	dial := s.config.Dialer
	if dial == nil {
		dial = dialProcess
	}
	conn, err := dial(ctx, s.config)
	if err != nil {
		s.setStatus(StatusTerminated)
		s.cancel()
		close(s.engineDone)
		return err
	}
	s.conn = conn

	s.group.Go(s.readLoop)
	s.group.Go(s.engineLoop)
	s.group.Go(s.controlLoop)
	s.metrics.sessionStarted()

	initCtx, cancel := context.WithTimeout(ctx, s.config.InitTimeout)
	defer cancel()
	if _, err := s.sendControl(initCtx, func(id string) any {
		return protocol.NewInitialize(id, s.hookCfg)
	}); err != nil {
		err = fmt.Errorf("initialize: %w", err)
		s.halt(err)
		_ = s.group.Wait()
		return err
	}

	s.status.CompareAndSwap(int32(StatusProvisioning), int32(StatusRunning))
	s.logger.Debug("session started", "parent_id", s.parentID)
	return nil
}

// Query submits a prompt and returns its correlation id. Messages for the
// query are read with Stream.
func (s *Session) Query(ctx context.Context, prompt string, opts ...QueryOption) (string, error) {
	if err := s.checkRunning(); err != nil {
		return "", err
	}
	qc := queryConfig{partial: s.config.IncludePartialMessages}
	for _, opt := range opts {
		opt(&qc)
	}

	p := newPendingRequest(uuid.NewString(), s.config.QueueSize, qc.partial)

	// Registration and the prompt write happen under one lock so that the
	// order of the pending log matches the order the agent sees prompts.
	s.queryMu.Lock()
	defer s.queryMu.Unlock()

	var regErr error
	if err := s.do(ctx, func() { regErr = s.register(p) }); err != nil {
		return "", err
	}
	if regErr != nil {
		return "", regErr
	}
	s.streamsMu.Lock()
	s.streams[p.id] = p
	s.streamsMu.Unlock()

	if err := s.send(protocol.NewUserInput(s.cliSessionID(), prompt)); err != nil {
		_ = s.do(context.WithoutCancel(ctx), func() { s.abort(p, err) })
		return "", fmt.Errorf("send prompt: %w", err)
	}
	s.logger.Debug("query submitted", "query_id", p.id)
	return p.id, nil
}

// Stream returns the message stream of a query. Only one consumer may claim
// a query's stream. Once a claimed stream is drained or closed the query id
// is forgotten.
func (s *Session) Stream(queryID string) (*Stream, error) {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	p, ok := s.streams[queryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuery, queryID)
	}
	if !p.claimed.CompareAndSwap(false, true) {
		return nil, ErrStreamClaimed
	}
	return &Stream{session: s, pending: p}, nil
}

// Interrupt asks the agent to stop working on a query. It is best effort:
// the query's stream ends with a ResultFinal whose Interrupted flag is set.
// A query still queued behind another is interrupted once it starts.
// Interrupting a query that already completed is a no-op.
func (s *Session) Interrupt(ctx context.Context, queryID string) error {
	s.streamsMu.Lock()
	p, ok := s.streams[queryID]
	s.streamsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuery, queryID)
	}

	var now bool
	if err := s.do(ctx, func() { now = s.requestInterrupt(p) }); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return nil
		}
		return err
	}
	if !now {
		return nil
	}
	return s.sendInterrupt(queryID)
}

func (s *Session) sendInterrupt(queryID string) error {
	s.logger.Debug("interrupting query", "query_id", queryID)
	return s.send(protocol.NewInterrupt(s.newRequestID()))
}

func (s *Session) forget(queryID string) {
	s.streamsMu.Lock()
	delete(s.streams, queryID)
	s.streamsMu.Unlock()
}

// Fork starts a new session that continues from this session's most recent
// completed turn. The two sessions share no state afterwards.
func (s *Session) Fork(ctx context.Context) (*Session, error) {
	if !s.status.CompareAndSwap(int32(StatusRunning), int32(StatusForking)) {
		if s.Status() == StatusTerminated {
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("fork: session is %s", s.Status())
	}
	defer s.status.CompareAndSwap(int32(StatusForking), int32(StatusRunning))

	var ref turnRef
	if err := s.do(ctx, func() { ref = s.eng.lastTurn }); err != nil {
		return nil, err
	}
	if ref.sessionID == "" {
		return nil, ErrNoCompletedTurn
	}

	cfg := s.config.clone()
	cfg.Resume = ref.sessionID
	cfg.ResumeAt = ref.assistantUUID
	cfg.ForkSession = true

	child := newSession(cfg)
	child.parentID = s.id
	if err := child.Start(ctx); err != nil {
		return nil, fmt.Errorf("fork: %w", err)
	}
	s.logger.Debug("session forked", "child_id", child.id, "resume", ref.sessionID, "resume_at", ref.assistantUUID)
	return child, nil
}

// SetModel switches the model for subsequent turns.
func (s *Session) SetModel(ctx context.Context, model string) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	ctx, cancel := withDefaultTimeout(ctx, DefaultControlTimeout)
	defer cancel()
	_, err := s.sendControl(ctx, func(id string) any { return protocol.NewSetModel(id, model) })
	return err
}

// SetPermissionMode changes the permission mode.
func (s *Session) SetPermissionMode(ctx context.Context, mode PermissionMode) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	ctx, cancel := withDefaultTimeout(ctx, DefaultControlTimeout)
	defer cancel()
	_, err := s.sendControl(ctx, func(id string) any { return protocol.NewSetPermissionMode(id, string(mode)) })
	return err
}

// Stop terminates the session. Every outstanding query receives a terminal
// message and the agent process is shut down. Stop is idempotent.
func (s *Session) Stop() error {
	s.startMu.Lock()
	if !s.started.Load() {
		if s.Status() != StatusTerminated {
			s.setStatus(StatusTerminated)
			s.cancel()
			close(s.engineDone)
		}
		s.startMu.Unlock()
		return nil
	}
	s.startMu.Unlock()

	s.halt(ErrSessionClosed)
	_ = s.group.Wait()
	return nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// ParentID returns the id of the session this one was forked from, or "".
func (s *Session) ParentID() string { return s.parentID }

// Status returns the lifecycle status.
func (s *Session) Status() Status { return Status(s.status.Load()) }

// Info returns the agent metadata, or nil before the init message arrived.
func (s *Session) Info() *SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		return nil
	}
	info := *s.info
	info.Tools = slices.Clone(s.info.Tools)
	info.MCPServers = slices.Clone(s.info.MCPServers)
	return &info
}

// TotalCostUSD returns the cumulative cost reported by the agent.
func (s *Session) TotalCostUSD() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalCost
}

// Done is closed once the session has terminated and its engine exited.
func (s *Session) Done() <-chan struct{} { return s.engineDone }

func (s *Session) setStatus(st Status) { s.status.Store(int32(st)) }

func (s *Session) checkRunning() error {
	switch s.Status() {
	case StatusRunning, StatusForking:
		return nil
	case StatusProvisioning:
		return ErrNotStarted
	default:
		return ErrSessionClosed
	}
}

func (s *Session) cliSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info != nil && s.info.SessionID != "" {
		return s.info.SessionID
	}
	return "default"
}

// halt begins shutdown: it releases every goroutine waiting on the session
// and closes the connection. The first cause wins.
func (s *Session) halt(cause error) {
	s.haltOnce.Do(func() {
		s.haltCause = cause
		s.setStatus(StatusTerminated)
		s.cancel()
		close(s.stopCh)
		if s.conn != nil {
			conn := s.conn
			s.group.Go(func() error {
				_ = conn.Close()
				return nil
			})
		}
	})
}

// do runs fn on the engine goroutine and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(done) }:
	case <-s.engineDone:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// The engine runs a command to completion once it accepted it.
	<-done
	return nil
}

// send marshals v and writes it as one line.
func (s *Session) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	s.record(protocol.DirectionSent, data)
	return s.conn.WriteLine(data)
}

func (s *Session) record(direction string, line []byte) {
	if s.trace == nil {
		return
	}
	if err := s.trace.WriteJSON(protocol.NewTraceEntry(s.id, direction, line)); err != nil {
		s.logger.Debug("trace write failed", "error", err)
	}
}

// sendControl sends a control request built by build and waits for the
// matching control_response.
func (s *Session) sendControl(ctx context.Context, build func(id string) any) (json.RawMessage, error) {
	id := s.newRequestID()
	ch := make(chan protocol.ControlResponsePayload, 1)

	s.ctrlMu.Lock()
	s.pendingControl[id] = ch
	s.ctrlMu.Unlock()
	defer func() {
		s.ctrlMu.Lock()
		delete(s.pendingControl, id)
		s.ctrlMu.Unlock()
	}()

	if err := s.send(build(id)); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if !resp.OK() {
			return nil, fmt.Errorf("%w: %s", ErrControlRequestRejected, resp.Error)
		}
		return resp.Response, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("control request %s: %w", id, ErrTimeout)
		}
		return nil, ctx.Err()
	case <-s.stopCh:
		return nil, s.haltCause
	}
}

func (s *Session) resolveControl(resp protocol.ControlResponsePayload) {
	s.ctrlMu.Lock()
	ch, ok := s.pendingControl[resp.RequestID]
	s.ctrlMu.Unlock()
	if !ok {
		s.logger.Debug("unmatched control response", "request_id", resp.RequestID)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// newRequestID generates a unique control request id.
func (s *Session) newRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixNano(), hex.EncodeToString(b))
}

func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
