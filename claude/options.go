package claude

import (
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazelment/yoloswe/agentbridge/hooks"
	"github.com/bazelment/yoloswe/agentbridge/sdkmcp"
)

// PermissionMode controls tool execution approval.
type PermissionMode string

const (
	// PermissionModeDefault prompts for each dangerous operation.
	PermissionModeDefault PermissionMode = "default"
	// PermissionModeAcceptEdits auto-approves file modifications.
	PermissionModeAcceptEdits PermissionMode = "acceptEdits"
	// PermissionModePlan reviews plan before execution.
	PermissionModePlan PermissionMode = "plan"
	// PermissionModeBypass auto-approves all tools (use with caution).
	PermissionModeBypass PermissionMode = "bypassPermissions"
)

const (
	// DefaultQueueSize is the capacity of each query's message queue.
	DefaultQueueSize = 16
	// MaxConsecutiveProtocolErrors malformed lines in a row terminate the
	// session.
	MaxConsecutiveProtocolErrors = 5
	// DefaultInitTimeout bounds the initialize handshake.
	DefaultInitTimeout = 60 * time.Second
	// DefaultControlTimeout bounds set_model and set_permission_mode.
	DefaultControlTimeout = 30 * time.Second
)

// SDKServer is an in-process MCP server exposed to the CLI.
type SDKServer struct {
	Registry *sdkmcp.Registry
	Options  []sdkmcp.RouterOption
}

// SessionConfig holds session configuration.
type SessionConfig struct {
	// Logger receives session diagnostics. Defaults to a no-op logger.
	Logger *slog.Logger

	// Metrics, when set, receives session counters.
	Metrics *Metrics

	// Trace, when set, receives every sent and received line as a
	// protocol.TraceEntry.
	Trace io.Writer

	// Dialer opens the connection to the agent. Defaults to spawning the CLI.
	Dialer Dialer

	// CanUseTool answers can_use_tool permission prompts. When nil, the CLI
	// is not asked to route prompts to the SDK.
	CanUseTool hooks.PermissionFunc

	// Hooks registers lifecycle hook callbacks per event.
	Hooks map[hooks.Event][]hooks.Matcher

	// SDKServers maps MCP server names to in-process tool registries.
	SDKServers map[string]SDKServer

	// StderrHandler receives CLI stderr, one line per call.
	StderrHandler func(line string)

	// Env is appended to the inherited environment of the CLI.
	Env map[string]string

	// Model to use, e.g. "sonnet". Empty leaves the CLI default.
	Model string

	// PermissionMode controls tool execution approval.
	PermissionMode PermissionMode

	// WorkDir is the working directory of the CLI.
	WorkDir string

	// CLIPath is the path to the Claude CLI binary ("claude" in PATH if empty).
	CLIPath string

	SystemPrompt       string
	AppendSystemPrompt string

	// Resume is the CLI session ID to resume.
	Resume string
	// ResumeAt resumes at a specific assistant message uuid.
	ResumeAt string
	// ForkSession makes a resumed session branch into a new CLI session.
	ForkSession bool

	AllowedTools    []string
	DisallowedTools []string
	ExtraArgs       []string

	MaxBudgetUSD decimal.Decimal

	QueueSize   int
	MaxTurns    int
	InitTimeout time.Duration

	// IncludePartialMessages subscribes queries to streaming deltas by default.
	IncludePartialMessages bool

	// MultiTurn lets several queries be outstanding at once. They are
	// answered in submission order.
	MultiTurn bool
}

// SessionOption is a functional option for configuring a Session.
type SessionOption func(*SessionConfig)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(c *SessionConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithMetrics records session metrics.
func WithMetrics(m *Metrics) SessionOption {
	return func(c *SessionConfig) {
		c.Metrics = m
	}
}

// WithTrace records every protocol line to w.
func WithTrace(w io.Writer) SessionOption {
	return func(c *SessionConfig) {
		c.Trace = w
	}
}

// WithDialer replaces the process dialer.
func WithDialer(d Dialer) SessionOption {
	return func(c *SessionConfig) {
		c.Dialer = d
	}
}

// WithModel sets the model to use.
func WithModel(model string) SessionOption {
	return func(c *SessionConfig) {
		c.Model = model
	}
}

// WithWorkDir sets the working directory.
func WithWorkDir(dir string) SessionOption {
	return func(c *SessionConfig) {
		c.WorkDir = dir
	}
}

// WithPermissionMode sets the permission mode.
func WithPermissionMode(mode PermissionMode) SessionOption {
	return func(c *SessionConfig) {
		c.PermissionMode = mode
	}
}

// WithCLIPath sets a custom CLI binary path.
func WithCLIPath(path string) SessionOption {
	return func(c *SessionConfig) {
		c.CLIPath = path
	}
}

// WithSystemPrompt replaces the system prompt.
func WithSystemPrompt(prompt string) SessionOption {
	return func(c *SessionConfig) {
		c.SystemPrompt = prompt
	}
}

// WithAppendSystemPrompt appends to the default system prompt.
func WithAppendSystemPrompt(prompt string) SessionOption {
	return func(c *SessionConfig) {
		c.AppendSystemPrompt = prompt
	}
}

// WithAllowedTools restricts the CLI to the given tools.
func WithAllowedTools(tools ...string) SessionOption {
	return func(c *SessionConfig) {
		c.AllowedTools = append(c.AllowedTools, tools...)
	}
}

// WithDisallowedTools removes tools from the CLI.
func WithDisallowedTools(tools ...string) SessionOption {
	return func(c *SessionConfig) {
		c.DisallowedTools = append(c.DisallowedTools, tools...)
	}
}

// WithExtraArgs appends raw CLI arguments.
func WithExtraArgs(args ...string) SessionOption {
	return func(c *SessionConfig) {
		c.ExtraArgs = append(c.ExtraArgs, args...)
	}
}

// WithEnv adds an environment variable for the CLI.
func WithEnv(key, value string) SessionOption {
	return func(c *SessionConfig) {
		if c.Env == nil {
			c.Env = make(map[string]string)
		}
		c.Env[key] = value
	}
}

// WithStderrHandler sets a handler for CLI stderr output.
func WithStderrHandler(h func(line string)) SessionOption {
	return func(c *SessionConfig) {
		c.StderrHandler = h
	}
}

// WithCanUseTool routes permission prompts to fn.
func WithCanUseTool(fn hooks.PermissionFunc) SessionOption {
	return func(c *SessionConfig) {
		c.CanUseTool = fn
	}
}

// WithHook registers lifecycle hook matchers for event.
func WithHook(event hooks.Event, matchers ...hooks.Matcher) SessionOption {
	return func(c *SessionConfig) {
		if c.Hooks == nil {
			c.Hooks = make(map[hooks.Event][]hooks.Matcher)
		}
		c.Hooks[event] = append(c.Hooks[event], matchers...)
	}
}

// WithSDKServer exposes reg to the CLI as an MCP server called name.
func WithSDKServer(name string, reg *sdkmcp.Registry, opts ...sdkmcp.RouterOption) SessionOption {
	return func(c *SessionConfig) {
		if c.SDKServers == nil {
			c.SDKServers = make(map[string]SDKServer)
		}
		c.SDKServers[name] = SDKServer{Registry: reg, Options: opts}
	}
}

// WithResume resumes a previous CLI session.
func WithResume(sessionID string) SessionOption {
	return func(c *SessionConfig) {
		c.Resume = sessionID
	}
}

// WithIncludePartialMessages subscribes queries to streaming deltas.
func WithIncludePartialMessages() SessionOption {
	return func(c *SessionConfig) {
		c.IncludePartialMessages = true
	}
}

// WithMultiTurn allows queries to be submitted while others are running.
func WithMultiTurn() SessionOption {
	return func(c *SessionConfig) {
		c.MultiTurn = true
	}
}

// WithQueueSize sets the per-query message queue capacity.
func WithQueueSize(n int) SessionOption {
	return func(c *SessionConfig) {
		if n > 0 {
			c.QueueSize = n
		}
	}
}

// WithMaxTurns limits agent turns per query.
func WithMaxTurns(n int) SessionOption {
	return func(c *SessionConfig) {
		c.MaxTurns = n
	}
}

// WithMaxBudgetUSD flags results once the session's cumulative cost
// reaches limit.
func WithMaxBudgetUSD(limit decimal.Decimal) SessionOption {
	return func(c *SessionConfig) {
		c.MaxBudgetUSD = limit
	}
}

// WithInitTimeout bounds the initialize handshake.
func WithInitTimeout(d time.Duration) SessionOption {
	return func(c *SessionConfig) {
		if d > 0 {
			c.InitTimeout = d
		}
	}
}

// defaultConfig returns the default configuration.
func defaultConfig() SessionConfig {
	return SessionConfig{
		Logger:         slog.New(slog.DiscardHandler),
		PermissionMode: PermissionModeDefault,
		QueueSize:      DefaultQueueSize,
		InitTimeout:    DefaultInitTimeout,
	}
}

// clone returns a copy that shares no mutable containers with c. Registries
// and callbacks are immutable and shared.
func (c SessionConfig) clone() SessionConfig {
	out := c
	out.AllowedTools = slices.Clone(c.AllowedTools)
	out.DisallowedTools = slices.Clone(c.DisallowedTools)
	out.ExtraArgs = slices.Clone(c.ExtraArgs)
	out.Env = maps.Clone(c.Env)
	out.SDKServers = maps.Clone(c.SDKServers)
	if c.Hooks != nil {
		out.Hooks = make(map[hooks.Event][]hooks.Matcher, len(c.Hooks))
		for ev, ms := range c.Hooks {
			out.Hooks[ev] = slices.Clone(ms)
		}
	}
	return out
}
