package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/bazelment/yoloswe/agentbridge/claude"
	"github.com/bazelment/yoloswe/agentbridge/internal/config"
)

var (
	model       string
	workDir     string
	tracePath   string
	metricsAddr string
	demo        bool
	partials    bool
	jsonOutput  bool
)

var queryCmd = &cobra.Command{
	Use:   "query <prompt>",
	Short: "Send one prompt and stream the answer",
	Long: `Query starts a session, sends the prompt and prints assistant text as it
arrives. The first Ctrl-C interrupts the turn, a second one stops the
session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&model, "model", "m", "", "Model override")
	queryCmd.Flags().StringVar(&workDir, "work-dir", "", "Working directory for the agent")
	queryCmd.Flags().StringVar(&tracePath, "trace", "", "Record the protocol exchange to this JSONL file")
	queryCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	queryCmd.Flags().BoolVar(&demo, "demo-tools", false, "Expose the demo in-process MCP tools")
	queryCmd.Flags().BoolVar(&partials, "partials", false, "Print partial text deltas as they stream")
	queryCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the final result as JSON")
}

func runQuery(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	opts, closeTrace, err := sessionOptions(logger)
	if err != nil {
		return err
	}
	defer closeTrace()

	ctx := cmd.Context()
	session := claude.NewSession(opts...)
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.Stop()

	id, err := session.Query(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	st, err := session.Stream(id)
	if err != nil {
		return err
	}
	defer st.Close()

	done := make(chan struct{})
	defer close(done)
	go handleSignals(done, session, id, logger)

	out := cmd.OutOrStdout()
	final, err := printStream(ctx, out, st, logger)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summarize(final, session))
	}
	fmt.Fprintln(out)
	logger.Info("query finished",
		"stop_reason", final.StopReason,
		"turns", final.NumTurns,
		"duration", final.Duration,
		"cost_usd", final.CostUSD.String(),
		"interrupted", final.Interrupted,
	)
	if final.IsError {
		return fmt.Errorf("agent reported %s: %s", final.Subtype, final.Result)
	}
	return final.Err
}

// handleSignals interrupts the query on the first signal and stops the
// session on the second.
func handleSignals(done <-chan struct{}, session *claude.Session, id string, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-done:
		return
	}
	logger.Info("interrupting query", "query_id", id)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := session.Interrupt(ctx, id); err != nil {
		logger.Warn("interrupt failed", "error", err)
	}
	cancel()

	select {
	case <-sigCh:
		logger.Info("stopping session")
		_ = session.Stop()
	case <-done:
	}
}

// sessionOptions combines the config file, flags and ambient plumbing.
func sessionOptions(logger *slog.Logger) ([]claude.SessionOption, func(), error) {
	opts := []claude.SessionOption{
		claude.WithLogger(logger),
		claude.WithStderrHandler(func(line string) { logger.Debug("agent stderr", "line", line) }),
	}
	if configPath != "" {
		fc, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		fileOpts, err := fc.Options()
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", configPath, err)
		}
		opts = append(opts, fileOpts...)
	}
	if model != "" {
		opts = append(opts, claude.WithModel(model))
	}
	if workDir != "" {
		opts = append(opts, claude.WithWorkDir(workDir))
	}
	if partials {
		opts = append(opts, claude.WithIncludePartialMessages())
	}
	if demo {
		reg, err := demoTools()
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, claude.WithSDKServer(demoServer, reg))
	}
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, claude.WithMetrics(claude.NewMetrics(reg)))
		serveMetrics(metricsAddr, reg, logger)
	}

	closeTrace := func() {}
	if tracePath != "" {
		f, err := os.Create(tracePath)
		if err != nil {
			return nil, nil, fmt.Errorf("create trace: %w", err)
		}
		opts = append(opts, claude.WithTrace(f))
		closeTrace = func() { _ = f.Close() }
	}
	return opts, closeTrace, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
}

// printStream writes assistant text to out and returns the terminal result.
func printStream(ctx context.Context, out io.Writer, st *claude.Stream, logger *slog.Logger) (claude.ResultFinal, error) {
	var final claude.ResultFinal
	for m, err := range st.All(ctx) {
		if err != nil {
			return final, err
		}
		switch m := m.(type) {
		case claude.SystemInit:
			logger.Debug("agent ready", "cli_session", m.SessionID, "model", m.Model, "tools", len(m.Tools))
		case claude.AssistantPartial:
			if !jsonOutput {
				fmt.Fprint(out, m.Fragment)
			}
		case claude.AssistantText:
			if !jsonOutput && !partials && m.ParentToolUseID == "" {
				fmt.Fprint(out, m.Text)
			}
		case claude.ToolUseRequest:
			logger.Info("tool call", "tool", m.Name, "id", m.ID)
		case claude.ToolResult:
			logger.Debug("tool result", "id", m.ToolUseID, "is_error", m.IsError)
		case claude.ResultFinal:
			final = m
		case *claude.ProtocolError:
			if m.Fatal {
				return final, m
			}
			logger.Warn("protocol error", "error", m.Err)
		}
	}
	return final, nil
}

type summary struct {
	SessionID    string `json:"session_id"`
	Subtype      string `json:"subtype"`
	Result       string `json:"result"`
	StopReason   string `json:"stop_reason,omitempty"`
	CostUSD      string `json:"cost_usd"`
	TotalCostUSD string `json:"total_cost_usd"`
	DurationMs   int64  `json:"duration_ms"`
	NumTurns     int    `json:"num_turns"`
	IsError      bool   `json:"is_error"`
	Interrupted  bool   `json:"interrupted"`
}

func summarize(r claude.ResultFinal, s *claude.Session) summary {
	return summary{
		SessionID:    r.SessionID,
		Subtype:      r.Subtype,
		Result:       r.Result,
		StopReason:   r.StopReason,
		CostUSD:      r.CostUSD.String(),
		TotalCostUSD: s.TotalCostUSD().String(),
		DurationMs:   r.Duration.Milliseconds(),
		NumTurns:     r.NumTurns,
		IsError:      r.IsError,
		Interrupted:  r.Interrupted,
	}
}
