// Command agentbridge drives the Claude CLI over its stream-json protocol.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "agentbridge",
	Short: "Bridge to the Claude CLI stream-json protocol",
	Long: `agentbridge starts the Claude CLI as a subprocess and talks to it over
newline-delimited JSON. It answers permission prompts, lifecycle hooks and
in-process MCP tool calls on the agent's behalf.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Session config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(toolsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger creates a structured logger on stderr.
func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(logLevel))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	if logJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}
