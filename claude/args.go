package claude

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/bazelment/yoloswe/agentbridge/protocol"
	"github.com/bazelment/yoloswe/agentbridge/transport"
)

// BuildCLIArgs converts the configuration into CLI arguments.
func (c SessionConfig) BuildCLIArgs() ([]string, error) {
	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}

	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	if c.PermissionMode != "" && c.PermissionMode != PermissionModeDefault {
		args = append(args, "--permission-mode", string(c.PermissionMode))
	}
	if c.CanUseTool != nil {
		args = append(args, "--permission-prompt-tool", "stdio")
	}
	if c.SystemPrompt != "" {
		args = append(args, "--system-prompt", c.SystemPrompt)
	}
	if c.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", c.AppendSystemPrompt)
	}
	for _, tool := range c.AllowedTools {
		args = append(args, "--allowed-tools", tool)
	}
	for _, tool := range c.DisallowedTools {
		args = append(args, "--disallowed-tools", tool)
	}
	if c.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(c.MaxTurns))
	}
	if len(c.SDKServers) > 0 {
		cfg := protocol.MCPConfig{MCPServers: make(map[string]protocol.MCPServerConfig, len(c.SDKServers))}
		for name := range c.SDKServers {
			cfg.MCPServers[name] = protocol.MCPServerConfig{Type: "sdk", Name: name}
		}
		data, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode mcp config: %w", err)
		}
		args = append(args, "--mcp-config", string(data))
	}
	if c.IncludePartialMessages {
		args = append(args, "--include-partial-messages")
	}
	if c.Resume != "" {
		args = append(args, "--resume", c.Resume)
		if c.ForkSession {
			args = append(args, "--fork-session")
		}
		if c.ResumeAt != "" {
			args = append(args, "--resume-session-at", c.ResumeAt)
		}
	}
	args = append(args, c.ExtraArgs...)
	return args, nil
}

// command assembles the process description for the default dialer.
func (c SessionConfig) command() (transport.Command, error) {
	args, err := c.BuildCLIArgs()
	if err != nil {
		return transport.Command{}, err
	}
	path := c.CLIPath
	if path == "" {
		path = "claude"
	}
	return transport.Command{
		Path: path,
		Args: args,
		Dir:  c.WorkDir,
		Env:  c.environ(),
	}, nil
}

// environ returns the inherited environment plus Env and the SDK entrypoint
// marker. Credentials such as ANTHROPIC_API_KEY pass through untouched.
func (c SessionConfig) environ() []string {
	env := os.Environ()
	env = append(env, "CLAUDE_CODE_ENTRYPOINT=sdk-go")
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}
