// Package config loads session settings from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/bazelment/yoloswe/agentbridge/claude"
	"github.com/bazelment/yoloswe/agentbridge/hooks"
)

// ErrUnsupportedFormat is returned for files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// FileConfig mirrors the session options that make sense in a file.
type FileConfig struct {
	Env                    map[string]string `yaml:"env" toml:"env"`
	Permissions            *Permissions      `yaml:"permissions" toml:"permissions"`
	Model                  string            `yaml:"model" toml:"model"`
	PermissionMode         string            `yaml:"permission_mode" toml:"permission_mode"`
	CLIPath                string            `yaml:"cli_path" toml:"cli_path"`
	WorkDir                string            `yaml:"work_dir" toml:"work_dir"`
	SystemPrompt           string            `yaml:"system_prompt" toml:"system_prompt"`
	AppendSystemPrompt     string            `yaml:"append_system_prompt" toml:"append_system_prompt"`
	MaxBudgetUSD           string            `yaml:"max_budget_usd" toml:"max_budget_usd"`
	InitTimeout            string            `yaml:"init_timeout" toml:"init_timeout"`
	AllowedTools           []string          `yaml:"allowed_tools" toml:"allowed_tools"`
	DisallowedTools        []string          `yaml:"disallowed_tools" toml:"disallowed_tools"`
	MaxTurns               int               `yaml:"max_turns" toml:"max_turns"`
	QueueSize              int               `yaml:"queue_size" toml:"queue_size"`
	IncludePartialMessages bool              `yaml:"include_partial_messages" toml:"include_partial_messages"`
	MultiTurn              bool              `yaml:"multi_turn" toml:"multi_turn"`
}

// Permissions is a declarative answer to permission prompts. Patterns are
// tool-name globs such as "mcp__calc__*".
type Permissions struct {
	DenyReason   string   `yaml:"deny_reason" toml:"deny_reason"`
	Allow        []string `yaml:"allow" toml:"allow"`
	Deny         []string `yaml:"deny" toml:"deny"`
	DefaultAllow bool     `yaml:"default_allow" toml:"default_allow"`
}

// Load reads path, choosing the decoder by extension.
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg FileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return &cfg, nil
}

// Options converts the file into session options. Values that do not parse
// are reported instead of silently ignored.
func (c *FileConfig) Options() ([]claude.SessionOption, error) {
	if c == nil {
		return nil, nil
	}
	var opts []claude.SessionOption
	if c.Model != "" {
		opts = append(opts, claude.WithModel(c.Model))
	}
	if c.PermissionMode != "" {
		mode, err := parsePermissionMode(c.PermissionMode)
		if err != nil {
			return nil, err
		}
		opts = append(opts, claude.WithPermissionMode(mode))
	}
	if c.CLIPath != "" {
		opts = append(opts, claude.WithCLIPath(c.CLIPath))
	}
	if c.WorkDir != "" {
		opts = append(opts, claude.WithWorkDir(c.WorkDir))
	}
	if c.SystemPrompt != "" {
		opts = append(opts, claude.WithSystemPrompt(c.SystemPrompt))
	}
	if c.AppendSystemPrompt != "" {
		opts = append(opts, claude.WithAppendSystemPrompt(c.AppendSystemPrompt))
	}
	if len(c.AllowedTools) > 0 {
		opts = append(opts, claude.WithAllowedTools(c.AllowedTools...))
	}
	if len(c.DisallowedTools) > 0 {
		opts = append(opts, claude.WithDisallowedTools(c.DisallowedTools...))
	}
	if c.MaxTurns > 0 {
		opts = append(opts, claude.WithMaxTurns(c.MaxTurns))
	}
	if c.QueueSize > 0 {
		opts = append(opts, claude.WithQueueSize(c.QueueSize))
	}
	if c.MaxBudgetUSD != "" {
		budget, err := decimal.NewFromString(c.MaxBudgetUSD)
		if err != nil {
			return nil, fmt.Errorf("max_budget_usd: %w", err)
		}
		opts = append(opts, claude.WithMaxBudgetUSD(budget))
	}
	if c.InitTimeout != "" {
		d, err := time.ParseDuration(c.InitTimeout)
		if err != nil {
			return nil, fmt.Errorf("init_timeout: %w", err)
		}
		opts = append(opts, claude.WithInitTimeout(d))
	}
	if c.IncludePartialMessages {
		opts = append(opts, claude.WithIncludePartialMessages())
	}
	if c.MultiTurn {
		opts = append(opts, claude.WithMultiTurn())
	}
	for k, v := range c.Env {
		opts = append(opts, claude.WithEnv(k, v))
	}
	if p := c.Permissions; p != nil {
		rules := hooks.Rules{
			Allow:        p.Allow,
			Deny:         p.Deny,
			DenyReason:   p.DenyReason,
			DefaultAllow: p.DefaultAllow,
		}
		opts = append(opts, claude.WithCanUseTool(rules.PermissionFunc()))
	}
	return opts, nil
}

func parsePermissionMode(s string) (claude.PermissionMode, error) {
	switch m := claude.PermissionMode(s); m {
	case claude.PermissionModeDefault, claude.PermissionModeAcceptEdits,
		claude.PermissionModePlan, claude.PermissionModeBypass:
		return m, nil
	}
	return "", fmt.Errorf("unknown permission_mode %q", s)
}
