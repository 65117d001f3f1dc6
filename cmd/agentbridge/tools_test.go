package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/yoloswe/agentbridge/sdkmcp"
)

func TestDemoTools(t *testing.T) {
	reg, err := demoTools()
	require.NoError(t, err)
	assert.Equal(t, []string{"add", "echo"}, reg.Names())

	res, err := reg.Call(t.Context(), "add", json.RawMessage(`{"x":5,"y":3}`))
	require.NoError(t, err)
	assert.Equal(t, sdkmcp.TextResult("8"), res)

	res, err = reg.Call(t.Context(), "echo", json.RawMessage(`{"text":"hi","upper":true}`))
	require.NoError(t, err)
	assert.Equal(t, sdkmcp.TextResult("HI"), res)
}

func TestToolsCommand(t *testing.T) {
	var out bytes.Buffer
	toolsCmd.SetOut(&out)
	require.NoError(t, toolsCmd.RunE(toolsCmd, nil))
	assert.Equal(t, "mcp__demo__add\tAdd two integers\nmcp__demo__echo\tEcho text back\n", out.String())
}

func TestNewLogger(t *testing.T) {
	logLevel = "debug"
	t.Cleanup(func() { logLevel = "info" })
	logger, err := newLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)

	logLevel = "loud"
	_, err = newLogger()
	assert.Error(t, err)
}
