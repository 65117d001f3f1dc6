package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bazelment/yoloswe/agentbridge/sdkmcp"
)

// demoServer is the name the demo tools are registered under. The agent
// sees them as mcp__demo__<tool>.
const demoServer = "demo"

type addArgs struct {
	X int `json:"x" jsonschema:"required,description=First addend"`
	Y int `json:"y" jsonschema:"required,description=Second addend"`
}

type echoArgs struct {
	Text  string `json:"text" jsonschema:"required,description=Text to echo"`
	Upper bool   `json:"upper,omitempty" jsonschema:"description=Upper-case the text"`
}

func demoTools() (*sdkmcp.Registry, error) {
	b := sdkmcp.NewBuilder()
	sdkmcp.Add(b, "add", "Add two integers", func(_ context.Context, a addArgs) (int, error) {
		return a.X + a.Y, nil
	})
	sdkmcp.Add(b, "echo", "Echo text back", func(_ context.Context, a echoArgs) (string, error) {
		if a.Upper {
			return strings.ToUpper(a.Text), nil
		}
		return a.Text, nil
	})
	return b.Build()
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the in-process demo tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := demoTools()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, t := range reg.Tools() {
			fmt.Fprintf(out, "mcp__%s__%s\t%s\n", demoServer, t.Name, t.Description)
		}
		return nil
	},
}
