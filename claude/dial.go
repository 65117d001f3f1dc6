package claude

import (
	"context"
	"time"

	"github.com/bazelment/yoloswe/agentbridge/transport"
)

// Conn is a line-oriented connection to the agent. *transport.Process and
// *transport.Stream both satisfy it.
type Conn interface {
	ReadLine() ([]byte, error)
	WriteLine(line []byte) error
	Close() error
}

// Dialer opens a Conn for a session configuration.
type Dialer func(ctx context.Context, cfg SessionConfig) (Conn, error)

// dialProcess spawns the CLI.
func dialProcess(ctx context.Context, cfg SessionConfig) (Conn, error) {
	cmd, err := cfg.command()
	if err != nil {
		return nil, err
	}
	cfg.Logger.Debug("starting CLI", "path", cmd.Path, "args", joinArgs(cmd.Args))

	opts := []transport.Option{transport.WithLogger(cfg.Logger)}
	if cfg.StderrHandler != nil {
		opts = append(opts, transport.WithStderr(cfg.StderrHandler))
	}
	return transport.Open(ctx, cmd, opts...)
}

// waitExit collects the exit status of conns that own a process. It gives up
// after d so a process that closed stdout but lingers cannot stall shutdown.
func waitExit(c Conn, d time.Duration) error {
	w, ok := c.(interface{ Wait() error })
	if !ok {
		return nil
	}
	ch := make(chan error, 1)
	go func() { ch <- w.Wait() }()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case err := <-ch:
		return err
	case <-t.C:
		return nil
	}
}
