package transport

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Process is a running agent subprocess.
type Process struct {
	*Stream

	cmd        *exec.Cmd
	stdout     *os.File
	done       chan struct{}
	stderrDone chan struct{}
	waitErr    error
	opts       options

	tailMu sync.Mutex
	tail   []string

	closing   atomic.Bool
	closeOnce sync.Once
}

// Open spawns cmd in a new process group. ctx bounds only the spawn itself;
// use Close to stop the process.
func Open(ctx context.Context, c Command, opts ...Option) (*Process, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "start", Cause: err}
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &Error{Op: "start", Cause: err}
	}
	// Plain os.Pipe for the read sides: exec.Cmd.Wait does not close them,
	// so buffered output stays readable after the child exits.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, &Error{Op: "start", Cause: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, &Error{Op: "start", Cause: err}
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, &Error{Op: "start", Cause: errors.Join(ErrNotFound, err)}
		}
		return nil, &Error{Op: "start", Cause: err}
	}
	outW.Close()
	errW.Close()

	p := &Process{
		Stream:     NewStream(outR, stdin),
		cmd:        cmd,
		stdout:     outR,
		done:       make(chan struct{}),
		stderrDone: make(chan struct{}),
		opts:       o,
	}
	o.logger.Debug("process started", "path", c.Path, "pid", cmd.Process.Pid)

	go p.readStderr(errR)
	go p.wait()
	return p, nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the process exits. It returns nil for a clean exit or
// for an exit caused by Close, and an *Error otherwise.
func (p *Process) Wait() error {
	<-p.done
	return p.waitErr
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	select {
	case <-p.stderrDone:
	case <-time.After(200 * time.Millisecond):
	}
	if err != nil && !p.closing.Load() {
		te := &Error{Op: "exit", Cause: err, Stderr: p.stderrTail()}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			te.ExitCode = ee.ExitCode()
		}
		p.waitErr = te
	}
	p.opts.logger.Debug("process exited", "pid", p.cmd.Process.Pid, "error", err)
	close(p.done)
}

func (p *Process) readStderr(r *os.File) {
	defer close(p.stderrDone)
	defer r.Close()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		p.tailMu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > p.opts.tailLines {
			p.tail = p.tail[len(p.tail)-p.opts.tailLines:]
		}
		p.tailMu.Unlock()
		if p.opts.onStderr != nil {
			p.opts.onStderr(line)
		}
	}
}

func (p *Process) stderrTail() string {
	p.tailMu.Lock()
	defer p.tailMu.Unlock()
	return strings.Join(p.tail, "\n")
}

// Close stops the process: it closes stdin, waits for a graceful exit, then
// sends SIGTERM and finally SIGKILL to the whole process group. Close is
// idempotent and always releases the pipes.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.closing.Store(true)
		_ = p.CloseWrite()

		if !p.waitFor(p.opts.stopGrace) {
			p.opts.logger.Debug("process ignored stdin close, sending SIGTERM", "pid", p.Pid())
			_ = signalGroup(p.cmd.Process, syscall.SIGTERM)
			if !p.waitFor(p.opts.killGrace) {
				_ = signalGroup(p.cmd.Process, syscall.SIGKILL)
				p.waitFor(p.opts.killGrace)
			}
		}
		_ = p.stdout.Close()
	})
	return nil
}

func (p *Process) waitFor(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.done:
		return true
	case <-t.C:
		return false
	}
}
