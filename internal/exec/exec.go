// Package exec launches external engine processes and streams their output.
package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"
	"sync"
	"time"
)

// Stream identifies which pipe a chunk came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Chunk is one read from a process pipe, in arrival order.
type Chunk struct {
	Stream Stream
	Data   []byte
}

// Spec describes the process to start.
type Spec struct {
	Path string
	Args []string
	// Dir is the working directory.
	Dir string
	// Env is appended to the current environment.
	Env []string
}

// CommandLine renders the spec for logs and error messages.
func (s Spec) CommandLine() string {
	parts := append([]string{s.Path}, s.Args...)
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\"';") {
			parts[i] = fmt.Sprintf("%q", p)
		}
	}
	return strings.Join(parts, " ")
}

// Process is a running engine.
type Process interface {
	// PID returns the operating system process ID.
	PID() int
	// Output delivers stdout and stderr chunks. It is closed after the
	// process exits and its pipes reach EOF, or WaitDelay passes.
	Output() <-chan Chunk
	// Done is closed after the process has exited and been reaped.
	Done() <-chan struct{}
	// Err returns the exit error once Done is closed.
	Err() error
	// Terminate asks the process (and its children) to exit.
	Terminate() error
	// Kill forces the process (and its children) to exit.
	Kill() error
	// StderrTail returns the last few KB written to stderr.
	StderrTail() string
}

// Launcher starts processes. Tests substitute their own.
type Launcher interface {
	Start(ctx context.Context, spec Spec) (Process, error)
}

// ExecLauncher implements Launcher using os/exec.
type ExecLauncher struct {
	// WaitDelay bounds how long output is read after the process exits,
	// in case a grandchild keeps its stdout or stderr open. Zero waits
	// for the pipes to close.
	WaitDelay time.Duration
}

// NewLauncher creates a new ExecLauncher.
func NewLauncher() *ExecLauncher {
	return &ExecLauncher{WaitDelay: 5 * time.Second}
}

// Verify ExecLauncher implements Launcher at compile time.
var _ Launcher = (*ExecLauncher)(nil)

const stderrTailSize = 4096

type process struct {
	cmd  *osexec.Cmd
	out  chan Chunk
	done chan struct{}
	err  error

	mu     sync.Mutex
	stderr []byte
}

// chunkWriter turns writes from os/exec's copying goroutine into chunks.
type chunkWriter struct {
	p      *process
	stream Stream
}

func (w chunkWriter) Write(b []byte) (int, error) {
	data := make([]byte, len(b))
	copy(data, b)
	if w.stream == Stderr {
		w.p.keepStderr(data)
	}
	w.p.out <- Chunk{Stream: w.stream, Data: data}
	return len(b), nil
}

// Start launches spec. The process runs in its own process group so that
// Terminate and Kill reach any helpers it spawns.
func (l *ExecLauncher) Start(ctx context.Context, spec Spec) (Process, error) {
	cmd := osexec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killGroup(cmd.Process) }
	cmd.WaitDelay = l.WaitDelay

	p := &process{
		cmd:  cmd,
		out:  make(chan Chunk, 64),
		done: make(chan struct{}),
	}
	// os/exec copies the pipes itself, so WaitDelay also stops the copy
	// when a grandchild holds them open.
	cmd.Stdout = chunkWriter{p: p, stream: Stdout}
	cmd.Stderr = chunkWriter{p: p, stream: Stderr}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	go func() {
		err := cmd.Wait()
		if errors.Is(err, osexec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
			// The engine itself succeeded; only a leftover child held the pipes.
			err = nil
		}
		// Wait returns only after the copying goroutines have finished.
		close(p.out)
		p.err = err
		close(p.done)
	}()

	return p, nil
}

func (p *process) keepStderr(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stderr = append(p.stderr, data...)
	if over := len(p.stderr) - stderrTailSize; over > 0 {
		p.stderr = p.stderr[over:]
	}
}

func (p *process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) Output() <-chan Chunk  { return p.out }
func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Err() error {
	<-p.done
	return p.err
}

func (p *process) Terminate() error {
	return terminateGroup(p.cmd.Process)
}

func (p *process) Kill() error {
	return killGroup(p.cmd.Process)
}

func (p *process) StderrTail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.TrimSpace(string(p.stderr))
}

// ResolveBinary finds an engine binary. Bare names are looked up in PATH;
// paths must exist and be executable.
func ResolveBinary(path string) (string, error) {
	if path == "" {
		return "", errors.New("no engine binary configured")
	}
	resolved, err := osexec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("engine binary %q: %w", path, err)
	}
	return resolved, nil
}

// ExitCode extracts the exit status from an error returned by Err.
// It returns 0 for nil and -1 when the process did not exit normally.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *osexec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
