// Package shell runs external command-line tools, merging stdout and stderr
// into one stream that is logged line by line and captured for the caller.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ErrExternalTool is returned when an external command exits with a non-zero status.
var ErrExternalTool = errors.New("external tool failed")

// ExternalToolError carries the failed command line and its captured output.
type ExternalToolError struct {
	Command  []string
	ExitCode int
	Output   string
}

func (e *ExternalToolError) Error() string {
	return fmt.Sprintf("%s: %q exited with status %d", ErrExternalTool, strings.Join(e.Command, " "), e.ExitCode)
}

func (e *ExternalToolError) Unwrap() error {
	return ErrExternalTool
}

// Result is the outcome of a finished command.
type Result struct {
	ExitCode int
	// Output is the combined stdout/stderr, one trimmed line per line.
	Output string
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	logger *zap.Logger
	env    []string
	dir    string
	echo   io.Writer
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithLogger sets the logger that receives each output line.
func WithLogger(logger *zap.Logger) Option {
	return func(r *ExecRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEnv sets the child environment. Nil inherits the current process environment.
func WithEnv(env []string) Option {
	return func(r *ExecRunner) {
		r.env = env
	}
}

// WithDir sets the child working directory.
func WithDir(dir string) Option {
	return func(r *ExecRunner) {
		r.dir = dir
	}
}

// WithEcho copies every output line to w as it arrives.
func WithEcho(w io.Writer) Option {
	return func(r *ExecRunner) {
		r.echo = w
	}
}

// NewExecRunner constructs an ExecRunner.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// With returns a copy of r with extra options applied.
func (r *ExecRunner) With(opts ...Option) *ExecRunner {
	cp := *r
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// Run starts name with args and blocks until it exits. A non-zero exit status
// is reported as *ExternalToolError alongside the populated Result.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	command := append([]string{name}, args...)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = r.env
	cmd.Dir = r.dir

	pr, pw, err := os.Pipe()
	if err != nil {
		return Result{}, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	r.logger.Info("running external command", zap.Strings("command", command))
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return Result{}, fmt.Errorf("start %s: %w", name, err)
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	lines, readErr := r.collect(pr)
	_ = pr.Close()
	waitErr := cmd.Wait()

	result := Result{Output: strings.Join(lines, "\n")}
	if readErr != nil {
		return result, fmt.Errorf("read output of %s: %w", name, readErr)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return result, fmt.Errorf("wait for %s: %w", name, waitErr)
		}
		result.ExitCode = exitErr.ExitCode()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("%s interrupted: %w", name, ctxErr)
		}
		return result, &ExternalToolError{Command: command, ExitCode: result.ExitCode, Output: result.Output}
	}

	r.logger.Info("external command finished", zap.Strings("command", command))
	return result, nil
}

func (r *ExecRunner) collect(rd io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lines = append(lines, line)
		if line == "" {
			continue
		}
		r.logger.Debug("command output", zap.String("line", line))
		if r.echo != nil {
			_, _ = fmt.Fprintln(r.echo, line)
		}
	}
	return lines, scanner.Err()
}
