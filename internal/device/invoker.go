package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"time"

	"mvdan.cc/sh/v3/syntax"
)

// waitDelay bounds how long Invoke waits for output pipes after the process was killed.
const waitDelay = 2 * time.Second

const maxStderrInError = 512

// Invoker runs a single device op and returns its standard output.
type Invoker interface {
	Invoke(ctx context.Context, op Op) ([]byte, error)
}

// ExecOptions configures ExecInvoker.
type ExecOptions struct {
	Program string
	// Args are placed before the sub-command code, e.g. when Program is a wrapper.
	Args    []string
	Dir     string
	Timeout time.Duration
}

// ExecInvoker spawns one process per op and waits for it to exit.
type ExecInvoker struct {
	logger *slog.Logger
	opts   ExecOptions
}

func NewExecInvoker(logger *slog.Logger, opts ExecOptions) *ExecInvoker {
	if logger == nil {
		logger = slog.Default()
	}

	return &ExecInvoker{
		logger: logger,
		opts:   opts,
	}
}

func (i *ExecInvoker) Invoke(ctx context.Context, op Op) ([]byte, error) {
	if i.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.opts.Timeout)
		defer cancel()
	}

	argv := append(slices.Clone(i.opts.Args), op.Argv()...)
	// #nosec G204 -- program comes from config; arguments are passed without a shell.
	cmd := exec.CommandContext(ctx, i.opts.Program, argv...)
	cmd.Dir = i.opts.Dir
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	i.logger.Debug("invoke device", "op", op.String(), "cmdline", CommandLine(i.opts.Program, argv))
	err := cmd.Run()
	elapsed := time.Since(started)

	if err != nil && errors.Is(err, exec.ErrWaitDelay) && ctx.Err() == nil {
		// The program exited cleanly but a child kept its pipes open.
		i.logger.Warn("device output pipes outlived process", "op", op.String(), "elapsed", elapsed)
		err = nil
	}
	if err != nil {
		devErr := i.classify(ctx, op, err, stderr.String())
		i.logger.Warn("device invocation failed", "op", op.String(), "kind", devErr.Kind, "elapsed", elapsed, "error", devErr)
		return nil, devErr
	}

	i.logger.Debug("device invocation done", "op", op.String(), "elapsed", elapsed, "stdout_len", stdout.Len())

	return stdout.Bytes(), nil
}

func (i *ExecInvoker) classify(ctx context.Context, op Op, err error, stderr string) *Error {
	stderr = truncate(stderr, maxStderrInError)
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return &Error{Kind: KindTimeout, Op: op, ExitCode: -1, Stderr: stderr, Err: fmt.Errorf("no exit within %s", i.opts.Timeout)}
		}

		return &Error{Kind: KindCanceled, Op: op, ExitCode: -1, Stderr: stderr, Err: ctxErr}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &Error{Kind: KindProcess, Op: op, ExitCode: exitErr.ExitCode(), Stderr: stderr, Err: err}
	}

	return &Error{Kind: KindSpawn, Op: op, ExitCode: -1, Err: err}
}

// CommandLine renders program and argv as a line that can be pasted into a shell.
func CommandLine(program string, argv []string) string {
	parts := make([]string, 0, len(argv)+1)
	for _, word := range append([]string{program}, argv...) {
		quoted, err := syntax.Quote(word, syntax.LangBash)
		if err != nil {
			quoted = fmt.Sprintf("%q", word)
		}
		parts = append(parts, quoted)
	}

	return strings.Join(parts, " ")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
