// Package runner abstracts external process execution so the compile
// pipeline can be driven by canned results in tests instead of a real
// compiler toolchain.
//
// A non-zero exit status is not an error: callers get a Result carrying
// the exit code and captured output and decide for themselves. Only a
// failure to launch the process at all (missing executable, permission
// denied) is reported as an error.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Command describes one process invocation.
type Command struct {
	// Path is the executable to run
	Path string

	// Args are the arguments, not including the executable name
	Args []string

	// Dir is the working directory for the process
	Dir string

	// Env holds KEY=VALUE pairs appended to the inherited environment
	Env []string

	// Stdin is fed to the process on standard input
	Stdin []byte
}

// Result is the captured outcome of a finished process.
type Result struct {
	// ExitCode is the process exit status. Negative when the process
	// was terminated by a signal.
	ExitCode int

	Stdout []byte
	Stderr []byte
}

// Success reports whether the process exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner starts a process and waits for it to finish.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// OSRunner executes commands as real OS processes.
type OSRunner struct{}

// NewOSRunner creates a runner backed by os/exec.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Run starts the command and waits for completion, capturing stdout and
// stderr. A non-zero exit is returned in the Result with a nil error.
func (r *OSRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir

	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	if len(cmd.Stdin) > 0 {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// ExitCode is -1 when the process was killed by a signal
			return Result{
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.Bytes(),
				Stderr:   stderr.Bytes(),
			}, nil
		}

		return Result{}, fmt.Errorf("failed to launch %s: %w", cmd.Path, err)
	}

	return Result{
		ExitCode: 0,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}
