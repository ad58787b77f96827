package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Outcome is the result of a process that ran to completion.
type Outcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes scripts and command lines.
//
// Contract:
// - Concurrency: safe for concurrent use; each call owns its process and temp file.
// - Context: cancellation of ctx kills the process group and returns ctx.Err().
// - Errors: a timeout returns *TimeoutError (matches ErrTimeout); a non-zero
//   exit is reported in Outcome, not as an error.
// - Resources: script temp files are removed on every path.
type Runner struct {
	cfg Config
}

// NewRunner validates cfg and creates a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Runner{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// RunScript writes code to a temp file and runs it with the interpreter.
func (r *Runner) RunScript(ctx context.Context, code string, timeout time.Duration) (Outcome, error) {
	f, err := os.CreateTemp(r.cfg.TempDir, "toolgate-*"+r.cfg.ScriptExt)
	if err != nil {
		return Outcome{}, fmt.Errorf("create script file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	_, werr := f.WriteString(code)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return Outcome{}, fmt.Errorf("write script file: %w", err)
	}

	args := append(append([]string(nil), r.cfg.InterpreterArgs...), path)
	return r.run(ctx, timeout, r.cfg.Interpreter, args...)
}

// RunCommand runs line through the shell.
func (r *Runner) RunCommand(ctx context.Context, line string, timeout time.Duration) (Outcome, error) {
	return r.run(ctx, timeout, r.cfg.Shell, "-c", line)
}

func (r *Runner) run(parent context.Context, timeout time.Duration, name string, args ...string) (Outcome, error) {
	if timeout <= 0 {
		return Outcome{}, fmt.Errorf("timeout must be positive, got %s", timeout)
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.cfg.WorkDir
	cmd.WaitDelay = r.cfg.WaitDelay
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil && ctx.Err() != nil {
		if parent.Err() != nil {
			return Outcome{}, parent.Err()
		}
		return Outcome{}, &TimeoutError{After: timeout}
	}

	out := Outcome{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitCode(exitErr)
		return out, nil
	}
	return Outcome{}, fmt.Errorf("start %s: %w", name, err)
}
