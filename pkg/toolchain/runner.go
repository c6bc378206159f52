package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/msrv/pkg/engine"
)

// Command is a fully expanded command line.
type Command struct {
	// Argv is the program and its arguments.
	Argv []string

	// Dir is the working directory. Empty means the runner's default.
	Dir string

	// Env contains variables added to the runner's environment.
	Env map[string]string
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int

	// Output is the combined stdout and stderr of the command.
	Output string

	Duration time.Duration
}

// Success reports whether the command exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes commands. A command that ran and exited non-zero is a Result with a nil
// error; a command that could not be started or finished is an *engine.ExecutionError.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// LocalRunner runs commands on this host. Each command gets its own process group so that
// cancellation reaches every process it spawned.
type LocalRunner struct {
	// GracePeriod is how long a cancelled command may take to exit after SIGTERM before it
	// is killed. Defaults to five seconds.
	GracePeriod time.Duration
}

// NewLocalRunner creates a local runner with the default grace period.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{GracePeriod: 5 * time.Second}
}

// Run executes cmd and waits for it to finish.
func (r *LocalRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if len(cmd.Argv) == 0 {
		return Result{}, &engine.ExecutionError{Op: "start", Err: errors.New("empty command")}
	}

	c := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), envList(cmd.Env)...)
	}

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	grace := r.GracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	configureProcessGroup(c)
	c.WaitDelay = grace

	log.Debug().
		Strs("argv", cmd.Argv).
		Str("dir", cmd.Dir).
		Msg("Executing command")

	start := time.Now()
	if err := c.Start(); err != nil {
		return Result{}, &engine.ExecutionError{Op: "start", Err: err}
	}
	err := c.Wait()
	duration := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		killProcessGroup(c)
		return Result{Output: out.String(), Duration: duration}, &engine.ExecutionError{
			Op:      "wait",
			Err:     ctxErr,
			Timeout: errors.Is(ctxErr, context.DeadlineExceeded),
		}
	}

	result := Result{Output: out.String(), Duration: duration}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr) && exitErr.Exited():
		result.ExitCode = exitErr.ExitCode()
	default:
		// Killed by a signal nobody here sent, or the output pipes could not be drained.
		return result, &engine.ExecutionError{Op: "wait", Err: err}
	}

	log.Debug().
		Str("command", cmd.Argv[0]).
		Int("exit_code", result.ExitCode).
		Int("output_len", len(result.Output)).
		Dur("duration", duration).
		Msg("Command completed")

	return result, nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(env))
	for _, k := range keys {
		list = append(list, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return list
}
