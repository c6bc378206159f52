package toolchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/msrv/pkg/engine"
	"github.com/openfroyo/msrv/pkg/version"
)

// Exit statuses POSIX shells and exec wrappers such as env and rustup use when the program
// they were asked to run could not be executed.
const (
	exitCannotExecute = 126
	exitNotFound      = 127
)

// CheckerConfig configures a CommandChecker.
type CheckerConfig struct {
	// Wrapper is prepended to the check command to select the toolchain, e.g.
	// "rustup run {version}". Empty runs the check command as is.
	Wrapper []string

	// InstallDir is substituted as {install_dir}.
	InstallDir string

	// Target is substituted as {target}.
	Target string
}

// CommandChecker runs the check command through a Runner.
type CommandChecker struct {
	runner Runner
	config CheckerConfig
}

// NewCommandChecker creates a checker.
func NewCommandChecker(runner Runner, config CheckerConfig) (*CommandChecker, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	return &CommandChecker{runner: runner, config: config}, nil
}

// RunCheck runs spec in projectPath under toolchain v. The output of a failing command is
// returned verbatim as the diagnostic. Exit statuses 126 and 127 mean the check never ran
// and are reported as an *engine.ExecutionError.
func (c *CommandChecker) RunCheck(ctx context.Context, v version.Version, projectPath string, spec engine.CommandSpec) (engine.CheckVerdict, error) {
	vars := Vars{
		Version:    v,
		Target:     c.config.Target,
		Project:    projectPath,
		InstallDir: c.config.InstallDir,
	}

	argv := append(Expand(c.config.Wrapper, vars), Expand(spec.Argv, vars)...)
	if len(argv) == 0 {
		return engine.CheckVerdict{}, &engine.ExecutionError{Op: "start", Err: errors.New("empty check command")}
	}

	res, err := c.runner.Run(ctx, Command{
		Argv: argv,
		Dir:  projectPath,
		Env:  ExpandEnv(spec.Env, vars),
	})
	if err != nil {
		var execErr *engine.ExecutionError
		if errors.As(err, &execErr) {
			return engine.CheckVerdict{}, err
		}
		return engine.CheckVerdict{}, &engine.ExecutionError{Op: "run", Err: err}
	}

	switch res.ExitCode {
	case 0:
		return engine.Pass(), nil
	case exitCannotExecute, exitNotFound:
		return engine.CheckVerdict{}, &engine.ExecutionError{
			Op:  "run",
			Err: fmt.Errorf("%s exited with status %d: %s", argv[0], res.ExitCode, tail(res.Output, maxDiagnostic)),
		}
	}
	return engine.Fail(res.Output), nil
}
