package ssh

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/msrv/pkg/engine"
	"github.com/openfroyo/msrv/pkg/toolchain"
)

// Run executes cmd on the remote host and waits for it to finish. On cancellation the remote
// process receives SIGTERM, and the session is closed once the grace period has passed.
func (c *Client) Run(ctx context.Context, cmd toolchain.Command) (toolchain.Result, error) {
	if len(cmd.Argv) == 0 {
		return toolchain.Result{}, &engine.ExecutionError{Op: "start", Err: errors.New("empty command")}
	}

	session, err := c.session(ctx)
	if err != nil {
		return toolchain.Result{}, &engine.ExecutionError{Op: "connect", Err: err}
	}
	defer session.Close()

	var out lockedBuffer
	session.Stdout = &out
	session.Stderr = &out

	line := commandLine(cmd)
	log.Debug().
		Str("host", c.config.Host).
		Str("command", line).
		Msg("Executing remote command")

	start := time.Now()
	if err := session.Start(line); err != nil {
		return toolchain.Result{}, &engine.ExecutionError{Op: "start", Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		select {
		case <-done:
		case <-time.After(c.config.GracePeriod):
			_ = session.Signal(ssh.SIGKILL)
			_ = session.Close()
			<-done
		}
		ctxErr := ctx.Err()
		return toolchain.Result{Output: out.String(), Duration: time.Since(start)}, &engine.ExecutionError{
			Op:      "wait",
			Err:     ctxErr,
			Timeout: errors.Is(ctxErr, context.DeadlineExceeded),
		}
	}

	result := toolchain.Result{Output: out.String(), Duration: time.Since(start)}

	var exitErr *ssh.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr) && exitErr.Signal() == "":
		result.ExitCode = exitErr.ExitStatus()
	default:
		// Killed by a signal, or the connection dropped before an exit status arrived.
		return result, &engine.ExecutionError{Op: "wait", Err: waitErr}
	}

	log.Debug().
		Str("host", c.config.Host).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Remote command completed")

	return result, nil
}

// commandLine renders cmd as a POSIX shell command line.
func commandLine(cmd toolchain.Command) string {
	var b strings.Builder
	if cmd.Dir != "" {
		b.WriteString("cd ")
		b.WriteString(shellQuote(cmd.Dir))
		b.WriteString(" && ")
	}
	if len(cmd.Env) > 0 {
		keys := make([]string, 0, len(cmd.Env))
		for k := range cmd.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("env")
		for _, k := range keys {
			b.WriteByte(' ')
			b.WriteString(shellQuote(k + "=" + cmd.Env[k]))
		}
		b.WriteByte(' ')
	}
	for i, arg := range cmd.Argv {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(shellQuote(arg))
	}
	return b.String()
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:,+@%", r)
}

// lockedBuffer collects stdout and stderr, which the session copies from separate goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var _ toolchain.Runner = (*Client)(nil)
