// Package adminclient spawns the out-of-process admin client, handing it
// the admin session's bearer token in an environment variable. shiftd owns
// the process; the admin client itself is an external binary this package
// knows nothing about beyond its command line.
package adminclient

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hyprside/shift/pkg/ident"
)

// TokenEnvVar is the environment variable carrying the admin session's
// one-shot bearer token, consumed by the spawned process on its first
// AUTH frame.
const TokenEnvVar = "SHIFT_ADMIN_TOKEN"

// SocketEnvVar carries the control-plane socket path, so the admin
// client doesn't need its own config to find the daemon it was spawned
// by.
const SocketEnvVar = "SHIFT_SOCKET"

// Launcher starts and supervises the admin client process.
type Launcher struct {
	command    []string
	socketPath string
	logger     zerolog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// New builds a Launcher for the given command line (command[0] is the
// binary, command[1:] its arguments). command is taken verbatim from
// configuration; there is no allowlist here because, unlike the
// collaborator this is grounded on, the admin client command is an
// operator-supplied trusted launch target, not a request payload from
// an untrusted network peer.
func New(command []string, socketPath string, logger zerolog.Logger) *Launcher {
	return &Launcher{command: command, socketPath: socketPath, logger: logger}
}

// Start launches the admin client with token and socket path injected
// into its environment. It returns once the process has been started
// (not once it exits); call Wait to block for exit.
func (l *Launcher) Start(ctx context.Context, token string) error {
	if len(l.command) == 0 {
		return fmt.Errorf("adminclient: no command configured")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cmd := exec.CommandContext(ctx, l.command[0], l.command[1:]...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", TokenEnvVar, token),
		fmt.Sprintf("%s=%s", SocketEnvVar, l.socketPath),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("adminclient: start %s: %w", l.command[0], err)
	}

	launchID := ident.ShortSuffix()
	launchLog := l.logger.With().Str("launch", launchID).Logger()
	launchLog.Info().Str("command", l.command[0]).Int("pid", cmd.Process.Pid).Msg("admin client started")
	l.cmd = cmd
	l.done = make(chan struct{})

	go func() {
		err := cmd.Wait()
		l.mu.Lock()
		close(l.done)
		l.mu.Unlock()
		if err != nil {
			launchLog.Warn().Err(err).Msg("admin client exited")
		} else {
			launchLog.Info().Msg("admin client exited cleanly")
		}
	}()

	return nil
}

// Wait blocks until the admin client process has exited, or ctx is
// canceled first.
func (l *Launcher) Wait(ctx context.Context) error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return fmt.Errorf("adminclient: not started")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pid returns the admin client's process ID, or 0 if not started.
func (l *Launcher) Pid() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd == nil || l.cmd.Process == nil {
		return 0
	}
	return l.cmd.Process.Pid
}
