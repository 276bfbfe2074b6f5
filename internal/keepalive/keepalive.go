// Package keepalive holds the host awake while bulk jobs run.
//
// Inhibition is best effort. When the platform helper is missing or
// fails to start, Acquire returns a lock that does nothing and the job
// runs without protection.
package keepalive

import (
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// Lock is a held wake lock. Release is idempotent.
type Lock interface {
	Release()
}

// Keeper acquires wake locks. Acquire never fails: the returned Lock may
// be a no-op.
type Keeper interface {
	Acquire(reason string) Lock
}

// New returns the Keeper for the current platform. Platforms without a
// helper binary get Noop.
func New(logger *slog.Logger) Keeper {
	if logger == nil {
		logger = slog.Default()
	}
	switch runtime.GOOS {
	case "linux":
		return &execKeeper{
			helper: "systemd-inhibit",
			argv: func(reason string) []string {
				return []string{
					"--what=sleep:idle",
					"--who=mailsweep",
					"--why=" + reason,
					"--mode=block",
					"sleep", "infinity",
				}
			},
			logger: logger,
		}
	case "darwin":
		return &execKeeper{
			helper: "caffeinate",
			argv:   func(string) []string { return []string{"-i"} },
			logger: logger,
		}
	default:
		return Noop{}
	}
}

// Noop is a Keeper whose locks do nothing.
type Noop struct{}

// Acquire returns a lock that does nothing.
func (Noop) Acquire(string) Lock { return noopLock{} }

type noopLock struct{}

func (noopLock) Release() {}

// execKeeper holds the host awake by keeping a helper child process
// alive for the duration of the lock.
type execKeeper struct {
	helper string
	argv   func(reason string) []string
	logger *slog.Logger
}

func (k *execKeeper) Acquire(reason string) Lock {
	path, err := exec.LookPath(k.helper)
	if err != nil {
		k.logger.Debug("keep-alive helper not found", "helper", k.helper)
		return noopLock{}
	}

	cmd := exec.Command(path, k.argv(reason)...)
	if err := cmd.Start(); err != nil {
		k.logger.Debug("keep-alive helper failed to start", "helper", k.helper, "error", err)
		return noopLock{}
	}

	lk := &processLock{cmd: cmd, logger: k.logger, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(lk.done)
	}()

	k.logger.Debug("keep-alive acquired", "helper", k.helper, "pid", cmd.Process.Pid)
	return lk
}

// processLock releases by stopping the helper child.
type processLock struct {
	cmd    *exec.Cmd
	logger *slog.Logger
	once   sync.Once
	done   chan struct{} // closed once the child is reaped
}

func (l *processLock) Release() {
	l.once.Do(func() {
		// Interrupt first so helpers like systemd-inhibit can forward
		// the signal to their own child before exiting.
		if err := l.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = l.cmd.Process.Kill()
		}
		select {
		case <-l.done:
		case <-time.After(2 * time.Second):
			_ = l.cmd.Process.Kill()
			<-l.done
		}
		l.logger.Debug("keep-alive released")
	})
}
