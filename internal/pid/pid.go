// Package pid keeps two bench sessions from driving the same rig.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/thrustbench/internal/errors"
)

const (
	pidFile = "thrustbench.pid"
)

// Lock is a held PID file.
type Lock struct {
	path string
}

// Acquire writes the current process ID to thrustbench.pid in dir (the
// system temp dir when empty). A file naming a live process means another
// session owns the rig; a stale or unreadable file is taken over.
func Acquire(dir string) (*Lock, error) {
	errFactory := errors.New()

	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, pidFile)

	if owner, ok := readOwner(path); ok && owner != os.Getpid() && alive(owner) {
		return nil, errFactory.WithData(errors.ErrAlreadyRunning, owner)
	}

	err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}

	return &Lock{path: path}, nil
}

// Path returns the PID file location.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the PID file.
func (l *Lock) Release() error {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(l.path); err != nil {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

func readOwner(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
