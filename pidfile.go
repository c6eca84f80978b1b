package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// The PID file shares the database directory, which is private to the owner.
const (
	pidFilePermissions = 0o600
	pidDirPermissions  = 0o700
)

// daemonLock is the run daemon's PID file together with the exclusive flock
// held on it for the daemon's lifetime. The lock, not the file, says whether
// a daemon is alive: a crash leaves the file behind but drops the lock.
type daemonLock struct {
	path string
	f    *os.File
}

// acquireDaemonLock creates or reuses the PID file at path, locks it, and
// records the current PID. It fails if another daemon serves the same
// database.
func acquireDaemonLock(path string) (*daemonLock, error) {
	if path == "" {
		return nil, errors.New("PID file path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another datareturn run is already running (could not lock %s)", path)
	}

	l := &daemonLock{path: path, f: f}

	if err := l.writePID(); err != nil {
		f.Close()

		return nil, err
	}

	return l, nil
}

func (l *daemonLock) writePID() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := l.f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("syncing PID file: %w", err)
	}

	return nil
}

// Release removes the PID file and drops the lock.
func (l *daemonLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

// lockHeld reports whether a live process holds the lock on the PID file.
func lockHeld(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB)
	switch {
	case err == nil:
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

		return false, nil
	case errors.Is(err, syscall.EWOULDBLOCK):
		return true, nil
	default:
		return false, fmt.Errorf("checking lock on %s: %w", path, err)
	}
}

// readPIDFile parses the PID stored in path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// runningDaemon returns the PID of the daemon holding the lock at path.
func runningDaemon(path string) (int, error) {
	held, err := lockHeld(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("no running daemon found (no PID file at %s)", path)
	}

	if err != nil {
		return 0, err
	}

	// A new daemon reuses the file, so a stale one is left in place.
	if !held {
		return 0, fmt.Errorf("no running daemon found (stale PID file at %s)", path)
	}

	return readPIDFile(path)
}

// signalDaemon delivers sig to the daemon that owns the PID file at path.
func signalDaemon(path string, sig os.Signal) error {
	pid, err := runningDaemon(path)
	if err != nil {
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding daemon process %d: %w", pid, err)
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signaling daemon (PID %d): %w", pid, err)
	}

	return nil
}
