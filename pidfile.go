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

const (
	pidFileMode = 0o644
	pidDirMode  = 0o700
)

// errSyncRunning means another recipevault process holds the sync lock.
var errSyncRunning = errors.New("another sync is already running")

// writePIDFile takes the data directory's sync lock: an exclusive,
// non-blocking flock on path, which then holds our PID. The returned release
// func removes the file and drops the lock. A held lock yields an error
// matching errSyncRunning.
func writePIDFile(path string) (release func(), err error) {
	if path == "" {
		return nil, errors.New("sync lock path is empty: no data directory configured")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirMode); err != nil {
		return nil, fmt.Errorf("creating sync lock directory: %w", err)
	}

	lock, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFileMode)
	if err != nil {
		return nil, fmt.Errorf("opening sync lock: %w", err)
	}

	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lock.Close()
		return nil, fmt.Errorf("%w (could not lock %s)", errSyncRunning, path)
	}

	if err := recordPID(lock); err != nil {
		lock.Close()
		return nil, err
	}

	return func() {
		os.Remove(path)
		lock.Close()
	}, nil
}

// recordPID replaces the lock file's contents with the current PID.
func recordPID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating sync lock: %w", err)
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("writing sync lock: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("flushing sync lock: %w", err)
	}

	return nil
}

// readPIDFile parses the PID recorded in a lock file.
func readPIDFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading sync lock: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// runningPID returns the PID recorded in path if that process is alive, or
// 0. A stale file is removed.
func runningPID(path string) int {
	pid, err := readPIDFile(path)
	if err != nil {
		return 0
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(path)
		return 0
	}

	return pid
}

// sendSIGHUP asks the process recorded in pidPath to run a pass now. It
// returns the PID it signaled.
func sendSIGHUP(pidPath string) (int, error) {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("no running watcher found (no PID file at %s)", pidPath)
		}

		return 0, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return 0, fmt.Errorf("watcher (PID %d) is not running (stale PID file removed)", pid)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return 0, fmt.Errorf("sending SIGHUP to watcher (PID %d): %w", pid, err)
	}

	return pid, nil
}
