package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trapSIGHUP keeps a SIGHUP aimed at the test process from killing it.
func trapSIGHUP(t *testing.T) <-chan os.Signal {
	t.Helper()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	t.Cleanup(func() { signal.Stop(sigCh) })

	return sigCh
}

func TestWritePIDFile_CreatesFileWithCurrentPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "watch.pid")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)
	require.NotNil(t, cleanup)

	defer cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestWritePIDFile_FlockPreventsSecondAcquisition(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "watch.pid")

	cleanup1, err := writePIDFile(path)
	require.NoError(t, err)

	defer cleanup1()

	cleanup2, err := writePIDFile(path)
	require.ErrorIs(t, err, errSyncRunning)
	assert.Nil(t, cleanup2)
}

func TestWritePIDFile_CleanupRemovesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "watch.pid")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	cleanup()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWritePIDFile_EmptyPathReturnsError(t *testing.T) {
	t.Parallel()

	cleanup, err := writePIDFile("")
	assert.Error(t, err)
	assert.Nil(t, cleanup)
	assert.Contains(t, err.Error(), "empty")
}

func TestWritePIDFile_CreatesParentDirectories(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "watch.pid")

	cleanup, err := writePIDFile(path)
	require.NoError(t, err)

	defer cleanup()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestReadPIDFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.pid")
	require.NoError(t, os.WriteFile(valid, []byte("12345\n"), 0o644))

	pid, err := readPIDFile(valid)
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	invalid := filepath.Join(dir, "invalid.pid")
	require.NoError(t, os.WriteFile(invalid, []byte("not-a-pid\n"), 0o644))

	_, err = readPIDFile(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PID")

	_, err = readPIDFile(filepath.Join(dir, "missing.pid"))
	assert.Error(t, err)
}

func TestRunningPID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	assert.Zero(t, runningPID(filepath.Join(dir, "missing.pid")))

	self := filepath.Join(dir, "self.pid")
	require.NoError(t, os.WriteFile(self, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))
	assert.Equal(t, os.Getpid(), runningPID(self))

	// PID 999999999 is almost certainly not a running process.
	stale := filepath.Join(dir, "stale.pid")
	require.NoError(t, os.WriteFile(stale, []byte("999999999\n"), 0o644))
	assert.Zero(t, runningPID(stale))

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale PID file is removed")
}

func TestSendSIGHUP_NoPIDFile(t *testing.T) {
	t.Parallel()

	_, err := sendSIGHUP(filepath.Join(t.TempDir(), "nonexistent.pid"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no running watcher")
}

func TestSendSIGHUP_StalePIDFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "watch.pid")
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))

	_, err := sendSIGHUP(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSendSIGHUP_SendsToCurrentProcess(t *testing.T) {
	t.Parallel()

	sigCh := trapSIGHUP(t)

	path := filepath.Join(t.TempDir(), "watch.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))

	pid, err := sendSIGHUP(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	select {
	case sig := <-sigCh:
		assert.Equal(t, syscall.SIGHUP, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("SIGHUP not delivered")
	}
}
