package filelock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireInstanceLock(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")

	first, err := AcquireInstanceLock(home)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, InstanceLockName), first.Path())

	data, err := os.ReadFile(first.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	// flock locks are per open file description, so a second acquire in-process conflicts
	_, err = AcquireInstanceLock(home)
	require.Error(t, err)
	assert.True(t, IsAlreadyRunning(err))
	assert.Contains(t, err.Error(), fmt.Sprintf("pid %d", os.Getpid()))

	require.NoError(t, first.Release())

	again, err := AcquireInstanceLock(home)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAlreadyRunningError_WithoutPID(t *testing.T) {
	err := &AlreadyRunningError{LockPath: "/x/conveyor.lock"}
	assert.Equal(t, "another conveyor daemon holds /x/conveyor.lock", err.Error())
	assert.False(t, IsAlreadyRunning(nil))
	assert.False(t, IsAlreadyRunning(fmt.Errorf("plain")))
	assert.True(t, IsAlreadyRunning(fmt.Errorf("wrapped: %w", err)))
}

func TestAtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "logs.json")

	require.NoError(t, AtomicWrite(path, []byte(`[1]`)))
	require.NoError(t, AtomicWrite(path, []byte(`[1,2]`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestAtomicWrite_TargetIsDirectory(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "taken")
	require.NoError(t, os.Mkdir(target, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "keep"), nil, 0644))

	err := AtomicWrite(target, []byte("x"))
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file removed after failed rename")
}
