package ckpt_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ckpt-go/internal/ckpt"
)

// chainEnv builds three checkpoints:
// first: a.txt "hello", sub/b.txt "world"; second: unchanged; third: a.txt "hello!".
func chainEnv(t *testing.T) *testEnv {
	t.Helper()
	e := newTestEnv(t)
	e.write(t, "a.txt", "hello")
	e.write(t, "sub/b.txt", "world")
	e.backupOnce(t)
	e.backupOnce(t)
	e.write(t, "a.txt", "hello!")
	e.backupOnce(t)
	return e
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestService_ListCheckpoints(t *testing.T) {
	e := chainEnv(t)

	checkpoints, err := e.svc.ListCheckpoints()
	require.NoError(t, err)
	require.Len(t, checkpoints, 3)

	var names []string
	for _, cp := range checkpoints {
		names = append(names, cp.Name)
	}
	assert.Equal(t, []string{firstCheckpoint, secondCheckpoint, thirdCheckpoint}, names)
	assert.False(t, checkpoints[0].IsLatest)
	assert.True(t, checkpoints[2].IsLatest)
	assert.Equal(t, 32, checkpoints[2].Time.Minute())
}

func TestService_ListCheckpoints_NoBackupRoot(t *testing.T) {
	e := newTestEnv(t)
	checkpoints, err := e.svc.ListCheckpoints()
	require.NoError(t, err)
	assert.Empty(t, checkpoints)
}

func TestService_Restore(t *testing.T) {
	t.Run("latest", func(t *testing.T) {
		e := chainEnv(t)
		dest := filepath.Join(t.TempDir(), "out")

		restored, err := e.svc.Restore("", "", dest)
		require.NoError(t, err)
		require.Len(t, restored, 2)
		assert.Equal(t, "hello!", readFile(t, filepath.Join(dest, "a.txt")))
		assert.Equal(t, "world", readFile(t, filepath.Join(dest, "sub", "b.txt")))

		from := map[string]string{}
		for _, r := range restored {
			from[filepath.ToSlash(r.RelPath)] = r.From
		}
		assert.Equal(t, thirdCheckpoint, from["a.txt"])
		assert.Equal(t, firstCheckpoint, from["sub/b.txt"])
	})

	t.Run("older checkpoint takes content from further back", func(t *testing.T) {
		e := chainEnv(t)
		dest := t.TempDir()

		restored, err := e.svc.Restore(secondCheckpoint, "a.txt", dest)
		require.NoError(t, err)
		require.Len(t, restored, 1)
		assert.Equal(t, firstCheckpoint, restored[0].From)
		assert.Equal(t, "hello", readFile(t, filepath.Join(dest, "a.txt")))
		assert.NoFileExists(t, filepath.Join(dest, "sub", "b.txt"))
	})

	t.Run("prefix given as an absolute source path", func(t *testing.T) {
		e := chainEnv(t)
		dest := t.TempDir()

		restored, err := e.svc.Restore("", filepath.Join(e.src, "sub"), dest)
		require.NoError(t, err)
		require.Len(t, restored, 1)
		assert.Equal(t, filepath.Join("sub", "b.txt"), restored[0].RelPath)
	})

	t.Run("never overwrites", func(t *testing.T) {
		e := chainEnv(t)

		_, err := e.svc.Restore("", "", e.src)
		require.ErrorIs(t, err, ckpt.ErrRestoreTargetExists)
		assert.Equal(t, "hello!", readFile(t, filepath.Join(e.src, "a.txt")))
	})

	t.Run("unknown checkpoint", func(t *testing.T) {
		e := chainEnv(t)
		_, err := e.svc.Restore("1999-01-01_00-00_00", "", t.TempDir())
		require.ErrorIs(t, err, ckpt.ErrNoCheckpoint)
	})

	t.Run("nothing committed", func(t *testing.T) {
		e := newTestEnv(t)
		_, err := e.svc.Restore("", "", t.TempDir())
		require.ErrorIs(t, err, ckpt.ErrNoCheckpoint)
	})

	t.Run("prefix outside the source root", func(t *testing.T) {
		e := chainEnv(t)
		_, err := e.svc.Restore("", "../elsewhere", t.TempDir())
		require.Error(t, err)
	})

	t.Run("missing content is reported", func(t *testing.T) {
		e := chainEnv(t)
		require.NoError(t, os.Remove(filepath.Join(e.backup, firstCheckpoint, "sub", "b.txt")))

		_, err := e.svc.Restore("", "sub", t.TempDir())
		require.ErrorIs(t, err, ckpt.ErrContentMissing)
	})

	t.Run("recorded in the catalog", func(t *testing.T) {
		e := chainEnv(t)
		_, err := e.svc.Restore("", "", t.TempDir())
		require.NoError(t, err)

		runs, err := e.svc.Runs(1)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, ckpt.OpRestore, runs[0].Operation)
		assert.Equal(t, ckpt.RunCommitted, runs[0].Status)
		assert.Equal(t, thirdCheckpoint, runs[0].Checkpoint)
		assert.Equal(t, 2, runs[0].Files)
	})
}

func TestService_FileHistory(t *testing.T) {
	e := chainEnv(t)

	history, err := e.svc.FileHistory("a.txt")
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, thirdCheckpoint, history[0].Checkpoint)
	assert.True(t, history[0].IsLatest)
	assert.True(t, history[0].HasContent)
	assert.Equal(t, int64(6), history[0].Record.Size)

	assert.Equal(t, secondCheckpoint, history[1].Checkpoint)
	assert.False(t, history[1].HasContent)
	assert.Equal(t, int64(5), history[1].Record.Size)

	assert.Equal(t, firstCheckpoint, history[2].Checkpoint)
	assert.True(t, history[2].HasContent)

	t.Run("untracked file", func(t *testing.T) {
		history, err := e.svc.FileHistory("nope.txt")
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("source root is not a file", func(t *testing.T) {
		_, err := e.svc.FileHistory(e.src)
		require.Error(t, err)
	})
}
