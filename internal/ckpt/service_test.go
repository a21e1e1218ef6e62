package ckpt_test

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ckpt-go/internal/archive"
	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/database"
	ckptfs "ckpt-go/internal/fs"
	"ckpt-go/internal/pointer"
	"ckpt-go/internal/testutil"
)

const (
	firstCheckpoint  = "2024-01-15_10-30_00"
	secondCheckpoint = "2024-01-15_10-31_00"
	thirdCheckpoint  = "2024-01-15_10-32_00"
)

type testEnv struct {
	src      string
	backup   string
	settings ckpt.Settings
	clock    *testutil.StubClock
	logger   *testutil.RecordingLogger
	pointer  *pointer.FileStore
	catalog  *database.SQLiteCatalog
	archiver ckpt.MetadataArchiver
	// ignore and metaIgnore default to the node_modules matcher.
	ignore     ckpt.Matcher
	metaIgnore ckpt.Matcher
	svc        *ckpt.Service
}

func newTestEnv(t *testing.T, opts ...func(*testEnv)) *testEnv {
	t.Helper()
	root := t.TempDir()
	e := &testEnv{
		src:    filepath.Join(root, "src"),
		backup: filepath.Join(root, "backup"),
		clock:  testutil.FixedClock(),
		logger: testutil.NewRecordingLogger(),
	}
	require.NoError(t, os.MkdirAll(e.src, 0o755))
	e.settings = ckpt.Settings{SourceRoot: e.src, BackupRoot: e.backup}.WithDefaults()
	e.pointer = pointer.NewFileStore(filepath.Join(e.backup, ckpt.DefaultPointerFile))
	e.catalog = testutil.NewTestCatalog(t)

	for _, opt := range opts {
		opt(e)
	}

	defaultIgnore := ckptfs.NewIgnoreMatcher([]string{"node_modules"})
	if e.ignore == nil {
		e.ignore = defaultIgnore
	}
	if e.metaIgnore == nil {
		e.metaIgnore = defaultIgnore
	}
	if e.archiver == nil {
		e.archiver = archive.NewArchiverFromSettings(e.settings, e.metaIgnore, e.logger)
	}
	svc, err := ckpt.NewService(e.settings, ckptfs.NewOSFilesystemManager(), e.archiver, e.pointer, e.catalog,
		e.ignore, e.metaIgnore, e.logger, e.clock, testutil.NewStubIDGenerator())
	require.NoError(t, err)
	e.svc = svc
	return e
}

func (e *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(e.src, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func (e *testEnv) backupOnce(t *testing.T) *ckpt.Report {
	t.Helper()
	r, err := e.svc.Backup()
	require.NoError(t, err, "logs:\n%s", e.logger)
	e.clock.Advance(time.Minute)
	return r
}

func (e *testEnv) latest(t *testing.T) string {
	t.Helper()
	name, ok, err := e.pointer.Read()
	require.NoError(t, err)
	if !ok {
		return ""
	}
	return name
}

// treeDirs lists every directory under root except root itself and the
// skipped names, slash-separated and sorted.
func treeDirs(t *testing.T, root string, skip ...string) []string {
	t.Helper()
	dirs := []string{}
	require.NoError(t, filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || p == root {
			return nil
		}
		for _, name := range skip {
			if d.Name() == name {
				return filepath.SkipDir
			}
		}
		rel, _ := filepath.Rel(root, p)
		dirs = append(dirs, filepath.ToSlash(rel))
		return nil
	}))
	sort.Strings(dirs)
	return dirs
}

// treeFiles lists every regular file under root, slash-separated and sorted.
func treeFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	require.NoError(t, filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(root, p)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	}))
	sort.Strings(files)
	return files
}

func TestService_FirstBackup(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "a.txt", "hello")
	e.write(t, "sub/b.txt", "world")
	require.NoError(t, os.MkdirAll(filepath.Join(e.src, "empty"), 0o755))

	r := e.backupOnce(t)

	assert.Equal(t, firstCheckpoint, r.Checkpoint)
	assert.Empty(t, r.Previous)
	assert.Equal(t, 2, r.New)
	assert.Equal(t, 0, r.Unchanged)
	assert.Equal(t, int64(10), r.BytesCopied)
	assert.Equal(t, firstCheckpoint, e.latest(t))

	cp := filepath.Join(e.backup, firstCheckpoint)
	assert.Equal(t, []string{
		ckpt.DefaultArchiveName,
		"a.txt",
		"sub/" + ckpt.DefaultArchiveName,
		"sub/b.txt",
	}, treeFiles(t, cp))
	assert.DirExists(t, filepath.Join(cp, "empty"))

	data, err := os.ReadFile(filepath.Join(cp, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	members, err := e.archiver.ReadRecords(cp)
	require.NoError(t, err)
	require.Contains(t, members, "a.txt.meta")
	rec, err := ckpt.ParseRecord(members["a.txt.meta"])
	require.NoError(t, err)
	assert.Equal(t, testutil.HashOf("hello"), rec.Hash)
	assert.Equal(t, int64(5), rec.Size)
}

func TestService_UnchangedRerun(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "a.txt", "hello")
	e.write(t, "sub/b.txt", "world")
	e.backupOnce(t)

	r := e.backupOnce(t)

	assert.Equal(t, secondCheckpoint, r.Checkpoint)
	assert.Equal(t, firstCheckpoint, r.Previous)
	assert.Equal(t, 0, r.Changed())
	assert.Equal(t, 2, r.Unchanged)
	assert.Equal(t, secondCheckpoint, e.latest(t))

	// Metadata for every tracked file, no content.
	assert.Equal(t, []string{ckpt.DefaultArchiveName, "sub/" + ckpt.DefaultArchiveName},
		treeFiles(t, filepath.Join(e.backup, secondCheckpoint)))
	members, err := e.archiver.ReadRecords(filepath.Join(e.backup, secondCheckpoint, "sub"))
	require.NoError(t, err)
	assert.Contains(t, members, "b.txt.meta")

	// The previous checkpoint is left as it was.
	assert.Equal(t, []string{
		ckpt.DefaultArchiveName, "a.txt", "sub/" + ckpt.DefaultArchiveName, "sub/b.txt",
	}, treeFiles(t, filepath.Join(e.backup, firstCheckpoint)))

	// The staging copy is gone.
	entries, err := os.ReadDir(e.settings.StagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestService_ModifiedFile(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "a.txt", "hello")
	e.backupOnce(t)

	e.write(t, "a.txt", "hello!")
	r := e.backupOnce(t)

	assert.Equal(t, 1, r.Modified)
	require.Len(t, r.Changes, 1)
	assert.Equal(t, int64(5), r.Changes[0].Last.Size)
	assert.Equal(t, int64(6), r.Changes[0].Current.Size)

	data, err := os.ReadFile(filepath.Join(e.backup, secondCheckpoint, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello!", string(data))
}

func TestService_SameSizeEdit(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "a.txt", "hello")
	e.backupOnce(t)

	e.write(t, "a.txt", "jello")
	r := e.backupOnce(t)

	assert.Equal(t, 1, r.Modified)
	assert.Equal(t, 0, r.Unchanged)
	require.Len(t, r.Changes, 1)
	assert.Equal(t, r.Changes[0].Last.Size, r.Changes[0].Current.Size)
	assert.NotEqual(t, r.Changes[0].Last.Hash, r.Changes[0].Current.Hash)

	data, err := os.ReadFile(filepath.Join(e.backup, secondCheckpoint, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "jello", string(data))
}

func TestService_MirrorsDirectories(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "a.txt", "hello")
	e.write(t, "sub/deep/b.txt", "world")
	e.write(t, "node_modules/pkg/index.js", "x")
	for _, d := range []string{"empty", "sub/also-empty"} {
		require.NoError(t, os.MkdirAll(filepath.Join(e.src, d), 0o755))
	}
	e.backupOnce(t)
	assert.Equal(t, treeDirs(t, e.src, "node_modules"), treeDirs(t, filepath.Join(e.backup, firstCheckpoint)))

	e.write(t, "later/c.txt", "new dir")
	require.NoError(t, os.RemoveAll(filepath.Join(e.src, "empty")))
	e.backupOnce(t)

	assert.Equal(t, treeDirs(t, e.src, "node_modules"), treeDirs(t, filepath.Join(e.backup, secondCheckpoint)))
	assert.Equal(t, []string{"later", "sub", "sub/also-empty", "sub/deep"},
		treeDirs(t, filepath.Join(e.backup, secondCheckpoint)))
}

func TestService_RegenerateMetadataUnderBackupRoot(t *testing.T) {
	// The source walk ignores the backup root; regeneration must not.
	e := newTestEnv(t, func(e *testEnv) {
		e.metaIgnore = ckptfs.NewIgnoreMatcher([]string{"node_modules"})
		e.ignore = ckptfs.NewIgnoreMatcher([]string{"node_modules", e.backup})
	})
	copyDir := filepath.Join(e.backup, "copy")
	for rel, content := range map[string]string{"a.txt": "hello", "sub/b.txt": "world"} {
		p := filepath.Join(copyDir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	dir, err := ckptfs.NewOSFilesystemManager().Resolve(copyDir)
	require.NoError(t, err)
	r, err := e.svc.RegenerateMetadata(dir)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Files)
	assert.Equal(t, 0, r.DirsSkipped)
	_, ok, err := e.archiver.ReadMember(filepath.Join(copyDir, "sub"), "b.txt.meta")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_IgnoredDirectory(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "a.txt", "hello")
	e.write(t, "node_modules/pkg/index.js", "x")

	r := e.backupOnce(t)

	assert.Equal(t, 1, r.DirsSkipped)
	assert.NoDirExists(t, filepath.Join(e.backup, firstCheckpoint, "node_modules"))
}

func TestService_RemovedFile(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "a.txt", "hello")
	e.write(t, "sub/b.txt", "world")
	e.backupOnce(t)

	require.NoError(t, os.Remove(filepath.Join(e.src, "sub", "b.txt")))
	r := e.backupOnce(t)

	assert.Equal(t, []string{filepath.Join("sub", "b.txt")}, r.Removed)
	members, err := e.archiver.ReadRecords(filepath.Join(e.backup, secondCheckpoint, "sub"))
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestService_MissingPreviousCheckpoint(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "a.txt", "hello")
	require.NoError(t, e.pointer.Commit("2023-01-01_00-00_00"))

	r := e.backupOnce(t)

	assert.Empty(t, r.Previous)
	assert.Equal(t, 1, r.New)
	assert.True(t, e.logger.Has("WARN", "missing checkpoint"))
	assert.Equal(t, firstCheckpoint, e.latest(t))
}

func TestService_CheckpointExists(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "a.txt", "hello")
	require.NoError(t, os.MkdirAll(filepath.Join(e.backup, firstCheckpoint), 0o755))

	_, err := e.svc.Backup()
	require.ErrorIs(t, err, ckpt.ErrCheckpointExists)
	assert.Empty(t, e.latest(t))
}

type failingArchiver struct {
	ckpt.MetadataArchiver
	err error
}

func (f *failingArchiver) FoldTree(root string) error {
	if f.err != nil {
		return f.err
	}
	return f.MetadataArchiver.FoldTree(root)
}

func TestService_FailedRunDoesNotMovePointer(t *testing.T) {
	boom := errors.New("archive write failed")
	var failing *failingArchiver
	e := newTestEnv(t, func(e *testEnv) {
		failing = &failingArchiver{
			MetadataArchiver: archive.NewArchiverFromSettings(e.settings, nil, e.logger),
		}
		e.archiver = failing
	})
	e.write(t, "a.txt", "hello")
	e.backupOnce(t)

	failing.err = boom
	e.write(t, "a.txt", "hello!")
	r, err := e.svc.Backup()
	require.ErrorIs(t, err, boom)
	assert.Equal(t, secondCheckpoint, r.Checkpoint)
	assert.Equal(t, firstCheckpoint, e.latest(t))

	runs, err := e.svc.Runs(0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ckpt.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "archive write failed")
	assert.Equal(t, ckpt.RunCommitted, runs[1].Status)
}

func TestService_ContinuePolicyFailsRun(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	e := newTestEnv(t, func(e *testEnv) { e.settings.OnError = ckpt.PolicyContinue })
	e.write(t, "a.txt", "hello")
	e.write(t, "b.txt", "locked")
	e.write(t, "c.txt", "world")
	require.NoError(t, os.Chmod(filepath.Join(e.src, "b.txt"), 0o000))
	t.Cleanup(func() { os.Chmod(filepath.Join(e.src, "b.txt"), 0o644) })

	r, err := e.svc.Backup()
	require.Error(t, err)
	assert.Equal(t, 2, r.New)
	assert.Empty(t, e.latest(t))
}

func TestService_KeepStaging(t *testing.T) {
	e := newTestEnv(t, func(e *testEnv) { e.settings.KeepStaging = true })
	e.write(t, "a.txt", "hello")
	e.backupOnce(t)

	r := e.backupOnce(t)

	require.NotEmpty(t, r.StagingDir)
	assert.Equal(t, []string{"a.txt.meta"}, treeFiles(t, r.StagingDir))
}

func TestService_Preview(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "a.txt", "hello")
	e.write(t, "b.txt", "same")
	e.backupOnce(t)

	e.write(t, "a.txt", "hello!")
	e.write(t, "c.txt", "new")
	require.NoError(t, os.Remove(filepath.Join(e.src, "b.txt")))

	r, err := e.svc.Preview()
	require.NoError(t, err)
	assert.Equal(t, firstCheckpoint, r.Previous)
	assert.Equal(t, 1, r.New)
	assert.Equal(t, 1, r.Modified)
	assert.Equal(t, []string{"b.txt"}, r.Removed)

	checkpoints, err := e.svc.ListCheckpoints()
	require.NoError(t, err)
	assert.Len(t, checkpoints, 1)
}

func TestService_RegenerateMetadata(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "a.txt", "hello")
	e.write(t, "sub/b.txt", "world")

	dir, err := ckptfs.NewOSFilesystemManager().Resolve(e.src)
	require.NoError(t, err)
	r, err := e.svc.RegenerateMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Files)

	assert.Equal(t, []string{
		ckpt.DefaultArchiveName, "a.txt", "sub/" + ckpt.DefaultArchiveName, "sub/b.txt",
	}, treeFiles(t, e.src))

	// Running it again replaces the records in place.
	e.write(t, "a.txt", "hello!")
	_, err = e.svc.RegenerateMetadata(dir)
	require.NoError(t, err)
	data, ok, err := e.archiver.ReadMember(e.src, "a.txt.meta")
	require.NoError(t, err)
	require.True(t, ok)
	rec, err := ckpt.ParseRecord(data)
	require.NoError(t, err)
	assert.Equal(t, testutil.HashOf("hello!"), rec.Hash)
	assert.Empty(t, e.latest(t))
}

func TestService_InvalidSettings(t *testing.T) {
	_, err := ckpt.NewService(ckpt.Settings{SourceRoot: "relative", BackupRoot: "/b"},
		testutil.NewMockFilesystemManager(), nil, pointer.NewMemoryStore(), nil, nil, nil,
		ckpt.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	require.Error(t, err)
}
