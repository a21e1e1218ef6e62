package testutil

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ckpt-go/internal/ckpt"
)

// MockFile represents an entry in the mock filesystem.
type MockFile struct {
	Content     []byte
	Permissions fs.FileMode
	ModTime     time.Time
	IsDirectory bool
	Special     fs.FileMode // non-zero for symlinks, pipes and the like
}

// MockFilesystemManager is an in-memory filesystem for testing.
// Paths are cleaned absolute paths; "/" always exists.
type MockFilesystemManager struct {
	mu       sync.Mutex
	files    map[string]*MockFile
	failures map[string]error
	temps    int
}

// NewMockFilesystemManager creates a new mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files:    map[string]*MockFile{"/": {IsDirectory: true, Permissions: 0755}},
		failures: make(map[string]error),
	}
}

// AddFile adds a file, creating missing parent directories.
func (m *MockFilesystemManager) AddFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	m.mkdirAll(filepath.Dir(path))
	m.files[path] = &MockFile{
		Content:     append([]byte(nil), content...),
		Permissions: 0644,
		ModTime:     time.Now(),
	}
}

// AddDirectory adds a directory and its missing parents.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(filepath.Clean(path))
}

// AddSpecial adds a non-regular entry such as a symlink.
func (m *MockFilesystemManager) AddSpecial(path string, mode fs.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	m.mkdirAll(filepath.Dir(path))
	m.files[path] = &MockFile{Permissions: 0777, ModTime: time.Now(), Special: mode}
}

// Remove deletes a single entry.
func (m *MockFilesystemManager) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, filepath.Clean(path))
}

// FailOn makes every later access to path return err.
func (m *MockFilesystemManager) FailOn(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[filepath.Clean(path)] = err
}

// Content returns the content of a file and whether it exists.
func (m *MockFilesystemManager) Content(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[filepath.Clean(path)]
	if !ok || f.IsDirectory {
		return nil, false
	}
	return append([]byte(nil), f.Content...), true
}

// Exists reports whether an entry exists at path.
func (m *MockFilesystemManager) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[filepath.Clean(path)]
	return ok
}

func (m *MockFilesystemManager) Resolve(rawPath string) (*ckpt.Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.lookup(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}
	if f.Special != 0 {
		return nil, fmt.Errorf("special files not supported: %s", absPath)
	}
	return ckpt.NewPath(absPath, f.IsDirectory, infoFor(absPath, f)), nil
}

func (m *MockFilesystemManager) ReadDir(path string) ([]fs.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	f, err := m.lookup(path)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: path, Err: err}
	}
	if !f.IsDirectory {
		return nil, fmt.Errorf("not a directory: %s", path)
	}

	var entries []fs.DirEntry
	for p, child := range m.files {
		if p != path && filepath.Dir(p) == path {
			entries = append(entries, fs.FileInfoToDirEntry(infoFor(p, child)))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (m *MockFilesystemManager) Stat(path string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	f, err := m.lookup(path)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: path, Err: err}
	}
	return infoFor(path, f), nil
}

func (m *MockFilesystemManager) Open(path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	f, err := m.lookup(path)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: path, Err: err}
	}
	if f.IsDirectory {
		return nil, fmt.Errorf("cannot open directory: %s", path)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), f.Content...))), nil
}

func (m *MockFilesystemManager) MkdirAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	if err := m.failures[path]; err != nil {
		return err
	}
	for p := path; ; p = filepath.Dir(p) {
		if f, ok := m.files[p]; ok && !f.IsDirectory {
			return fmt.Errorf("not a directory: %s", p)
		}
		if p == "/" || p == "." {
			break
		}
	}
	m.mkdirAll(path)
	return nil
}

func (m *MockFilesystemManager) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(filepath.Clean(path), data)
}

func (m *MockFilesystemManager) CopyFile(src, dst string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src = filepath.Clean(src)
	f, err := m.lookup(src)
	if err != nil {
		return 0, &fs.PathError{Op: "open", Path: src, Err: err}
	}
	if f.IsDirectory {
		return 0, fmt.Errorf("cannot copy directory: %s", src)
	}
	if err := m.write(filepath.Clean(dst), f.Content); err != nil {
		return 0, err
	}
	return int64(len(f.Content)), nil
}

func (m *MockFilesystemManager) MkdirTemp(dir, pattern string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir = filepath.Clean(dir)
	if f, err := m.lookup(dir); err != nil || !f.IsDirectory {
		return "", fmt.Errorf("temp parent missing: %s", dir)
	}
	m.temps++
	name := strings.Replace(pattern, "*", fmt.Sprintf("%d", m.temps), 1)
	if !strings.Contains(pattern, "*") {
		name = pattern + fmt.Sprintf("%d", m.temps)
	}
	path := filepath.Join(dir, name)
	m.mkdirAll(path)
	return path, nil
}

func (m *MockFilesystemManager) RemoveAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	for p := range m.files {
		if p == path || strings.HasPrefix(p, path+string(filepath.Separator)) {
			delete(m.files, p)
		}
	}
	return nil
}

func (m *MockFilesystemManager) lookup(path string) (*MockFile, error) {
	if err := m.failures[path]; err != nil {
		return nil, err
	}
	f, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return f, nil
}

func (m *MockFilesystemManager) write(path string, data []byte) error {
	if err := m.failures[path]; err != nil {
		return err
	}
	parent, ok := m.files[filepath.Dir(path)]
	if !ok || !parent.IsDirectory {
		return &fs.PathError{Op: "write", Path: path, Err: fs.ErrNotExist}
	}
	if f, ok := m.files[path]; ok && f.IsDirectory {
		return fmt.Errorf("is a directory: %s", path)
	}
	m.files[path] = &MockFile{
		Content:     append([]byte(nil), data...),
		Permissions: 0644,
		ModTime:     time.Now(),
	}
	return nil
}

func (m *MockFilesystemManager) mkdirAll(path string) {
	for p := path; ; p = filepath.Dir(p) {
		if _, ok := m.files[p]; !ok {
			m.files[p] = &MockFile{IsDirectory: true, Permissions: 0755, ModTime: time.Now()}
		}
		if p == "/" || p == "." {
			return
		}
	}
}

func infoFor(path string, f *MockFile) *mockFileInfo {
	mode := f.Permissions
	switch {
	case f.IsDirectory:
		mode |= fs.ModeDir
	case f.Special != 0:
		mode |= f.Special
	}
	return &mockFileInfo{
		name:     filepath.Base(path),
		size:     int64(len(f.Content)),
		mode:     mode,
		modTime:  f.ModTime,
		mockFile: f,
	}
}

// mockFileInfo implements fs.FileInfo
type mockFileInfo struct {
	name     string
	size     int64
	mode     fs.FileMode
	modTime  time.Time
	mockFile *MockFile
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() fs.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.mode.IsDir() }
func (m *mockFileInfo) Sys() any           { return m.mockFile }

// Compile-time check
var _ ckpt.FilesystemManager = (*MockFilesystemManager)(nil)
