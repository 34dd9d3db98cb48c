package smbstore

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockSMBBackend provides an in-memory SMB server simulation for testing.
// It holds a virtual tree that can be populated with test data, injects
// errors per path or per operation and counts operations by name.
type MockSMBBackend struct {
	mu sync.RWMutex

	files  map[string]*mockFileData
	shares map[string]bool

	// errors to inject for specific operations
	errorOnPath map[string]error
	errorOnOp   map[string]error
	// errors returned after an operation took effect
	errorAfterOp map[string]error

	opMu     sync.Mutex
	opCounts map[string]int
}

// mockFileData represents a file or directory in the mock filesystem.
type mockFileData struct {
	name    string
	content []byte
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

// NewMockSMBBackend creates a new mock SMB backend with an empty root.
func NewMockSMBBackend() *MockSMBBackend {
	m := &MockSMBBackend{
		files:        make(map[string]*mockFileData),
		shares:       make(map[string]bool),
		errorOnPath:  make(map[string]error),
		errorOnOp:    make(map[string]error),
		errorAfterOp: make(map[string]error),
		opCounts:     make(map[string]int),
	}

	m.files["/"] = &mockFileData{
		name:    "/",
		isDir:   true,
		mode:    fs.ModeDir | 0755,
		modTime: time.Now(),
	}
	return m
}

// AddShare adds a share to the mock backend.
func (m *MockSMBBackend) AddShare(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shares[name] = true
}

// AddFile adds a file with the given modification time.
func (m *MockSMBBackend) AddFile(p string, content []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = normalizeMockPath(p)
	m.files[p] = &mockFileData{
		name:    path.Base(p),
		content: content,
		mode:    0644,
		modTime: modTime,
	}
	m.ensureParentDirs(p)
}

// AddDir adds a directory with the given modification time.
func (m *MockSMBBackend) AddDir(p string, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = normalizeMockPath(p)
	m.files[p] = &mockFileData{
		name:    path.Base(p),
		isDir:   true,
		mode:    fs.ModeDir | 0755,
		modTime: modTime,
	}
	m.ensureParentDirs(p)
}

// SetModTime changes the modification time of an existing entry.
func (m *MockSMBBackend) SetModTime(p string, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[normalizeMockPath(p)]; ok {
		f.modTime = modTime
	}
}

// SetError sets an error to return for a specific path.
func (m *MockSMBBackend) SetError(p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorOnPath[normalizeMockPath(p)] = err
}

// SetOperationError sets an error to return for a specific operation type.
func (m *MockSMBBackend) SetOperationError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorOnOp[op] = err
}

// SetErrorAfter makes op return err even though it took effect, the way
// some servers answer a successful removal.
func (m *MockSMBBackend) SetErrorAfter(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorAfterOp[op] = err
}

// CountOperations returns how often op was recorded.
func (m *MockSMBBackend) CountOperations(op string) int {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.opCounts[op]
}

// FileExists returns true if the path exists.
func (m *MockSMBBackend) FileExists(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[normalizeMockPath(p)]
	return ok
}

func (m *MockSMBBackend) recordOp(op string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.opCounts[op]++
}

// checkError checks for injected errors. Caller must hold mu.
func (m *MockSMBBackend) checkError(op, p string) error {
	if err, ok := m.errorOnOp[op]; ok {
		return err
	}
	if err, ok := m.errorOnPath[p]; ok {
		return err
	}
	return nil
}

// ensureParentDirs ensures all parent directories exist. Caller must hold mu.
func (m *MockSMBBackend) ensureParentDirs(p string) {
	dir := path.Dir(p)
	if dir == p || dir == "/" {
		return
	}

	if _, ok := m.files[dir]; !ok {
		m.files[dir] = &mockFileData{
			name:    path.Base(dir),
			isDir:   true,
			mode:    fs.ModeDir | 0755,
			modTime: time.Now(),
		}
		m.ensureParentDirs(dir)
	}
}

// normalizeMockPath converts an SMB path into the mock's "/"-rooted form.
func normalizeMockPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// MockSMBSession implements SMBSession for testing.
type MockSMBSession struct {
	backend   *MockSMBBackend
	loggedOff bool
	mu        sync.Mutex
}

// Mount mounts a share and returns an SMBShare interface.
func (s *MockSMBSession) Mount(shareName string) (SMBShare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loggedOff {
		return nil, errors.New("session logged off")
	}

	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()

	if err := s.backend.checkError("mount", shareName); err != nil {
		return nil, err
	}
	if !s.backend.shares[shareName] {
		return nil, errors.New("share not found: " + shareName)
	}

	s.backend.recordOp("mount")
	return &MockSMBShare{backend: s.backend, shareName: shareName}, nil
}

// Logoff ends the session.
func (s *MockSMBSession) Logoff() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loggedOff {
		s.loggedOff = true
		s.backend.recordOp("logoff")
	}
	return nil
}

// MockSMBShare implements SMBShare for testing.
type MockSMBShare struct {
	backend   *MockSMBBackend
	shareName string
	unmounted bool
	mu        sync.Mutex
}

var errUnmounted = errors.New("share unmounted")

// OpenFile opens a file with the specified flags and permissions.
func (sh *MockSMBShare) OpenFile(name string, flag int, perm fs.FileMode) (SMBFile, error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.unmounted {
		return nil, errUnmounted
	}

	b := sh.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	name = normalizeMockPath(name)
	if err := b.checkError("open", name); err != nil {
		return nil, err
	}
	b.recordOp("open")

	data, exists := b.files[name]
	if flag&os.O_EXCL != 0 && exists {
		return nil, fs.ErrExist
	}

	if !exists {
		if flag&os.O_CREATE == 0 {
			return nil, fs.ErrNotExist
		}
		data = &mockFileData{
			name:    path.Base(name),
			content: []byte{},
			mode:    perm,
			modTime: time.Now(),
		}
		b.files[name] = data
		b.ensureParentDirs(name)
	}

	if data.isDir && flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return nil, errors.New("is a directory")
	}

	if flag&os.O_TRUNC != 0 && !data.isDir {
		data.content = []byte{}
		data.modTime = time.Now()
	}

	return &MockSMBFile{backend: b, path: name, data: data, flag: flag}, nil
}

// Stat returns file info for the specified path.
func (sh *MockSMBShare) Stat(name string) (fs.FileInfo, error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.unmounted {
		return nil, errUnmounted
	}

	b := sh.backend
	b.mu.RLock()
	defer b.mu.RUnlock()

	name = normalizeMockPath(name)
	if err := b.checkError("stat", name); err != nil {
		return nil, err
	}
	b.recordOp("stat")

	data, exists := b.files[name]
	if !exists {
		return nil, fs.ErrNotExist
	}
	return &mockFileInfo{data: *data}, nil
}

// Mkdir creates a directory.
func (sh *MockSMBShare) Mkdir(name string, perm fs.FileMode) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.unmounted {
		return errUnmounted
	}

	b := sh.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	name = normalizeMockPath(name)
	if err := b.checkError("mkdir", name); err != nil {
		return err
	}
	b.recordOp("mkdir")

	if _, exists := b.files[name]; exists {
		return fs.ErrExist
	}

	parent, ok := b.files[path.Dir(name)]
	if !ok {
		return fs.ErrNotExist
	}
	if !parent.isDir {
		return errors.New("parent is not a directory")
	}

	b.files[name] = &mockFileData{
		name:    path.Base(name),
		isDir:   true,
		mode:    fs.ModeDir | perm,
		modTime: time.Now(),
	}
	return nil
}

// Remove removes a file or empty directory.
func (sh *MockSMBShare) Remove(name string) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.unmounted {
		return errUnmounted
	}

	b := sh.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	name = normalizeMockPath(name)
	if err := b.checkError("remove", name); err != nil {
		return err
	}
	b.recordOp("remove")

	data, exists := b.files[name]
	if !exists {
		return fs.ErrNotExist
	}

	if data.isDir {
		for p := range b.files {
			if strings.HasPrefix(p, name+"/") {
				return errors.New("directory not empty")
			}
		}
	}

	delete(b.files, name)
	return b.errorAfterOp["remove"]
}

// Umount unmounts the share.
func (sh *MockSMBShare) Umount() error {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if !sh.unmounted {
		sh.unmounted = true
		sh.backend.recordOp("umount")
	}
	return nil
}

// MockSMBFile implements SMBFile for testing.
type MockSMBFile struct {
	backend *MockSMBBackend
	path    string
	data    *mockFileData
	flag    int
	offset  int64
	closed  bool
	mu      sync.Mutex
}

// Read reads up to len(p) bytes into p.
func (f *MockSMBFile) Read(p []byte) (n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, fs.ErrClosed
	}

	f.backend.mu.RLock()
	defer f.backend.mu.RUnlock()

	if err := f.backend.checkError("read", f.path); err != nil {
		return 0, err
	}
	if f.data.isDir {
		return 0, errors.New("is a directory")
	}
	if f.offset >= int64(len(f.data.content)) {
		return 0, io.EOF
	}

	n = copy(p, f.data.content[f.offset:])
	f.offset += int64(n)
	return n, nil
}

// Write writes len(p) bytes from p to the file.
func (f *MockSMBFile) Write(p []byte) (n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, fs.ErrClosed
	}
	if f.flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		return 0, errors.New("file not opened for writing")
	}

	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()

	if err := f.backend.checkError("write", f.path); err != nil {
		return 0, err
	}

	end := f.offset + int64(len(p))
	if end > int64(len(f.data.content)) {
		grown := make([]byte, end)
		copy(grown, f.data.content)
		f.data.content = grown
	}

	n = copy(f.data.content[f.offset:], p)
	f.offset += int64(n)
	f.data.modTime = time.Now()
	return n, nil
}

// Seek sets the offset for the next Read or Write.
func (f *MockSMBFile) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, fs.ErrClosed
	}

	f.backend.mu.RLock()
	size := int64(len(f.data.content))
	f.backend.mu.RUnlock()

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.offset + offset
	case io.SeekEnd:
		next = size + offset
	default:
		return 0, errors.New("invalid whence")
	}

	if next < 0 {
		return 0, errors.New("negative offset")
	}
	f.offset = next
	return next, nil
}

// Close closes the file.
func (f *MockSMBFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.closed = true
		f.backend.recordOp("close")
	}
	return nil
}

// Stat returns file information.
func (f *MockSMBFile) Stat() (fs.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, fs.ErrClosed
	}

	f.backend.mu.RLock()
	defer f.backend.mu.RUnlock()
	return &mockFileInfo{data: *f.data}, nil
}

// Readdir reads the directory contents, including "." and ".." the way
// SMB servers list them.
func (f *MockSMBFile) Readdir(n int) ([]fs.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, fs.ErrClosed
	}

	b := f.backend
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !f.data.isDir {
		return nil, errors.New("not a directory")
	}
	if err := b.checkError("readdir", f.path); err != nil {
		return nil, err
	}
	b.recordOp("readdir")

	prefix := f.path
	if prefix != "/" {
		prefix += "/"
	}

	infos := []fs.FileInfo{
		&mockFileInfo{data: mockFileData{name: ".", isDir: true, mode: fs.ModeDir | 0755}},
		&mockFileInfo{data: mockFileData{name: "..", isDir: true, mode: fs.ModeDir | 0755}},
	}
	var children []fs.FileInfo
	for p, data := range b.files {
		if p == f.path || !strings.HasPrefix(p, prefix) {
			continue
		}
		if strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			continue
		}
		children = append(children, &mockFileInfo{data: *data})
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].Name() < children[j].Name()
	})
	infos = append(infos, children...)

	if n > 0 && n < len(infos) {
		infos = infos[:n]
	}
	return infos, nil
}

// mockFileInfo implements fs.FileInfo over a snapshot of mock file data.
type mockFileInfo struct {
	data mockFileData
}

func (fi *mockFileInfo) Name() string       { return fi.data.name }
func (fi *mockFileInfo) Size() int64        { return int64(len(fi.data.content)) }
func (fi *mockFileInfo) Mode() fs.FileMode  { return fi.data.mode }
func (fi *mockFileInfo) ModTime() time.Time { return fi.data.modTime }
func (fi *mockFileInfo) IsDir() bool        { return fi.data.isDir }
func (fi *mockFileInfo) Sys() any           { return nil }

// MockConnectionFactory implements ConnectionFactory for testing.
type MockConnectionFactory struct {
	Backend *MockSMBBackend

	// Error to return on CreateConnection
	ConnectError error

	mu              sync.Mutex
	connectionsMade int
	endpoints       []Endpoint
}

// NewMockConnectionFactory creates a new mock connection factory.
func NewMockConnectionFactory(backend *MockSMBBackend) *MockConnectionFactory {
	return &MockConnectionFactory{Backend: backend}
}

// CreateConnection creates a mock SMB connection to the endpoint's share.
func (f *MockConnectionFactory) CreateConnection(ep Endpoint, timeout time.Duration) (SMBSession, SMBShare, error) {
	f.mu.Lock()
	f.endpoints = append(f.endpoints, ep)
	connectErr := f.ConnectError
	f.mu.Unlock()

	if connectErr != nil {
		return nil, nil, connectErr
	}

	f.Backend.AddShare(ep.Share)

	session := &MockSMBSession{backend: f.Backend}
	share, err := session.Mount(ep.Share)
	if err != nil {
		return nil, nil, err
	}

	f.mu.Lock()
	f.connectionsMade++
	f.mu.Unlock()

	return session, share, nil
}

// ConnectionsMade returns the number of successful connections.
func (f *MockConnectionFactory) ConnectionsMade() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectionsMade
}

// Endpoints returns the endpoints dialed so far.
func (f *MockConnectionFactory) Endpoints() []Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Endpoint(nil), f.endpoints...)
}
