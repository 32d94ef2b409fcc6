package sftpshell

import (
	"io"
	"os"
	"path/filepath"
	"time"
)

// mockFileInfo implements os.FileInfo for testing.
type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return nil }

// MockSFTPFile implements SFTPFile for testing. Reads and writes fail with
// failErr once failAfter bytes have passed through.
type MockSFTPFile struct {
	content    []byte
	readOffset int
	closed     bool

	failAfter int
	failErr   error
	onWrite   func([]byte)
}

// NewMockSFTPFile creates a new mock SFTP file with the given content.
func NewMockSFTPFile(content []byte) *MockSFTPFile {
	return &MockSFTPFile{content: content, failAfter: -1}
}

func (f *MockSFTPFile) Read(p []byte) (n int, err error) {
	if f.failAfter >= 0 && f.readOffset >= f.failAfter {
		return 0, f.failErr
	}
	if f.readOffset >= len(f.content) {
		return 0, io.EOF
	}
	end := len(f.content)
	if f.failAfter >= 0 && end > f.failAfter {
		end = f.failAfter
	}
	n = copy(p, f.content[f.readOffset:end])
	f.readOffset += n
	return n, nil
}

func (f *MockSFTPFile) Write(p []byte) (n int, err error) {
	if f.failAfter >= 0 && len(f.content)+len(p) > f.failAfter {
		return 0, f.failErr
	}
	f.content = append(f.content, p...)
	if f.onWrite != nil {
		f.onWrite(f.content)
	}
	return len(p), nil
}

func (f *MockSFTPFile) Close() error {
	f.closed = true
	return nil
}

// MockSFTPClient implements SFTPClientInterface for testing.
type MockSFTPClient struct {
	files  map[string][]byte
	dirs   map[string]bool
	errors map[string]error
	closed bool

	// failures injects mid-stream errors into files handed out by Open and Create.
	failAfter int
	failErr   error
}

// NewMockSFTPClient creates a new mock SFTP client.
func NewMockSFTPClient() *MockSFTPClient {
	return &MockSFTPClient{
		files:     make(map[string][]byte),
		dirs:      make(map[string]bool),
		errors:    make(map[string]error),
		failAfter: -1,
	}
}

// Ensure MockSFTPClient implements SFTPClientInterface.
var _ SFTPClientInterface = (*MockSFTPClient)(nil)

// SetError sets an error to be returned for a specific method.
func (m *MockSFTPClient) SetError(method string, err error) {
	m.errors[method] = err
}

// SetFile sets a file in the mock SFTP client.
func (m *MockSFTPClient) SetFile(path string, content []byte) {
	m.files[path] = content
}

// SetDir marks path as a directory.
func (m *MockSFTPClient) SetDir(path string) {
	m.dirs[path] = true
}

// FailStreamAfter makes transfers fail with err after n bytes.
func (m *MockSFTPClient) FailStreamAfter(n int, err error) {
	m.failAfter = n
	m.failErr = err
}

func (m *MockSFTPClient) newFile(content []byte) *MockSFTPFile {
	f := NewMockSFTPFile(content)
	f.failAfter = m.failAfter
	f.failErr = m.failErr
	return f
}

func (m *MockSFTPClient) Open(path string) (SFTPFile, error) {
	if err := m.errors["Open"]; err != nil {
		return nil, err
	}
	data, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return m.newFile(data), nil
}

func (m *MockSFTPClient) Create(path string) (SFTPFile, error) {
	if err := m.errors["Create"]; err != nil {
		return nil, err
	}
	m.files[path] = []byte{}
	f := m.newFile(nil)
	f.onWrite = func(content []byte) { m.files[path] = content }
	return f, nil
}

func (m *MockSFTPClient) Stat(path string) (os.FileInfo, error) {
	if err := m.errors["Stat"]; err != nil {
		return nil, err
	}
	if m.dirs[path] {
		return &mockFileInfo{name: filepath.Base(path), mode: os.ModeDir | 0o755, isDir: true, modTime: time.Now()}, nil
	}
	data, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &mockFileInfo{
		name:    filepath.Base(path),
		size:    int64(len(data)),
		mode:    0o644,
		modTime: time.Now(),
	}, nil
}

func (m *MockSFTPClient) ReadDir(path string) ([]os.FileInfo, error) {
	if err := m.errors["ReadDir"]; err != nil {
		return nil, err
	}
	if !m.dirs[path] {
		return nil, os.ErrNotExist
	}
	var entries []os.FileInfo
	for p, data := range m.files {
		if filepath.Dir(p) == path {
			entries = append(entries, &mockFileInfo{name: filepath.Base(p), size: int64(len(data)), mode: 0o644})
		}
	}
	return entries, nil
}

func (m *MockSFTPClient) Getwd() (string, error) {
	if err := m.errors["Getwd"]; err != nil {
		return "", err
	}
	return "/home/" + testUser, nil
}

func (m *MockSFTPClient) Close() error {
	if err := m.errors["Close"]; err != nil {
		return err
	}
	m.closed = true
	return nil
}

// newMockSession returns a session whose sub-channel is mock. There is no
// transport behind it, so it reports itself unhealthy.
func newMockSession(mock *MockSFTPClient, config Config) *Session {
	s := NewSession(Credentials{host: "mock", port: 22, username: testUser, method: AuthMethodPassword, password: "x"}, config)
	s.channel = mock
	s.state = StateChannelOpen
	return s
}
