package sftpshell

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	testUser     = "alice"
	testPassword = "correct horse"
)

// generateTestKey writes a fresh ed25519 private key in OpenSSH format and
// returns its path and public half.
func generateTestKey(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
	return keyPath, signer.PublicKey()
}

// testServer is an in-process SSH server that serves the sftp subsystem
// from the local filesystem.
type testServer struct {
	t       *testing.T
	ln      net.Listener
	host    string
	port    int
	hostKey ssh.PublicKey
	keyPath string

	// noSFTP makes the server refuse the sftp subsystem.
	noSFTP bool

	accepted atomic.Int32

	mu    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

type serverOption func(*testServer)

func withoutSFTP() serverOption { return func(s *testServer) { s.noSFTP = true } }

func startTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("failed to create host signer: %v", err)
	}
	keyPath, clientPub := generateTestKey(t)

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, errors.New("password rejected")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == testUser && bytes.Equal(key.Marshal(), clientPub.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("key rejected")
		},
	}
	config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)

	s := &testServer{
		t:       t,
		ln:      ln,
		host:    addr.IP.String(),
		port:    addr.Port,
		hostKey: hostSigner.PublicKey(),
		keyPath: keyPath,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.acceptLoop(config)

	t.Cleanup(func() {
		ln.Close()
		s.dropConnections()
		s.wg.Wait()
	})
	return s
}

func (s *testServer) acceptLoop(config *ssh.ServerConfig) {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn, config)
	}
}

func (s *testServer) handleConn(conn net.Conn, config *ssh.ServerConfig) {
	defer s.wg.Done()
	defer conn.Close()

	sconn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go s.handleSession(ch, chReqs)
	}
}

func (s *testServer) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer s.wg.Done()
	defer ch.Close()

	for req := range reqs {
		ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp" && !s.noSFTP
		_ = req.Reply(ok, nil)
		if !ok {
			continue
		}
		go ssh.DiscardRequests(reqs)

		server, err := sftp.NewServer(ch)
		if err != nil {
			return
		}
		if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
			s.t.Logf("sftp server: %v", err)
		}
		server.Close()
		return
	}
}

// dropConnections closes every accepted connection, as a network failure would.
func (s *testServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *testServer) passwordCreds(t *testing.T) Credentials {
	t.Helper()
	return s.credsWith(t, testPassword, "")
}

func (s *testServer) keyCreds(t *testing.T) Credentials {
	t.Helper()
	return s.credsWith(t, "", s.keyPath)
}

func (s *testServer) credsWith(t *testing.T, password, keyPath string) Credentials {
	t.Helper()
	creds, err := NewCredentials(s.host, s.port, testUser, password, keyPath)
	if err != nil {
		t.Fatalf("NewCredentials() error = %v", err)
	}
	return creds
}

// writeKnownHosts writes a known_hosts file pinning key for the server's address.
func (s *testServer) writeKnownHosts(t *testing.T, key ssh.PublicKey) string {
	t.Helper()
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, key)
	path := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(path, []byte(line+"\n"), 0o600); err != nil {
		t.Fatalf("failed to write known_hosts: %v", err)
	}
	return path
}

// newTestConfig returns a Config suitable for talking to a testServer.
func newTestConfig() Config {
	return Config{InsecureIgnoreHostKey: true}
}

// connectSession returns a connected session that is disconnected at cleanup.
func connectSession(t *testing.T, creds Credentials, config Config) *Session {
	t.Helper()
	s := NewSession(creds, config)
	if err := s.Connect(t.Context()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

// createTempFile creates a temporary file with the given content.
func createTempFile(t *testing.T, content []byte) string {
	t.Helper()

	tmpFile := filepath.Join(t.TempDir(), "test_file")
	if err := os.WriteFile(tmpFile, content, 0o644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return tmpFile
}

// randomBytes returns n bytes of random content.
func randomBytes(t testing.TB, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("failed to read random bytes: %v", err)
	}
	return b
}

// assertFileContents verifies that a file has the expected content.
func assertFileContents(t *testing.T, path string, expected []byte) {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Errorf("failed to read file %s: %v", path, err)
		return
	}
	if !bytes.Equal(content, expected) {
		t.Errorf("file content mismatch for %s: expected %d bytes, got %d", path, len(expected), len(content))
	}
}

// assertFileNotExists verifies that a file does not exist.
func assertFileNotExists(t *testing.T, path string) {
	t.Helper()

	if _, err := os.Stat(path); err == nil {
		t.Errorf("expected file to not exist: %s", path)
	}
}
