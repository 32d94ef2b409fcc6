package sftpshell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// SessionState is the lifecycle position of a Session.
type SessionState string

const (
	StateUnconnected  SessionState = "unconnected"
	StateConnected    SessionState = "connected"
	StateChannelOpen  SessionState = "channel_open"
	StateDisconnected SessionState = "disconnected"
)

func (s SessionState) String() string { return string(s) }

// Direction says which way a transfer moved bytes.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// TransferResult describes one completed transfer. It is not persisted.
type TransferResult struct {
	Direction  Direction
	LocalPath  string
	RemotePath string

	// Bytes is the number of bytes streamed.
	Bytes int64

	Duration time.Duration
}

// TransferOption configures a single Upload or Download.
type TransferOption func(*transferOptions)

type transferOptions struct {
	createParents bool
	observer      ProgressFunc
}

// WithCreateParents makes Download create the local parent directories of
// the destination once the remote file is known to exist.
func WithCreateParents() TransferOption {
	return func(o *transferOptions) { o.createParents = true }
}

// WithObserver registers fn to receive every progress update of the transfer.
func WithObserver(fn ProgressFunc) TransferOption {
	return func(o *transferOptions) { o.observer = fn }
}

var errIsDirectory = errors.New("is a directory")

// Session owns one authenticated SSH transport and the SFTP sub-channel
// multiplexed over it. A Session is used by one goroutine at a time and,
// once disconnected, cannot be connected again.
type Session struct {
	id     string
	creds  Credentials
	config Config
	log    zerolog.Logger

	mu        sync.Mutex
	state     SessionState
	transport *ssh.Client
	channel   SFTPClientInterface

	dial        func(context.Context, Credentials, Config) (*ssh.Client, error)
	openChannel func(*ssh.Client) (SFTPClientInterface, error)
}

// NewSession returns an unconnected session for creds.
func NewSession(creds Credentials, config Config) *Session {
	config = config.WithDefaults()
	id := uuid.NewString()
	return &Session{
		id:          id,
		creds:       creds,
		config:      config,
		log:         config.Logger.With().Str("session", id).Str("host", creds.Addr()).Logger(),
		state:       StateUnconnected,
		dial:        dialTransport,
		openChannel: openSFTP,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Credentials returns the credential set the session authenticates with.
func (s *Session) Credentials() Credentials { return s.creds }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the host, authenticates and opens the SFTP sub-channel.
// Transport and authentication failures are reported as AuthenticationError
// and leave the session unconnected; nothing is retried. Connect on a
// session whose channel is already open does nothing.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateDisconnected:
		return ErrSessionClosed
	case StateChannelOpen:
		return nil
	case StateConnected:
		return s.openChannelLocked()
	}

	if err := ctx.Err(); err != nil {
		return newError(KindAuthentication, "connect", s.creds.Addr(), err)
	}

	start := time.Now()
	transport, err := s.dial(ctx, s.creds, s.config)
	if err != nil {
		s.log.Debug().Err(err).Msg("connect failed")
		return newError(KindAuthentication, "connect", s.creds.Addr(), err)
	}
	s.transport = transport
	s.setStateLocked(StateConnected)
	s.log.Info().Str("user", s.creds.Username()).Dur("elapsed", time.Since(start)).Msg("transport authenticated")

	return s.openChannelLocked()
}

func (s *Session) openChannelLocked() error {
	if s.channel != nil {
		return nil
	}
	if s.transport == nil {
		return ErrNotConnected
	}
	channel, err := s.openChannel(s.transport)
	if err != nil {
		return newError(KindRemoteIO, "open sftp channel", "", err)
	}
	s.channel = channel
	s.setStateLocked(StateChannelOpen)
	return nil
}

// readyLocked returns the sub-channel, opening it when only the transport is up.
func (s *Session) readyLocked(op string) (SFTPClientInterface, error) {
	switch s.state {
	case StateDisconnected:
		return nil, fmt.Errorf("%s: %w", op, ErrSessionClosed)
	case StateUnconnected:
		return nil, fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	if err := s.openChannelLocked(); err != nil {
		return nil, err
	}
	return s.channel, nil
}

func (s *Session) setStateLocked(next SessionState) {
	if s.state == next {
		return
	}
	s.log.Debug().Str("from", s.state.String()).Str("to", next.String()).Msg("session state")
	s.state = next
}

// Upload streams localPath to remotePath, creating or truncating the remote
// file. Remote parent directories are not created. A failed upload may
// leave a partially written remote file behind.
func (s *Session) Upload(ctx context.Context, localPath, remotePath string, opts ...TransferOption) (*TransferResult, error) {
	o := applyTransferOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	channel, err := s.readyLocked("upload")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("upload cancelled: %w", err)
	}

	localFile, err := os.Open(localPath)
	if err != nil {
		return nil, newError(KindLocalIO, "open local file", localPath, err)
	}
	defer localFile.Close()

	info, err := localFile.Stat()
	if err != nil {
		return nil, newError(KindLocalIO, "stat local file", localPath, err)
	}
	if info.IsDir() {
		return nil, newError(KindLocalIO, "open local file", localPath, errIsDirectory)
	}

	remoteFile, err := channel.Create(remotePath)
	if err != nil {
		return nil, newError(KindRemoteIO, "create remote file", remotePath, err)
	}

	tracker := NewTracker(info.Size())
	src := &progressReader{r: localFile, tracker: tracker, observer: o.observer}

	start := time.Now()
	n, copyErr := io.Copy(remoteFile, src)
	closeErr := remoteFile.Close()
	if copyErr != nil {
		if src.err != nil {
			return nil, newError(KindLocalIO, "read local file", localPath, src.err)
		}
		return nil, newError(classifyRemote(copyErr), "write remote file", remotePath, copyErr)
	}
	if closeErr != nil {
		return nil, newError(classifyRemote(closeErr), "close remote file", remotePath, closeErr)
	}

	result := &TransferResult{
		Direction:  DirectionUpload,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Bytes:      n,
		Duration:   time.Since(start),
	}
	s.logTransfer(result)
	return result, nil
}

// Download streams remotePath into localPath, creating or truncating the
// local file. The remote size is queried first and sizes the progress
// tracker; when Config.ProgressOutput is set a Renderer draws the tracker
// until the download returns.
func (s *Session) Download(ctx context.Context, remotePath, localPath string, opts ...TransferOption) (*TransferResult, error) {
	o := applyTransferOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	channel, err := s.readyLocked("download")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("download cancelled: %w", err)
	}

	info, err := channel.Stat(remotePath)
	if err != nil {
		return nil, newError(KindRemoteIO, "stat remote file", remotePath, err)
	}
	if info.IsDir() {
		return nil, newError(KindRemoteIO, "stat remote file", remotePath, errIsDirectory)
	}

	if o.createParents {
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return nil, newError(KindLocalIO, "create local directory", filepath.Dir(localPath), err)
		}
	}

	remoteFile, err := channel.Open(remotePath)
	if err != nil {
		return nil, newError(KindRemoteIO, "open remote file", remotePath, err)
	}
	defer remoteFile.Close()

	localFile, err := os.Create(localPath)
	if err != nil {
		return nil, newError(KindLocalIO, "create local file", localPath, err)
	}

	tracker := NewTracker(info.Size())
	var renderer *Renderer
	if s.config.ProgressOutput != nil {
		renderer = StartRenderer(tracker, s.config.ProgressOutput, filepath.Base(remotePath), s.config.ProgressWidth)
	}
	dst := &progressWriter{w: localFile, tracker: tracker, observer: o.observer}

	start := time.Now()
	n, copyErr := io.Copy(dst, remoteFile)
	if renderer != nil {
		renderer.Stop()
	}
	closeErr := localFile.Close()
	if copyErr != nil {
		if dst.err != nil {
			return nil, newError(KindLocalIO, "write local file", localPath, dst.err)
		}
		return nil, newError(classifyRemote(copyErr), "read remote file", remotePath, copyErr)
	}
	if closeErr != nil {
		return nil, newError(KindLocalIO, "close local file", localPath, closeErr)
	}
	if n != info.Size() {
		s.log.Warn().Str("remote", remotePath).Int64("expected", info.Size()).Int64("received", n).
			Msg("remote file size changed during download")
	}

	result := &TransferResult{
		Direction:  DirectionDownload,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Bytes:      n,
		Duration:   time.Since(start),
	}
	s.logTransfer(result)
	return result, nil
}

// Stat returns information about a remote path.
func (s *Session) Stat(ctx context.Context, remotePath string) (os.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, err := s.readyLocked("stat")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("stat cancelled: %w", err)
	}
	info, err := channel.Stat(remotePath)
	if err != nil {
		return nil, newError(KindRemoteIO, "stat remote file", remotePath, err)
	}
	return info, nil
}

// ReadDir lists a remote directory.
func (s *Session) ReadDir(ctx context.Context, remotePath string) ([]os.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, err := s.readyLocked("list")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list cancelled: %w", err)
	}
	entries, err := channel.ReadDir(remotePath)
	if err != nil {
		return nil, newError(KindRemoteIO, "read remote directory", remotePath, err)
	}
	return entries, nil
}

// Getwd returns the remote working directory the server assigned to the sub-channel.
func (s *Session) Getwd(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, err := s.readyLocked("getwd")
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("getwd cancelled: %w", err)
	}
	wd, err := channel.Getwd()
	if err != nil {
		return "", newError(KindRemoteIO, "getwd", "", err)
	}
	return wd, nil
}

// IsHealthy reports whether the channel is open and the transport answers a keepalive.
func (s *Session) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateChannelOpen || s.transport == nil {
		return false
	}
	_, _, err := s.transport.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// Disconnect closes the sub-channel and then the transport. Close failures
// are logged, never returned, and both closes are always attempted. It is
// safe to call in any state and more than once.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			s.log.Debug().Err(err).Msg("closing sftp channel")
		}
		s.channel = nil
	}
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.log.Debug().Err(err).Msg("closing transport")
		}
		s.transport = nil
	}
	s.setStateLocked(StateDisconnected)
	return nil
}

func (s *Session) logTransfer(r *TransferResult) {
	s.log.Info().
		Str("direction", string(r.Direction)).
		Str("local", r.LocalPath).
		Str("remote", r.RemotePath).
		Int64("bytes", r.Bytes).
		Dur("elapsed", r.Duration).
		Msg("transfer complete")
}

func applyTransferOptions(opts []TransferOption) transferOptions {
	var o transferOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// classifyRemote separates failures the server reported (permissions, missing
// paths, disk full) from the connection going away mid-stream.
func classifyRemote(err error) Kind {
	var status *sftp.StatusError
	if errors.As(err, &status) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return KindRemoteIO
	}
	return KindTransferInterrupted
}

// progressWriter counts bytes written to the local file and publishes them.
type progressWriter struct {
	w        io.Writer
	tracker  *Tracker
	observer ProgressFunc
	written  int64
	err      error
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.written += int64(n)
		cur := p.tracker.Advance(p.written)
		if p.observer != nil {
			p.observer(cur, p.tracker.Total())
		}
	}
	if err != nil {
		p.err = err
	}
	return n, err
}

// progressReader counts bytes read from the local file and publishes them.
type progressReader struct {
	r        io.Reader
	tracker  *Tracker
	observer ProgressFunc
	read     int64
	err      error
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		cur := p.tracker.Advance(p.read)
		if p.observer != nil {
			p.observer(cur, p.tracker.Total())
		}
	}
	if err != nil && err != io.EOF {
		p.err = err
	}
	return n, err
}
