package sftpshell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Lifecycle decides how long a Manager keeps a session alive.
type Lifecycle string

const (
	// LifecyclePerCommand opens a fresh session for every command and
	// disconnects it afterwards.
	LifecyclePerCommand Lifecycle = "per-command"

	// LifecycleLongLived keeps one session across commands and reconnects
	// when it breaks.
	LifecycleLongLived Lifecycle = "long-lived"
)

// ParseLifecycle converts a flag or settings value to a Lifecycle.
func ParseLifecycle(s string) (Lifecycle, error) {
	switch Lifecycle(s) {
	case LifecyclePerCommand, LifecycleLongLived:
		return Lifecycle(s), nil
	case "":
		return LifecyclePerCommand, nil
	}
	return "", newError(KindConfiguration, "parse lifecycle", "", fmt.Errorf("unknown lifecycle %q", s))
}

// ErrManagerClosed is returned by Acquire after Close.
var ErrManagerClosed = errors.New("session manager closed")

const defaultMaxIdle = 5 * time.Minute

// Manager hands out connected sessions for one credential set according to
// its Lifecycle.
type Manager struct {
	creds     Credentials
	config    Config
	log       zerolog.Logger
	lifecycle Lifecycle
	retry     RetryConfig
	maxIdle   time.Duration

	mu     sync.Mutex
	cached *pooledSession
	opened int
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup

	newSession func(Credentials, Config) *Session
}

type pooledSession struct {
	session  *Session
	lastUsed time.Time
	inUse    int // reference count
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLifecycle selects the session lifecycle. The default is per-command.
func WithLifecycle(l Lifecycle) ManagerOption {
	return func(m *Manager) { m.lifecycle = l }
}

// WithRetryConfig sets the reconnect policy used in long-lived mode.
func WithRetryConfig(rc RetryConfig) ManagerOption {
	return func(m *Manager) { m.retry = rc }
}

// WithMaxIdle sets how long an unused long-lived session is kept open.
// Zero disables idle cleanup.
func WithMaxIdle(d time.Duration) ManagerOption {
	return func(m *Manager) { m.maxIdle = d }
}

// NewManager creates a manager for creds. In long-lived mode it starts a
// goroutine that closes idle sessions; Close stops it.
func NewManager(creds Credentials, config Config, opts ...ManagerOption) *Manager {
	config = config.WithDefaults()
	m := &Manager{
		creds:      creds,
		config:     config,
		lifecycle:  LifecyclePerCommand,
		retry:      DefaultRetryConfig(),
		maxIdle:    defaultMaxIdle,
		done:       make(chan struct{}),
		newSession: NewSession,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.lifecycle != LifecycleLongLived {
		// A per-command session is never retried; its failure goes straight to the user.
		m.retry = NoRetryConfig()
	}
	m.log = config.Logger.With().Str("host", creds.Addr()).Str("lifecycle", string(m.lifecycle)).Logger()

	if m.lifecycle == LifecycleLongLived && m.maxIdle > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}
	return m
}

// Lifecycle returns the manager's lifecycle policy.
func (m *Manager) Lifecycle() Lifecycle { return m.lifecycle }

// Acquire returns a connected session. The caller must pass it back to Release.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	if m.lifecycle == LifecycleLongLived && m.cached != nil {
		if m.cached.session.IsHealthy() {
			m.cached.inUse++
			m.cached.lastUsed = time.Now()
			return m.cached.session, nil
		}
		m.log.Info().Str("session", m.cached.session.ID()).Msg("cached session unhealthy, reconnecting")
		_ = m.cached.session.Disconnect()
		m.cached = nil
	}

	var session *Session
	err := Retry(ctx, m.retry, &m.log, "connect", func() error {
		s := m.newSession(m.creds, m.config)
		m.opened++
		if err := s.Connect(ctx); err != nil {
			_ = s.Disconnect()
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	if m.lifecycle == LifecycleLongLived {
		m.cached = &pooledSession{
			session:  session,
			lastUsed: time.Now(),
			inUse:    1,
		}
	}
	return session, nil
}

// Release hands a session back. opErr is the result of the work done with
// it: in long-lived mode a broken connection drops the cached session so
// that the next Acquire reconnects. Per-command sessions are always
// disconnected.
func (m *Manager) Release(session *Session, opErr error) {
	if session == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lifecycle != LifecycleLongLived || m.cached == nil || m.cached.session != session {
		_ = session.Disconnect()
		return
	}

	m.cached.inUse--
	if m.cached.inUse < 0 {
		m.cached.inUse = 0
	}
	m.cached.lastUsed = time.Now()

	if connectionBroken(opErr) || (opErr != nil && !session.IsHealthy()) {
		m.log.Warn().Err(opErr).Str("session", session.ID()).Msg("dropping broken session")
		_ = session.Disconnect()
		m.cached = nil
	}
}

func connectionBroken(err error) bool {
	return errors.Is(err, ErrTransferInterrupted) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrSessionClosed)
}

// Do acquires a session, runs fn with it and releases it with fn's result.
func (m *Manager) Do(ctx context.Context, fn func(*Session) error) error {
	session, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(session)
	m.Release(session, err)
	return err
}

// Upload runs Session.Upload on a managed session.
func (m *Manager) Upload(ctx context.Context, localPath, remotePath string, opts ...TransferOption) (*TransferResult, error) {
	var result *TransferResult
	err := m.Do(ctx, func(s *Session) error {
		var err error
		result, err = s.Upload(ctx, localPath, remotePath, opts...)
		return err
	})
	return result, err
}

// Download runs Session.Download on a managed session.
func (m *Manager) Download(ctx context.Context, remotePath, localPath string, opts ...TransferOption) (*TransferResult, error) {
	var result *TransferResult
	err := m.Do(ctx, func(s *Session) error {
		var err error
		result, err = s.Download(ctx, remotePath, localPath, opts...)
		return err
	})
	return result, err
}

// Stat runs Session.Stat on a managed session.
func (m *Manager) Stat(ctx context.Context, remotePath string) (os.FileInfo, error) {
	var info os.FileInfo
	err := m.Do(ctx, func(s *Session) error {
		var err error
		info, err = s.Stat(ctx, remotePath)
		return err
	})
	return info, err
}

// ReadDir runs Session.ReadDir on a managed session.
func (m *Manager) ReadDir(ctx context.Context, remotePath string) ([]os.FileInfo, error) {
	var entries []os.FileInfo
	err := m.Do(ctx, func(s *Session) error {
		var err error
		entries, err = s.ReadDir(ctx, remotePath)
		return err
	})
	return entries, err
}

// Getwd runs Session.Getwd on a managed session.
func (m *Manager) Getwd(ctx context.Context) (string, error) {
	var wd string
	err := m.Do(ctx, func(s *Session) error {
		var err error
		wd, err = s.Getwd(ctx)
		return err
	})
	return wd, err
}

// Close disconnects any cached session and stops the cleanup goroutine.
// It is safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	if m.cached != nil {
		_ = m.cached.session.Disconnect()
		m.cached = nil
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// CloseIdle disconnects the cached session if it has been unused for longer than maxIdle.
func (m *Manager) CloseIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached == nil || m.cached.inUse > 0 {
		return
	}
	if time.Since(m.cached.lastUsed) > m.maxIdle {
		m.log.Debug().Str("session", m.cached.session.ID()).Msg("closing idle session")
		_ = m.cached.session.Disconnect()
		m.cached = nil
	}
}

// Stats returns current manager statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ManagerStats{Opened: m.opened}
	if m.cached != nil {
		stats.Cached = 1
		if m.cached.inUse > 0 {
			stats.InUse = 1
		} else {
			stats.Idle = 1
		}
	}
	return stats
}

// ManagerStats contains manager statistics.
type ManagerStats struct {
	// Cached is the number of sessions held open between commands.
	Cached int
	InUse  int
	Idle   int

	// Opened counts every session the manager has created, including
	// failed connection attempts.
	Opened int
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	interval := m.maxIdle / 2
	if interval <= 0 {
		interval = m.maxIdle
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CloseIdle()
		case <-m.done:
			return
		}
	}
}
