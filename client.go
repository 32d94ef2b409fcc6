package sftpshell

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPClientInterface abstracts the SFTP sub-channel for testing.
type SFTPClientInterface interface {
	Open(path string) (SFTPFile, error)
	Create(path string) (SFTPFile, error)
	Stat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.FileInfo, error)
	Getwd() (string, error)
	Close() error
}

// SFTPFile abstracts remote file operations for testing.
type SFTPFile interface {
	io.Reader
	io.Writer
	io.Closer
}

// SFTPClientWrapper wraps the real sftp.Client to implement SFTPClientInterface.
type SFTPClientWrapper struct {
	client *sftp.Client
}

var _ SFTPClientInterface = (*SFTPClientWrapper)(nil)

func (w *SFTPClientWrapper) Open(path string) (SFTPFile, error)         { return w.client.Open(path) }
func (w *SFTPClientWrapper) Create(path string) (SFTPFile, error)       { return w.client.Create(path) }
func (w *SFTPClientWrapper) Stat(path string) (os.FileInfo, error)      { return w.client.Stat(path) }
func (w *SFTPClientWrapper) ReadDir(path string) ([]os.FileInfo, error) { return w.client.ReadDir(path) }
func (w *SFTPClientWrapper) Getwd() (string, error)                     { return w.client.Getwd() }
func (w *SFTPClientWrapper) Close() error                               { return w.client.Close() }

// openSFTP starts the sftp subsystem on an authenticated transport.
func openSFTP(transport *ssh.Client) (SFTPClientInterface, error) {
	client, err := sftp.NewClient(transport)
	if err != nil {
		return nil, err
	}
	return &SFTPClientWrapper{client: client}, nil
}

// dialTransport opens a TCP connection to the credential's address and
// performs the SSH handshake. Cancelling ctx aborts the dial and handshake.
func dialTransport(ctx context.Context, creds Credentials, config Config) (*ssh.Client, error) {
	authMethod, err := buildAuthMethod(creds)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := buildHostKeyCallback(creds, config)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            creds.Username(),
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: hostKeyCallback,
		Timeout:         config.Timeout,
	}

	addr := creds.Addr()
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if !stop() {
		if err == nil {
			ncc.Close()
		}
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s cancelled: %w", addr, ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(ncc, chans, reqs), nil
}

func buildAuthMethod(creds Credentials) (ssh.AuthMethod, error) {
	switch creds.Method() {
	case AuthMethodPassword:
		return ssh.Password(creds.password), nil
	case AuthMethodPrivateKey:
		keyData, err := os.ReadFile(creds.KeyPath())
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	default:
		return nil, fmt.Errorf("no SSH authentication method configured")
	}
}

func buildHostKeyCallback(creds Credentials, config Config) (ssh.HostKeyCallback, error) {
	log := loggerOf(config)

	if config.InsecureIgnoreHostKey {
		log.Warn().Str("host", creds.Addr()).Msg("SSH host key verification disabled - this is insecure!")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if config.KnownHostsFile != "" {
		expandedPath := ExpandPath(config.KnownHostsFile)
		callback, err := knownhosts.New(expandedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts file %s: %w", expandedPath, err)
		}
		return callback, nil
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		defaultKnownHosts := filepath.Join(homeDir, ".ssh", "known_hosts")
		if _, err := os.Stat(defaultKnownHosts); err == nil {
			callback, err := knownhosts.New(defaultKnownHosts)
			if err == nil {
				return callback, nil
			}
			log.Warn().Err(err).Str("file", defaultKnownHosts).Msg("could not parse known_hosts file")
		}
	}

	log.Warn().Str("host", creds.Addr()).Msg("no known_hosts file found - host key verification disabled")
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		return nil
	}, nil
}

func loggerOf(config Config) *zerolog.Logger {
	if config.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return config.Logger
}
