package sftpshell

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// AuthMethod represents the SSH authentication method to use.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication.
	AuthMethodPassword AuthMethod = "password"
	// AuthMethodPrivateKey loads and parses a private key file.
	AuthMethodPrivateKey AuthMethod = "private_key"
)

// Credentials identify the remote host and the single method used to authenticate to it.
// The zero value is not usable; build one with NewCredentials.
type Credentials struct {
	host     string
	port     int
	username string
	method   AuthMethod
	password string
	keyPath  string
}

// NewCredentials validates and returns an immutable credential set.
// Exactly one of password and keyPath must be non-empty.
func NewCredentials(host string, port int, username, password, keyPath string) (Credentials, error) {
	if host == "" {
		return Credentials{}, configErrorf("host is required")
	}
	if username == "" {
		return Credentials{}, configErrorf("username is required")
	}
	if port < 1 || port > 65535 {
		return Credentials{}, configErrorf("port %d out of range 1-65535", port)
	}

	switch {
	case password != "" && keyPath != "":
		return Credentials{}, configErrorf("password and key file are mutually exclusive")
	case password == "" && keyPath == "":
		return Credentials{}, configErrorf("one of password or key file is required")
	}

	c := Credentials{
		host:     host,
		port:     port,
		username: username,
	}
	if password != "" {
		c.method = AuthMethodPassword
		c.password = password
	} else {
		c.method = AuthMethodPrivateKey
		c.keyPath = ExpandPath(keyPath)
	}
	return c, nil
}

func (c Credentials) Host() string       { return c.host }
func (c Credentials) Port() int          { return c.port }
func (c Credentials) Username() string   { return c.username }
func (c Credentials) Method() AuthMethod { return c.method }

// KeyPath returns the expanded private key path, or "" for password credentials.
func (c Credentials) KeyPath() string { return c.keyPath }

// Addr returns host:port suitable for dialing.
func (c Credentials) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// String never includes the password.
func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s (%s)", c.username, c.Addr(), c.method)
}

// Config holds the connection and presentation settings shared by every session.
type Config struct {
	// Timeout bounds the TCP dial and SSH handshake. Zero means no timeout.
	Timeout time.Duration

	// KnownHostsFile is the path to a known_hosts file for host key verification.
	// If not set, defaults to ~/.ssh/known_hosts if it exists.
	KnownHostsFile string

	// InsecureIgnoreHostKey skips host key verification.
	// WARNING: This is insecure and should only be used for testing.
	InsecureIgnoreHostKey bool

	// ProgressOutput receives the download progress bar. Nil disables rendering.
	ProgressOutput io.Writer

	// ProgressWidth is the bar width in cells (default 40).
	ProgressWidth int

	// Logger receives session lifecycle events. Nil disables logging.
	Logger *zerolog.Logger
}

// WithDefaults returns a copy of the config with default values applied.
func (c Config) WithDefaults() Config {
	if c.ProgressWidth <= 0 {
		c.ProgressWidth = 40
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}
