package sftpshell

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/ssh"
)

const (
	containerUser     = "sftpuser"
	containerPassword = "sftp-test-password"
)

// sshContainer holds a reusable OpenSSH server container shared by the
// integration tests and the benchmarks.
type sshContainer struct {
	container testcontainers.Container
	host      string
	port      int
	keyPath   string
}

var (
	sshContainerOnce sync.Once
	sshContainerInst *sshContainer
	sshContainerErr  error
)

// getSSHContainer starts the container on first use and returns it.
func getSSHContainer(tb testing.TB) *sshContainer {
	tb.Helper()

	sshContainerOnce.Do(func() {
		sshContainerInst, sshContainerErr = startSSHContainer(context.Background())
	})
	if sshContainerErr != nil {
		tb.Fatalf("failed to get ssh container: %v", sshContainerErr)
	}
	return sshContainerInst
}

func startSSHContainer(ctx context.Context) (*sshContainer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "sftpshell-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	keyPath := filepath.Join(tmpDir, "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	req := testcontainers.ContainerRequest{
		Image:        "linuxserver/openssh-server:latest",
		ExposedPorts: []string{"2222/tcp"},
		Env: map[string]string{
			"PUID":            "1000",
			"PGID":            "1000",
			"TZ":              "UTC",
			"USER_NAME":       containerUser,
			"USER_PASSWORD":   containerPassword,
			"PUBLIC_KEY":      string(ssh.MarshalAuthorizedKey(sshPub)),
			"PASSWORD_ACCESS": "true",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("2222/tcp"),
			wait.ForLog("sshd is listening on port").WithStartupTimeout(60*time.Second),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, "2222/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	c := &sshContainer{
		container: container,
		host:      host,
		port:      mappedPort.Int(),
		keyPath:   keyPath,
	}

	// sshd logs readiness slightly before it accepts sessions.
	retry := RetryConfig{MaxRetries: 30, InitialDelay: 500 * time.Millisecond, MaxDelay: time.Second, Multiplier: 1}
	err = Retry(ctx, retry, nil, "wait for sshd", func() error {
		s := NewSession(c.keyCreds(), c.config())
		defer s.Disconnect()
		return s.Connect(ctx)
	})
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("SSH not ready: %w", err)
	}
	return c, nil
}

func (c *sshContainer) keyCreds() Credentials {
	creds, err := NewCredentials(c.host, c.port, containerUser, "", c.keyPath)
	if err != nil {
		panic(err)
	}
	return creds
}

func (c *sshContainer) passwordCreds() Credentials {
	creds, err := NewCredentials(c.host, c.port, containerUser, containerPassword, "")
	if err != nil {
		panic(err)
	}
	return creds
}

func (c *sshContainer) config() Config {
	return Config{InsecureIgnoreHostKey: true, Timeout: 10 * time.Second}
}
