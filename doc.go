// Package sftpshell moves files to and from a remote host over SSH/SFTP.
//
// This package provides:
//   - Validated credential sets (password or private key, never both)
//   - A transfer Session owning one SSH transport and its SFTP sub-channel
//   - Streaming upload and download with monotonic progress tracking
//   - A terminal progress renderer running alongside a download
//   - A Manager that opens a session per command or keeps one alive and reconnects
//   - Retry logic with exponential backoff for transient connection failures
//
// # Basic Usage
//
// Connect a session and download a file:
//
//	creds, err := sftpshell.NewCredentials("example.com", 22, "deploy", "", "~/.ssh/id_ed25519")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	session := sftpshell.NewSession(creds, sftpshell.Config{ProgressOutput: os.Stdout})
//	if err := session.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer session.Disconnect()
//
//	result, err := session.Download(ctx, "/var/log/app.log", "app.log")
//
// Every failure is an *Error carrying a Kind, so callers can branch with
// errors.Is(err, sftpshell.ErrRemoteIO) and friends.
//
// # Session Lifecycle
//
// A Manager decides how long sessions live:
//
//	manager := sftpshell.NewManager(creds, config,
//		sftpshell.WithLifecycle(sftpshell.LifecycleLongLived),
//		sftpshell.WithMaxIdle(5*time.Minute))
//	defer manager.Close()
//
//	_, err = manager.Upload(ctx, "report.csv", "/srv/inbox/report.csv")
//
// With LifecyclePerCommand each call connects, runs and disconnects.
package sftpshell
