// Package shell implements the interactive command loop on top of the
// transfer core.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/darshan-rambhia/sftpshell"
)

// Exit statuses returned by Run.
const (
	ExitEOF  = 0
	ExitUser = 10
)

// Remote is the part of the transfer core the shell drives. *sftpshell.Manager implements it.
type Remote interface {
	Upload(ctx context.Context, localPath, remotePath string, opts ...sftpshell.TransferOption) (*sftpshell.TransferResult, error)
	Download(ctx context.Context, remotePath, localPath string, opts ...sftpshell.TransferOption) (*sftpshell.TransferResult, error)
	Stat(ctx context.Context, remotePath string) (os.FileInfo, error)
	ReadDir(ctx context.Context, remotePath string) ([]os.FileInfo, error)
	Getwd(ctx context.Context) (string, error)
}

var _ Remote = (*sftpshell.Manager)(nil)

// errExit ends the loop with ExitUser.
var errExit = errors.New("exit requested")

type command func(ctx context.Context, args []string) error

// Shell reads commands and runs them one at a time against a Remote.
type Shell struct {
	remote  Remote
	user    string
	host    string
	in      LineReader
	out     io.Writer
	history *History
	log     *zerolog.Logger

	remoteWD string
	commands map[string]command
}

// Option configures a Shell.
type Option func(*Shell)

// WithReader sets the input source. The default reads os.Stdin.
func WithReader(r LineReader) Option { return func(s *Shell) { s.in = r } }

// WithOutput sets where command output is written. The default is os.Stdout.
func WithOutput(w io.Writer) Option { return func(s *Shell) { s.out = w } }

// WithHistory records every entered line.
func WithHistory(h *History) Option { return func(s *Shell) { s.history = h } }

func WithLogger(l *zerolog.Logger) Option { return func(s *Shell) { s.log = l } }

// New returns a shell for user@host.
func New(remote Remote, user, host string, opts ...Option) *Shell {
	nop := zerolog.Nop()
	s := &Shell{
		remote: remote,
		user:   user,
		host:   host,
		out:    os.Stdout,
		log:    &nop,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.in == nil {
		s.in = NewLineReader(os.Stdin, s.out, CommandNames())
	}

	s.commands = map[string]command{
		"upload":   s.upload,
		"download": s.download,
		"ls":       s.ls,
		"cd":       s.cd,
		"rpwd":     s.rpwd,
		"lcd":      s.lcd,
		"lls":      s.lls,
		"pwd":      s.pwd,
		"cat":      s.cat,
		"clear":    s.clear,
		"help":     s.help,
		"exit":     s.exit,
	}
	return s
}

// Run loops until the user exits or input ends and returns the process exit status.
// A failing command is reported and the loop continues.
func (s *Shell) Run(ctx context.Context) int {
	p := prompt(s.user, s.host)
	for {
		line, err := s.in.ReadLine(p)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Error().Err(err).Msg("reading input")
			}
			fmt.Fprintln(s.out)
			return ExitEOF
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if s.history != nil {
			if err := s.history.Append(line); err != nil {
				s.log.Warn().Err(err).Msg("history not saved")
			}
		}

		if err := s.Dispatch(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return ExitUser
			}
			s.log.Debug().Err(err).Str("line", line).Msg("command failed")
			fmt.Fprintln(s.out, errorStyle.Render(describe(err)))
		}
	}
}

// Dispatch runs a single command line. Only the command word is
// case-insensitive; arguments keep their case.
func (s *Shell) Dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	fn := s.commands[name]
	if fn == nil {
		return fmt.Errorf("unknown command %q, run help to see your options", name)
	}
	return fn(ctx, fields[1:])
}

// ask returns args[i] when present and otherwise prompts for it.
func (s *Shell) ask(args []string, i int, question string) (string, error) {
	if i < len(args) {
		return args[i], nil
	}
	answer, err := s.in.ReadLine(question)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", errors.New("no path given")
	}
	return answer, nil
}

// describe turns an error into the line shown to the user.
func describe(err error) string {
	switch sftpshell.KindOf(err) {
	case sftpshell.KindAuthentication:
		return "Authentication failed: " + err.Error()
	case sftpshell.KindRemoteIO:
		return "Remote error: " + err.Error()
	case sftpshell.KindLocalIO:
		return "Local error: " + err.Error()
	case sftpshell.KindTransferInterrupted:
		return "Transfer interrupted: " + err.Error()
	case sftpshell.KindConfiguration:
		return "Configuration error: " + err.Error()
	}
	return "Error: " + err.Error()
}
