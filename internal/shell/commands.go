package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/darshan-rambhia/sftpshell"
)

var helpText = []struct{ name, desc string }{
	{"exit", "exit program"},
	{"help", "print this menu"},
	{"upload [local] [remote]", "put a local file on the remote machine"},
	{"download [remote]", "fetch a remote file into ./<host>/<remote path>"},
	{"ls [dir]", "list a remote directory"},
	{"cd <dir>", "change remote directory"},
	{"rpwd", "print remote directory"},
	{"lcd <dir>", "change local directory"},
	{"lls [dir]", "list a local directory"},
	{"cat <file>", "print a local file"},
	{"pwd", "print local directory"},
	{"clear", "clear the screen"},
}

// CommandNames returns the command words offered for completion.
func CommandNames() []string {
	names := make([]string, 0, len(helpText))
	for _, h := range helpText {
		name, _, _ := strings.Cut(h.name, " ")
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Shell) upload(ctx context.Context, args []string) error {
	local, err := s.ask(args, 0, "local file to put up: ")
	if err != nil {
		return err
	}
	remote, err := s.ask(args, 1, "remote path for file: ")
	if err != nil {
		return err
	}
	remote = sftpshell.ResolveRemote(s.remoteWD, remote)

	result, err := s.remote.Upload(ctx, sftpshell.ExpandPath(local), remote)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, successStyle.Render("Upload Success "+remote), summary(result))
	return nil
}

func (s *Shell) download(ctx context.Context, args []string) error {
	remote, err := s.ask(args, 0, "remote file to grab: ")
	if err != nil {
		return err
	}
	remote = sftpshell.ResolveRemote(s.remoteWD, remote)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("local working directory: %w", err)
	}
	local := sftpshell.MirrorPath(cwd, s.host, remote)

	result, err := s.remote.Download(ctx, remote, local, sftpshell.WithCreateParents())
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, successStyle.Render("Download Success "+remote), "->", local, summary(result))
	return nil
}

func summary(r *sftpshell.TransferResult) string {
	return fmt.Sprintf("(%s in %s)", humanize.Bytes(uint64(r.Bytes)), r.Duration.Round(time.Millisecond))
}

// remoteDir returns the remote working directory, asking the server the first time.
func (s *Shell) remoteDir(ctx context.Context) (string, error) {
	if s.remoteWD != "" {
		return s.remoteWD, nil
	}
	wd, err := s.remote.Getwd(ctx)
	if err != nil {
		return "", err
	}
	s.remoteWD = wd
	return wd, nil
}

func (s *Shell) ls(ctx context.Context, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	entries, err := s.remote.ReadDir(ctx, sftpshell.ResolveRemote(s.remoteWD, dir))
	if err != nil {
		return err
	}
	return s.list(entries)
}

func (s *Shell) cd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: cd <dir>")
	}
	wd, err := s.remoteDir(ctx)
	if err != nil {
		return err
	}
	target := sftpshell.ResolveRemote(wd, args[0])
	info, err := s.remote.Stat(ctx, target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", target)
	}
	s.remoteWD = target
	return nil
}

func (s *Shell) rpwd(ctx context.Context, _ []string) error {
	wd, err := s.remoteDir(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, wd)
	return nil
}

func (s *Shell) lcd(_ context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: lcd <dir>")
	}
	if err := os.Chdir(sftpshell.ExpandPath(args[0])); err != nil {
		return fmt.Errorf("lcd: %w", err)
	}
	return nil
}

func (s *Shell) lls(_ context.Context, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = sftpshell.ExpandPath(args[0])
	}
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("lls: %w", err)
	}
	entries := make([]fs.FileInfo, 0, len(dirEntries))
	for _, e := range dirEntries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		entries = append(entries, info)
	}
	return s.list(entries)
}

func (s *Shell) list(entries []fs.FileInfo) error {
	slices.SortFunc(entries, func(a, b fs.FileInfo) int { return strings.Compare(a.Name(), b.Name()) })

	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Mode(), humanize.Bytes(uint64(e.Size())), e.ModTime().Format(time.DateTime), name)
	}
	return tw.Flush()
}

func (s *Shell) pwd(_ context.Context, _ []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, wd)
	return nil
}

func (s *Shell) cat(_ context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: cat <file>")
	}
	f, err := os.Open(sftpshell.ExpandPath(args[0]))
	if err != nil {
		return fmt.Errorf("cat: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(s.out, f); err != nil {
		return fmt.Errorf("cat: %w", err)
	}
	return nil
}

func (s *Shell) clear(_ context.Context, _ []string) error {
	fmt.Fprint(s.out, "\033[H\033[2J")
	return nil
}

func (s *Shell) help(_ context.Context, _ []string) error {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, h := range helpText {
		fmt.Fprintf(tw, "%s\t--> %s\n", h.name, h.desc)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(s.out, helpStyle.Render(strings.TrimRight(b.String(), "\n")))
	return nil
}

func (s *Shell) exit(_ context.Context, _ []string) error {
	return errExit
}
