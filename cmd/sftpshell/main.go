// Command sftpshell is an interactive file transfer shell for a single SSH host.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/darshan-rambhia/sftpshell"
	"github.com/darshan-rambhia/sftpshell/internal/logger"
	"github.com/darshan-rambhia/sftpshell/internal/settings"
	"github.com/darshan-rambhia/sftpshell/internal/shell"
)

// exitUsage is returned for bad arguments or configuration, before any connection is made.
const exitUsage = 2

var version = "dev"

var (
	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FFFF")).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#25A065")).
			Padding(0, 2)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

func main() {
	var status int
	cmd := newRootCommand(&status)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(exitUsage)
	}
	os.Exit(status)
}

func newRootCommand(status *int) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "sftpshell -t HOST -u USER (-k KEYFILE | -p PASSWORD)",
		Short:         "Interactive SFTP upload/download shell",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := run(cmd, configFile)
			*status = code
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "settings file (default ./sftpshell.yaml or ~/.config/sftpshell/sftpshell.yaml)")
	flags.StringP(settings.KeyTarget, "t", "", "remote host")
	flags.IntP(settings.KeyPort, "P", 22, "remote port")
	flags.StringP(settings.KeyUsername, "u", "", "remote user")
	flags.StringP(settings.KeyKey, "k", "", "private key file")
	flags.StringP(settings.KeyPassword, "p", "", "password")
	flags.String(settings.KeyLifecycle, string(sftpshell.LifecyclePerCommand), "session lifecycle: per-command or long-lived")
	flags.Duration(settings.KeyIdleTimeout, 0, "close a long-lived session after this much idle time (default 5m)")
	flags.Duration(settings.KeyTimeout, 0, "connect timeout, 0 waits indefinitely")
	flags.String(settings.KeyKnownHosts, "", "known_hosts file (default ~/.ssh/known_hosts)")
	flags.Bool(settings.KeyInsecure, false, "skip host key verification")
	flags.String(settings.KeyLogLevel, logger.DefaultLevel, "log level")
	flags.String(settings.KeyLogFile, "", "write logs to this file instead of stderr")
	flags.String(settings.KeyHistory, "history.txt", "command history file")
	flags.Bool(settings.KeyNoProgress, false, "do not draw download progress")
	cmd.MarkFlagsMutuallyExclusive(settings.KeyKey, settings.KeyPassword)

	return cmd
}

// run returns the shell's exit status, or an error for anything that must
// stop the program before the command loop starts.
func run(cmd *cobra.Command, configFile string) (int, error) {
	s, err := settings.Load(cmd.Flags(), configFile)
	if err != nil {
		return exitUsage, err
	}

	log, closeLog, err := logger.New(logger.Options{Level: s.LogLevel, File: s.LogFile})
	if err != nil {
		return exitUsage, err
	}
	defer closeLog()

	creds, err := sftpshell.NewCredentials(s.Target, s.Port, s.Username, s.Password, s.KeyPath)
	if err != nil {
		return exitUsage, fmt.Errorf("%w (require username, target, port and one of password or key)", err)
	}
	lifecycle, err := sftpshell.ParseLifecycle(s.Lifecycle)
	if err != nil {
		return exitUsage, err
	}

	config := sftpshell.Config{
		Timeout:               s.Timeout,
		KnownHostsFile:        s.KnownHosts,
		InsecureIgnoreHostKey: s.Insecure,
		Logger:                &log,
	}
	if !s.NoProgress {
		config.ProgressOutput = os.Stdout
	}

	manager := sftpshell.NewManager(creds, config,
		sftpshell.WithLifecycle(lifecycle),
		sftpshell.WithMaxIdle(s.IdleTimeout),
	)
	defer manager.Close()

	opts := []shell.Option{shell.WithLogger(&log)}
	if s.History != "" {
		history, err := shell.OpenHistory(s.History)
		if err != nil {
			log.Warn().Err(err).Msg("continuing without history")
		} else {
			defer history.Close()
			opts = append(opts, shell.WithHistory(history))
		}
	}

	log.Debug().Str("credentials", creds.String()).Str("config", s.ConfigFile).Msg("starting shell")
	fmt.Fprintln(os.Stdout, bannerStyle.Render("sftpshell "+version+"\n"+creds.String()))

	return shell.New(manager, creds.Username(), creds.Host(), opts...).Run(cmd.Context()), nil
}
