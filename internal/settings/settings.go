// Package settings merges command-line flags, environment variables and an
// optional YAML file into the values the shell starts with.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SFTPSHELL_TARGET.
const EnvPrefix = "SFTPSHELL"

// Keys shared by flags, environment and the config file.
const (
	KeyTarget      = "target"
	KeyPort        = "port"
	KeyUsername    = "username"
	KeyPassword    = "password"
	KeyKey         = "key"
	KeyLifecycle   = "lifecycle"
	KeyIdleTimeout = "idle-timeout"
	KeyTimeout     = "timeout"
	KeyKnownHosts  = "known-hosts"
	KeyInsecure    = "insecure"
	KeyLogLevel    = "log-level"
	KeyLogFile     = "log-file"
	KeyHistory     = "history"
	KeyNoProgress  = "no-progress"
)

// Settings is the merged startup configuration.
type Settings struct {
	Target   string
	Port     int
	Username string
	Password string
	KeyPath  string

	Lifecycle   string
	IdleTimeout time.Duration
	Timeout     time.Duration

	KnownHosts string
	Insecure   bool

	LogLevel string
	LogFile  string

	History    string
	NoProgress bool

	// ConfigFile is the file the values were read from, if any.
	ConfigFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, 22)
	v.SetDefault(KeyLifecycle, "per-command")
	v.SetDefault(KeyIdleTimeout, 5*time.Minute)
	v.SetDefault(KeyTimeout, time.Duration(0))
	v.SetDefault(KeyLogLevel, "error")
	v.SetDefault(KeyHistory, "history.txt")
}

// Load reads settings. Flags that were set explicitly win over the
// environment, which wins over the config file. configFile names an explicit
// file that must exist; when empty, sftpshell.yaml is looked up in the
// working directory and in $HOME/.config/sftpshell and may be absent.
func Load(flags *pflag.FlagSet, configFile string) (Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Settings{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("sftpshell")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "sftpshell"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return Settings{
		Target:      v.GetString(KeyTarget),
		Port:        v.GetInt(KeyPort),
		Username:    v.GetString(KeyUsername),
		Password:    v.GetString(KeyPassword),
		KeyPath:     v.GetString(KeyKey),
		Lifecycle:   v.GetString(KeyLifecycle),
		IdleTimeout: v.GetDuration(KeyIdleTimeout),
		Timeout:     v.GetDuration(KeyTimeout),
		KnownHosts:  v.GetString(KeyKnownHosts),
		Insecure:    v.GetBool(KeyInsecure),
		LogLevel:    v.GetString(KeyLogLevel),
		LogFile:     v.GetString(KeyLogFile),
		History:     v.GetString(KeyHistory),
		NoProgress:  v.GetBool(KeyNoProgress),
		ConfigFile:  v.ConfigFileUsed(),
	}, nil
}
