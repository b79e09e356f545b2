// Package config resolves droidlog settings from defaults, an optional YAML
// file, DROIDLOG_* environment variables and command line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"droidlog/internal/logging"
)

// EnvPrefix prefixes every environment variable, e.g. DROIDLOG_SERIAL.
const EnvPrefix = "DROIDLOG"

// Keys shared by the config file, the environment and the flags.
const (
	KeyPackage     = "package"
	KeySerial      = "serial"
	KeyADB         = "adb"
	KeyManifest    = "manifest"
	KeyHistory     = "history"
	KeyInterval    = "interval"
	KeyLogLevel    = "log-level"
	KeyReplay      = "replay"
	KeyReplayPID   = "replay-pid"
	KeyMaxFailures = "max-failures"
)

// Config holds the resolved settings.
type Config struct {
	Package     string
	Serial      string
	ADB         string
	Manifest    string
	History     int
	Interval    time.Duration
	LogLevel    string
	Replay      string
	ReplayPID   int
	MaxFailures int
	// File is the config file that was read, if any.
	File string
}

// Defaults returns the built-in value of every key.
func Defaults() map[string]any {
	return map[string]any{
		KeyPackage:     "",
		KeySerial:      "",
		KeyADB:         "adb",
		KeyManifest:    "",
		KeyHistory:     10000,
		KeyInterval:    2 * time.Second,
		KeyLogLevel:    "info",
		KeyReplay:      "",
		KeyReplayPID:   0,
		KeyMaxFailures: 5,
	}
}

// Load resolves the configuration. path selects a config file explicitly;
// otherwise .droidlog.yaml is looked up in the working directory and $HOME
// and may be absent. Flags in flags that share a key name override
// everything else when they were set.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".droidlog")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for key := range Defaults() {
			if f := flags.Lookup(key); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", key, err)
				}
			}
		}
	}

	return Config{
		Package:     v.GetString(KeyPackage),
		Serial:      v.GetString(KeySerial),
		ADB:         v.GetString(KeyADB),
		Manifest:    v.GetString(KeyManifest),
		History:     v.GetInt(KeyHistory),
		Interval:    v.GetDuration(KeyInterval),
		LogLevel:    v.GetString(KeyLogLevel),
		Replay:      v.GetString(KeyReplay),
		ReplayPID:   v.GetInt(KeyReplayPID),
		MaxFailures: v.GetInt(KeyMaxFailures),
		File:        v.ConfigFileUsed(),
	}, nil
}

// Validate checks the settings a command needs. Every command needs the
// package; coverage commands also need a manifest.
func (c Config) Validate(needManifest bool) error {
	var problems []string
	if c.Package == "" {
		problems = append(problems, "package is required (--package or DROIDLOG_PACKAGE)")
	}
	if needManifest && c.Manifest == "" {
		problems = append(problems, "manifest is required (--manifest or DROIDLOG_MANIFEST)")
	}
	if c.History < 0 {
		problems = append(problems, "history must not be negative")
	}
	if c.Interval <= 0 {
		problems = append(problems, "interval must be positive")
	}
	if c.MaxFailures < 0 {
		problems = append(problems, "max-failures must not be negative")
	}
	if c.ReplayPID < 0 || (c.ReplayPID > 0 && c.Replay == "") {
		problems = append(problems, "replay-pid needs --replay and a positive pid")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
