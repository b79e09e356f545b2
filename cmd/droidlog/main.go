// Package main provides the droidlog CLI: live fault and coverage feedback
// from an Android app's logcat.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"droidlog/internal/config"
	"droidlog/internal/coverage"
	"droidlog/internal/device"
	"droidlog/internal/fault"
	"droidlog/internal/format"
	"droidlog/internal/logging"
	"droidlog/internal/model"
	"droidlog/internal/reader"
	"droidlog/internal/registry"
	"droidlog/internal/store"
	"droidlog/internal/view"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "droidlog: %v\n", err)
		os.Exit(1)
	}
}

// globals are the persistent flags that are not config keys.
type globals struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "droidlog",
		Short:         "Track faults and method coverage from an Android app's logcat",
		Version:       version,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&g.configFile, "config", "c", "", "config file (default: ./.droidlog.yaml or $HOME/.droidlog.yaml)")
	flags.StringP(config.KeyPackage, "p", "", "application id of the monitored app (env: DROIDLOG_PACKAGE)")
	flags.StringP(config.KeySerial, "s", "", "device serial passed to adb -s (env: DROIDLOG_SERIAL)")
	flags.String(config.KeyADB, "adb", "adb binary")
	flags.StringP(config.KeyManifest, "m", "", "instrumentation manifest (method id -> source file)")
	flags.Int(config.KeyHistory, 10000, "records kept in memory (0 keeps everything)")
	flags.String(config.KeyLogLevel, "info", "diagnostic log level: "+strings.Join(logging.Levels, ", "))
	flags.String(config.KeyReplay, "", "read a captured 'logcat -v epoch -v threadtime' file instead of a device")
	flags.Int(config.KeyReplayPID, 0, "pid to read from the replay file (default: pid of its last line)")

	cmd.AddCommand(newWatchCmd(g))
	cmd.AddCommand(newSnapshotCmd(g))
	cmd.AddCommand(newClearCmd(g))
	cmd.AddCommand(newMethodsCmd(g))
	return cmd
}

// session is everything a command needs to read the log.
type session struct {
	cfg     config.Config
	logger  *zap.Logger
	tracker *coverage.Tracker
	dev     reader.Device
	reader  *reader.Reader
}

func (g *globals) open(cmd *cobra.Command, needManifest bool) (*session, error) {
	cfg, err := config.Load(g.configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(needManifest); err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	if cfg.File != "" {
		logger.Debug("loaded config", zap.String("file", cfg.File))
	}

	s := &session{cfg: cfg, logger: logger, dev: newDevice(cfg, logger)}
	if cfg.Manifest != "" {
		reg, err := registry.Load(cfg.Manifest, cfg.Package)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded instrumentation manifest", zap.String("path", reg.Path()), zap.Int("methods", reg.Len()))
		s.tracker = coverage.New(reg, logger.Named("coverage"))
	}
	s.reader = reader.New(s.dev, reader.Options{
		Package:         cfg.Package,
		Faults:          fault.New(cfg.Package),
		Coverage:        s.tracker,
		HistoryCapacity: cfg.History,
		Logger:          logger.Named("reader"),
	})
	return s, nil
}

func newDevice(cfg config.Config, logger *zap.Logger) reader.Device {
	if cfg.Replay != "" {
		return &device.Replay{Path: cfg.Replay, FixedPID: cfg.ReplayPID}
	}
	return &device.ADB{Path: cfg.ADB, Serial: cfg.Serial, Logger: logger.Named("adb")}
}

func newWatchCmd(g *globals) *cobra.Command {
	var (
		showRecords  bool
		wrap         int
		formatFlag   string
		forceColor   bool
		forceNoColor bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the log and print faults and coverage as they appear",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if forceColor && forceNoColor {
				return errors.New("--color and --no-color cannot be used together")
			}
			s, err := g.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var trigger <-chan struct{}
			if s.cfg.Replay != "" {
				ch, closeWatcher, err := watchFile(ctx, s.cfg.Replay, s.logger)
				if err != nil {
					return err
				}
				defer closeWatcher() //nolint:errcheck
				trigger = ch
			}

			out := cmd.OutOrStdout()
			outFile, _ := out.(*os.File)
			return view.Watch(ctx, s.reader, view.Options{
				Interval:     s.cfg.Interval,
				Trigger:      trigger,
				MaxFailures:  s.cfg.MaxFailures,
				ShowRecords:  showRecords,
				Wrap:         wrap,
				ForceColor:   forceColor,
				ForceNoColor: forceNoColor,
				Format:       formatFlag,
				Out:          out,
				OutFile:      outFile,
				Logger:       s.logger.Named("watch"),
			})
		},
	}

	flags := cmd.Flags()
	flags.Duration(config.KeyInterval, 0, "time between polls (default 2s)")
	flags.Int(config.KeyMaxFailures, 5, "stop after this many consecutive device failures (0 retries forever)")
	flags.BoolVar(&showRecords, "records", false, "print every log record, not only faults")
	flags.IntVar(&wrap, "wrap", 0, "clip and wrap output at the given column width")
	flags.StringVar(&formatFlag, "format", "table", "format of the final coverage summary: "+strings.Join(format.Formats, ", "))
	flags.BoolVar(&forceColor, "color", false, "force-enable ANSI colors even when stdout is not a TTY")
	flags.BoolVar(&forceNoColor, "no-color", false, "disable ANSI colors regardless of terminal detection")
	return cmd
}

// watchFile forwards writes to path as poll triggers until ctx is done.
func watchFile(ctx context.Context, path string, logger *zap.Logger) (<-chan struct{}, func() error, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close() //nolint:errcheck
		return nil, nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	trigger := make(chan struct{}, 1)
	go func() {
		defer close(trigger)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				select {
				case trigger <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("file watcher error", zap.Error(err))
			}
		}
	}()
	return trigger, w.Close, nil
}

func newSnapshotCmd(g *globals) *cobra.Command {
	var (
		formatFlag  string
		noHeader    bool
		showCalls   bool
		tail        int
		minSeverity string
		noFlush     bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Read the log once and report coverage and faults",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.logger.Sync() //nolint:errcheck

			var query store.Query
			if minSeverity != "" {
				query.MinSeverity = model.ParseSeverity(minSeverity)
				if query.MinSeverity == model.SeverityUnknown {
					return fmt.Errorf("invalid --min-severity value: %s", minSeverity)
				}
			}

			if _, _, _, err := s.reader.ReadLog(cmd.Context()); err != nil {
				return err
			}
			if !noFlush {
				s.reader.Flush()
			}
			return writeSnapshot(cmd.OutOrStdout(), s, snapshotOptions{
				format:        formatFlag,
				includeHeader: !noHeader,
				calls:         showCalls,
				tail:          tail,
				query:         query,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&formatFlag, "format", "table", "output format: "+strings.Join(format.Formats, ", "))
	flags.BoolVar(&noHeader, "no-header", false, "omit header row for plain fault output")
	flags.BoolVar(&showCalls, "calls", false, "include per-method call counts")
	flags.IntVar(&tail, "tail", 0, "also print the last N retained records")
	flags.StringVar(&minSeverity, "min-severity", "", "with --tail, only records at or above this severity (V, D, I, W, E, F)")
	flags.BoolVar(&noFlush, "no-flush", false, "do not close a fault block still open at the end of the log")
	return cmd
}

type snapshotOptions struct {
	format        string
	includeHeader bool
	calls         bool
	tail          int
	query         store.Query
}

func writeSnapshot(out io.Writer, s *session, opts snapshotOptions) error {
	if s.tracker != nil {
		if err := format.WriteCoverage(out, s.tracker.Snapshot(), opts.format); err != nil {
			return err
		}
		if opts.calls {
			if err := format.WriteCalls(out, s.tracker.CumulativeCalls(), opts.format); err != nil {
				return err
			}
		}
	}
	if err := format.WriteFaults(out, s.reader.Faults(), opts.includeHeader, opts.format); err != nil {
		return err
	}
	if opts.tail > 0 {
		query := opts.query
		query.Limit = opts.tail
		for _, rec := range s.reader.History().Select(query) {
			if _, err := fmt.Fprintln(out, format.RecordLine(rec)); err != nil {
				return err
			}
		}
	}
	return nil
}

func newClearCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the device log buffer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.logger.Sync() //nolint:errcheck
			if err := s.reader.Clear(cmd.Context(), true); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "log buffer cleared") //nolint:errcheck
			return nil
		},
	}
}

func newMethodsCmd(g *globals) *cobra.Command {
	var formatFlag string

	cmd := &cobra.Command{
		Use:   "methods",
		Short: "Summarise the instrumentation manifest per package",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configFile, cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(true); err != nil {
				return err
			}
			reg, err := registry.Load(cfg.Manifest, cfg.Package)
			if err != nil {
				return err
			}
			return format.WritePackages(cmd.OutOrStdout(), reg.Packages(), formatFlag)
		},
	}

	cmd.Flags().StringVar(&formatFlag, "format", "table", "output format: "+strings.Join(format.Formats, ", "))
	return cmd
}
