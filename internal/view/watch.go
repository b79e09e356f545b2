// Package view runs the live watch loop: it polls the reader and prints new
// faults, records and coverage as they arrive.
package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"
	"golang.org/x/term"

	"droidlog/internal/format"
	"droidlog/internal/model"
	"droidlog/internal/reader"
)

// Options defines the configurable parameters of a watch.
type Options struct {
	// Interval between polls. Zero disables timed polling.
	Interval time.Duration
	// Trigger requests an extra poll per value, for example on file writes.
	Trigger <-chan struct{}
	// MaxFailures stops the watch after this many consecutive device
	// failures. Zero retries forever.
	MaxFailures int
	// ShowRecords prints every record, not only faults.
	ShowRecords  bool
	Wrap         int
	ForceColor   bool
	ForceNoColor bool
	// Format of the final coverage summary.
	Format  string
	Out     io.Writer
	OutFile *os.File
	Logger  *zap.Logger
}

type watcher struct {
	r        *reader.Reader
	opts     Options
	out      io.Writer
	logger   *zap.Logger
	useColor bool
	width    int
	failures int
}

// Watch polls r until ctx is cancelled. On shutdown the pending fault block
// is flushed and a final coverage summary is printed.
func Watch(ctx context.Context, r *reader.Reader, opts Options) error {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Interval <= 0 && opts.Trigger == nil {
		return errors.New("watch needs a poll interval or a trigger")
	}
	w := &watcher{
		r:        r,
		opts:     opts,
		out:      opts.Out,
		logger:   opts.Logger,
		useColor: resolveColorChoice(opts),
		width:    determineWidth(opts.OutFile, opts.Wrap),
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}

	var tick <-chan time.Time
	if opts.Interval > 0 {
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	trigger := opts.Trigger

	if err := w.poll(ctx); err != nil {
		return w.finish(err)
	}
	for {
		select {
		case <-ctx.Done():
			return w.finish(nil)
		case <-tick:
		case _, ok := <-trigger:
			if !ok {
				trigger = nil
				if tick == nil {
					return w.finish(nil)
				}
				continue
			}
		}
		if err := w.poll(ctx); err != nil {
			return w.finish(err)
		}
	}
}

func (w *watcher) poll(ctx context.Context) error {
	batch, err := w.r.Poll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		var unavailable *model.DeviceUnavailableError
		if !errors.As(err, &unavailable) {
			return err
		}
		w.failures++
		w.logger.Warn("poll failed", zap.Error(err), zap.Int("consecutive", w.failures))
		if w.opts.MaxFailures > 0 && w.failures >= w.opts.MaxFailures {
			return fmt.Errorf("device unavailable after %d attempts: %w", w.failures, err)
		}
		return nil
	}
	w.failures = 0

	if batch.Restarted {
		w.notice(fmt.Sprintf("process restarted: pid %d -> %d", batch.PreviousPID, batch.PID))
	}
	if batch.Crashed && len(batch.Records) > 0 {
		w.notice(fmt.Sprintf("process %d is gone; showing its remaining output", batch.PreviousPID))
	}
	if w.opts.ShowRecords {
		for _, rec := range batch.Records {
			w.printRecord(rec)
		}
	}
	for _, f := range batch.Faults {
		w.printFault(f)
	}
	if len(batch.Records) > 0 {
		w.printStatus()
	}
	return nil
}

func (w *watcher) finish(cause error) error {
	if f, ok := w.r.Flush(); ok {
		w.printFault(f)
	}
	if tracker := w.r.Coverage(); tracker != nil {
		fmt.Fprintln(w.out)
		if err := format.WriteCoverage(w.out, tracker.Snapshot(), w.opts.Format); err != nil && cause == nil {
			cause = err
		}
	}
	return cause
}

func (w *watcher) notice(text string) {
	fmt.Fprintln(w.out, colorize(w.useColor, ansiNotice, "== "+text))
}

func (w *watcher) printRecord(rec model.Record) {
	line := clip(format.RecordLine(rec), w.width)
	fmt.Fprintln(w.out, colorize(w.useColor, recordColor(rec), line))
}

func (w *watcher) printFault(f model.Fault) {
	lines := format.FaultLines(f, w.width)
	fmt.Fprintln(w.out, colorize(w.useColor, faultColor(f.Type), clip(lines[0], w.width)))
	for _, line := range lines[1:] {
		fmt.Fprintln(w.out, colorize(w.useColor, ansiSeparator, line))
	}
}

func (w *watcher) printStatus() {
	tracker := w.r.Coverage()
	if tracker == nil {
		return
	}
	snap := tracker.Snapshot()
	status := fmt.Sprintf("coverage: episode %s (%d/%d) | cumulative %s (%d/%d) | faults %d",
		format.FormatPercentage(snap.EpisodePercentage), snap.EpisodeCalled, snap.Instrumented,
		format.FormatPercentage(snap.CumulativePercentage), snap.CumulativeCalled, snap.Instrumented,
		len(w.r.Faults()))
	fmt.Fprintln(w.out, colorize(w.useColor, ansiTimestamp, clip(status, w.width)))
}

// clip shortens text to width terminal cells.
func clip(text string, width int) string {
	if width <= 0 {
		return text
	}
	return runewidth.Truncate(text, width, "…")
}

const (
	ansiReset     = "\x1b[0m"
	ansiTimestamp = "\x1b[38;5;245m"
	ansiSeparator = "\x1b[38;5;240m"
	ansiNotice    = "\x1b[1;97m"
	ansiError     = "\x1b[38;5;196m"
	ansiException = "\x1b[38;5;208m"
	ansiFatal     = "\x1b[1;38;5;201m"
	ansiWarning   = "\x1b[38;5;220m"
	ansiCall      = "\x1b[38;5;44m"
)

func colorize(enabled bool, code string, text string) string {
	if !enabled {
		return text
	}
	return code + text + ansiReset
}

func faultColor(t model.FaultType) string {
	switch t {
	case model.FaultFatalException:
		return ansiFatal
	case model.FaultException:
		return ansiException
	default:
		return ansiError
	}
}

func recordColor(rec model.Record) string {
	if rec.Kind() == model.KindInstrumentation {
		return ansiCall
	}
	switch rec.GetSeverity() {
	case model.SeverityError, model.SeverityFatal:
		return ansiError
	case model.SeverityWarning:
		return ansiWarning
	default:
		return ansiTimestamp
	}
}

func resolveColorChoice(opts Options) bool {
	if opts.ForceColor {
		return true
	}
	if opts.ForceNoColor {
		return false
	}
	return shouldUseColorAuto(opts.Out)
}

func shouldUseColorAuto(out io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func determineWidth(out *os.File, wrap int) int {
	if wrap > 0 {
		return wrap
	}
	if out != nil {
		if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 0 {
			return w
		}
	}
	if colsStr := os.Getenv("COLUMNS"); colsStr != "" {
		if v, err := strconv.Atoi(colsStr); err == nil && v > 0 {
			return v
		}
	}
	return 80
}
