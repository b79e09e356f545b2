// Package reader polls the device log incrementally and feeds every new line
// through the classifier, the fault assembler and the coverage tracker.
package reader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"droidlog/internal/coverage"
	"droidlog/internal/fault"
	"droidlog/internal/model"
	"droidlog/internal/parser"
	"droidlog/internal/store"
)

// Device is the log source.
type Device interface {
	// PID returns the process id of pkg; ok is false when it is not running.
	PID(ctx context.Context, pkg string) (pid int, ok bool, err error)
	// Dump returns the full current log buffer of pid.
	Dump(ctx context.Context, pid int) ([]byte, error)
	// Clear empties the device log buffer.
	Clear(ctx context.Context) error
}

// Options configures a Reader.
type Options struct {
	// Package is the monitored application id.
	Package string
	// Faults defaults to fault.New(Package).
	Faults *fault.Assembler
	// Coverage is optional; without it instrumentation events are only kept
	// in the history.
	Coverage *coverage.Tracker
	// HistoryCapacity bounds the retained records; <= 0 keeps everything.
	HistoryCapacity int
	Logger          *zap.Logger
}

// Batch is the outcome of one Poll.
type Batch struct {
	Records []model.Record
	Faults  []model.Fault
	// Malformed collects *model.MalformedLineError and
	// *model.UnknownMethodError values; none of them stop the batch.
	Malformed   []error
	PID         int
	PreviousPID int
	// Restarted is set when the package came back under a new pid.
	Restarted bool
	// Crashed is set when the package is gone but had a pid before.
	Crashed bool
}

// Reader owns the cursor, the pid bookkeeping and everything derived from
// the lines it has read. It is meant for a single polling loop and is not
// safe for concurrent use.
type Reader struct {
	dev      Device
	pkg      string
	faults   *fault.Assembler
	coverage *coverage.Tracker
	history  *store.History
	logger   *zap.Logger

	pid     int
	cursors map[int]cursor
	next    int64

	allFaults []model.Fault
	faultMark int
	eventMark int64
}

// New returns a reader that has not read anything yet.
func New(dev Device, opts Options) *Reader {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	faults := opts.Faults
	if faults == nil {
		faults = fault.New(opts.Package)
	}
	return &Reader{
		dev:       dev,
		pkg:       opts.Package,
		faults:    faults,
		coverage:  opts.Coverage,
		history:   store.NewHistory(opts.HistoryCapacity),
		logger:    logger.With(zap.String("package", opts.Package)),
		cursors:   make(map[int]cursor),
		eventMark: -1,
	}
}

// dump is one pid stream read during a poll, not yet committed.
type dump struct {
	pid    int
	lines  []string
	cursor cursor
}

// Poll reads everything the device logged since the previous poll. Records
// from a previous pid come before records of the current one. On error
// nothing is consumed, so the next poll sees the same lines again.
func (r *Reader) Poll(ctx context.Context) (Batch, error) {
	current, running, err := r.dev.PID(ctx, r.pkg)
	if err != nil {
		return Batch{}, fmt.Errorf("resolve pid: %w", err)
	}

	previous := r.pid
	batch := Batch{PreviousPID: previous}
	var pids []int
	switch {
	case !running && previous == 0:
		r.logger.Debug("package not running and no previous pid, nothing to read")
		return batch, nil
	case !running:
		batch.Crashed = true
		r.logger.Warn("package not running, reading remaining output of previous pid", zap.Int("pid", previous))
		pids = []int{previous}
	case previous != 0 && previous != current:
		batch.Restarted = true
		batch.PID = current
		r.logger.Info("package pid changed, draining previous pid first", zap.Int("previous", previous), zap.Int("pid", current))
		pids = []int{previous, current}
	default:
		batch.PID = current
		pids = []int{current}
	}

	dumps := make([]dump, 0, len(pids))
	for _, pid := range pids {
		d, err := r.read(ctx, pid)
		if err != nil {
			return Batch{}, err
		}
		dumps = append(dumps, d)
	}

	for _, d := range dumps {
		r.cursors[d.pid] = d.cursor
		r.ingest(d.lines, &batch)
	}
	if running {
		r.pid = current
	}
	return batch, nil
}

func (r *Reader) read(ctx context.Context, pid int) (dump, error) {
	out, err := r.dev.Dump(ctx, pid)
	if err != nil {
		return dump{}, fmt.Errorf("read pid %d: %w", pid, err)
	}
	prev := r.cursors[pid]
	lines, next, how := prev.advance(out)
	if how != resyncNone {
		r.logger.Warn("log cursor offset did not match device output, resynchronised by content",
			zap.Int("pid", pid),
			zap.Int("offset", prev.offset),
			zap.Int("size", len(out)),
			zap.String("match", string(how)),
			zap.Int("lines", len(lines)))
	}
	return dump{pid: pid, lines: lines, cursor: next}, nil
}

func (r *Reader) ingest(lines []string, batch *Batch) {
	for _, raw := range lines {
		rec, outcome := parser.Classify(raw, r.next)
		if outcome.Skipped {
			continue
		}
		r.next++

		if outcome.Malformed != nil {
			r.logger.Warn("malformed log line", zap.Int64("index", outcome.Malformed.Index), zap.String("reason", outcome.Malformed.Reason))
			batch.Malformed = append(batch.Malformed, outcome.Malformed)
		}

		r.history.Append(rec)
		batch.Records = append(batch.Records, rec)

		if ev, ok := rec.(*model.InstrumentationEvent); ok && r.coverage != nil {
			if err := r.coverage.RecordCall(ev); err != nil {
				r.logger.Warn("skipping instrumentation event", zap.Error(err))
				batch.Malformed = append(batch.Malformed, err)
			}
		}

		for _, f := range r.faults.Feed(rec) {
			r.addFault(f)
			batch.Faults = append(batch.Faults, f)
		}
	}
}

func (r *Reader) addFault(f model.Fault) {
	r.logger.Info("fault detected",
		zap.String("type", string(f.Type)),
		zap.Int64("index", f.Header.GetIndex()),
		zap.String("message", f.Header.GetMessage()))
	r.allFaults = append(r.allFaults, f)
}

// ReadLog polls and then returns the retained history, the retained
// instrumentation events and every fault found so far.
func (r *Reader) ReadLog(ctx context.Context) ([]model.Record, []*model.InstrumentationEvent, []model.Fault, error) {
	if _, err := r.Poll(ctx); err != nil {
		return nil, nil, nil, err
	}
	return r.history.Slice(), r.history.Instrumentation(), r.Faults(), nil
}

// Faults returns every fault found so far.
func (r *Reader) Faults() []model.Fault {
	out := make([]model.Fault, len(r.allFaults))
	copy(out, r.allFaults)
	return out
}

// NewFaults returns the faults found since the previous NewFaults call.
func (r *Reader) NewFaults() []model.Fault {
	out := make([]model.Fault, len(r.allFaults)-r.faultMark)
	copy(out, r.allFaults[r.faultMark:])
	r.faultMark = len(r.allFaults)
	return out
}

// NewInstrumentationEvents returns the retained instrumentation events read
// since the previous call. Events already evicted from the history are lost.
func (r *Reader) NewInstrumentationEvents() []*model.InstrumentationEvent {
	var out []*model.InstrumentationEvent
	for _, rec := range r.history.Since(r.eventMark) {
		if ev, ok := rec.(*model.InstrumentationEvent); ok {
			out = append(out, ev)
		}
	}
	r.eventMark = r.next - 1
	return out
}

// Flush closes a fault block still open at the end of the input.
func (r *Reader) Flush() (model.Fault, bool) {
	f, ok := r.faults.Flush()
	if ok {
		r.addFault(f)
	}
	return f, ok
}

// Clear empties the device buffer. With resetCursor the local cursors are
// dropped too, so the next poll reads the whole (new) buffer.
func (r *Reader) Clear(ctx context.Context, resetCursor bool) error {
	if err := r.dev.Clear(ctx); err != nil {
		return fmt.Errorf("clear log: %w", err)
	}
	if resetCursor {
		r.cursors = make(map[int]cursor)
	}
	r.logger.Debug("cleared device log", zap.Bool("reset_cursor", resetCursor))
	return nil
}

// History returns the retained records.
func (r *Reader) History() *store.History { return r.history }

// Coverage returns the tracker, or nil.
func (r *Reader) Coverage() *coverage.Tracker { return r.coverage }

// Package returns the monitored application id.
func (r *Reader) Package() string { return r.pkg }

// PID returns the last pid the package was seen running under, or 0.
func (r *Reader) PID() int { return r.pid }

// Next returns the index the next record will get.
func (r *Reader) Next() int64 { return r.next }
