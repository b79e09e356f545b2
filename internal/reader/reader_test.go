package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"droidlog/internal/coverage"
	"droidlog/internal/device"
	"droidlog/internal/model"
	"droidlog/internal/registry"
)

const pkg = "org.example.notes"

func fixturePath(parts ...string) string {
	return filepath.Join(append([]string{"..", "..", "testdata"}, parts...)...)
}

type fakeDevice struct {
	pid     int
	running bool
	logs    map[int]string
	pidErr  error
	dumpErr error
	dumps   []int
	cleared int
}

func newFakeDevice(pid int) *fakeDevice {
	return &fakeDevice{pid: pid, running: pid > 0, logs: make(map[int]string)}
}

func (f *fakeDevice) PID(context.Context, string) (int, bool, error) {
	if f.pidErr != nil {
		return 0, false, f.pidErr
	}
	return f.pid, f.running, nil
}

func (f *fakeDevice) Dump(_ context.Context, pid int) ([]byte, error) {
	f.dumps = append(f.dumps, pid)
	if f.dumpErr != nil {
		return nil, f.dumpErr
	}
	return []byte(f.logs[pid]), nil
}

func (f *fakeDevice) Clear(context.Context) error {
	f.cleared++
	f.logs = make(map[int]string)
	return nil
}

func (f *fakeDevice) write(pid int, lines ...string) {
	for _, l := range lines {
		f.logs[pid] += l + "\n"
	}
}

var seq int

func logLine(pid int, sev, msg string) string {
	seq++
	return fmt.Sprintf("1700000000.%03d %5d %5d %s %s", seq%1000, pid, pid, sev, msg)
}

func messages(records []model.Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.GetMessage())
	}
	return out
}

func indices(records []model.Record) []int64 {
	out := make([]int64, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.GetIndex())
	}
	return out
}

func mustPoll(t *testing.T, r *Reader) Batch {
	t.Helper()
	batch, err := r.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	return batch
}

func TestPollIsIdempotent(t *testing.T) {
	dev := newFakeDevice(100)
	dev.write(100, logLine(100, "I", "Tag: one"), logLine(100, "I", "Tag: two"))
	r := New(dev, Options{Package: pkg})

	first := mustPoll(t, r)
	if diff := cmp.Diff([]string{"Tag: one", "Tag: two"}, messages(first.Records)); diff != "" {
		t.Fatalf("unexpected first batch (-want +got):\n%s", diff)
	}
	for i := 0; i < 3; i++ {
		if again := mustPoll(t, r); len(again.Records) != 0 {
			t.Fatalf("poll %d re-emitted %d records", i+2, len(again.Records))
		}
	}
}

func TestPollReturnsOnlyNewLines(t *testing.T) {
	dev := newFakeDevice(100)
	dev.write(100, logLine(100, "I", "Tag: one"))
	r := New(dev, Options{Package: pkg})
	mustPoll(t, r)

	dev.write(100, logLine(100, "I", "Tag: two"), logLine(100, "W", "Tag: three"))
	batch := mustPoll(t, r)

	if diff := cmp.Diff([]int64{1, 2}, indices(batch.Records)); diff != "" {
		t.Fatalf("unexpected indices (-want +got):\n%s", diff)
	}
	if batch.PID != 100 || batch.PreviousPID != 100 || batch.Restarted || batch.Crashed {
		t.Fatalf("unexpected batch metadata: %+v", batch)
	}
}

func TestPollDuplicateTrailingLine(t *testing.T) {
	dev := newFakeDevice(100)
	repeated := logLine(100, "D", "Tag: heartbeat")
	dev.write(100, logLine(100, "I", "Tag: start"), repeated)
	r := New(dev, Options{Package: pkg})
	mustPoll(t, r)

	// The exact same line is logged again.
	dev.write(100, repeated)
	batch := mustPoll(t, r)

	if len(batch.Records) != 1 || batch.Records[0].GetIndex() != 2 {
		t.Fatalf("expected the repeated line once with index 2, got %v", indices(batch.Records))
	}
	if again := mustPoll(t, r); len(again.Records) != 0 {
		t.Fatalf("repeated line emitted twice")
	}
}

func TestPollPIDChangeDrainsPreviousFirst(t *testing.T) {
	dev := newFakeDevice(100)
	for i := 0; i < 5; i++ {
		dev.write(100, logLine(100, "I", fmt.Sprintf("Old: line %d", i)))
	}
	r := New(dev, Options{Package: pkg})
	if first := mustPoll(t, r); len(first.Records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(first.Records))
	}

	dev.write(100, logLine(100, "E", "Old: trailing 1"), logLine(100, "E", "Old: trailing 2"))
	dev.pid = 200
	dev.write(200, logLine(200, "I", "New: started"), logLine(200, "I", "New: ready"))
	dev.dumps = nil

	batch := mustPoll(t, r)
	want := []string{"Old: trailing 1", "Old: trailing 2", "New: started", "New: ready"}
	if diff := cmp.Diff(want, messages(batch.Records)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{5, 6, 7, 8}, indices(batch.Records)); diff != "" {
		t.Fatalf("indices not continuing without gaps (-want +got):\n%s", diff)
	}
	if !batch.Restarted || batch.PID != 200 || batch.PreviousPID != 100 {
		t.Fatalf("unexpected batch metadata: %+v", batch)
	}
	if diff := cmp.Diff([]int{100, 200}, dev.dumps); diff != "" {
		t.Fatalf("unexpected dump order (-want +got):\n%s", diff)
	}
	if r.PID() != 200 {
		t.Fatalf("reader should follow the new pid, got %d", r.PID())
	}
}

func TestPollCrashedDrainsPreviousPID(t *testing.T) {
	dev := newFakeDevice(100)
	dev.write(100, logLine(100, "I", "Tag: running"))
	r := New(dev, Options{Package: pkg})
	mustPoll(t, r)

	dev.running = false
	dev.pid = 0
	dev.write(100, logLine(100, "I", "Tag: last words"))

	batch := mustPoll(t, r)
	if !batch.Crashed || batch.PID != 0 || batch.PreviousPID != 100 {
		t.Fatalf("unexpected batch metadata: %+v", batch)
	}
	if diff := cmp.Diff([]string{"Tag: last words"}, messages(batch.Records)); diff != "" {
		t.Fatalf("unexpected records (-want +got):\n%s", diff)
	}
	if again := mustPoll(t, r); len(again.Records) != 0 || !again.Crashed {
		t.Fatalf("expected an empty crashed batch, got %+v", again)
	}
}

func TestPollNothingRunning(t *testing.T) {
	dev := newFakeDevice(0)
	r := New(dev, Options{Package: pkg})

	batch := mustPoll(t, r)
	if len(batch.Records) != 0 || batch.Crashed || len(dev.dumps) != 0 {
		t.Fatalf("expected nothing to be read, got %+v (dumps %v)", batch, dev.dumps)
	}
}

func TestPollDeviceErrorDoesNotAdvance(t *testing.T) {
	dev := newFakeDevice(100)
	dev.write(100, logLine(100, "I", "Tag: one"))
	r := New(dev, Options{Package: pkg})
	mustPoll(t, r)

	dev.write(100, logLine(100, "I", "Tag: two"))
	dev.dumpErr = &model.DeviceUnavailableError{Op: "dump", Err: errors.New("device offline")}
	_, err := r.Poll(context.Background())
	var unavailable *model.DeviceUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected DeviceUnavailableError, got %v", err)
	}

	dev.dumpErr = nil
	batch := mustPoll(t, r)
	if diff := cmp.Diff([]int64{1}, indices(batch.Records)); diff != "" {
		t.Fatalf("unexpected records after recovery (-want +got):\n%s", diff)
	}
}

func TestPollPIDQueryError(t *testing.T) {
	dev := newFakeDevice(100)
	dev.pidErr = &model.DeviceUnavailableError{Op: "pid", Err: errors.New("no devices")}
	r := New(dev, Options{Package: pkg})

	if _, err := r.Poll(context.Background()); err == nil || !strings.Contains(err.Error(), "resolve pid") {
		t.Fatalf("expected wrapped pid error, got %v", err)
	}
}

func TestPollBufferRotated(t *testing.T) {
	dev := newFakeDevice(100)
	lines := []string{
		logLine(100, "I", "Tag: a"),
		logLine(100, "I", "Tag: b"),
		logLine(100, "I", "Tag: c"),
		logLine(100, "I", "Tag: d"),
	}
	dev.write(100, lines...)
	r := New(dev, Options{Package: pkg})
	mustPoll(t, r)

	// The ring buffer dropped a and b and then received e.
	dev.logs[100] = ""
	dev.write(100, lines[2], lines[3], logLine(100, "I", "Tag: e"))

	batch := mustPoll(t, r)
	if diff := cmp.Diff([]string{"Tag: e"}, messages(batch.Records)); diff != "" {
		t.Fatalf("unexpected records after rotation (-want +got):\n%s", diff)
	}
	if again := mustPoll(t, r); len(again.Records) != 0 {
		t.Fatalf("rotation resync is not idempotent: %v", messages(again.Records))
	}
}

func TestPollBufferClearedElsewhere(t *testing.T) {
	dev := newFakeDevice(100)
	dev.write(100, logLine(100, "I", "Tag: a"), logLine(100, "I", "Tag: b"), logLine(100, "I", "Tag: c"))
	r := New(dev, Options{Package: pkg})
	mustPoll(t, r)

	dev.logs[100] = ""
	dev.write(100, logLine(100, "I", "Tag: fresh"))

	batch := mustPoll(t, r)
	if diff := cmp.Diff([]string{"Tag: fresh"}, messages(batch.Records)); diff != "" {
		t.Fatalf("unexpected records after external clear (-want +got):\n%s", diff)
	}
}

func TestPollLeavesPartialLine(t *testing.T) {
	dev := newFakeDevice(100)
	dev.logs[100] = logLine(100, "I", "Tag: whole") + "\n" + "1700000000.999   100   100 I Tag: hal"
	r := New(dev, Options{Package: pkg})

	if batch := mustPoll(t, r); len(batch.Records) != 1 {
		t.Fatalf("expected only the terminated line, got %v", messages(batch.Records))
	}
	dev.logs[100] += "f\n"
	batch := mustPoll(t, r)
	if diff := cmp.Diff([]string{"Tag: half"}, messages(batch.Records)); diff != "" {
		t.Fatalf("unexpected completion (-want +got):\n%s", diff)
	}
}

func TestClearResetsCursor(t *testing.T) {
	dev := newFakeDevice(100)
	dev.write(100, logLine(100, "I", "Tag: before"))
	r := New(dev, Options{Package: pkg})
	mustPoll(t, r)

	if err := r.Clear(context.Background(), true); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
	if dev.cleared != 1 {
		t.Fatalf("device buffer not cleared")
	}
	dev.write(100, logLine(100, "I", "Tag: after"))
	batch := mustPoll(t, r)
	if diff := cmp.Diff([]string{"Tag: after"}, messages(batch.Records)); diff != "" {
		t.Fatalf("unexpected records after clear (-want +got):\n%s", diff)
	}
	if batch.Records[0].GetIndex() != 1 {
		t.Fatalf("index must keep counting after clear, got %d", batch.Records[0].GetIndex())
	}
}

func TestMalformedAndUnknownMethods(t *testing.T) {
	reg, err := registry.Load(fixturePath("manifest", "locations.json"), pkg)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	tracker := coverage.New(reg, nil)

	dev := newFakeDevice(100)
	dev.write(100,
		logLine(100, "I", "InstruAPK: InstruAPK;;999;;Gone.java;;gone;;1700000000000"),
		logLine(100, "I", "InstruAPK: InstruAPK;;1"),
		logLine(100, "I", "InstruAPK: InstruAPK;;1;;MainActivity.java;;onResume;;1700000000000"),
	)
	r := New(dev, Options{Package: pkg, Coverage: tracker})

	batch := mustPoll(t, r)
	if len(batch.Records) != 3 {
		t.Fatalf("bad lines must not drop records, got %d", len(batch.Records))
	}
	if len(batch.Malformed) != 2 {
		t.Fatalf("expected 2 diagnostics, got %v", batch.Malformed)
	}
	var unknown *model.UnknownMethodError
	var malformed *model.MalformedLineError
	if !errors.As(batch.Malformed[0], &unknown) || !errors.As(batch.Malformed[1], &malformed) {
		t.Fatalf("unexpected diagnostics: %v", batch.Malformed)
	}
	if tracker.EpisodeCalled() != 1 {
		t.Fatalf("expected one counted call, got %d", tracker.EpisodeCalled())
	}
}

func TestReplayRestartWithFaultsAndCoverage(t *testing.T) {
	reg, err := registry.Load(fixturePath("manifest", "locations.json"), pkg)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	tracker := coverage.New(reg, nil)
	replay := &device.Replay{Path: fixturePath("logcat", "restart.log"), FixedPID: 4242}
	r := New(replay, Options{Package: pkg, Coverage: tracker})

	first := mustPoll(t, r)
	if len(first.Records) != 9 {
		t.Fatalf("expected 9 records for the first process, got %d", len(first.Records))
	}
	if len(first.Faults) != 1 {
		t.Fatalf("expected 1 fault, got %d", len(first.Faults))
	}
	f := first.Faults[0]
	if f.Type != model.FaultFatalException || len(f.Body) != 4 {
		t.Fatalf("unexpected fault: type=%s body=%d", f.Type, len(f.Body))
	}
	if !strings.Contains(f.Header.GetMessage(), "FATAL EXCEPTION") {
		t.Fatalf("unexpected fault header: %s", f.Header.GetMessage())
	}

	replay.FixedPID = 5151
	second := mustPoll(t, r)
	if !second.Restarted || len(second.Records) != 3 {
		t.Fatalf("unexpected second batch: restarted=%v records=%d", second.Restarted, len(second.Records))
	}
	if second.Records[0].GetIndex() != 9 {
		t.Fatalf("expected indices to continue at 9, got %d", second.Records[0].GetIndex())
	}

	if p, ok := tracker.CumulativePercentage(); !ok || p != 50 {
		t.Fatalf("expected 50%% cumulative coverage, got %v", p)
	}
	if got := len(r.NewFaults()); got != 1 {
		t.Fatalf("expected 1 new fault, got %d", got)
	}
	if got := len(r.NewFaults()); got != 0 {
		t.Fatalf("expected no new faults on second call, got %d", got)
	}
	events := r.NewInstrumentationEvents()
	if len(events) != 3 || events[2].MethodID != "1" {
		t.Fatalf("unexpected instrumentation events: %+v", events)
	}
	if len(r.NewInstrumentationEvents()) != 0 {
		t.Fatalf("instrumentation events returned twice")
	}
}

func TestReadLogAndFlush(t *testing.T) {
	dev := newFakeDevice(100)
	dev.write(100,
		logLine(100, "I", "Tag: start"),
		logLine(100, "E", "Tag: boom"),
		logLine(100, "E", "Tag: Caused by: x"),
	)
	r := New(dev, Options{Package: pkg, HistoryCapacity: 2})

	history, events, faults, err := r.ReadLog(context.Background())
	if err != nil {
		t.Fatalf("ReadLog returned error: %v", err)
	}
	if len(history) != 2 || history[0].GetIndex() != 1 {
		t.Fatalf("expected the newest 2 records, got %v", indices(history))
	}
	if len(events) != 0 || len(faults) != 0 {
		t.Fatalf("open fault block must not be emitted before flush: %d faults", len(faults))
	}

	f, ok := r.Flush()
	if !ok || f.Header.GetMessage() != "Tag: boom" || len(f.Body) != 1 {
		t.Fatalf("unexpected flushed fault: %+v (ok=%v)", f, ok)
	}
	if len(r.Faults()) != 1 {
		t.Fatalf("flushed fault not recorded")
	}
	if _, ok := r.Flush(); ok {
		t.Fatalf("second flush should be empty")
	}
}

func TestReplayGrowingCaptureNeverRepeats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")
	head := "1700000000.100   300   300 I Tag: one\n" +
		"1700000000.200   300   300 I Tag: two\n"
	if err := os.WriteFile(path, []byte(head+"1700000000.300   300   300 I Tag: thr"), 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}
	r := New(&device.Replay{Path: path, FixedPID: 300}, Options{Package: pkg})

	first := mustPoll(t, r)
	if diff := cmp.Diff([]string{"Tag: one", "Tag: two"}, messages(first.Records)); diff != "" {
		t.Fatalf("unexpected first poll (-want +got):\n%s", diff)
	}

	if err := os.WriteFile(path, []byte(head+"1700000000.300   300   300 I Tag: three\n"), 0o644); err != nil {
		t.Fatalf("rewrite capture: %v", err)
	}
	second := mustPoll(t, r)
	if diff := cmp.Diff([]string{"Tag: three"}, messages(second.Records)); diff != "" {
		t.Fatalf("unexpected second poll (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{2}, indices(second.Records)); diff != "" {
		t.Fatalf("unexpected indices (-want +got):\n%s", diff)
	}
	if third := mustPoll(t, r); len(third.Records) != 0 {
		t.Fatalf("expected an empty delta, got %v", messages(third.Records))
	}
}
