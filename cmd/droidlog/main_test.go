package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testPackage = "org.example.notes"

func fixturePath(parts ...string) string {
	return filepath.Join(append([]string{"..", "..", "testdata"}, parts...)...)
}

func runCLI(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

func copyFixture(t *testing.T, parts ...string) string {
	t.Helper()
	data, err := os.ReadFile(fixturePath(parts...))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	path := filepath.Join(t.TempDir(), parts[len(parts)-1])
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture copy: %v", err)
	}
	return path
}

func replayArgs(command, replay string) []string {
	return []string{
		command,
		"--replay", replay,
		"--replay-pid", "4242",
		"--package", testPackage,
		"--manifest", fixturePath("manifest", "locations.json"),
		"--log-level", "error",
	}
}

func TestSnapshotCommandReplay(t *testing.T) {
	args := append(replayArgs("snapshot", fixturePath("logcat", "restart.log")), "--format", "plain")
	out, err := runCLI(t, context.Background(), args...)
	if err != nil {
		t.Fatalf("snapshot command failed: %v", err)
	}
	for _, want := range []string{
		"episode\t2\t6\t33.33%",
		"cumulative\t2\t6\t33.33%",
		"time\ttype\tindex\tpid\tlines\tmessage",
		"FATAL_EXCEPTION\t3\t4242\t5\tAndroidRuntime: FATAL EXCEPTION: main",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("snapshot output missing %q:\n%s", want, out)
		}
	}
}

func TestSnapshotCommandTail(t *testing.T) {
	args := append(replayArgs("snapshot", fixturePath("logcat", "restart.log")),
		"--format", "plain", "--tail", "2", "--min-severity", "E", "--calls")
	out, err := runCLI(t, context.Background(), args...)
	if err != nil {
		t.Fatalf("snapshot command failed: %v", err)
	}
	if !strings.Contains(out, "#00006 ") || !strings.Contains(out, "#00007 ") || strings.Contains(out, "#00008 ") {
		t.Fatalf("unexpected tail:\n%s", out)
	}
	if !strings.Contains(out, "method_id\tcount\tpackage\tfile") || !strings.Contains(out, "2\t1\torg.example.notes.editor\t") {
		t.Fatalf("call counts missing:\n%s", out)
	}
}

func TestSnapshotCommandInvalidSeverity(t *testing.T) {
	args := append(replayArgs("snapshot", fixturePath("logcat", "restart.log")), "--tail", "1", "--min-severity", "loud")
	if _, err := runCLI(t, context.Background(), args...); err == nil {
		t.Fatal("expected error for unknown severity")
	}
}

func TestWatchCommandStopsOnCancel(t *testing.T) {
	replay := copyFixture(t, "logcat", "restart.log")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	args := append(replayArgs("watch", replay), "--no-color", "--format", "plain", "--wrap", "200")
	out, err := runCLI(t, ctx, args...)
	if err != nil {
		t.Fatalf("watch command failed: %v", err)
	}
	for _, want := range []string{"[FATAL_EXCEPTION]", "    AndroidRuntime: Caused by: java.lang.IllegalStateException: closed", "cumulative\t2\t6\t33.33%"} {
		if !strings.Contains(out, want) {
			t.Fatalf("watch output missing %q:\n%s", want, out)
		}
	}
}

func TestWatchCommandColorFlagsExclusive(t *testing.T) {
	args := append(replayArgs("watch", fixturePath("logcat", "restart.log")), "--color", "--no-color")
	if _, err := runCLI(t, context.Background(), args...); err == nil {
		t.Fatal("expected error for --color with --no-color")
	}
}

func TestClearCommandReplay(t *testing.T) {
	replay := copyFixture(t, "logcat", "restart.log")
	out, err := runCLI(t, context.Background(), "clear", "--replay", replay, "--package", testPackage)
	if err != nil {
		t.Fatalf("clear command failed: %v", err)
	}
	if !strings.Contains(out, "log buffer cleared") {
		t.Fatalf("unexpected output: %q", out)
	}
	info, err := os.Stat(replay)
	if err != nil {
		t.Fatalf("stat replay: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected truncated replay file, got %d bytes", info.Size())
	}
}

func TestMethodsCommand(t *testing.T) {
	out, err := runCLI(t, context.Background(),
		"methods", "--manifest", fixturePath("manifest", "locations.json"), "--package", testPackage, "--format", "plain")
	if err != nil {
		t.Fatalf("methods command failed: %v", err)
	}
	want := "package\tmethods\norg.example.notes\t2\norg.example.notes.editor\t2\norg.example.notes.sync\t1\nroot\t1\n"
	if out != want {
		t.Fatalf("methods output mismatch:\nwant %q\ngot  %q", want, out)
	}
}

func TestMissingPackage(t *testing.T) {
	t.Setenv("DROIDLOG_PACKAGE", "")
	_, err := runCLI(t, context.Background(), "snapshot", "--replay", fixturePath("logcat", "restart.log"))
	if err == nil || !strings.Contains(err.Error(), "package is required") {
		t.Fatalf("expected missing package error, got %v", err)
	}
}

func TestMissingManifestFile(t *testing.T) {
	_, err := runCLI(t, context.Background(), "methods", "--manifest", filepath.Join(t.TempDir(), "none.json"), "--package", testPackage)
	if err == nil || !strings.Contains(err.Error(), "load manifest") {
		t.Fatalf("expected manifest error, got %v", err)
	}
}
