// Package device talks to the log source: a device reached through adb, or
// a captured logcat file replayed offline.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"droidlog/internal/model"
)

// Runner executes one external command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec. Cancelling ctx kills the process.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// ADB reads logs from a connected device or emulator.
type ADB struct {
	// Path is the adb binary; empty means "adb" on PATH.
	Path string
	// Serial selects a device when several are attached.
	Serial string
	Runner Runner
	Logger *zap.Logger
}

func (a *ADB) binary() string {
	if a.Path == "" {
		return "adb"
	}
	return a.Path
}

func (a *ADB) runner() Runner {
	if a.Runner == nil {
		return ExecRunner{}
	}
	return a.Runner
}

func (a *ADB) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

func (a *ADB) args(rest ...string) []string {
	if a.Serial == "" {
		return rest
	}
	return append([]string{"-s", a.Serial}, rest...)
}

func (a *ADB) run(ctx context.Context, rest ...string) ([]byte, []byte, error) {
	args := a.args(rest...)
	a.logger().Debug("run device command", zap.String("cmd", a.binary()), zap.Strings("args", args))
	return a.runner().Run(ctx, a.binary(), args...)
}

// exitCoder matches *exec.ExitError without requiring a real process.
type exitCoder interface {
	ExitCode() int
}

// PID returns the process id of pkg. ok is false when the package is not
// running; err is set only when the device could not be queried.
func (a *ADB) PID(ctx context.Context, pkg string) (int, bool, error) {
	stdout, stderr, err := a.run(ctx, "shell", "pidof", "-s", pkg)
	out := strings.TrimSpace(string(stdout))
	if err != nil {
		var exit exitCoder
		if errors.As(err, &exit) && out == "" && !bytes.Contains(stderr, []byte("error:")) {
			a.logger().Debug("package not running", zap.String("package", pkg))
			return 0, false, nil
		}
		return 0, false, &model.DeviceUnavailableError{Op: "pid", Stderr: strings.TrimSpace(string(stderr)), Err: err}
	}
	if out == "" {
		return 0, false, nil
	}
	pid, convErr := strconv.Atoi(out)
	if convErr != nil || pid <= 0 {
		return 0, false, &model.DeviceUnavailableError{Op: "pid", Err: fmt.Errorf("unexpected pidof output %q", out)}
	}
	return pid, true, nil
}

// Dump returns the whole device buffer for pid in epoch/threadtime format.
func (a *ADB) Dump(ctx context.Context, pid int) ([]byte, error) {
	stdout, stderr, err := a.run(ctx, "logcat", "-v", "epoch", "-v", "threadtime", "-d", "--pid="+strconv.Itoa(pid))
	if err != nil {
		return nil, &model.DeviceUnavailableError{Op: "dump", Stderr: strings.TrimSpace(string(stderr)), Err: err}
	}
	if len(bytes.TrimSpace(stderr)) > 0 {
		a.logger().Debug("logcat stderr", zap.Int("pid", pid), zap.ByteString("stderr", bytes.TrimSpace(stderr)))
	}
	return stdout, nil
}

// Clear empties the device log buffer.
func (a *ADB) Clear(ctx context.Context) error {
	_, stderr, err := a.run(ctx, "logcat", "-c")
	if err != nil {
		return &model.DeviceUnavailableError{Op: "clear", Stderr: strings.TrimSpace(string(stderr)), Err: err}
	}
	return nil
}
