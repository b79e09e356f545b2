package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"droidlog/internal/model"
)

const maxLineSize = 4 * 1024 * 1024

// Replay serves a captured `logcat -v epoch -v threadtime` file as if it
// were a live device. The file may keep growing while it is read.
type Replay struct {
	Path string
	// FixedPID pins the process id. Zero means the pid of the last
	// parseable line.
	FixedPID int
}

// PID returns the pinned pid or the pid of the newest line. The package name
// is ignored.
func (r *Replay) PID(ctx context.Context, _ string) (int, bool, error) {
	if r.FixedPID > 0 {
		return r.FixedPID, true, nil
	}
	data, err := r.read()
	if err != nil {
		return 0, false, err
	}
	pid := 0
	err = forEachLine(data, func(line []byte) {
		if p, ok := linePID(line); ok {
			pid = p
		}
	})
	if err != nil {
		return 0, false, &model.DeviceUnavailableError{Op: "pid", Err: err}
	}
	return pid, pid > 0, nil
}

// Dump returns the lines of the capture that belong to pid.
func (r *Replay) Dump(ctx context.Context, pid int) ([]byte, error) {
	data, err := r.read()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	err = forEachLine(data, func(line []byte) {
		if p, ok := linePID(line); ok && p == pid {
			out.Write(line)
			out.WriteByte('\n')
		}
	})
	if err != nil {
		return nil, &model.DeviceUnavailableError{Op: "dump", Err: err}
	}
	return out.Bytes(), nil
}

// Clear truncates the capture.
func (r *Replay) Clear(ctx context.Context) error {
	if err := os.Truncate(r.Path, 0); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &model.DeviceUnavailableError{Op: "clear", Err: err}
	}
	return nil
}

// read returns the capture; a capture that does not exist yet is empty.
func (r *Replay) read() ([]byte, error) {
	data, err := os.ReadFile(r.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &model.DeviceUnavailableError{Op: "read replay", Err: err}
	}
	return data, nil
}

// forEachLine calls fn for every newline-terminated line of data. A trailing
// line still being written is left for a later read.
func forEachLine(data []byte, fn func([]byte)) error {
	data = data[:bytes.LastIndexByte(data, '\n')+1]
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		fn(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan replay: %w", err)
	}
	return nil
}

// linePID extracts the pid column of an epoch/threadtime line.
func linePID(line []byte) (int, bool) {
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return 0, false
	}
	if _, err := strconv.ParseFloat(fields[0], 64); err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
