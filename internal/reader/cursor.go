package reader

import (
	"bytes"
	"strings"
)

// cursorContext is how many consumed lines a cursor remembers.
const cursorContext = 3

// cursor records how much of one pid's dump has been consumed: the byte
// offset of the consumed prefix and the last lines of that prefix.
type cursor struct {
	offset int
	tail   []string
}

// resync names how a dump was sliced, for diagnostics.
type resync string

const (
	resyncNone     resync = ""
	resyncTrailing resync = "trailing lines unchanged"
	resyncContent  resync = "matched consumed lines"
	resyncRotated  resync = "matched rotated buffer head"
	resyncLost     resync = "no consumed line found"
)

// advance returns the unseen lines of out and the cursor that follows them.
// Only newline-terminated lines are consumed; a partial last line is left for
// the next dump.
func (c cursor) advance(out []byte) ([]string, cursor, resync) {
	complete := out[:bytes.LastIndexByte(out, '\n')+1]
	next := cursor{offset: len(complete), tail: lastLines(complete, cursorContext)}
	if len(next.tail) == 0 {
		next.offset = 0
	}

	if c.offset == 0 {
		return splitLines(complete), next, resyncNone
	}
	if c.offset <= len(complete) && complete[c.offset-1] == '\n' &&
		equalLines(lastLines(complete[:c.offset], len(c.tail)), c.tail) {
		return splitLines(complete[c.offset:]), next, resyncNone
	}

	lines := splitLines(complete)
	if hasSuffix(lines, c.tail) {
		return nil, next, resyncTrailing
	}
	if i := lastIndex(lines, c.tail); i >= 0 {
		return lines[i+len(c.tail):], next, resyncContent
	}
	// Rotation drops the oldest lines, so a surviving part of the tail sits at
	// the head of the buffer.
	for k := 1; k < len(c.tail); k++ {
		if hasPrefix(lines, c.tail[k:]) {
			return lines[len(c.tail)-k:], next, resyncRotated
		}
	}
	return lines, next, resyncLost
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	parts := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\r")
	}
	return parts
}

// lastLines returns the last n lines of a newline-terminated buffer.
func lastLines(b []byte, n int) []string {
	if len(b) == 0 || n <= 0 {
		return nil
	}
	b = bytes.TrimSuffix(b, []byte("\n"))
	out := make([]string, 0, n)
	for len(out) < n {
		i := bytes.LastIndexByte(b, '\n')
		out = append(out, strings.TrimSuffix(string(b[i+1:]), "\r"))
		if i < 0 {
			break
		}
		b = b[:i]
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hasSuffix(lines, tail []string) bool {
	return len(tail) > 0 && len(lines) >= len(tail) && equalLines(lines[len(lines)-len(tail):], tail)
}

func hasPrefix(lines, head []string) bool {
	return len(head) > 0 && len(lines) >= len(head) && equalLines(lines[:len(head)], head)
}

func lastIndex(lines, seq []string) int {
	if len(seq) == 0 {
		return -1
	}
	for i := len(lines) - len(seq); i >= 0; i-- {
		if equalLines(lines[i:i+len(seq)], seq) {
			return i
		}
	}
	return -1
}
