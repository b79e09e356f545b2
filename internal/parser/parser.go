// Package parser classifies raw logcat lines into typed records.
package parser

import (
	"math"
	"strconv"
	"strings"
	"time"

	"droidlog/internal/model"
)

const (
	// InstrumentationMarker prefixes messages written by instrumented methods.
	InstrumentationMarker = "InstruAPK"
	// FieldSeparator splits the fields of an instrumentation message.
	FieldSeparator = ";;"

	continuationPrefix = "--"
	// marker, method id, file, method name, call time
	minInstrumentationFields = 5
)

// Outcome describes what happened to a line besides the returned record.
type Outcome struct {
	// Skipped is set for blank lines and logcat section markers; no record
	// is produced and the caller must not consume an index.
	Skipped bool
	// Malformed is set when the line was only partially understood.
	Malformed *model.MalformedLineError
}

// Classify turns one newline-stripped logcat line (format: -v epoch -v
// threadtime) into a record carrying index. It never fails: unparsable
// parts degrade to zero values.
func Classify(raw string, index int64) (model.Record, Outcome) {
	if strings.TrimSpace(raw) == "" || strings.HasPrefix(raw, continuationPrefix) {
		return nil, Outcome{Skipped: true}
	}

	fields := splitFields(raw, 5)
	line := model.LogLine{
		Index:    index,
		Time:     parseEpochSeconds(fields[0]),
		PID:      fields[1],
		TID:      fields[2],
		Severity: model.ParseSeverity(fields[3]),
		Message:  collapseWhitespace(fields[4]),
		Raw:      raw,
	}

	if !strings.HasPrefix(line.Message, InstrumentationMarker) {
		return &line, Outcome{}
	}

	event, reason := parseInstrumentation(line)
	if reason != "" {
		return &line, Outcome{Malformed: &model.MalformedLineError{Index: index, Raw: raw, Reason: reason}}
	}
	return event, Outcome{}
}

// parseInstrumentation splits marker;;id;;file;;method;;params...;;millis.
func parseInstrumentation(line model.LogLine) (*model.InstrumentationEvent, string) {
	parts := strings.Split(line.Message, FieldSeparator)
	if len(parts) < minInstrumentationFields {
		return nil, "instrumentation message has " + strconv.Itoa(len(parts)) + " fields, want at least " + strconv.Itoa(minInstrumentationFields)
	}

	methodID := strings.TrimSpace(parts[1])
	if methodID == "" {
		return nil, "instrumentation message has an empty method id"
	}

	millis, err := strconv.ParseInt(strings.TrimSpace(parts[len(parts)-1]), 10, 64)
	if err != nil {
		return nil, "instrumentation call time is not an integer"
	}

	params := make([]string, 0, len(parts)-minInstrumentationFields)
	params = append(params, parts[4:len(parts)-1]...)

	return &model.InstrumentationEvent{
		LogLine:    line,
		MethodID:   methodID,
		FileName:   parts[2],
		MethodName: parts[3],
		Parameters: params,
		CallTime:   time.UnixMilli(millis),
	}, ""
}

// splitFields splits s on whitespace into at most n fields; the last field
// keeps the untouched remainder. Missing fields are empty strings.
func splitFields(s string, n int) []string {
	out := make([]string, n)
	rest := strings.TrimSpace(s)
	for i := 0; i < n-1 && rest != ""; i++ {
		end := strings.IndexFunc(rest, isSpace)
		if end < 0 {
			out[i] = rest
			rest = ""
			break
		}
		out[i] = rest[:end]
		rest = strings.TrimLeftFunc(rest[end:], isSpace)
	}
	out[n-1] = rest
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// parseEpochSeconds parses "1651079062.458". Anything else is the zero time.
func parseEpochSeconds(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 || secs > math.MaxInt64/1e9 {
		return time.Time{}
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e3))*int64(time.Millisecond))
}
