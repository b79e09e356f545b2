package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity captures the logcat priority of a line.
type Severity string

const (
	SeverityVerbose Severity = "VERBOSE"
	SeverityDebug   Severity = "DEBUG"
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
	SeverityFatal   Severity = "FATAL"
	SeveritySilent  Severity = "SILENT"
	SeverityUnknown Severity = "UNKNOWN"
)

var severityTags = map[string]Severity{
	"V": SeverityVerbose,
	"D": SeverityDebug,
	"I": SeverityInfo,
	"W": SeverityWarning,
	"E": SeverityError,
	"F": SeverityFatal,
	"S": SeveritySilent,
}

// ParseSeverity maps a logcat priority letter (or a full severity name) to a
// Severity. Unrecognised tokens map to SeverityUnknown.
func ParseSeverity(tag string) Severity {
	tag = strings.TrimSpace(tag)
	if sev, ok := severityTags[tag]; ok {
		return sev
	}
	switch sev := Severity(strings.ToUpper(tag)); sev {
	case SeverityVerbose, SeverityDebug, SeverityInfo, SeverityWarning,
		SeverityError, SeverityFatal, SeveritySilent:
		return sev
	}
	return SeverityUnknown
}

// Letter returns the single-letter logcat tag, or "?" for unknown severities.
func (s Severity) Letter() string {
	for letter, sev := range severityTags {
		if sev == s {
			return letter
		}
	}
	return "?"
}

// Rank orders severities from VERBOSE (1) to SILENT (7). UNKNOWN ranks 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityVerbose:
		return 1
	case SeverityDebug:
		return 2
	case SeverityInfo:
		return 3
	case SeverityWarning:
		return 4
	case SeverityError:
		return 5
	case SeverityFatal:
		return 6
	case SeveritySilent:
		return 7
	}
	return 0
}

// LogLine is one classified device log line. Index is assigned in ingestion
// order by the reader and is never reused.
type LogLine struct {
	Index    int64     `json:"index"`
	Time     time.Time `json:"time"`
	PID      string    `json:"pid"`
	TID      string    `json:"tid"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Raw      string    `json:"-"`
}

func (l *LogLine) Kind() RecordKind      { return KindPlain }
func (l *LogLine) Line() *LogLine        { return l }
func (l *LogLine) GetIndex() int64       { return l.Index }
func (l *LogLine) GetTime() time.Time    { return l.Time }
func (l *LogLine) GetMessage() string    { return l.Message }
func (l *LogLine) GetSeverity() Severity { return l.Severity }
func (l *LogLine) sealed()               {}

func (l *LogLine) String() string {
	return fmt.Sprintf("%d;%s;%s;%s;%s;%s", l.Index, l.Time.Format(time.RFC3339Nano), l.PID, l.TID, l.Severity, l.Message)
}

// InstrumentationEvent is a LogLine whose message follows the instrumentation
// marker protocol: marker;;methodId;;fileName;;methodName;;params...;;callTimeMillis.
type InstrumentationEvent struct {
	LogLine
	MethodID   string    `json:"method_id"`
	FileName   string    `json:"file_name"`
	MethodName string    `json:"method_name"`
	Parameters []string  `json:"parameters"`
	CallTime   time.Time `json:"call_time"`
}

func (e *InstrumentationEvent) Kind() RecordKind { return KindInstrumentation }
func (e *InstrumentationEvent) Line() *LogLine   { return &e.LogLine }

func (e *InstrumentationEvent) String() string {
	return fmt.Sprintf("%s;%s;%s;%s;%v;%s", e.LogLine.String(), e.MethodID, e.FileName, e.MethodName, e.Parameters, e.CallTime.Format(time.RFC3339Nano))
}
