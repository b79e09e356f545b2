// Package model provides the record, fault and coverage types shared by the
// log signal pipeline.
package model

import "time"

// RecordKind discriminates the two record variants produced by the classifier.
type RecordKind string

const (
	// KindPlain is an ordinary log line.
	KindPlain RecordKind = "plain"
	// KindInstrumentation is a line emitted by build-time method instrumentation.
	KindInstrumentation RecordKind = "instrumentation"
)

// Record is a classified log line. It is implemented only by *LogLine and
// *InstrumentationEvent; consumers are expected to switch over both.
type Record interface {
	Kind() RecordKind
	// Line returns the common log line fields.
	Line() *LogLine
	GetIndex() int64
	GetTime() time.Time
	GetMessage() string
	GetSeverity() Severity

	sealed()
}
