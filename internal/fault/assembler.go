// Package fault groups contiguous crash-shaped log lines into Fault records.
package fault

import (
	"strings"

	"droidlog/internal/model"
)

// State is the assembler state.
type State int

const (
	// StateNormal waits for a line that opens a fault block.
	StateNormal State = iota
	// StateCollecting appends stack lines to the pending block.
	StateCollecting
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateCollecting:
		return "COLLECTING"
	default:
		return "UNKNOWN"
	}
}

// Assembler is a two-state machine over the classified line stream. It is
// owned by a single reader and is not safe for concurrent use.
type Assembler struct {
	state                State
	pending              []model.Record
	startKeywords        []string
	continuationKeywords []string
}

// New returns an assembler for the app identified by appPackage, whose
// "Process: <package>" crash line is treated as part of a fault block.
func New(appPackage string) *Assembler {
	start := make([]string, 0, len(model.FaultTypes))
	for _, ft := range model.FaultTypes {
		start = append(start, ft.Keyword())
	}
	continuation := []string{"Caused by", ": at ", ": ... ", "AndroidRuntime: "}
	if appPackage != "" {
		continuation = append(continuation, "Process: "+appPackage)
	}
	return &Assembler{
		state:                StateNormal,
		startKeywords:        start,
		continuationKeywords: continuation,
	}
}

// State returns the current state.
func (a *Assembler) State() State { return a.state }

// Pending returns the number of lines in the open block.
func (a *Assembler) Pending() int { return len(a.pending) }

// Feed consumes one record and returns the fault it completed, if any. A
// block is only finalized by a non-matching successor; that successor is
// then evaluated as a possible start of the next block.
func (a *Assembler) Feed(rec model.Record) []model.Fault {
	var done []model.Fault

	if a.state == StateCollecting {
		if containsAny(rec.GetMessage(), a.continuationKeywords) {
			a.pending = append(a.pending, rec)
			return nil
		}
		done = append(done, a.close())
	}

	if a.startsFault(rec) {
		a.state = StateCollecting
		a.pending = append(a.pending, rec)
	}
	return done
}

// Flush finalizes and returns the open block, if there is one. It is meant
// for end-of-run reporting; Feed never flushes on its own.
func (a *Assembler) Flush() (model.Fault, bool) {
	if a.state != StateCollecting || len(a.pending) == 0 {
		return model.Fault{}, false
	}
	return a.close(), true
}

// Reset drops the open block without emitting it.
func (a *Assembler) Reset() {
	a.state = StateNormal
	a.pending = nil
}

func (a *Assembler) startsFault(rec model.Record) bool {
	return rec.GetSeverity() == model.SeverityError || containsAny(rec.GetMessage(), a.startKeywords)
}

func (a *Assembler) close() model.Fault {
	f := model.NewFault(a.pending)
	a.pending = nil
	a.state = StateNormal
	return f
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
