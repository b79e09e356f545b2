package model

import (
	"strings"
	"time"
)

// FaultType classifies a fault block by its header.
type FaultType string

const (
	FaultError          FaultType = "ERROR"
	FaultException      FaultType = "EXCEPTION"
	FaultFatalException FaultType = "FATAL_EXCEPTION"
)

// FaultTypes lists every fault type in ascending precedence.
var FaultTypes = []FaultType{FaultError, FaultException, FaultFatalException}

// Keyword returns the message fragment that identifies the fault type.
func (t FaultType) Keyword() string {
	switch t {
	case FaultError:
		return "Error"
	case FaultException:
		return "Exception"
	case FaultFatalException:
		return "FATAL EXCEPTION"
	default:
		return ""
	}
}

// Precedence orders fault types when several keywords match one header.
// Higher wins.
func (t FaultType) Precedence() int {
	switch t {
	case FaultError:
		return 1
	case FaultException:
		return 2
	case FaultFatalException:
		return 3
	default:
		return 0
	}
}

// ClassifyFault derives the fault type of a block from its header line.
func ClassifyFault(header Record) FaultType {
	result := FaultException
	if header.GetSeverity() == SeverityError {
		result = FaultError
	}
	message := header.GetMessage()
	best := 0
	for _, candidate := range FaultTypes {
		if !strings.Contains(message, candidate.Keyword()) {
			continue
		}
		if p := candidate.Precedence(); p > best {
			best = p
			result = candidate
		}
	}
	return result
}

// Fault is a crash or exception block: a header line plus the stack lines
// collected after it.
type Fault struct {
	Header Record    `json:"header"`
	Body   []Record  `json:"body"`
	Type   FaultType `json:"type"`
	Time   time.Time `json:"time"`
}

// NewFault builds a finalized Fault from the lines of a block. lines must not
// be empty; the first line is the header.
func NewFault(lines []Record) Fault {
	header := lines[0]
	body := make([]Record, len(lines)-1)
	copy(body, lines[1:])
	return Fault{
		Header: header,
		Body:   body,
		Type:   ClassifyFault(header),
		Time:   header.GetTime(),
	}
}

// Lines returns the header followed by the body.
func (f Fault) Lines() []Record {
	out := make([]Record, 0, len(f.Body)+1)
	out = append(out, f.Header)
	return append(out, f.Body...)
}
