// Package store retains classified records in ingestion order with an
// explicit eviction policy, and filters them for callers.
package store

import (
	"strings"
	"time"

	"droidlog/internal/model"
)

// History is a ring of records. When full, appending evicts the oldest
// record. A non-positive capacity keeps everything.
type History struct {
	data     []model.Record
	start    int
	length   int
	capacity int
	evicted  int64
}

// NewHistory returns an empty history holding at most capacity records.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		return &History{}
	}
	return &History{data: make([]model.Record, capacity), capacity: capacity}
}

// Append stores rec, evicting the oldest record when the ring is full.
func (h *History) Append(rec model.Record) {
	if h.capacity == 0 {
		h.data = append(h.data, rec)
		h.length++
		return
	}
	idx := (h.start + h.length) % h.capacity
	h.data[idx] = rec
	if h.length < h.capacity {
		h.length++
		return
	}
	h.start = (h.start + 1) % h.capacity
	h.evicted++
}

// Len returns the number of retained records.
func (h *History) Len() int { return h.length }

// Capacity returns the retention limit, 0 for unbounded.
func (h *History) Capacity() int { return h.capacity }

// Evicted returns how many records have been dropped so far.
func (h *History) Evicted() int64 { return h.evicted }

func (h *History) at(i int) model.Record {
	if h.capacity == 0 {
		return h.data[i]
	}
	return h.data[(h.start+i)%h.capacity]
}

// Slice returns the retained records, oldest first.
func (h *History) Slice() []model.Record {
	if h.length == 0 {
		return nil
	}
	result := make([]model.Record, h.length)
	for i := 0; i < h.length; i++ {
		result[i] = h.at(i)
	}
	return result
}

// Since returns the retained records whose index is greater than index.
func (h *History) Since(index int64) []model.Record {
	var result []model.Record
	for i := 0; i < h.length; i++ {
		if rec := h.at(i); rec.GetIndex() > index {
			result = append(result, rec)
		}
	}
	return result
}

// Instrumentation returns the retained instrumentation events, oldest first.
func (h *History) Instrumentation() []*model.InstrumentationEvent {
	var result []*model.InstrumentationEvent
	for i := 0; i < h.length; i++ {
		if ev, ok := h.at(i).(*model.InstrumentationEvent); ok {
			result = append(result, ev)
		}
	}
	return result
}

// Last returns the newest record.
func (h *History) Last() (model.Record, bool) {
	if h.length == 0 {
		return nil, false
	}
	return h.at(h.length - 1), true
}

// Query narrows Select. Zero values disable a filter.
type Query struct {
	MinSeverity model.Severity
	PID         string
	Kind        model.RecordKind
	Contains    string
	After       *time.Time
	Before      *time.Time
	Limit       int
}

// Select returns the retained records matching q, oldest first. With a
// Limit, the newest Limit matches are kept.
func (h *History) Select(q Query) []model.Record {
	var result []model.Record
	for i := 0; i < h.length; i++ {
		rec := h.at(i)
		if q.matches(rec) {
			result = append(result, rec)
		}
	}
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[len(result)-q.Limit:]
	}
	return result
}

func (q Query) matches(rec model.Record) bool {
	line := rec.Line()
	if q.MinSeverity != "" && line.Severity.Rank() < q.MinSeverity.Rank() {
		return false
	}
	if q.PID != "" && line.PID != q.PID {
		return false
	}
	if q.Kind != "" && rec.Kind() != q.Kind {
		return false
	}
	if q.Contains != "" && !strings.Contains(line.Message, q.Contains) {
		return false
	}
	if q.After != nil && line.Time.Before(*q.After) {
		return false
	}
	if q.Before != nil && line.Time.After(*q.Before) {
		return false
	}
	return true
}
