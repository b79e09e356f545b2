// Package coverage tracks instrumented method calls against the registry in
// two horizons: the current episode and the cumulative run.
package coverage

import (
	"sort"
	"strconv"

	"go.uber.org/zap"

	"droidlog/internal/model"
	"droidlog/internal/registry"
)

// horizon holds the call counts and the uncalled set of one accounting scope.
type horizon struct {
	calls    map[string]*model.CallRecord
	uncalled map[string]struct{}
}

func newHorizon(ids []string) *horizon {
	h := &horizon{}
	h.reset(ids)
	return h
}

func (h *horizon) reset(ids []string) {
	h.calls = make(map[string]*model.CallRecord)
	h.uncalled = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		h.uncalled[id] = struct{}{}
	}
}

func (h *horizon) record(m model.MethodRecord) {
	rec, ok := h.calls[m.ID]
	if !ok {
		rec = &model.CallRecord{MethodID: m.ID, FileName: m.FileName, Package: m.Package}
		h.calls[m.ID] = rec
	}
	rec.Count++
	delete(h.uncalled, m.ID)
}

func (h *horizon) callRecords() []model.CallRecord {
	out := make([]model.CallRecord, 0, len(h.calls))
	for _, rec := range h.calls {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].MethodID, out[j].MethodID) })
	return out
}

func (h *horizon) uncalledIDs() []string {
	out := make([]string, 0, len(h.uncalled))
	for id := range h.uncalled {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i], out[j]) })
	return out
}

// Tracker counts calls per method. It is owned by one polling loop and is
// not safe for concurrent use.
type Tracker struct {
	reg        *registry.Registry
	logger     *zap.Logger
	ids        []string
	episode    *horizon
	cumulative *horizon
}

// New returns a tracker with both horizons empty. A nil logger discards
// diagnostics.
func New(reg *registry.Registry, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := reg.IDs()
	return &Tracker{
		reg:        reg,
		logger:     logger,
		ids:        ids,
		episode:    newHorizon(ids),
		cumulative: newHorizon(ids),
	}
}

// Registry returns the registry the tracker counts against.
func (t *Tracker) Registry() *registry.Registry { return t.reg }

// RecordCall counts one call in both horizons. Events for methods missing
// from the registry are rejected with *model.UnknownMethodError and leave
// the tracker untouched.
func (t *Tracker) RecordCall(ev *model.InstrumentationEvent) error {
	m, ok := t.reg.Lookup(ev.MethodID)
	if !ok {
		return &model.UnknownMethodError{MethodID: ev.MethodID, Index: ev.Index}
	}
	t.episode.record(m)
	t.cumulative.record(m)
	return nil
}

// Instrumented returns the number of instrumented methods.
func (t *Tracker) Instrumented() int { return len(t.ids) }

// EpisodeCalled returns the number of distinct methods called this episode.
func (t *Tracker) EpisodeCalled() int { return len(t.episode.calls) }

// CumulativeCalled returns the number of distinct methods called overall.
func (t *Tracker) CumulativeCalled() int { return len(t.cumulative.calls) }

// EpisodePercentage returns episode coverage; ok is false when nothing is
// instrumented.
func (t *Tracker) EpisodePercentage() (float64, bool) {
	return t.percentage(len(t.episode.calls))
}

// CumulativePercentage returns cumulative coverage; ok is false when nothing
// is instrumented.
func (t *Tracker) CumulativePercentage() (float64, bool) {
	return t.percentage(len(t.cumulative.calls))
}

func (t *Tracker) percentage(called int) (float64, bool) {
	if len(t.ids) == 0 {
		return 0, false
	}
	return float64(called) / float64(len(t.ids)) * 100, true
}

// EpisodeCalls returns the episode call records ordered by method id.
func (t *Tracker) EpisodeCalls() []model.CallRecord { return t.episode.callRecords() }

// CumulativeCalls returns the cumulative call records ordered by method id.
func (t *Tracker) CumulativeCalls() []model.CallRecord { return t.cumulative.callRecords() }

// UncalledEpisode returns the ids not called this episode.
func (t *Tracker) UncalledEpisode() []string { return t.episode.uncalledIDs() }

// UncalledCumulative returns the ids never called since the last cumulative reset.
func (t *Tracker) UncalledCumulative() []string { return t.cumulative.uncalledIDs() }

// ResetEpisode starts a new episode. Cumulative state is kept.
func (t *Tracker) ResetEpisode() {
	t.logger.Debug("reset episode coverage", zap.Int("called", len(t.episode.calls)))
	t.episode.reset(t.ids)
}

// ResetCumulative clears cumulative state. Episode state is kept.
func (t *Tracker) ResetCumulative() {
	t.logger.Debug("reset cumulative coverage", zap.Int("called", len(t.cumulative.calls)))
	t.cumulative.reset(t.ids)
}

// Snapshot derives a CoverageSnapshot from the current state.
func (t *Tracker) Snapshot() model.CoverageSnapshot {
	snap := model.CoverageSnapshot{
		Instrumented:       len(t.ids),
		EpisodeCalled:      len(t.episode.calls),
		CumulativeCalled:   len(t.cumulative.calls),
		UncalledEpisode:    t.episode.uncalledIDs(),
		UncalledCumulative: t.cumulative.uncalledIDs(),
	}
	if p, ok := t.EpisodePercentage(); ok {
		snap.EpisodePercentage = &p
	}
	if p, ok := t.CumulativePercentage(); ok {
		snap.CumulativePercentage = &p
	}
	return snap
}

func lessID(a, b string) bool {
	x, errA := strconv.ParseUint(a, 10, 64)
	y, errB := strconv.ParseUint(b, 10, 64)
	if errA != nil || errB != nil {
		return a < b
	}
	return x < y
}
