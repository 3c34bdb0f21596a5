// Package report aggregates accepted and dropped counts for a run.
package report

import (
	"encoding/json"
	"sort"
	"sync"
)

// Summary is the end-of-run accounting.
type Summary struct {
	AcceptedCount   int            `json:"accepted_count"`
	DroppedCount    int            `json:"dropped_count"`
	DroppedByReason map[string]int `json:"dropped_by_reason,omitempty"`
}

// Total returns the number of events seen.
func (s Summary) Total() int {
	return s.AcceptedCount + s.DroppedCount
}

// Reasons returns the drop reasons in sorted order.
func (s Summary) Reasons() []string {
	reasons := make([]string, 0, len(s.DroppedByReason))
	for r := range s.DroppedByReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	return reasons
}

// String renders the summary as compact JSON.
func (s Summary) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Reporter counts outcomes. Counters only ever increase. Safe for concurrent use.
type Reporter struct {
	mu       sync.Mutex
	accepted int
	dropped  int
	byReason map[string]int
}

// New creates an empty Reporter.
func New() *Reporter {
	return &Reporter{byReason: make(map[string]int)}
}

// Record adds one outcome. reason is ignored for accepted events.
func (r *Reporter) Record(accepted bool, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if accepted {
		r.accepted++
		return
	}
	r.dropped++
	if reason != "" {
		r.byReason[reason]++
	}
}

// Summary returns a snapshot of the counters.
func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		AcceptedCount: r.accepted,
		DroppedCount:  r.dropped,
	}
	if len(r.byReason) > 0 {
		s.DroppedByReason = make(map[string]int, len(r.byReason))
		for k, v := range r.byReason {
			s.DroppedByReason[k] = v
		}
	}
	return s
}
