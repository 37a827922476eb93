package crawler

import (
	"net/http"
	"sort"
	"time"
)

// Segment is the canonical URL of one catalog listing.
type Segment string

// SegmentSet is an unordered set of segments.
type SegmentSet map[Segment]struct{}

// NewSegmentSet builds a set from the given segments.
func NewSegmentSet(segments ...Segment) SegmentSet {
	set := make(SegmentSet, len(segments))
	for _, s := range segments {
		set.Add(s)
	}
	return set
}

// Add inserts s.
func (s SegmentSet) Add(seg Segment) {
	s[seg] = struct{}{}
}

// Has reports whether seg is in the set.
func (s SegmentSet) Has(seg Segment) bool {
	_, ok := s[seg]
	return ok
}

// Sorted returns the members in lexical order.
func (s SegmentSet) Sorted() []Segment {
	out := make([]Segment, 0, len(s))
	for seg := range s {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PendingSegments returns the discovered segments that are not yet completed.
func PendingSegments(discovered, completed SegmentSet) SegmentSet {
	pending := make(SegmentSet, len(discovered))
	for seg := range discovered {
		if !completed.Has(seg) {
			pending.Add(seg)
		}
	}
	return pending
}

// FetchRequest captures everything needed to fetch a listing page.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Container is one product card on a listing page.
type Container struct {
	// Signature identifies the card for pagination loop detection.
	Signature string
	// Fragment is the outer HTML of the card.
	Fragment string
}

// SegmentStatus is the outcome of crawling one segment.
type SegmentStatus string

// Segment outcomes.
const (
	SegmentCompleted SegmentStatus = "completed"
	SegmentFailed    SegmentStatus = "failed"
)

// SegmentFailure records why a segment was left incomplete.
type SegmentFailure struct {
	Segment Segment `json:"segment"`
	Error   string  `json:"error"`
}

// SessionReport summarizes one RunSession call.
type SessionReport struct {
	SessionID  string           `json:"session_id"`
	Namespace  string           `json:"namespace"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Discovered int              `json:"discovered"`
	Pending    int              `json:"pending"`
	TotalSaved int              `json:"total_saved"`
	Completed  []Segment        `json:"completed"`
	Failed     []SegmentFailure `json:"failed"`
	Remaining  []Segment        `json:"remaining"`
	Aborted    bool             `json:"aborted"`
}
