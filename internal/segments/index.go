package segments

import (
	"net/url"
	"strconv"
	"strings"
)

// Descriptor describes one fetchable segment. Descriptors are produced on
// demand by index queries and never stored.
type Descriptor struct {
	// Time is the segment start in seconds of presentation time.
	Time float64
	// Duration is the segment duration in seconds. Negative when unknown.
	Duration float64
	// Number is the segment number for template-addressed content.
	Number uint64
	// URL is the fully resolved URL to fetch the segment from.
	URL string
	// IsInit marks an initialization segment.
	IsInit bool
}

// Index answers temporal segment-existence queries for one representation.
// All times at this boundary are seconds; each implementation converts to its
// own timescale internally.
type Index interface {
	// SegmentsIn returns every segment overlapping [start, end) in ascending
	// time order. A negative start or an empty index yields an empty result.
	SegmentsIn(start, end float64) []Descriptor
	// Window returns the contiguous run of segments beginning at the segment
	// containing t-behind and spanning behind+ahead seconds (at least one
	// segment when any exists at that instant).
	Window(t, behind, ahead float64) []Descriptor
	// LiveEdge reports the latest time known to be available, if any.
	LiveEdge() (float64, bool)
}

// fillTemplate substitutes the DASH identifiers in a media or initialization
// URL template and resolves the result against base.
func fillTemplate(base, tmpl, repID string, bandwidth int, number uint64, time int64) string {
	s := strings.Replace(tmpl, "$RepresentationID$", repID, 1)
	s = strings.Replace(s, "$Bandwidth$", strconv.Itoa(bandwidth), 1)
	s = strings.Replace(s, "$Number$", strconv.FormatUint(number, 10), 1)
	s = strings.Replace(s, "$Time$", strconv.FormatInt(time, 10), 1)

	if base == "" {
		return s
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return s
	}
	ref, err := url.Parse(s)
	if err != nil {
		return s
	}
	return baseURL.ResolveReference(ref).String()
}
