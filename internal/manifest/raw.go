package manifest

import "time"

// The Raw* types are the pre-normalized manifest shape handed over by a
// transport collaborator after parsing. They deliberately mirror the source
// document: attributes may be absent, inherited values are not yet cascaded
// and nothing has been validated.

// RawManifest is the pre-normalized root.
type RawManifest struct {
	ID       string
	Type     string // "static" or "dynamic"
	BaseURLs []string
	// Duration is the overall presentation duration in seconds; zero means
	// unbounded (live).
	Duration                   float64
	SuggestedPresentationDelay float64
	AvailabilityStartTime      time.Time
	MinimumUpdatePeriod        float64
	Periods                    []RawPeriod
}

// RawPeriod is one pre-normalized period.
type RawPeriod struct {
	ID          string
	Start       float64
	Duration    float64
	BaseURL     string
	Adaptations []RawAdaptation
}

// RawAdaptation is one pre-normalized adaptation set. Codec, mime type and
// frame rate may live here instead of on the representations and cascade
// down during normalization.
type RawAdaptation struct {
	ID              string
	ContentType     string
	Lang            string
	MimeType        string
	Codecs          string
	FrameRate       string
	Template        *RawTemplate
	Representations []RawRepresentation
}

// RawRepresentation is one pre-normalized quality variant.
type RawRepresentation struct {
	ID        string
	Bandwidth int
	Codecs    string
	MimeType  string
	FrameRate string
	Width     int
	Height    int
	Template  *RawTemplate
}

// RawTemplate is the raw segment addressing description: an explicit timeline
// when Timeline is non-empty, formula-based otherwise.
type RawTemplate struct {
	Timescale      int64
	Duration       int64
	StartNumber    uint64
	Media          string
	Initialization string
	Timeline       []RawTimelineEntry
}

// RawTimelineEntry is one timeline run: start tick, duration, repeat count.
type RawTimelineEntry struct {
	T int64
	D int64
	R int
}
