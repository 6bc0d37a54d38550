package segments

import (
	"sort"
	"sync"
)

// UnknownDuration marks a timeline entry whose duration has not been observed
// yet. Such entries are placeholders awaiting the next announcement and are
// excluded from range queries.
const UnknownDuration = int64(-1)

// TimelineEntry is one segment run in timescale ticks. A repeat count r means
// the entry expands into r+1 consecutive segments of equal duration.
type TimelineEntry struct {
	Start  int64
	Dur    int64
	Repeat int
}

// Timeline is the explicit-list segment index variant. Entries are kept
// sorted and gap-free by construction; queries binary-search the entry list,
// so a timeline in the millions of entries stays cheap to query.
type Timeline struct {
	mu        sync.RWMutex
	timescale int64
	media     string
	initURL   string
	baseURL   string
	repID     string
	bandwidth int
	entries   []TimelineEntry
}

// NewTimeline builds a timeline index. timescale is ticks per second and
// defaults to 1 when zero or negative.
func NewTimeline(timescale int64, entries []TimelineEntry) *Timeline {
	if timescale <= 0 {
		timescale = 1
	}
	tl := &Timeline{timescale: timescale}
	tl.entries = append(tl.entries, entries...)
	return tl
}

// SetURLTemplate wires the media/init templates used to produce descriptor
// URLs. Timeline-addressed content substitutes $Time$ in the media template.
func (tl *Timeline) SetURLTemplate(baseURL, media, initURL, repID string, bandwidth int) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.baseURL = baseURL
	tl.media = media
	tl.initURL = initURL
	tl.repID = repID
	tl.bandwidth = bandwidth
}

// Timescale returns the index timescale in ticks per second.
func (tl *Timeline) Timescale() int64 {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.timescale
}

// Entries returns a copy of the current entry list.
func (tl *Timeline) Entries() []TimelineEntry {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	out := make([]TimelineEntry, len(tl.entries))
	copy(out, tl.entries)
	return out
}

// Replace swaps the entry list and timescale wholesale. Used by live manifest
// merging, which refreshes an index in place so existing holders of the
// owning representation observe the new data.
func (tl *Timeline) Replace(timescale int64, entries []TimelineEntry) {
	if timescale <= 0 {
		timescale = 1
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.timescale = timescale
	tl.entries = tl.entries[:0]
	tl.entries = append(tl.entries, entries...)
}

// Len reports the number of entries (not expanded segments).
func (tl *Timeline) Len() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return len(tl.entries)
}

// entryEnd returns the end tick of entry i, counting repeat expansion.
// Placeholder entries end where they start.
func entryEnd(e TimelineEntry) int64 {
	if e.Dur == UnknownDuration {
		return e.Start
	}
	return e.Start + e.Dur*int64(e.Repeat+1)
}

// Add appends a freshly observed segment, given in ticks. Announcements are
// expected to arrive in order with duplicates: anything starting before the
// last entry is ignored. An announcement matching the last entry's start
// resolves its duration and appends an unknown-duration placeholder for the
// segment that must follow it; an announcement past the last known end
// resolves a pending placeholder and appends normally.
func (tl *Timeline) Add(start, dur int64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if len(tl.entries) == 0 {
		tl.entries = append(tl.entries, TimelineEntry{Start: start, Dur: dur})
		return
	}

	last := &tl.entries[len(tl.entries)-1]
	if start < last.Start {
		// Stale or duplicate announcement.
		return
	}
	if start == last.Start {
		if last.Repeat > 0 {
			return
		}
		last.Dur = dur
		tl.entries = append(tl.entries, TimelineEntry{Start: start + dur, Dur: UnknownDuration})
		return
	}
	if last.Dur == UnknownDuration {
		last.Dur = start - last.Start
		tl.entries = append(tl.entries, TimelineEntry{Start: start, Dur: dur})
		return
	}
	if start < entryEnd(*last) {
		return
	}
	tl.entries = append(tl.entries, TimelineEntry{Start: start, Dur: dur})
}

// SegmentsIn returns every segment overlapping [start, end) in seconds.
func (tl *Timeline) SegmentsIn(start, end float64) []Descriptor {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	if start < 0 || len(tl.entries) == 0 || end <= start {
		return nil
	}

	ts := float64(tl.timescale)
	startTicks := start * ts
	endTicks := end * ts

	// First entry whose end lies past the range start.
	i := sort.Search(len(tl.entries), func(i int) bool {
		return float64(entryEnd(tl.entries[i])) > startTicks
	})

	var out []Descriptor
	for ; i < len(tl.entries); i++ {
		e := tl.entries[i]
		if float64(e.Start) >= endTicks {
			break
		}
		if e.Dur == UnknownDuration {
			continue
		}
		// Skip repeats entirely before the range start.
		k := 0
		if float64(e.Start) < startTicks {
			k = int((startTicks - float64(e.Start)) / float64(e.Dur))
		}
		for ; k <= e.Repeat; k++ {
			segStart := e.Start + int64(k)*e.Dur
			segEnd := segStart + e.Dur
			if float64(segStart) >= endTicks {
				break
			}
			if float64(segEnd) <= startTicks {
				continue
			}
			out = append(out, tl.descriptor(segStart, e.Dur))
		}
	}
	return out
}

// Window returns the contiguous run of segments covering
// [t-behind, t-behind+behind+ahead) anchored at the segment containing
// t-behind.
func (tl *Timeline) Window(t, behind, ahead float64) []Descriptor {
	first := t - behind
	if first < 0 {
		first = 0
	}
	span := behind + ahead
	if span <= 0 {
		// Instantaneous query: the single segment containing t-behind.
		tl.mu.RLock()
		ts := float64(tl.timescale)
		tl.mu.RUnlock()
		span = 1 / ts
	}
	return tl.SegmentsIn(first, first+span)
}

// LiveEdge reports the end of the last fully known entry.
func (tl *Timeline) LiveEdge() (float64, bool) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	for i := len(tl.entries) - 1; i >= 0; i-- {
		e := tl.entries[i]
		if e.Dur == UnknownDuration {
			continue
		}
		return float64(entryEnd(e)) / float64(tl.timescale), true
	}
	return 0, false
}

// InitDescriptor returns the initialization segment descriptor, when an init
// template is known.
func (tl *Timeline) InitDescriptor() (Descriptor, bool) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	if tl.initURL == "" {
		return Descriptor{}, false
	}
	return Descriptor{
		IsInit: true,
		URL:    fillTemplate(tl.baseURL, tl.initURL, tl.repID, tl.bandwidth, 0, 0),
	}, true
}

func (tl *Timeline) descriptor(startTicks, durTicks int64) Descriptor {
	ts := float64(tl.timescale)
	d := Descriptor{
		Time:     float64(startTicks) / ts,
		Duration: float64(durTicks) / ts,
	}
	if tl.media != "" {
		d.URL = fillTemplate(tl.baseURL, tl.media, tl.repID, tl.bandwidth, 0, startTicks)
	}
	return d
}
