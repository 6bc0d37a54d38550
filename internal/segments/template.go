package segments

import (
	"math"
	"sync"
)

// Template is the formula-based segment index variant: segment existence and
// numbering are computed from elapsed time and a fixed segment duration, not
// stored.
type Template struct {
	mu          sync.RWMutex
	timescale   int64
	duration    int64 // ticks
	startNumber uint64
	media       string
	initURL     string
	baseURL     string
	repID       string
	bandwidth   int
	liveEdge    float64
	hasEdge     bool
}

// TemplateConfig collects the template index fields.
type TemplateConfig struct {
	Timescale   int64
	Duration    int64
	StartNumber uint64
	Media       string
	InitURL     string
	BaseURL     string
	RepID       string
	Bandwidth   int
}

// NewTemplate builds a template index. Timescale defaults to 1; a
// non-positive segment duration leaves the index empty.
func NewTemplate(cfg TemplateConfig) *Template {
	if cfg.Timescale <= 0 {
		cfg.Timescale = 1
	}
	return &Template{
		timescale:   cfg.Timescale,
		duration:    cfg.Duration,
		startNumber: cfg.StartNumber,
		media:       cfg.Media,
		initURL:     cfg.InitURL,
		baseURL:     cfg.BaseURL,
		repID:       cfg.RepID,
		bandwidth:   cfg.Bandwidth,
	}
}

// Replace overwrites the template fields in place. Used by live manifest
// merging so existing holders of the owning representation observe the
// refreshed values.
func (t *Template) Replace(cfg TemplateConfig) {
	if cfg.Timescale <= 0 {
		cfg.Timescale = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timescale = cfg.Timescale
	t.duration = cfg.Duration
	t.startNumber = cfg.StartNumber
	if cfg.Media != "" {
		t.media = cfg.Media
	}
	if cfg.InitURL != "" {
		t.initURL = cfg.InitURL
	}
	if cfg.BaseURL != "" {
		t.baseURL = cfg.BaseURL
	}
}

// Config returns the current template fields.
func (t *Template) Config() TemplateConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TemplateConfig{
		Timescale:   t.timescale,
		Duration:    t.duration,
		StartNumber: t.startNumber,
		Media:       t.media,
		InitURL:     t.initURL,
		BaseURL:     t.baseURL,
		RepID:       t.repID,
		Bandwidth:   t.bandwidth,
	}
}

// NumberFor computes the segment number covering time t in seconds:
// startNumber + floor(t / segmentDuration).
func (t *Template) NumberFor(at float64) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.numberForLocked(at)
}

func (t *Template) numberForLocked(at float64) (uint64, bool) {
	if at < 0 || t.duration <= 0 {
		return 0, false
	}
	idx := uint64(at * float64(t.timescale) / float64(t.duration))
	return t.startNumber + idx, true
}

// SegmentsIn returns every computed segment overlapping [start, end).
func (t *Template) SegmentsIn(start, end float64) []Descriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if start < 0 || end <= start || t.duration <= 0 {
		return nil
	}
	segDur := float64(t.duration) / float64(t.timescale)
	first := uint64(start / segDur)
	last := uint64(math.Ceil(end/segDur)) // exclusive index
	if last <= first {
		last = first + 1
	}

	out := make([]Descriptor, 0, last-first)
	for i := first; i < last; i++ {
		out = append(out, t.descriptorLocked(i))
	}
	return out
}

// Window returns the contiguous run starting at the segment containing
// t-behind and spanning ceil((behind+ahead)/segmentDuration) segments, with a
// minimum of one.
func (t *Template) Window(at, behind, ahead float64) []Descriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.duration <= 0 {
		return nil
	}
	first := at - behind
	if first < 0 {
		first = 0
	}
	segDur := float64(t.duration) / float64(t.timescale)
	firstIdx := uint64(first / segDur)
	count := int(math.Ceil((behind + ahead) / segDur))
	if count < 1 {
		count = 1
	}

	out := make([]Descriptor, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, t.descriptorLocked(firstIdx+uint64(i)))
	}
	return out
}

// SetLiveEdge records the latest computed availability time for live content.
func (t *Template) SetLiveEdge(edge float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.liveEdge = edge
	t.hasEdge = true
}

// LiveEdge reports the latest time known to be available.
func (t *Template) LiveEdge() (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.liveEdge, t.hasEdge
}

// InitDescriptor returns the initialization segment descriptor, when an init
// template is known.
func (t *Template) InitDescriptor() (Descriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.initURL == "" {
		return Descriptor{}, false
	}
	return Descriptor{
		IsInit: true,
		URL:    fillTemplate(t.baseURL, t.initURL, t.repID, t.bandwidth, 0, 0),
	}, true
}

// descriptorLocked builds the descriptor for the i-th segment (zero-based
// from the presentation start).
func (t *Template) descriptorLocked(idx uint64) Descriptor {
	segDur := float64(t.duration) / float64(t.timescale)
	startTicks := int64(idx) * t.duration
	number := t.startNumber + idx
	d := Descriptor{
		Time:     float64(idx) * segDur,
		Duration: segDur,
		Number:   number,
	}
	if t.media != "" {
		d.URL = fillTemplate(t.baseURL, t.media, t.repID, t.bandwidth, number, startTicks)
	}
	return d
}
