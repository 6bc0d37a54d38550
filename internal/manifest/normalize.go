package manifest

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"

	"abrstream/internal/segments"
)

// ErrNoPlayableRepresentation is returned when codec filtering leaves an
// adaptation with nothing to play. The whole manifest is rejected in that
// case; carrying a partially valid manifest forward would corrupt later
// representation selection.
var ErrNoPlayableRepresentation = errors.New("adaptation has no playable representation")

// ErrMissingSegmentIndex is returned when a representation carries neither a
// timeline nor a usable template.
var ErrMissingSegmentIndex = errors.New("representation has no segment index information")

// ErrEmptyManifest is returned when normalization finds no periods.
var ErrEmptyManifest = errors.New("manifest has no periods")

// CodecSupport reports whether the playback platform can decode the given
// codec string.
type CodecSupport func(codec string) bool

// DefaultCodecSupport accepts the codec families common on browser and
// set-top platforms.
func DefaultCodecSupport(codec string) bool {
	if codec == "" {
		return true
	}
	for _, prefix := range []string{"avc1", "avc3", "hvc1", "hev1", "vp09", "vp9", "av01", "mp4a", "opus", "vorbis", "ec-3", "ac-3", "wvtt", "stpp"} {
		if strings.HasPrefix(codec, prefix) {
			return true
		}
	}
	return false
}

// Normalize turns a pre-normalized manifest into the canonical in-memory
// model: it assigns a stable id if absent, resolves base URLs against
// location, classifies liveness, cascades inherited attributes, applies
// defaults (timescale 1, bitrate 1), repairs the known non-compliant
// mp4a.40.02 codec string, sorts representations ascending by bitrate, drops
// unsupported adaptation types and codec-unsupported representations, and
// fails if any adaptation is left empty.
func Normalize(raw *RawManifest, location string, support CodecSupport) (*Manifest, error) {
	if raw == nil || len(raw.Periods) == 0 {
		return nil, ErrEmptyManifest
	}
	if support == nil {
		support = DefaultCodecSupport
	}

	m := &Manifest{
		ID:                         raw.ID,
		IsLive:                     raw.Type == "dynamic",
		Duration:                   raw.Duration,
		SuggestedPresentationDelay: raw.SuggestedPresentationDelay,
		AvailabilityStartTime:      raw.AvailabilityStartTime,
		MinimumUpdatePeriod:        raw.MinimumUpdatePeriod,
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	m.BaseURLs = resolveBaseURLs(raw.BaseURLs, location)

	for pi := range raw.Periods {
		rp := &raw.Periods[pi]
		period := &Period{
			ID:       rp.ID,
			Start:    rp.Start,
			Duration: rp.Duration,
		}
		if period.ID == "" {
			period.ID = fmt.Sprintf("period-%d", pi)
		}

		base := m.BaseURLs[0]
		if rp.BaseURL != "" {
			base = resolveAgainst(base, rp.BaseURL)
		}

		for ai := range rp.Adaptations {
			ra := &rp.Adaptations[ai]
			mt := MediaType(ra.ContentType)
			if mt != MediaAudio && mt != MediaVideo && mt != MediaText {
				continue
			}

			ad := &Adaptation{
				ID:   ra.ID,
				Type: mt,
				Lang: ra.Lang,
			}
			if ad.ID == "" {
				ad.ID = fmt.Sprintf("%s-adaptation-%d-%d", ra.ContentType, pi, ai)
			}

			for ri := range ra.Representations {
				rep, err := normalizeRepresentation(ra, &ra.Representations[ri], base, support)
				if err != nil {
					return nil, fmt.Errorf("adaptation %s: %w", ad.ID, err)
				}
				if rep == nil {
					continue // unsupported codec
				}
				ad.Representations = append(ad.Representations, rep)
			}

			if len(ad.Representations) == 0 {
				return nil, fmt.Errorf("adaptation %s (%s): %w", ad.ID, ad.Type, ErrNoPlayableRepresentation)
			}

			sort.SliceStable(ad.Representations, func(i, j int) bool {
				return ad.Representations[i].Bitrate < ad.Representations[j].Bitrate
			})
			ad.Bitrates = make([]int, len(ad.Representations))
			for i, r := range ad.Representations {
				ad.Bitrates[i] = r.Bitrate
			}

			period.Adaptations = append(period.Adaptations, ad)
		}

		m.Periods = append(m.Periods, period)
	}

	return m, nil
}

func normalizeRepresentation(ra *RawAdaptation, rr *RawRepresentation, base string, support CodecSupport) (*Representation, error) {
	codecs := rr.Codecs
	if codecs == "" {
		codecs = ra.Codecs
	}
	codecs = fixCodec(codecs)
	if !support(codecs) {
		return nil, nil
	}

	mime := rr.MimeType
	if mime == "" {
		mime = ra.MimeType
	}

	bitrate := rr.Bandwidth
	if bitrate <= 0 {
		bitrate = 1
	}

	rep := &Representation{
		ID:       rr.ID,
		Bitrate:  bitrate,
		Codecs:   codecs,
		MimeType: mime,
		Width:    rr.Width,
		Height:   rr.Height,
	}

	tmpl := rr.Template
	if tmpl == nil {
		tmpl = ra.Template
	}
	if tmpl == nil {
		return nil, fmt.Errorf("representation %s: %w", rr.ID, ErrMissingSegmentIndex)
	}

	timescale := tmpl.Timescale
	if timescale <= 0 {
		timescale = 1
	}

	switch {
	case len(tmpl.Timeline) > 0:
		entries := make([]segments.TimelineEntry, len(tmpl.Timeline))
		for i, s := range tmpl.Timeline {
			entries[i] = segments.TimelineEntry{Start: s.T, Dur: s.D, Repeat: s.R}
		}
		tl := segments.NewTimeline(timescale, entries)
		tl.SetURLTemplate(base, tmpl.Media, tmpl.Initialization, rep.ID, rep.Bitrate)
		rep.Index = tl
	case tmpl.Duration > 0:
		startNumber := tmpl.StartNumber
		if startNumber == 0 {
			startNumber = 1
		}
		rep.Index = segments.NewTemplate(segments.TemplateConfig{
			Timescale:   timescale,
			Duration:    tmpl.Duration,
			StartNumber: startNumber,
			Media:       tmpl.Media,
			InitURL:     tmpl.Initialization,
			BaseURL:     base,
			RepID:       rep.ID,
			Bandwidth:   rep.Bitrate,
		})
	default:
		return nil, fmt.Errorf("representation %s: %w", rr.ID, ErrMissingSegmentIndex)
	}

	return rep, nil
}

// fixCodec repairs the one known non-compliant codec string in the wild.
func fixCodec(codec string) string {
	if codec == "mp4a.40.02" {
		return "mp4a.40.2"
	}
	return codec
}

func resolveBaseURLs(raw []string, location string) []string {
	if len(raw) == 0 {
		return []string{location}
	}
	out := make([]string, len(raw))
	for i, b := range raw {
		out[i] = resolveAgainst(location, b)
	}
	return out
}

func resolveAgainst(base, ref string) string {
	bu, err := url.Parse(base)
	if err != nil {
		return ref
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return bu.ResolveReference(ru).String()
}
