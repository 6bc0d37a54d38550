package dash

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"

	"abrstream/internal/loader"
	"abrstream/internal/logger"
	"abrstream/internal/manifest"
)

// ErrParse marks a manifest document that was fetched but could not be
// understood. Parse failures are terminal for the attempt; only the transfer
// itself is retried.
var ErrParse = errors.New("manifest parse error")

// Client fetches and parses manifests. Transfers go through the shared
// download pipeline so manifest requests get the same retry policy and
// metrics as media requests.
type Client struct {
	loader *loader.Loader
	logger logger.Logger
}

// NewClient creates a manifest client on top of the download pipeline.
func NewClient(l *loader.Loader, log logger.Logger) *Client {
	return &Client{loader: l, logger: log}
}

// LoadManifest fetches the document at mpdURL, parses it and converts it to
// the pre-normalized form. The returned location is the URL every relative
// reference in the document resolves against, and the URL the next refresh
// should use; it differs from mpdURL when the document carries a Location
// element.
func (c *Client) LoadManifest(ctx context.Context, mpdURL string) (*manifest.RawManifest, string, error) {
	c.logger.Debugf("Fetching MPD from URL: %s", mpdURL)

	resp, err := c.loader.Fetch(ctx, loader.Request{URL: mpdURL, MediaType: "manifest"})
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch MPD from %s: %w", mpdURL, err)
	}

	var mpd MPD
	if err := xml.Unmarshal(resp.Data, &mpd); err != nil {
		c.logger.Errorf("Failed to unmarshal MPD XML from %s: %v", mpdURL, err)
		return nil, "", fmt.Errorf("%w: %v", ErrParse, err)
	}

	location := mpdURL
	if mpd.Location != "" {
		resolved, err := resolveLocation(mpdURL, mpd.Location)
		if err != nil {
			return nil, "", fmt.Errorf("%w: bad Location element: %v", ErrParse, err)
		}
		location = resolved
		c.logger.Debugf("MPD announces new location: %s", location)
	}

	raw, err := ToRaw(&mpd)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrParse, err)
	}

	c.logger.Debugf("Successfully fetched and parsed MPD %q (type=%s, %d periods)", raw.ID, mpd.Type, len(raw.Periods))
	return raw, location, nil
}

func resolveLocation(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// ToRaw converts a parsed MPD document into the pre-normalized manifest
// shape. Attribute cascading and validation stay with the normalizer; only
// syntax-level work happens here, like resolving implicit timeline starts.
func ToRaw(mpd *MPD) (*manifest.RawManifest, error) {
	duration, err := durationSeconds(mpd.MediaPresentationDuration)
	if err != nil {
		return nil, fmt.Errorf("bad mediaPresentationDuration: %v", err)
	}
	delay, err := durationSeconds(mpd.SuggestedPresentationDelay)
	if err != nil {
		return nil, fmt.Errorf("bad suggestedPresentationDelay: %v", err)
	}
	updatePeriod, err := durationSeconds(mpd.MinimumUpdatePeriod)
	if err != nil {
		return nil, fmt.Errorf("bad minimumUpdatePeriod: %v", err)
	}
	availability, err := parseDateTime(mpd.AvailabilityStartTime)
	if err != nil {
		return nil, fmt.Errorf("bad availabilityStartTime: %v", err)
	}

	raw := &manifest.RawManifest{
		ID:                         mpd.ID,
		Type:                       mpd.Type,
		BaseURLs:                   mpd.BaseURLs,
		Duration:                   duration,
		SuggestedPresentationDelay: delay,
		AvailabilityStartTime:      availability,
		MinimumUpdatePeriod:        updatePeriod,
	}

	for _, p := range mpd.Periods {
		start, err := durationSeconds(p.Start)
		if err != nil {
			return nil, fmt.Errorf("period %q: bad start: %v", p.ID, err)
		}
		pdur, err := durationSeconds(p.Duration)
		if err != nil {
			return nil, fmt.Errorf("period %q: bad duration: %v", p.ID, err)
		}

		rawPeriod := manifest.RawPeriod{
			ID:       p.ID,
			Start:    start,
			Duration: pdur,
			BaseURL:  p.BaseURL,
		}

		for _, as := range p.Sets {
			rawAdaptation := manifest.RawAdaptation{
				ID:          as.ID,
				ContentType: as.ContentType,
				Lang:        as.Lang,
				MimeType:    as.MimeType,
				Codecs:      as.Codecs,
				FrameRate:   as.FrameRate,
				Template:    rawTemplate(as.SegmentTemplate),
			}
			for _, rep := range as.Representations {
				rawAdaptation.Representations = append(rawAdaptation.Representations, manifest.RawRepresentation{
					ID:        rep.ID,
					Bandwidth: rep.Bandwidth,
					Codecs:    rep.Codecs,
					MimeType:  rep.MimeType,
					FrameRate: rep.FrameRate,
					Width:     rep.Width,
					Height:    rep.Height,
					Template:  rawTemplate(rep.SegmentTemplate),
				})
			}
			rawPeriod.Adaptations = append(rawPeriod.Adaptations, rawAdaptation)
		}

		raw.Periods = append(raw.Periods, rawPeriod)
	}

	return raw, nil
}

// rawTemplate maps one SegmentTemplate element, expanding implicit timeline
// start times into explicit ones.
func rawTemplate(st *SegmentTemplate) *manifest.RawTemplate {
	if st == nil {
		return nil
	}
	t := &manifest.RawTemplate{
		Timescale:      st.Timescale,
		Duration:       st.Duration,
		StartNumber:    st.StartNumber,
		Media:          st.Media,
		Initialization: st.Initialization,
	}
	if st.Timeline != nil {
		var next int64
		for _, s := range st.Timeline.Segments {
			start := next
			if s.T != nil {
				start = *s.T
			}
			repeat := s.R
			if repeat < 0 {
				repeat = 0
			}
			t.Timeline = append(t.Timeline, manifest.RawTimelineEntry{T: start, D: s.D, R: repeat})
			next = start + s.D*int64(repeat+1)
		}
	}
	return t
}
