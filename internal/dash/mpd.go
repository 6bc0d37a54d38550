package dash

import (
	"encoding/xml"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MPD is the root element of a Media Presentation Description.
type MPD struct {
	XMLName                    xml.Name        `xml:"MPD"`
	ID                         string          `xml:"id,attr"`
	Type                       string          `xml:"type,attr"`
	Profiles                   string          `xml:"profiles,attr"`
	AvailabilityStartTime      string          `xml:"availabilityStartTime,attr"`
	PublishTime                string          `xml:"publishTime,attr"`
	MediaPresentationDuration  string          `xml:"mediaPresentationDuration,attr"`
	MinimumUpdatePeriod        string          `xml:"minimumUpdatePeriod,attr"`
	SuggestedPresentationDelay string          `xml:"suggestedPresentationDelay,attr"`
	TimeShiftBufferDepth       string          `xml:"timeShiftBufferDepth,attr"`
	MinBufferTime              string          `xml:"minBufferTime,attr"`
	BaseURLs                   []string        `xml:"BaseURL"`
	Location                   string          `xml:"Location"`
	Periods                    []Period        `xml:"Period"`
}

// GetMinimumUpdatePeriod returns the MinimumUpdatePeriod as a time.Duration.
func (m *MPD) GetMinimumUpdatePeriod() (time.Duration, error) {
	if m.MinimumUpdatePeriod == "" {
		return 0, nil
	}
	return parseDuration(m.MinimumUpdatePeriod)
}

// Period represents a media content period.
type Period struct {
	ID       string          `xml:"id,attr"`
	Start    string          `xml:"start,attr"`
	Duration string          `xml:"duration,attr"`
	BaseURL  string          `xml:"BaseURL"`
	Sets     []AdaptationSet `xml:"AdaptationSet"`
}

// AdaptationSet represents a set of interchangeable representations.
type AdaptationSet struct {
	ID               string           `xml:"id,attr"`
	ContentType      string           `xml:"contentType,attr"`
	Lang             string           `xml:"lang,attr,omitempty"`
	MimeType         string           `xml:"mimeType,attr"`
	Codecs           string           `xml:"codecs,attr,omitempty"`
	FrameRate        string           `xml:"frameRate,attr,omitempty"`
	SegmentAlignment bool             `xml:"segmentAlignment,attr"`
	MaxWidth         int              `xml:"maxWidth,attr,omitempty"`
	MaxHeight        int              `xml:"maxHeight,attr,omitempty"`
	SegmentTemplate  *SegmentTemplate `xml:"SegmentTemplate"`
	Representations  []Representation `xml:"Representation"`
}

// Representation represents a specific media stream.
type Representation struct {
	ID                string           `xml:"id,attr"`
	Bandwidth         int              `xml:"bandwidth,attr"`
	Codecs            string           `xml:"codecs,attr"`
	MimeType          string           `xml:"mimeType,attr,omitempty"`
	FrameRate         string           `xml:"frameRate,attr,omitempty"`
	Width             int              `xml:"width,attr,omitempty"`
	Height            int              `xml:"height,attr,omitempty"`
	AudioSamplingRate int              `xml:"audioSamplingRate,attr,omitempty"`
	SegmentTemplate   *SegmentTemplate `xml:"SegmentTemplate"`
}

// SegmentTemplate defines the URL structure for segments.
type SegmentTemplate struct {
	Timescale      int64            `xml:"timescale,attr"`
	Duration       int64            `xml:"duration,attr"`
	StartNumber    uint64           `xml:"startNumber,attr"`
	Initialization string           `xml:"initialization,attr"`
	Media          string           `xml:"media,attr"`
	Timeline       *SegmentTimeline `xml:"SegmentTimeline"`
}

// SegmentTimeline defines the timeline of segments.
type SegmentTimeline struct {
	Segments []S `xml:"S"`
}

// S represents a single segment or a series of segments. A nil T continues
// from the end of the previous run.
type S struct {
	T *int64 `xml:"t,attr"`
	D int64  `xml:"d,attr"`
	R int    `xml:"r,attr,omitempty"`
}

// parseDuration parses an ISO 8601 duration string like "PT8S" or "P1DT2H".
func parseDuration(duration string) (time.Duration, error) {
	if !strings.HasPrefix(duration, "P") {
		// Fallback for simple duration strings like "5s"
		return time.ParseDuration(duration)
	}

	datePart := strings.TrimPrefix(duration, "P")
	timePart := ""
	if idx := strings.Index(datePart, "T"); idx >= 0 {
		timePart = datePart[idx+1:]
		datePart = datePart[:idx]
	}

	var total time.Duration
	re := regexp.MustCompile(`(\d+\.?\d*)([A-Z])`)

	for _, match := range re.FindAllStringSubmatch(datePart, -1) {
		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			return 0, err
		}
		switch match[2] {
		case "D":
			total += time.Duration(value * 24 * float64(time.Hour))
		default:
			return 0, errors.New("unsupported duration unit: " + match[2])
		}
	}

	matches := re.FindAllStringSubmatch(timePart, -1)
	if len(matches) == 0 && timePart != "" {
		return 0, errors.New("invalid ISO 8601 duration format")
	}
	for _, match := range matches {
		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			return 0, err
		}
		switch match[2] {
		case "H":
			total += time.Duration(value * float64(time.Hour))
		case "M":
			total += time.Duration(value * float64(time.Minute))
		case "S":
			total += time.Duration(value * float64(time.Second))
		default:
			return 0, errors.New("unsupported duration unit: " + match[2])
		}
	}

	return total, nil
}

// durationSeconds parses an ISO 8601 duration into seconds, zero on absence.
func durationSeconds(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := parseDuration(s)
	if err != nil {
		return 0, err
	}
	return d.Seconds(), nil
}

// parseDateTime parses an xs:dateTime attribute like availabilityStartTime.
func parseDateTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
