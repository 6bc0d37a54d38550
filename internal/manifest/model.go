package manifest

import (
	"sync"
	"time"

	"abrstream/internal/segments"
)

// MediaType labels the adaptation groups a period carries.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
	MediaText  MediaType = "text"
)

// Manifest is the normalized root of a media presentation. For live content
// it is refreshed in place: representation and adaptation identities are
// preserved across refreshes so handles held by the adaptation engine stay
// valid.
type Manifest struct {
	ID       string
	IsLive   bool
	BaseURLs []string
	// Duration is the overall presentation duration in seconds; zero for an
	// unbounded live presentation.
	Duration                   float64
	SuggestedPresentationDelay float64
	AvailabilityStartTime      time.Time
	MinimumUpdatePeriod        float64
	Periods                    []*Period

	mu sync.Mutex
	// liveGap approximates clock drift accumulated since the last
	// authoritative refresh.
	liveGap float64
}

// AdvanceLiveGap advances the presentation live gap monotonically between
// refreshes. Negative deltas are ignored.
func (m *Manifest) AdvanceLiveGap(delta float64) {
	if delta <= 0 {
		return
	}
	m.mu.Lock()
	m.liveGap += delta
	m.mu.Unlock()
}

// LiveGap returns the drift accumulated since the last refresh.
func (m *Manifest) LiveGap() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveGap
}

func (m *Manifest) resetLiveGap() {
	m.mu.Lock()
	m.liveGap = 0
	m.mu.Unlock()
}

// Period is one time-bounded portion of the presentation.
type Period struct {
	ID          string
	Start       float64
	Duration    float64
	Adaptations []*Adaptation
}

// ByType returns the adaptations of the given media type, in manifest order.
func (p *Period) ByType(t MediaType) []*Adaptation {
	var out []*Adaptation
	for _, a := range p.Adaptations {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

// Adaptation is one selectable track of a media type, e.g. one audio
// language. Representations are sorted ascending by bitrate and Bitrates
// mirrors that order for the engine's closest-bitrate search.
type Adaptation struct {
	ID              string
	Type            MediaType
	Lang            string
	Representations []*Representation
	Bitrates        []int
}

// ByBitrate returns the representation with exactly the given bitrate.
func (a *Adaptation) ByBitrate(bitrate int) *Representation {
	for _, r := range a.Representations {
		if r.Bitrate == bitrate {
			return r
		}
	}
	return nil
}

// Lowest returns the lowest-bitrate representation.
func (a *Adaptation) Lowest() *Representation {
	if len(a.Representations) == 0 {
		return nil
	}
	return a.Representations[0]
}

// Representation is one quality variant. It owns its segment index.
type Representation struct {
	ID       string
	Bitrate  int
	Codecs   string
	MimeType string
	Width    int
	Height   int
	Index    segments.Index
}
