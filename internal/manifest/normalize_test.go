package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abrstream/internal/segments"
)

func rawFixture() *RawManifest {
	return &RawManifest{
		Type:                "dynamic",
		MinimumUpdatePeriod: 5,
		Periods: []RawPeriod{{
			ID: "p0",
			Adaptations: []RawAdaptation{
				{
					ID:          "video",
					ContentType: "video",
					MimeType:    "video/mp4",
					Template: &RawTemplate{
						Timescale:      1000,
						Media:          "$RepresentationID$/seg-$Time$.m4s",
						Initialization: "$RepresentationID$/init.mp4",
						Timeline: []RawTimelineEntry{
							{T: 0, D: 2000, R: 2},
						},
					},
					Representations: []RawRepresentation{
						{ID: "v-high", Bandwidth: 750000, Codecs: "avc1.64001f", Width: 1280, Height: 720},
						{ID: "v-low", Bandwidth: 100000, Codecs: "avc1.42c00d", Width: 320, Height: 180},
						{ID: "v-mid", Bandwidth: 300000, Codecs: "avc1.4d401e", Width: 640, Height: 360},
					},
				},
				{
					ID:          "audio-en",
					ContentType: "audio",
					Lang:        "en",
					Codecs:      "mp4a.40.02",
					Template: &RawTemplate{
						Timescale:   48000,
						Duration:    96000,
						StartNumber: 1,
						Media:       "$RepresentationID$/$Number$.m4s",
					},
					Representations: []RawRepresentation{
						{ID: "a-en"},
					},
				},
			},
		}},
	}
}

func TestNormalize(t *testing.T) {
	m, err := Normalize(rawFixture(), "https://cdn.example.com/live/stream.mpd", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID, "a stable id is assigned when absent")
	assert.True(t, m.IsLive)
	require.Len(t, m.Periods, 1)

	video := m.Periods[0].ByType(MediaVideo)
	require.Len(t, video, 1)
	require.Len(t, video[0].Representations, 3)
	assert.Equal(t, []int{100000, 300000, 750000}, video[0].Bitrates, "ascending bitrate order")
	assert.Equal(t, "v-low", video[0].Representations[0].ID)
	assert.IsType(t, &segments.Timeline{}, video[0].Representations[0].Index)

	audio := m.Periods[0].ByType(MediaAudio)
	require.Len(t, audio, 1)
	rep := audio[0].Representations[0]
	assert.Equal(t, "mp4a.40.2", rep.Codecs, "non-compliant codec string is repaired")
	assert.Equal(t, 1, rep.Bitrate, "absent bitrate defaults to 1")
	assert.IsType(t, &segments.Template{}, rep.Index)
}

func TestNormalize_StableID(t *testing.T) {
	raw := rawFixture()
	raw.ID = "presentation-1"
	m, err := Normalize(raw, "https://cdn.example.com/a.mpd", nil)
	require.NoError(t, err)
	assert.Equal(t, "presentation-1", m.ID)
}

func TestNormalize_DropsUnsupported(t *testing.T) {
	raw := rawFixture()
	// An image adaptation type is not playable and silently dropped.
	raw.Periods[0].Adaptations = append(raw.Periods[0].Adaptations, RawAdaptation{
		ID:          "thumbs",
		ContentType: "image",
		Template:    &RawTemplate{Duration: 10, Timescale: 1},
		Representations: []RawRepresentation{
			{ID: "thumb-1", Codecs: "jpeg"},
		},
	})
	m, err := Normalize(raw, "https://cdn.example.com/a.mpd", nil)
	require.NoError(t, err)
	assert.Len(t, m.Periods[0].Adaptations, 2)
}

func TestNormalize_RejectsEmptyAdaptation(t *testing.T) {
	raw := rawFixture()
	noSupport := func(codec string) bool { return false }
	_, err := Normalize(raw, "https://cdn.example.com/a.mpd", noSupport)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPlayableRepresentation)
}

func TestNormalize_RejectsMissingIndex(t *testing.T) {
	raw := rawFixture()
	raw.Periods[0].Adaptations[0].Template = nil
	_, err := Normalize(raw, "https://cdn.example.com/a.mpd", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingSegmentIndex)
}

func TestNormalize_EmptyManifest(t *testing.T) {
	_, err := Normalize(&RawManifest{}, "https://cdn.example.com/a.mpd", nil)
	assert.ErrorIs(t, err, ErrEmptyManifest)

	_, err = Normalize(nil, "", nil)
	assert.ErrorIs(t, err, ErrEmptyManifest)
}

func TestNormalize_ResolvesURLs(t *testing.T) {
	raw := rawFixture()
	raw.BaseURLs = []string{"media/"}
	m, err := Normalize(raw, "https://cdn.example.com/live/stream.mpd", nil)
	require.NoError(t, err)
	require.NotEmpty(t, m.BaseURLs)
	assert.Equal(t, "https://cdn.example.com/live/media/", m.BaseURLs[0])

	rep := m.Periods[0].ByType(MediaVideo)[0].Representations[0]
	segs := rep.Index.SegmentsIn(0, 2)
	require.NotEmpty(t, segs)
	assert.Equal(t, "https://cdn.example.com/live/media/v-low/seg-0.m4s", segs[0].URL)
}

func TestMerge_IdempotentAndIdentityPreserving(t *testing.T) {
	location := "https://cdn.example.com/live/stream.mpd"
	old, err := Normalize(rawFixture(), location, nil)
	require.NoError(t, err)

	videoAd := old.Periods[0].ByType(MediaVideo)[0]
	heldRep := videoAd.Representations[2] // v-high

	next, err := Normalize(rawFixture(), location, nil)
	require.NoError(t, err)
	require.NoError(t, Merge(old, next))

	// Identity preserved: the handle taken before the merge is still the
	// object in the tree.
	assert.Same(t, heldRep, old.Periods[0].ByType(MediaVideo)[0].Representations[2])
	assert.Equal(t, []int{100000, 300000, 750000}, videoAd.Bitrates)

	segs := heldRep.Index.SegmentsIn(0, 6)
	assert.Len(t, segs, 3, "unchanged refresh is a no-op on the index")
}

func TestMerge_RefreshesIndexThroughOldHandle(t *testing.T) {
	location := "https://cdn.example.com/live/stream.mpd"
	old, err := Normalize(rawFixture(), location, nil)
	require.NoError(t, err)

	heldRep := old.Periods[0].ByType(MediaVideo)[0].Representations[0]
	require.Len(t, heldRep.Index.SegmentsIn(0, 100), 3)

	refreshed := rawFixture()
	refreshed.Periods[0].Adaptations[0].Template.Timeline = []RawTimelineEntry{
		{T: 0, D: 2000, R: 4},
	}
	next, err := Normalize(refreshed, location, nil)
	require.NoError(t, err)
	require.NoError(t, Merge(old, next))

	assert.Len(t, heldRep.Index.SegmentsIn(0, 100), 5,
		"old handle sees the refreshed timeline")
}

func TestMerge_ResetsLiveGap(t *testing.T) {
	location := "https://cdn.example.com/live/stream.mpd"
	old, err := Normalize(rawFixture(), location, nil)
	require.NoError(t, err)

	old.AdvanceLiveGap(1.5)
	old.AdvanceLiveGap(-3) // ignored: the gap is monotonic between refreshes
	old.AdvanceLiveGap(0.5)
	assert.Equal(t, 2.0, old.LiveGap())

	next, err := Normalize(rawFixture(), location, nil)
	require.NoError(t, err)
	require.NoError(t, Merge(old, next))
	assert.Equal(t, 0.0, old.LiveGap())
}
