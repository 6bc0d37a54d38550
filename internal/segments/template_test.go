package segments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTemplate() *Template {
	return NewTemplate(TemplateConfig{
		Timescale:   1000,
		Duration:    2000,
		StartNumber: 1,
	})
}

func TestTemplate_NumberFor(t *testing.T) {
	tpl := testTemplate()

	for _, tc := range []struct {
		at   float64
		want uint64
	}{
		{0, 1},
		{3, 2},
		{4, 3},
		{11, 6},
		{20, 11},
	} {
		n, ok := tpl.NumberFor(tc.at)
		require.True(t, ok, "at=%v", tc.at)
		assert.Equal(t, tc.want, n, "at=%v", tc.at)
	}

	_, ok := tpl.NumberFor(-1)
	assert.False(t, ok)
}

func TestTemplate_Window(t *testing.T) {
	tpl := testTemplate()

	t.Run("instantaneous", func(t *testing.T) {
		for _, tc := range []struct {
			at   float64
			want uint64
		}{
			{0, 1},
			{3, 2},
			{4, 3},
			{11, 6},
			{20, 11},
		} {
			segs := tpl.Window(tc.at, 0, 0)
			require.Len(t, segs, 1)
			assert.Equal(t, tc.want, segs[0].Number)
		}
	})

	t.Run("buffer ahead", func(t *testing.T) {
		segs := tpl.Window(3, 0, 10)
		require.Len(t, segs, 5)
		for i, want := range []uint64{2, 3, 4, 5, 6} {
			assert.Equal(t, want, segs[i].Number)
			assert.Equal(t, 2.0, segs[i].Duration)
		}
	})

	t.Run("behind clamps at zero", func(t *testing.T) {
		segs := tpl.Window(1, 10, 4)
		require.NotEmpty(t, segs)
		assert.Equal(t, uint64(1), segs[0].Number)
	})
}

func TestTemplate_SegmentsIn(t *testing.T) {
	tpl := testTemplate()

	segs := tpl.SegmentsIn(0, 6)
	require.Len(t, segs, 3)
	assert.Equal(t, uint64(1), segs[0].Number)
	assert.Equal(t, uint64(3), segs[2].Number)
	assert.Equal(t, 4.0, segs[2].Time)

	assert.Empty(t, tpl.SegmentsIn(-1, 6))
	assert.Empty(t, tpl.SegmentsIn(6, 6))

	zero := NewTemplate(TemplateConfig{Timescale: 1000})
	assert.Empty(t, zero.SegmentsIn(0, 10))
}

func TestTemplate_URLs(t *testing.T) {
	tpl := NewTemplate(TemplateConfig{
		Timescale:   1000,
		Duration:    2000,
		StartNumber: 10,
		Media:       "chunk-$RepresentationID$-$Number$.m4s",
		InitURL:     "init-$RepresentationID$.mp4",
		BaseURL:     "https://cdn.example.com/vod/",
		RepID:       "audio-hi",
		Bandwidth:   128000,
	})

	segs := tpl.Window(5, 0, 0)
	require.Len(t, segs, 1)
	assert.Equal(t, uint64(12), segs[0].Number)
	assert.Equal(t, "https://cdn.example.com/vod/chunk-audio-hi-12.m4s", segs[0].URL)

	init, ok := tpl.InitDescriptor()
	require.True(t, ok)
	assert.True(t, init.IsInit)
	assert.Equal(t, "https://cdn.example.com/vod/init-audio-hi.mp4", init.URL)
}

func TestTemplate_LiveEdge(t *testing.T) {
	tpl := testTemplate()
	_, ok := tpl.LiveEdge()
	assert.False(t, ok)

	tpl.SetLiveEdge(42.5)
	edge, ok := tpl.LiveEdge()
	require.True(t, ok)
	assert.Equal(t, 42.5, edge)
}

func TestTemplate_Replace(t *testing.T) {
	tpl := testTemplate()
	tpl.Replace(TemplateConfig{Timescale: 1, Duration: 4, StartNumber: 100})

	n, ok := tpl.NumberFor(9)
	require.True(t, ok)
	assert.Equal(t, uint64(102), n)
}
