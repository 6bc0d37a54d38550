package abr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abrstream/internal/config"
	"abrstream/internal/logger"
	"abrstream/internal/manifest"
)

type stubDisplay struct {
	width  int
	hidden bool
}

func (d stubDisplay) Width() int   { return d.width }
func (d stubDisplay) Hidden() bool { return d.hidden }

func videoAdaptation() *manifest.Adaptation {
	return &manifest.Adaptation{
		ID:   "video",
		Type: manifest.MediaVideo,
		Representations: []*manifest.Representation{
			{ID: "low", Bitrate: 100, Width: 320},
			{ID: "mid", Bitrate: 300, Width: 640},
			{ID: "high", Bitrate: 750, Width: 1280},
		},
		Bitrates: []int{100, 300, 750},
	}
}

func TestPickBitrate(t *testing.T) {
	bitrates := []int{100, 300, 750}

	t.Run("safety threshold steps down", func(t *testing.T) {
		assert.Equal(t, 300, pickBitrate(bitrates, 700, 0.3))
	})

	t.Run("zero threshold takes the closest", func(t *testing.T) {
		assert.Equal(t, 750, pickBitrate(bitrates, 700, 0))
	})

	t.Run("nothing qualifies falls back to lowest", func(t *testing.T) {
		assert.Equal(t, 100, pickBitrate(bitrates, 120, 0.3))
	})

	t.Run("zero target picks lowest", func(t *testing.T) {
		assert.Equal(t, 100, pickBitrate(bitrates, 0, 0.3))
	})

	t.Run("generous estimate takes the top", func(t *testing.T) {
		assert.Equal(t, 750, pickBitrate(bitrates, 5000, 0.3))
	})
}

func newTestEngine(t *testing.T, display Display) (*Engine, *Estimator) {
	t.Helper()
	est := NewEstimator(config.Default())
	eng := NewEngine(logger.Discard(), config.Default(), manifest.MediaVideo, est, display)
	return eng, est
}

func TestEngine_FirstDecisionSkipsThreshold(t *testing.T) {
	eng, est := newTestEngine(t, nil)

	// First estimate of exactly 700 with the threshold disabled picks 750.
	est.Sample(8750, 100*time.Second) // 700 bps
	eng.SetAdaptation(videoAdaptation())
	require.NotNil(t, eng.Current())
	assert.Equal(t, 750, eng.Current().Bitrate)
}

func TestEngine_ThresholdAfterFirstDecision(t *testing.T) {
	eng, est := newTestEngine(t, nil)
	ad := videoAdaptation()

	est.Sample(8750, 100*time.Second) // 700 bps
	eng.SetAdaptation(ad)
	assert.Equal(t, 750, eng.Current().Bitrate)

	// Same estimate, threshold now active: 750/700 > 0.7, step down to 300.
	eng.Evaluate()
	assert.Equal(t, 300, eng.Current().Bitrate)
}

func TestEngine_ManualCapWinsOutright(t *testing.T) {
	eng, est := newTestEngine(t, nil)
	ad := videoAdaptation()

	est.Sample(125000, 100*time.Second) // 10000 bps: everything qualifies
	eng.SetAdaptation(ad)
	assert.Equal(t, 750, eng.Current().Bitrate)

	// The cap overrides the permitting estimate; the safety margin then
	// applies against the capped target.
	eng.SetManualCap(350)
	assert.Equal(t, 100, eng.Current().Bitrate)

	eng.SetManualCap(0)
	eng.Evaluate()
	assert.Equal(t, 750, eng.Current().Bitrate)
}

func TestEngine_ResolutionCap(t *testing.T) {
	display := &stubDisplay{width: 640}
	eng, est := newTestEngine(t, display)
	ad := videoAdaptation()

	est.Sample(125000, 100*time.Second) // plenty of bandwidth
	eng.SetAdaptation(ad)
	// The lowest representation covering 640px is "mid" at 300.
	assert.Equal(t, 300, eng.Current().Bitrate)
}

func TestEngine_BackgroundedForcesLowest(t *testing.T) {
	display := &stubDisplay{width: 1280, hidden: true}
	eng, est := newTestEngine(t, display)
	ad := videoAdaptation()

	est.Sample(125000, 100*time.Second)
	eng.SetAdaptation(ad)
	assert.Equal(t, 100, eng.Current().Bitrate)
}

func TestEngine_NoEstimateStartsSafe(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	eng.SetAdaptation(videoAdaptation())
	require.NotNil(t, eng.Current())
	assert.Equal(t, 100, eng.Current().Bitrate)
}

func TestEngine_SingleRepresentationBypass(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	only := &manifest.Representation{ID: "only", Bitrate: 42}
	eng.SetAdaptation(&manifest.Adaptation{
		ID:              "audio",
		Type:            manifest.MediaAudio,
		Representations: []*manifest.Representation{only},
		Bitrates:        []int{42},
	})
	assert.Same(t, only, eng.Current())
}

func TestEngine_SwitchDeduplication(t *testing.T) {
	eng, est := newTestEngine(t, nil)
	ad := videoAdaptation()

	switches := 0
	eng.OnSwitch(func(*manifest.Representation) { switches++ })

	est.Sample(125000, 100*time.Second)
	eng.SetAdaptation(ad)
	eng.Evaluate()
	eng.Evaluate()
	assert.Equal(t, 1, switches, "re-evaluating an unchanged choice never switches")
}

func TestEngine_DebounceCollapsesFluctuations(t *testing.T) {
	opts := config.Default()
	opts.DebounceInterval = 30 * time.Millisecond
	est := NewEstimator(opts)
	eng := NewEngine(logger.Discard(), opts, manifest.MediaVideo, est, nil)

	switches := make(chan *manifest.Representation, 16)
	eng.OnSwitch(func(r *manifest.Representation) { switches <- r })

	est.Sample(12500, 1000*time.Second) // 100 bps
	eng.SetAdaptation(videoAdaptation())
	<-switches // initial selection at 100

	eng.Start()
	defer eng.Stop()

	// Rapid-fire fluctuations inside one window, ending high.
	for i := 0; i < 10; i++ {
		est.Sample(1250000, 1000*time.Second) // 10000 bps, pushes the estimate up
	}

	select {
	case r := <-switches:
		assert.Greater(t, r.Bitrate, 100)
	case <-time.After(time.Second):
		t.Fatal("debounced evaluation never fired")
	}

	select {
	case r := <-switches:
		t.Fatalf("more than one switch decision in the window: %v", r.ID)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestSelectAdaptation(t *testing.T) {
	en := &manifest.Adaptation{ID: "a-en", Type: manifest.MediaAudio, Lang: "en"}
	de := &manifest.Adaptation{ID: "a-de", Type: manifest.MediaAudio, Lang: "de"}
	p := &manifest.Period{Adaptations: []*manifest.Adaptation{en, de}}

	assert.Same(t, de, SelectAdaptation(p, manifest.MediaAudio, "de"))
	assert.Same(t, en, SelectAdaptation(p, manifest.MediaAudio, "fr"), "no match falls back to first")
	assert.Same(t, en, SelectAdaptation(p, manifest.MediaAudio, ""))
	assert.Nil(t, SelectAdaptation(p, manifest.MediaText, "en"), "text may resolve to none")
}
