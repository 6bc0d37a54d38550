package abr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abrstream/internal/config"
)

func TestEstimator_FirstSampleIsExact(t *testing.T) {
	e := NewEstimator(config.Default())

	_, ok := e.Estimate()
	assert.False(t, ok)

	// 100000 bytes over 1s = 800000 bits/s, no smoothing on bootstrap.
	e.Sample(100000, time.Second)
	est, ok := e.Estimate()
	require.True(t, ok)
	assert.Equal(t, 800000.0, est)
}

func TestEstimator_SmallResponsesAreNoise(t *testing.T) {
	e := NewEstimator(config.Default())

	e.Sample(2000, time.Millisecond) // at the floor: ignored
	e.Sample(500, time.Millisecond)
	_, ok := e.Estimate()
	assert.False(t, ok)

	e.Sample(100000, time.Second)
	before, _ := e.Estimate()
	e.Sample(2000, time.Millisecond)
	after, _ := e.Estimate()
	assert.Equal(t, before, after, "a response at or below the floor never changes the estimate")
}

func TestEstimator_EMA(t *testing.T) {
	e := NewEstimator(config.Default())

	e.Sample(100000, time.Second) // 800000 bps
	e.Sample(50000, time.Second)  // 400000 bps

	est, _ := e.Estimate()
	// 0.6*400000 + 0.4*800000
	assert.InDelta(t, 560000.0, est, 0.001)
}

func TestEstimator_FailuresCountAsZero(t *testing.T) {
	e := NewEstimator(config.Default())

	e.Sample(100000, time.Second) // 800000 bps
	e.SampleFailure()

	est, _ := e.Estimate()
	// 0.6*0 + 0.4*800000
	assert.InDelta(t, 320000.0, est, 0.001)

	// A failure before any accepted sample pins the estimate at zero.
	e2 := NewEstimator(config.Default())
	e2.SampleFailure()
	est, ok := e2.Estimate()
	require.True(t, ok)
	assert.Equal(t, 0.0, est)
}

func TestEstimator_UpdatesCarryLatest(t *testing.T) {
	e := NewEstimator(config.Default())

	e.Sample(100000, time.Second)
	e.Sample(50000, time.Second)

	select {
	case v := <-e.Updates():
		est, _ := e.Estimate()
		assert.Equal(t, est, v, "the cell holds the latest value only")
	default:
		t.Fatal("expected a pending update")
	}
}
