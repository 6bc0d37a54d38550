package abr

import (
	"sync"
	"time"

	"abrstream/internal/config"
)

// Estimator smooths completed-request metrics into one bandwidth estimate in
// bits per second. One instance exists per media type; updates are applied
// atomically in arrival order.
type Estimator struct {
	mu    sync.Mutex
	alpha float64
	floor int64

	estimate    float64
	hasEstimate bool

	// sub is a last-value cell: the latest raw estimate is always available
	// to the engine's debounce loop without blocking the sampling path.
	sub chan float64
}

// NewEstimator builds an estimator from the recognized options.
func NewEstimator(opts config.Options) *Estimator {
	return &Estimator{
		alpha: opts.EMAAlpha,
		floor: opts.SmallResponseFloor,
		sub:   make(chan float64, 1),
	}
}

// Sample feeds one completed transfer. Payloads at or below the small-size
// floor are estimation noise (init segments, manifests) and never move the
// estimate.
func (e *Estimator) Sample(bytes int64, d time.Duration) {
	if bytes <= e.floor {
		return
	}
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	e.apply(float64(bytes) * 8000 / float64(ms))
}

// SampleFailure feeds a failed or timed-out transfer as a zero-bandwidth
// sample. Failures are signal, not noise: they drag the estimate down.
func (e *Estimator) SampleFailure() {
	e.apply(0)
}

func (e *Estimator) apply(bps float64) {
	e.mu.Lock()
	if !e.hasEstimate {
		e.estimate = bps
		e.hasEstimate = true
	} else {
		e.estimate = e.alpha*bps + (1-e.alpha)*e.estimate
	}
	// Replace whatever value is pending; the subscriber only ever needs the
	// latest. Done under the lock so two writers cannot both fill the cell.
	select {
	case <-e.sub:
	default:
	}
	e.sub <- e.estimate
	e.mu.Unlock()
}

// Estimate returns the current smoothed estimate and whether any sample has
// been accepted yet.
func (e *Estimator) Estimate() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.estimate, e.hasEstimate
}

// Updates exposes the last-value channel carrying raw estimate updates.
func (e *Estimator) Updates() <-chan float64 {
	return e.sub
}
