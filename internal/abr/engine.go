package abr

import (
	"context"
	"sort"
	"sync"
	"time"

	"abrstream/internal/config"
	"abrstream/internal/logger"
	"abrstream/internal/manifest"
)

// Display supplies the rendering surface signals the engine consumes for
// video capping.
type Display interface {
	// Width is the current rendering width in pixels.
	Width() int
	// Hidden reports whether playback is backgrounded.
	Hidden() bool
}

// Engine continuously selects the active representation for one media type
// from the bandwidth estimate, user and device constraints. Selection itself
// is a pure synchronous function; the goroutine started by Start only
// debounces estimate updates and feeds it.
type Engine struct {
	log       logger.Logger
	opts      config.Options
	mediaType manifest.MediaType
	estimator *Estimator
	display   Display

	mu            sync.Mutex
	adaptation    *manifest.Adaptation
	manualCap     int // bits/s, 0 = unset
	deviceCap     int // bits/s, 0 = unset
	current       *manifest.Representation
	firstDecision bool
	lastEmitted   float64
	onSwitch      func(*manifest.Representation)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine builds an engine for one media type. display may be nil for
// non-video types.
func NewEngine(log logger.Logger, opts config.Options, mediaType manifest.MediaType, est *Estimator, display Display) *Engine {
	return &Engine{
		log:           log,
		opts:          opts,
		mediaType:     mediaType,
		estimator:     est,
		display:       display,
		firstDecision: true,
	}
}

// OnSwitch registers the callback fired on every representation change. The
// decision is de-duplicated by representation identity: re-evaluating an
// unchanged choice never fires it.
func (g *Engine) OnSwitch(fn func(*manifest.Representation)) {
	g.mu.Lock()
	g.onSwitch = fn
	g.mu.Unlock()
}

// SetAdaptation points the engine at the active adaptation and evaluates
// immediately. With a single representation the reactive machinery is
// bypassed entirely.
func (g *Engine) SetAdaptation(a *manifest.Adaptation) {
	g.mu.Lock()
	g.adaptation = a
	g.mu.Unlock()
	g.Evaluate()
}

// SetManualCap sets the user bitrate cap in bits per second; zero clears it.
func (g *Engine) SetManualCap(bps int) {
	g.mu.Lock()
	g.manualCap = bps
	g.mu.Unlock()
	g.Evaluate()
}

// SetDeviceCap sets the device maximum bitrate in bits per second; zero
// clears it.
func (g *Engine) SetDeviceCap(bps int) {
	g.mu.Lock()
	g.deviceCap = bps
	g.mu.Unlock()
	g.Evaluate()
}

// Current returns the selected representation, nil before the first decision.
func (g *Engine) Current() *manifest.Representation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Start launches the debounce loop: rapid estimate fluctuations inside one
// debounce window collapse into at most one switch decision.
func (g *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.loop(ctx)
}

// Stop unsubscribes the engine from estimate updates.
func (g *Engine) Stop() {
	if g.cancel != nil {
		g.cancel()
		<-g.done
	}
}

func (g *Engine) loop(ctx context.Context) {
	defer close(g.done)

	var timer *time.Timer
	var timerC <-chan time.Time
	pending := 0.0

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case v := <-g.estimator.Updates():
			pending = v
			if timer == nil {
				timer = time.NewTimer(g.opts.DebounceInterval)
				timerC = timer.C
			}
			// A running timer is left alone: one decision per window.
		case <-timerC:
			timer = nil
			timerC = nil
			g.mu.Lock()
			changed := pending != g.lastEmitted
			g.lastEmitted = pending
			g.mu.Unlock()
			if changed {
				g.Evaluate()
			}
		}
	}
}

// Evaluate recomputes the selection from the current inputs. It is safe to
// call from any goroutine and never blocks.
func (g *Engine) Evaluate() {
	g.mu.Lock()

	ad := g.adaptation
	if ad == nil || len(ad.Representations) == 0 {
		g.mu.Unlock()
		return
	}

	var chosen *manifest.Representation
	if len(ad.Representations) == 1 {
		chosen = ad.Representations[0]
	} else {
		chosen = g.chooseLocked(ad)
	}

	if chosen == nil || chosen == g.current {
		g.mu.Unlock()
		return
	}
	prev := g.current
	g.current = chosen
	fn := g.onSwitch
	g.mu.Unlock()

	if prev == nil {
		g.log.Infof("Selected %s representation %s (%d bps)", g.mediaType, chosen.ID, chosen.Bitrate)
	} else {
		g.log.Infof("Switching %s representation %s -> %s (%d bps)", g.mediaType, prev.ID, chosen.ID, chosen.Bitrate)
	}
	if fn != nil {
		fn(chosen)
	}
}

func (g *Engine) chooseLocked(ad *manifest.Adaptation) *manifest.Representation {
	bitrates := ad.Bitrates

	// Backgrounded video never spends bandwidth on quality.
	if g.mediaType == manifest.MediaVideo && g.display != nil && g.display.Hidden() {
		return ad.Lowest()
	}

	estimate, hasEstimate := g.estimator.Estimate()

	var target float64
	switch {
	case g.manualCap > 0:
		// A manual cap wins outright.
		target = float64(g.manualCap)
		bitrates = capBitrates(bitrates, g.manualCap)
	default:
		limit := g.effectiveDeviceCapLocked(ad)
		switch {
		case limit > 0 && hasEstimate:
			target = min(float64(limit), estimate)
		case limit > 0:
			target = float64(limit)
		case hasEstimate:
			target = estimate
		default:
			// Nothing to go on yet: start safe.
			return ad.Lowest()
		}
		if limit > 0 {
			bitrates = capBitrates(bitrates, limit)
		}
	}
	if len(bitrates) == 0 {
		return ad.Lowest()
	}

	threshold := g.opts.BufferThreshold
	if g.firstDecision {
		// No safety margin on the very first decision: start at the best
		// bitrate the first estimate supports.
		threshold = 0
	}
	g.firstDecision = false

	return ad.ByBitrate(pickBitrate(bitrates, target, threshold))
}

// effectiveDeviceCapLocked combines the device cap with the
// resolution-derived cap for video.
func (g *Engine) effectiveDeviceCapLocked(ad *manifest.Adaptation) int {
	limit := g.deviceCap
	if g.mediaType != manifest.MediaVideo || g.display == nil {
		return limit
	}
	if rc := resolutionCap(ad, g.display.Width()); rc > 0 && (limit == 0 || rc < limit) {
		limit = rc
	}
	return limit
}

// resolutionCap returns the bitrate of the lowest representation whose width
// covers the rendering width; zero (unlimited) when none qualifies.
func resolutionCap(ad *manifest.Adaptation, width int) int {
	if width <= 0 {
		return 0
	}
	for _, r := range ad.Representations {
		if r.Width >= width {
			return r.Bitrate
		}
	}
	return 0
}

// capBitrates trims the candidate list to bitrates at or below the cap. When
// everything exceeds the cap, the lowest stays as the only candidate.
func capBitrates(bitrates []int, limit int) []int {
	i := sort.SearchInts(bitrates, limit+1)
	if i == 0 {
		return bitrates[:1]
	}
	return bitrates[:i]
}

// pickBitrate finds the candidate closest to the target. With a nonzero
// threshold it walks down to the largest bitrate at or below the target whose
// ratio to it leaves the safety margin, falling back to the lowest.
func pickBitrate(bitrates []int, target float64, threshold float64) int {
	if len(bitrates) == 0 {
		return 0
	}
	if target <= 0 {
		return bitrates[0]
	}

	closest := closestIndex(bitrates, target)
	if threshold <= 0 {
		return bitrates[closest]
	}

	for i := closest; i >= 0; i-- {
		b := float64(bitrates[i])
		if b <= target && b/target <= 1-threshold {
			return bitrates[i]
		}
	}
	return bitrates[0]
}

// closestIndex returns the index of the bitrate nearest to target in the
// ascending list.
func closestIndex(bitrates []int, target float64) int {
	i := sort.Search(len(bitrates), func(i int) bool {
		return float64(bitrates[i]) >= target
	})
	if i == 0 {
		return 0
	}
	if i == len(bitrates) {
		return len(bitrates) - 1
	}
	if float64(bitrates[i])-target < target-float64(bitrates[i-1]) {
		return i
	}
	return i - 1
}

// SelectAdaptation picks the adaptation of the given type whose language
// matches, falling back to the first available. Text tracks may legitimately
// resolve to none.
func SelectAdaptation(p *manifest.Period, mediaType manifest.MediaType, lang string) *manifest.Adaptation {
	candidates := p.ByType(mediaType)
	if len(candidates) == 0 {
		return nil
	}
	for _, a := range candidates {
		if lang != "" && a.Lang == lang {
			return a
		}
	}
	return candidates[0]
}
