package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"abrstream/internal/abr"
	"abrstream/internal/config"
	"abrstream/internal/dash"
	"abrstream/internal/loader"
	"abrstream/internal/logger"
	"abrstream/internal/manifest"
	"abrstream/internal/segments"
)

// minRefreshInterval keeps manifest refreshes from hammering the origin when
// the document advertises a very small update period.
const minRefreshInterval = 2 * time.Second

// defaultRefreshInterval applies when a live manifest carries no update
// period at all.
const defaultRefreshInterval = 5 * time.Second

// SegmentSink consumes fetched media in presentation order per
// representation. Push is called from the scheduler goroutine.
type SegmentSink interface {
	Push(desc segments.Descriptor, data []byte) error
}

// SegmentTiming is optionally implemented by a sink that can read precise
// timing out of the media itself, used to refine live timelines beyond what
// the manifest declared.
type SegmentTiming interface {
	SegmentTiming(desc segments.Descriptor, data []byte) (startTicks, durTicks int64, ok bool)
}

// ErrNoVideo is returned when the presentation has no playable video track.
var ErrNoVideo = errors.New("presentation has no video adaptation")

// track bundles the per-media-type machinery: one estimator, one adaptation
// engine and the bookkeeping of what was already delivered.
type track struct {
	mediaType manifest.MediaType
	estimator *abr.Estimator
	engine    *abr.Engine
	// pushedInit records representations whose init segment reached the sink.
	pushedInit map[string]bool
	// lastEnd is the per-representation high-water mark of delivered media
	// time; segments ending at or before it are not delivered again.
	lastEnd map[string]float64
}

// Player drives one presentation: it owns the manifest, refreshes it while
// live, and schedules segment fetches through the download pipeline at the
// qualities its adaptation engines choose.
type Player struct {
	logger logger.Logger
	opts   config.Options
	client *dash.Client
	loader *loader.Loader
	sink   SegmentSink

	mutex      sync.RWMutex
	manifest   *manifest.Manifest
	location   string
	playhead   float64
	resetMarks bool
	tracks     []*track

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a player. display feeds device constraints to the video
// engine; the sink receives every delivered segment.
func New(log logger.Logger, opts config.Options, client *dash.Client, dl *loader.Loader, display abr.Display, sink SegmentSink) *Player {
	p := &Player{
		logger: log,
		opts:   opts,
		client: client,
		loader: dl,
		sink:   sink,
	}

	for _, mt := range []manifest.MediaType{manifest.MediaVideo, manifest.MediaAudio} {
		est := abr.NewEstimator(opts)
		var dpy abr.Display
		if mt == manifest.MediaVideo {
			dpy = display
		}
		t := &track{
			mediaType:  mt,
			estimator:  est,
			engine:     abr.NewEngine(log, opts, mt, est, dpy),
			pushedInit: make(map[string]bool),
			lastEnd:    make(map[string]float64),
		}
		dl.RegisterSink(string(mt), est)
		p.tracks = append(p.tracks, t)
	}

	return p
}

// VideoEngine exposes the video adaptation engine for external control
// (manual quality caps, visibility changes).
func (p *Player) VideoEngine() *abr.Engine {
	return p.trackFor(manifest.MediaVideo).engine
}

// AudioEngine exposes the audio adaptation engine.
func (p *Player) AudioEngine() *abr.Engine {
	return p.trackFor(manifest.MediaAudio).engine
}

func (p *Player) trackFor(mt manifest.MediaType) *track {
	for _, t := range p.tracks {
		if t.mediaType == mt {
			return t
		}
	}
	return nil
}

// Open fetches and normalizes the manifest, binds the adaptation engines and
// positions the playhead. It must be called once before Start.
func (p *Player) Open(ctx context.Context, manifestURL string) error {
	raw, location, err := p.client.LoadManifest(ctx, manifestURL)
	if err != nil {
		return fmt.Errorf("initial manifest load failed: %w", err)
	}

	m, err := manifest.Normalize(raw, location, manifest.DefaultCodecSupport)
	if err != nil {
		return fmt.Errorf("manifest rejected: %w", err)
	}
	if len(m.Periods) == 0 {
		return manifest.ErrEmptyManifest
	}

	period := m.Periods[0]
	bound := 0
	for _, t := range p.tracks {
		ad := abr.SelectAdaptation(period, t.mediaType, p.opts.DefaultLanguage)
		if ad == nil {
			p.logger.Infof("Presentation carries no %s track", t.mediaType)
			continue
		}
		t.engine.SetAdaptation(ad)
		bound++
	}
	if bound == 0 {
		return ErrNoVideo
	}

	p.mutex.Lock()
	p.manifest = m
	p.location = location
	p.playhead = p.initialPlayhead(m)
	p.mutex.Unlock()

	p.logger.Infof("Opened presentation %q (live=%v, playhead=%.2fs)", m.ID, m.IsLive, p.Playhead())
	return nil
}

// initialPlayhead picks the starting position: the beginning for on-demand
// content, behind the live edge by the suggested delay for live.
func (p *Player) initialPlayhead(m *manifest.Manifest) float64 {
	if !m.IsLive {
		return 0
	}

	delay := m.SuggestedPresentationDelay
	if delay <= 0 {
		delay = 3 * p.opts.ScheduleInterval.Seconds()
	}

	var edge float64
	for _, t := range p.tracks {
		rep := t.engine.Current()
		if rep == nil || rep.Index == nil {
			continue
		}
		if e, ok := rep.Index.LiveEdge(); ok && e > edge {
			edge = e
		}
	}
	if edge > delay {
		return edge - delay
	}
	return 0
}

// Start kicks off the background loops. Open must have succeeded first.
func (p *Player) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())

	for _, t := range p.tracks {
		t.engine.Evaluate()
		t.engine.Start()
	}

	p.wg.Add(1)
	go p.scheduleLoop()

	p.mutex.RLock()
	live := p.manifest != nil && p.manifest.IsLive
	p.mutex.RUnlock()
	if live {
		p.wg.Add(1)
		go p.refreshLoop()
	}
}

// Stop terminates the background loops and waits for them.
func (p *Player) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	for _, t := range p.tracks {
		t.engine.Stop()
	}
	p.wg.Wait()
	p.logger.Infof("Player stopped")
}

// Playhead returns the current presentation position in seconds.
func (p *Player) Playhead() float64 {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.playhead
}

// Seek repositions the playhead and resets delivery bookkeeping so content
// at the new position is delivered again.
func (p *Player) Seek(to float64) {
	if to < 0 {
		to = 0
	}
	p.mutex.Lock()
	p.playhead = to
	p.resetMarks = true
	p.mutex.Unlock()
	p.logger.Infof("Playhead repositioned to %.2fs", to)
}

// scheduleLoop periodically fills the buffer ahead of the playhead.
func (p *Player) scheduleLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.ScheduleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Infof("Schedule loop stopped")
			return
		case <-ticker.C:
			p.scheduleOnce()
		}
	}
}

// scheduleOnce fetches every not-yet-delivered segment in the buffer window
// of each bound track, then advances the playhead to the end of what video
// delivered.
func (p *Player) scheduleOnce() {
	p.mutex.Lock()
	m := p.manifest
	playhead := p.playhead
	if p.resetMarks {
		// The scheduler goroutine owns the delivery marks; a seek only flags
		// the reset and it is applied here.
		for _, t := range p.tracks {
			t.lastEnd = make(map[string]float64)
		}
		p.resetMarks = false
	}
	p.mutex.Unlock()
	if m == nil {
		return
	}

	if m.IsLive {
		m.AdvanceLiveGap(p.opts.ScheduleInterval.Seconds())
	}

	var advancedTo float64
	for _, t := range p.tracks {
		rep := t.engine.Current()
		if rep == nil || rep.Index == nil {
			continue
		}

		window := rep.Index.Window(playhead, 0, p.opts.BufferAhead)
		for _, desc := range window {
			if p.ctx.Err() != nil {
				return
			}
			if desc.Duration > 0 && desc.Time+desc.Duration <= t.lastEnd[rep.ID] {
				continue
			}
			if err := p.deliver(t, rep, desc); err != nil {
				p.logger.Warnf("Failed to deliver %s segment at %.2fs for rep %s: %v", t.mediaType, desc.Time, rep.ID, err)
				break
			}
			if desc.Duration > 0 {
				end := desc.Time + desc.Duration
				if end > t.lastEnd[rep.ID] {
					t.lastEnd[rep.ID] = end
				}
				if t.mediaType == manifest.MediaVideo && end > advancedTo {
					advancedTo = end
				}
			}
		}
	}

	if advancedTo > playhead {
		p.mutex.Lock()
		if advancedTo > p.playhead {
			p.playhead = advancedTo
		}
		p.mutex.Unlock()
	}
}

// deliver pushes the init segment for the representation if needed, then
// fetches and pushes the media segment.
func (p *Player) deliver(t *track, rep *manifest.Representation, desc segments.Descriptor) error {
	if !t.pushedInit[rep.ID] {
		if err := p.deliverInit(t, rep); err != nil {
			return err
		}
		t.pushedInit[rep.ID] = true
	}

	resp, err := p.loader.Fetch(p.ctx, loader.Request{
		URL:       desc.URL,
		RepID:     rep.ID,
		MediaType: string(t.mediaType),
	})
	if err != nil {
		return err
	}

	p.refineTimeline(rep, desc, resp.Data)
	return p.sink.Push(desc, resp.Data)
}

func (p *Player) deliverInit(t *track, rep *manifest.Representation) error {
	type initIndex interface {
		InitDescriptor() (segments.Descriptor, bool)
	}
	idx, ok := rep.Index.(initIndex)
	if !ok {
		return nil
	}
	desc, ok := idx.InitDescriptor()
	if !ok {
		return nil
	}

	resp, err := p.loader.Fetch(p.ctx, loader.Request{
		URL:       desc.URL,
		RepID:     rep.ID,
		MediaType: string(t.mediaType),
		IsInit:    true,
	})
	if err != nil {
		return err
	}
	return p.sink.Push(desc, resp.Data)
}

// refineTimeline folds media-derived timing back into an explicit timeline
// when the sink can produce it. Template indexes have nothing to refine.
func (p *Player) refineTimeline(rep *manifest.Representation, desc segments.Descriptor, data []byte) {
	timing, ok := p.sink.(SegmentTiming)
	if !ok {
		return
	}
	tl, ok := rep.Index.(*segments.Timeline)
	if !ok {
		return
	}
	if start, dur, ok := timing.SegmentTiming(desc, data); ok {
		tl.Add(start, dur)
	}
}

// refreshLoop re-fetches a live manifest on its advertised cadence and folds
// updates into the existing model without breaking engine handles.
func (p *Player) refreshLoop() {
	defer p.wg.Done()

	interval := p.refreshInterval()
	p.logger.Infof("Starting manifest refresh loop with interval %v", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Infof("Manifest refresh loop stopped")
			return
		case <-ticker.C:
			if err := p.refresh(); err != nil {
				p.logger.Warnf("Manifest refresh failed: %v", err)
				continue
			}
			if next := p.refreshInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
				p.logger.Debugf("Manifest refresh interval changed to %v", interval)
			}
		}
	}
}

func (p *Player) refreshInterval() time.Duration {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.manifest == nil || p.manifest.MinimumUpdatePeriod <= 0 {
		return defaultRefreshInterval
	}
	interval := time.Duration(p.manifest.MinimumUpdatePeriod * float64(time.Second))
	if interval < minRefreshInterval {
		interval = minRefreshInterval
	}
	return interval
}

// refresh fetches the current manifest and merges it into the live model in
// place.
func (p *Player) refresh() error {
	p.mutex.RLock()
	location := p.location
	p.mutex.RUnlock()

	raw, newLocation, err := p.client.LoadManifest(p.ctx, location)
	if err != nil {
		return err
	}
	next, err := manifest.Normalize(raw, newLocation, manifest.DefaultCodecSupport)
	if err != nil {
		return err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err := manifest.Merge(p.manifest, next); err != nil {
		return err
	}
	p.location = newLocation
	p.logger.Debugf("Manifest %q refreshed", p.manifest.ID)
	return nil
}

// Status is a point-in-time snapshot for the status endpoint.
type Status struct {
	ManifestID string        `json:"manifest_id"`
	Live       bool          `json:"live"`
	Playhead   float64       `json:"playhead"`
	LiveGap    float64       `json:"live_gap,omitempty"`
	Tracks     []TrackStatus `json:"tracks"`
}

// TrackStatus reports one track's current selection and estimate.
type TrackStatus struct {
	MediaType string  `json:"media_type"`
	RepID     string  `json:"rep_id,omitempty"`
	Bitrate   int     `json:"bitrate,omitempty"`
	Estimate  float64 `json:"estimate_bps,omitempty"`
}

// Status reports the player's current state.
func (p *Player) Status() Status {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	st := Status{Playhead: p.playhead}
	if p.manifest != nil {
		st.ManifestID = p.manifest.ID
		st.Live = p.manifest.IsLive
		st.LiveGap = p.manifest.LiveGap()
	}
	for _, t := range p.tracks {
		ts := TrackStatus{MediaType: string(t.mediaType)}
		if rep := t.engine.Current(); rep != nil {
			ts.RepID = rep.ID
			ts.Bitrate = rep.Bitrate
		}
		if est, ok := t.estimator.Estimate(); ok {
			ts.Estimate = est
		}
		st.Tracks = append(st.Tracks, ts)
	}
	return st
}
