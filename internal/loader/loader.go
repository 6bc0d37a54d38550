package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"abrstream/internal/cache"
	"abrstream/internal/config"
	"abrstream/internal/logger"
)

// Connectivity reports whether the client believes it is online. Consulted
// only after a connection-level failure to split the offline retry category
// from the regular one.
type Connectivity interface {
	Online() bool
}

// BandwidthSink receives completed-request metrics. The per-media-type
// bandwidth estimator implements it.
type BandwidthSink interface {
	Sample(bytes int64, d time.Duration)
	SampleFailure()
}

// Request identifies one logical fetch.
type Request struct {
	URL       string
	RepID     string
	MediaType string
	IsInit    bool
}

// Response carries the fetched payload. FromCache marks a delivery that never
// touched the network.
type Response struct {
	Data      []byte
	FromCache bool
	Duration  time.Duration
}

// EventKind enumerates the observable pipeline events.
type EventKind int

const (
	// EventRequest marks the start of a logical fetch.
	EventRequest EventKind = iota
	// EventWarning reports a retryable failure that did not abort the fetch.
	EventWarning
	// EventResponse reports the successful delivery of the payload.
	EventResponse
	// EventMetrics reports size/duration for a network-sourced success. Never
	// emitted for cache hits.
	EventMetrics
)

// Event is one observable pipeline occurrence. For a single request the
// arrival order is: Request, zero or more Warnings, then exactly one
// Response (optionally followed by Metrics) or a terminal error return.
type Event struct {
	Kind     EventKind
	Request  Request
	Err      error
	Bytes    int64
	Duration time.Duration
}

// EventSink observes pipeline events. May be nil.
type EventSink func(Event)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// errorCategory tags a classified failure.
type errorCategory int

const (
	categoryFatal errorCategory = iota
	categoryRegular
	categoryOffline
)

// Loader is the retrying, caching download pipeline. Any number of fetches
// may be in flight; each progresses through its own retry state machine and
// the only shared state is the init cache, the bandwidth sinks and the
// metrics registry.
type Loader struct {
	client    *http.Client
	log       logger.Logger
	opts      config.Options
	initCache *cache.InitCache
	conn      Connectivity
	metrics   *Metrics
	events    EventSink
	group     singleflight.Group

	mu    sync.RWMutex
	sinks map[string]BandwidthSink
}

// New creates a loader. conn and events may be nil; a nil connectivity
// collaborator is treated as always online.
func New(client *http.Client, log logger.Logger, opts config.Options, initCache *cache.InitCache, conn Connectivity) *Loader {
	if client == nil {
		client = &http.Client{}
	}
	return &Loader{
		client:    client,
		log:       log,
		opts:      opts,
		initCache: initCache,
		conn:      conn,
		metrics:   NewMetrics(),
		sinks:     make(map[string]BandwidthSink),
	}
}

// SetEventSink registers the observer for pipeline events.
func (l *Loader) SetEventSink(sink EventSink) {
	l.events = sink
}

// RegisterSink wires the bandwidth estimator for one media type.
func (l *Loader) RegisterSink(mediaType string, sink BandwidthSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks[mediaType] = sink
}

// Metrics exposes the loader's prometheus metrics.
func (l *Loader) Metrics() *Metrics {
	return l.metrics
}

// Fetch runs one logical fetch to completion: cache lookup, transfer,
// classification-aware retries with exponential backoff, init write-through
// and metrics emission. Cancelling ctx abandons the request without late
// events or cache/estimator updates.
func (l *Loader) Fetch(ctx context.Context, req Request) (*Response, error) {
	l.emit(Event{Kind: EventRequest, Request: req})

	if req.IsInit {
		if data, found := l.initCache.Get(req.RepID); found {
			l.log.Debugf("Init segment for rep %s served from cache", req.RepID)
			l.metrics.cacheHits.Inc()
			l.emit(Event{Kind: EventResponse, Request: req, Bytes: int64(len(data))})
			return &Response{Data: data, FromCache: true}, nil
		}
		// Concurrent fetches of the same init segment collapse onto one
		// transfer; payloads per key are content-identical.
		v, err, _ := l.group.Do(req.RepID, func() (interface{}, error) {
			return l.fetchWithRetry(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		return v.(*Response), nil
	}

	return l.fetchWithRetry(ctx, req)
}

func (l *Loader) fetchWithRetry(ctx context.Context, req Request) (*Response, error) {
	regular := l.newBackOff()
	offline := l.newBackOff()
	regularCount := 0
	offlineCount := 0

	for {
		data, elapsed, err := l.do(ctx, req)
		if err == nil {
			return l.deliver(ctx, req, data, elapsed)
		}
		if ctx.Err() != nil {
			// Abandoned mid-transfer; no state updates, no late events.
			return nil, ctx.Err()
		}

		category := l.classify(err)
		if category == categoryFatal {
			l.metrics.failuresTotal.WithLabelValues(req.MediaType, "fatal").Inc()
			return nil, err
		}

		// Failed transfers are still completed requests for estimation.
		if sink := l.sinkFor(req.MediaType); sink != nil {
			sink.SampleFailure()
		}

		var (
			count *int
			bo    *backoff.ExponentialBackOff
			bound int
			label string
		)
		if category == categoryOffline {
			count, bo, bound, label = &offlineCount, offline, l.opts.MaxRetryOffline, "offline"
		} else {
			count, bo, bound, label = &regularCount, regular, l.opts.MaxRetryRegular, "regular"
		}

		*count++
		if *count > bound {
			// Retries exhausted: the last underlying error is the result,
			// not a retry wrapper.
			l.metrics.failuresTotal.WithLabelValues(req.MediaType, label).Inc()
			return nil, err
		}

		l.metrics.retriesTotal.WithLabelValues(req.MediaType, label).Inc()
		l.emit(Event{Kind: EventWarning, Request: req, Err: err})
		l.log.Warnf("Retryable %s failure for %s (attempt %d/%d): %v", label, req.URL, *count, bound, err)

		delay := bo.NextBackOff()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// deliver finishes a successful network transfer: init write-through, events
// and estimator feed. A cancelled request updates nothing.
func (l *Loader) deliver(ctx context.Context, req Request, data []byte, elapsed time.Duration) (*Response, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if req.IsInit {
		l.initCache.Set(req.RepID, data)
	}

	l.emit(Event{Kind: EventResponse, Request: req, Bytes: int64(len(data))})

	if sink := l.sinkFor(req.MediaType); sink != nil {
		sink.Sample(int64(len(data)), elapsed)
	}
	l.metrics.requestsTotal.WithLabelValues(req.MediaType).Inc()
	l.metrics.bytesTotal.WithLabelValues(req.MediaType).Add(float64(len(data)))
	l.metrics.duration.WithLabelValues(req.MediaType).Observe(elapsed.Seconds())
	l.emit(Event{Kind: EventMetrics, Request: req, Bytes: int64(len(data)), Duration: elapsed})

	return &Response{Data: data, Duration: elapsed}, nil
}

// do performs one transfer attempt under the per-attempt timeout.
func (l *Loader) do(ctx context.Context, req Request) ([]byte, time.Duration, error) {
	attemptCtx := ctx
	if l.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, l.opts.RequestTimeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request for %s: %w", req.URL, err)
	}
	if l.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", l.opts.UserAgent)
	}

	start := time.Now()
	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, time.Since(start), err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, time.Since(start), &StatusError{Code: resp.StatusCode, URL: req.URL}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, time.Since(start), err
	}
	return data, time.Since(start), nil
}

// classify splits a transfer failure into the two retryable categories or
// fatal. HTTP 5xx, 404, 412, 415 and any timeout or network error are
// regular; a connection-level failure while the client is offline is
// offline; other HTTP failures propagate immediately.
func (l *Loader) classify(err error) errorCategory {
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code >= 500,
			se.Code == http.StatusNotFound,
			se.Code == http.StatusPreconditionFailed,
			se.Code == http.StatusUnsupportedMediaType:
			return categoryRegular
		default:
			return categoryFatal
		}
	}

	// Connection-level failure or timeout.
	if l.conn != nil && !l.conn.Online() {
		return categoryOffline
	}
	return categoryRegular
}

func (l *Loader) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.opts.BaseDelay
	bo.MaxInterval = l.opts.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.5
	return bo
}

func (l *Loader) sinkFor(mediaType string) BandwidthSink {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sinks[mediaType]
}

func (l *Loader) emit(ev Event) {
	if l.events != nil {
		l.events(ev)
	}
}
