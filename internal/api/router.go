package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"abrstream/internal/loader"
	"abrstream/internal/logger"
	"abrstream/internal/player"
)

// DisplayState is the mutable device state fed to the video adaptation
// engine. The HTTP surface updates it; the engine reads it.
type DisplayState struct {
	mu     sync.RWMutex
	width  int
	hidden bool
}

// NewDisplayState creates a visible display of the given width.
func NewDisplayState(width int) *DisplayState {
	return &DisplayState{width: width}
}

func (d *DisplayState) Width() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.width
}

func (d *DisplayState) Hidden() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hidden
}

// Set updates the display state atomically.
func (d *DisplayState) Set(width int, hidden bool) {
	d.mu.Lock()
	d.width = width
	d.hidden = hidden
	d.mu.Unlock()
}

// API is the control and observation surface of a running player.
type API struct {
	player  *player.Player
	display *DisplayState
	metrics *loader.Metrics
	logger  logger.Logger
}

// New builds the HTTP handler.
func New(p *player.Player, display *DisplayState, metrics *loader.Metrics, log logger.Logger) http.Handler {
	a := &API{
		player:  p,
		display: display,
		metrics: metrics,
		logger:  log,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", a.handleStatus)
	r.Post("/seek", a.handleSeek)
	r.Post("/cap", a.handleCap)
	r.Put("/display", a.handleDisplay)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	return r
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.player.Status()); err != nil {
		a.logger.Warnf("Failed to encode status: %v", err)
	}
}

// handleSeek repositions the playhead: POST /seek?to=<seconds>.
func (a *API) handleSeek(w http.ResponseWriter, r *http.Request) {
	to, err := strconv.ParseFloat(r.URL.Query().Get("to"), 64)
	if err != nil || to < 0 {
		http.Error(w, "invalid 'to' parameter", http.StatusBadRequest)
		return
	}
	a.player.Seek(to)
	w.WriteHeader(http.StatusNoContent)
}

// handleCap sets or clears the manual video bitrate cap:
// POST /cap?bps=<bits per second>, zero clears.
func (a *API) handleCap(w http.ResponseWriter, r *http.Request) {
	bps, err := strconv.Atoi(r.URL.Query().Get("bps"))
	if err != nil || bps < 0 {
		http.Error(w, "invalid 'bps' parameter", http.StatusBadRequest)
		return
	}
	a.player.VideoEngine().SetManualCap(bps)
	a.logger.Infof("Manual bitrate cap set to %d bps", bps)
	w.WriteHeader(http.StatusNoContent)
}

type displayRequest struct {
	Width  int  `json:"width"`
	Hidden bool `json:"hidden"`
}

// handleDisplay updates the device constraints: PUT /display with a JSON
// body {"width": 1280, "hidden": false}.
func (a *API) handleDisplay(w http.ResponseWriter, r *http.Request) {
	var req displayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Width < 0 {
		http.Error(w, "invalid display state", http.StatusBadRequest)
		return
	}
	a.display.Set(req.Width, req.Hidden)
	a.player.VideoEngine().Evaluate()
	a.logger.Infof("Display state updated: width=%d hidden=%v", req.Width, req.Hidden)
	w.WriteHeader(http.StatusNoContent)
}
