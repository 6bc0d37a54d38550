package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abrstream/internal/cache"
	"abrstream/internal/config"
	"abrstream/internal/dash"
	"abrstream/internal/loader"
	"abrstream/internal/logger"
	"abrstream/internal/player"
)

const testMPD = `<MPD type="static" id="vod-1" mediaPresentationDuration="PT20S">
  <Period id="p0">
    <AdaptationSet id="1" contentType="video" mimeType="video/mp4">
      <SegmentTemplate timescale="1" duration="2" startNumber="1"
                       media="$RepresentationID$/$Number$.m4s" initialization="$RepresentationID$/init.mp4"/>
      <Representation id="v1" bandwidth="100000" codecs="avc1.64001f" width="640" height="360"/>
      <Representation id="v2" bandwidth="300000" codecs="avc1.640028" width="1280" height="720"/>
    </AdaptationSet>
  </Period>
</MPD>`

func newTestRouter(t *testing.T) (http.Handler, *player.Player, *DisplayState) {
	t.Helper()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".mpd") {
			w.Write([]byte(testMPD))
			return
		}
		w.Write([]byte("segment"))
	}))
	t.Cleanup(origin.Close)

	log := logger.Discard()
	opts := config.Default()
	opts.BaseDelay = time.Millisecond
	dl := loader.New(&http.Client{}, log, opts, cache.New(log), nil)
	client := dash.NewClient(dl, log)
	display := NewDisplayState(1920)
	p := player.New(log, opts, client, dl, display, player.DiscardSink{})
	require.NoError(t, p.Open(context.Background(), origin.URL+"/stream.mpd"))

	return New(p, display, dl.Metrics(), log), p, display
}

func TestStatusEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st player.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "vod-1", st.ManifestID)
	assert.False(t, st.Live)
}

func TestSeekEndpoint(t *testing.T) {
	router, p, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/seek?to=8.5", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 8.5, p.Playhead())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/seek?to=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCapEndpoint(t *testing.T) {
	router, p, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cap?bps=150000", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// With a 150k cap only the 100k representation qualifies.
	rep := p.VideoEngine().Current()
	require.NotNil(t, rep)
	assert.Equal(t, 100000, rep.Bitrate)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cap?bps=oops", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDisplayEndpoint(t *testing.T) {
	router, _, display := newTestRouter(t)

	body := strings.NewReader(`{"width": 640, "hidden": true}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/display", body))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 640, display.Width())
	assert.True(t, display.Hidden())
}

func TestMetricsEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "abrstream_requests_total")
}
