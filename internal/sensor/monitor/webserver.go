// Package monitor serves the HTTP view of running sensor streams: health,
// the latest enriched frame of each stream as JSON or PNG, pipeline
// counters, recorded frames, and charts of the device's pose trail.
package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/sensorframe/internal/sensor"
	"github.com/banshee-data/sensorframe/internal/sensor/recorder"
	"github.com/banshee-data/sensorframe/internal/sensor/stream"
	"github.com/banshee-data/sensorframe/internal/version"
)

// WebServer handles the HTTP interface for monitoring sensor streams.
type WebServer struct {
	address   string
	server    *http.Server
	readers   []*sensor.ReaderContext
	trail     *PoseTrail
	recorder  *recorder.Recorder
	publisher *stream.Publisher
	started   time.Time
}

// WebServerConfig contains configuration options for the web server.
// Recorder, Publisher and Trail are optional; their endpoints answer 404
// when absent.
type WebServerConfig struct {
	Address   string
	Readers   []*sensor.ReaderContext
	Trail     *PoseTrail
	Recorder  *recorder.Recorder
	Publisher *stream.Publisher
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:   config.Address,
		readers:   config.Readers,
		trail:     config.Trail,
		recorder:  config.Recorder,
		publisher: config.Publisher,
		started:   time.Now(),
	}

	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return ws
}

// Handler returns the server's routes.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start serves HTTP until ctx is cancelled, then shuts down. It returns
// early with an error if the listener cannot be opened.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Monitor] Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-ctx.Done():
	}
	log.Println("[Monitor] shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Monitor] HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("[Monitor] HTTP server force close error: %v", err)
		}
	}

	log.Printf("[Monitor] HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/frames/latest", ws.handleLatestFrame)
	mux.HandleFunc("/api/frames/latest.png", ws.handleLatestFramePNG)
	mux.HandleFunc("/api/frames/recent", ws.handleRecentFrames)
	mux.HandleFunc("/api/frames/recorded.png", ws.handleRecordedFramePNG)
	mux.HandleFunc("/api/trail", ws.handleTrail)
	mux.HandleFunc("/charts/trail", ws.handleTrailChart)
	mux.HandleFunc("/charts/trail.png", ws.handleTrailPlot)

	if ws.recorder != nil {
		if err := ws.recorder.AttachAdminRoutes(mux); err != nil {
			sensor.Opsf("monitor: failed to attach recorder admin routes: %v", err)
		}
	}

	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	sensors := make([]string, 0, len(ws.readers))
	for _, rc := range ws.readers {
		sensors = append(sensors, rc.SensorType().String())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": version.Version,
		"uptime":  time.Since(ws.started).Round(time.Second).String(),
		"sensors": sensors,
	})
}

// statsResponse gathers the counters of every pipeline stage.
type statsResponse struct {
	Readers  map[string]sensor.ReaderStats `json:"readers"`
	Recorder *recorder.Stats               `json:"recorder,omitempty"`
	Stream   *stream.Stats                 `json:"stream,omitempty"`
	Trail    *trailStats                   `json:"trail,omitempty"`
}

type trailStats struct {
	Received uint64 `json:"received"`
	Unposed  uint64 `json:"unposed"`
	Points   int    `json:"points"`
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	resp := statsResponse{Readers: make(map[string]sensor.ReaderStats, len(ws.readers))}
	for _, rc := range ws.readers {
		resp.Readers[rc.SensorType().String()] = rc.Stats()
	}
	if ws.recorder != nil {
		s := ws.recorder.Stats()
		resp.Recorder = &s
	}
	if ws.publisher != nil {
		s := ws.publisher.Stats()
		resp.Stream = &s
	}
	if ws.trail != nil {
		received, unposed := ws.trail.Counts()
		resp.Trail = &trailStats{Received: received, Unposed: unposed, Points: len(ws.trail.Points())}
	}
	writeJSON(w, http.StatusOK, resp)
}

// lookupReader resolves the ?sensor= parameter. With a single stream the
// parameter may be omitted. It writes the error response itself and
// returns nil on failure.
func (ws *WebServer) lookupReader(w http.ResponseWriter, r *http.Request) *sensor.ReaderContext {
	name := r.URL.Query().Get("sensor")
	if name == "" {
		if len(ws.readers) == 1 {
			return ws.readers[0]
		}
		writeJSONError(w, http.StatusBadRequest, "sensor parameter required")
		return nil
	}
	st, err := sensor.ParseSensorType(name)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	for _, rc := range ws.readers {
		if rc.SensorType() == st {
			return rc
		}
	}
	writeJSONError(w, http.StatusNotFound, fmt.Sprintf("sensor %s is not running", st))
	return nil
}

func (ws *WebServer) latestFrame(w http.ResponseWriter, r *http.Request) *sensor.SensorFrame {
	rc := ws.lookupReader(w, r)
	if rc == nil {
		return nil
	}
	f := rc.GetLatestSensorFrame()
	if f == nil {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no frame from %s yet", rc.SensorType()))
	}
	return f
}

func (ws *WebServer) handleLatestFrame(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	f := ws.latestFrame(w, r)
	if f == nil {
		return
	}
	writeJSON(w, http.StatusOK, newFrameView(f))
}

func (ws *WebServer) handleLatestFramePNG(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	f := ws.latestFrame(w, r)
	if f == nil {
		return
	}
	if f.Bitmap() == nil {
		writeJSONError(w, http.StatusNotFound, "latest frame has no bitmap")
		return
	}
	writePNG(w, f.Bitmap(), f.ID().String())
}

// writePNG encodes bm and tags the response with the frame it came from.
func writePNG(w http.ResponseWriter, bm *sensor.Bitmap, frameID string) {
	img, err := bm.Image()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to convert bitmap: %v", err))
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to encode png: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Id", frameID)
	_, _ = w.Write(buf.Bytes())
}

// handleRecordedFramePNG serves the stored bitmap of a recorded frame,
// selected with ?id=<frame_id>.
func (ws *WebServer) handleRecordedFramePNG(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if ws.recorder == nil {
		writeJSONError(w, http.StatusNotFound, "recording is disabled")
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "missing id parameter")
		return
	}

	bm, err := ws.recorder.FramePixels(r.Context(), id)
	switch {
	case errors.Is(err, recorder.ErrFrameNotFound), errors.Is(err, recorder.ErrNoPixels):
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writePNG(w, bm, id)
}

func (ws *WebServer) handleRecentFrames(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if ws.recorder == nil {
		writeJSONError(w, http.StatusNotFound, "recording is disabled")
		return
	}

	q := r.URL.Query()
	var filter *sensor.SensorType
	if name := q.Get("sensor"); name != "" {
		st, err := sensor.ParseSensorType(name)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = &st
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			writeJSONError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	frames, err := ws.recorder.RecentFrames(r.Context(), filter, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": ws.recorder.SessionID().String(),
		"frames":     frames,
	})
}

func (ws *WebServer) handleTrail(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if ws.trail == nil {
		writeJSONError(w, http.StatusNotFound, "pose trail is disabled")
		return
	}
	writeJSON(w, http.StatusOK, ws.trail.Points())
}
