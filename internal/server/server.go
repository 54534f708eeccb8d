package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/audiolibrelab/jamstudio/internal/audio"
	"github.com/audiolibrelab/jamstudio/internal/recorder"
	"github.com/audiolibrelab/jamstudio/internal/service"
	"github.com/audiolibrelab/jamstudio/internal/timeline"
)

// Server exposes a session over a local HTTP control API
type Server struct {
	session *service.Session
	port    string
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// TakeResponse is returned when a recording finishes
type TakeResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Takes   []service.Take `json:"takes"`
}

// TracksResponse lists the timeline
type TracksResponse struct {
	Tracks []timeline.Track `json:"tracks"`
}

// New creates a server for an existing session
func New(session *service.Session, port string) *Server {
	return &Server{session: session, port: port}
}

// Handler returns the routed API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/tracks", s.handleTracks)
	mux.HandleFunc("/record/start", s.handleRecordStart)
	mux.HandleFunc("/record/stop", s.handleRecordStop)
	mux.HandleFunc("/punch/in", s.handlePunchIn)
	mux.HandleFunc("/punch/out", s.handlePunchOut)
	mux.HandleFunc("/transport/play", s.handlePlay)
	mux.HandleFunc("/transport/stop", s.handleStop)
	mux.HandleFunc("/transport/seek", s.handleSeek)
	mux.HandleFunc("/tracks/volume", s.handleTrackValue("volume", s.session.SetTrackVolume))
	mux.HandleFunc("/tracks/pan", s.handleTrackValue("pan", s.session.SetTrackPan))
	mux.HandleFunc("/tracks/mute", s.handleTrackFlag("mute", s.session.SetTrackMuted))
	mux.HandleFunc("/tracks/solo", s.handleTrackFlag("solo", s.session.SetTrackSolo))
	mux.HandleFunc("/clips/import", s.handleImport)
	mux.HandleFunc("/master", s.handleMaster)
	mux.HandleFunc("/monitoring", s.handleMonitoring)
	return mux
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting JamStudio control server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("Shutting down control server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	sendJSON(w, s.session.Status())
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	sendJSON(w, TracksResponse{Tracks: s.session.Tracks()})
}

// handleRecordStart records one track, or several when tracks is a comma list
func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if !s.parsePost(w, r) {
		return
	}

	var ids []string
	for _, id := range strings.Split(r.FormValue("tracks"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	track := strings.TrimSpace(r.FormValue("track"))

	slog.Debug("Record request received", "track", track, "tracks", ids)

	var err error
	switch {
	case len(ids) > 0:
		err = s.session.StartMultiTrackRecording(r.Context(), ids)
	case track != "":
		err = s.session.StartRecording(r.Context(), track)
	default:
		s.sendErrorResponse(w, http.StatusBadRequest, "Track is required", "operation", "record_start")
		return
	}
	if err != nil {
		s.sendError(w, err, "operation", "record_start")
		return
	}
	sendJSON(w, GenericResponse{Success: true, Message: "Recording started"})
}

func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if !s.parsePost(w, r) {
		return
	}

	var takes []service.Take
	switch s.session.Status().Recording.State {
	case recorder.StateMultiRecording:
		t, err := s.session.StopMultiTrackRecording(r.Context())
		if err != nil {
			s.sendError(w, err, "operation", "record_stop")
			return
		}
		takes = t
	default:
		t, err := s.session.StopRecording()
		if err != nil {
			s.sendError(w, err, "operation", "record_stop")
			return
		}
		if t != nil {
			takes = append(takes, *t)
		}
	}

	message := "Recording stopped"
	if len(takes) == 0 {
		message = "Recording stopped, no audio captured"
	}
	sendJSON(w, TakeResponse{Success: true, Message: message, Takes: takes})
}

func (s *Server) handlePunchIn(w http.ResponseWriter, r *http.Request) {
	if !s.parsePost(w, r) {
		return
	}
	track := r.FormValue("track")
	if track == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Track is required", "operation", "punch_in")
		return
	}
	if err := s.session.PunchIn(r.Context(), track); err != nil {
		s.sendError(w, err, "operation", "punch_in")
		return
	}
	sendJSON(w, GenericResponse{Success: true, Message: "Punched in"})
}

func (s *Server) handlePunchOut(w http.ResponseWriter, r *http.Request) {
	if !s.parsePost(w, r) {
		return
	}
	take, err := s.session.PunchOut()
	if err != nil {
		s.sendError(w, err, "operation", "punch_out")
		return
	}

	resp := TakeResponse{Success: true, Message: "No punch in progress"}
	if take != nil {
		resp.Takes = []service.Take{*take}
		resp.Message = "Punched out"
		if take.Region == nil {
			resp.Message = "Punched out, region discarded"
		}
	}
	sendJSON(w, resp)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if !s.parsePost(w, r) {
		return
	}
	if err := s.session.Play(r.Context()); err != nil {
		s.sendError(w, err, "operation", "play")
		return
	}
	sendJSON(w, GenericResponse{Success: true, Message: "Playing"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.parsePost(w, r) {
		return
	}
	s.session.Stop()
	sendJSON(w, GenericResponse{Success: true, Message: "Stopped"})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	if !s.parsePost(w, r) {
		return
	}
	pos, ok := s.floatParam(w, r, "position", "seek")
	if !ok {
		return
	}
	s.session.Seek(pos)
	sendJSON(w, GenericResponse{Success: true, Message: fmt.Sprintf("Playhead at %.3fs", pos)})
}

func (s *Server) handleTrackValue(name string, set func(string, float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.parsePost(w, r) {
			return
		}
		track := r.FormValue("track")
		if track == "" {
			s.sendErrorResponse(w, http.StatusBadRequest, "Track is required", "operation", name)
			return
		}
		v, ok := s.floatParam(w, r, "value", name)
		if !ok {
			return
		}
		if err := set(track, v); err != nil {
			s.sendError(w, err, "operation", name, "track", track)
			return
		}
		sendJSON(w, GenericResponse{Success: true, Message: fmt.Sprintf("%s %s set", track, name)})
	}
}

func (s *Server) handleTrackFlag(name string, set func(string, bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.parsePost(w, r) {
			return
		}
		track := r.FormValue("track")
		if track == "" {
			s.sendErrorResponse(w, http.StatusBadRequest, "Track is required", "operation", name)
			return
		}
		on, err := strconv.ParseBool(r.FormValue("value"))
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid value: expected true or false", "operation", name)
			return
		}
		if err := set(track, on); err != nil {
			s.sendError(w, err, "operation", name, "track", track)
			return
		}
		sendJSON(w, GenericResponse{Success: true, Message: fmt.Sprintf("%s %s=%t", track, name, on)})
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if !s.parsePost(w, r) {
		return
	}
	track, path := r.FormValue("track"), r.FormValue("path")
	if track == "" || path == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Track and path are required", "operation", "import")
		return
	}
	start := 0.0
	if r.FormValue("start") != "" {
		v, ok := s.floatParam(w, r, "start", "import")
		if !ok {
			return
		}
		start = v
	}

	clip, err := s.session.ImportClip(track, path, start)
	if err != nil {
		s.sendError(w, err, "operation", "import", "path", path)
		return
	}
	sendJSON(w, clip)
}

func (s *Server) handleMaster(w http.ResponseWriter, r *http.Request) {
	if !s.parsePost(w, r) {
		return
	}
	v, ok := s.floatParam(w, r, "value", "master")
	if !ok {
		return
	}
	s.session.SetMasterVolume(v)
	sendJSON(w, GenericResponse{Success: true, Message: "Master volume set"})
}

func (s *Server) handleMonitoring(w http.ResponseWriter, r *http.Request) {
	if !s.parsePost(w, r) {
		return
	}
	if g := r.FormValue("gain"); g != "" {
		v, ok := s.floatParam(w, r, "gain", "monitoring")
		if !ok {
			return
		}
		s.session.SetMonitorGain(v)
	}

	mode := r.FormValue("mode")
	if mode == "" {
		sendJSON(w, GenericResponse{Success: true, Message: "Monitor gain set"})
		return
	}
	on, err := s.session.SetMonitoring(mode)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "monitoring")
		return
	}
	sendJSON(w, map[string]interface{}{"success": true, "mode": mode, "enabled": on})
}

func (s *Server) parsePost(w http.ResponseWriter, r *http.Request) bool {
	if !allowMethod(w, r, http.MethodPost) {
		return false
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return false
	}
	return true
}

func (s *Server) floatParam(w http.ResponseWriter, r *http.Request, key, op string) (float64, bool) {
	v, err := strconv.ParseFloat(r.FormValue(key), 64)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s: %q", key, r.FormValue(key)), "operation", op)
		return 0, false
	}
	return v, true
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, audio.ErrUnknownTrack):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrAlreadyRecording),
		errors.Is(err, audio.ErrConflictingSession),
		errors.Is(err, audio.ErrNotPlaying),
		errors.Is(err, service.ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, audio.ErrNoDeviceFound), errors.Is(err, audio.ErrDeviceClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, audio.ErrUnsupportedFormat), errors.Is(err, audio.ErrNotWAV):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, audio.ErrNoTracks):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) sendError(w http.ResponseWriter, err error, logContext ...interface{}) {
	s.sendErrorResponse(w, statusFor(err), err.Error(), logContext...)
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
