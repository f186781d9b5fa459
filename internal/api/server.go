package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/kinetic/internal/db"
	"github.com/banshee-data/kinetic/internal/httputil"
	"github.com/banshee-data/kinetic/internal/lut"
	"github.com/banshee-data/kinetic/internal/monitoring"
	"github.com/banshee-data/kinetic/internal/recorder"
	"github.com/banshee-data/kinetic/internal/sensor"
	"github.com/banshee-data/kinetic/internal/transform"
	"github.com/banshee-data/kinetic/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

var logf = monitoring.Prefixed("api")

// saveTimeout bounds how long a finished recording may hold the session
// goroutine while it is written to the store.
const saveTimeout = 30 * time.Second

// Recorder is the control surface of a recording session.
type Recorder interface {
	Listen(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State(ctx context.Context) (recorder.State, error)
}

// LastResult describes the most recent recording delivered to the server.
type LastResult struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Samples   [3]int    `json:"samples"`
	Saved     bool      `json:"saved"`
	Error     string    `json:"error,omitempty"`
}

type Server struct {
	db        *db.DB
	transform transform.Options

	mu   sync.Mutex
	rec  Recorder
	last *LastResult
}

// NewServer creates a server over the recording store. opts is the default
// processing applied when curves are exported.
func NewServer(store *db.DB, opts transform.Options) *Server {
	return &Server{db: store, transform: opts}
}

// SetRecorder attaches the session the control routes drive. Without one
// they answer 503.
func (s *Server) SetRecorder(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = r
}

func (s *Server) currentRecorder() Recorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// OnRecordingResult stores a finished recording. It runs on the session's
// goroutine, so the borrowed buffers stay valid until it returns.
func (s *Server) OnRecordingResult(res recorder.Result) {
	if res.Status == recorder.StatusFailed {
		logf("recording failed: %s", res.ID)
	} else {
		logf("recording %s finished: %s (%d accel, %d gyro, %d rotation samples)",
			res.ID, res.Status, res.Accel.Len(), res.Gyro.Len(), res.Rotation.Len())
	}

	last := &LastResult{
		ID:        res.ID,
		Status:    res.Status.String(),
		StartedAt: res.StartedAt,
		Samples:   [3]int{res.Accel.Len(), res.Gyro.Len(), res.Rotation.Len()},
	}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		err := s.db.SaveRecording(ctx, db.Recording{
			ID:               res.ID,
			Status:           res.Status.String(),
			StartedAt:        res.StartedAt,
			Duration:         s.sessionDuration(),
			SamplingInterval: s.sessionInterval(),
			Gravity:          res.Gravity,
			Accel:            res.Accel,
			Gyro:             res.Gyro,
			Rotation:         res.Rotation,
		})
		if err != nil {
			logf("failed to save recording %s: %v", res.ID, err)
			last.Error = err.Error()
		} else {
			last.Saved = true
		}
	}

	s.mu.Lock()
	s.last = last
	s.mu.Unlock()
}

// Last returns the most recent result, or nil before the first recording.
func (s *Server) Last() *LastResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	c := *s.last
	return &c
}

type configured interface {
	Config() recorder.Config
}

func (s *Server) sessionDuration() time.Duration {
	if c, ok := s.currentRecorder().(configured); ok {
		return c.Config().Duration
	}
	return 0
}

func (s *Server) sessionInterval() time.Duration {
	if c, ok := s.currentRecorder().(configured); ok {
		return c.Config().SamplingInterval
	}
	return 0
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/recording/listen", s.controlHandler(Recorder.Listen))
	mux.HandleFunc("/api/recording/start", s.controlHandler(Recorder.Start))
	mux.HandleFunc("/api/recording/stop", s.controlHandler(Recorder.Stop))
	mux.HandleFunc("/api/recording/state", s.showState)
	mux.HandleFunc("/api/recordings", s.listRecordings)
	mux.HandleFunc("/api/recordings/", s.handleRecordingByID)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

// controlStatus maps a session error onto an HTTP status.
func controlStatus(err error) int {
	switch {
	case errors.Is(err, recorder.ErrAlreadyRecording):
		return http.StatusConflict
	case errors.Is(err, sensor.ErrUnavailable), errors.Is(err, recorder.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) controlHandler(op func(Recorder, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		rec := s.currentRecorder()
		if rec == nil {
			httputil.WriteJSONError(w, http.StatusServiceUnavailable, "sensors are disabled")
			return
		}
		if err := op(rec, r.Context()); err != nil {
			httputil.WriteJSONError(w, controlStatus(err), err.Error())
			return
		}
		s.writeState(r.Context(), w, rec)
	}
}

type stateResponse struct {
	State string      `json:"state"`
	Last  *LastResult `json:"last_result,omitempty"`
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	rec := s.currentRecorder()
	if rec == nil {
		httputil.WriteJSONOK(w, stateResponse{State: "disabled", Last: s.Last()})
		return
	}
	s.writeState(r.Context(), w, rec)
}

func (s *Server) writeState(ctx context.Context, w http.ResponseWriter, rec Recorder) {
	state, err := rec.State(ctx)
	if err != nil {
		httputil.WriteJSONError(w, controlStatus(err), err.Error())
		return
	}
	httputil.WriteJSONOK(w, stateResponse{State: state.String(), Last: s.Last()})
}

func (s *Server) listRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	list, err := s.db.ListRecordings(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list recordings: %v", err))
		return
	}
	httputil.WriteJSONOK(w, list)
}

// handleRecordingByID handles /api/recordings/:id[/curves|/tables|/chart]
func (s *Server) handleRecordingByID(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/recordings/"), "/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		httputil.BadRequest(w, "Missing recording ID")
		return
	}
	id := pathParts[0]
	action := ""
	if len(pathParts) > 1 {
		action = pathParts[1]
	}
	if len(pathParts) > 2 {
		httputil.NotFound(w, "Unknown route")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.showRecording(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		s.deleteRecording(w, r, id)
	case action == "curves" && r.Method == http.MethodGet:
		s.showCurves(w, r, id)
	case action == "tables" && r.Method == http.MethodGet:
		s.listTables(w, r, id)
	case action == "tables" && r.Method == http.MethodPost:
		s.createTable(w, r, id)
	case action == "chart" && r.Method == http.MethodGet:
		s.showChart(w, r, id)
	case action == "" || action == "curves" || action == "tables" || action == "chart":
		httputil.MethodNotAllowed(w)
	default:
		httputil.NotFound(w, "Unknown route")
	}
}

// writeStoreError reports a store error, mapping missing rows to 404.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

func (s *Server) showRecording(w http.ResponseWriter, r *http.Request, id string) {
	summary, err := s.db.GetRecordingSummary(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, summary)
}

func (s *Server) deleteRecording(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.db.DeleteRecording(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// curves loads and processes a recording for the curves and chart routes.
// It writes the error response itself and returns nil on failure.
func (s *Server) curves(w http.ResponseWriter, r *http.Request, id string) (*db.Recording, []lut.Curve) {
	q, err := ParseCurveQuery(r.URL.Query())
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, nil
	}
	opts := s.transform
	if g := r.URL.Query().Get("gravity"); g != "" {
		mode, err := transform.ParseGravityMode(g)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return nil, nil
		}
		opts.Gravity = mode
	}
	if rw := r.URL.Query().Get("rotate_to_world"); rw != "" {
		b, err := strconv.ParseBool(rw)
		if err != nil {
			httputil.BadRequest(w, "Invalid 'rotate_to_world' parameter")
			return nil, nil
		}
		opts.RotateToWorld = b
	}

	rec, err := s.db.LoadRecording(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return nil, nil
	}
	curves, err := ProcessRecording(rec, opts, q)
	if err != nil {
		if errors.Is(err, lut.ErrInvalidRange) {
			httputil.BadRequest(w, err.Error())
		} else {
			httputil.InternalServerError(w, err.Error())
		}
		return nil, nil
	}
	return rec, curves
}

func (s *Server) showCurves(w http.ResponseWriter, r *http.Request, id string) {
	_, curves := s.curves(w, r, id)
	if curves == nil {
		return
	}
	httputil.WriteJSONOK(w, Tables(curves))
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request, id string) {
	tables, err := s.db.LookupTables(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, tables)
}

func (s *Server) createTable(w http.ResponseWriter, r *http.Request, id string) {
	var table lut.Table
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&table); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Invalid table: %v", err))
		return
	}
	if table.Label == "" || len(table.Data) < 2 {
		httputil.BadRequest(w, "Table needs a label and at least two values")
		return
	}
	if _, err := s.db.GetRecordingSummary(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	stored, err := s.db.SaveLookupTable(r.Context(), id, table)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, stored)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
