// Package api exposes the administrative HTTP surface: enrollment and
// removal of identities, health, and runtime stats. Enrollment rebuilds
// the similarity index snapshot; frame processing is never blocked by it.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/facepass-data/facetrack/internal/catalog"
	"github.com/facepass-data/facetrack/internal/facetrack"
	"github.com/facepass-data/facetrack/internal/pipeline"
	"github.com/facepass-data/facetrack/internal/reid"
	"github.com/facepass-data/facetrack/internal/version"
)

// ANSI escape codes for request logging.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorBoldGreen = "\033[1;32m"
	colorYellow    = "\033[33m"
	colorBoldRed   = "\033[1;31m"
)

// stream bundles the per-stream components the stats endpoint reports on.
type stream struct {
	tracker facetrack.TrackerInterface
	runner  *pipeline.Runner
}

// Server is the admin/enrollment HTTP server.
type Server struct {
	db       *catalog.DB
	index    *reid.Index
	embedDim int

	mu      sync.RWMutex
	streams map[string]stream
}

// NewServer creates the admin server over the given catalog and index.
// embedDim is the deployment's fixed embedding dimensionality; enrollment
// rejects vectors of any other length.
func NewServer(db *catalog.DB, index *reid.Index, embedDim int) *Server {
	return &Server{
		db:       db,
		index:    index,
		embedDim: embedDim,
		streams:  make(map[string]stream),
	}
}

// RegisterStream makes a pipeline stream visible to the stats endpoint.
func (s *Server) RegisterStream(id string, tracker facetrack.TrackerInterface, runner *pipeline.Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[id] = stream{tracker: tracker, runner: runner}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/enroll/{personID}", s.handleEnroll).Methods(http.MethodPost)
	r.HandleFunc("/persons/{personID}/embeddings", s.handleListEmbeddings).Methods(http.MethodGet)
	r.HandleFunc("/persons/{personID}", s.handleDeletePerson).Methods(http.MethodDelete)
	return r
}

// RebuildIndex reloads the full catalog and swaps a fresh snapshot into
// the similarity index. In-flight queries keep reading the old snapshot
// until the swap.
func (s *Server) RebuildIndex() error {
	records, err := s.db.LoadAll()
	if err != nil {
		return err
	}
	s.index.SetCatalog(records)
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbState := "connected"
	if err := s.db.Ping(); err != nil {
		status = "degraded"
		dbState = "unreachable"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"db":             dbState,
		"active_streams": s.streamCount(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":        "facetrack",
		"version":        version.Version,
		"git_sha":        version.GitSHA,
		"build_time":     version.BuildTime,
		"embed_dim":      s.embedDim,
		"catalog_size":   s.index.Len(),
		"sim_threshold":  s.index.AcceptThreshold(),
		"active_streams": s.streamCount(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type streamStats struct {
		Total     int    `json:"tracks_total"`
		Tentative int    `json:"tracks_tentative"`
		Confirmed int    `json:"tracks_confirmed"`
		Lost      int    `json:"tracks_lost"`
		Dropped   uint64 `json:"frames_dropped"`
	}
	out := make(map[string]streamStats, len(s.streams))
	for id, st := range s.streams {
		total, tentative, confirmed, lost := st.tracker.TrackCount()
		ss := streamStats{Total: total, Tentative: tentative, Confirmed: confirmed, Lost: lost}
		if st.runner != nil {
			ss.Dropped = st.runner.Dropped()
		}
		out[id] = ss
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"streams":      out,
		"catalog_size": s.index.Len(),
	})
}

// enrollRequest is the POST /enroll/{personID} payload.
type enrollRequest struct {
	Embedding []float32 `json:"embedding"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	personID := mux.Vars(r)["personID"]

	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error())
		return
	}
	if len(req.Embedding) != s.embedDim {
		writeError(w, http.StatusBadRequest,
			"embedding must have dimension "+strconv.Itoa(s.embedDim)+", got "+strconv.Itoa(len(req.Embedding)))
		return
	}

	id, err := s.db.Enroll(personID, req.Embedding)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enrollment failed: "+err.Error())
		return
	}
	if err := s.RebuildIndex(); err != nil {
		writeError(w, http.StatusInternalServerError, "index rebuild failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":           id,
		"person_id":    personID,
		"catalog_size": s.index.Len(),
	})
}

func (s *Server) handleListEmbeddings(w http.ResponseWriter, r *http.Request) {
	personID := mux.Vars(r)["personID"]
	embeddings, err := s.db.EmbeddingsForPerson(personID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"person_id":  personID,
		"embeddings": embeddings,
		"count":      len(embeddings),
	})
}

func (s *Server) handleDeletePerson(w http.ResponseWriter, r *http.Request) {
	personID := mux.Vars(r)["personID"]
	deleted, err := s.db.DeletePerson(personID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed: "+err.Error())
		return
	}
	if err := s.RebuildIndex(); err != nil {
		writeError(w, http.StatusInternalServerError, "index rebuild failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"person_id": personID,
		"deleted":   deleted,
	})
}

func (s *Server) streamCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf("%s%s%s %s %s %v",
			colorCyan, r.Method, colorReset,
			r.URL.Path,
			statusCodeColor(lrw.statusCode),
			time.Since(start))
	})
}
