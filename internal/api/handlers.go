package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/job"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/store"
)

const preferenceKeyPrefix = "pref/"

type submitJobRequest struct {
	Items []string `json:"items"`
}

type submitJobResponse struct {
	JobID      string `json:"jobId"`
	TotalItems int    `json:"totalItems"`
}

// submitJob handles POST /jobs. An empty item list is accepted and
// answered with the zero-value job id; no job record is created.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, err := s.jobs.Submit(r.Context(), req.Items)
	if err != nil {
		s.logger.Error("submit job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}
	writeJSON(w, http.StatusAccepted, submitJobResponse{JobID: id, TotalItems: len(req.Items)})
}

// getJob handles GET /jobs/{job_id}. Unknown and malformed ids answer
// 404 alike.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	found, err := s.jobs.Status(r.Context(), id)
	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job failed", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// listJobs handles GET /jobs.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	err := s.jobs.Cancel(r.Context(), id)
	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("cancel job failed", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": id, "status": "cancel_requested"})
}

// getActiveJob handles GET /jobs/active: the job named by the durable
// pointer, or {"active": false} when no pointer is set or the job is
// already gone.
func (s *Server) getActiveJob(w http.ResponseWriter, r *http.Request) {
	ptr, ok, err := s.pointer.Get(r.Context())
	if err != nil {
		s.logger.Error("load active-job pointer failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load active job")
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"active": false})
		return
	}
	found, err := s.jobs.Status(r.Context(), ptr.JobID)
	if errors.Is(err, job.ErrNotFound) {
		// The pointer outlived the job; clear it so the next read is clean.
		if clearErr := s.pointer.Clear(r.Context()); clearErr != nil {
			s.logger.Warn("clear stale active-job pointer failed", zap.Error(clearErr))
		}
		writeJSON(w, http.StatusOK, map[string]bool{"active": false})
		return
	}
	if err != nil {
		s.logger.Error("load active job failed", zap.String("job_id", ptr.JobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load active job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "job": found, "title": ptr.Title})
}

// listFiles handles GET /files, serving the enriched inventory through
// the rebuild coordinator so concurrent requests never stack rebuilds.
func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	hash, err := s.enricher.InputsHash(r.Context())
	if err != nil {
		s.logger.Error("hash inventory failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read library")
		return
	}
	payload, err := s.caches.GetOrRebuild(r.Context(), enrichedFilesKey, hash, s.enricher.Build)
	if err != nil {
		s.logger.Error("build enriched inventory failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build file list")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		s.logger.Debug("write file list failed", zap.Error(err))
	}
}

type pointerRequest struct {
	JobID string `json:"jobId"`
	Title string `json:"title"`
}

func (s *Server) getPointer(w http.ResponseWriter, r *http.Request) {
	ptr, ok, err := s.pointer.Get(r.Context())
	if err != nil {
		s.logger.Error("load active-job pointer failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load pointer")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no active job")
		return
	}
	writeJSON(w, http.StatusOK, ptr)
}

func (s *Server) setPointer(w http.ResponseWriter, r *http.Request) {
	var req pointerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}
	if err := s.pointer.Set(r.Context(), req.JobID, req.Title); err != nil {
		s.logger.Error("set active-job pointer failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save pointer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": req.JobID})
}

func (s *Server) clearPointer(w http.ResponseWriter, r *http.Request) {
	if err := s.pointer.Clear(r.Context()); err != nil {
		s.logger.Error("clear active-job pointer failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear pointer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// listPreferences handles GET /preferences: every stored preference as
// one flat object.
func (s *Server) listPreferences(w http.ResponseWriter, r *http.Request) {
	rows, err := s.kv.List(r.Context(), preferenceKeyPrefix)
	if err != nil {
		s.logger.Error("list preferences failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list preferences")
		return
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[strings.TrimPrefix(row.Key, preferenceKeyPrefix)] = row.Value
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getPreference(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	row, err := s.kv.Get(r.Context(), preferenceKeyPrefix+key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "preference not found")
		return
	}
	if err != nil {
		s.logger.Error("get preference failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load preference")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{key: row.Value})
}

// setPreferences handles POST /preferences with a flat object of
// key-value pairs; each pair is stored individually.
func (s *Server) setPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs map[string]string
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	for key, value := range prefs {
		if key == "" {
			writeError(w, http.StatusBadRequest, "empty preference key")
			return
		}
		if err := s.kv.Set(r.Context(), preferenceKeyPrefix+key, value); err != nil {
			s.logger.Error("save preference failed", zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to save preferences")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(prefs)})
}
