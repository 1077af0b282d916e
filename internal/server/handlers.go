package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jonathan/places-scraper/internal/db"
	"github.com/jonathan/places-scraper/internal/jobs"
	"github.com/jonathan/places-scraper/internal/types"
)

// SubmitResponse represents the response for POST /jobs.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// handleSubmit starts a new scraping job.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	allowed, info := s.rateLimiter.Allow(s.extractClientID(r))
	if !allowed {
		s.rateLimitResponse(w, info)
		return
	}

	var spec types.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	id, err := s.orchestrator.Submit(spec)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrInvalidSpec):
			s.errorResponse(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, jobs.ErrTooManyJobs):
			s.errorResponse(w, http.StatusTooManyRequests, err.Error())
		default:
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.jsonResponse(w, http.StatusAccepted, SubmitResponse{JobID: id, Status: "started"})
}

// archivedJob is the reduced view served for jobs that expired from the
// in-process registry and live only in the history store.
type archivedJob struct {
	JobID        string `json:"job_id"`
	BusinessType string `json:"business_type"`
	OutputFile   string `json:"output_file"`
	Status       string `json:"status"`
	Accepted     int    `json:"accepted"`
	Duplicates   int    `json:"duplicates"`
	Error        string `json:"error,omitempty"`
	Archived     bool   `json:"archived"`
}

func toArchived(rec *db.JobRecord) archivedJob {
	return archivedJob{
		JobID:        rec.ID,
		BusinessType: rec.BusinessType,
		OutputFile:   rec.OutputFile,
		Status:       rec.Status,
		Accepted:     rec.Accepted,
		Duplicates:   rec.Duplicates,
		Error:        rec.ErrorDetail,
		Archived:     true,
	}
}

// handleStatus returns the aggregate snapshot for one job, falling back to
// the history store for jobs already swept from the registry.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agg, err := s.orchestrator.Status(id)
	if err == nil {
		s.jsonResponse(w, http.StatusOK, agg)
		return
	}

	if s.history != nil {
		rec, herr := s.history.GetJob(r.Context(), id)
		if herr == nil && rec != nil {
			s.jsonResponse(w, http.StatusOK, toArchived(rec))
			return
		}
	}
	s.errorResponse(w, http.StatusNotFound, "Job not found")
}

// handleListJobs returns the in-process registry, newest first. When a
// history store is configured, jobs that already expired from the registry
// are appended from persistence.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	aggs := s.orchestrator.List()

	if s.history == nil {
		s.jsonResponse(w, http.StatusOK, map[string]any{"jobs": aggs})
		return
	}

	live := make(map[string]bool, len(aggs))
	for _, agg := range aggs {
		live[agg.JobID] = true
	}

	records, err := s.history.ListJobs(r.Context(), 50)
	if err != nil {
		// Registry contents are still useful when persistence is down.
		s.jsonResponse(w, http.StatusOK, map[string]any{"jobs": aggs})
		return
	}

	var archived []archivedJob
	for _, rec := range records {
		if live[rec.ID] {
			continue
		}
		archived = append(archived, toArchived(&rec))
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{"jobs": aggs, "archived": archived})
}

// handleCancel requests cooperative termination of a job.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orchestrator.Cancel(id); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			s.errorResponse(w, http.StatusNotFound, "Job not found")
			return
		}
		s.errorResponse(w, http.StatusConflict, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"job_id": id, "status": "cancelling"})
}
