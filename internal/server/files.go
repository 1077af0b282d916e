package server

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jonathan/places-scraper/internal/jobs"
	"github.com/jonathan/places-scraper/internal/types"
)

const (
	defaultPreviewRows = 10
	maxPreviewRows     = 100
)

// handleDownload serves the committed CSV artifact of a completed job.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	path, err := s.orchestrator.ArtifactPath(id)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			s.errorResponse(w, http.StatusNotFound, "Job not found")
		case errors.Is(err, jobs.ErrNotCompleted):
			s.errorResponse(w, http.StatusConflict, "Job has not completed; no artifact to download")
		default:
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if _, err := os.Stat(path); err != nil {
		s.errorResponse(w, http.StatusNotFound, "Artifact file is missing")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// handlePreview returns the first rows of a job's output. For a running job
// the committed artifact may lag behind the counters, so the most recent
// accepted records from the in-memory ring are returned instead.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rows := s.previewRows
	if v := r.URL.Query().Get("rows"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "Invalid 'rows' parameter")
			return
		}
		rows = n
	}
	if rows > maxPreviewRows {
		rows = maxPreviewRows
	}

	agg, err := s.orchestrator.Status(id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "Job not found")
		return
	}

	if agg.Status == types.JobRunning {
		recent := agg.RecentRecords
		if len(recent) > rows {
			recent = recent[len(recent)-rows:]
		}
		s.jsonResponse(w, http.StatusOK, map[string]any{
			"job_id":  id,
			"status":  agg.Status,
			"source":  "recent",
			"records": recent,
		})
		return
	}

	path, err := s.orchestrator.ArtifactPath(id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotCompleted) {
			s.errorResponse(w, http.StatusConflict, "Job failed; no artifact to preview")
			return
		}
		s.errorResponse(w, http.StatusNotFound, "Job not found")
		return
	}

	records, err := readPreviewRows(path, rows)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to read artifact: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"job_id":  id,
		"status":  agg.Status,
		"source":  "artifact",
		"records": records,
	})
}

// readPreviewRows reads up to limit data rows from a CSV artifact and maps
// them against the header into generic objects. Only the prefix of the file
// is read.
func readPreviewRows(path string, limit int) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []map[string]string{}, nil
		}
		return nil, err
	}

	records := make([]map[string]string, 0, limit)
	for len(records) < limit {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
