package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/jonathan/places-scraper/internal/jobs"
	"github.com/jonathan/places-scraper/internal/types"
)

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends an SSE event
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteError sends an error event
func (s *SSEWriter) WriteError(message string) {
	s.WriteEvent("error", map[string]string{"error": message}) //nolint:errcheck
}

// WriteComplete sends a completion event
func (s *SSEWriter) WriteComplete(jobID, status string) {
	s.WriteEvent("complete", map[string]string{ //nolint:errcheck
		"job_id": jobID,
		"status": status,
	})
}

// handleEvents streams a job's progress events until the job finishes or the
// client disconnects. Events missed before subscribing are not replayed; the
// current snapshot is sent first so late subscribers start from known state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	ch, err := s.orchestrator.Subscribe(id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			s.errorResponse(w, http.StatusNotFound, "Job not found")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer s.orchestrator.Unsubscribe(id, ch)

	// Snapshot after subscribing: a job finishing in between either shows up
	// terminal here or closes the channel below.
	agg, err := s.orchestrator.Status(id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "Job not found")
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := sse.WriteEvent("snapshot", agg); err != nil {
		return
	}

	// A job already terminal at subscribe time streams nothing further.
	if agg.Status != types.JobRunning {
		sse.WriteComplete(id, string(agg.Status))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[SSE] Client disconnected from job %s", id)
			return
		case ev, ok := <-ch:
			if !ok {
				// Channel closed means the job reached a terminal state.
				final, err := s.orchestrator.Status(id)
				status := string(types.JobCompleted)
				if err == nil {
					status = string(final.Status)
				}
				sse.WriteComplete(id, status)
				return
			}
			if err := sse.WriteEvent("progress", ev); err != nil {
				log.Printf("[SSE] Write failed for job %s: %v", id, err)
				return
			}
		}
	}
}
