package types

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// AreaStatus is the lifecycle state of one area sub-job.
// Completed and Failed are terminal; a sub-job never re-enters an earlier state.
type AreaStatus string

const (
	AreaPending   AreaStatus = "pending"
	AreaRunning   AreaStatus = "running"
	AreaCompleted AreaStatus = "completed"
	AreaFailed    AreaStatus = "failed"
)

// Terminal reports whether the status is final.
func (s AreaStatus) Terminal() bool {
	return s == AreaCompleted || s == AreaFailed
}

// JobStatus is the aggregate state of a whole job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobSpec is a user-submitted scraping request: one sub-job per area, all
// areas funneled into a single output artifact.
type JobSpec struct {
	BusinessType   string   `json:"business_type" validate:"required"`
	Areas          []string `json:"areas" validate:"required,min=1,dive,required"`
	ResultsPerArea int      `json:"results_per_area" validate:"required,min=1"`
	OutputFile     string   `json:"output_file" validate:"required"`
	Append         bool     `json:"append"`
	Concurrency    int      `json:"concurrency" validate:"omitempty,min=1"`
}

// Validate validates the JobSpec using the validator.
func (s *JobSpec) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}

// TotalTarget returns the maximum number of records the job can accept.
func (s *JobSpec) TotalTarget() int {
	return len(s.Areas) * s.ResultsPerArea
}

// AreaState is the observable state of one area sub-job. It is mutated only
// by the runner that owns it; readers get copies via the aggregate snapshot.
type AreaState struct {
	Area       string     `json:"area"`
	Status     AreaStatus `json:"status"`
	Accepted   int        `json:"accepted"`
	Duplicates int        `json:"duplicates"`
	Raw        int        `json:"raw"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Aggregate is the orchestrator's derived, read-only summary of a job.
type Aggregate struct {
	JobID          string      `json:"job_id"`
	BusinessType   string      `json:"business_type"`
	OutputFile     string      `json:"output_file"`
	Append         bool        `json:"append"`
	Status         JobStatus   `json:"status"`
	Areas          []AreaState `json:"areas"`
	Accepted       int         `json:"accepted"`
	Duplicates     int         `json:"duplicates"`
	Raw            int         `json:"raw"`
	TotalTarget    int         `json:"total_target"`
	Progress       float64     `json:"progress"`
	Error          string      `json:"error,omitempty"`
	StartTime      time.Time   `json:"start_time"`
	EndTime        *time.Time  `json:"end_time,omitempty"`
	ElapsedSeconds float64     `json:"elapsed_seconds"`
	Throughput     float64     `json:"throughput_per_minute"`
	ETASeconds     *float64    `json:"eta_seconds,omitempty"`
	RecentRecords  []Record    `json:"recent_records,omitempty"`
}

// ProgressEvent is one best-effort progress update pushed to subscribers.
// A consumer that misses events can always recover via the status snapshot.
// Record is set only on events announcing an accepted record.
type ProgressEvent struct {
	JobID      string     `json:"job_id"`
	Area       string     `json:"area,omitempty"`
	AreaStatus AreaStatus `json:"area_status,omitempty"`
	JobStatus  JobStatus  `json:"job_status"`
	Accepted   int        `json:"accepted"`
	Duplicates int        `json:"duplicates"`
	Raw        int        `json:"raw"`
	Error      string     `json:"error,omitempty"`
	Record     *Record    `json:"record,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}
