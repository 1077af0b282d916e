package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/jonathan/places-scraper/internal/types"
)

const (
	// recentRecordsMax is the size of the per-job preview ring.
	recentRecordsMax = 25
)

// sample is one point in the throughput window.
type sample struct {
	at       time.Time
	accepted int
}

// job holds the mutable state of one orchestrated request. All mutation goes
// through methods holding j.mu; Aggregate snapshots are copies, so readers
// never observe a half-updated job.
type job struct {
	id           string
	spec         types.JobSpec
	artifactPath string

	mu        sync.Mutex
	areas     []*types.AreaState
	status    types.JobStatus
	jobErr    string
	abortMsg  string
	startTime time.Time
	endTime   *time.Time
	recent    []types.Record
	samples   []sample
	cancel    context.CancelFunc
}

func newJob(id string, spec types.JobSpec, artifactPath string) *job {
	areas := make([]*types.AreaState, len(spec.Areas))
	for i, area := range spec.Areas {
		areas[i] = &types.AreaState{Area: area, Status: types.AreaPending}
	}
	return &job{
		id:           id,
		spec:         spec,
		artifactPath: artifactPath,
		areas:        areas,
		status:       types.JobRunning,
		startTime:    time.Now().UTC(),
	}
}

func (j *job) setCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
	// A cancel that raced ahead of execution startup is honored now.
	if j.abortMsg != "" {
		cancel()
	}
}

// requestCancel records the cancellation reason and cancels the job context.
// Returns false when the job is already terminal.
func (j *job) requestCancel(reason string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != types.JobRunning {
		return false
	}
	if j.abortMsg == "" {
		j.abortMsg = reason
	}
	if j.cancel != nil {
		j.cancel()
	}
	return true
}

// abortReason returns the recorded reason a runner should attach to its
// Failed state when the job context is cancelled under it.
func (j *job) abortReason() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.abortMsg != "" {
		return j.abortMsg
	}
	return "job aborted"
}

// noteAbort records why in-flight runners are being torn down (writer failure).
func (j *job) noteAbort(reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.abortMsg == "" {
		j.abortMsg = reason
	}
}

func (j *job) markAreaRunning(st *types.AreaState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now().UTC()
	st.Status = types.AreaRunning
	st.StartedAt = &now
}

func (j *job) markAreaTerminal(st *types.AreaState, status types.AreaStatus, detail string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if st.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	st.Status = status
	st.Error = detail
	st.EndedAt = &now
}

// noteAccepted records one accepted record: counters, preview ring, and a
// throughput sample.
func (j *job) noteAccepted(st *types.AreaState, rec *types.Record, metricsWindow time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	st.Accepted++
	st.Raw++

	j.recent = append(j.recent, *rec)
	if len(j.recent) > recentRecordsMax {
		j.recent = j.recent[1:]
	}

	total := 0
	for _, a := range j.areas {
		total += a.Accepted
	}
	now := time.Now().UTC()
	j.samples = append(j.samples, sample{at: now, accepted: total})
	cutoff := now.Add(-metricsWindow)
	for len(j.samples) > 1 && j.samples[0].at.Before(cutoff) {
		j.samples = j.samples[1:]
	}
}

func (j *job) noteDuplicate(st *types.AreaState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	st.Duplicates++
	st.Raw++
}

// finalize derives the terminal aggregate state once every runner returned
// and the writer is closed. Partial success is a success: at least one
// completed area makes the job Completed unless the shared writer failed.
func (j *job) finalize(writerErr error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now().UTC()
	j.endTime = &now

	anyCompleted := false
	for _, a := range j.areas {
		if a.Status == types.AreaCompleted {
			anyCompleted = true
		}
	}

	switch {
	case writerErr != nil:
		j.status = types.JobFailed
		j.jobErr = writerErr.Error()
	case anyCompleted:
		j.status = types.JobCompleted
	default:
		j.status = types.JobFailed
		if j.abortMsg != "" {
			j.jobErr = j.abortMsg
		} else {
			j.jobErr = "all areas failed"
		}
	}
}

// event builds a progress event for one area under the job lock.
func (j *job) event(st *types.AreaState) types.ProgressEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	ev := types.ProgressEvent{
		JobID:     j.id,
		JobStatus: j.status,
		Timestamp: time.Now().UTC(),
	}
	if st != nil {
		ev.Area = st.Area
		ev.AreaStatus = st.Status
		ev.Accepted = st.Accepted
		ev.Duplicates = st.Duplicates
		ev.Raw = st.Raw
		ev.Error = st.Error
	} else {
		for _, a := range j.areas {
			ev.Accepted += a.Accepted
			ev.Duplicates += a.Duplicates
			ev.Raw += a.Raw
		}
		ev.Error = j.jobErr
	}
	return ev
}

// snapshot returns a read-only aggregate copy, safe to serve concurrently
// with running sub-jobs.
func (j *job) snapshot() types.Aggregate {
	j.mu.Lock()
	defer j.mu.Unlock()

	agg := types.Aggregate{
		JobID:        j.id,
		BusinessType: j.spec.BusinessType,
		OutputFile:   j.spec.OutputFile,
		Append:       j.spec.Append,
		Status:       j.status,
		TotalTarget:  j.spec.TotalTarget(),
		Error:        j.jobErr,
		StartTime:    j.startTime,
	}

	agg.Areas = make([]types.AreaState, len(j.areas))
	for i, a := range j.areas {
		agg.Areas[i] = *a
		agg.Accepted += a.Accepted
		agg.Duplicates += a.Duplicates
		agg.Raw += a.Raw
	}

	if agg.TotalTarget > 0 {
		agg.Progress = float64(agg.Accepted) / float64(agg.TotalTarget) * 100
		if agg.Progress > 100 {
			agg.Progress = 100
		}
	}

	if j.endTime != nil {
		end := *j.endTime
		agg.EndTime = &end
		agg.ElapsedSeconds = end.Sub(j.startTime).Seconds()
	} else {
		agg.ElapsedSeconds = time.Since(j.startTime).Seconds()
	}

	agg.RecentRecords = append([]types.Record(nil), j.recent...)
	agg.Throughput, agg.ETASeconds = j.metricsLocked(agg.Accepted, agg.TotalTarget)
	return agg
}

// metricsLocked derives throughput and ETA from the sliding sample window.
// Caller holds j.mu.
func (j *job) metricsLocked(accepted, target int) (float64, *float64) {
	if len(j.samples) < 2 {
		return 0, nil
	}
	first := j.samples[0]
	last := j.samples[len(j.samples)-1]
	deltaCount := last.accepted - first.accepted
	deltaTime := last.at.Sub(first.at).Seconds()
	if deltaTime <= 0 || deltaCount <= 0 {
		return 0, nil
	}
	perSecond := float64(deltaCount) / deltaTime
	remaining := target - accepted
	if remaining < 0 {
		remaining = 0
	}
	eta := float64(remaining) / perSecond
	return perSecond * 60, &eta
}
