package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/places-scraper/internal/dedup"
	"github.com/jonathan/places-scraper/internal/output"
	"github.com/jonathan/places-scraper/internal/scrape"
	"github.com/jonathan/places-scraper/internal/types"
)

var (
	// ErrJobNotFound is returned when a job identifier is unknown or expired.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidSpec is returned when a submission is rejected before any
	// sub-job starts.
	ErrInvalidSpec = errors.New("invalid job spec")
	// ErrTooManyJobs is returned when the concurrent-jobs bound is reached.
	ErrTooManyJobs = errors.New("maximum concurrent scraping jobs in progress")
	// ErrNotCompleted is returned when the artifact is requested before the
	// job reaches a terminal state with results.
	ErrNotCompleted = errors.New("job has not completed")
)

// Config holds orchestrator tuning.
type Config struct {
	// OutputDir is where artifacts are created; output file names are
	// flattened into it.
	OutputDir string
	// CacheCapacity bounds the shared fingerprint cache per job.
	CacheCapacity int
	// BatchSize is the writer's auto-flush threshold.
	BatchSize int
	// DefaultConcurrency bounds simultaneous area runners when the spec
	// leaves it unset. 1 means fully sequential.
	DefaultConcurrency int
	// MaxConcurrentJobs bounds simultaneously running jobs.
	MaxConcurrentJobs int
	// Retention keeps finished jobs visible before the registry sweeps them.
	Retention time.Duration
	// MetricsWindow is the sliding window for throughput/ETA.
	MetricsWindow time.Duration
}

// DefaultConfig returns production settings, mirroring the service defaults.
func DefaultConfig() Config {
	return Config{
		OutputDir:          ".",
		CacheCapacity:      dedup.DefaultCapacity,
		BatchSize:          output.DefaultBatchSize,
		DefaultConcurrency: 2,
		MaxConcurrentJobs:  2,
		Retention:          15 * time.Minute,
		MetricsWindow:      3 * time.Minute,
	}
}

// HistoryStore persists job submissions and outcomes so history can survive a
// restart. Implementations must tolerate concurrent calls.
type HistoryStore interface {
	RecordSubmission(ctx context.Context, id string, spec types.JobSpec) error
	RecordOutcome(ctx context.Context, agg types.Aggregate) error
}

// Orchestrator owns the process-scoped job registry. It schedules sub-job
// runners, aggregates their states, and is the only object exposed to
// external callers.
type Orchestrator struct {
	cfg     Config
	factory scrape.Factory
	bus     *Bus
	history HistoryStore

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates an orchestrator. history may be nil for memory-only operation.
func New(cfg Config, factory scrape.Factory, bus *Bus, history HistoryStore) *Orchestrator {
	def := DefaultConfig()
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = def.CacheCapacity
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.DefaultConcurrency <= 0 {
		cfg.DefaultConcurrency = def.DefaultConcurrency
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = def.MaxConcurrentJobs
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MetricsWindow <= 0 {
		cfg.MetricsWindow = def.MetricsWindow
	}
	return &Orchestrator{
		cfg:     cfg,
		factory: factory,
		bus:     bus,
		history: history,
		jobs:    make(map[string]*job),
	}
}

// Bus exposes the event channel for subscribers.
func (o *Orchestrator) Bus() *Bus {
	return o.bus
}

// Submit validates the spec, builds the shared cache and writer, registers
// the job, and begins execution. Returns the job identifier.
func (o *Orchestrator) Submit(spec types.JobSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if spec.Concurrency == 0 {
		spec.Concurrency = o.cfg.DefaultConcurrency
	}

	artifactPath := filepath.Join(o.cfg.OutputDir, filepath.Base(spec.OutputFile))
	j := newJob(uuid.New().String(), spec, artifactPath)

	// Count and register in one critical section so two concurrent submissions
	// cannot both squeeze past the bound.
	o.mu.Lock()
	o.sweepLocked()
	running := 0
	for _, existing := range o.jobs {
		if existing.snapshot().Status == types.JobRunning {
			running++
		}
	}
	if running >= o.cfg.MaxConcurrentJobs {
		o.mu.Unlock()
		return "", ErrTooManyJobs
	}
	o.jobs[j.id] = j
	o.mu.Unlock()

	cache := dedup.NewCache(o.cfg.CacheCapacity)
	gate := dedup.NewGate(cache)

	if spec.Append {
		if _, err := os.Stat(artifactPath); err == nil {
			seeded, err := gate.SeedFromArtifact(artifactPath)
			if err != nil {
				o.deregister(j.id)
				return "", fmt.Errorf("failed to seed dedup gate: %w", err)
			}
			log.Printf("[Orchestrator] seeded %d fingerprints from %s", seeded, artifactPath)
		}
	}

	writer, err := output.NewWriter(artifactPath, spec.Append, o.cfg.BatchSize)
	if err != nil {
		o.deregister(j.id)
		return "", fmt.Errorf("failed to open output artifact: %w", err)
	}

	if o.history != nil {
		if err := o.history.RecordSubmission(context.Background(), j.id, spec); err != nil {
			log.Printf("[Orchestrator] history submission for %s not recorded: %v", j.id, err)
		}
	}

	log.Printf("[Orchestrator] job %s: %q across %d areas -> %s (append=%v)",
		j.id, spec.BusinessType, len(spec.Areas), artifactPath, spec.Append)

	go o.execute(j, gate, writer)
	return j.id, nil
}

// execute runs every area runner under bounded concurrency, closes the
// writer exactly once, and finalizes the aggregate.
func (o *Orchestrator) execute(j *job, gate *dedup.Gate, writer *output.Writer) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.setCancel(cancel)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.spec.Concurrency)

	for i := range j.areas {
		state := j.areas[i]
		g.Go(func() error {
			r := &runner{
				job:           j,
				state:         state,
				producer:      o.factory(j.spec, state.Area),
				gate:          gate,
				writer:        writer,
				bus:           o.bus,
				cap:           j.spec.ResultsPerArea,
				metricsWindow: o.cfg.MetricsWindow,
			}
			return r.run(gctx)
		})
	}

	runErr := g.Wait()
	closeErr := writer.Close()
	if runErr == nil && closeErr != nil {
		runErr = closeErr
	}

	j.finalize(runErr)
	o.bus.Publish(j.event(nil))
	o.bus.CloseJob(j.id)

	agg := j.snapshot()
	log.Printf("[Orchestrator] job %s finished: %s (%d accepted, %d duplicates)",
		j.id, agg.Status, agg.Accepted, agg.Duplicates)

	if o.history != nil {
		if err := o.history.RecordOutcome(context.Background(), agg); err != nil {
			log.Printf("[Orchestrator] history outcome for %s not recorded: %v", j.id, err)
		}
	}
}

// Status returns the current aggregate view for a job.
func (o *Orchestrator) Status(id string) (types.Aggregate, error) {
	o.mu.Lock()
	j, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return types.Aggregate{}, ErrJobNotFound
	}
	return j.snapshot(), nil
}

// List returns aggregates for every registered job, newest first.
func (o *Orchestrator) List() []types.Aggregate {
	o.mu.Lock()
	o.sweepLocked()
	aggs := make([]types.Aggregate, 0, len(o.jobs))
	for _, j := range o.jobs {
		aggs = append(aggs, j.snapshot())
	}
	o.mu.Unlock()

	sort.Slice(aggs, func(a, b int) bool {
		return aggs[a].StartTime.After(aggs[b].StartTime)
	})
	return aggs
}

// Cancel requests cooperative termination. Running sub-jobs finish their
// current record; pending ones fail without starting.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	j, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	if !j.requestCancel("cancelled by caller") {
		return fmt.Errorf("job %s is already finished", id)
	}
	return nil
}

// ArtifactPath returns the committed output file for a completed job.
func (o *Orchestrator) ArtifactPath(id string) (string, error) {
	o.mu.Lock()
	j, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return "", ErrJobNotFound
	}
	if j.snapshot().Status != types.JobCompleted {
		return "", ErrNotCompleted
	}
	return j.artifactPath, nil
}

// Subscribe attaches an event listener to a job. The channel is closed once
// the job reaches a terminal state; subscribing to a job that already finished
// yields an immediately closed channel.
func (o *Orchestrator) Subscribe(id string) (chan types.ProgressEvent, error) {
	o.mu.Lock()
	j, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	ch := o.bus.Subscribe(id)
	// The bus already dropped a finished job's subscriber set, so a late
	// channel would never be closed by it.
	if j.snapshot().Status != types.JobRunning {
		o.bus.Unsubscribe(id, ch)
	}
	return ch, nil
}

// Unsubscribe detaches an event listener. Safe to call after the job closed
// the channel.
func (o *Orchestrator) Unsubscribe(id string, ch chan types.ProgressEvent) {
	o.bus.Unsubscribe(id, ch)
}

// Wait blocks until the job reaches a terminal state. Primarily for the CLI
// driver and tests.
func (o *Orchestrator) Wait(id string, poll time.Duration) (types.Aggregate, error) {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	for {
		agg, err := o.Status(id)
		if err != nil {
			return types.Aggregate{}, err
		}
		if agg.Status != types.JobRunning {
			return agg, nil
		}
		time.Sleep(poll)
	}
}

// deregister removes a job whose setup failed after slot reservation.
func (o *Orchestrator) deregister(id string) {
	o.mu.Lock()
	delete(o.jobs, id)
	o.mu.Unlock()
}

// sweepLocked drops finished jobs past the retention window. Running jobs are
// never removed. Caller holds o.mu.
func (o *Orchestrator) sweepLocked() {
	cutoff := time.Now().UTC().Add(-o.cfg.Retention)
	for id, j := range o.jobs {
		j.mu.Lock()
		expired := j.endTime != nil && j.endTime.Before(cutoff)
		j.mu.Unlock()
		if expired {
			delete(o.jobs, id)
		}
	}
}
