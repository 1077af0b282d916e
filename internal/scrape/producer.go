// Package scrape provides the per-area record producers that feed the job
// pipeline. The default producer drives a headless browser against Google
// Maps; tests substitute in-memory producers through the Factory.
package scrape

import (
	"context"
	"errors"

	"github.com/jonathan/places-scraper/internal/types"
)

// ErrExhausted signals that a producer has no further records for its area.
// It is the normal termination of a sub-job, not a failure.
var ErrExhausted = errors.New("producer exhausted")

// Producer yields raw records for one area, one at a time. A Producer is
// sequential and finite: Next returns ErrExhausted once the area's listings
// run out, or a *ProducerError when extraction fails unrecoverably.
// Producers that hold external resources also implement io.Closer.
type Producer interface {
	Next(ctx context.Context) (*types.Record, error)
}

// Factory builds one Producer per area for a submitted job.
type Factory func(spec types.JobSpec, area string) Producer
