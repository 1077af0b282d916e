package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/jonathan/places-scraper/internal/dedup"
	"github.com/jonathan/places-scraper/internal/output"
	"github.com/jonathan/places-scraper/internal/scrape"
	"github.com/jonathan/places-scraper/internal/types"
)

// runner executes one area's extraction-to-write pipeline. Producer failures
// terminate only this runner (recorded as the sub-job's Failed state); only a
// shared-writer failure is returned as an error, which aborts the whole job.
type runner struct {
	job           *job
	state         *types.AreaState
	producer      scrape.Producer
	gate          *dedup.Gate
	writer        *output.Writer
	bus           *Bus
	cap           int
	metricsWindow time.Duration
}

func (r *runner) run(ctx context.Context) error {
	// A cancel that lands before the runner starts fails it without running.
	if err := ctx.Err(); err != nil {
		r.fail(r.job.abortReason())
		return nil
	}

	r.job.markAreaRunning(r.state)
	r.publish()

	if c, ok := r.producer.(io.Closer); ok {
		defer c.Close()
	}

	for r.state.Accepted < r.cap {
		if err := ctx.Err(); err != nil {
			r.fail(r.job.abortReason())
			return nil
		}

		rec, err := r.producer.Next(ctx)
		if errors.Is(err, scrape.ErrExhausted) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				r.fail(r.job.abortReason())
				return nil
			}
			log.Printf("[Runner] area %s failed: %v", r.state.Area, err)
			r.fail(err.Error())
			return nil
		}

		if !r.gate.Admit(rec) {
			r.job.noteDuplicate(r.state)
			r.publish()
			continue
		}

		if werr := r.writer.Write(rec); werr != nil {
			// The writer is shared: its failure is fatal to every sub-job.
			r.job.noteAbort("output writer failed: " + werr.Error())
			r.fail(r.job.abortReason())
			return fmt.Errorf("writer failure in area %s: %w", r.state.Area, werr)
		}
		r.job.noteAccepted(r.state, rec, r.metricsWindow)
		ev := r.job.event(r.state)
		ev.Record = rec
		r.bus.Publish(ev)
	}

	r.job.markAreaTerminal(r.state, types.AreaCompleted, "")
	r.publish()
	return nil
}

func (r *runner) fail(detail string) {
	r.job.markAreaTerminal(r.state, types.AreaFailed, detail)
	r.publish()
}

func (r *runner) publish() {
	r.bus.Publish(r.job.event(r.state))
}
