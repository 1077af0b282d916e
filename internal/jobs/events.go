// Package jobs provides the area-job orchestrator: per-area sub-job runners,
// the shared dedup/write pipeline, and live progress broadcasting.
package jobs

import (
	"sync"

	"github.com/jonathan/places-scraper/internal/types"
)

// subscriberBuffer is the per-subscriber event channel depth. A subscriber
// that falls this far behind starts losing events; the status snapshot is the
// recovery path.
const subscriberBuffer = 64

// Bus is a multiple-producer/multiple-consumer broadcast of progress events.
// Publishing never blocks: events to a full or absent subscriber are dropped.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[chan types.ProgressEvent]struct{}
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan types.ProgressEvent]struct{})}
}

// Subscribe registers a listener for one job's events. The returned channel
// is closed by CloseJob or Unsubscribe; callers subscribing after CloseJob
// must close it themselves (the orchestrator does this via Unsubscribe).
func (b *Bus) Subscribe(jobID string) chan types.ProgressEvent {
	ch := make(chan types.ProgressEvent, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan types.ProgressEvent]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a listener channel. Safe to call after the
// job has already closed its subscribers.
func (b *Bus) Unsubscribe(jobID string, ch chan types.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	listeners, ok := b.subs[jobID]
	if !ok {
		return
	}
	if _, ok := listeners[ch]; !ok {
		return
	}
	delete(listeners, ch)
	close(ch)
	if len(listeners) == 0 {
		delete(b.subs, jobID)
	}
}

// Publish broadcasts an event to all of the job's subscribers, best-effort.
func (b *Bus) Publish(ev types.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop rather than stall the runner.
		}
	}
}

// CloseJob closes every subscriber channel for a finished job.
func (b *Bus) CloseJob(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[jobID] {
		close(ch)
	}
	delete(b.subs, jobID)
}
