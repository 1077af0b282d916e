// Package output commits accepted records to the shared artifact in batches.
package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/jonathan/places-scraper/internal/types"
)

// DefaultBatchSize is the number of buffered records that triggers a flush.
const DefaultBatchSize = 20

// Writer buffers accepted records and appends them to the artifact one batch
// at a time. Exactly one Writer exists per job; every sub-job runner funnels
// through it, so the Writer serializes artifact access. Buffering, flushing
// and closing share one mutex — concurrent writers never interleave partial
// batches.
type Writer struct {
	mu        sync.Mutex
	f         *os.File
	path      string
	batchSize int
	pending   [][]string
	rows      int
	closed    bool
}

// NewWriter opens the artifact at path. In fresh mode the file is truncated
// and the header row is written immediately. In append mode an existing
// file's header is trusted and never re-emitted; if the file is missing or
// empty the header is written as in fresh mode.
func NewWriter(path string, appendMode bool, batchSize int) (*Writer, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact %s: %w", path, err)
	}

	w := &Writer{
		f:         f,
		path:      path,
		batchSize: batchSize,
		pending:   make([][]string, 0, batchSize),
	}

	needHeader := !appendMode
	if appendMode {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to stat artifact %s: %w", path, err)
		}
		needHeader = info.Size() == 0
	}
	if needHeader {
		if err := w.writeRows([][]string{types.CSVHeader()}); err != nil {
			f.Close()
			return nil, err
		}
	}
	return w, nil
}

// Write buffers one accepted record, flushing automatically once the batch
// threshold is reached.
func (w *Writer) Write(r *types.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("write to closed artifact %s", w.path)
	}
	w.pending = append(w.pending, r.CSVRow())
	if len(w.pending) >= w.batchSize {
		return w.flushLocked()
	}
	return nil
}

// Flush commits all buffered records as one append and clears the buffer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.flushLocked()
}

// Close flushes any remaining buffered records and finalizes the artifact.
// Close is idempotent; the file ends in a fully-flushed state even if a
// sub-job failed mid-stream.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	flushErr := w.flushLocked()
	syncErr := w.f.Sync()
	closeErr := w.f.Close()
	w.closed = true

	if flushErr != nil {
		return flushErr
	}
	if syncErr != nil {
		return fmt.Errorf("failed to sync artifact %s: %w", w.path, syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close artifact %s: %w", w.path, closeErr)
	}
	return nil
}

// Rows returns the number of data rows written in this run.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Path returns the artifact location.
func (w *Writer) Path() string {
	return w.path
}

// flushLocked encodes the pending batch into one buffer and hands it to the
// file in a single write, so a batch lands in the artifact atomically with
// respect to other flushes. Caller holds w.mu.
func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	if err := w.writeRows(w.pending); err != nil {
		return err
	}
	w.rows += len(w.pending)
	w.pending = w.pending[:0]
	return nil
}

func (w *Writer) writeRows(rows [][]string) error {
	var buf bytes.Buffer
	enc := csv.NewWriter(&buf)
	for _, row := range rows {
		if err := enc.Write(row); err != nil {
			return fmt.Errorf("failed to encode artifact row: %w", err)
		}
	}
	enc.Flush()
	if err := enc.Error(); err != nil {
		return fmt.Errorf("failed to encode artifact batch: %w", err)
	}
	if _, err := w.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append to artifact %s: %w", w.path, err)
	}
	return nil
}
