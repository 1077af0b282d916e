package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/places-scraper/internal/types"
)

func TestPrintJobSpec(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintJobSpec("job-1", types.JobSpec{
		BusinessType:   "textile shops",
		Areas:          []string{"Adyar", "Velachery"},
		ResultsPerArea: 5,
		OutputFile:     "textiles.csv",
		Append:         true,
	})

	out := buf.String()
	assert.Contains(t, out, "SCRAPING JOB")
	assert.Contains(t, out, "textile shops")
	assert.Contains(t, out, "5 per area (10 total)")
	assert.Contains(t, out, "(append)")
	assert.Contains(t, out, "Adyar")
	assert.Contains(t, out, "Velachery")
}

func TestPrintRecord(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintRecord("Adyar", &types.Record{Name: "Murugan Idli Shop", Address: "Besant Nagar"})
	out := buf.String()
	assert.Contains(t, out, "Murugan Idli Shop")
	assert.Contains(t, out, "Besant Nagar")
	assert.Contains(t, out, "[Adyar]")

	buf.Reset()
	p.PrintRecord("Adyar", nil)
	assert.Empty(t, buf.String(), "nil records print nothing")
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintProgress(types.ProgressEvent{
		Area:       "Guindy",
		AreaStatus: types.AreaFailed,
		Accepted:   2,
		Duplicates: 1,
		Error:      "browser session lost",
	})

	out := buf.String()
	assert.Contains(t, out, "Guindy")
	assert.Contains(t, out, "2 accepted")
	assert.Contains(t, out, "browser session lost")
}

func TestPrintAggregate(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintAggregate(types.Aggregate{
		Status:      types.JobCompleted,
		Accepted:    9,
		Duplicates:  2,
		TotalTarget: 10,
		Areas: []types.AreaState{
			{Area: "Adyar", Status: types.AreaCompleted, Accepted: 5},
			{Area: "Velachery", Status: types.AreaFailed, Accepted: 4, Duplicates: 2},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "JOB COMPLETED")
	assert.Contains(t, out, "9 / 10 target")
	assert.Contains(t, out, "Adyar")
	assert.Contains(t, out, "Velachery")
}
