package jobs

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/places-scraper/internal/scrape"
	"github.com/jonathan/places-scraper/internal/types"
)

// fakeProducer replays a fixed stream of records, optionally failing or
// blocking, standing in for the browser-backed producer.
type fakeProducer struct {
	mu       sync.Mutex
	recs     []*types.Record
	idx      int
	errAfter int           // fail once this many records were served; -1 disables
	block    chan struct{} // when non-nil, Next waits for close or ctx
}

func (p *fakeProducer) Next(ctx context.Context) (*types.Record, error) {
	if p.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.block:
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.errAfter >= 0 && p.idx >= p.errAfter {
		return nil, errors.New("browser session lost")
	}
	if p.idx >= len(p.recs) {
		return nil, scrape.ErrExhausted
	}
	r := p.recs[p.idx]
	p.idx++
	return r, nil
}

// fakeFactory hands each area its canned producer. Unknown areas exhaust
// immediately.
func fakeFactory(producers map[string]*fakeProducer) scrape.Factory {
	return func(_ types.JobSpec, area string) scrape.Producer {
		if p, ok := producers[area]; ok {
			return p
		}
		return &fakeProducer{errAfter: -1}
	}
}

func listing(name, address string) *types.Record {
	return &types.Record{Name: name, Address: address}
}

func listings(area string, n int) []*types.Record {
	recs := make([]*types.Record, n)
	for i := 0; i < n; i++ {
		recs[i] = listing(fmt.Sprintf("%s Business %d", area, i), fmt.Sprintf("%d %s Main Road", i, area))
	}
	return recs
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		OutputDir:         t.TempDir(),
		BatchSize:         2,
		MaxConcurrentJobs: 10,
	}
}

func countDataRows(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return len(rows) - 1
}

func TestJobCapsPerAreaAndExhaustion(t *testing.T) {
	// One area has more supply than the cap, the other runs dry early.
	adyar := listings("Adyar", 8)
	adyar[3] = listing(adyar[1].Name, adyar[1].Address) // duplicate in the stream

	producers := map[string]*fakeProducer{
		"Adyar":     {recs: adyar, errAfter: -1},
		"Velachery": {recs: listings("Velachery", 4), errAfter: -1},
	}

	cfg := testConfig(t)
	orch := New(cfg, fakeFactory(producers), NewBus(), nil)

	id, err := orch.Submit(types.JobSpec{
		BusinessType:   "textile shops",
		Areas:          []string{"Adyar", "Velachery"},
		ResultsPerArea: 5,
		OutputFile:     "textiles.csv",
	})
	require.NoError(t, err)

	agg, err := orch.Wait(id, 10*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, types.JobCompleted, agg.Status)
	assert.Equal(t, 9, agg.Accepted)
	assert.Equal(t, 1, agg.Duplicates)
	assert.Equal(t, 10, agg.TotalTarget)

	byArea := map[string]types.AreaState{}
	for _, a := range agg.Areas {
		byArea[a.Area] = a
	}
	assert.Equal(t, 5, byArea["Adyar"].Accepted, "supply above the cap is trimmed")
	assert.Equal(t, 4, byArea["Velachery"].Accepted, "exhaustion below the cap completes short")
	assert.Equal(t, types.AreaCompleted, byArea["Adyar"].Status)
	assert.Equal(t, types.AreaCompleted, byArea["Velachery"].Status)

	assert.Equal(t, 9, countDataRows(t, filepath.Join(cfg.OutputDir, "textiles.csv")))
}

func TestAreaFailureDoesNotAbortSiblings(t *testing.T) {
	producers := map[string]*fakeProducer{
		"Anna Nagar": {recs: listings("Anna Nagar", 5), errAfter: 2},
		"Guindy":     {recs: listings("Guindy", 3), errAfter: -1},
	}

	cfg := testConfig(t)
	orch := New(cfg, fakeFactory(producers), NewBus(), nil)

	id, err := orch.Submit(types.JobSpec{
		BusinessType:   "pharmacies",
		Areas:          []string{"Anna Nagar", "Guindy"},
		ResultsPerArea: 3,
		OutputFile:     "pharmacies.csv",
	})
	require.NoError(t, err)

	agg, err := orch.Wait(id, 10*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, types.JobCompleted, agg.Status, "partial success completes the job")

	byArea := map[string]types.AreaState{}
	for _, a := range agg.Areas {
		byArea[a.Area] = a
	}
	assert.Equal(t, types.AreaFailed, byArea["Anna Nagar"].Status)
	assert.Contains(t, byArea["Anna Nagar"].Error, "browser session lost")
	assert.Equal(t, 2, byArea["Anna Nagar"].Accepted, "records before the failure are kept")
	assert.Equal(t, types.AreaCompleted, byArea["Guindy"].Status)
	assert.Equal(t, 3, byArea["Guindy"].Accepted)

	assert.Equal(t, 5, countDataRows(t, filepath.Join(cfg.OutputDir, "pharmacies.csv")))
}

func TestAllAreasFailedFailsJob(t *testing.T) {
	producers := map[string]*fakeProducer{
		"Adyar":  {errAfter: 0},
		"Guindy": {errAfter: 0},
	}

	orch := New(testConfig(t), fakeFactory(producers), NewBus(), nil)

	id, err := orch.Submit(types.JobSpec{
		BusinessType:   "gyms",
		Areas:          []string{"Adyar", "Guindy"},
		ResultsPerArea: 3,
		OutputFile:     "gyms.csv",
	})
	require.NoError(t, err)

	agg, err := orch.Wait(id, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, agg.Status)
	assert.Equal(t, "all areas failed", agg.Error)
}

func TestCrossAreaDeduplication(t *testing.T) {
	// The same business shows up in both area streams; only one copy lands.
	shared := listing("Chain Store", "1 Arterial Road")
	producers := map[string]*fakeProducer{
		"North": {recs: []*types.Record{shared, listing("North Cafe", "2 North St")}, errAfter: -1},
		"South": {recs: []*types.Record{shared, listing("South Cafe", "2 South St")}, errAfter: -1},
	}

	cfg := testConfig(t)
	orch := New(cfg, fakeFactory(producers), NewBus(), nil)

	id, err := orch.Submit(types.JobSpec{
		BusinessType:   "cafes",
		Areas:          []string{"North", "South"},
		ResultsPerArea: 5,
		OutputFile:     "cafes.csv",
	})
	require.NoError(t, err)

	agg, err := orch.Wait(id, 10*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, 3, agg.Accepted)
	assert.Equal(t, 1, agg.Duplicates)
	assert.Equal(t, 3, countDataRows(t, filepath.Join(cfg.OutputDir, "cafes.csv")))
}

func TestAppendModeSeedsFromArtifact(t *testing.T) {
	cfg := testConfig(t)

	first := map[string]*fakeProducer{
		"Adyar": {recs: listings("Adyar", 3), errAfter: -1},
	}
	orch := New(cfg, fakeFactory(first), NewBus(), nil)
	id, err := orch.Submit(types.JobSpec{
		BusinessType:   "bakeries",
		Areas:          []string{"Adyar"},
		ResultsPerArea: 5,
		OutputFile:     "bakeries.csv",
	})
	require.NoError(t, err)
	_, err = orch.Wait(id, 10*time.Millisecond)
	require.NoError(t, err)

	// Second run appends; its stream repeats the first run's records plus
	// two new ones.
	recs := append(listings("Adyar", 3), listing("New Bakery", "9 Fresh Lane"), listing("Other Bakery", "10 Fresh Lane"))
	second := map[string]*fakeProducer{
		"Adyar": {recs: recs, errAfter: -1},
	}
	orch2 := New(cfg, fakeFactory(second), NewBus(), nil)
	id2, err := orch2.Submit(types.JobSpec{
		BusinessType:   "bakeries",
		Areas:          []string{"Adyar"},
		ResultsPerArea: 5,
		OutputFile:     "bakeries.csv",
		Append:         true,
	})
	require.NoError(t, err)
	agg, err := orch2.Wait(id2, 10*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, 2, agg.Accepted, "records already on disk are duplicates")
	assert.Equal(t, 3, agg.Duplicates)
	assert.Equal(t, 5, countDataRows(t, filepath.Join(cfg.OutputDir, "bakeries.csv")))
}

func TestSubmitRejectsInvalidSpec(t *testing.T) {
	orch := New(testConfig(t), fakeFactory(nil), NewBus(), nil)

	tests := []struct {
		name string
		spec types.JobSpec
	}{
		{"Missing business type", types.JobSpec{Areas: []string{"A"}, ResultsPerArea: 1, OutputFile: "x.csv"}},
		{"No areas", types.JobSpec{BusinessType: "shops", ResultsPerArea: 1, OutputFile: "x.csv"}},
		{"Empty area", types.JobSpec{BusinessType: "shops", Areas: []string{""}, ResultsPerArea: 1, OutputFile: "x.csv"}},
		{"Zero target", types.JobSpec{BusinessType: "shops", Areas: []string{"A"}, OutputFile: "x.csv"}},
		{"Missing output", types.JobSpec{BusinessType: "shops", Areas: []string{"A"}, ResultsPerArea: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := orch.Submit(tt.spec)
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
}

func TestSubmitBoundsConcurrentJobs(t *testing.T) {
	gate := make(chan struct{})
	producers := map[string]*fakeProducer{
		"Slow": {recs: listings("Slow", 1), errAfter: -1, block: gate},
	}

	cfg := testConfig(t)
	cfg.MaxConcurrentJobs = 1
	orch := New(cfg, fakeFactory(producers), NewBus(), nil)

	spec := types.JobSpec{
		BusinessType:   "shops",
		Areas:          []string{"Slow"},
		ResultsPerArea: 1,
		OutputFile:     "slow.csv",
	}

	id, err := orch.Submit(spec)
	require.NoError(t, err)

	spec.OutputFile = "second.csv"
	_, err = orch.Submit(spec)
	assert.ErrorIs(t, err, ErrTooManyJobs)

	close(gate)
	_, err = orch.Wait(id, 10*time.Millisecond)
	require.NoError(t, err)

	// Capacity is released once the first job finishes.
	spec.OutputFile = "third.csv"
	id3, err := orch.Submit(spec)
	require.NoError(t, err)
	_, err = orch.Wait(id3, 10*time.Millisecond)
	require.NoError(t, err)
}

func TestCancelFailsRunningJob(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	producers := map[string]*fakeProducer{
		"Blocked": {recs: listings("Blocked", 5), errAfter: -1, block: gate},
	}

	orch := New(testConfig(t), fakeFactory(producers), NewBus(), nil)

	id, err := orch.Submit(types.JobSpec{
		BusinessType:   "shops",
		Areas:          []string{"Blocked"},
		ResultsPerArea: 5,
		OutputFile:     "blocked.csv",
	})
	require.NoError(t, err)

	require.NoError(t, orch.Cancel(id))

	agg, err := orch.Wait(id, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, agg.Status)
	assert.Equal(t, "cancelled by caller", agg.Error)
	require.Len(t, agg.Areas, 1)
	assert.Equal(t, types.AreaFailed, agg.Areas[0].Status)
	assert.Equal(t, "cancelled by caller", agg.Areas[0].Error)

	assert.Error(t, orch.Cancel(id), "cancelling a finished job errors")
}

func TestStatusUnknownJob(t *testing.T) {
	orch := New(testConfig(t), fakeFactory(nil), NewBus(), nil)
	_, err := orch.Status("no-such-id")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, orch.Cancel("no-such-id"), ErrJobNotFound)
}

func TestArtifactPathRequiresCompletion(t *testing.T) {
	producers := map[string]*fakeProducer{
		"Adyar": {errAfter: 0},
	}
	cfg := testConfig(t)
	orch := New(cfg, fakeFactory(producers), NewBus(), nil)

	id, err := orch.Submit(types.JobSpec{
		BusinessType:   "shops",
		Areas:          []string{"Adyar"},
		ResultsPerArea: 1,
		OutputFile:     "shops.csv",
	})
	require.NoError(t, err)
	_, err = orch.Wait(id, 10*time.Millisecond)
	require.NoError(t, err)

	_, err = orch.ArtifactPath(id)
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestRegistrySweepDropsExpiredJobs(t *testing.T) {
	producers := map[string]*fakeProducer{
		"Adyar": {recs: listings("Adyar", 1), errAfter: -1},
	}
	cfg := testConfig(t)
	cfg.Retention = time.Millisecond
	orch := New(cfg, fakeFactory(producers), NewBus(), nil)

	id, err := orch.Submit(types.JobSpec{
		BusinessType:   "shops",
		Areas:          []string{"Adyar"},
		ResultsPerArea: 1,
		OutputFile:     "shops.csv",
	})
	require.NoError(t, err)
	_, err = orch.Wait(id, 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, orch.List())
	_, err = orch.Status(id)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestListNewestFirst(t *testing.T) {
	cfg := testConfig(t)
	orch := New(cfg, fakeFactory(map[string]*fakeProducer{
		"Adyar": {recs: listings("Adyar", 1), errAfter: -1},
	}), NewBus(), nil)

	spec := types.JobSpec{
		BusinessType:   "shops",
		Areas:          []string{"Adyar"},
		ResultsPerArea: 1,
		OutputFile:     "a.csv",
	}
	first, err := orch.Submit(spec)
	require.NoError(t, err)
	_, err = orch.Wait(first, 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	spec.OutputFile = "b.csv"
	spec.Append = true
	second, err := orch.Submit(spec)
	require.NoError(t, err)
	_, err = orch.Wait(second, 10*time.Millisecond)
	require.NoError(t, err)

	aggs := orch.List()
	require.Len(t, aggs, 2)
	assert.Equal(t, second, aggs[0].JobID)
	assert.Equal(t, first, aggs[1].JobID)
}

func TestSubscribeAfterCompletionClosesChannel(t *testing.T) {
	producers := map[string]*fakeProducer{
		"Adyar": {recs: listings("Adyar", 1), errAfter: -1},
	}
	orch := New(testConfig(t), fakeFactory(producers), NewBus(), nil)

	id, err := orch.Submit(types.JobSpec{
		BusinessType:   "shops",
		Areas:          []string{"Adyar"},
		ResultsPerArea: 1,
		OutputFile:     "shops.csv",
	})
	require.NoError(t, err)
	_, err = orch.Wait(id, 10*time.Millisecond)
	require.NoError(t, err)

	// Subscribing to an already finished job must not hand out a channel
	// that never closes.
	ch, err := orch.Subscribe(id)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("channel for a finished job was never closed")
	}
}

func TestSubmitConcurrentSubmissionsRespectBound(t *testing.T) {
	gate := make(chan struct{})
	blockingFactory := func(_ types.JobSpec, area string) scrape.Producer {
		return &fakeProducer{recs: listings(area, 1), errAfter: -1, block: gate}
	}

	cfg := testConfig(t)
	cfg.MaxConcurrentJobs = 2
	orch := New(cfg, blockingFactory, NewBus(), nil)

	spec := types.JobSpec{
		BusinessType:   "shops",
		Areas:          []string{"Adyar"},
		ResultsPerArea: 1,
		OutputFile:     "first.csv",
	}
	first, err := orch.Submit(spec)
	require.NoError(t, err)

	// One slot left; concurrent submissions must not both claim it.
	var wg sync.WaitGroup
	var mu sync.Mutex
	var accepted []string
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := spec
			s.OutputFile = fmt.Sprintf("racer-%d.csv", i)
			if id, err := orch.Submit(s); err == nil {
				mu.Lock()
				accepted = append(accepted, id)
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrTooManyJobs)
			}
		}(i)
	}
	wg.Wait()
	require.Len(t, accepted, 1, "exactly one submission takes the last slot")

	close(gate)
	_, err = orch.Wait(first, 10*time.Millisecond)
	require.NoError(t, err)
	_, err = orch.Wait(accepted[0], 10*time.Millisecond)
	require.NoError(t, err)
}

func TestProgressMetricsPopulated(t *testing.T) {
	producers := map[string]*fakeProducer{
		"Adyar": {recs: listings("Adyar", 10), errAfter: -1},
	}
	orch := New(testConfig(t), fakeFactory(producers), NewBus(), nil)

	id, err := orch.Submit(types.JobSpec{
		BusinessType:   "shops",
		Areas:          []string{"Adyar"},
		ResultsPerArea: 10,
		OutputFile:     "shops.csv",
	})
	require.NoError(t, err)
	agg, err := orch.Wait(id, 10*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, float64(100), agg.Progress)
	assert.Len(t, agg.RecentRecords, 10)
	assert.Equal(t, "Adyar Business 9", agg.RecentRecords[9].Name)
}
