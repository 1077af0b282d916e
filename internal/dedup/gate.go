package dedup

import (
	"encoding/csv"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"strings"

	"github.com/jonathan/places-scraper/internal/types"
)

// Sampling window bounds for fingerprinting. Identity content at or below
// minSampleWindow is digested in full; longer content contributes a
// proportional leading sample clipped to [minSampleWindow, maxSampleWindow].
const (
	minSampleWindow = 1024
	maxSampleWindow = 8192

	// adaptiveDivisor scales the sample window with content length.
	adaptiveDivisor = 4
)

// Fingerprint derives a deterministic 64-bit digest from a record's
// identity-bearing fields. Collisions are an accepted trade-off for speed.
func Fingerprint(name, address string) uint64 {
	key := normalize(name) + "\x1f" + normalize(address)

	window := len(key)
	if window > minSampleWindow {
		window = len(key) / adaptiveDivisor
		if window < minSampleWindow {
			window = minSampleWindow
		}
		if window > maxSampleWindow {
			window = maxSampleWindow
		}
	}

	h := fnv.New64a()
	h.Write([]byte(key[:window])) //nolint:errcheck // fnv never errors
	return h.Sum64()
}

// normalize lowercases and collapses whitespace so cosmetic differences in
// scraped text do not defeat duplicate detection.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Gate classifies incoming records as new or duplicate against a shared cache.
type Gate struct {
	cache *Cache
}

// NewGate wraps the given cache.
func NewGate(cache *Cache) *Gate {
	return &Gate{cache: cache}
}

// Admit reports whether the record should be written. On true the record is
// considered seen for the remainder of the cache's lifetime; there is no
// second chance.
func (g *Gate) Admit(r *types.Record) bool {
	return g.cache.ProbeAndMark(Fingerprint(r.Name, r.Address))
}

// SeedFromArtifact streams an existing output artifact and marks the
// fingerprint of every row, so append-mode runs treat records already on disk
// as duplicates. Only fingerprints are retained; the file is never
// materialized in memory. Returns the number of rows seeded.
func (g *Gate) SeedFromArtifact(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open artifact for seeding: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read artifact header: %w", err)
	}

	nameIdx, addrIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "name":
			nameIdx = i
		case "address":
			addrIdx = i
		}
	}
	if nameIdx < 0 {
		return 0, fmt.Errorf("artifact %s has no name column", path)
	}

	seeded := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Tolerate a ragged trailing row; everything before it is seeded.
			continue
		}
		name := field(row, nameIdx)
		address := field(row, addrIdx)
		if name == "" {
			continue
		}
		g.cache.ProbeAndMark(Fingerprint(name, address))
		seeded++
	}
	return seeded, nil
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
