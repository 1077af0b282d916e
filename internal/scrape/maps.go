package scrape

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jonathan/places-scraper/internal/types"
)

// MapsConfig controls the headless-browser producer.
type MapsConfig struct {
	// Region is appended to every search query, e.g. "Chennai, Tamil Nadu, India".
	Region string
	// Headless disables the visible browser window.
	Headless bool
	// NavigationTimeout bounds page loads.
	NavigationTimeout time.Duration
	// ScrollDelay is the pause between results-feed scrolls.
	ScrollDelay time.Duration
	// MaxScrollAttempts bounds the results-feed scroll loop.
	MaxScrollAttempts int
	// Verbose enables per-listing logging.
	Verbose bool
}

// DefaultMapsConfig returns the production settings.
func DefaultMapsConfig() MapsConfig {
	return MapsConfig{
		Headless:          true,
		NavigationTimeout: 30 * time.Second,
		ScrollDelay:       500 * time.Millisecond,
		MaxScrollAttempts: 200,
	}
}

// NewMapsFactory returns a Factory producing headless-browser scrapers, one
// per area. Requires Chrome/Chromium to be installed on the system.
func NewMapsFactory(cfg MapsConfig) Factory {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.ScrollDelay <= 0 {
		cfg.ScrollDelay = 500 * time.Millisecond
	}
	if cfg.MaxScrollAttempts <= 0 {
		cfg.MaxScrollAttempts = 200
	}
	return func(spec types.JobSpec, area string) Producer {
		return &mapsProducer{
			cfg:    cfg,
			area:   area,
			query:  buildQuery(spec.BusinessType, area, cfg.Region),
			target: spec.ResultsPerArea,
		}
	}
}

func buildQuery(businessType, area, region string) string {
	q := fmt.Sprintf("%s in %s", businessType, area)
	if region != "" {
		q += ", " + region
	}
	return q
}

// mapsProducer collects place URLs from the results feed on first use, then
// visits them one at a time. A producer is driven by a single runner, so it
// needs no internal locking.
type mapsProducer struct {
	cfg    MapsConfig
	area   string
	query  string
	target int

	started    bool
	browserCtx context.Context
	cancels    []context.CancelFunc
	urls       []string
	idx        int
}

// Next yields the next extractable record, skipping listings whose detail
// page fails to load. Returns ErrExhausted when the collected listings run out.
func (p *mapsProducer) Next(ctx context.Context) (*types.Record, error) {
	if !p.started {
		p.started = true
		if err := p.start(ctx); err != nil {
			return nil, &ProducerError{Area: p.area, Message: "failed to open results feed", Cause: err}
		}
	}

	for p.idx < len(p.urls) {
		placeURL := p.urls[p.idx]
		p.idx++

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := p.extract(placeURL)
		if err != nil {
			if p.cfg.Verbose {
				log.Printf("[Maps] %s: skipping listing: %v", p.area, err)
			}
			continue
		}
		if rec.Name == "" {
			continue
		}
		return rec, nil
	}
	return nil, ErrExhausted
}

// Close releases the browser contexts.
func (p *mapsProducer) Close() error {
	for i := len(p.cancels) - 1; i >= 0; i-- {
		p.cancels[i]()
	}
	p.cancels = nil
	return nil
}

// start launches the browser, runs the search, scrolls the results feed until
// the per-area target or the end-of-list marker, and records the place URLs.
func (p *mapsProducer) start(ctx context.Context) error {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", p.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
		)...,
	)
	p.cancels = append(p.cancels, cancel)

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	p.cancels = append(p.cancels, cancel)
	p.browserCtx = browserCtx

	searchURL := "https://www.google.com/maps/search/" + url.PathEscape(p.query) + "?hl=en"

	navCtx, cancel := context.WithTimeout(browserCtx, p.cfg.NavigationTimeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(searchURL),
		chromedp.WaitReady("body"),
		chromedp.WaitVisible(`a[href*="/maps/place/"]`, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("no results for %q: %w", p.query, err)
	}

	if err := p.scrollFeed(); err != nil {
		return err
	}

	var hrefs []string
	err = chromedp.Run(p.browserCtx,
		chromedp.Evaluate(
			`Array.from(document.querySelectorAll('a[href*="/maps/place/"]')).map(a => a.href)`,
			&hrefs,
		),
	)
	if err != nil {
		return fmt.Errorf("failed to collect listings: %w", err)
	}

	p.urls = dedupeURLs(hrefs)
	if p.cfg.Verbose {
		log.Printf("[Maps] %s: collected %d listings", p.area, len(p.urls))
	}
	return nil
}

// scrollFeed drives the results feed toward the bottom until enough listings
// are visible or Maps reports the end of the list.
func (p *mapsProducer) scrollFeed() error {
	const countExpr = `document.querySelectorAll('a[href*="/maps/place/"]').length`
	const endExpr = `document.body.innerText.toLowerCase().includes("reached the end of the list")`
	const scrollExpr = `(() => {
		const feed = document.querySelector('div[role="feed"]');
		if (feed) { feed.scrollBy(0, 15000); return true; }
		window.scrollBy(0, 15000); return false;
	})()`

	previous := 0
	stagnant := 0
	for attempt := 0; attempt < p.cfg.MaxScrollAttempts; attempt++ {
		var scrolled bool
		var found int
		var atEnd bool
		err := chromedp.Run(p.browserCtx,
			chromedp.Evaluate(scrollExpr, &scrolled),
			chromedp.Sleep(p.cfg.ScrollDelay),
			chromedp.Evaluate(countExpr, &found),
			chromedp.Evaluate(endExpr, &atEnd),
		)
		if err != nil {
			return fmt.Errorf("results feed scroll failed: %w", err)
		}

		if atEnd || found >= p.target {
			return nil
		}
		if found == previous {
			stagnant++
			// No growth over several aggressive scrolls means the feed is done
			// even without an explicit end-of-list marker.
			if stagnant >= 3 {
				return nil
			}
		} else {
			stagnant = 0
		}
		previous = found
	}
	return nil
}

// extract navigates to one place page and parses the rendered HTML.
func (p *mapsProducer) extract(placeURL string) (*types.Record, error) {
	navCtx, cancel := context.WithTimeout(p.browserCtx, p.cfg.NavigationTimeout)
	defer cancel()

	var html string
	err := chromedp.Run(navCtx,
		chromedp.Navigate(placeURL),
		chromedp.WaitVisible(`h1.DUwDvf`, chromedp.ByQuery),
		chromedp.Sleep(800*time.Millisecond),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, fmt.Errorf("place page did not load: %w", err)
	}
	return ParsePlace(html)
}

func dedupeURLs(hrefs []string) []string {
	seen := make(map[string]bool, len(hrefs))
	out := make([]string, 0, len(hrefs))
	for _, h := range hrefs {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}
