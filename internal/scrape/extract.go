package scrape

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/places-scraper/internal/types"
)

// ParsePlace extracts a business record from the rendered HTML of a Google
// Maps place page. Missing fields stay zero-valued; a record without a name
// is considered empty and skipped by the producer.
func ParsePlace(htmlContent string) (*types.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, &ProducerError{Message: "failed to parse place HTML", Cause: err}
	}

	rec := &types.Record{}
	rec.Name = text(doc, "h1.DUwDvf")
	rec.Address = text(doc, `button[data-item-id='address'] div.fontBodyMedium`)
	rec.Website = text(doc, `a[data-item-id='authority'] div.fontBodyMedium`)
	rec.Phone = text(doc, `button[data-item-id^='phone:tel:'] div.fontBodyMedium`)
	rec.Category = text(doc, `div.LBgpqf button.DkEaL`)
	rec.Introduction = text(doc, `div.WeS02d div.PYvSYb`)

	rec.ReviewsCount = parseReviewCount(text(doc, `div.TIHn2 div.fontBodyMedium span[aria-label]`))
	rec.ReviewsAverage = parseReviewAverage(text(doc, `div.TIHn2 div.fontBodyMedium span[aria-hidden]`))

	doc.Find("div.LTs0Rc").Each(func(_ int, s *goquery.Selection) {
		applyServiceFlags(rec, s.Text())
	})

	rec.OpensAt = parseOpensAt(text(doc, `button[data-item-id*='oh'] div.fontBodyMedium`))
	if rec.OpensAt == "" {
		rec.OpensAt = parseOpensAt(text(doc, `div.MkV9 span.ZDu9vd span`))
	}

	return rec, nil
}

func text(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

// parseReviewCount turns strings like "(1,234)" into an integer.
func parseReviewCount(raw string) int {
	cleaner := strings.NewReplacer(" ", "", "(", "", ")", "", ",", "")
	n, err := strconv.Atoi(strings.TrimSpace(cleaner.Replace(raw)))
	if err != nil {
		return 0
	}
	return n
}

// parseReviewAverage handles both "4.5" and locale-formatted "4,5".
func parseReviewAverage(raw string) float64 {
	clean := strings.ReplaceAll(strings.ReplaceAll(raw, " ", ""), ",", ".")
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0
	}
	return v
}

// applyServiceFlags reads one service-info line ("In-store shopping · ...")
// and sets the matching flags.
func applyServiceFlags(rec *types.Record, line string) {
	if !strings.Contains(line, "·") {
		return
	}
	parts := strings.SplitN(line, "·", 2)
	check := strings.ToLower(strings.ReplaceAll(parts[1], "\n", ""))
	if strings.Contains(check, "shop") {
		rec.StoreShopping = true
	}
	if strings.Contains(check, "pickup") {
		rec.InStorePickup = true
	}
	if strings.Contains(check, "delivery") {
		rec.StoreDelivery = true
	}
}

// parseOpensAt strips the status prefix ("Open ⋅ Closes 9 pm" → "Closes 9 pm")
// and the narrow no-break spaces Maps embeds in times.
func parseOpensAt(raw string) string {
	raw = strings.ReplaceAll(raw, "\u202f", "")
	if strings.Contains(raw, "⋅") {
		parts := strings.SplitN(raw, "⋅", 2)
		return strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(raw)
}
