// Package types provides type definitions for structured data used throughout the places-scraper system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import "strconv"

// Record represents one scraped business entity. A Record is immutable once
// produced by a scraper; it is either discarded as a duplicate or handed to
// the output writer.
type Record struct {
	Name           string  `json:"name"`
	Address        string  `json:"address"`
	Website        string  `json:"website"`
	Phone          string  `json:"phone"`
	ReviewsCount   int     `json:"reviews_count"`
	ReviewsAverage float64 `json:"reviews_average"`
	StoreShopping  bool    `json:"store_shopping"`
	InStorePickup  bool    `json:"in_store_pickup"`
	StoreDelivery  bool    `json:"store_delivery"`
	Category       string  `json:"category"`
	OpensAt        string  `json:"opens_at"`
	Introduction   string  `json:"introduction"`
}

// CSVHeader returns the fixed column set of the output artifact.
// The column order is part of the artifact contract: append-mode writes
// assume an existing file uses exactly this layout.
func CSVHeader() []string {
	return []string{
		"name",
		"address",
		"website",
		"phone",
		"reviews_count",
		"reviews_average",
		"store_shopping",
		"in_store_pickup",
		"store_delivery",
		"category",
		"opens_at",
		"introduction",
	}
}

// CSVRow renders the record as one artifact row, matching CSVHeader.
func (r *Record) CSVRow() []string {
	return []string{
		r.Name,
		r.Address,
		r.Website,
		r.Phone,
		strconv.Itoa(r.ReviewsCount),
		strconv.FormatFloat(r.ReviewsAverage, 'f', -1, 64),
		yesNo(r.StoreShopping),
		yesNo(r.InStorePickup),
		yesNo(r.StoreDelivery),
		r.Category,
		r.OpensAt,
		r.Introduction,
	}
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
