package ingest

import (
	"strings"
	"time"
	"unicode"
)

// DefaultCurrency is assumed when the extraction service omits one.
const DefaultCurrency = "EUR"

// Draft is the structured receipt produced by the field-extraction service.
type Draft struct {
	Store    DraftStore  `json:"store" validate:"required"`
	Datetime time.Time   `json:"datetime"`
	Currency string      `json:"currency"`
	Lines    []DraftLine `json:"lines" validate:"dive"`
	Totals   DraftTotals `json:"totals"`
}

// DraftStore is the store block of a draft.
type DraftStore struct {
	Name       string  `json:"name" validate:"required"`
	Address    *string `json:"address,omitempty"`
	City       *string `json:"city,omitempty"`
	Chain      *string `json:"chain,omitempty"`
	PostalCode *string `json:"postalCode,omitempty"`
	VATNumber  *string `json:"vatNumber,omitempty"`
}

// DraftLine is one extracted receipt line. WeightKg and PricePerKg are only
// present for weight-priced items.
type DraftLine struct {
	LabelRaw   string   `json:"labelRaw" validate:"required"`
	Qty        float64  `json:"qty"`
	UnitPrice  float64  `json:"unitPrice"`
	LineTotal  float64  `json:"lineTotal"`
	VATRate    *float64 `json:"vatRate,omitempty"`
	WeightKg   *float64 `json:"weightKg,omitempty"`
	PricePerKg *float64 `json:"pricePerKg,omitempty"`
}

// DraftTotals carries the receipt-level amounts.
type DraftTotals struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
}

// paymentMarkers flag rows that describe the transaction rather than a
// purchased item.
var paymentMarkers = []string{
	"totale", "subtotale", "pagato", "contante", "resto",
	"iban", "carta", "tessera", "sconto",
}

// looksLikeTotalOrPayment reports whether a draft line is a total, payment or
// discount row. Rows without a single letter (barcode and amount rows) are
// also filtered.
func looksLikeTotalOrPayment(label string) bool {
	s := strings.ToLower(strings.TrimSpace(label))
	if s == "" {
		return false
	}
	for _, marker := range paymentMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
