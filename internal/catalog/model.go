package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Store identifies a retail chain or branch. NameNormalized is the dedup key
// and is unique across non-deleted stores.
type Store struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	NameNormalized string    `json:"name_normalized"`
	Chain          *string   `json:"chain,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// StoreAlias preserves a normalized name that used to identify a store, so a
// re-occurrence of the old name still resolves to the survivor.
type StoreAlias struct {
	ID              uuid.UUID `json:"id"`
	StoreID         uuid.UUID `json:"store_id"`
	AliasNormalized string    `json:"alias_normalized"`
}

// StoreLocation is a physical branch of a store.
type StoreLocation struct {
	ID         uuid.UUID `json:"id"`
	StoreID    uuid.UUID `json:"store_id"`
	Address    *string   `json:"address,omitempty"`
	City       *string   `json:"city,omitempty"`
	PostalCode *string   `json:"postal_code,omitempty"`
	VATNumber  *string   `json:"vat_number,omitempty"`
}

// Product is a catalog item resolvable from receipt line labels.
type Product struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Brand         *string    `json:"brand,omitempty"`
	GTIN          *string    `json:"gtin,omitempty"`
	ProductTypeID uuid.UUID  `json:"product_type_id"`
	CategoryID    *uuid.UUID `json:"category_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ProductAlias is alternate text known to refer to a product; used as a
// fast-path exact-match index.
type ProductAlias struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"product_id"`
	Alias     string    `json:"alias"`
}

// ProductType is a flat taxonomy of product kinds.
type ProductType struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Category is a shallow tree; ParentID links to the parent node. Cycle freedom
// is enforced at write time, not assumed from the schema.
type Category struct {
	ID       uuid.UUID  `json:"id"`
	Name     string     `json:"name"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
}

// Receipt is one scanned transaction together with its lines.
type Receipt struct {
	ID              uuid.UUID  `json:"id"`
	StoreID         uuid.UUID  `json:"store_id"`
	StoreLocationID *uuid.UUID `json:"store_location_id,omitempty"`
	Date            time.Time  `json:"date"`
	Currency        string     `json:"currency"`
	TaxTotal        *float64   `json:"tax_total,omitempty"`
	Total           float64    `json:"total"`
	RawText         *string    `json:"raw_text,omitempty"`
	ImageObjectKey  *string    `json:"image_object_key,omitempty"`
	Lines           []ReceiptLine
}

// ReceiptLine is one purchased item on a receipt. A line may reference a
// product without owning it.
type ReceiptLine struct {
	ID                   uuid.UUID  `json:"id"`
	ReceiptID            uuid.UUID  `json:"receipt_id"`
	ProductID            *uuid.UUID `json:"product_id,omitempty"`
	LabelRaw             string     `json:"label_raw"`
	Qty                  float64    `json:"qty"`
	UnitPrice            float64    `json:"unit_price"`
	LineTotal            float64    `json:"line_total"`
	VATRate              *float64   `json:"vat_rate,omitempty"`
	WeightKg             *float64   `json:"weight_kg,omitempty"`
	PricePerKg           *float64   `json:"price_per_kg,omitempty"`
	SortIndex            int        `json:"sort_index"`
	PredictedTypeID      *uuid.UUID `json:"predicted_type_id,omitempty"`
	PredictedCategoryID  *uuid.UUID `json:"predicted_category_id,omitempty"`
	PredictionConfidence *float64   `json:"prediction_confidence,omitempty"`
}

// PriceHistory is the minimum unit price observed for a (product, store,
// calendar day) key. At most one row per key.
type PriceHistory struct {
	ID         uuid.UUID `json:"id"`
	ProductID  uuid.UUID `json:"product_id"`
	StoreID    uuid.UUID `json:"store_id"`
	Date       time.Time `json:"date"`
	UnitPrice  float64   `json:"unit_price"`
	PricePerKg *float64  `json:"price_per_kg,omitempty"`
}

// StoreSnapshot is the cached projection used by the store resolver: the
// store, its chain label and its first location, if any.
type StoreSnapshot struct {
	ID       uuid.UUID
	Name     string
	Chain    *string
	Location *LocationSnapshot
}

// LocationSnapshot carries the location fields the resolver scores against.
type LocationSnapshot struct {
	Address    *string
	City       *string
	PostalCode *string
	VATNumber  *string
}
