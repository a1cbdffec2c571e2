package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spendscan/spendscan/internal/matching"
	"github.com/spendscan/spendscan/internal/platform/db"
)

// NewStore describes a store to create because no existing one matched.
type NewStore struct {
	Name  string
	Chain *string
}

// NewLocation carries the branch fields extracted from the receipt.
type NewLocation struct {
	Address    *string
	City       *string
	PostalCode *string
	VATNumber  *string
}

// ReceiptGraph is the fully assembled receipt waiting to be committed. Either
// StoreID references an existing store or NewStore describes one to create.
type ReceiptGraph struct {
	StoreID        uuid.UUID
	NewStore       *NewStore
	Location       *NewLocation
	Date           time.Time
	Currency       string
	TaxTotal       *float64
	Total          float64
	RawText        *string
	ImageObjectKey *string
	Lines          []ReceiptLineInput
}

// ReceiptLineInput is one line of the graph; SortIndex is assigned from slice
// order on save.
type ReceiptLineInput struct {
	ProductID            *uuid.UUID
	LabelRaw             string
	Qty                  float64
	UnitPrice            float64
	LineTotal            float64
	VATRate              *float64
	WeightKg             *float64
	PricePerKg           *float64
	PredictedTypeID      *uuid.UUID
	PredictedCategoryID  *uuid.UUID
	PredictionConfidence *float64
}

// Writer commits a receipt graph and its derived price-history rows in one
// transaction: either everything persists or nothing does.
type Writer struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewWriter builds the writer over a connection pool.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{pool: pool, logger: logger}
}

// Save persists the receipt graph and appends one price-history observation
// per (product, store, day) for lines carrying a resolved product, taking the
// minimum unit price within the receipt and skipping keys that already have a
// row.
func (w *Writer) Save(ctx context.Context, graph *ReceiptGraph) (uuid.UUID, error) {
	receiptID := uuid.New()
	err := db.WithTx(ctx, w.pool, func(tx pgx.Tx) error {
		storeID := graph.StoreID
		if graph.NewStore != nil {
			id, err := w.insertStore(ctx, tx, graph.NewStore)
			if err != nil {
				return err
			}
			storeID = id
		}

		var locationID *uuid.UUID
		if graph.Location != nil && graph.Location.hasData() {
			id, err := w.insertLocation(ctx, tx, storeID, graph.Location)
			if err != nil {
				return err
			}
			locationID = &id
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO receipts (id, store_id, store_location_id, date, currency, tax_total, total, raw_text, image_object_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			receiptID, storeID, locationID, graph.Date, graph.Currency,
			graph.TaxTotal, graph.Total, graph.RawText, graph.ImageObjectKey)
		if err != nil {
			return fmt.Errorf("ingest: insert receipt: %w", err)
		}

		for i, line := range graph.Lines {
			_, err := tx.Exec(ctx, `
				INSERT INTO receipt_lines (id, receipt_id, product_id, label_raw, qty, unit_price, line_total,
					vat_rate, weight_kg, price_per_kg, sort_index,
					predicted_type_id, predicted_category_id, prediction_confidence)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
				uuid.New(), receiptID, line.ProductID, line.LabelRaw,
				line.Qty, line.UnitPrice, line.LineTotal,
				line.VATRate, line.WeightKg, line.PricePerKg, i,
				line.PredictedTypeID, line.PredictedCategoryID, line.PredictionConfidence)
			if err != nil {
				return fmt.Errorf("ingest: insert receipt line: %w", err)
			}
		}

		return appendPriceHistory(ctx, txPriceHistory{tx: tx}, storeID, graph)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return receiptID, nil
}

func (w *Writer) insertStore(ctx context.Context, tx pgx.Tx, ns *NewStore) (uuid.UUID, error) {
	// Two workers seeing the same unknown store at once collapse onto a
	// single row through the normalized-name key.
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		INSERT INTO stores (id, name, name_normalized, chain)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name_normalized) DO UPDATE SET name = stores.name
		RETURNING id`,
		uuid.New(), ns.Name, matching.Normalize(ns.Name), ns.Chain).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ingest: insert store: %w", err)
	}
	return id, nil
}

func (w *Writer) insertLocation(ctx context.Context, tx pgx.Tx, storeID uuid.UUID, loc *NewLocation) (uuid.UUID, error) {
	id := uuid.New()
	_, err := tx.Exec(ctx, `
		INSERT INTO store_locations (id, store_id, address, city, postal_code, vat_number)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, storeID, loc.Address, loc.City, loc.PostalCode, loc.VATNumber)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ingest: insert location: %w", err)
	}
	return id, nil
}

type priceObservation struct {
	unitPrice  float64
	pricePerKg *float64
}

// priceObservations reduces the lines carrying a resolved product to one
// observation per product: the minimum unit price on the receipt and the
// minimum positive price-per-kg.
func priceObservations(lines []ReceiptLineInput) map[uuid.UUID]priceObservation {
	byProduct := make(map[uuid.UUID]priceObservation)
	for _, line := range lines {
		if line.ProductID == nil {
			continue
		}
		obs, seen := byProduct[*line.ProductID]
		if !seen || line.UnitPrice < obs.unitPrice {
			obs.unitPrice = line.UnitPrice
		}
		if line.PricePerKg != nil && *line.PricePerKg > 0 {
			if obs.pricePerKg == nil || *line.PricePerKg < *obs.pricePerKg {
				obs.pricePerKg = line.PricePerKg
			}
		}
		byProduct[*line.ProductID] = obs
	}
	return byProduct
}

// priceHistory is the slice of storage the history append runs against.
type priceHistory interface {
	hasObservation(ctx context.Context, productID, storeID uuid.UUID, day time.Time) (bool, error)
	insertObservation(ctx context.Context, productID, storeID uuid.UUID, day time.Time, obs priceObservation) error
}

// appendPriceHistory writes one observation per (product, store, UTC day);
// a key that already has a row is skipped, not upserted.
func appendPriceHistory(ctx context.Context, history priceHistory, storeID uuid.UUID, graph *ReceiptGraph) error {
	day := graph.Date.UTC().Truncate(24 * time.Hour)
	for productID, obs := range priceObservations(graph.Lines) {
		exists, err := history.hasObservation(ctx, productID, storeID, day)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := history.insertObservation(ctx, productID, storeID, day, obs); err != nil {
			return err
		}
	}
	return nil
}

type txPriceHistory struct {
	tx pgx.Tx
}

func (h txPriceHistory) hasObservation(ctx context.Context, productID, storeID uuid.UUID, day time.Time) (bool, error) {
	var exists bool
	err := h.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM price_history
			WHERE product_id = $1 AND store_id = $2 AND date = $3
		)`, productID, storeID, day).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ingest: price history lookup: %w", err)
	}
	return exists, nil
}

func (h txPriceHistory) insertObservation(ctx context.Context, productID, storeID uuid.UUID, day time.Time, obs priceObservation) error {
	_, err := h.tx.Exec(ctx, `
		INSERT INTO price_history (id, product_id, store_id, date, unit_price, price_per_kg)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), productID, storeID, day, obs.unitPrice, obs.pricePerKg)
	if err != nil {
		return fmt.Errorf("ingest: insert price history: %w", err)
	}
	return nil
}

func (l *NewLocation) hasData() bool {
	return hasText(l.Address) || hasText(l.City) || hasText(l.PostalCode) || hasText(l.VATNumber)
}

func hasText(s *string) bool {
	return s != nil && *s != ""
}
