package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spendscan/spendscan/internal/catalog"
)

// TextExtractor obtains raw text from a receipt image.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// FieldExtractor turns OCR text into a structured draft.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, ocrText string) (*Draft, error)
}

// Classifier predicts type/category for a line label and accepts feedback.
type Classifier interface {
	Predict(ctx context.Context, labelRaw string) (Prediction, error)
	SendFeedback(ctx context.Context, fb Feedback) error
}

// ObjectStorage stores and fetches receipt images.
type ObjectStorage interface {
	Save(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// StoreResolver matches raw store names and corrects OCR'd labels.
type StoreResolver interface {
	MatchStore(ctx context.Context, rawName string, hint catalog.LocationHint) (*catalog.StoreMatch, error)
	CorrectProductLabel(ctx context.Context, raw string) (string, bool, error)
}

// ProductResolver resolves labels to products, creating them when warranted.
type ProductResolver interface {
	FindOrCreate(ctx context.Context, labelRaw string, brand *string, typeID, categoryID *uuid.UUID, confidence float64) (*catalog.ProductMatch, error)
}

// ReceiptWriter commits an assembled receipt graph.
type ReceiptWriter interface {
	Save(ctx context.Context, graph *ReceiptGraph) (uuid.UUID, error)
}

// Processor drives one receipt from image bytes to persisted rows: OCR, field
// extraction, per-line classification, entity resolution, commit. Any step
// failure abandons the receipt without partial writes; only the initial image
// save is best-effort.
type Processor struct {
	storage    ObjectStorage
	ocr        TextExtractor
	kie        FieldExtractor
	classifier Classifier
	stores     StoreResolver
	products   ProductResolver
	writer     ReceiptWriter
	logger     *slog.Logger
}

// NewProcessor wires the pipeline.
func NewProcessor(
	storage ObjectStorage,
	ocr TextExtractor,
	kie FieldExtractor,
	classifier Classifier,
	stores StoreResolver,
	products ProductResolver,
	writer ReceiptWriter,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		storage:    storage,
		ocr:        ocr,
		kie:        kie,
		classifier: classifier,
		stores:     stores,
		products:   products,
		writer:     writer,
		logger:     logger,
	}
}

// ProcessObject fetches a stored image by key and processes it.
func (p *Processor) ProcessObject(ctx context.Context, objectKey string) error {
	image, err := p.storage.Get(ctx, objectKey)
	if err != nil {
		return fmt.Errorf("ingest: fetch image: %w", err)
	}
	_, err = p.ProcessImage(ctx, image, objectKey)
	return err
}

// ProcessImage runs the full pipeline on raw image bytes. When objectKey is
// empty the image is saved first to mint one; a failed save is tolerated and
// the receipt persists with a null key.
func (p *Processor) ProcessImage(ctx context.Context, image []byte, objectKey string) (uuid.UUID, error) {
	if objectKey == "" {
		key, err := p.storage.Save(ctx, image, "")
		if err != nil {
			p.logger.Warn("image save failed, continuing without object key", slog.Any("error", err))
		} else {
			objectKey = key
		}
	}

	text, err := p.ocr.ExtractText(ctx, image)
	if err != nil {
		return uuid.Nil, err
	}
	draft, err := p.kie.ExtractFields(ctx, text)
	if err != nil {
		return uuid.Nil, err
	}

	graph, err := p.assemble(ctx, draft, text, objectKey)
	if err != nil {
		return uuid.Nil, err
	}

	receiptID, err := p.writer.Save(ctx, graph)
	if err != nil {
		return uuid.Nil, err
	}
	p.logger.Info("receipt processed",
		slog.String("receipt_id", receiptID.String()),
		slog.Int("lines", len(graph.Lines)),
		slog.Float64("total", graph.Total))
	return receiptID, nil
}

func (p *Processor) assemble(ctx context.Context, draft *Draft, ocrText, objectKey string) (*ReceiptGraph, error) {
	storeName := strings.TrimSpace(draft.Store.Name)
	hint := catalog.LocationHint{
		Address:   draft.Store.Address,
		City:      draft.Store.City,
		VATNumber: draft.Store.VATNumber,
	}

	graph := &ReceiptGraph{
		Date:     draft.Datetime,
		Currency: draft.Currency,
		Total:    draft.Totals.Total,
		Location: &NewLocation{
			Address:    draft.Store.Address,
			City:       draft.Store.City,
			PostalCode: draft.Store.PostalCode,
			VATNumber:  draft.Store.VATNumber,
		},
	}
	if graph.Date.IsZero() {
		graph.Date = time.Now().UTC()
	}
	if draft.Totals.Tax != 0 {
		tax := draft.Totals.Tax
		graph.TaxTotal = &tax
	}
	if ocrText != "" {
		graph.RawText = &ocrText
	}
	if objectKey != "" {
		graph.ImageObjectKey = &objectKey
	}

	match, err := p.stores.MatchStore(ctx, storeName, hint)
	if err != nil {
		return nil, err
	}
	if match != nil {
		graph.StoreID = match.StoreID
	} else {
		graph.NewStore = &NewStore{Name: storeName, Chain: draft.Store.Chain}
	}

	for _, line := range draft.Lines {
		if looksLikeTotalOrPayment(line.LabelRaw) {
			continue
		}
		input, err := p.resolveLine(ctx, line)
		if err != nil {
			return nil, err
		}
		graph.Lines = append(graph.Lines, input)
	}
	return graph, nil
}

func (p *Processor) resolveLine(ctx context.Context, line DraftLine) (ReceiptLineInput, error) {
	label, _, err := p.stores.CorrectProductLabel(ctx, line.LabelRaw)
	if err != nil {
		p.logger.Warn("label correction failed", slog.String("label", line.LabelRaw), slog.Any("error", err))
	}

	pred, err := p.classifier.Predict(ctx, line.LabelRaw)
	if err != nil {
		return ReceiptLineInput{}, err
	}
	typeID := pred.TypeID
	categoryID := pred.CategoryID

	var productID *uuid.UUID
	match, err := p.products.FindOrCreate(ctx, label, nil, typeID, categoryID, pred.Confidence)
	if err != nil {
		return ReceiptLineInput{}, err
	}
	if match != nil {
		productID = &match.Product.ID
		// The resolved product is better evidence than the raw prediction.
		if match.Product.ProductTypeID != uuid.Nil {
			resolved := match.Product.ProductTypeID
			typeID = &resolved
		}
		if match.Product.CategoryID != nil {
			categoryID = match.Product.CategoryID
		}
		p.sendFeedback(ctx, label, pred, match)
	}

	confidence := pred.Confidence
	return ReceiptLineInput{
		ProductID:            productID,
		LabelRaw:             label,
		Qty:                  line.Qty,
		UnitPrice:            line.UnitPrice,
		LineTotal:            line.LineTotal,
		VATRate:              line.VATRate,
		WeightKg:             line.WeightKg,
		PricePerKg:           line.PricePerKg,
		PredictedTypeID:      typeID,
		PredictedCategoryID:  categoryID,
		PredictionConfidence: &confidence,
	}, nil
}

// sendFeedback reports the settled type/category when it disagrees with the
// prediction. Fire-and-forget: failures are logged, never propagated.
func (p *Processor) sendFeedback(ctx context.Context, label string, pred Prediction, match *catalog.ProductMatch) {
	finalType := match.Product.ProductTypeID
	if finalType == uuid.Nil {
		return
	}
	if pred.TypeID != nil && *pred.TypeID == finalType {
		return
	}
	fb := Feedback{
		LabelRaw:        label,
		Brand:           match.Product.Brand,
		FinalTypeID:     finalType,
		FinalCategoryID: match.Product.CategoryID,
	}
	if err := p.classifier.SendFeedback(ctx, fb); err != nil {
		p.logger.Warn("classifier feedback failed", slog.String("label", label), slog.Any("error", err))
	}
}
