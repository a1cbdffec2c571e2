package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendscan/spendscan/internal/catalog"
)

type fakeStorage struct {
	objects map[string][]byte
	saveErr error
	nextKey string
	saved   int
}

func (f *fakeStorage) Save(ctx context.Context, data []byte, contentType string) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved++
	return f.nextKey, nil
}

func (f *fakeStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

type fakeOCR struct {
	text string
	err  error
}

func (f *fakeOCR) ExtractText(ctx context.Context, image []byte) (string, error) {
	return f.text, f.err
}

type fakeKIE struct {
	draft *Draft
	err   error
}

func (f *fakeKIE) ExtractFields(ctx context.Context, ocrText string) (*Draft, error) {
	return f.draft, f.err
}

type fakeClassifier struct {
	pred        Prediction
	err         error
	feedback    []Feedback
	feedbackErr error
}

func (f *fakeClassifier) Predict(ctx context.Context, labelRaw string) (Prediction, error) {
	return f.pred, f.err
}

func (f *fakeClassifier) SendFeedback(ctx context.Context, fb Feedback) error {
	f.feedback = append(f.feedback, fb)
	return f.feedbackErr
}

type fakeStoreResolver struct {
	match       *catalog.StoreMatch
	corrections map[string]string
}

func (f *fakeStoreResolver) MatchStore(ctx context.Context, rawName string, hint catalog.LocationHint) (*catalog.StoreMatch, error) {
	return f.match, nil
}

func (f *fakeStoreResolver) CorrectProductLabel(ctx context.Context, raw string) (string, bool, error) {
	if corrected, ok := f.corrections[raw]; ok {
		return corrected, true, nil
	}
	return strings.TrimSpace(raw), false, nil
}

type fakeProductResolver struct {
	match *catalog.ProductMatch
	err   error
}

func (f *fakeProductResolver) FindOrCreate(ctx context.Context, labelRaw string, brand *string, typeID, categoryID *uuid.UUID, confidence float64) (*catalog.ProductMatch, error) {
	return f.match, f.err
}

type fakeWriter struct {
	graphs []*ReceiptGraph
	id     uuid.UUID
	err    error
}

func (f *fakeWriter) Save(ctx context.Context, graph *ReceiptGraph) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.graphs = append(f.graphs, graph)
	return f.id, nil
}

func testDraft() *Draft {
	city := "Milano"
	return &Draft{
		Store:    DraftStore{Name: "Carrefur", City: &city},
		Datetime: time.Date(2026, 8, 27, 10, 30, 0, 0, time.UTC),
		Currency: "EUR",
		Lines: []DraftLine{
			{LabelRaw: "LATTE 1L", Qty: 1, UnitPrice: 1.23, LineTotal: 1.23},
			{LabelRaw: "TOTALE 1.23", Qty: 0, UnitPrice: 0, LineTotal: 1.23},
		},
		Totals: DraftTotals{Total: 1.23},
	}
}

func TestProcessObjectEndToEnd(t *testing.T) {
	typeID := uuid.New()
	storeID := uuid.New()
	productID := uuid.New()
	receiptID := uuid.New()

	storage := &fakeStorage{objects: map[string][]byte{"2026/08/27/img.jpg": {0xff, 0xd8}}}
	classifier := &fakeClassifier{pred: Prediction{TypeID: &typeID, Confidence: 0.9}}
	writer := &fakeWriter{id: receiptID}
	processor := NewProcessor(
		storage,
		&fakeOCR{text: "SUPERMERCATO CARREFUR VIA ROMA 5\nLATTE 1L 1.23\nTOTALE 1.23"},
		&fakeKIE{draft: testDraft()},
		classifier,
		&fakeStoreResolver{match: &catalog.StoreMatch{StoreID: storeID, Name: "Carrefour Express", Score: 0.8}},
		&fakeProductResolver{match: &catalog.ProductMatch{
			Product:    catalog.Product{ID: productID, Name: "Latte", ProductTypeID: typeID},
			Confidence: 0.95,
			Type:       catalog.ProductMatchExact,
		}},
		writer,
		nil,
	)

	err := processor.ProcessObject(context.Background(), "2026/08/27/img.jpg")
	require.NoError(t, err)
	require.Len(t, writer.graphs, 1)

	graph := writer.graphs[0]
	assert.Equal(t, storeID, graph.StoreID)
	assert.Nil(t, graph.NewStore)
	assert.InDelta(t, 1.23, graph.Total, 1e-9)
	require.NotNil(t, graph.ImageObjectKey)
	assert.Equal(t, "2026/08/27/img.jpg", *graph.ImageObjectKey)
	require.NotNil(t, graph.RawText)

	// The TOTALE row was filtered; the surviving line carries the product.
	require.Len(t, graph.Lines, 1)
	line := graph.Lines[0]
	assert.Equal(t, "LATTE 1L", line.LabelRaw)
	require.NotNil(t, line.ProductID)
	assert.Equal(t, productID, *line.ProductID)
	require.NotNil(t, line.PredictedTypeID)
	assert.Equal(t, typeID, *line.PredictedTypeID)
}

func TestProcessImageMintsKeyAndToleratesSaveFailure(t *testing.T) {
	typeID := uuid.New()
	draft := testDraft()

	build := func(storage *fakeStorage) (*Processor, *fakeWriter) {
		writer := &fakeWriter{id: uuid.New()}
		p := NewProcessor(
			storage,
			&fakeOCR{text: "raw"},
			&fakeKIE{draft: draft},
			&fakeClassifier{pred: Prediction{TypeID: &typeID, Confidence: 0.9}},
			&fakeStoreResolver{},
			&fakeProductResolver{},
			writer,
			nil,
		)
		return p, writer
	}

	storage := &fakeStorage{nextKey: "2026/08/28/minted.jpg"}
	p, writer := build(storage)
	_, err := p.ProcessImage(context.Background(), []byte{0x01}, "")
	require.NoError(t, err)
	require.Len(t, writer.graphs, 1)
	require.NotNil(t, writer.graphs[0].ImageObjectKey)
	assert.Equal(t, "2026/08/28/minted.jpg", *writer.graphs[0].ImageObjectKey)

	// A failed save is best-effort: the receipt persists with a null key.
	p, writer = build(&fakeStorage{saveErr: errors.New("bucket down")})
	_, err = p.ProcessImage(context.Background(), []byte{0x01}, "")
	require.NoError(t, err)
	require.Len(t, writer.graphs, 1)
	assert.Nil(t, writer.graphs[0].ImageObjectKey)
}

func TestProcessImageCreatesStoreWhenUnmatched(t *testing.T) {
	typeID := uuid.New()
	writer := &fakeWriter{id: uuid.New()}
	chain := "Carrefour"
	draft := testDraft()
	draft.Store.Chain = &chain

	p := NewProcessor(
		&fakeStorage{},
		&fakeOCR{text: "raw"},
		&fakeKIE{draft: draft},
		&fakeClassifier{pred: Prediction{TypeID: &typeID, Confidence: 0.9}},
		&fakeStoreResolver{}, // no match
		&fakeProductResolver{},
		writer,
		nil,
	)

	_, err := p.ProcessImage(context.Background(), []byte{0x01}, "existing.jpg")
	require.NoError(t, err)
	require.Len(t, writer.graphs, 1)

	graph := writer.graphs[0]
	assert.Equal(t, uuid.Nil, graph.StoreID)
	require.NotNil(t, graph.NewStore)
	assert.Equal(t, "Carrefur", graph.NewStore.Name)
	require.NotNil(t, graph.NewStore.Chain)
	assert.Equal(t, "Carrefour", *graph.NewStore.Chain)
	require.NotNil(t, graph.Location)
	require.NotNil(t, graph.Location.City)
	assert.Equal(t, "Milano", *graph.Location.City)
}

func TestProcessImageClassifierFailureAbortsReceipt(t *testing.T) {
	writer := &fakeWriter{id: uuid.New()}
	p := NewProcessor(
		&fakeStorage{},
		&fakeOCR{text: "raw"},
		&fakeKIE{draft: testDraft()},
		&fakeClassifier{err: errors.New("ml service down")},
		&fakeStoreResolver{},
		&fakeProductResolver{},
		writer,
		nil,
	)

	_, err := p.ProcessImage(context.Background(), []byte{0x01}, "k.jpg")
	assert.Error(t, err)
	assert.Empty(t, writer.graphs)
}

func TestProcessImageSendsFeedbackOnDisagreement(t *testing.T) {
	productType := uuid.New()
	classifier := &fakeClassifier{
		pred:        Prediction{Confidence: 0.9}, // no type predicted
		feedbackErr: errors.New("feedback endpoint down"),
	}
	writer := &fakeWriter{id: uuid.New()}
	p := NewProcessor(
		&fakeStorage{},
		&fakeOCR{text: "raw"},
		&fakeKIE{draft: testDraft()},
		classifier,
		&fakeStoreResolver{},
		&fakeProductResolver{match: &catalog.ProductMatch{
			Product: catalog.Product{ID: uuid.New(), Name: "Latte", ProductTypeID: productType},
			Type:    catalog.ProductMatchAlias,
		}},
		writer,
		nil,
	)

	// The feedback error must not fail the pipeline.
	_, err := p.ProcessImage(context.Background(), []byte{0x01}, "k.jpg")
	require.NoError(t, err)
	require.Len(t, classifier.feedback, 1)
	assert.Equal(t, productType, classifier.feedback[0].FinalTypeID)
	require.Len(t, writer.graphs, 1)
}

func TestLooksLikeTotalOrPayment(t *testing.T) {
	filtered := []string{"TOTALE 1.23", "Subtotale", "PAGATO CONTANTE", "resto 0.50", "IBAN IT60X054", "CARTA DI CREDITO", "1234567890", "12.50"}
	for _, label := range filtered {
		assert.True(t, looksLikeTotalOrPayment(label), label)
	}
	kept := []string{"LATTE 1L", "pane integrale", "MELE 1.5kg", ""}
	for _, label := range kept {
		assert.False(t, looksLikeTotalOrPayment(label), label)
	}
}
