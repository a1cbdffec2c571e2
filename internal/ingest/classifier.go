package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Prediction is the classifier's guess for a receipt line label. Confidence is
// the stronger of the type and category candidates.
type Prediction struct {
	TypeID     *uuid.UUID
	CategoryID *uuid.UUID
	Confidence float64
}

// Feedback is the correction signal sent back once a line's final type and
// category are known.
type Feedback struct {
	LabelRaw        string     `json:"labelRaw"`
	Brand           *string    `json:"brand,omitempty"`
	FinalTypeID     uuid.UUID  `json:"finalTypeId"`
	FinalCategoryID *uuid.UUID `json:"finalCategoryId,omitempty"`
}

type candidate struct {
	ID   uuid.UUID `json:"id"`
	Conf float64   `json:"conf"`
}

type suggestionsResponse struct {
	TypeCandidates     []candidate `json:"typeCandidates"`
	CategoryCandidates []candidate `json:"categoryCandidates"`
}

// ClassifierClient talks to the ML service that predicts a product type and
// category from a raw label.
type ClassifierClient struct {
	baseURL string
	http    *http.Client
}

// NewClassifierClient builds a client for the classifier service.
func NewClassifierClient(baseURL string, client *http.Client) *ClassifierClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ClassifierClient{baseURL: baseURL, http: client}
}

// Predict posts a raw label and returns the top type/category candidates.
func (c *ClassifierClient) Predict(ctx context.Context, labelRaw string) (Prediction, error) {
	var resp suggestionsResponse
	if err := c.post(ctx, "/predict", map[string]string{"labelRaw": labelRaw}, &resp); err != nil {
		return Prediction{}, fmt.Errorf("ingest: classifier predict: %w", err)
	}

	var pred Prediction
	if len(resp.TypeCandidates) > 0 {
		top := resp.TypeCandidates[0]
		pred.TypeID = &top.ID
		pred.Confidence = top.Conf
	}
	if len(resp.CategoryCandidates) > 0 {
		top := resp.CategoryCandidates[0]
		pred.CategoryID = &top.ID
		if top.Conf > pred.Confidence {
			pred.Confidence = top.Conf
		}
	}
	return pred, nil
}

// SendFeedback reports the final labeling decision. Callers treat this as
// fire-and-forget; failures must not abort the pipeline.
func (c *ClassifierClient) SendFeedback(ctx context.Context, fb Feedback) error {
	if err := c.post(ctx, "/feedback", fb, nil); err != nil {
		return fmt.Errorf("ingest: classifier feedback: %w", err)
	}
	return nil
}

func (c *ClassifierClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
