package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// KIEClient turns raw OCR text into a structured receipt draft via the
// key-information-extraction service's /kie endpoint.
type KIEClient struct {
	baseURL  string
	http     *http.Client
	validate *validator.Validate
}

// NewKIEClient builds a client for the extraction service.
func NewKIEClient(baseURL string, client *http.Client) *KIEClient {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &KIEClient{baseURL: baseURL, http: client, validate: validator.New()}
}

// ExtractFields posts the OCR text and returns the validated draft. The
// currency defaults to EUR when the service omits it.
func (c *KIEClient) ExtractFields(ctx context.Context, ocrText string) (*Draft, error) {
	payload, err := json.Marshal(map[string]string{"text": ocrText})
	if err != nil {
		return nil, fmt.Errorf("ingest: kie request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/kie", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ingest: kie request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: kie extract: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("ingest: kie extract: unexpected status %d", resp.StatusCode)
	}

	var draft Draft
	if err := json.NewDecoder(resp.Body).Decode(&draft); err != nil {
		return nil, fmt.Errorf("ingest: kie decode: %w", err)
	}
	if strings.TrimSpace(draft.Currency) == "" {
		draft.Currency = DefaultCurrency
	}
	if err := c.validate.Struct(&draft); err != nil {
		return nil, fmt.Errorf("ingest: kie draft invalid: %w", err)
	}
	return &draft, nil
}
