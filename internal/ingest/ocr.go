package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// OCRClient extracts raw text from a receipt image via the OCR service's
// /extract endpoint.
type OCRClient struct {
	baseURL string
	http    *http.Client
}

// NewOCRClient builds a client for the OCR service. A nil http.Client gets a
// sane default timeout; OCR on a full photo can take a while.
func NewOCRClient(baseURL string, client *http.Client) *OCRClient {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &OCRClient{baseURL: baseURL, http: client}
}

// ExtractText posts the image as multipart form data and returns the
// recognized text. A non-2xx response fails the whole receipt.
func (c *OCRClient) ExtractText(ctx context.Context, image []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="receipt.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("ingest: ocr request: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("ingest: ocr request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("ingest: ocr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", &body)
	if err != nil {
		return "", fmt.Errorf("ingest: ocr request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ingest: ocr extract: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("ingest: ocr extract: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("ingest: ocr decode: %w", err)
	}
	return payload.Text, nil
}
