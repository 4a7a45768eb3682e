// Package generative calls the barcode-to-product generation flow used for
// barcodes the catalog does not know.
package generative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

type lookupRequest struct {
	Barcode string `json:"barcode"`
}

// Client posts a barcode and receives a structured product guess. The flow
// never answers "not found"; callers filter implausible results.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     logger.Logger
}

// NewClient creates a generative lookup client
func NewClient(url, apiKey string, timeout time.Duration, log logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// LookupByBarcode asks the flow to describe barcode. Every failure wraps
// models.ErrGenerativeLookupFailed.
func (c *Client) LookupByBarcode(ctx context.Context, barcode string) (models.GenerativeProduct, error) {
	body, err := json.Marshal(lookupRequest{Barcode: barcode})
	if err != nil {
		return models.GenerativeProduct{}, fmt.Errorf("%w: %v", models.ErrGenerativeLookupFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return models.GenerativeProduct{}, fmt.Errorf("%w: %v", models.ErrGenerativeLookupFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.GenerativeProduct{}, fmt.Errorf("%w: %v", models.ErrGenerativeLookupFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.GenerativeProduct{}, fmt.Errorf("%w: reading response: %v", models.ErrGenerativeLookupFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.GenerativeProduct{}, fmt.Errorf("%w: status %d: %s",
			models.ErrGenerativeLookupFailed, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out models.GenerativeProduct
	if err := json.Unmarshal(data, &out); err != nil {
		return models.GenerativeProduct{}, fmt.Errorf("%w: malformed response: %v", models.ErrGenerativeLookupFailed, err)
	}

	c.logger.Debug("generative lookup completed",
		"barcode", barcode,
		"name", out.ProductName,
		"duration", time.Since(start))
	return out, nil
}
