package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

// envelope is the remote API response wrapper. A non-zero StatusCode is an error.
type envelope struct {
	StatusCode       int             `json:"statusCode"`
	Message          string          `json:"message"`
	ErrorDescription string          `json:"errorDescription"`
	Data             json.RawMessage `json:"data"`
}

// apiProduct is the remote wire shape
type apiProduct struct {
	ID             json.Number `json:"id,omitempty"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	Price          float64     `json:"price"`
	Qty            int         `json:"qty"`
	Image          string      `json:"image"`
	Barcode        string      `json:"barcode,omitempty"`
	ExpiryDate     string      `json:"expiryDate,omitempty"`
	WholesalePrice *float64    `json:"wholesalePrice,omitempty"`
	RetailPrice    *float64    `json:"retailPrice,omitempty"`
}

func fromAPI(a apiProduct) models.Product {
	return Normalize(models.Product{
		ID:             a.ID.String(),
		Name:           a.Name,
		Description:    a.Description,
		Price:          a.Price,
		Stock:          a.Qty,
		Image:          a.Image,
		Barcode:        a.Barcode,
		ExpiryDate:     a.ExpiryDate,
		WholesalePrice: a.WholesalePrice,
		RetailPrice:    a.RetailPrice,
	})
}

func toAPI(p models.Product) apiProduct {
	desc := p.Description
	if desc == "" {
		desc = p.Name
	}
	a := apiProduct{
		Name:           p.Name,
		Description:    desc,
		Price:          p.Price,
		Qty:            p.Stock,
		Image:          p.Image,
		Barcode:        models.SanitizeBarcode(p.Barcode),
		ExpiryDate:     p.ExpiryDate,
		WholesalePrice: p.WholesalePrice,
		RetailPrice:    p.RetailPrice,
	}
	if _, err := strconv.ParseInt(p.ID, 10, 64); err == nil {
		a.ID = json.Number(p.ID)
	}
	return a
}

// APIError is a failure reported by the catalog API itself
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog api error (%d): %s", e.Status, e.Message)
}

// Client is the remote catalog API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logger.Logger
}

// NewClient creates a catalog client. Every request is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration, log logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// List returns every product
func (c *Client) List(ctx context.Context) ([]models.Product, error) {
	var items []apiProduct
	if err := c.do(ctx, http.MethodGet, "/all", nil, &items); err != nil {
		return nil, err
	}
	out := make([]models.Product, 0, len(items))
	for _, it := range items {
		out = append(out, fromAPI(it))
	}
	return out, nil
}

// Get returns the product with id
func (c *Client) Get(ctx context.Context, id string) (models.Product, error) {
	var item apiProduct
	if err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(id), nil, &item); err != nil {
		if isNotFound(err) {
			return models.Product{}, fmt.Errorf("%w: id %s", models.ErrProductNotFound, id)
		}
		return models.Product{}, err
	}
	return fromAPI(item), nil
}

// LookupByBarcode returns the products carrying barcode
func (c *Client) LookupByBarcode(ctx context.Context, barcode string) ([]models.Product, error) {
	code := models.SanitizeBarcode(barcode)
	if code == "" {
		return nil, nil
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/barcode/"+url.PathEscape(code), nil, &raw); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	items, err := decodeProducts(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCatalogUnavailable, err)
	}

	out := make([]models.Product, 0, len(items))
	for _, it := range items {
		out = append(out, fromAPI(it))
	}
	c.logger.Debug("catalog barcode lookup", "barcode", code, "matches", len(out))
	return out, nil
}

// Create adds a product
func (c *Client) Create(ctx context.Context, p models.Product) (models.Product, error) {
	var item apiProduct
	if err := c.do(ctx, http.MethodPost, "/api/addProduct", toAPI(p), &item); err != nil {
		return models.Product{}, err
	}
	return fromAPI(item), nil
}

// Update replaces the product with id
func (c *Client) Update(ctx context.Context, id string, p models.Product) (models.Product, error) {
	p.ID = id
	var item apiProduct
	if err := c.do(ctx, http.MethodPut, "/update/"+url.PathEscape(id), toAPI(p), &item); err != nil {
		if isNotFound(err) {
			return models.Product{}, fmt.Errorf("%w: id %s", models.ErrProductNotFound, id)
		}
		return models.Product{}, err
	}
	return fromAPI(item), nil
}

// Delete removes the product with id
func (c *Client) Delete(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/delete/"+url.PathEscape(id), nil, nil)
	if isNotFound(err) {
		return fmt.Errorf("%w: id %s", models.ErrProductNotFound, id)
	}
	return err
}

// decodeProducts accepts either an array or a single object
func decodeProducts(raw json.RawMessage) ([]apiProduct, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []apiProduct
		err := json.Unmarshal(trimmed, &items)
		return items, err
	}
	var item apiProduct
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return nil, err
	}
	return []apiProduct{item}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// timeouts and refused connections alike
		return fmt.Errorf("%w: %s %s: %v", models.ErrCatalogUnavailable, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", models.ErrCatalogUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: errorMessage(data, resp.Status)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout {
			return fmt.Errorf("%w: %v", models.ErrCatalogUnavailable, apiErr)
		}
		return apiErr
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: malformed response: %v", models.ErrCatalogUnavailable, err)
	}
	if env.StatusCode != 0 {
		msg := env.Message
		if msg == "" {
			msg = env.ErrorDescription
		}
		if msg == "" {
			msg = "an unknown API error occurred"
		}
		return &APIError{Status: env.StatusCode, Message: msg}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = env.Data
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: malformed data: %v", models.ErrCatalogUnavailable, err)
	}
	return nil
}

// errorMessage extracts message/errorDescription from an error body,
// falling back to the raw text
func errorMessage(body []byte, status string) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Message != "" {
			return env.Message
		}
		if env.ErrorDescription != "" {
			return env.ErrorDescription
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return status
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
