// Package sale keeps the lines of the sale being rung up and writes receipts.
package sale

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eduard256/tillscan/internal/metrics"
	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

var (
	ErrLineNotFound    = errors.New("sale line not found")
	ErrInvalidQuantity = errors.New("quantity out of range")
	ErrQuantityCap     = errors.New("line quantity limit reached")
	ErrEmptySale       = errors.New("sale has no lines")
)

// Line is one product in the sale
type Line struct {
	ID         string        `json:"id"`
	ProductID  string        `json:"product_id"`
	Name       string        `json:"name"`
	Barcode    string        `json:"barcode,omitempty"`
	ExpiryDate string        `json:"expiry_date,omitempty"`
	ImageURL   string        `json:"image_url"`
	UnitPrice  float64       `json:"unit_price"`
	Quantity   int           `json:"quantity"`
	LineTotal  string        `json:"line_total"`
	Source     models.Source `json:"source"`
}

// Summary is the current state of the sale
type Summary struct {
	Lines     []Line `json:"lines"`
	ItemCount int    `json:"item_count"`
	Total     string `json:"total"`
}

// Receipt is a checked-out sale
type Receipt struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Lines     []Line    `json:"lines"`
	ItemCount int       `json:"item_count"`
	Total     string    `json:"total"`
}

type lineKey struct {
	productID, barcode, expiry string
}

// Sale accumulates resolved products. Lines merge on product id, barcode
// and expiry date.
type Sale struct {
	maxQuantity int
	receiptsDir string
	logger      logger.Logger
	onChange    func(Summary)

	mu    sync.Mutex
	lines []*Line
}

// New creates an empty sale. receiptsDir may be empty to skip writing receipts.
func New(maxQuantity int, receiptsDir string, log logger.Logger) *Sale {
	if maxQuantity < 1 {
		maxQuantity = 100
	}
	return &Sale{maxQuantity: maxQuantity, receiptsDir: receiptsDir, logger: log}
}

// OnChange registers fn to receive the summary after every change. Must be set before use.
func (s *Sale) OnChange(fn func(Summary)) {
	s.onChange = fn
}

// OnResolved adds a scanned product. A refused add is logged and otherwise dropped.
func (s *Sale) OnResolved(p models.ResolvedProduct) {
	if _, err := s.Add(p); err != nil {
		s.logger.Warn("scanned product not added", "product_id", p.ID, "error", err)
	}
}

// Add puts one unit of p on the sale, merging with a matching line
func (s *Sale) Add(p models.ResolvedProduct) (Line, error) {
	s.mu.Lock()
	key := lineKey{p.ID, p.Barcode, p.ExpiryDate}
	for _, l := range s.lines {
		if (lineKey{l.ProductID, l.Barcode, l.ExpiryDate}) == key {
			if l.Quantity >= s.maxQuantity {
				s.mu.Unlock()
				return Line{}, fmt.Errorf("%w: %s already at %d", ErrQuantityCap, l.Name, s.maxQuantity)
			}
			l.Quantity++
			out := *l
			s.mu.Unlock()
			s.changed()
			return withTotal(out), nil
		}
	}

	l := &Line{
		ID:         uuid.NewString(),
		ProductID:  p.ID,
		Name:       p.Name,
		Barcode:    p.Barcode,
		ExpiryDate: p.ExpiryDate,
		ImageURL:   p.ImageURL,
		UnitPrice:  p.Price,
		Quantity:   1,
		Source:     p.Source,
	}
	s.lines = append(s.lines, l)
	out := *l
	s.mu.Unlock()

	s.logger.Info("product added to sale", "product_id", p.ID, "name", p.Name)
	s.changed()
	return withTotal(out), nil
}

// UpdateQuantity sets the quantity of a line to q (1..max)
func (s *Sale) UpdateQuantity(lineID string, q int) (Line, error) {
	if q < 1 || q > s.maxQuantity {
		return Line{}, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidQuantity, q, s.maxQuantity)
	}

	s.mu.Lock()
	l := s.findLocked(lineID)
	if l == nil {
		s.mu.Unlock()
		return Line{}, ErrLineNotFound
	}
	l.Quantity = q
	out := *l
	s.mu.Unlock()

	s.changed()
	return withTotal(out), nil
}

// Remove drops a line
func (s *Sale) Remove(lineID string) error {
	s.mu.Lock()
	idx := -1
	for i, l := range s.lines {
		if l.ID == lineID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrLineNotFound
	}
	s.lines = append(s.lines[:idx], s.lines[idx+1:]...)
	s.mu.Unlock()

	s.changed()
	return nil
}

// Clear cancels the sale
func (s *Sale) Clear() {
	s.mu.Lock()
	s.lines = nil
	s.mu.Unlock()
	s.changed()
}

// Summary returns the lines and totals
func (s *Sale) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

// Checkout closes the sale, writes the receipt and empties the sale
func (s *Sale) Checkout() (Receipt, error) {
	s.mu.Lock()
	if len(s.lines) == 0 {
		s.mu.Unlock()
		return Receipt{}, ErrEmptySale
	}
	sum := s.summaryLocked()
	receipt := Receipt{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Lines:     sum.Lines,
		ItemCount: sum.ItemCount,
		Total:     sum.Total,
	}

	if s.receiptsDir != "" {
		if err := writeReceipt(s.receiptsDir, receipt); err != nil {
			s.mu.Unlock()
			return Receipt{}, err
		}
	}
	s.lines = nil
	s.mu.Unlock()

	metrics.CheckoutsTotal.Inc()
	s.logger.Info("sale checked out", "receipt_id", receipt.ID, "items", receipt.ItemCount, "total", receipt.Total)
	s.changed()
	return receipt, nil
}

func (s *Sale) findLocked(lineID string) *Line {
	for _, l := range s.lines {
		if l.ID == lineID {
			return l
		}
	}
	return nil
}

func (s *Sale) summaryLocked() Summary {
	total := decimal.Zero
	items := 0
	lines := make([]Line, 0, len(s.lines))
	for _, l := range s.lines {
		withT := withTotal(*l)
		lines = append(lines, withT)
		total = total.Add(lineTotal(*l))
		items += l.Quantity
	}
	return Summary{Lines: lines, ItemCount: items, Total: total.StringFixed(2)}
}

func (s *Sale) changed() {
	sum := s.Summary()
	metrics.SaleLines.Set(float64(len(sum.Lines)))
	if s.onChange != nil {
		s.onChange(sum)
	}
}

func lineTotal(l Line) decimal.Decimal {
	return decimal.NewFromFloat(l.UnitPrice).Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func withTotal(l Line) Line {
	l.LineTotal = lineTotal(l).StringFixed(2)
	return l
}

// writeReceipt atomically writes the receipt as JSON
func writeReceipt(dir string, r Receipt) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create receipts directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}
	name := r.CreatedAt.Format("20060102-150405") + "-" + r.ID + ".json"
	if err := renameio.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	return nil
}
