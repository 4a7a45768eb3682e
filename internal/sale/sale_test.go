package sale

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

var apples = models.ResolvedProduct{
	ID:       "17",
	Name:     "Organic Apples",
	Price:    2.50,
	ImageURL: "https://picsum.photos/seed/17/400/400",
	Barcode:  "222222222",
	Source:   models.SourceCatalog,
}

func TestAddMergesSameProduct(t *testing.T) {
	s := New(100, "", logger.Discard())

	s.OnResolved(apples)
	s.OnResolved(apples)

	other := apples
	other.ExpiryDate = "2026-12-01"
	s.OnResolved(other)

	sum := s.Summary()
	require.Len(t, sum.Lines, 2)
	assert.Equal(t, 2, sum.Lines[0].Quantity)
	assert.Equal(t, "5.00", sum.Lines[0].LineTotal)
	assert.Equal(t, 3, sum.ItemCount)
	assert.Equal(t, "7.50", sum.Total)
}

func TestQuantityCap(t *testing.T) {
	s := New(3, "", logger.Discard())

	for i := 0; i < 3; i++ {
		_, err := s.Add(apples)
		require.NoError(t, err)
	}
	_, err := s.Add(apples)
	assert.ErrorIs(t, err, ErrQuantityCap)
	assert.Equal(t, 3, s.Summary().ItemCount)
}

func TestUpdateQuantityAndRemove(t *testing.T) {
	s := New(100, "", logger.Discard())
	line, err := s.Add(apples)
	require.NoError(t, err)

	_, err = s.UpdateQuantity(line.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = s.UpdateQuantity(line.ID, 101)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = s.UpdateQuantity("nope", 2)
	assert.ErrorIs(t, err, ErrLineNotFound)

	updated, err := s.UpdateQuantity(line.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, "10.00", updated.LineTotal)

	require.NoError(t, s.Remove(line.ID))
	assert.ErrorIs(t, s.Remove(line.ID), ErrLineNotFound)
	assert.Empty(t, s.Summary().Lines)
}

func TestDecimalTotals(t *testing.T) {
	s := New(100, "", logger.Discard())
	cheap := models.ResolvedProduct{ID: "1", Name: "Gum", Price: 0.1}
	line, err := s.Add(cheap)
	require.NoError(t, err)
	_, err = s.UpdateQuantity(line.ID, 3)
	require.NoError(t, err)

	assert.Equal(t, "0.30", s.Summary().Total)
}

func TestCheckoutWritesReceipt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "receipts")
	s := New(100, dir, logger.Discard())

	var changes int
	s.OnChange(func(Summary) { changes++ })

	_, err := s.Checkout()
	assert.ErrorIs(t, err, ErrEmptySale)

	s.OnResolved(apples)
	receipt, err := s.Checkout()
	require.NoError(t, err)
	assert.Equal(t, "2.50", receipt.Total)
	assert.Empty(t, s.Summary().Lines)
	assert.Equal(t, 2, changes)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(filepath.Join(dir, files[0].Name()))
	require.NoError(t, err)
	var onDisk Receipt
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, receipt.ID, onDisk.ID)
	assert.Equal(t, "Organic Apples", onDisk.Lines[0].Name)
}

func TestClear(t *testing.T) {
	s := New(100, "", logger.Discard())
	s.OnResolved(apples)
	s.Clear()
	assert.Equal(t, "0.00", s.Summary().Total)
}
