package generative

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

func TestLookupByBarcode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req lookupRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "5000000000001", req.Barcode)

		_ = json.NewEncoder(w).Encode(models.GenerativeProduct{
			ProductName: "Sparkling Water",
			ProductID:   "gen-5000000000001",
			Description: "500ml bottle",
			ImageURL:    "https://img.example.com/water.png",
			Price:       0.99,
		})
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, "secret", time.Second, logger.Discard()).LookupByBarcode(context.Background(), "5000000000001")
	require.NoError(t, err)
	assert.Equal(t, "Sparkling Water", got.ProductName)
	assert.Equal(t, 0.99, got.Price)
}

func TestLookupFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "quota exceeded", http.StatusTooManyRequests)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
			},
			timeout: 30 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			timeout := tt.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			_, err := NewClient(srv.URL, "", timeout, logger.Discard()).LookupByBarcode(context.Background(), "B")
			assert.ErrorIs(t, err, models.ErrGenerativeLookupFailed)
		})
	}
}

func TestNotFoundNameIsReturnedAsIs(t *testing.T) {
	// the flow fabricates rather than refusing; filtering happens in the pipeline
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"productName":"Not Found","productId":"","description":"","imageUrl":"","price":0}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, "", time.Second, logger.Discard()).LookupByBarcode(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, "Not Found", got.ProductName)
}
