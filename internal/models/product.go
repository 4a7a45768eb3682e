package models

// Source identifies where a resolved product came from
type Source string

const (
	SourceCatalog    Source = "catalog"
	SourceGenerative Source = "generative"
)

// Product is the canonical catalog product shape
type Product struct {
	ID             string   `json:"id"`
	Name           string   `json:"name" validate:"required"`
	Description    string   `json:"description"`
	Price          float64  `json:"price" validate:"min=0"`
	Stock          int      `json:"stock" validate:"min=0"`
	Image          string   `json:"image"`
	Barcode        string   `json:"barcode,omitempty"`
	ExpiryDate     string   `json:"expiryDate,omitempty"`
	WholesalePrice *float64 `json:"wholesalePrice,omitempty" validate:"omitempty,min=0"`
	RetailPrice    *float64 `json:"retailPrice,omitempty" validate:"omitempty,min=0"`
}

// GenerativeProduct is the record returned by the generative barcode lookup.
// The flow never reports a miss, so callers must check Plausible.
type GenerativeProduct struct {
	ProductName string  `json:"productName"`
	ProductID   string  `json:"productId"`
	Description string  `json:"description"`
	ImageURL    string  `json:"imageUrl"`
	Price       float64 `json:"price"`
}

// ResolvedProduct is what the resolution pipeline hands to the sale
type ResolvedProduct struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"image_url"`
	Stock       *int    `json:"stock,omitempty"`
	Barcode     string  `json:"barcode,omitempty"`
	ExpiryDate  string  `json:"expiry_date,omitempty"`
	Source      Source  `json:"source"`
}

// ProductSearchRequest represents a search request for products
type ProductSearchRequest struct {
	Query string `json:"query" validate:"required,min=1"`
	Limit int    `json:"limit" validate:"min=1,max=100"`
}

// ProductSearchResponse represents the response for product search
type ProductSearchResponse struct {
	Products []ScoredProduct `json:"products"`
	Total    int             `json:"total"`
	Returned int             `json:"returned"`
}

// ScoredProduct is a search hit
type ScoredProduct struct {
	Product
	MatchScore float64 `json:"match_score"`
}
