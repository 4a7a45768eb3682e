package catalog

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

var (
	spaceRun    = regexp.MustCompile(`\s+`)
	nonWordChar = regexp.MustCompile(`[^a-z0-9\s\-]`)
)

// Lister provides the products to search
type Lister interface {
	List(ctx context.Context) ([]models.Product, error)
}

// SearchEngine ranks catalog products against a free-text query
type SearchEngine struct {
	source Lister
	logger logger.Logger
}

// NewSearchEngine creates a new search engine
func NewSearchEngine(source Lister, log logger.Logger) *SearchEngine {
	return &SearchEngine{source: source, logger: log}
}

// Search returns up to limit products ordered by match score
func (s *SearchEngine) Search(ctx context.Context, query string, limit int) (*models.ProductSearchResponse, error) {
	if limit <= 0 {
		limit = 10
	}

	products, err := s.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	normalized := normalizeQuery(query)
	tokens := strings.Fields(normalized)
	code := models.SanitizeBarcode(query)

	s.logger.Debug("searching products", "query", query, "normalized", normalized, "tokens", tokens)

	var results []models.ScoredProduct
	for _, p := range products {
		score := s.score(p, normalized, tokens, code)
		if score >= 0.3 {
			results = append(results, models.ScoredProduct{Product: p, MatchScore: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].MatchScore > results[j].MatchScore
	})

	total := len(results)
	if len(results) > limit {
		results = results[:limit]
	}

	return &models.ProductSearchResponse{
		Products: results,
		Total:    total,
		Returned: len(results),
	}, nil
}

// score combines name (70%) and description (30%) matches. An exact
// barcode hit always ranks first.
func (s *SearchEngine) score(p models.Product, query string, tokens []string, code string) float64 {
	if code != "" && p.Barcode != "" && p.Barcode == code {
		return 1.0
	}
	if query == "" {
		return 0
	}

	name := s.fieldScore(normalizeQuery(p.Name), query, tokens)
	desc := s.fieldScore(normalizeQuery(p.Description), query, tokens)

	if name >= desc {
		return name*0.7 + desc*0.3
	}
	// a description-only hit should not outrank a name hit
	return desc * 0.6
}

// fieldScore calculates how well a normalized field matches
func (s *SearchEngine) fieldScore(field, query string, tokens []string) float64 {
	if field == "" {
		return 0
	}
	if field == query {
		return 1.0
	}
	if strings.HasPrefix(field, query) {
		return 0.9
	}

	allTokensFound := len(tokens) > 0
	for _, token := range tokens {
		if !strings.Contains(field, token) {
			allTokensFound = false
			break
		}
	}
	if allTokensFound {
		return 0.8
	}

	if fuzzy.Match(strings.Join(tokens, ""), strings.ReplaceAll(field, " ", "")) {
		return 0.6
	}

	return calculateSimilarity(field, query) * 0.5
}

// normalizeQuery lowercases and strips punctuation
func normalizeQuery(query string) string {
	normalized := strings.ToLower(query)
	normalized = nonWordChar.ReplaceAllString(normalized, " ")
	normalized = spaceRun.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}

// calculateSimilarity calculates similarity between two strings (0.0 to 1.0)
func calculateSimilarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}
	maxLen := max(len(s1), len(s2))
	if maxLen == 0 {
		return 1.0
	}
	distance := fuzzy.LevenshteinDistance(s1, s2)
	return 1.0 - float64(distance)/float64(maxLen)
}
