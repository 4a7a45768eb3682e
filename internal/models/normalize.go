package models

import (
	"net/url"
	"strings"
	"unicode"
)

// PlaceholderBase is the deterministic image service used when a product has no usable image
const PlaceholderBase = "https://picsum.photos/seed/"

// SanitizeBarcode strips whitespace, control characters, backslashes and
// quotes that scanners and copy-paste leave around a code.
func SanitizeBarcode(raw string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r), unicode.IsSpace(r):
			return -1
		case r == '\\', r == '"', r == '\'', r == '`':
			return -1
		}
		return r
	}, raw)
}

// IsHTTPURL reports whether raw is an absolute http(s) URL with a host
func IsHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// PlaceholderImage returns the placeholder URL for key. The same key always
// yields the same URL.
func PlaceholderImage(key string) string {
	if key == "" {
		key = "placeholder"
	}
	return PlaceholderBase + url.PathEscape(key) + "/400/400"
}

// NormalizeImageURL keeps raw when it is an absolute http(s) URL and
// otherwise substitutes the placeholder for id, or for barcode when id is empty.
func NormalizeImageURL(raw, id, barcode string) string {
	if IsHTTPURL(raw) {
		return strings.TrimSpace(raw)
	}
	if id != "" {
		return PlaceholderImage(id)
	}
	return PlaceholderImage(barcode)
}
