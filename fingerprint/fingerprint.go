// Package fingerprint derives the short, stable content hash used to recognise an
// article across ingestion runs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Length is the number of hex characters kept from the SHA-256 digest (64 bits).
const Length = 16

// Of returns the fingerprint of an article identified by its URL and title.
// Both inputs are normalized first so cosmetic differences (case, surrounding or
// repeated whitespace, tracking parameters, fragments) hash identically.
func Of(rawURL, title string) string {
	combined := NormalizeURL(rawURL) + "|" + NormalizeTitle(title)
	h := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(h[:])[:Length]
}

// All fingerprints a list of (url, title) pairs, preserving order.
func All[T any](items []T, key func(T) (string, string)) []string {
	out := make([]string, len(items))
	for i, item := range items {
		u, t := key(item)
		out[i] = Of(u, t)
	}
	return out
}

// NormalizeTitle trims, lower-cases and collapses internal whitespace.
func NormalizeTitle(t string) string {
	return strings.Join(strings.Fields(strings.ToLower(t)), " ")
}

// NormalizeURL trims and lower-cases the URL, drops the fragment and common
// tracking query parameters (utm_*, fbclid, gclid) and any trailing slash.
func NormalizeURL(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") || k == "fbclid" || k == "gclid" {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()

	return strings.TrimRight(u.String(), "/")
}
