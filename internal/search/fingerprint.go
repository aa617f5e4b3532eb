package search

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// fingerprint derives a stable 128-bit hex id for a normalized request.
// Two requests that differ only in field order or page position within
// the same cache-relevant inputs fingerprint identically; anything that
// changes the result set changes the fingerprint.
func fingerprint(req *Request, threshold float64) string {
	canonical := struct {
		Query      string   `json:"q"`
		SearchType string   `json:"st"`
		ImageURL   string   `json:"img,omitempty"`
		Filter     []string `json:"f"`
		Page       int      `json:"p"`
		PageSize   int      `json:"s"`
		Threshold  string   `json:"t"`
	}{
		Query:      req.Query,
		SearchType: req.SearchType,
		ImageURL:   req.ImageURL,
		Filter:     req.Filter().Canonical(),
		Page:       req.Page,
		PageSize:   req.PageSize,
		Threshold:  strconv.FormatFloat(threshold, 'f', -1, 64),
	}

	// Struct field order fixes the JSON key order, so the bytes are
	// deterministic.
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// callerKey normalizes the rate-limit identity. Unidentified callers
// share one bucket.
func callerKey(caller string) string {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return "anonymous"
	}
	return caller
}
