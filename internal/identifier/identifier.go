// Package identifier provides slug normalization for dataset and column
// names plus the deterministic cache-key derivation used by the ask response
// cache. Slugified identifiers are what keep the lexical SQL guard's keyword
// scan collision-free: they are always lower-case.
package identifier

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	nonWordRun = regexp.MustCompile(`[^A-Za-z0-9_]+`)
	spaceRun   = regexp.MustCompile(`\s+`)
)

// Slugify turns an arbitrary string into a safe lower-case identifier:
// each maximal run of characters outside [A-Za-z0-9_] becomes "_", leading
// and trailing underscores are stripped, and the result is lower-cased.
// An empty result falls back to "dataset".
func Slugify(s string) string {
	out := nonWordRun.ReplaceAllString(s, "_")
	out = strings.Trim(out, "_")
	out = strings.ToLower(out)
	if out == "" {
		return "dataset"
	}
	return out
}

// DedupeColumns slugifies a CSV header row and disambiguates collisions by
// suffixing _2, _3, … in encounter order. Empty header cells become col_<i>.
func DedupeColumns(header []string) []string {
	seen := make(map[string]int, len(header))
	out := make([]string, 0, len(header))
	for i, raw := range header {
		name := Slugify(raw)
		if strings.TrimSpace(raw) == "" {
			name = fmt.Sprintf("col_%d", i+1)
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		if _, ok := seen[name]; !ok {
			seen[name] = 1
		}
		out = append(out, name)
	}
	return out
}

// NormalizeQuestion canonicalizes free-form question text for cache keying:
// trim, collapse internal whitespace to single spaces, lower-case.
func NormalizeQuestion(q string) string {
	return strings.ToLower(spaceRun.ReplaceAllString(strings.TrimSpace(q), " "))
}

// cacheKeyPayload is serialized with alphabetical field order; map keys are
// sorted by encoding/json, so identical inputs always produce identical
// bytes.
type cacheKeyPayload struct {
	Clarifications map[string]string `json:"clarifications"`
	DatasetID      string            `json:"dataset_id"`
	Question       string            `json:"question"`
}

// AskCacheKey derives the response-cache key from the normalized question,
// the active dataset id (empty when none), and the clarification map.
func AskCacheKey(question, datasetID string, clarifications map[string]string) string {
	if clarifications == nil {
		clarifications = map[string]string{}
	}
	payload := cacheKeyPayload{
		Clarifications: clarifications,
		DatasetID:      datasetID,
		Question:       NormalizeQuestion(question),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Marshal of plain strings cannot fail; keep a stable fallback anyway.
		data = []byte(payload.Question + "|" + payload.DatasetID)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashBucket maps a token to a bucket in [0, buckets) by reducing the full
// SHA-256 digest modulo buckets. Shared by the embedding engine; persisted
// vectors depend on this exact reduction, so it never changes.
func HashBucket(token string, buckets int) int {
	sum := sha256.Sum256([]byte(token))
	// Byte-wise Horner fold computes digest mod buckets without big integers.
	var v uint64
	for _, b := range sum {
		v = (v*256 + uint64(b)) % uint64(buckets)
	}
	return int(v)
}
