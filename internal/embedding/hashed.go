package embedding

import (
	"context"
	"math"
	"regexp"
	"strings"

	"dataghost/internal/identifier"
)

// DefaultDimensions is the vector width used across the store. Changing it
// invalidates every persisted embedding, so treat it as part of the schema.
const DefaultDimensions = 128

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// HashedEngine embeds text as an L2-normalized bag of hashed tokens. Each
// token lands in a SHA-256-derived bucket; collisions are acceptable noise
// at this width. It needs no model, no network, and no state.
type HashedEngine struct {
	dims int
}

// NewHashedEngine returns an engine with the given width, defaulting to
// DefaultDimensions when dims is not positive.
func NewHashedEngine(dims int) *HashedEngine {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashedEngine{dims: dims}
}

// Embed generates the embedding for one text. Text with no tokens embeds to
// the zero vector rather than an error so empty chunks stay inert.
func (e *HashedEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	tokens := tokenPattern.FindAllString(text, -1)
	if len(tokens) == 0 {
		return vec, nil
	}

	for _, tok := range tokens {
		bucket := identifier.HashBucket(strings.ToLower(tok), e.dims)
		vec[bucket]++
	}

	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return vec, nil
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *HashedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the vector width.
func (e *HashedEngine) Dimensions() int {
	return e.dims
}

// Name returns the engine name.
func (e *HashedEngine) Name() string {
	return "hashed-tokens"
}
