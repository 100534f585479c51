// Package retrieval finds the context chunks most relevant to a question.
// The corpus is small (uploaded docs for one workspace), so it scores every
// stored chunk with cosine similarity instead of keeping an ANN index.
package retrieval

import (
	"context"
	"sort"

	"dataghost/internal/embedding"
	"dataghost/internal/logging"
	"dataghost/internal/store"
	"dataghost/internal/types"
)

// SnippetRunes caps how much chunk text a citation carries.
const SnippetRunes = 300

// Retriever runs top-k similarity search over the stored chunk set.
type Retriever struct {
	store  *store.Store
	engine embedding.Engine
	topK   int
}

// New builds a retriever. topK values below 1 fall back to 5.
func New(s *store.Store, engine embedding.Engine, topK int) *Retriever {
	if topK < 1 {
		topK = 5
	}
	return &Retriever{store: s, engine: engine, topK: topK}
}

// Retrieve embeds the question and returns up to topK citations ordered by
// descending similarity. Ties keep chunk insertion order so results are
// stable run to run. An empty corpus yields an empty slice, not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]types.Citation, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Retrieve")
	defer timer.Stop()

	chunks, err := r.store.ListVectorChunks(ctx)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		logging.Retrieval("No context chunks stored; skipping retrieval")
		return []types.Citation{}, nil
	}

	queryVec, err := r.engine.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, 0, len(chunks))
	for i, ch := range chunks {
		sim, err := embedding.CosineSimilarity(queryVec, ch.Embedding)
		if err != nil {
			// Width changed between ingest runs; skip rather than fail the ask.
			logging.Retrieval("Skipping chunk %s: %v", ch.ChunkID, err)
			continue
		}
		ranked = append(ranked, scored{idx: i, score: sim})
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})
	if len(ranked) > r.topK {
		ranked = ranked[:r.topK]
	}

	citations := make([]types.Citation, 0, len(ranked))
	for _, sc := range ranked {
		ch := chunks[sc.idx]
		citations = append(citations, types.Citation{
			DocID:    ch.DocID,
			Filename: ch.Filename,
			ChunkID:  ch.ChunkID,
			Score:    sc.score,
			Snippet:  snippet(ch.Content, SnippetRunes),
		})
	}
	logging.Retrieval("Retrieved %d of %d chunks for question", len(citations), len(chunks))
	return citations, nil
}

func snippet(content string, maxRunes int) string {
	runes := []rune(content)
	if len(runes) <= maxRunes {
		return content
	}
	return string(runes[:maxRunes])
}
