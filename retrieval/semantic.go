package retrieval

import (
	"context"
	"fmt"

	"github.com/SaiNageswarS/go-collection-boot/linq"

	"chatrelay/llm"
)

// SemanticRetriever embeds the utterance and asks the hosted vector index
// for the nearest snippets. Unlike the keyword strategy, its failures
// propagate: without the index there is no context to fall back to.
type SemanticRetriever struct {
	embedder llm.Embedder
	index    *PineconeClient
	topK     int
}

func NewSemanticRetriever(embedder llm.Embedder, index *PineconeClient, topK int) *SemanticRetriever {
	return &SemanticRetriever{
		embedder: embedder,
		index:    index,
		topK:     topK,
	}
}

func (r *SemanticRetriever) Retrieve(ctx context.Context, userText string) ([]string, error) {
	vector, err := r.embedder.GetEmbedding(ctx, userText)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := r.index.Query(ctx, vector, r.topK)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	return linq.Pipe2(
		linq.FromSlice(ctx, matches),
		linq.Select(func(m Match) string {
			return m.Metadata.Title + ": " + m.Metadata.Text
		}),
		linq.ToSlice[string](),
	)
}
