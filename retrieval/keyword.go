package retrieval

import (
	"context"
	"slices"
	"strings"

	"github.com/SaiNageswarS/go-collection-boot/ds"
	"github.com/SaiNageswarS/go-collection-boot/linq"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

const (
	titleMatchWeight = 2
	textMatchWeight  = 1
	minTokenLen      = 3
	maxEditDistance  = 1
)

// KeywordRetriever fuzzy-matches the utterance against a small fixed corpus
// of titled snippets and returns the top-K matches, best first. An empty or
// unconfigured corpus just yields no context.
type KeywordRetriever struct {
	corpus []Snippet
	topK   int
}

func NewKeywordRetriever(corpus []Snippet, topK int) *KeywordRetriever {
	return &KeywordRetriever{corpus: corpus, topK: topK}
}

func (r *KeywordRetriever) Retrieve(ctx context.Context, userText string) ([]string, error) {
	if len(r.corpus) == 0 || r.topK <= 0 {
		return nil, nil
	}

	tokens := queryTokens(userText)
	if len(tokens) == 0 {
		return nil, nil
	}

	type scored struct {
		idx   int
		score int
	}

	// Keep the top-K with a min-heap; worst candidate is always on top.
	h := ds.NewMinHeap(func(a, b scored) bool {
		if a.score != b.score {
			return a.score < b.score
		}
		return a.idx > b.idx // earlier snippets win ties
	})

	for idx, snippet := range r.corpus {
		score := scoreSnippet(tokens, snippet)
		if score == 0 {
			continue
		}

		h.Push(scored{idx: idx, score: score})
		if h.Len() > r.topK {
			h.Pop()
		}
	}

	best := h.ToSortedSlice()
	slices.Reverse(best) // highest score first

	return linq.Pipe2(
		linq.FromSlice(ctx, best),
		linq.Select(func(s scored) string {
			snippet := r.corpus[s.idx]
			return snippet.Title + ": " + snippet.Text
		}),
		linq.ToSlice[string](),
	)
}

func scoreSnippet(tokens []string, snippet Snippet) int {
	score := 0
	textWords := strings.Fields(snippet.Text)

	for _, token := range tokens {
		if fuzzy.MatchNormalizedFold(token, snippet.Title) {
			score += titleMatchWeight
			continue
		}

		for _, word := range textWords {
			if rank := fuzzy.RankMatchNormalizedFold(token, word); rank >= 0 && rank <= maxEditDistance {
				score += textMatchWeight
				break
			}
		}
	}

	return score
}

func queryTokens(userText string) []string {
	var tokens []string
	for _, field := range strings.Fields(strings.ToLower(userText)) {
		token := strings.Trim(field, ".,;:!?\"'()")
		if len([]rune(token)) >= minTokenLen {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
