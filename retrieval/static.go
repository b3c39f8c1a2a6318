package retrieval

import "context"

// StaticRetriever always returns the same pre-loaded text (a document body or
// a precomputed summary), regardless of the utterance.
type StaticRetriever struct {
	contexts []string
}

func NewStaticRetriever(contexts ...string) *StaticRetriever {
	kept := make([]string, 0, len(contexts))
	for _, c := range contexts {
		if c != "" {
			kept = append(kept, c)
		}
	}
	return &StaticRetriever{contexts: kept}
}

func (r *StaticRetriever) Retrieve(context.Context, string) ([]string, error) {
	out := make([]string, len(r.contexts))
	copy(out, r.contexts)
	return out, nil
}
