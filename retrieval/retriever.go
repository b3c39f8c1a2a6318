package retrieval

import "context"

// Strategy selects the configured context source.
const (
	StrategyNone     = "none"
	StrategyStatic   = "static"
	StrategyKeyword  = "keyword"
	StrategySemantic = "semantic"
)

// Snippet is one titled knowledge entry from the configured corpus.
type Snippet struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Retriever supplies supplementary context strings for a user utterance,
// best match first. Retrieval is synchronous with respect to the request:
// it completes or fails before the generation call is made.
type Retriever interface {
	Retrieve(ctx context.Context, userText string) ([]string, error)
}

// NoopRetriever returns no context for any input.
type NoopRetriever struct{}

func (NoopRetriever) Retrieve(context.Context, string) ([]string, error) {
	return nil, nil
}
