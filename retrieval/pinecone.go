package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// PineconeClient is a minimal JSON client for a single Pinecone index. The
// hosted index does all vector work; this only shapes requests.
type PineconeClient struct {
	apiKey     string
	httpClient *http.Client
	url        string
}

// NewPineconeClient targets one index by its host URL
// (e.g. https://my-index-abc123.svc.us-east1-gcp.pinecone.io).
func NewPineconeClient(apiKey, indexHost string) (*PineconeClient, error) {
	if apiKey == "" {
		return nil, errors.New("pinecone api key is not set")
	}
	if indexHost == "" {
		return nil, errors.New("pinecone index host is not set")
	}

	return &PineconeClient{
		apiKey:     apiKey,
		httpClient: &http.Client{},
		url:        indexHost,
	}, nil
}

// Match is one nearest neighbor returned by the index, with the snippet
// payload stored alongside the vector at indexing time.
type Match struct {
	ID       string  `json:"id"`
	Score    float64 `json:"score"`
	Metadata Snippet `json:"metadata"`
}

// Vector is one entry to upsert into the index.
type Vector struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Snippet   `json:"metadata"`
}

type pineconeQueryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type pineconeQueryResponse struct {
	Matches []Match `json:"matches"`
}

type pineconeUpsertRequest struct {
	Vectors []Vector `json:"vectors"`
}

type pineconeUpsertResponse struct {
	UpsertedCount int `json:"upsertedCount"`
}

// Query returns the topK nearest neighbors of vector, most similar first.
func (c *PineconeClient) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	request := pineconeQueryRequest{
		Vector:          vector,
		TopK:            topK,
		IncludeMetadata: true,
	}

	var response pineconeQueryResponse
	if err := c.makeRequest(ctx, "/query", request, &response); err != nil {
		return nil, err
	}
	return response.Matches, nil
}

// Upsert writes vectors into the index, replacing entries with the same id.
func (c *PineconeClient) Upsert(ctx context.Context, vectors []Vector) (int, error) {
	request := pineconeUpsertRequest{Vectors: vectors}

	var response pineconeUpsertResponse
	if err := c.makeRequest(ctx, "/vectors/upsert", request, &response); err != nil {
		return 0, err
	}
	return response.UpsertedCount, nil
}

func (c *PineconeClient) makeRequest(ctx context.Context, path string, request, response any) error {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pinecone request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}
	return nil
}
