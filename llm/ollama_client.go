package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaClient runs generation against a local Ollama daemon. Used as the
// provider when no hosted API key should leave the machine. Safety settings
// and top-K/top-P options are accepted but not supported by the daemon.
type OllamaClient struct {
	client         *api.Client
	model          string
	embeddingModel string
}

func NewOllamaClient(model, embeddingModel string) (*OllamaClient, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}

	return &OllamaClient{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
	}, nil
}

func (c *OllamaClient) GetModel() string {
	return c.model
}

func (c *OllamaClient) GenerateContent(ctx context.Context, turns []Turn, opts ...LLMOption) (string, error) {
	settings := LLMSettings{model: c.model}
	for _, opt := range opts {
		opt(&settings)
	}

	messages := make([]api.Message, 0, len(turns))
	for _, turn := range turns {
		role := "user"
		if turn.Role == RoleModel {
			role = "assistant"
		}
		messages = append(messages, api.Message{Role: role, Content: turn.Text()})
	}

	options := map[string]any{}
	if settings.temperature > 0 {
		options["temperature"] = settings.temperature
	}
	if settings.maxTokens > 0 {
		options["num_predict"] = settings.maxTokens
	}

	stream := false
	request := &api.ChatRequest{
		Model:    settings.model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}

	var sb strings.Builder
	err := c.client.Chat(ctx, request, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("no content in ollama response")
	}
	return sb.String(), nil
}

func (c *OllamaClient) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Embed(ctx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding for model %s", c.embeddingModel)
	}
	return resp.Embeddings[0], nil
}
