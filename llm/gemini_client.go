package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/SaiNageswarS/go-api-boot/logger"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiClient talks to the hosted Gemini API for both content generation
// and text embedding. One client serves any number of concurrent requests.
type GeminiClient struct {
	client         *genai.Client
	model          string
	embeddingModel string
	pollInterval   time.Duration
}

func NewGeminiClient(ctx context.Context, apiKey, model, embeddingModel string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiClient{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		pollInterval:   2 * time.Second,
	}, nil
}

func (c *GeminiClient) GetModel() string {
	return c.model
}

func (c *GeminiClient) GenerateContent(ctx context.Context, turns []Turn, opts ...LLMOption) (string, error) {
	settings := LLMSettings{model: c.model}
	for _, opt := range opts {
		opt(&settings)
	}

	contents := convertTurnsToGemini(turns)
	config := buildGenerationConfig(settings)

	result, err := c.client.Models.GenerateContent(ctx, settings.model, contents, config)
	if err != nil {
		logger.Error("Gemini request failed", zap.String("model", settings.model), zap.Error(err))
		return "", classifyGeminiError(err)
	}

	text := collectText(result)
	if text == "" {
		return "", fmt.Errorf("no content in gemini response")
	}
	return text, nil
}

func (c *GeminiClient) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	resp, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents, nil)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("empty embedding for model %s", c.embeddingModel)
	}

	return resp.Embeddings[0].Values, nil
}

// UploadDocument pushes a local file to the Gemini Files API and waits until
// the backend finishes processing it. The returned URI is referenced from a
// preamble turn via Part.FileURI.
func (c *GeminiClient) UploadDocument(ctx context.Context, path, mimeType, displayName string) (string, error) {
	file, err := c.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", path, err)
	}

	for file.State == genai.FileStateProcessing {
		logger.Info("Waiting for document processing", zap.String("file", file.Name))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}

		file, err = c.client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return "", fmt.Errorf("polling %s: %w", path, err)
		}
	}

	if file.State != genai.FileStateActive {
		return "", fmt.Errorf("document %s ended in state %s", displayName, file.State)
	}
	return file.URI, nil
}

func convertTurnsToGemini(turns []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))

	for _, turn := range turns {
		role := "user"
		if turn.Role == RoleModel {
			role = "model"
		}

		parts := make([]*genai.Part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			switch {
			case p.FileURI != "":
				parts = append(parts, &genai.Part{
					FileData: &genai.FileData{FileURI: p.FileURI, MIMEType: p.MIMEType},
				})
			case len(p.Data) > 0:
				parts = append(parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: p.MIMEType, Data: p.Data},
				})
			default:
				parts = append(parts, &genai.Part{Text: p.Text})
			}
		}

		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	return contents
}

func buildGenerationConfig(settings LLMSettings) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if settings.temperature > 0 {
		temp := float32(settings.temperature)
		config.Temperature = &temp
	}
	if settings.topK > 0 {
		topK := float32(settings.topK)
		config.TopK = &topK
	}
	if settings.topP > 0 {
		topP := float32(settings.topP)
		config.TopP = &topP
	}
	if settings.maxTokens > 0 {
		config.MaxOutputTokens = int32(settings.maxTokens)
	}

	for _, s := range settings.safetySettings {
		config.SafetySettings = append(config.SafetySettings, &genai.SafetySetting{
			Category:  genai.HarmCategory(s.Category),
			Threshold: genai.HarmBlockThreshold(s.Threshold),
		})
	}

	return config
}

func collectText(result *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Thought || part.Text == "" {
				continue
			}
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrQuotaExhausted, apiErr.Message)
	}
	return err
}
