package llm

import (
	"context"
	"errors"
)

// Roles used across backends. Gemini calls the assistant side "model";
// providers that expect "assistant" remap internally.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ErrQuotaExhausted marks rate/quota limiting reported by the backend.
// Callers map it to a retry-later response instead of a hard failure.
var ErrQuotaExhausted = errors.New("generation backend quota exhausted")

// Part is one unit of turn content: plain text, inline binary data with a
// media type, or a reference to a file previously uploaded to the backend.
type Part struct {
	Text     string `json:"text,omitempty"`
	Data     []byte `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

// Turn is a role-tagged message unit within a conversation history.
type Turn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

func TextTurn(role, text string) Turn {
	return Turn{Role: role, Parts: []Part{{Text: text}}}
}

// Text concatenates the text parts of the turn.
func (t Turn) Text() string {
	var out string
	for _, p := range t.Parts {
		out += p.Text
	}
	return out
}

type LLMClient interface {
	// GenerateContent submits the full ordered turn list and returns the
	// generated text. The backend retains no conversation state between
	// calls; the caller owns the history.
	GenerateContent(ctx context.Context, turns []Turn, opts ...LLMOption) (string, error)

	GetModel() string
}

type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// SafetySetting is a per-harm-category generation threshold, expressed in
// the backend's own vocabulary (e.g. "HARM_CATEGORY_HARASSMENT" /
// "BLOCK_MEDIUM_AND_ABOVE"). Backends without safety controls ignore them.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type LLMSettings struct {
	model          string
	temperature    float64
	topK           float64
	topP           float64
	maxTokens      int
	safetySettings []SafetySetting
}

type LLMOption func(*LLMSettings)

func WithLLMModel(model string) LLMOption {
	return func(s *LLMSettings) { s.model = model }
}

func WithTemperature(temp float64) LLMOption {
	return func(s *LLMSettings) { s.temperature = temp }
}

func WithTopK(topK float64) LLMOption {
	return func(s *LLMSettings) { s.topK = topK }
}

func WithTopP(topP float64) LLMOption {
	return func(s *LLMSettings) { s.topP = topP }
}

func WithMaxTokens(tokens int) LLMOption {
	return func(s *LLMSettings) { s.maxTokens = tokens }
}

func WithSafetySettings(settings []SafetySetting) LLMOption {
	return func(s *LLMSettings) { s.safetySettings = settings }
}
