package appconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"chatrelay/llm"
	"chatrelay/retrieval"
)

const (
	ModelConfigFile  = "model_config.json"
	InstructionsFile = "instructions.json"
	KnowledgeFile    = "knowledge.json"
)

type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            float64 `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// DocumentConfig references a document to pin into the preamble, either a
// local path or a remote URL. Inline attaches the raw bytes to the first
// instruction turn; otherwise the document is uploaded to the backend's file
// store and referenced by URI.
type DocumentConfig struct {
	Path        string `json:"path,omitempty"`
	URL         string `json:"url,omitempty"`
	MIMEType    string `json:"mimeType"`
	DisplayName string `json:"displayName"`
	Inline      bool   `json:"inline,omitempty"`
}

type RetrievalConfig struct {
	Strategy string `json:"strategy"`
	TopK     int    `json:"topK"`
}

type ModelConfig struct {
	Provider          string              `json:"provider"`
	Model             string              `json:"model"`
	EmbeddingModel    string              `json:"embeddingModel"`
	Generation        GenerationConfig    `json:"generation"`
	Safety            []llm.SafetySetting `json:"safety"`
	MaxHistoryLength  int                 `json:"maxHistoryLength"`
	SessionTTLMinutes int                 `json:"sessionTtlMinutes"`
	Document          *DocumentConfig     `json:"document,omitempty"`
	Retrieval         RetrievalConfig     `json:"retrieval"`
}

// Instructions holds the pinned preamble texts: the instruction turn sent as
// the user role and the scripted acknowledgement sent as the model role.
type Instructions struct {
	SystemInstructions string `json:"systemInstructions"`
	Acknowledgement    string `json:"acknowledgement"`
}

type AppConfig struct {
	Model        ModelConfig
	Instructions Instructions
	Knowledge    []retrieval.Snippet
}

// Load reads the JSON configuration files from dir once at startup.
// model_config.json and instructions.json are required; knowledge.json is
// optional and only feeds the keyword/semantic corpus.
func Load(dir string) (*AppConfig, error) {
	cfg := &AppConfig{}

	if err := readJSON(filepath.Join(dir, ModelConfigFile), &cfg.Model); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, InstructionsFile), &cfg.Instructions); err != nil {
		return nil, err
	}

	knowledgePath := filepath.Join(dir, KnowledgeFile)
	if err := readJSON(knowledgePath, &cfg.Knowledge); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg.Knowledge = nil
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Model.Model == "" {
		return fmt.Errorf("%s: model is required", ModelConfigFile)
	}
	if c.Instructions.SystemInstructions == "" {
		return fmt.Errorf("%s: systemInstructions is required", InstructionsFile)
	}
	if c.Model.Provider == "" {
		c.Model.Provider = "gemini"
	}
	if c.Model.Retrieval.Strategy == "" {
		c.Model.Retrieval.Strategy = retrieval.StrategyNone
	}
	if c.Model.Retrieval.TopK <= 0 {
		c.Model.Retrieval.TopK = 3
	}
	if d := c.Model.Document; d != nil {
		if d.Path == "" && d.URL == "" {
			return fmt.Errorf("%s: document needs a path or url", ModelConfigFile)
		}
		if d.MIMEType == "" {
			return fmt.Errorf("%s: document mimeType is required", ModelConfigFile)
		}
	}
	return nil
}

func (c *AppConfig) SessionTTL() time.Duration {
	return time.Duration(c.Model.SessionTTLMinutes) * time.Minute
}

// Fetch loads the document bytes from the local path or the remote URL.
func (d *DocumentConfig) Fetch(ctx context.Context) ([]byte, error) {
	if d.Path != "" {
		data, err := os.ReadFile(d.Path)
		if err != nil {
			return nil, fmt.Errorf("reading document %s: %w", d.Path, err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching document %s: %w", d.URL, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching document %s: %w", d.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching document %s: status %d", d.URL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
