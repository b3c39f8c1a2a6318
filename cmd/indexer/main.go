// Indexer embeds every knowledge snippet and upserts the vectors into the
// Pinecone index the chat server queries at runtime. Run it once after
// editing knowledge.json.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/SaiNageswarS/go-api-boot/dotenv"
	"github.com/SaiNageswarS/go-api-boot/logger"
	"github.com/SaiNageswarS/go-collection-boot/async"
	"go.uber.org/zap"

	"chatrelay/appconfig"
	"chatrelay/llm"
	"chatrelay/retrieval"
)

func main() {
	dotenv.LoadEnv()

	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}

	cfg, err := appconfig.Load(configDir)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if len(cfg.Knowledge) == 0 {
		logger.Fatal("No knowledge snippets to index", zap.String("dir", configDir))
	}

	ctx := context.Background()

	gemini, err := llm.NewGeminiClient(ctx, os.Getenv("API_KEY"), cfg.Model.Model, cfg.Model.EmbeddingModel)
	if err != nil {
		logger.Fatal("Failed to create Gemini client", zap.Error(err))
	}

	index, err := retrieval.NewPineconeClient(os.Getenv("PINECONE_API_KEY"), os.Getenv("PINECONE_INDEX_HOST"))
	if err != nil {
		logger.Fatal("Failed to create Pinecone client", zap.Error(err))
	}

	// Embed all snippets concurrently, then upsert in one round trip.
	tasks := make([]<-chan async.Result[retrieval.Vector], 0, len(cfg.Knowledge))
	for i, snippet := range cfg.Knowledge {
		tasks = append(tasks, async.Go(func() (retrieval.Vector, error) {
			values, err := gemini.GetEmbedding(ctx, snippet.Text)
			if err != nil {
				return retrieval.Vector{}, fmt.Errorf("embedding %q: %w", snippet.Title, err)
			}
			return retrieval.Vector{
				ID:       fmt.Sprintf("item-%d", i),
				Values:   values,
				Metadata: snippet,
			}, nil
		}))
	}

	vectors, err := async.AwaitAll(tasks...)
	if err != nil {
		logger.Fatal("Failed to embed knowledge snippets", zap.Error(err))
	}

	count, err := index.Upsert(ctx, vectors)
	if err != nil {
		logger.Fatal("Failed to upsert vectors", zap.Error(err))
	}

	logger.Info("Knowledge base indexed",
		zap.Int("snippets", len(cfg.Knowledge)),
		zap.Int("upserted", count))
}
