package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SaiNageswarS/go-api-boot/dotenv"
	"github.com/SaiNageswarS/go-api-boot/logger"
	"github.com/SaiNageswarS/go-collection-boot/linq"
	"go.uber.org/zap"

	"chatrelay/appconfig"
	"chatrelay/llm"
	"chatrelay/memory"
	"chatrelay/prompts"
	"chatrelay/retrieval"
	"chatrelay/services"
)

const (
	defaultPort      = "3000"
	defaultConfigDir = "config"
	staticDir        = "static"
	janitorInterval  = 10 * time.Minute
)

func main() {
	dotenv.LoadEnv()

	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = defaultConfigDir
	}

	cfg, err := appconfig.Load(configDir)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx := getCancellableContext()

	client, embedder := provideLLMClient(ctx, cfg)
	retriever := provideRetriever(ctx, cfg, embedder)

	preamble, err := buildPreamble(cfg)
	if err != nil {
		logger.Fatal("Failed to build preamble", zap.Error(err))
	}

	store := memory.NewSessionStore(preamble, cfg.Model.MaxHistoryLength, cfg.SessionTTL())
	store.StartJanitor(janitorInterval, ctx.Done())

	svc := services.NewChatService(store, client, retriever, cfg.Model)
	go prepareDocument(ctx, cfg, preamble, store, client, svc)

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	srv := &http.Server{Addr: ":" + port, Handler: svc.Routes(staticDir)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Server running",
		zap.String("port", port),
		zap.String("provider", cfg.Model.Provider),
		zap.String("model", cfg.Model.Model),
		zap.String("retrieval", cfg.Model.Retrieval.Strategy))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func provideLLMClient(ctx context.Context, cfg *appconfig.AppConfig) (llm.LLMClient, llm.Embedder) {
	switch cfg.Model.Provider {
	case "ollama":
		client, err := llm.NewOllamaClient(cfg.Model.Model, cfg.Model.EmbeddingModel)
		if err != nil {
			logger.Fatal("Failed to create Ollama client", zap.Error(err))
		}
		return client, client
	default:
		client, err := llm.NewGeminiClient(ctx, os.Getenv("API_KEY"), cfg.Model.Model, cfg.Model.EmbeddingModel)
		if err != nil {
			logger.Fatal("Failed to create Gemini client", zap.Error(err))
		}
		return client, client
	}
}

func provideRetriever(ctx context.Context, cfg *appconfig.AppConfig, embedder llm.Embedder) retrieval.Retriever {
	switch cfg.Model.Retrieval.Strategy {
	case retrieval.StrategyStatic:
		// The whole configured corpus rides along on every request.
		contexts, err := linq.Pipe2(
			linq.FromSlice(ctx, cfg.Knowledge),
			linq.Select(func(s retrieval.Snippet) string {
				return s.Title + ": " + s.Text
			}),
			linq.ToSlice[string](),
		)
		if err != nil {
			logger.Fatal("Failed to build static contexts", zap.Error(err))
		}
		return retrieval.NewStaticRetriever(contexts...)

	case retrieval.StrategyKeyword:
		return retrieval.NewKeywordRetriever(cfg.Knowledge, cfg.Model.Retrieval.TopK)

	case retrieval.StrategySemantic:
		index, err := retrieval.NewPineconeClient(os.Getenv("PINECONE_API_KEY"), os.Getenv("PINECONE_INDEX_HOST"))
		if err != nil {
			logger.Fatal("Failed to create Pinecone client", zap.Error(err))
		}
		return retrieval.NewSemanticRetriever(embedder, index, cfg.Model.Retrieval.TopK)

	default:
		return retrieval.NoopRetriever{}
	}
}

func buildPreamble(cfg *appconfig.AppConfig) ([]llm.Turn, error) {
	documentName := ""
	if cfg.Model.Document != nil {
		documentName = cfg.Model.Document.DisplayName
	}

	instructions, err := prompts.RenderInstructions(cfg.Instructions.SystemInstructions, documentName)
	if err != nil {
		return nil, err
	}

	preamble := []llm.Turn{llm.TextTurn(llm.RoleUser, instructions)}
	if cfg.Instructions.Acknowledgement != "" {
		preamble = append(preamble, llm.TextTurn(llm.RoleModel, cfg.Instructions.Acknowledgement))
	}
	return preamble, nil
}

// prepareDocument finishes startup asynchronously: until it marks the
// service ready, /chat answers 503. The configured document ends up pinned
// into the first preamble turn, inline or as an uploaded file reference.
func prepareDocument(ctx context.Context, cfg *appconfig.AppConfig, preamble []llm.Turn, store *memory.SessionStore, client llm.LLMClient, svc *services.ChatService) {
	doc := cfg.Model.Document
	if doc == nil {
		svc.MarkReady()
		return
	}

	var part llm.Part
	switch {
	case doc.Inline:
		data, err := doc.Fetch(ctx)
		if err != nil {
			logger.Fatal("Failed to load document", zap.Error(err))
		}
		part = llm.Part{Data: data, MIMEType: doc.MIMEType}

	default:
		gemini, ok := client.(*llm.GeminiClient)
		if !ok {
			logger.Fatal("Document upload requires the gemini provider",
				zap.String("provider", cfg.Model.Provider))
			return
		}

		path := doc.Path
		if path == "" {
			// Remote documents are staged locally before upload.
			data, err := doc.Fetch(ctx)
			if err != nil {
				logger.Fatal("Failed to download document", zap.Error(err))
			}
			tmp, err := os.CreateTemp("", "chatrelay-doc-*")
			if err != nil {
				logger.Fatal("Failed to stage document", zap.Error(err))
			}
			if _, err := tmp.Write(data); err != nil {
				logger.Fatal("Failed to stage document", zap.Error(err))
			}
			tmp.Close()
			defer os.Remove(tmp.Name())
			path = tmp.Name()
		}

		uri, err := gemini.UploadDocument(ctx, path, doc.MIMEType, doc.DisplayName)
		if err != nil {
			logger.Fatal("Failed to upload document", zap.Error(err))
		}
		part = llm.Part{FileURI: uri, MIMEType: doc.MIMEType}
	}

	withDoc := make([]llm.Turn, len(preamble))
	copy(withDoc, preamble)
	withDoc[0].Parts = append([]llm.Part{}, preamble[0].Parts...)
	withDoc[0].Parts = append(withDoc[0].Parts, part)

	store.SetPreamble(withDoc)
	svc.MarkReady()
	logger.Info("Document ready", zap.String("document", doc.DisplayName))
}

func getCancellableContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		cancel()
	}()

	return ctx
}
