package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/SaiNageswarS/go-api-boot/logger"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chatrelay/appconfig"
	"chatrelay/llm"
	"chatrelay/memory"
	"chatrelay/prompts"
	"chatrelay/retrieval"
)

// defaultSessionKey stands in when the widget sends no sessionId, so a bare
// client still gets a working (shared) conversation instead of an error.
const defaultSessionKey = "default"

type chatRequest struct {
	UserInput string `json:"userInput"`
	SessionID string `json:"sessionId,omitempty"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ChatService handles the chat exchange: resolve session, retrieve context,
// generate, commit or roll back. One instance serves all sessions.
type ChatService struct {
	store     *memory.SessionStore
	client    llm.LLMClient
	retriever retrieval.Retriever

	genOpts []llm.LLMOption
	// Semantic retrieval has no fallback; its errors fail the request
	// instead of degrading to "no context".
	strictRetrieval bool

	ready atomic.Bool
}

func NewChatService(store *memory.SessionStore, client llm.LLMClient, retriever retrieval.Retriever, cfg appconfig.ModelConfig) *ChatService {
	genOpts := []llm.LLMOption{
		llm.WithTemperature(cfg.Generation.Temperature),
		llm.WithTopK(cfg.Generation.TopK),
		llm.WithTopP(cfg.Generation.TopP),
		llm.WithMaxTokens(cfg.Generation.MaxOutputTokens),
		llm.WithSafetySettings(cfg.Safety),
	}

	return &ChatService{
		store:           store,
		client:          client,
		retriever:       retriever,
		genOpts:         genOpts,
		strictRetrieval: cfg.Retrieval.Strategy == retrieval.StrategySemantic,
	}
}

// MarkReady opens the chat endpoint once async startup work (document
// download/upload) has finished.
func (s *ChatService) MarkReady() {
	s.ready.Store(true)
}

func (s *ChatService) Routes(staticDir string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/chat", s.handleChat).Methods("POST")
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	return r
}

func (s *ChatService) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": s.ready.Load()})
}

func (s *ChatService) handleChat(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: "The assistant is still initializing. Try again in a moment.",
		})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserInput == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "Invalid request body: userInput is required.",
		})
		return
	}

	sessionKey := req.SessionID
	if sessionKey == "" {
		sessionKey = defaultSessionKey
	}

	session, err := s.store.GetOrCreate(sessionKey)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid session.", Details: err.Error()})
		return
	}

	// Serialize the whole exchange per session so concurrent requests for
	// one key cannot interleave turns or corrupt eviction. The history is
	// only touched, even for logging, while the lock is held.
	session.Lock()
	defer session.Unlock()

	logger.Info("Chat request",
		zap.String("request", requestID),
		zap.String("session", sessionKey),
		zap.Int("historyLen", session.History.Len()))

	contexts, err := s.retriever.Retrieve(r.Context(), req.UserInput)
	if err != nil {
		if s.strictRetrieval {
			logger.Error("Context retrieval failed",
				zap.String("request", requestID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Error: "Internal error while preparing your request.",
			})
			return
		}
		logger.Error("Context retrieval failed, continuing without context",
			zap.String("request", requestID), zap.Error(err))
		contexts = nil
	}

	userTurn, err := prompts.ComposeUserTurn(contexts, req.UserInput)
	if err != nil {
		logger.Error("Prompt composition failed", zap.String("request", requestID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "Internal error while preparing your request.",
		})
		return
	}

	history := session.History
	history.AppendUserTurn(userTurn)

	reply, err := s.client.GenerateContent(r.Context(), history.Turns(), s.genOpts...)
	if err != nil {
		// A failed attempt must leave no trace in the history.
		history.RollbackLastUserTurn()

		if errors.Is(err, llm.ErrQuotaExhausted) {
			logger.Error("Generation quota exhausted", zap.String("request", requestID), zap.Error(err))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error:   "API usage quota exceeded. Please wait and try again later.",
				Details: err.Error(),
			})
			return
		}

		logger.Error("Generation failed", zap.String("request", requestID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "Internal error while processing your request.",
		})
		return
	}

	history.CommitModelTurn(reply)
	writeJSON(w, http.StatusOK, chatResponse{Response: reply})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}
