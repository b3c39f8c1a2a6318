package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/appconfig"
	"chatrelay/llm"
	"chatrelay/memory"
	"chatrelay/retrieval"
)

// mockLLM replays scripted replies; a nil entry simulates a backend failure.
type mockLLM struct {
	replies []any // string or error
	calls   int
	turns   [][]llm.Turn
}

func (m *mockLLM) GenerateContent(_ context.Context, turns []llm.Turn, _ ...llm.LLMOption) (string, error) {
	m.turns = append(m.turns, turns)
	if m.calls >= len(m.replies) {
		return "", errors.New("unexpected call")
	}
	reply := m.replies[m.calls]
	m.calls++

	if err, ok := reply.(error); ok {
		return "", err
	}
	return reply.(string), nil
}

func (m *mockLLM) GetModel() string { return "mock-model" }

func testService(t *testing.T, client llm.LLMClient, r retrieval.Retriever, strategy string) (*ChatService, *memory.SessionStore) {
	t.Helper()

	store := memory.NewSessionStore([]llm.Turn{
		llm.TextTurn(llm.RoleUser, "You are a scriptwriting assistant."),
		llm.TextTurn(llm.RoleModel, "Understood."),
	}, 12, 0)

	cfg := appconfig.ModelConfig{
		Model:      "gemini-1.5-pro",
		Generation: appconfig.GenerationConfig{Temperature: 0.9, TopK: 1, TopP: 1, MaxOutputTokens: 1000},
		Retrieval:  appconfig.RetrievalConfig{Strategy: strategy, TopK: 3},
	}

	svc := NewChatService(store, client, r, cfg)
	svc.MarkReady()
	return svc, store
}

func postChat(t *testing.T, svc *ChatService, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/chat", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	svc.Routes(t.TempDir()).ServeHTTP(w, req)
	return w
}

func TestChat_SuccessfulExchange(t *testing.T) {
	client := &mockLLM{replies: []any{"Here is your script."}}
	svc, store := testService(t, client, retrieval.NoopRetriever{}, retrieval.StrategyNone)

	w := postChat(t, svc, `{"userInput": "write a 60s video script", "sessionId": "alice"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp chatResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Here is your script.", resp.Response)

	session, err := store.GetOrCreate("alice")
	require.NoError(t, err)
	assert.Equal(t, 4, session.History.Len())
}

func TestChat_MissingUserInputIs400AndLeavesHistoryUntouched(t *testing.T) {
	client := &mockLLM{replies: []any{"ok"}}
	svc, store := testService(t, client, retrieval.NoopRetriever{}, retrieval.StrategyNone)

	w := postChat(t, svc, `{"userInput": "hello", "sessionId": "alice"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = postChat(t, svc, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	session, err := store.GetOrCreate("alice")
	require.NoError(t, err)
	assert.Equal(t, 4, session.History.Len())
	assert.Equal(t, 1, client.calls)
}

func TestChat_MissingSessionIDFallsBackToDefault(t *testing.T) {
	client := &mockLLM{replies: []any{"hi"}}
	svc, store := testService(t, client, retrieval.NoopRetriever{}, retrieval.StrategyNone)

	w := postChat(t, svc, `{"userInput": "hello"}`)
	require.Equal(t, http.StatusOK, w.Code)

	session, err := store.GetOrCreate(defaultSessionKey)
	require.NoError(t, err)
	assert.Equal(t, 4, session.History.Len())
}

func TestChat_FailedGenerationRollsBackExactly(t *testing.T) {
	quotaErr := fmt.Errorf("%w: retry later", llm.ErrQuotaExhausted)
	client := &mockLLM{replies: []any{"a1", "a2", quotaErr, "a4"}}
	svc, store := testService(t, client, retrieval.NoopRetriever{}, retrieval.StrategyNone)

	for i := 1; i <= 2; i++ {
		w := postChat(t, svc, fmt.Sprintf(`{"userInput": "q%d", "sessionId": "alice"}`, i))
		require.Equal(t, http.StatusOK, w.Code)
	}

	session, err := store.GetOrCreate("alice")
	require.NoError(t, err)
	afterTwo := session.History.Turns()

	// 3rd request hits the quota: 429 and an untouched history.
	w := postChat(t, svc, `{"userInput": "q3", "sessionId": "alice"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, afterTwo, session.History.Turns())

	var resp errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Error)
	assert.NotEmpty(t, resp.Details)

	// A successful 4th request appends exactly one exchange on top.
	w = postChat(t, svc, `{"userInput": "q4", "sessionId": "alice"}`)
	require.Equal(t, http.StatusOK, w.Code)

	turns := session.History.Turns()
	require.Len(t, turns, len(afterTwo)+2)
	assert.Equal(t, afterTwo, turns[:len(afterTwo)])
	assert.Contains(t, turns[len(turns)-2].Text(), "q4")
	assert.Equal(t, "a4", turns[len(turns)-1].Text())
}

func TestChat_GenericBackendFailureIs500(t *testing.T) {
	client := &mockLLM{replies: []any{errors.New("backend exploded")}}
	svc, store := testService(t, client, retrieval.NoopRetriever{}, retrieval.StrategyNone)

	w := postChat(t, svc, `{"userInput": "q1", "sessionId": "alice"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	session, err := store.GetOrCreate("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, session.History.Len())
}

func TestChat_TurnOrderReflectsCallOrder(t *testing.T) {
	client := &mockLLM{replies: []any{"a1", "a2"}}
	svc, store := testService(t, client, retrieval.NoopRetriever{}, retrieval.StrategyNone)

	postChat(t, svc, `{"userInput": "q1", "sessionId": "alice"}`)
	postChat(t, svc, `{"userInput": "q2", "sessionId": "alice"}`)

	session, err := store.GetOrCreate("alice")
	require.NoError(t, err)
	turns := session.History.Turns()
	require.Len(t, turns, 6)
	assert.Equal(t, "q1", turns[2].Text())
	assert.Equal(t, "a1", turns[3].Text())
	assert.Equal(t, "q2", turns[4].Text())
	assert.Equal(t, "a2", turns[5].Text())
}

func TestChat_NotReadyIs503(t *testing.T) {
	client := &mockLLM{replies: []any{"never used"}}
	notReady := NewChatService(memory.NewSessionStore(nil, 12, 0), client, retrieval.NoopRetriever{}, appconfig.ModelConfig{})

	req := httptest.NewRequest("POST", "/chat", bytes.NewBufferString(`{"userInput": "hi"}`))
	w := httptest.NewRecorder()
	notReady.Routes(t.TempDir()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 0, client.calls)
}

type failingRetriever struct{}

func (failingRetriever) Retrieve(context.Context, string) ([]string, error) {
	return nil, errors.New("corpus unreachable")
}

func TestChat_KeywordRetrievalFailureDegradesToNoContext(t *testing.T) {
	client := &mockLLM{replies: []any{"answer"}}
	svc, _ := testService(t, client, failingRetriever{}, retrieval.StrategyKeyword)

	w := postChat(t, svc, `{"userInput": "hello", "sessionId": "alice"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	// The user turn went through without any folded context.
	last := client.turns[0][len(client.turns[0])-1]
	assert.Equal(t, "hello", last.Text())
}

func TestChat_SemanticRetrievalFailureIs500(t *testing.T) {
	client := &mockLLM{replies: []any{"never used"}}
	svc, store := testService(t, client, failingRetriever{}, retrieval.StrategySemantic)

	w := postChat(t, svc, `{"userInput": "hello", "sessionId": "alice"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 0, client.calls)

	session, err := store.GetOrCreate("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, session.History.Len())
}

type staticContextRetriever struct{ contexts []string }

func (r staticContextRetriever) Retrieve(context.Context, string) ([]string, error) {
	return r.contexts, nil
}

func TestChat_RetrievedContextFoldedIntoUserTurn(t *testing.T) {
	client := &mockLLM{replies: []any{"answer"}}
	svc, _ := testService(t, client,
		staticContextRetriever{contexts: []string{"Enrollment: closes in February."}},
		retrieval.StrategyKeyword)

	w := postChat(t, svc, `{"userInput": "when does enrollment close?", "sessionId": "alice"}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, client.turns, 1)
	last := client.turns[0][len(client.turns[0])-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Contains(t, last.Text(), "Enrollment: closes in February.")
	assert.Contains(t, last.Text(), "when does enrollment close?")
}

func TestChat_SessionsDoNotShareHistory(t *testing.T) {
	client := &mockLLM{replies: []any{"a1", "b1"}}
	svc, store := testService(t, client, retrieval.NoopRetriever{}, retrieval.StrategyNone)

	postChat(t, svc, `{"userInput": "from alice", "sessionId": "alice"}`)
	postChat(t, svc, `{"userInput": "from bob", "sessionId": "bob"}`)

	alice, err := store.GetOrCreate("alice")
	require.NoError(t, err)
	bob, err := store.GetOrCreate("bob")
	require.NoError(t, err)

	assert.Equal(t, 4, alice.History.Len())
	assert.Equal(t, 4, bob.History.Len())
	assert.Equal(t, "from alice", alice.History.Turns()[2].Text())
	assert.Equal(t, "from bob", bob.History.Turns()[2].Text())
}

func TestChat_ConcurrentSameSessionRequestsStayConsistent(t *testing.T) {
	const n = 50
	replies := make([]any, n)
	for i := range replies {
		replies[i] = fmt.Sprintf("a%d", i)
	}
	client := &mockLLM{replies: replies}
	svc, store := testService(t, client, retrieval.NoopRetriever{}, retrieval.StrategyNone)
	handler := svc.Routes(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := fmt.Sprintf(`{"userInput": "q%d", "sessionId": "alice"}`, i)
			req := httptest.NewRequest("POST", "/chat", bytes.NewBufferString(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, client.calls)

	// The cap held and every surviving exchange is an intact user/model pair.
	session, err := store.GetOrCreate("alice")
	require.NoError(t, err)
	turns := session.History.Turns()
	require.Len(t, turns, 12)
	for i := 2; i < len(turns); i += 2 {
		assert.Equal(t, llm.RoleUser, turns[i].Role)
		assert.Equal(t, llm.RoleModel, turns[i+1].Role)
	}
}

func TestHealthz(t *testing.T) {
	client := &mockLLM{}
	svc, _ := testService(t, client, retrieval.NoopRetriever{}, retrieval.StrategyNone)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	svc.Routes(t.TempDir()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok": true}`, w.Body.String())
}
