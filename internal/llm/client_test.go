package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/pkg/retry"
)

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 7, "total_tokens": 12},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		APIKey:         "test",
		BaseURL:        srv.URL + "/v1",
		Model:          "test-model",
		EmbeddingModel: "test-embed",
		Temperature:    0.2,
		MaxTokens:      64,
		Timeout:        2 * time.Second,
		Retry: retry.Config{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
		},
	})
}

func TestGenerate(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse("  improved query  "))
	})

	out, err := client.Generate(context.Background(), Request{System: "sys", Prompt: "rewrite this"})
	require.NoError(t, err)
	assert.Equal(t, "improved query", out)
	assert.Equal(t, "test-model", got["model"])

	messages, ok := got["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse("ok"))
	})

	out, err := client.Generate(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	})

	_, err := client.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrOracleFailure))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	_, err := client.Generate(context.Background(), Request{Prompt: "x", Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrOracleTimeout), "got %v", err)
}

func TestGenerateEmbedding(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"test-embed","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}]}`))
	})

	vec, err := client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestGenerateJSON(t *testing.T) {
	g := GeneratorFunc(func(context.Context, Request) (string, error) {
		return "Here you go:\n```json\n{\"task_type\": \"compare\", \"confidence\": 0.9}\n```", nil
	})
	res, err := GenerateJSON(context.Background(), g, Request{Prompt: "classify"})
	require.NoError(t, err)
	assert.Equal(t, "compare", res.Get("task_type").String())
	assert.InDelta(t, 0.9, res.Get("confidence").Float(), 1e-9)
}

func TestGenerateJSONDefaultsToEmptyObject(t *testing.T) {
	g := GeneratorFunc(func(context.Context, Request) (string, error) {
		return "I am not sure.", nil
	})
	res, err := GenerateJSON(context.Background(), g, Request{})
	require.NoError(t, err)
	assert.True(t, res.IsObject())
	assert.False(t, res.Get("task_type").Exists())

	failing := GeneratorFunc(func(context.Context, Request) (string, error) {
		return "", domain.ErrOracleFailure
	})
	res, err = GenerateJSON(context.Background(), failing, Request{})
	require.Error(t, err)
	assert.Equal(t, "{}", res.Raw)
}
