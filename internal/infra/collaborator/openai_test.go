package collaborator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAIGeneratorSendsChatCompletion(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float32 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": " {\"players\":[]} "}, "finish_reason": "stop"}]
		}`))
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	out, err := gen.Generate(context.Background(), "the prompt")
	require.NoError(t, err)
	require.Equal(t, `{"players":[]}`, out)

	require.Equal(t, "gpt-4o-mini", got.Model)
	require.InDelta(t, 0.9, got.Temperature, 0.001)
	require.Equal(t, 1000, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, "user", got.Messages[1].Role)
	require.Equal(t, "the prompt", got.Messages[1].Content)
}

func TestOpenAIGeneratorRejectsEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := gen.Generate(context.Background(), "p")
	require.Error(t, err)
}

func TestOpenAIGeneratorSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := gen.Generate(context.Background(), "p")
	require.Error(t, err)
}
