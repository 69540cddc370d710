package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaciergh0st/HuntLens/internal/domain/ai"
	"github.com/glaciergh0st/HuntLens/internal/domain/artifact"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1", Dimensions: 3})
}

func request() ai.GenerationRequest {
	return ai.GenerationRequest{Artifact: artifact.Artifact{Raw: "mimikatz.exe", Type: artifact.TypeProcess, Canonical: "mimikatz.exe"}}
}

func TestGenerate_ReturnsContent(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"{\"nist_phase_playbook\":{}}"},"finish_reason":"stop"}]}`))
	})

	out, err := c.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, `{"nist_phase_playbook":{}}`, out)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, maxTokens, body["max_tokens"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)["content"].(string)
	assert.True(t, strings.HasPrefix(user, "Artifact: mimikatz.exe"))
}

func TestGenerate_ReasoningModelUsesCompletionTokens(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"{}"}}]}`))
	})
	c.Model = "o3-mini"

	_, err := c.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.EqualValues(t, maxTokens, body["max_completion_tokens"])
	assert.NotContains(t, body, "max_tokens")
}

func TestGenerate_ErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		quota     bool
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true, true},
		{"server error", http.StatusServiceUnavailable, false, true},
		{"bad request", http.StatusBadRequest, false, false},
		{"unauthorized", http.StatusUnauthorized, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test_error","code":"x"}}`))
			})
			_, err := c.Generate(context.Background(), request())
			require.Error(t, err)
			assert.Equal(t, tc.quota, errors.Is(err, ai.ErrQuotaExceeded))
			assert.Equal(t, tc.transient, ai.IsTransient(err))
		})
	}
}

func TestGenerate_EmptyCompletionIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	_, err := c.Generate(context.Background(), request())
	assert.ErrorIs(t, err, ai.ErrEmptyCompletion)
	assert.True(t, ai.IsTransient(err))
}

func TestEmbed_OrdersByIndex(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var req map[string]any
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &req))
		assert.Equal(t, "text-embedding-3-small", req["model"])
		assert.EqualValues(t, 3, req["dimensions"])
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0,1,0]},
			{"object":"embedding","index":0,"embedding":[1,0,0]}]}`))
	})

	v, err := c.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0, 0}, {0, 1, 0}}, v)
	assert.Equal(t, "openai-text-embedding-3-small-3", c.Name())
	assert.Equal(t, 3, c.Dimensions())
}

func TestEmbed_RejectsWrongDimensions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	})
	_, err := c.Embed(context.Background(), []string{"only"})
	assert.Error(t, err)
}

func TestEmbed_EmptyInput(t *testing.T) {
	c := NewClient(Options{APIKey: "unused"})
	v, err := c.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, v)
	assert.Equal(t, defaultDimensions, c.Dimensions())
}
