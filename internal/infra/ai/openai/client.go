package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/glaciergh0st/HuntLens/internal/domain/ai"
	"github.com/glaciergh0st/HuntLens/internal/infra/ai/prompt"
)

const (
	maxTokens         = 2048
	defaultModel      = "gpt-4o-mini"
	defaultDimensions = 1536
)

// Options configures the client. Zero values fall back to defaults.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Dimensions     int
	HTTPClient     *http.Client
}

// Client implements ai.Generator and ai.Embedder on the OpenAI API.
type Client struct {
	*openai.Client
	Model          string
	EmbeddingModel openai.EmbeddingModel
	dims           int
}

func NewClient(o Options) *Client {
	cfg := openai.DefaultConfig(o.APIKey)
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if o.HTTPClient != nil {
		cfg.HTTPClient = o.HTTPClient
	}
	c := &Client{
		Client:         openai.NewClientWithConfig(cfg),
		Model:          o.Model,
		EmbeddingModel: openai.EmbeddingModel(o.EmbeddingModel),
		dims:           o.Dimensions,
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = openai.SmallEmbedding3
	}
	if c.dims <= 0 {
		c.dims = defaultDimensions
	}
	return c
}

// Generate asks the chat model for a playbook draft in JSON mode.
func (c *Client) Generate(ctx context.Context, req ai.GenerationRequest) (string, error) {
	creq := openai.ChatCompletionRequest{
		Model: c.Model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System()},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User(req)},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(c.Model) {
		creq.MaxCompletionTokens = maxTokens
	} else {
		creq.MaxTokens = maxTokens
		creq.Temperature = 0.1
	}

	resp, err := c.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", classify(fmt.Errorf("failed to create chat completion: %w", err))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ai.Transient(ai.ErrEmptyCompletion)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) Name() string {
	return fmt.Sprintf("openai-%s-%d", c.EmbeddingModel, c.dims)
}

func (c *Client) Dimensions() int { return c.dims }

// Embed returns one vector per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := c.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      c.EmbeddingModel,
		Dimensions: c.dims,
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to create embeddings: %w", err))
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("embedding response has invalid index %d", d.Index)
		}
		if len(d.Embedding) != c.dims {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", d.Index, len(d.Embedding), c.dims)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// classify maps provider failures onto the ai error sentinels so callers
// know what may be retried.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ai.ErrQuotaExceeded, err)
	case status == http.StatusRequestTimeout || status >= 500:
		return ai.Transient(err)
	case status == 0 && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded):
		// connection level failure
		return ai.Transient(err)
	}
	return err
}
