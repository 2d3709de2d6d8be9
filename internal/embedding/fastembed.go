package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"spark/internal/config"
)

// FastembedClient talks to a local fastembed (or any OpenAI-compatible)
// embedding service. Calls carry a hard timeout; on failure the caller
// degrades to the lexical path.
type FastembedClient struct {
	client  *openai.Client
	model   string
	dims    int
	timeout time.Duration
}

// NewFastembedClient builds the remote backend from configuration.
func NewFastembedClient(cfg config.EmbeddingConfig) (*FastembedClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("fastembed backend requires an endpoint")
	}
	clientCfg := openai.DefaultConfig("") // local services need no key
	clientCfg.BaseURL = cfg.Endpoint
	timeout := time.Duration(cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FastembedClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		dims:    cfg.Dimensions,
		timeout: timeout,
	}, nil
}

func (c *FastembedClient) Name() string    { return "fastembed" }
func (c *FastembedClient) Dimensions() int { return c.dims }

// Embed requests a single embedding from the service.
func (c *FastembedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("fastembed request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("fastembed returned no embeddings")
	}
	return resp.Data[0].Embedding, nil
}
