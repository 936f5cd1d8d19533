package embedder

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docdex/docdex/engine/domain"
)

var openaiDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

const defaultOpenAIModel = "text-embedding-3-small"

// OpenAI embeds through the OpenAI embeddings API.
type OpenAI struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAI creates an OpenAI embedding client from OPENAI_API_KEY.
func NewOpenAI(model string) (*OpenAI, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("embedder: OPENAI_API_KEY not set: %w", domain.ErrConfiguration)
	}
	return NewOpenAIWithClient(openai.NewClient(key), model), nil
}

// NewOpenAIWithClient wraps a pre-built API client.
func NewOpenAIWithClient(client *openai.Client, model string) *OpenAI {
	if model == "" {
		model = defaultOpenAIModel
	}
	dims, ok := openaiDims[model]
	if !ok {
		dims = openaiDims[defaultOpenAIModel]
	}
	return &OpenAI{client: client, model: model, dims: dims}
}

// Embed returns the embedding vector for one text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds all texts in a single API request. Results are ordered
// by the response index field, which maps each vector to its input.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("embedder: cannot embed empty text at index %d", i)
		}
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(o.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: openai embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedder: openai returned %d embeddings for %d inputs",
			len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedder: openai embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = append([]float32(nil), d.Embedding...)
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embedder: openai response missing embedding %d", i)
		}
	}
	return vectors, nil
}

// Dims returns the vector dimension of the configured model.
func (o *OpenAI) Dims() int {
	return o.dims
}

// Model returns the configured model name.
func (o *OpenAI) Model() string {
	return o.model
}
