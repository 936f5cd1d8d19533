// Package embedder provides embedding-provider clients behind a common
// interface. Vectors are computed client-side because the vector store
// only accepts precomputed embeddings.
package embedder

import (
	"context"
	"fmt"
	"strings"

	"github.com/docdex/docdex/engine/domain"
)

// Client produces embedding vectors for chunk and query text.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dims() int
	Model() string
}

// New selects a provider by name. The addr argument only applies to
// providers reached over plain HTTP.
func New(provider, model, addr string) (Client, error) {
	switch strings.ToLower(provider) {
	case "", "ollama":
		return NewOllama(addr, model), nil
	case "openai":
		return NewOpenAI(model)
	default:
		return nil, fmt.Errorf("embedder: unknown provider %q: %w", provider, domain.ErrConfiguration)
	}
}
