// Package search answers text queries against the indexed chunk
// collections. It embeds the query, runs a filtered similarity search
// behind a circuit breaker, and returns scored matches with the chunk
// text and its provenance metadata flattened for transport.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docdex/docdex/engine/domain"
	"github.com/docdex/docdex/engine/semantic"
	"github.com/docdex/docdex/pkg/embedder"
	"github.com/docdex/docdex/pkg/resilience"
)

const (
	// DefaultTopK is the number of matches returned when Options.TopK is zero.
	DefaultTopK = 5
	// DefaultSearchTimeout bounds the vector store call.
	DefaultSearchTimeout = 5 * time.Second
)

// Searcher abstracts the vector store's filtered similarity search.
type Searcher interface {
	QueryAny(ctx context.Context, collection string, vector []float32, k uint64, filters map[string][]string) ([]semantic.SearchResult, error)
}

// Service embeds queries and retrieves the closest chunks.
type Service struct {
	embed   embedder.Client
	store   Searcher
	breaker *resilience.Breaker
	logger  *slog.Logger
}

// New creates a search service over an embedder and a vector store.
func New(embed embedder.Client, store Searcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embed:   embed,
		store:   store,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		logger:  logger,
	}
}

// Options narrows a single search. Zero values fall back to defaults.
type Options struct {
	Collection    string        // vector collection; empty searches domain.DefaultCollection
	TopK          int           // max matches to return
	DocumentID    string        // restrict matches to one document
	SourceTypes   []string      // restrict to chunks built from any of these node types
	SearchTimeout time.Duration // bounds the store call, not the embedding
}

// Match is one scored hit with its chunk metadata flattened.
type Match struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	DocumentID  string   `json:"document_id"`
	Title       string   `json:"title,omitempty"`
	SectionPath []string `json:"section_path,omitempty"`
	SourceTypes []string `json:"source_types,omitempty"`
	OrderStart  int      `json:"order_start"`
	OrderEnd    int      `json:"order_end"`
	Score       float32  `json:"score"`
}

// Search embeds the query text and returns the best matching chunks,
// most similar first.
func (s *Service) Search(ctx context.Context, query string, opts Options) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search: empty query: %w", domain.ErrConfiguration)
	}

	collection := opts.Collection
	if collection == "" {
		collection = domain.DefaultCollection
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	timeout := opts.SearchTimeout
	if timeout <= 0 {
		timeout = DefaultSearchTimeout
	}

	vector, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	filters := map[string][]string{}
	if opts.DocumentID != "" {
		filters[semantic.FieldDocumentID] = []string{opts.DocumentID}
	}
	if len(opts.SourceTypes) > 0 {
		filters[semantic.FieldSourceTypes] = opts.SourceTypes
	}

	searchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var results []semantic.SearchResult
	err = s.breaker.Call(searchCtx, func(ctx context.Context) error {
		var qerr error
		results, qerr = s.store.QueryAny(ctx, collection, vector, uint64(topK), filters)
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("search: query %s: %w", collection, err)
	}
	s.logger.Debug("search done", "collection", collection, "matches", len(results))

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = matchFromResult(r)
	}
	return matches, nil
}

func matchFromResult(r semantic.SearchResult) Match {
	return Match{
		ID:          r.Chunk.ID,
		Text:        r.Chunk.Text,
		DocumentID:  r.Chunk.Meta.DocumentID,
		Title:       r.Chunk.Meta.Title,
		SectionPath: r.Chunk.Meta.SectionPath,
		SourceTypes: r.Chunk.Meta.SourceTypes,
		OrderStart:  r.Chunk.Meta.OrderStart,
		OrderEnd:    r.Chunk.Meta.OrderEnd,
		Score:       r.Score,
	}
}
