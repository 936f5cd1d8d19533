package main

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docdex/docdex/engine/domain"
	"github.com/docdex/docdex/engine/search"
	"github.com/docdex/docdex/engine/semantic"
)

// version is reported to MCP clients during initialization.
const version = "0.1.0"

// defaultSamples is how many chunk ids collection_info returns unless the
// client asks for more.
const defaultSamples = 5

// server wires the search service and vector store into MCP tools.
type server struct {
	search     *search.Service
	store      *semantic.VectorStore
	collection string
	mcp        *mcp.Server
}

func newServer(svc *search.Service, store *semantic.VectorStore, collection string) *server {
	s := &server{
		search:     svc,
		store:      store,
		collection: collection,
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "docdex",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until the context is cancelled.
func (s *server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over indexed document chunks, with optional document and source-type filters",
	}, s.handleSearchDocuments)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_collections",
		Description: "List the vector collections available for searching",
	}, s.handleListCollections)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "collection_info",
		Description: "Report a collection's chunk count and a few sample chunk ids",
	}, s.handleCollectionInfo)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_documents",
		Description: "Fetch chunks by chunk id, preserving the requested order",
	}, s.handleGetDocuments)
}

// collectionOr falls back to the server's configured collection.
func (s *server) collectionOr(name string) string {
	if name != "" {
		return name
	}
	return s.collection
}

// SearchDocumentsInput is the input schema for search_documents.
type SearchDocumentsInput struct {
	Query       string   `json:"query" jsonschema:"the text to search for"`
	TopK        int      `json:"top_k,omitempty" jsonschema:"maximum number of matches to return (default 5)"`
	Collection  string   `json:"collection,omitempty" jsonschema:"collection to search (server default when empty)"`
	DocumentID  string   `json:"document_id,omitempty" jsonschema:"restrict matches to one document id"`
	SourceTypes []string `json:"source_types,omitempty" jsonschema:"restrict to chunks built from any of these node types: title, heading, paragraph, table, figure, caption, list, other"`
}

// SearchDocumentsOutput is the output schema for search_documents.
type SearchDocumentsOutput struct {
	Matches []search.Match `json:"matches"`
	Count   int            `json:"count"`
}

func (s *server) handleSearchDocuments(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchDocumentsInput,
) (*mcp.CallToolResult, SearchDocumentsOutput, error) {
	matches, err := s.search.Search(ctx, input.Query, search.Options{
		Collection:  s.collectionOr(input.Collection),
		TopK:        input.TopK,
		DocumentID:  input.DocumentID,
		SourceTypes: input.SourceTypes,
	})
	if err != nil {
		return nil, SearchDocumentsOutput{}, err
	}
	if matches == nil {
		matches = []search.Match{}
	}
	return nil, SearchDocumentsOutput{Matches: matches, Count: len(matches)}, nil
}

// ListCollectionsInput is the (empty) input schema for list_collections.
type ListCollectionsInput struct{}

// ListCollectionsOutput is the output schema for list_collections.
type ListCollectionsOutput struct {
	Collections []string `json:"collections"`
	Default     string   `json:"default"`
}

func (s *server) handleListCollections(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ ListCollectionsInput,
) (*mcp.CallToolResult, ListCollectionsOutput, error) {
	names, err := s.store.Collections(ctx)
	if err != nil {
		return nil, ListCollectionsOutput{}, err
	}
	return nil, ListCollectionsOutput{Collections: names, Default: s.collection}, nil
}

// CollectionInfoInput is the input schema for collection_info.
type CollectionInfoInput struct {
	Collection string `json:"collection,omitempty" jsonschema:"collection to inspect (server default when empty)"`
	Samples    int    `json:"samples,omitempty" jsonschema:"number of sample chunk ids to include (default 5)"`
}

// CollectionInfoOutput is the output schema for collection_info.
type CollectionInfoOutput struct {
	Collection string   `json:"collection"`
	Count      uint64   `json:"count"`
	SampleIDs  []string `json:"sample_ids,omitempty"`
}

func (s *server) handleCollectionInfo(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input CollectionInfoInput,
) (*mcp.CallToolResult, CollectionInfoOutput, error) {
	collection := s.collectionOr(input.Collection)
	samples := input.Samples
	if samples <= 0 {
		samples = defaultSamples
	}

	count, err := s.store.Count(ctx, collection, nil)
	if err != nil {
		return nil, CollectionInfoOutput{}, err
	}
	ids, err := s.store.SampleIDs(ctx, collection, uint32(samples))
	if err != nil {
		return nil, CollectionInfoOutput{}, err
	}
	return nil, CollectionInfoOutput{Collection: collection, Count: count, SampleIDs: ids}, nil
}

// GetDocumentsInput is the input schema for get_documents.
type GetDocumentsInput struct {
	ChunkIDs   []string `json:"chunk_ids" jsonschema:"chunk ids to fetch"`
	Collection string   `json:"collection,omitempty" jsonschema:"collection holding the chunks (server default when empty)"`
}

// GetDocumentsOutput is the output schema for get_documents.
type GetDocumentsOutput struct {
	Chunks []domain.Chunk `json:"chunks"`
	Count  int            `json:"count"`
}

func (s *server) handleGetDocuments(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetDocumentsInput,
) (*mcp.CallToolResult, GetDocumentsOutput, error) {
	if len(input.ChunkIDs) == 0 {
		return nil, GetDocumentsOutput{}, fmt.Errorf("chunk_ids is required")
	}
	chunks, err := s.store.Retrieve(ctx, s.collectionOr(input.Collection), input.ChunkIDs)
	if err != nil {
		return nil, GetDocumentsOutput{}, err
	}
	if chunks == nil {
		chunks = []domain.Chunk{}
	}
	return nil, GetDocumentsOutput{Chunks: chunks, Count: len(chunks)}, nil
}
