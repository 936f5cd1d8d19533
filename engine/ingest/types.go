package ingest

import (
	"context"

	"github.com/docdex/docdex/engine/domain"
	"github.com/docdex/docdex/pkg/docmeta"
)

// ChunkWriter is the vector-store surface the pipeline writes through.
type ChunkWriter interface {
	Write(ctx context.Context, collection string, chunks []domain.Chunk, vectors [][]float32) (int, error)
}

// ParsedDoc is a raw document after structural parsing, with extracted
// front-matter metadata.
type ParsedDoc struct {
	Raw   domain.RawDocument
	Meta  docmeta.Meta
	Nodes []domain.ContentNode
}

// ChunkedDoc is a parsed document grouped into retrieval-ready chunks.
type ChunkedDoc struct {
	ParsedDoc
	Chunks []domain.Chunk
}

// EmbeddedDoc is a chunked document with one vector per chunk.
type EmbeddedDoc struct {
	ChunkedDoc
	Vectors [][]float32
}

// StoredDocument summarizes one successful pipeline run.
type StoredDocument struct {
	DocumentID string
	Title      string
	Nodes      int
	Chunks     int
	Written    int
}

// rawDocumentFromEvent converts a ConvertedEvent into the pipeline input.
func rawDocumentFromEvent(event ConvertedEvent) domain.RawDocument {
	return domain.RawDocument{
		DocumentID: event.DocumentID,
		HTML:       event.HTML,
		Source:     event.Source,
		FetchedAt:  event.FetchedAt,
	}
}
