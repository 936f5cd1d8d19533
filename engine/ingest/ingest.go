// Package ingest composes the document pipeline that turns converted HTML
// into indexed chunks: validate, parse, extract metadata, chunk, persist
// artifacts, embed, and store. It also hosts the NATS consumer that feeds
// the pipeline from conversion-completed events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docdex/docdex/engine/artifact"
	"github.com/docdex/docdex/engine/chunker"
	"github.com/docdex/docdex/engine/domain"
	"github.com/docdex/docdex/engine/parser"
	"github.com/docdex/docdex/pkg/docmeta"
	"github.com/docdex/docdex/pkg/embedder"
	"github.com/docdex/docdex/pkg/fn"
	"github.com/docdex/docdex/pkg/resilience"
)

// EmbedBatchSize is the max chunk texts per embedding request.
const EmbedBatchSize = 64

// Deps holds the external dependencies for the document pipeline.
type Deps struct {
	Embedder   embedder.Client
	Store      ChunkWriter
	Artifacts  *artifact.Store // optional; skips the persist stage when nil
	Chunker    *chunker.Chunker
	Collection string
	Retry      fn.RetryOpts
	Limiter    *resilience.Limiter // consumer pacing; nil gets a default
	Logger     *slog.Logger
}

// --- Pipeline Stages ---

// Validate checks a RawDocument via domain validation.
var Validate fn.Stage[domain.RawDocument, domain.RawDocument] = func(_ context.Context, doc domain.RawDocument) fn.Result[domain.RawDocument] {
	if err := domain.ValidateRawDocument(doc); err != nil {
		return fn.Err[domain.RawDocument](err)
	}
	return fn.Ok(doc)
}

// Parse converts a RawDocument's HTML into an ordered node sequence.
var Parse fn.Stage[domain.RawDocument, ParsedDoc] = func(_ context.Context, doc domain.RawDocument) fn.Result[ParsedDoc] {
	nodes, err := parser.Parse(doc.HTML, doc.DocumentID)
	if err != nil {
		return fn.Err[ParsedDoc](err)
	}
	return fn.Ok(ParsedDoc{Raw: doc, Nodes: nodes})
}

// ExtractMeta fills document metadata from the parsed front matter.
var ExtractMeta fn.Stage[ParsedDoc, ParsedDoc] = fn.MapStage(func(doc ParsedDoc) ParsedDoc {
	doc.Meta = docmeta.Extract(doc.Nodes)
	return doc
})

// NewChunk creates the stage that groups nodes into bounded chunks.
func NewChunk(c *chunker.Chunker) fn.Stage[ParsedDoc, ChunkedDoc] {
	return func(_ context.Context, doc ParsedDoc) fn.Result[ChunkedDoc] {
		chunks, err := c.Build(doc.Raw.DocumentID, doc.Nodes)
		if err != nil {
			return fn.Err[ChunkedDoc](err)
		}
		return fn.Ok(ChunkedDoc{ParsedDoc: doc, Chunks: chunks})
	}
}

// NewSaveArtifacts creates the stage that persists the per-document node and
// chunk records. A nil store disables persistence.
func NewSaveArtifacts(store *artifact.Store) fn.Stage[ChunkedDoc, ChunkedDoc] {
	return func(_ context.Context, doc ChunkedDoc) fn.Result[ChunkedDoc] {
		if store == nil {
			return fn.Ok(doc)
		}
		err := store.SaveNodes(artifact.NodeRecord{
			DocumentID: doc.Raw.DocumentID,
			Source:     doc.Raw.Source,
			Meta:       doc.Meta,
			Nodes:      doc.Nodes,
		})
		if err != nil {
			return fn.Err[ChunkedDoc](err)
		}
		err = store.SaveChunks(artifact.ChunkRecord{
			DocumentID: doc.Raw.DocumentID,
			Chunks:     doc.Chunks,
		})
		if err != nil {
			return fn.Err[ChunkedDoc](err)
		}
		return fn.Ok(doc)
	}
}

// NewEmbed creates the stage that embeds chunk texts in batches.
func NewEmbed(client embedder.Client) fn.Stage[ChunkedDoc, EmbeddedDoc] {
	return func(ctx context.Context, doc ChunkedDoc) fn.Result[EmbeddedDoc] {
		texts := fn.Map(doc.Chunks, func(c domain.Chunk) string { return c.Text })
		vectors := make([][]float32, 0, len(texts))
		for _, batch := range fn.Chunk(texts, EmbedBatchSize) {
			vs, err := client.EmbedBatch(ctx, batch)
			if err != nil {
				return fn.Err[EmbeddedDoc](fmt.Errorf("embed batch: %w", err))
			}
			vectors = append(vectors, vs...)
		}
		return fn.Ok(EmbeddedDoc{ChunkedDoc: doc, Vectors: vectors})
	}
}

// NewStore creates the stage that writes chunks and vectors to the vector
// store. Transient failures are retried with bounded backoff; once the
// budget is exhausted the failure escalates to a persistence error.
func NewStore(store ChunkWriter, collection string, retry fn.RetryOpts) fn.Stage[EmbeddedDoc, StoredDocument] {
	transient := func(err error) bool { return errors.Is(err, domain.ErrTransientStore) }
	return func(ctx context.Context, doc EmbeddedDoc) fn.Result[StoredDocument] {
		result := fn.RetryIf(ctx, retry, transient, func(ctx context.Context) fn.Result[int] {
			return fn.FromPair(store.Write(ctx, collection, doc.Chunks, doc.Vectors))
		})
		written, err := result.Unwrap()
		if err != nil {
			if errors.Is(err, domain.ErrTransientStore) {
				err = fmt.Errorf("store %s: %d chunks: retry budget exhausted: %w: %w",
					doc.Raw.DocumentID, len(doc.Chunks), domain.ErrPersistence, err)
			}
			return fn.Err[StoredDocument](err)
		}
		return fn.Ok(StoredDocument{
			DocumentID: doc.Raw.DocumentID,
			Title:      doc.Meta.Title,
			Nodes:      len(doc.Nodes),
			Chunks:     len(doc.Chunks),
			Written:    written,
		})
	}
}

// LoggedTap returns a pass-through stage that logs progress between stages.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return fn.TapStage(func(_ context.Context, _ T) {
		log.Debug("stage", "name", name)
	})
}

// step wires one named stage behind a logging tap and an OTel span.
func step[In, Out any](log *slog.Logger, name string, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return fn.Then(LoggedTap[In](name, log), fn.TracedStage("ingest."+name, stage))
}

// NewPipeline constructs the full document pipeline with all stages wired.
func NewPipeline(deps Deps) fn.Stage[domain.RawDocument, StoredDocument] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	chk := deps.Chunker
	if chk == nil {
		chk = chunker.MustNew(chunker.DefaultConfig())
	}
	collection := deps.Collection
	if collection == "" {
		collection = domain.DefaultCollection
	}
	retry := deps.Retry
	if retry.MaxAttempts == 0 {
		retry = fn.DefaultRetry
	}

	validated := step(log, "validate", Validate)
	parsed := fn.Then(validated, step(log, "parse", Parse))
	enriched := fn.Then(parsed, step(log, "meta", ExtractMeta))
	chunked := fn.Then(enriched, step(log, "chunk", NewChunk(chk)))
	persisted := fn.Then(chunked, step(log, "artifacts", NewSaveArtifacts(deps.Artifacts)))
	embedded := fn.Then(persisted, step(log, "embed", NewEmbed(deps.Embedder)))
	stored := fn.Then(embedded, step(log, "store", NewStore(deps.Store, collection, retry)))

	return stored
}

// Process runs one document through the pipeline, wrapping any failure in a
// ProcessError so batch callers can report per document and keep going.
func Process(ctx context.Context, pipeline fn.Stage[domain.RawDocument, StoredDocument], doc domain.RawDocument) (StoredDocument, error) {
	summary, err := pipeline(ctx, doc).Unwrap()
	if err != nil {
		return StoredDocument{}, domain.NewProcessError(doc.DocumentID, stageOf(err), err)
	}
	return summary, nil
}

// stageOf buckets a pipeline failure by the taxonomy sentinel it carries.
func stageOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrMalformedInput):
		return "parse"
	case errors.Is(err, domain.ErrConfiguration):
		return "config"
	case errors.Is(err, domain.ErrTransientStore), errors.Is(err, domain.ErrPersistence):
		return "store"
	default:
		return "pipeline"
	}
}
