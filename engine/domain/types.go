// Package domain defines core domain types, constants, and validation for the
// docdex pipeline. It acts as the validation gate at pipeline entry points.
package domain

import (
	"fmt"
	"time"
)

// NodeType classifies a structural unit extracted from a document.
type NodeType string

const (
	NodeTitle     NodeType = "title"
	NodeHeading   NodeType = "heading"
	NodeParagraph NodeType = "paragraph"
	NodeTable     NodeType = "table"
	NodeFigure    NodeType = "figure"
	NodeCaption   NodeType = "caption"
	NodeList      NodeType = "list"
	NodeOther     NodeType = "other"
)

// ValidNodeTypes is the set of recognised node types.
var ValidNodeTypes = map[NodeType]bool{
	NodeTitle: true, NodeHeading: true, NodeParagraph: true,
	NodeTable: true, NodeFigure: true, NodeCaption: true,
	NodeList: true, NodeOther: true,
}

// ContentNode is one structural unit extracted from a document. Nodes are
// created once per processing run and are immutable afterwards.
type ContentNode struct {
	ID          string   `json:"id"`
	Type        NodeType `json:"type"`
	Text        string   `json:"text"`
	Level       int      `json:"level,omitempty"`
	Order       int      `json:"order"`
	SectionPath []string `json:"section_path,omitempty"`
}

// ChunkMetadata carries the provenance attached to every chunk. Fields are
// kept scalar or string-list so the vector store can filter on any of them.
type ChunkMetadata struct {
	DocumentID  string   `json:"document_id"`
	Title       string   `json:"title,omitempty"`
	SourceTypes []string `json:"source_types"`
	SectionPath []string `json:"section_path,omitempty"`
	OrderStart  int      `json:"order_start"`
	OrderEnd    int      `json:"order_end"`
	TokenCount  int      `json:"token_count,omitempty"`
}

// Chunk is one retrieval-ready unit built from one or more ContentNodes.
type Chunk struct {
	ID   string        `json:"id"`
	Text string        `json:"text"`
	Meta ChunkMetadata `json:"metadata"`
}

// RawDocument is the pipeline input: one converted HTML artifact plus its
// document identifier.
type RawDocument struct {
	DocumentID string    `json:"document_id"`
	HTML       string    `json:"html"`
	Source     string    `json:"source,omitempty"`
	FetchedAt  time.Time `json:"fetched_at,omitempty"`
}

// DefaultCollection is the vector collection used when none is configured.
const DefaultCollection = "docs"

// NodeID derives the stable node identifier from document id and position.
func NodeID(documentID string, order int) string {
	return fmt.Sprintf("%s-n%d", documentID, order)
}

// ChunkID derives the stable chunk identifier from document id and sequence
// number. Identifiers are namespaced by document, so concurrent writers for
// different documents never collide.
func ChunkID(documentID string, seq int) string {
	return fmt.Sprintf("%s-%d", documentID, seq)
}

// SplitID derives the identifier of one piece of an oversized chunk.
func SplitID(baseID string, piece int) string {
	return fmt.Sprintf("%s-%d", baseID, piece)
}
