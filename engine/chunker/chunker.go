// Package chunker groups an ordered ContentNode sequence into bounded-size
// retrieval chunks. Output is fully deterministic for identical input and
// configuration: chunk ids derive from document id and sequence position,
// and no step depends on map iteration or randomness.
package chunker

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/docdex/docdex/engine/domain"
	"github.com/docdex/docdex/pkg/fn"
)

// Default character budgets.
const (
	DefaultTargetSize = 1200
	DefaultMaxSize    = 2000
)

// nodeSeparator joins node texts inside one chunk.
const nodeSeparator = "\n\n"

// Config controls chunk sizing and boundary behaviour.
type Config struct {
	// TargetSize is the preferred chunk length in characters. A chunk is
	// closed rather than grown past it.
	TargetSize int
	// MaxSize is the hard ceiling. A single node longer than MaxSize is
	// split deterministically.
	MaxSize int
	// RespectBoundaries closes the current chunk when a new section
	// starts, so chunks do not straddle section boundaries.
	RespectBoundaries bool
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		TargetSize:        DefaultTargetSize,
		MaxSize:           DefaultMaxSize,
		RespectBoundaries: true,
	}
}

// Validate rejects unusable configurations before any processing starts.
func (c Config) Validate() error {
	if c.TargetSize <= 0 {
		return fmt.Errorf("chunker: target_size (%d) must be positive: %w",
			c.TargetSize, domain.ErrConfiguration)
	}
	if c.MaxSize <= 0 {
		return fmt.Errorf("chunker: max_size (%d) must be positive: %w",
			c.MaxSize, domain.ErrConfiguration)
	}
	if c.TargetSize > c.MaxSize {
		return fmt.Errorf("chunker: target_size (%d) must not exceed max_size (%d): %w",
			c.TargetSize, c.MaxSize, domain.ErrConfiguration)
	}
	return nil
}

// Chunker builds chunks from node sequences.
type Chunker struct {
	cfg Config
}

// New creates a Chunker, failing fast on invalid configuration.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// MustNew creates a Chunker and panics on invalid configuration.
func MustNew(cfg Config) *Chunker {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// span is the unit of accumulation: one node, or a run of consecutive
// table nodes in the same section treated as one logical table.
type span struct {
	nodes []domain.ContentNode
	text  string
	table bool
}

// Build converts nodes into chunks. It never fails on a well-formed node
// sequence; all failure modes are configuration-time.
func (c *Chunker) Build(documentID string, nodes []domain.ContentNode) ([]domain.Chunk, error) {
	b := &builder{
		cfg:        c.cfg,
		documentID: documentID,
		title:      documentTitle(nodes),
		chunks:     []domain.Chunk{},
	}

	for _, sp := range groupSpans(nodes) {
		if len(b.current) > 0 && c.cfg.RespectBoundaries && b.isBoundary(sp) {
			b.flush()
		}
		if len(b.current) > 0 && b.currentLen+len(nodeSeparator)+len(sp.text) > c.cfg.TargetSize {
			b.flush()
		}
		b.add(sp)
	}
	b.flush()

	return b.chunks, nil
}

// documentTitle returns the text of the first title node, if any.
func documentTitle(nodes []domain.ContentNode) string {
	for _, n := range nodes {
		if n.Type == domain.NodeTitle {
			return n.Text
		}
	}
	return ""
}

// groupSpans merges runs of consecutive table nodes sharing a section into
// single spans, so one logical table split across markup stays together.
func groupSpans(nodes []domain.ContentNode) []span {
	var spans []span
	for _, n := range nodes {
		if n.Type == domain.NodeTable && len(spans) > 0 {
			last := &spans[len(spans)-1]
			if last.table && samePath(last.nodes[0].SectionPath, n.SectionPath) {
				last.nodes = append(last.nodes, n)
				last.text += "\n" + n.Text
				continue
			}
		}
		spans = append(spans, span{
			nodes: []domain.ContentNode{n},
			text:  n.Text,
			table: n.Type == domain.NodeTable,
		})
	}
	return spans
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type builder struct {
	cfg        Config
	documentID string
	title      string

	seq        int
	chunks     []domain.Chunk
	current    []span
	currentLen int
	governing  int
}

// add appends a span to the open chunk buffer.
func (b *builder) add(sp span) {
	if len(b.current) == 0 {
		b.governing = governingLevel(sp)
	} else {
		b.currentLen += len(nodeSeparator)
	}
	b.current = append(b.current, sp)
	b.currentLen += len(sp.text)
}

// isBoundary reports whether sp opens a section at the same or a shallower
// level than the one governing the open chunk.
func (b *builder) isBoundary(sp span) bool {
	switch sp.nodes[0].Type {
	case domain.NodeTitle:
		return true
	case domain.NodeHeading:
		return sp.nodes[0].Level <= b.governing
	default:
		return false
	}
}

// governingLevel derives the section level a chunk belongs to from its
// first span: a heading's own level, or the depth of the section path for
// body content.
func governingLevel(sp span) int {
	n := sp.nodes[0]
	switch n.Type {
	case domain.NodeTitle:
		return 1
	case domain.NodeHeading:
		return n.Level
	default:
		if len(n.SectionPath) > 0 {
			return len(n.SectionPath)
		}
		return 1
	}
}

// flush closes the open buffer into one chunk, splitting it into suffixed
// pieces only when a single oversized span exceeds MaxSize on its own.
func (b *builder) flush() {
	if len(b.current) == 0 {
		return
	}

	texts := make([]string, len(b.current))
	var nodes []domain.ContentNode
	for i, sp := range b.current {
		texts[i] = sp.text
		nodes = append(nodes, sp.nodes...)
	}
	text := strings.Join(texts, nodeSeparator)

	first, last := nodes[0], nodes[len(nodes)-1]
	meta := domain.ChunkMetadata{
		DocumentID:  b.documentID,
		Title:       b.title,
		SourceTypes: sourceTypes(nodes),
		SectionPath: append([]string(nil), first.SectionPath...),
		OrderStart:  first.Order,
		OrderEnd:    last.Order,
	}

	baseID := domain.ChunkID(b.documentID, b.seq)
	b.seq++

	if len(text) <= b.cfg.MaxSize {
		meta.TokenCount = estimateTokens(text)
		b.chunks = append(b.chunks, domain.Chunk{ID: baseID, Text: text, Meta: meta})
	} else {
		table := len(b.current) == 1 && b.current[0].table
		for i, piece := range splitOversized(text, table, b.cfg.MaxSize) {
			pieceMeta := meta
			pieceMeta.TokenCount = estimateTokens(piece)
			b.chunks = append(b.chunks, domain.Chunk{
				ID:   domain.SplitID(baseID, i),
				Text: piece,
				Meta: pieceMeta,
			})
		}
	}

	b.current = nil
	b.currentLen = 0
}

// sourceTypes returns the sorted set of node types in a chunk.
func sourceTypes(nodes []domain.ContentNode) []string {
	types := fn.Unique(fn.Map(nodes, func(n domain.ContentNode) string {
		return string(n.Type)
	}))
	sort.Strings(types)
	return types
}

// estimateTokens approximates token count at four characters per token.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// splitOversized cuts text into position-preserving pieces of at most max
// bytes: tables by rows, prose by sentences, with a hard rune split as the
// last resort for a single run longer than max.
func splitOversized(text string, table bool, max int) []string {
	if table {
		return packParts(strings.Split(text, "\n"), "\n", max)
	}
	return packParts(splitSentences(text), " ", max)
}

// packParts greedily packs parts into pieces of at most max bytes,
// hard-splitting any single part that exceeds max alone.
func packParts(parts []string, sep string, max int) []string {
	var pieces []string
	var buf strings.Builder

	flushBuf := func() {
		if buf.Len() > 0 {
			pieces = append(pieces, buf.String())
			buf.Reset()
		}
	}

	for _, part := range parts {
		if len(part) > max {
			flushBuf()
			pieces = append(pieces, hardSplit(part, max)...)
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(sep)+len(part) > max {
			flushBuf()
		}
		if buf.Len() > 0 {
			buf.WriteString(sep)
		}
		buf.WriteString(part)
	}
	flushBuf()
	return pieces
}

// splitSentences splits text into sentences using punctuation and newlines.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if r == '\n' || i+utf8.RuneLen(r) >= len(text) || isSpaceAt(text, i+utf8.RuneLen(r)) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isSpaceAt(text string, i int) bool {
	r, _ := utf8.DecodeRuneInString(text[i:])
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// hardSplit cuts text into rune-aligned pieces of at most max bytes.
func hardSplit(text string, max int) []string {
	var pieces []string
	var buf strings.Builder
	for _, r := range text {
		if buf.Len() > 0 && buf.Len()+utf8.RuneLen(r) > max {
			pieces = append(pieces, buf.String())
			buf.Reset()
		}
		buf.WriteRune(r)
	}
	if buf.Len() > 0 {
		pieces = append(pieces, buf.String())
	}
	return pieces
}
