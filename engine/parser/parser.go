// Package parser converts one converted HTML artifact into the ordered,
// content-typed node sequence the chunker consumes. Classification is a
// single dispatch over the fixed node-type set, one extraction rule per
// type; traversal state lives in an explicit context so parsing is
// reentrant across documents.
package parser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/docdex/docdex/engine/domain"
)

// Tags whose subtrees carry no document content.
var prunedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"nav": true, "header": true, "footer": true, "aside": true, "form": true,
}

// Tags that only group content; traversal descends without emitting.
var containerTags = map[string]bool{
	"html": true, "body": true, "div": true, "section": true,
	"article": true, "main": true,
}

type handler func(*traversal, *html.Node)

// handlers dispatches block elements to the extraction rule for their node
// type. Unlisted, non-container tags fall through to emitOther.
var handlers = map[string]handler{
	"h1": emitHeading, "h2": emitHeading, "h3": emitHeading,
	"h4": emitHeading, "h5": emitHeading, "h6": emitHeading,
	"p":          emitParagraph,
	"table":      emitTable,
	"ul":         emitList,
	"ol":         emitList,
	"figure":     emitFigure,
	"img":        emitFigure,
	"figcaption": emitCaption,
	"caption":    emitCaption,
	"blockquote": emitOther,
	"pre":        emitOther,
}

const minTextLength = 2

// section is one open heading on the traversal stack.
type section struct {
	level int
	title string
}

// traversal is the explicit per-call parse state.
type traversal struct {
	documentID string
	order      int
	sections   []section
	nodes      []domain.ContentNode
	sawTitle   bool
}

// Parse converts HTML into an ordered ContentNode sequence. Malformed
// markup is tolerated: the tree builder recovers locally and unparseable
// subtrees are skipped. Parse fails only when a non-blank document yields
// no content at all.
func Parse(rawHTML, documentID string) ([]domain.ContentNode, error) {
	cleaned := StripFence(rawHTML)

	root, err := html.Parse(strings.NewReader(cleaned))
	if err != nil {
		return nil, fmt.Errorf("parser: document %s: %w", documentID, domain.ErrMalformedInput)
	}

	body := findElement(root, "body")
	if body == nil {
		body = root
	}

	t := &traversal{documentID: documentID}
	t.walk(body)

	if len(t.nodes) == 0 {
		return nil, fmt.Errorf("parser: no content extracted from document %s: %w",
			documentID, domain.ErrMalformedInput)
	}
	return t.nodes, nil
}

// StripFence removes the Markdown code fence that document-conversion
// models often wrap their HTML output in.
func StripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
			trimmed = trimmed[i+1:]
		} else {
			return ""
		}
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	}
	return strings.TrimSpace(trimmed)
}

// walk visits children in document order, dispatching block elements to
// their type handlers and descending into pure containers.
func (t *traversal) walk(n *html.Node) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		switch child.Type {
		case html.TextNode:
			// Bare text outside any block element: fallback node.
			if text := collapse(child.Data); len(text) >= minTextLength {
				t.emit(domain.NodeOther, text, 0)
			}
		case html.ElementNode:
			tag := child.Data
			if prunedTags[tag] {
				continue
			}
			if h, ok := handlers[tag]; ok {
				h(t, child)
				continue
			}
			if containerTags[tag] {
				t.walk(child)
				continue
			}
			emitOther(t, child)
		}
	}
}

// emit appends one node, stamping id, order, and the current section path.
func (t *traversal) emit(typ domain.NodeType, text string, level int) {
	path := make([]string, len(t.sections))
	for i, s := range t.sections {
		path[i] = s.title
	}
	t.nodes = append(t.nodes, domain.ContentNode{
		ID:          domain.NodeID(t.documentID, t.order),
		Type:        typ,
		Text:        text,
		Level:       level,
		Order:       t.order,
		SectionPath: path,
	})
	t.order++
}

// closeSections pops open sections at the same or a deeper level, so a new
// heading's emitted path lists only true ancestors.
func (t *traversal) closeSections(level int) {
	for len(t.sections) > 0 && t.sections[len(t.sections)-1].level >= level {
		t.sections = t.sections[:len(t.sections)-1]
	}
}

func (t *traversal) openSection(level int, title string) {
	t.sections = append(t.sections, section{level: level, title: title})
}

func emitHeading(t *traversal, n *html.Node) {
	text := collapse(textContent(n))
	if text == "" {
		return
	}
	level := int(n.Data[1] - '0')
	t.closeSections(level)
	if level == 1 && !t.sawTitle {
		t.sawTitle = true
		t.emit(domain.NodeTitle, text, 0)
	} else {
		t.emit(domain.NodeHeading, text, level)
	}
	t.openSection(level, text)
}

func emitParagraph(t *traversal, n *html.Node) {
	text := collapse(textContent(n))
	if len(text) < minTextLength {
		return
	}
	// A short, fully bolded single-line paragraph is an unnumbered heading.
	if level, ok := boldHeadingLevel(t, n, text); ok {
		t.closeSections(level)
		t.emit(domain.NodeHeading, text, level)
		t.openSection(level, text)
		return
	}
	t.emit(domain.NodeParagraph, text, 0)
}

const maxBoldHeadingLength = 100

// boldHeadingLevel reports whether a paragraph consists solely of one
// bold/strong span short enough to read as a section heading, and the
// level it would open below the current section.
func boldHeadingLevel(t *traversal, n *html.Node, text string) (int, bool) {
	if len(text) > maxBoldHeadingLength || strings.HasSuffix(text, ".") {
		return 0, false
	}
	var bold *html.Node
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		switch {
		case child.Type == html.TextNode && strings.TrimSpace(child.Data) == "":
			continue
		case child.Type == html.ElementNode && (child.Data == "b" || child.Data == "strong"):
			if bold != nil {
				return 0, false
			}
			bold = child
		default:
			return 0, false
		}
	}
	if bold == nil || collapse(textContent(bold)) != text {
		return 0, false
	}
	level := 2
	if len(t.sections) > 0 {
		level = t.sections[len(t.sections)-1].level + 1
	}
	if level > 6 {
		level = 6
	}
	return level, true
}

func emitTable(t *traversal, n *html.Node) {
	// A table's own caption precedes it in document order.
	if caption := findElement(n, "caption"); caption != nil {
		if text := collapse(textContent(caption)); len(text) >= minTextLength {
			t.emit(domain.NodeCaption, text, 0)
		}
	}
	if text := tableText(n); text != "" {
		t.emit(domain.NodeTable, text, 0)
	}
}

// tableText serializes a table one row per line, cells joined with " | ".
// Nested tables flatten into the text of the cell that contains them, so
// the outermost table yields a single node.
func tableText(n *html.Node) string {
	var rows []string
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != html.ElementNode {
				continue
			}
			switch child.Data {
			case "tr":
				if row := rowText(child); row != "" {
					rows = append(rows, row)
				}
			case "thead", "tbody", "tfoot":
				collect(child)
			}
		}
	}
	collect(n)
	return strings.Join(rows, "\n")
}

func rowText(tr *html.Node) string {
	var cells []string
	for child := tr.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && (child.Data == "td" || child.Data == "th") {
			cells = append(cells, collapse(textContent(child)))
		}
	}
	if len(cells) == 0 {
		return ""
	}
	return strings.Join(cells, " | ")
}

func emitList(t *traversal, n *html.Node) {
	var items []string
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.Data == "li" {
			if text := collapse(textContent(child)); text != "" {
				items = append(items, "• "+text)
			}
		}
	}
	if len(items) == 0 {
		return
	}
	t.emit(domain.NodeList, strings.Join(items, "\n"), 0)
}

func emitFigure(t *traversal, n *html.Node) {
	img := n
	if n.Data != "img" {
		img = findElement(n, "img")
	}
	var alt, src string
	if img != nil {
		alt = collapse(attr(img, "alt"))
		src = attr(img, "src")
	}

	text := "[Figure]"
	if alt != "" {
		text = fmt.Sprintf("[Figure: %s]", alt)
	}
	if src != "" {
		text += fmt.Sprintf(" (%s)", src)
	}
	if n.Data == "figure" {
		if caption := findElement(n, "figcaption"); caption != nil {
			if capText := collapse(textContent(caption)); capText != "" {
				text += "\n" + capText
			}
		}
	}
	t.emit(domain.NodeFigure, text, 0)
}

// emitCaption handles caption markup outside figure/table scope, where the
// owning element's handler has not already folded it in.
func emitCaption(t *traversal, n *html.Node) {
	if text := collapse(textContent(n)); len(text) >= minTextLength {
		t.emit(domain.NodeCaption, text, 0)
	}
}

func emitOther(t *traversal, n *html.Node) {
	if text := collapse(textContent(n)); len(text) >= minTextLength {
		t.emit(domain.NodeOther, text, 0)
	}
}

// findElement returns the first element with the given tag in a
// depth-first search rooted at n.
func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, tag); found != nil {
			return found
		}
	}
	return nil
}

// textContent gathers all text beneath n, skipping pruned subtrees.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteByte(' ')
			return
		}
		if node.Type == html.ElementNode && prunedTags[node.Data] {
			return
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// collapse trims and squeezes all runs of whitespace to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
