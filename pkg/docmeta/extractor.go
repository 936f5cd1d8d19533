// Package docmeta recovers document-level metadata (title, authors,
// institutions, DOI, keywords) from a parsed node sequence using regex
// patterns and positional heuristics. Extraction is best-effort: a miss
// leaves the field empty, it never fails. No external dependencies.
package docmeta

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/docdex/docdex/engine/domain"
)

// Meta holds the descriptors recovered for one document.
type Meta struct {
	Title        string   `json:"title,omitempty"`
	Authors      []string `json:"authors,omitempty"`
	Institutions []string `json:"institutions,omitempty"`
	DOI          string   `json:"doi,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
}

const (
	// frontMatterWindow caps how many body nodes before the first heading
	// are scanned for authors and institutions.
	frontMatterWindow = 10

	maxAuthors      = 12
	maxInstitutions = 8
	maxKeywords     = 15
)

// affiliationMarks are superscript markers papers attach to author names.
const affiliationMarks = "0123456789*†‡§¶"

// institutionMarkers identify affiliation segments. A segment counts as an
// institution when it contains one of these as a whole word.
var institutionMarkers = []string{
	"University", "Universität", "Université", "Institute", "Institut",
	"Laboratory", "Laboratories", "Lab", "Labs", "College", "School of",
	"Department of", "Faculty of", "Academy", "Polytechnic", "Hospital",
	"Foundation", "Observatory", "Research Center", "Research Centre",
	"CNRS", "INRIA", "ETH", "MIT",
}

// nameStopwords are capitalized words that start prose or section text,
// never a person name.
var nameStopwords = map[string]bool{
	"The": true, "This": true, "That": true, "A": true, "An": true,
	"We": true, "In": true, "On": true, "For": true, "With": true,
	"Abstract": true, "Introduction": true, "Conclusion": true,
	"University": true, "Institute": true, "Department": true,
	"Figure": true, "Table": true, "Section": true, "Appendix": true,
}

var (
	nameTokenRe = regexp.MustCompile(`^[A-Z][A-Za-z'’.-]*$`)
	doiRe       = regexp.MustCompile(`(?i)\b10\.\d{4,9}/[-._;()/:a-z0-9]+`)
	keywordsRe  = regexp.MustCompile(`(?i)^(?:keywords|key words|index terms)\s*[:—–-]\s*(.+)$`)
)

// Extract recovers metadata from a node sequence.
func Extract(nodes []domain.ContentNode) Meta {
	m := Meta{Title: titleOf(nodes)}

	front := frontMatter(nodes)
	m.Authors = findAuthors(front)
	m.Institutions = findInstitutions(front)

	for _, n := range nodes {
		if m.DOI == "" {
			m.DOI = findDOI(n.Text)
		}
		if len(m.Keywords) == 0 {
			m.Keywords = findKeywords(n.Text)
		}
	}
	return m
}

// titleOf prefers the title node and falls back to the first heading.
func titleOf(nodes []domain.ContentNode) string {
	for _, n := range nodes {
		if n.Type == domain.NodeTitle {
			return n.Text
		}
	}
	for _, n := range nodes {
		if n.Type == domain.NodeHeading {
			return n.Text
		}
	}
	return ""
}

// frontMatter returns the body nodes before the first heading. Author and
// affiliation lines live there in every common paper layout.
func frontMatter(nodes []domain.ContentNode) []domain.ContentNode {
	var front []domain.ContentNode
	for _, n := range nodes {
		if n.Type == domain.NodeHeading {
			break
		}
		switch n.Type {
		case domain.NodeParagraph, domain.NodeOther, domain.NodeCaption:
			front = append(front, n)
		}
		if len(front) >= frontMatterWindow {
			break
		}
	}
	return front
}

// findAuthors collects person names from lines that read as name lists.
// A line qualifies when at least two thirds of its comma-separated
// candidates look like names.
func findAuthors(front []domain.ContentNode) []string {
	var authors []string
	seen := map[string]bool{}

	for _, n := range front {
		for _, line := range strings.Split(n.Text, "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimPrefix(strings.TrimPrefix(line, "by "), "By ")
			if line == "" || strings.ContainsAny(line, "@%") {
				continue
			}

			candidates := splitNames(line)
			if len(candidates) == 0 {
				continue
			}
			var names []string
			for _, c := range candidates {
				if name, ok := personName(c); ok {
					names = append(names, name)
				}
			}
			if len(names) == 0 || len(names)*3 < len(candidates)*2 {
				continue
			}

			for _, name := range names {
				key := strings.ToLower(name)
				if seen[key] {
					continue
				}
				seen[key] = true
				authors = append(authors, name)
				if len(authors) >= maxAuthors {
					return authors
				}
			}
		}
	}
	return authors
}

// splitNames breaks an author line into individual name candidates.
func splitNames(line string) []string {
	line = strings.NewReplacer(" and ", ",", " & ", ",", ";", ",").Replace(line)
	var out []string
	for _, part := range strings.Split(line, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// personName validates a candidate as "First [Middle] Last" with two to
// four capitalized tokens, stripping superscript affiliation markers.
func personName(candidate string) (string, bool) {
	tokens := strings.Fields(candidate)
	if len(tokens) < 2 || len(tokens) > 4 {
		return "", false
	}
	for i, tok := range tokens {
		tok = strings.TrimRight(tok, affiliationMarks)
		if tok == "" || !nameTokenRe.MatchString(tok) {
			return "", false
		}
		tokens[i] = tok
	}
	if nameStopwords[tokens[0]] {
		return "", false
	}
	return strings.Join(tokens, " "), true
}

// findInstitutions collects affiliation segments containing a marker word.
func findInstitutions(front []domain.ContentNode) []string {
	var institutions []string
	seen := map[string]bool{}

	for _, n := range front {
		text := strings.NewReplacer(";", ",", "\n", ",").Replace(n.Text)
		for _, seg := range strings.Split(text, ",") {
			seg = strings.TrimSpace(strings.TrimLeft(seg, affiliationMarks+" "))
			if len(seg) < 4 || len(seg) > 80 {
				continue
			}
			for _, marker := range institutionMarkers {
				if !containsWord(seg, marker) {
					continue
				}
				key := strings.ToLower(seg)
				if !seen[key] {
					seen[key] = true
					institutions = append(institutions, seg)
				}
				break
			}
			if len(institutions) >= maxInstitutions {
				return institutions
			}
		}
	}
	return institutions
}

// findDOI returns the first DOI in the text, without trailing punctuation.
func findDOI(text string) string {
	return strings.TrimRight(doiRe.FindString(text), ".,;)")
}

// findKeywords parses a "Keywords:" or "Index Terms" line.
func findKeywords(text string) []string {
	for _, line := range strings.Split(text, "\n") {
		m := keywordsRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		var keywords []string
		for _, kw := range strings.FieldsFunc(m[1], func(r rune) bool {
			return r == ',' || r == ';' || r == '·'
		}) {
			kw = strings.Trim(kw, " .")
			if kw == "" || len(kw) > 50 {
				continue
			}
			keywords = append(keywords, kw)
			if len(keywords) >= maxKeywords {
				break
			}
		}
		if len(keywords) > 0 {
			return keywords
		}
	}
	return nil
}

// containsWord reports whether w occurs in s on word boundaries.
func containsWord(s, w string) bool {
	for start := 0; ; {
		idx := strings.Index(s[start:], w)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(w)
		beforeOK := idx == 0 || !isWordByte(s[idx-1])
		afterOK := end >= len(s) || !isWordByte(s[end])
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
	}
}

func isWordByte(b byte) bool {
	return unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b))
}
