package chunker

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
)

// footnoteDefPattern matches a footnote/endnote definition's own leading
// marker "[^14]" at the start of a reference element's text, used to key
// the document-wide registry. A bare "14." prefix does not match.
var footnoteDefPattern = regexp.MustCompile(`^\[\^(\d{1,3})\]`)

// inlineReferencePatterns are the distinct shapes an inline footnote/endnote
// citation takes in parsed report text, tried in order against each text
// element.
var inlineReferencePatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"period_space", regexp.MustCompile(`\.\s+(\d{1,3})\s`)},
	{"start_of_text", regexp.MustCompile(`^(\d{1,3})\s`)},
	{"comma_space", regexp.MustCompile(`,\s+(\d{1,3})\s`)},
	{"period_newline", regexp.MustCompile(`\.\n(\d{1,3})\b`)},
	{"geometric_caret", regexp.MustCompile(`\^(\d{1,3})\b`)},
	{"bracket_caret", regexp.MustCompile(`\[\^(\d{1,3})\]`)},
	{"html_tag", regexp.MustCompile(`<sup>(\d{1,3})</sup>`)},
}

// footnoteRegistry maps a footnote/endnote number to the document-wide
// definition text, built once from every reference element across all
// chunks so a chunk that references but doesn't locally define a footnote
// can still recover its text.
type footnoteRegistry map[int]model.ChunkElement

func buildFootnoteRegistry(chunks []model.Chunk) footnoteRegistry {
	registry := make(footnoteRegistry)
	for _, c := range chunks {
		for _, e := range c.ChunkElements {
			if e.Kind != model.ElementText || !e.IsReference {
				continue
			}
			m := footnoteDefPattern.FindStringSubmatch(e.Text)
			if m == nil {
				continue
			}
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			registry[n] = e
		}
	}
	return registry
}

// detectInlineReferences finds every inline footnote/endnote citation in
// text, trying each pattern in turn and recording its byte offset.
func detectInlineReferences(text string) []model.InlineReference {
	var refs []model.InlineReference
	for _, p := range inlineReferencePatterns {
		matches := p.re.FindAllStringSubmatchIndex(text, -1)
		for _, m := range matches {
			n, err := strconv.Atoi(text[m[2]:m[3]])
			if err != nil {
				continue
			}
			refs = append(refs, model.InlineReference{
				Number:   n,
				Position: m[2],
				Pattern:  p.name,
			})
		}
	}
	return refs
}

// referencedNumbers collects every footnote/endnote number cited by the
// non-reference text elements of a chunk.
func referencedNumbers(elements []model.ChunkElement) map[int]bool {
	cited := make(map[int]bool)
	for i := range elements {
		e := &elements[i]
		if e.Kind != model.ElementText || e.IsReference {
			continue
		}
		refs := detectInlineReferences(e.Text)
		e.InlineReferences = refs
		for _, r := range refs {
			cited[r.Number] = true
		}
	}
	return cited
}

// reconcileFootnotes drops a chunk's own footnote-definition elements that
// nothing in the chunk cites, then re-adds (from the document-wide
// registry) any footnote the chunk does cite but doesn't locally define.
func reconcileFootnotes(elements []model.ChunkElement, registry footnoteRegistry) []model.ChunkElement {
	cited := referencedNumbers(elements)

	present := make(map[int]bool)
	var kept []model.ChunkElement
	for _, e := range elements {
		if e.Kind == model.ElementText && e.IsReference {
			m := footnoteDefPattern.FindStringSubmatch(e.Text)
			if m != nil {
				n, err := strconv.Atoi(m[1])
				if err == nil {
					present[n] = true
					if !cited[n] {
						continue
					}
				}
			}
		}
		kept = append(kept, e)
	}

	for n := range cited {
		if present[n] {
			continue
		}
		if def, ok := registry[n]; ok {
			kept = append(kept, def)
		}
	}

	sortElements(kept)
	return kept
}

// headingBreadcrumbDepth caps the breadcrumb to the innermost headings, so
// deeply nested sections don't dominate a chunk's leading text.
const headingBreadcrumbDepth = 3

// headingBreadcrumb renders "-- h1 > h2 > h3 --" from the last
// headingBreadcrumbDepth entries of a chunk's heading trail, or "" when the
// chunk has no headings.
func headingBreadcrumb(headings []string) string {
	if len(headings) == 0 {
		return ""
	}
	start := 0
	if len(headings) > headingBreadcrumbDepth {
		start = len(headings) - headingBreadcrumbDepth
	}
	return "-- " + strings.Join(headings[start:], " > ") + " --"
}

// buildChunkText renders a chunk's final text: the heading breadcrumb
// followed by every text element's text and every table's rows flattened
// to text, in element order.
func buildChunkText(headings []string, elements []model.ChunkElement) string {
	var b strings.Builder
	if crumb := headingBreadcrumb(headings); crumb != "" {
		b.WriteString(crumb)
		b.WriteString("\n\n")
	}
	for i, e := range elements {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch e.Kind {
		case model.ElementText:
			b.WriteString(e.Text)
		case model.ElementTable:
			b.WriteString(tableRowsToText(e.Rows))
		}
	}
	return b.String()
}

// PostProcess reconciles footnote references across a document's chunks,
// rebuilds each chunk's final text with its heading breadcrumb, and counts
// tokens under counter.
func PostProcess(chunks []model.Chunk, counter *TokenCounter) []model.Chunk {
	registry := buildFootnoteRegistry(chunks)

	for i := range chunks {
		c := &chunks[i]
		c.ChunkElements = reconcileFootnotes(c.ChunkElements, registry)
		populateLegacyProjections(c)
		c.Text = buildChunkText(c.Headings, c.ChunkElements)
		c.TokenCount = counter.Count(c.Text)
	}
	return chunks
}
