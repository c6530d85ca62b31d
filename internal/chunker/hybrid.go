package chunker

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens under one tokenizer encoding, cached per
// encoding name since construction reloads a vocabulary file.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.Mutex
)

// NewTokenCounter builds a counter for the named tiktoken encoding,
// using cl100k_base when the name is empty. An unknown name is an error.
func NewTokenCounter(encodingName string) (*TokenCounter, error) {
	if encodingName == "" {
		encodingName = "cl100k_base"
	}

	encodingCacheMu.Lock()
	defer encodingCacheMu.Unlock()

	if enc, ok := encodingCache[encodingName]; ok {
		return &TokenCounter{enc: enc}, nil
	}

	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("chunker.NewTokenCounter: %s: %w", encodingName, err)
	}
	encodingCache[encodingName] = enc
	return &TokenCounter{enc: enc}, nil
}

// Count returns the token length of text under this counter's encoding.
func (tc *TokenCounter) Count(text string) int {
	return len(tc.enc.Encode(text, nil, nil))
}

// rawChunk is one token-bounded group of items prior to per-chunk cleaning
// and metadata enrichment.
type rawChunk struct {
	Items    []Item
	Headings []string
}

// headingTrail tracks the nested section headers seen so far in document
// order, used both to label a chunk and to gate the undersized-chunk merge
// pass: only chunks sharing the same heading trail may merge.
type headingTrail struct {
	stack []string
}

func (h *headingTrail) push(level int, title string) {
	if level < 1 {
		level = 1
	}
	if level > len(h.stack) {
		for len(h.stack) < level-1 {
			h.stack = append(h.stack, "")
		}
		h.stack = append(h.stack, title)
		return
	}
	h.stack = h.stack[:level]
	h.stack[level-1] = title
}

func (h *headingTrail) snapshot() []string {
	out := make([]string, 0, len(h.stack))
	for _, s := range h.stack {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sameHeadings(a, b []string) bool {
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

// HybridChunk groups document items under maxTokens, then merges adjacent
// undersized chunks that share the same heading trail, mirroring
// docling's HybridChunker at the granularity this pipeline needs.
func HybridChunk(doc *ParsedDocument, counter *TokenCounter, maxTokens int) []rawChunk {
	split := splitByTokenBudget(doc, counter, maxTokens)
	return mergeUndersized(split, counter, maxTokens)
}

func splitByTokenBudget(doc *ParsedDocument, counter *TokenCounter, maxTokens int) []rawChunk {
	var chunks []rawChunk
	var current rawChunk
	var currentText string
	trail := &headingTrail{}

	flush := func() {
		if len(current.Items) > 0 {
			chunks = append(chunks, current)
		}
		current = rawChunk{}
		currentText = ""
	}

	for _, item := range doc.Items {
		if item.Kind == ItemSectionHeader {
			trail.push(headingLevel(item), item.Text)
		}
		if !isTextLike(item.Kind) && item.Kind != ItemTable {
			continue
		}

		candidateText := currentText
		if item.Text != "" {
			if candidateText != "" {
				candidateText += "\n\n"
			}
			candidateText += item.Text
		}

		if len(current.Items) > 0 && counter.Count(candidateText) > maxTokens {
			flush()
			current.Headings = trail.snapshot()
			currentText = item.Text
			current.Items = append(current.Items, item)
			continue
		}

		if len(current.Items) == 0 {
			current.Headings = trail.snapshot()
		}
		current.Items = append(current.Items, item)
		currentText = candidateText
	}
	flush()

	return chunks
}

// headingLevel infers a section header's nesting depth from its label,
// defaulting to 1 when the parser doesn't supply one.
func headingLevel(item Item) int {
	switch item.Label {
	case "h1", "title":
		return 1
	case "h2":
		return 2
	case "h3":
		return 3
	case "h4":
		return 4
	default:
		return 1
	}
}

// undersizedFraction bounds what counts as "undersized" for the merge
// pass, relative to maxTokens.
const undersizedFraction = 0.5

func mergeUndersized(chunks []rawChunk, counter *TokenCounter, maxTokens int) []rawChunk {
	if len(chunks) == 0 {
		return chunks
	}

	var merged []rawChunk
	current := chunks[0]

	for i := 1; i < len(chunks); i++ {
		next := chunks[i]
		if sameHeadings(current.Headings, next.Headings) &&
			chunkTokenCount(current, counter) < int(float64(maxTokens)*undersizedFraction) {
			combined := append(append([]Item{}, current.Items...), next.Items...)
			if chunkTokenCount(rawChunk{Items: combined}, counter) <= maxTokens {
				current.Items = combined
				continue
			}
		}
		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)
	return merged
}

func chunkTokenCount(c rawChunk, counter *TokenCounter) int {
	var text string
	for _, item := range c.Items {
		if item.Text == "" {
			continue
		}
		if text != "" {
			text += "\n\n"
		}
		text += item.Text
	}
	return counter.Count(text)
}
