package chunker

import (
	"log/slog"
	"strings"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
)

// TextElement is one text-bearing item located on a page, ready to be
// grouped into chunks.
type TextElement struct {
	Text         string
	Label        string
	Page         int
	BBox         model.BBox
	PositionHint float64
	SelfRef      string
}

// TableIndexEntry records where a table sits on the page, keyed by the
// table item's own self-reference so chunks can re-associate with it.
type TableIndexEntry struct {
	Idx          int
	Page         int
	BBox         model.BBox
	PositionHint float64
}

func isTextLike(kind ItemKind) bool {
	switch kind {
	case ItemText, ItemListItem, ItemSectionHeader:
		return true
	default:
		return false
	}
}

// BuildTextElementsMap walks the document's items and collects every
// text-like element by page, along with a fixed-text map that prefixes
// list-item markers onto their text when not already present.
func BuildTextElementsMap(doc *ParsedDocument) (map[int][]TextElement, map[string]string) {
	byPage := make(map[int][]TextElement)
	fixedText := make(map[string]string)

	total := 0
	for _, item := range doc.Items {
		if !isTextLike(item.Kind) {
			continue
		}
		text := resolveItemText(item)
		if text == "" {
			continue
		}

		elem := TextElement{
			Text:         text,
			Label:        orDefault(item.Label, "text"),
			Page:         item.Page,
			BBox:         item.BBox,
			PositionHint: PositionHint(item.BBox, doc.PageHeight),
			SelfRef:      item.SelfRef,
		}
		byPage[item.Page] = append(byPage[item.Page], elem)
		total++

		if item.SelfRef != "" {
			fixedText[item.SelfRef] = text
		}
	}

	slog.Info("chunker: collected text elements", "count", total, "pages", len(byPage))
	return byPage, fixedText
}

func resolveItemText(item Item) string {
	text := item.Text
	if text == "" {
		return ""
	}
	if item.Kind == ItemListItem && item.Marker != "" {
		marker := strings.TrimSpace(item.Marker)
		if marker != "" && !strings.HasPrefix(strings.TrimSpace(text), marker) {
			text = marker + " " + text
		}
	}
	return text
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// BuildTableIndexMap walks the document's items and records every table's
// position, keyed by its self-reference.
func BuildTableIndexMap(doc *ParsedDocument) map[string]TableIndexEntry {
	index := make(map[string]TableIndexEntry)
	idx := 0
	for _, item := range doc.Items {
		if item.Kind != ItemTable {
			continue
		}
		if item.SelfRef != "" {
			index[item.SelfRef] = TableIndexEntry{
				Idx:          idx,
				Page:         item.Page,
				BBox:         item.BBox,
				PositionHint: PositionHint(item.BBox, doc.PageHeight),
			}
		}
		idx++
	}
	return index
}
