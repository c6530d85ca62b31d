package chunker

import (
	"sort"
	"strings"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
)

// isReferenceLabel reports whether label marks a footnote/endnote
// definition item rather than body text.
func isReferenceLabel(label string) bool {
	return label == "footnote" || label == "endnote"
}

// assembleChunk turns one raw, token-bounded group of items into a
// model.Chunk: cleaned text, provenance, table association, and a sorted
// chunk_elements list. Cross-chunk concerns (footnote registry, inline
// references, breadcrumb) are applied afterward by PostProcess.
func assembleChunk(doc *ParsedDocument, raw rawChunk, index int, tableIndex map[string]TableIndexEntry) (model.Chunk, bool) {
	var elements []model.ChunkElement
	pages := make(map[int]bool)
	var textElements []TextElement
	minPage := 0
	hasStructural := false
	totalChars := 0

	for _, item := range raw.Items {
		pages[item.Page] = true

		switch item.Kind {
		case ItemTable:
			elements = append(elements, model.ChunkElement{
				Kind:         model.ElementTable,
				Page:         item.Page,
				PositionHint: PositionHint(item.BBox, doc.PageHeight),
				BBox:         item.BBox,
				TableIndex:   tableIdxFor(item.SelfRef, tableIndex),
				Rows:         item.TableRows,
			})
			hasStructural = true

		default:
			text := resolveItemText(item)
			if text == "" {
				continue
			}
			cleaned := CleanText(text)
			totalChars += len(cleaned)
			label := orDefault(item.Label, "text")
			isRef := isReferenceLabel(label)

			te := TextElement{
				Text:         cleaned,
				Label:        label,
				Page:         item.Page,
				BBox:         item.BBox,
				PositionHint: PositionHint(item.BBox, doc.PageHeight),
				SelfRef:      item.SelfRef,
			}
			textElements = append(textElements, te)

			elements = append(elements, model.ChunkElement{
				Kind:         model.ElementText,
				Page:         item.Page,
				PositionHint: te.PositionHint,
				BBox:         item.BBox,
				Text:         cleaned,
				Label:        label,
				IsReference:  isRef,
			})

			if item.Kind == ItemListItem || item.Kind == ItemSectionHeader || label == "caption" {
				hasStructural = true
			}
		}

		if minPage == 0 || item.Page < minPage {
			minPage = item.Page
		}
	}

	maybeRecoverTable(doc, &elements, textElements, tableIndex)

	elements = append(elements, imageElements(doc, textElements, pages)...)
	elements = filterImagesBeforeText(elements)
	elements = filterTableMetadataText(elements)

	sortElements(elements)

	if totalChars < 100 && !hasStructural {
		return model.Chunk{}, false
	}

	chunk := model.Chunk{
		Index:         index,
		PageNum:       minPage,
		Headings:      raw.Headings,
		ChunkElements: elements,
	}
	populateLegacyProjections(&chunk)
	return chunk, true
}

// populateLegacyProjections derives the flattened Images/Tables/TableData/
// ItemTypes/BBoxes fields from ChunkElements, kept for callers (e.g. the
// embedding debug surface) that don't want to walk the tagged union.
func populateLegacyProjections(c *model.Chunk) {
	c.Images = nil
	c.Tables = nil
	c.TableData = nil
	c.ItemTypes = nil
	c.BBoxes = nil

	itemTypes := make(map[string]bool)
	bboxes := make(map[int][]model.BBox)

	for _, e := range c.ChunkElements {
		itemTypes[string(e.Kind)] = true
		bboxes[e.Page] = append(bboxes[e.Page], e.BBox)

		switch e.Kind {
		case model.ElementImage:
			c.Images = append(c.Images, e.ImagePath)
		case model.ElementTable:
			c.Tables = append(c.Tables, e.TableIndex)
			c.TableData = append(c.TableData, tableRowsToText(e.Rows))
		}
	}

	for t := range itemTypes {
		c.ItemTypes = append(c.ItemTypes, t)
	}
	sort.Strings(c.ItemTypes)
	if len(bboxes) > 0 {
		c.BBoxes = bboxes
	}
}

func tableRowsToText(rows [][]model.TableCell) string {
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		for j, cell := range row {
			if j > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(cell.Text)
		}
	}
	return b.String()
}

func tableIdxFor(ref string, tableIndex map[string]TableIndexEntry) int {
	if ref == "" {
		return 0
	}
	if e, ok := tableIndex[ref]; ok {
		return e.Idx
	}
	return 0
}

func imageElements(doc *ParsedDocument, textElements []TextElement, pages map[int]bool) []model.ChunkElement {
	refs := imagesForChunk(doc, textElements, pages)
	out := make([]model.ChunkElement, 0, len(refs))
	for _, img := range refs {
		out = append(out, model.ChunkElement{
			Kind:         model.ElementImage,
			Page:         img.Page,
			PositionHint: img.PositionHint,
			BBox:         img.BBox,
			ImagePath:    img.Path,
		})
	}
	return out
}

// tableRecoveryThreshold is the minimum number of a table's own cell texts
// that must appear in a chunk's text before the chunk is attributed that
// table as an ad-hoc recovery measure (SPEC_FULL §4, carried from
// original_source's exact threshold).
const tableRecoveryThreshold = 2

// maybeRecoverTable attributes a table to this chunk when no table element
// was built from the item stream but the chunk's text independently
// contains at least tableRecoveryThreshold of that table's cell texts —
// a sign the parser separated the table from its narrative context.
func maybeRecoverTable(doc *ParsedDocument, elements *[]model.ChunkElement, textElements []TextElement, tableIndex map[string]TableIndexEntry) {
	for _, e := range *elements {
		if e.Kind == model.ElementTable {
			return
		}
	}
	if len(textElements) == 0 {
		return
	}

	var chunkText strings.Builder
	for _, te := range textElements {
		chunkText.WriteString(strings.ToLower(te.Text))
		chunkText.WriteString(" ")
	}
	joined := chunkText.String()

	for ref, entry := range tableIndex {
		item := findTableItem(doc, ref)
		if item == nil {
			continue
		}
		matches := countCellMatches(item.TableRows, joined)
		if matches >= tableRecoveryThreshold {
			*elements = append(*elements, model.ChunkElement{
				Kind:         model.ElementTable,
				Page:         entry.Page,
				PositionHint: entry.PositionHint,
				BBox:         item.BBox,
				TableIndex:   entry.Idx,
				Rows:         item.TableRows,
			})
			return
		}
	}
}

func findTableItem(doc *ParsedDocument, ref string) *Item {
	for i := range doc.Items {
		if doc.Items[i].Kind == ItemTable && doc.Items[i].SelfRef == ref {
			return &doc.Items[i]
		}
	}
	return nil
}

func countCellMatches(rows [][]model.TableCell, lowerChunkText string) int {
	count := 0
	for _, row := range rows {
		for _, cell := range row {
			text := strings.ToLower(strings.TrimSpace(cell.Text))
			if text != "" && strings.Contains(lowerChunkText, text) {
				count++
			}
		}
	}
	return count
}

func sortElements(elements []model.ChunkElement) {
	sort.SliceStable(elements, func(i, j int) bool {
		if elements[i].Page != elements[j].Page {
			return elements[i].Page < elements[j].Page
		}
		return elements[i].PositionHint < elements[j].PositionHint
	})
}
