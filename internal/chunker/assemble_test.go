package chunker

import (
	"testing"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
)

func TestAssembleChunkBuildsTextElement(t *testing.T) {
	doc := &ParsedDocument{PageHeight: 842}
	raw := rawChunk{
		Headings: []string{"Intro"},
		Items: []Item{
			{Kind: ItemText, Page: 1, Text: "This paragraph is long enough to count as substantive content on its own, well past one hundred characters total."},
		},
	}

	chunk, ok := assembleChunk(doc, raw, 0, map[string]TableIndexEntry{})

	if !ok {
		t.Fatal("expected chunk to be kept")
	}
	if chunk.PageNum != 1 {
		t.Errorf("PageNum = %d, want 1", chunk.PageNum)
	}
	if len(chunk.ChunkElements) != 1 || chunk.ChunkElements[0].Kind != model.ElementText {
		t.Fatalf("ChunkElements = %+v, want one text element", chunk.ChunkElements)
	}
}

func TestAssembleChunkDropsShortNonStructuralChunk(t *testing.T) {
	doc := &ParsedDocument{PageHeight: 842}
	raw := rawChunk{
		Items: []Item{
			{Kind: ItemText, Page: 1, Text: "short"},
		},
	}

	_, ok := assembleChunk(doc, raw, 0, map[string]TableIndexEntry{})
	if ok {
		t.Error("expected a short chunk with no structural element to be dropped")
	}
}

func TestAssembleChunkKeepsShortListItem(t *testing.T) {
	doc := &ParsedDocument{PageHeight: 842}
	raw := rawChunk{
		Items: []Item{
			{Kind: ItemListItem, Page: 1, Text: "short", Marker: "-"},
		},
	}

	_, ok := assembleChunk(doc, raw, 0, map[string]TableIndexEntry{})
	if !ok {
		t.Error("expected a short chunk with a structural list item to be kept")
	}
}

func TestAssembleChunkBuildsTableElement(t *testing.T) {
	doc := &ParsedDocument{PageHeight: 842}
	raw := rawChunk{
		Items: []Item{
			{Kind: ItemTable, Page: 2, SelfRef: "#/tables/0", TableRows: [][]model.TableCell{
				{{Text: "Region"}, {Text: "Count"}},
			}},
		},
	}
	tableIndex := map[string]TableIndexEntry{"#/tables/0": {Idx: 0, Page: 2}}

	chunk, ok := assembleChunk(doc, raw, 0, tableIndex)

	if !ok {
		t.Fatal("expected table-only chunk to be kept (structural)")
	}
	if len(chunk.Tables) != 1 || chunk.Tables[0] != 0 {
		t.Errorf("Tables = %v, want [0]", chunk.Tables)
	}
	if len(chunk.TableData) != 1 {
		t.Fatalf("TableData = %v, want one row-text entry", chunk.TableData)
	}
}

func TestMaybeRecoverTableAttributesOrphanTable(t *testing.T) {
	tableItem := Item{
		Kind: ItemTable, Page: 3, SelfRef: "#/tables/5",
		TableRows: [][]model.TableCell{{{Text: "Nairobi"}, {Text: "42"}}},
	}
	doc := &ParsedDocument{PageHeight: 842, Items: []Item{tableItem}}
	tableIndex := map[string]TableIndexEntry{"#/tables/5": {Idx: 5, Page: 3}}

	elements := []model.ChunkElement{}
	textElements := []TextElement{{Text: "The survey covered Nairobi and recorded 42 respondents."}}

	maybeRecoverTable(doc, &elements, textElements, tableIndex)

	if len(elements) != 1 || elements[0].Kind != model.ElementTable {
		t.Fatalf("elements = %+v, want one recovered table element", elements)
	}
}

func TestMaybeRecoverTableSkipsWhenBelowThreshold(t *testing.T) {
	tableItem := Item{
		Kind: ItemTable, Page: 3, SelfRef: "#/tables/5",
		TableRows: [][]model.TableCell{{{Text: "Nairobi"}, {Text: "42"}}},
	}
	doc := &ParsedDocument{PageHeight: 842, Items: []Item{tableItem}}
	tableIndex := map[string]TableIndexEntry{"#/tables/5": {Idx: 5, Page: 3}}

	elements := []model.ChunkElement{}
	textElements := []TextElement{{Text: "Only Nairobi is mentioned here, nothing else matches."}}

	maybeRecoverTable(doc, &elements, textElements, tableIndex)

	if len(elements) != 0 {
		t.Errorf("elements = %+v, want none recovered (only 1 of 2 cells matched)", elements)
	}
}

func TestSortElementsOrdersByPageThenPosition(t *testing.T) {
	elements := []model.ChunkElement{
		{Page: 2, PositionHint: 0.1},
		{Page: 1, PositionHint: 0.9},
		{Page: 1, PositionHint: 0.2},
	}
	sortElements(elements)

	if elements[0].Page != 1 || elements[0].PositionHint != 0.2 {
		t.Errorf("elements[0] = %+v, want page 1 / hint 0.2", elements[0])
	}
	if elements[2].Page != 2 {
		t.Errorf("elements[2].Page = %d, want 2", elements[2].Page)
	}
}
