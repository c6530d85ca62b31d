package chunker

import (
	"testing"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
)

func TestResolveItemTextPrefixesListMarker(t *testing.T) {
	item := Item{Kind: ItemListItem, Text: "first point", Marker: "-"}
	got := resolveItemText(item)
	want := "- first point"
	if got != want {
		t.Errorf("resolveItemText(%+v) = %q, want %q", item, got, want)
	}
}

func TestResolveItemTextLeavesExistingMarkerAlone(t *testing.T) {
	item := Item{Kind: ItemListItem, Text: "- already marked", Marker: "-"}
	got := resolveItemText(item)
	if got != item.Text {
		t.Errorf("resolveItemText(%+v) = %q, want unchanged", item, got)
	}
}

func TestResolveItemTextEmptyReturnsEmpty(t *testing.T) {
	if got := resolveItemText(Item{Kind: ItemText, Text: ""}); got != "" {
		t.Errorf("resolveItemText(empty) = %q, want empty", got)
	}
}

func TestBuildTextElementsMapGroupsByPage(t *testing.T) {
	doc := &ParsedDocument{
		PageHeight: 842,
		Items: []Item{
			{Kind: ItemText, SelfRef: "#/texts/0", Text: "intro", Page: 1, BBox: model.BBox{Top: 100}},
			{Kind: ItemSectionHeader, SelfRef: "#/texts/1", Text: "Methods", Page: 2, BBox: model.BBox{Top: 50}},
			{Kind: ItemTable, SelfRef: "#/tables/0", Page: 2},
			{Kind: ItemPicture, SelfRef: "#/pictures/0", Page: 2},
		},
	}

	byPage, fixedText := BuildTextElementsMap(doc)

	if len(byPage[1]) != 1 || byPage[1][0].Text != "intro" {
		t.Fatalf("page 1 text elements = %+v, want one 'intro' element", byPage[1])
	}
	if len(byPage[2]) != 1 || byPage[2][0].Text != "Methods" {
		t.Fatalf("page 2 text elements = %+v, want one 'Methods' element", byPage[2])
	}
	if fixedText["#/texts/0"] != "intro" {
		t.Errorf("fixedText[#/texts/0] = %q, want %q", fixedText["#/texts/0"], "intro")
	}
	if _, ok := fixedText["#/tables/0"]; ok {
		t.Errorf("fixedText should not contain table refs")
	}
}

func TestBuildTableIndexMapIndexesAllTablesButKeysOnlyRefd(t *testing.T) {
	doc := &ParsedDocument{
		PageHeight: 842,
		Items: []Item{
			{Kind: ItemTable, SelfRef: "", Page: 1},
			{Kind: ItemTable, SelfRef: "#/tables/1", Page: 2, BBox: model.BBox{Top: 200}},
		},
	}

	index := BuildTableIndexMap(doc)

	if len(index) != 1 {
		t.Fatalf("index = %+v, want exactly one keyed entry", index)
	}
	entry, ok := index["#/tables/1"]
	if !ok {
		t.Fatalf("expected #/tables/1 in index")
	}
	if entry.Idx != 1 {
		t.Errorf("entry.Idx = %d, want 1 (second table by traversal order)", entry.Idx)
	}
	if entry.Page != 2 {
		t.Errorf("entry.Page = %d, want 2", entry.Page)
	}
}
