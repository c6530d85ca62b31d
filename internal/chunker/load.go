package chunker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
)

// DefaultPageHeight is the standard PDF page height in points, used when a
// parsed document's export doesn't carry per-page geometry.
const DefaultPageHeight = 842.0

// docRef is a document-order pointer into one of the export's flat item
// arrays, e.g. "#/texts/12".
type docRef struct {
	Ref string `json:"$ref"`
}

type docProv struct {
	PageNo int       `json:"page_no"`
	BBox   []float64 `json:"bbox"` // [left, top, right, bottom]
}

type docTextItem struct {
	SelfRef string    `json:"self_ref"`
	Label   string    `json:"label"`
	Text    string    `json:"text"`
	Marker  string    `json:"marker"`
	Prov    []docProv `json:"prov"`
}

type docTableCell struct {
	Text string `json:"text"`
}

type docTableItem struct {
	SelfRef string    `json:"self_ref"`
	Prov    []docProv `json:"prov"`
	Data    struct {
		Grid [][]docTableCell `json:"grid"`
	} `json:"data"`
}

type docPictureItem struct {
	SelfRef string    `json:"self_ref"`
	Prov    []docProv `json:"prov"`
}

type docBody struct {
	Children []docRef `json:"children"`
}

// docExport mirrors the flat-array-plus-reading-order-tree shape of a
// parsed document export: items live in per-kind arrays and are visited in
// document order via body.children's self_ref pointers.
type docExport struct {
	Texts    []docTextItem   `json:"texts"`
	Tables   []docTableItem  `json:"tables"`
	Pictures []docPictureItem `json:"pictures"`
	Body     docBody         `json:"body"`
	Pages    map[string]struct {
		Height float64 `json:"height"`
	} `json:"pages"`
}

type imageMeta struct {
	Path         string    `json:"path"`
	Page         int       `json:"page"`
	BBox         []float64 `json:"bbox"`
	PositionHint float64   `json:"position_hint"`
}

type tableImageMeta struct {
	ImagePath string `json:"image_path"`
}

// LoadParsedDocument reads a parsed-document export (jsonPath) plus its
// sidecar images/table-image metadata files from sibling "images/" and
// "tables/" directories under the same parsed folder.
func LoadParsedDocument(jsonPath string) (*ParsedDocument, error) {
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("chunker.LoadParsedDocument: read %s: %w", jsonPath, err)
	}

	var export docExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return nil, fmt.Errorf("chunker.LoadParsedDocument: parse %s: %w", jsonPath, err)
	}

	pageHeight := DefaultPageHeight
	for _, p := range export.Pages {
		if p.Height > 0 {
			pageHeight = p.Height
			break
		}
	}

	items := walkBody(export)

	dir := filepath.Dir(jsonPath)
	imagesByPage := loadImagesByPage(dir)
	tableImages := loadTableImages(dir, export, pageHeight)

	return &ParsedDocument{
		Items:        items,
		PageHeight:   pageHeight,
		ImagesByPage: imagesByPage,
		TableImages:  tableImages,
	}, nil
}

func walkBody(export docExport) []Item {
	textByRef := make(map[string]int)
	for i, t := range export.Texts {
		textByRef[t.SelfRef] = i
	}
	tableByRef := make(map[string]int)
	for i, t := range export.Tables {
		tableByRef[t.SelfRef] = i
	}
	pictureByRef := make(map[string]int)
	for i, p := range export.Pictures {
		pictureByRef[p.SelfRef] = i
	}

	var items []Item
	order := 0

	var visit func(ref string)
	visit = func(ref string) {
		switch {
		case hasPrefix(ref, "#/texts/"):
			if i, ok := textByRef[ref]; ok {
				items = append(items, textItemToItem(export.Texts[i], order))
				order++
			}
		case hasPrefix(ref, "#/tables/"):
			if i, ok := tableByRef[ref]; ok {
				items = append(items, tableItemToItem(export.Tables[i], order))
				order++
			}
		case hasPrefix(ref, "#/pictures/"):
			if i, ok := pictureByRef[ref]; ok {
				items = append(items, pictureItemToItem(export.Pictures[i], order))
				order++
			}
		}
	}

	if len(export.Body.Children) > 0 {
		for _, child := range export.Body.Children {
			visit(child.Ref)
		}
		return items
	}

	// No reading-order tree: fall back to array order, texts first.
	for _, t := range export.Texts {
		items = append(items, textItemToItem(t, order))
		order++
	}
	for _, t := range export.Tables {
		items = append(items, tableItemToItem(t, order))
		order++
	}
	for _, p := range export.Pictures {
		items = append(items, pictureItemToItem(p, order))
		order++
	}
	return items
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func itemKindForLabel(label string) ItemKind {
	switch label {
	case "list_item":
		return ItemListItem
	case "section_header", "title":
		return ItemSectionHeader
	default:
		return ItemText
	}
}

func textItemToItem(t docTextItem, order int) Item {
	page, bbox := firstProv(t.Prov)
	return Item{
		Kind:    itemKindForLabel(t.Label),
		Order:   order,
		SelfRef: t.SelfRef,
		Label:   t.Label,
		Text:    t.Text,
		Marker:  t.Marker,
		Page:    page,
		BBox:    bbox,
	}
}

func tableItemToItem(t docTableItem, order int) Item {
	page, bbox := firstProv(t.Prov)
	rows := make([][]model.TableCell, 0, len(t.Data.Grid))
	for _, row := range t.Data.Grid {
		cells := make([]model.TableCell, 0, len(row))
		for _, c := range row {
			cells = append(cells, model.TableCell{Text: c.Text})
		}
		rows = append(rows, cells)
	}
	return Item{
		Kind:      ItemTable,
		Order:     order,
		SelfRef:   t.SelfRef,
		Page:      page,
		BBox:      bbox,
		TableRows: rows,
	}
}

func pictureItemToItem(p docPictureItem, order int) Item {
	page, bbox := firstProv(p.Prov)
	return Item{
		Kind:    ItemPicture,
		Order:   order,
		SelfRef: p.SelfRef,
		Page:    page,
		BBox:    bbox,
	}
}

func firstProv(provs []docProv) (int, model.BBox) {
	if len(provs) == 0 {
		return 0, model.BBox{}
	}
	p := provs[0]
	if len(p.BBox) < 4 {
		return p.PageNo, model.BBox{}
	}
	return p.PageNo, model.BBox{Left: p.BBox[0], Top: p.BBox[1], Right: p.BBox[2], Bottom: p.BBox[3]}
}

func loadImagesByPage(parsedDir string) map[int][]ImageRef {
	path := filepath.Join(parsedDir, "images", "images_metadata.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var meta map[string]imageMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}

	byPage := make(map[int][]ImageRef)
	for _, m := range meta {
		var bbox model.BBox
		if len(m.BBox) >= 4 {
			bbox = model.BBox{Left: m.BBox[0], Top: m.BBox[1], Right: m.BBox[2], Bottom: m.BBox[3]}
		}
		byPage[m.Page] = append(byPage[m.Page], ImageRef{
			Path:         m.Path,
			Page:         m.Page,
			BBox:         bbox,
			PositionHint: m.PositionHint,
		})
	}
	return byPage
}

func loadTableImages(parsedDir string, export docExport, pageHeight float64) map[string]ImageRef {
	path := filepath.Join(parsedDir, "tables", "table_images.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var meta map[string]tableImageMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}

	tableIdx := 0
	out := make(map[string]ImageRef)
	for _, t := range export.Tables {
		key := fmt.Sprintf("%d", tableIdx)
		if img, ok := meta[key]; ok && t.SelfRef != "" {
			page, bbox := firstProv(t.Prov)
			out[t.SelfRef] = ImageRef{
				Path:         img.ImagePath,
				Page:         page,
				BBox:         bbox,
				PositionHint: PositionHint(bbox, pageHeight),
			}
		}
		tableIdx++
	}
	return out
}
