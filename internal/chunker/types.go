// Package chunker turns a parsed document into an ordered list of
// retrieval chunks: text, tables and spatially-filtered images grouped
// under a token budget and annotated with cross-chunk footnote references.
package chunker

import "github.com/connexus-ai/evallab-pipeline/internal/model"

// ItemKind is the runtime variant of one item in a parsed document, taking
// the place of dispatch on a docling class name (REDESIGN FLAGS: "dynamic
// item walking" — replaced by an explicit tagged union).
type ItemKind string

const (
	ItemText          ItemKind = "text"
	ItemListItem      ItemKind = "list_item"
	ItemSectionHeader ItemKind = "section_header"
	ItemTable         ItemKind = "table"
	ItemPicture       ItemKind = "picture"
)

// Item is one node of a parsed document's linear item stream, carrying
// enough provenance to place it on a page and within a chunk.
type Item struct {
	Kind ItemKind

	// Order is this item's position in document traversal order; ties in
	// (Page, PositionHint) fall back to it for a stable sort.
	Order int

	SelfRef string
	Label   string
	Text    string
	Marker  string // ListItem marker, prefixed onto Text if not already present.

	Page int
	BBox model.BBox

	TableRows [][]model.TableCell
}

// ImageRef is one sidecar image entry: a page, a bounding box, and a path
// on disk, keyed by page for the spatial filter.
type ImageRef struct {
	Path         string
	Page         int
	BBox         model.BBox
	PositionHint float64
}

// ParsedDocument is the chunker's input: the parsed item stream plus page
// geometry and image/table-image sidecars.
type ParsedDocument struct {
	Items         []Item
	PageHeight    float64
	ImagesByPage  map[int][]ImageRef
	TableImages   map[string]ImageRef // keyed by table self-ref
}

// PositionHint computes (page_height - bbox.top) / page_height, rounded to
// 3 decimal places.
func PositionHint(bbox model.BBox, pageHeight float64) float64 {
	if pageHeight == 0 {
		return 0
	}
	hint := (pageHeight - bbox.Top) / pageHeight
	return round3(hint)
}

func round3(v float64) float64 {
	const scale = 1000.0
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
