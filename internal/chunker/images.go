package chunker

import (
	"math"
	"regexp"
	"strings"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
)

// captionTolerance is the Y-range slack (in points) given to a chunk's
// text range before testing an image's overlap, when the chunk's own text
// mentions a caption keyword — captions live adjacent to the visual, not
// inside its bbox.
const captionTolerance = 250.0

type yRange struct {
	minY, maxY float64
}

// calculateTextBBoxRanges computes each page's Y-coordinate span across a
// chunk's text elements.
func calculateTextBBoxRanges(elements []TextElement) map[int]yRange {
	ranges := make(map[int]yRange)
	for _, e := range elements {
		r, ok := ranges[e.Page]
		if !ok {
			r = yRange{minY: math.Inf(1), maxY: math.Inf(-1)}
		}
		if e.BBox.Top < r.minY {
			r.minY = e.BBox.Top
		}
		if e.BBox.Bottom > r.maxY {
			r.maxY = e.BBox.Bottom
		}
		ranges[e.Page] = r
	}
	return ranges
}

func hasCaptionKeyword(elements []TextElement) bool {
	for _, e := range elements {
		lower := strings.ToLower(strings.TrimSpace(e.Text))
		if strings.HasPrefix(lower, "figure") || strings.HasPrefix(lower, "table") || strings.HasPrefix(lower, "diagram") {
			return true
		}
	}
	return false
}

// shouldIncludeImage reports whether an image's Y-range overlaps the
// chunk's text Y-range, optionally expanded by captionTolerance.
func shouldIncludeImage(imgBBox model.BBox, textRange yRange, hasCaption bool) bool {
	imgMinY, imgMaxY := imgBBox.Top, imgBBox.Bottom

	overlaps := !(imgMaxY < textRange.minY || imgMinY > textRange.maxY)
	if overlaps {
		return true
	}
	if !hasCaption {
		return false
	}

	toleratedMin := textRange.minY - captionTolerance
	toleratedMax := textRange.maxY + captionTolerance
	return !(imgMaxY < toleratedMin || imgMinY > toleratedMax)
}

// imagesForChunk returns the sidecar images on chunk's pages that pass the
// spatial filter, given the chunk's own text elements for Y-range
// computation.
func imagesForChunk(doc *ParsedDocument, textElements []TextElement, pages map[int]bool) []ImageRef {
	textRanges := calculateTextBBoxRanges(textElements)
	hasCaption := hasCaptionKeyword(textElements)

	var out []ImageRef
	for page := range pages {
		for _, img := range doc.ImagesByPage[page] {
			r, ok := textRanges[page]
			if !ok {
				out = append(out, img)
				continue
			}
			if shouldIncludeImage(img.BBox, r, hasCaption) {
				out = append(out, img)
			}
		}
	}
	return out
}

// filterImagesBeforeText drops images that precede the chunk's first
// non-caption text element.
func filterImagesBeforeText(elements []model.ChunkElement) []model.ChunkElement {
	firstTextIdx := -1
	for i, e := range elements {
		if e.Kind != model.ElementText {
			continue
		}
		lower := strings.ToLower(strings.TrimSpace(e.Text))
		isCaption := e.Label == "caption" ||
			strings.HasPrefix(lower, "figure") || strings.HasPrefix(lower, "table") || strings.HasPrefix(lower, "diagram")
		if !isCaption {
			firstTextIdx = i
			break
		}
	}
	if firstTextIdx < 0 {
		return elements
	}

	var kept []model.ChunkElement
	for i, e := range elements {
		if i >= firstTextIdx || e.Kind == model.ElementText || e.Kind == model.ElementTable {
			kept = append(kept, e)
		}
	}
	return kept
}

// tableMetadataPatterns match extraction-debug text that table parsers
// sometimes emit in place of real content.
var tableMetadataPatternSources = []string{
	`best\s+match.*score.*\d+`,
	`\[sheet:.*\]`,
	`sheet:.*score`,
	`^prov[_\s]`,
	`^otsl[_\s]`,
}

var tableMetadataPatterns = compileAll(tableMetadataPatternSources)

func compileAll(sources []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(sources))
	for i, s := range sources {
		out[i] = regexp.MustCompile(s)
	}
	return out
}

// filterTableMetadataText drops short text elements that look like table
// extraction metadata rather than document content.
func filterTableMetadataText(elements []model.ChunkElement) []model.ChunkElement {
	var kept []model.ChunkElement
	for _, e := range elements {
		if e.Kind == model.ElementText {
			text := strings.ToLower(strings.TrimSpace(e.Text))
			if len(text) < 100 {
				isMetadata := false
				for _, p := range tableMetadataPatterns {
					if p.MatchString(text) {
						isMetadata = true
						break
					}
				}
				if isMetadata {
					continue
				}
			}
		}
		kept = append(kept, e)
	}
	return kept
}
