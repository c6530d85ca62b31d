package selector

import (
	"context"
	"fmt"
	"testing"

	"github.com/connexus-ai/evallab-pipeline/internal/model"
)

type fakeStore struct {
	byStatus map[model.Status][]*model.Document
	years    map[model.Status][]int
	docs     map[string]*model.Document
	all      []*model.Document
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (*model.Document, error) {
	return f.docs[id], nil
}

func (f *fakeStore) GetDocumentsByStatus(_ context.Context, status model.Status, year *int) ([]*model.Document, error) {
	docs := f.byStatus[status]
	if year == nil {
		return docs, nil
	}
	var out []*model.Document
	for _, d := range docs {
		if d.PublishedYear != nil && *d.PublishedYear == *year {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) GetYearsForStatus(_ context.Context, status model.Status) ([]int, error) {
	return f.years[status], nil
}

func (f *fakeStore) AllDocuments(_ context.Context) ([]*model.Document, error) {
	return f.all, nil
}

func yr(y int) *int { return &y }

func docWithYear(id string, year int) *model.Document {
	return &model.Document{ID: id, PublishedYear: yr(year)}
}

// Scenario S1: 11 documents, partition 3/4 -> [d7, d8, d9].
func TestPartitionSliceScenarioS1(t *testing.T) {
	var docs []*model.Document
	for i := 1; i <= 11; i++ {
		docs = append(docs, &model.Document{ID: idFor(i)})
	}

	got := partitionSlice(docs, 3, 4)
	want := []string{"d7", "d8", "d9"}
	if len(got) != len(want) {
		t.Fatalf("partitionSlice: got %d docs, want %d", len(got), len(want))
	}
	for i, d := range got {
		if d.ID != want[i] {
			t.Errorf("partitionSlice[%d] = %s, want %s", i, d.ID, want[i])
		}
	}
}

func idFor(i int) string {
	return fmt.Sprintf("d%d", i)
}

// TestPartitionSliceCoversWholeList checks the round-trip law: concatenating
// partition(L, i, N) for i in 1..N recovers L (P5).
func TestPartitionSliceCoversWholeList(t *testing.T) {
	var docs []*model.Document
	for i := 0; i < 13; i++ {
		docs = append(docs, &model.Document{ID: idOf(i)})
	}

	const n = 4
	var recombined []*model.Document
	sizes := map[int]bool{}
	for i := 1; i <= n; i++ {
		slice := partitionSlice(docs, i, n)
		sizes[len(slice)] = true
		recombined = append(recombined, slice...)
	}

	if len(recombined) != len(docs) {
		t.Fatalf("partition union has %d docs, want %d", len(recombined), len(docs))
	}
	for i, d := range recombined {
		if d.ID != docs[i].ID {
			t.Errorf("partition union[%d] = %s, want %s", i, d.ID, docs[i].ID)
		}
	}
	if len(sizes) > 2 {
		t.Errorf("partition slice sizes differ by more than 1: saw %d distinct sizes", len(sizes))
	}
}

func idOf(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return string(letters[i])
}

// Scenario S2: documents [(a,2022), (b,2024), (a,2020)] with recent_first
// -> dedupe keeps the last-seen "a" (2020), then sorts descending by year:
// [b(2024), a(2020)].
func TestDedupeAndSortRecentFirstScenarioS2(t *testing.T) {
	docs := []*model.Document{
		docWithYear("a", 2022),
		docWithYear("b", 2024),
		docWithYear("a", 2020),
	}

	deduped := dedupeByID(docs)
	if len(deduped) != 2 {
		t.Fatalf("dedupeByID: got %d docs, want 2", len(deduped))
	}

	sorted := sortRecentFirst(deduped)
	if len(sorted) != 2 || sorted[0].ID != "b" || sorted[1].ID != "a" {
		t.Fatalf("sortRecentFirst: got order %v, want [b a]", idsOf(sorted))
	}
	if sorted[1].Year() != 2020 {
		t.Errorf("expected kept 'a' to carry the last-seen year 2020, got %d", sorted[1].Year())
	}
}

func idsOf(docs []*model.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestSortRecentFirstTreatsMissingYearAsZero(t *testing.T) {
	docs := []*model.Document{
		{ID: "no-year"},
		docWithYear("has-year", 2019),
	}
	sorted := sortRecentFirst(docs)
	if sorted[0].ID != "has-year" || sorted[1].ID != "no-year" {
		t.Fatalf("expected has-year before no-year, got %v", idsOf(sorted))
	}
}

func TestSelectDocIDShortCircuits(t *testing.T) {
	store := &fakeStore{
		docs: map[string]*model.Document{
			"target": {ID: "target", Status: model.StatusParsed},
		},
	}

	docs, err := Select(context.Background(), store, Params{DocID: "target"})
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "target" {
		t.Fatalf("Select(doc_id) = %v, want [target]", docs)
	}
}

func TestSelectDocIDNotFoundReturnsEmpty(t *testing.T) {
	store := &fakeStore{docs: map[string]*model.Document{}}

	docs, err := Select(context.Background(), store, Params{DocID: "missing"})
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("Select(missing doc_id) = %v, want empty", docs)
	}
}

func TestCollectByStageRespectsSkipFlags(t *testing.T) {
	store := &fakeStore{
		byStatus: map[model.Status][]*model.Document{
			model.StatusTagged:     {{ID: "t1"}},
			model.StatusSummarized: {{ID: "s1"}},
			model.StatusParsed:     {{ID: "p1"}},
			model.StatusDownloaded: {{ID: "dl1"}},
		},
	}

	docs, err := Select(context.Background(), store, Params{
		Stages: StageFlags{SkipSummarize: true, SkipTag: true},
	})
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}

	got := map[string]bool{}
	for _, d := range docs {
		got[d.ID] = true
	}
	// index not skipped -> tagged docs included.
	// summarize skipped, index not skipped -> parsed docs go straight to index.
	// parse not skipped -> downloaded docs included.
	for _, want := range []string{"t1", "p1", "dl1"} {
		if !got[want] {
			t.Errorf("expected %s in selection, got %v", want, got)
		}
	}
	if got["s1"] {
		t.Errorf("summarized-status documents should not be collected when the tag stage is skipped: got %v", got)
	}
}

func TestApplyFiltersAgencyExactMatch(t *testing.T) {
	docs := []*model.Document{
		{ID: "a", Organization: "WHO"},
		{ID: "b", Organization: "UNICEF"},
	}
	got := applyFilters(docs, "WHO", "")
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("applyFilters(agency) = %v, want [a]", got)
	}
}

func TestApplyFiltersReportSubstring(t *testing.T) {
	docs := []*model.Document{
		{ID: "a", Filepath: "/data/who/2020/report.pdf"},
		{ID: "b", Filepath: "/data/unicef/2020/other.pdf"},
	}
	got := applyFilters(docs, "", "who")
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("applyFilters(report) = %v, want [a]", got)
	}
}
