package chunker

import (
	"strings"
	"testing"
)

func TestFixMacRomanMojibake(t *testing.T) {
	t.Run("below marker threshold leaves text untouched", func(t *testing.T) {
		in := "rŽsumŽ" // only one marker type present twice, still one distinct marker
		got := fixMacRomanMojibake(in)
		if got != in {
			t.Errorf("fixMacRomanMojibake(%q) = %q, want unchanged", in, got)
		}
	})

	t.Run("two distinct markers trigger translation", func(t *testing.T) {
		in := "ˆ Žcole Štandard"
		got := fixMacRomanMojibake(in)
		if got == in {
			t.Errorf("fixMacRomanMojibake(%q) left text unchanged", in)
		}
	})
}

func TestFixUnicodeReplacementChar(t *testing.T) {
	in := "Na�onal Popula�on"
	want := "National Population"
	if got := fixUnicodeReplacementChar(in); got != want {
		t.Errorf("fixUnicodeReplacementChar(%q) = %q, want %q", in, got, want)
	}
}

func TestFixUnicodeReplacementCharGenericFallback(t *testing.T) {
	in := "loca�on"
	want := "location"
	if got := fixUnicodeReplacementChar(in); got != want {
		t.Errorf("fixUnicodeReplacementChar(%q) = %q, want %q", in, got, want)
	}
}

func TestFixDroppedLigatures(t *testing.T) {
	in := "Naonal Informaon campaign"
	want := "National Information campaign"
	if got := fixDroppedLigatures(in); got != want {
		t.Errorf("fixDroppedLigatures(%q) = %q, want %q", in, got, want)
	}
}

func TestStandardizeFootnotesBracketedAndCaret(t *testing.T) {
	in := "see note [3] and ^12 for detail"
	want := "see note [^3] and [^12] for detail"
	if got := standardizeFootnotes(in); got != want {
		t.Errorf("standardizeFootnotes(%q) = %q, want %q", in, got, want)
	}
}

func TestStandardizeFootnotesSupTag(t *testing.T) {
	in := "a claim<sup>7</sup> needs support"
	want := "a claim[^7] needs support"
	if got := standardizeFootnotes(in); got != want {
		t.Errorf("standardizeFootnotes(%q) = %q, want %q", in, got, want)
	}
}

func TestStandardizeFootnotesDoesNotDoubleWrap(t *testing.T) {
	in := "[3] and ^12 and [3] again"
	got := standardizeFootnotes(in)
	if strings.Contains(got, "[[^") {
		t.Errorf("standardizeFootnotes(%q) = %q, double-wrapped a marker", in, got)
	}
}

func TestStandardizeFootnotesAppendsColonAtLineStart(t *testing.T) {
	in := "body text\n[^4] Definition of term"
	got := standardizeFootnotes(in)
	want := "body text\n[^4]: Definition of term"
	if got != want {
		t.Errorf("standardizeFootnotes(%q) = %q, want %q", in, got, want)
	}
}

func TestStandardizeFootnotesLeavesExistingColon(t *testing.T) {
	in := "[^4]: Already has a colon"
	got := standardizeFootnotes(in)
	if got != in {
		t.Errorf("standardizeFootnotes(%q) = %q, want unchanged", in, got)
	}
}

func TestCollapseSpacedText(t *testing.T) {
	in := "This is a  W O R D  in the middle"
	got := collapseSpacedText(in)
	want := "This is a  WORD  in the middle"
	if got != want {
		t.Errorf("collapseSpacedText(%q) = %q, want %q", in, got, want)
	}
}

func TestCollapseSpacedTextLeavesShortRunsAlone(t *testing.T) {
	in := "a b c normal text"
	if got := collapseSpacedText(in); got != in {
		t.Errorf("collapseSpacedText(%q) = %q, want unchanged (run too short)", in, got)
	}
}

func TestCleanTextIdempotent(t *testing.T) {
	in := "Na�onal  W O R D  [3] body\n[^4] Note"
	once := CleanText(in)
	twice := CleanText(once)
	if once != twice {
		t.Errorf("CleanText is not idempotent: first=%q second=%q", once, twice)
	}
}

func TestCleanTextEmpty(t *testing.T) {
	if got := CleanText(""); got != "" {
		t.Errorf("CleanText(\"\") = %q, want empty", got)
	}
}
