package chunker

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// macromanMarkers are the mojibake tells that gate the MacRoman repair
// pass — two or more must be present before the fixed translation runs, so
// ordinary accented text is never mangled.
var macromanMarkers = []string{"ˆ", "Ž", "ž", "Š", "š"}

// macromanTranslation maps each mojibake marker rune to the accented
// letter it actually stands for.
var macromanTranslation = strings.NewReplacer(
	"ˆ", "à",
	"Ž", "é",
	"ž", "û",
	"Š", "ä",
	"š", "ö",
)

var rightSingleQuoteBetweenWords = regexp.MustCompile(`(\w)Õ(\w)`)

// fixMacRomanMojibake repairs MacRoman-as-cp1252 mojibake, gated on at
// least two marker characters so plain text is left untouched.
func fixMacRomanMojibake(text string) string {
	count := 0
	for _, m := range macromanMarkers {
		if strings.Contains(text, m) {
			count++
		}
	}
	if count < 2 {
		return text
	}
	cleaned := macromanTranslation.Replace(text)
	cleaned = rightSingleQuoteBetweenWords.ReplaceAllString(cleaned, "$1’$2")
	return cleaned
}

// fffdCorrections are frequent broken tokens observed in parsed evaluation
// reports, applied before the generic U+FFFD fallback.
var fffdCorrections = strings.NewReplacer(
	"Na�onal", "National",
	"D�mo", "Démo",
	"R�publique", "République",
	"cr�que", "cratique",
	"Harmonisa�on", "Harmonisation",
	"Mee�ng", "Meeting",
	"Popula�on", "Population",
	"Organiza�on", "Organisation",
	"Coordina�on", "Coordination",
	"Implementa�on", "Implementation",
	"Administra�on", "Administration",
	"Evalua�on", "Evaluation",
	"Informa�on", "Information",
	"Communica�on", "Communication",
	"Documenta�on", "Documentation",
	"Vaccina�on", "Vaccination",
	"Immunisa�on", "Immunisation",
	"Registra�on", "Registration",
	"Distribu�on", "Distribution",
	"Situa�on", "Situation",
	"Opera�on", "Operation",
	"Alloca�on", "Allocation",
	"Delega�on", "Delegation",
	"Participa�on", "Participation",
	"Applica�on", "Application",
	"Collabora�on", "Collaboration",
	"Presenta�on", "Presentation",
	"Considera�on", "Consideration",
	"Coopera�on", "Cooperation",
	"Nega�ve", "Negative",
)

var genericFFFDFallback = regexp.MustCompile(`([a-z])�([a-z])`)

func fixUnicodeReplacementChar(text string) string {
	if !strings.ContainsRune(text, '�') {
		return text
	}
	cleaned := fffdCorrections.Replace(text)
	cleaned = genericFFFDFallback.ReplaceAllString(cleaned, "${1}ti${2}")
	return cleaned
}

// droppedLigatures are tokens where the "ti" ligature was silently dropped
// during extraction rather than substituted with U+FFFD — a distinct
// failure mode from fixUnicodeReplacementChar's input.
var droppedLigatures = strings.NewReplacer(
	"Naonal", "National",
	"Informaon", "Information",
	"Evaluaon", "Evaluation",
	"Implementaon", "Implementation",
	"Populaon", "Population",
	"Vaccinaon", "Vaccination",
	"Administraon", "Administration",
	"Organizaon", "Organization",
	"Coordinaon", "Coordination",
	"Documentaon", "Documentation",
	"Communicaon", "Communication",
	"Registraon", "Registration",
	"Distribuon", "Distribution",
	"Situaon", "Situation",
	"Operaon", "Operation",
	"Allocaon", "Allocation",
	"Delegaon", "Delegation",
	"Participaon", "Participation",
	"Applicaon", "Application",
	"Collaboraon", "Collaboration",
	"Presentaon", "Presentation",
	"Consideraon", "Consideration",
	"Cooperaon", "Cooperation",
	"Negave", "Negative",
	"Naonwide", "Nationwide",
	"Interna onal", "International",
	"Na onal", "National",
	"Ra o", "Ratio",
	"Propor on", "Proportion",
	"Sani za on", "Sanitization",
)

func fixDroppedLigatures(text string) string {
	return droppedLigatures.Replace(text)
}

var (
	footnoteCaret     = regexp.MustCompile(`\[?\^(\d{1,3})\]?`)
	footnoteBracketed = regexp.MustCompile(`\[(\d{1,3})\]`)
	footnoteSup       = regexp.MustCompile(`<sup>(\d{1,3})</sup>`)
	footnoteLineStart = regexp.MustCompile(`(^|\n)\[\^(\d{1,3})\]`)
)

// standardizeFootnotes canonicalizes inline footnote markers to "[^N]" and
// appends ":" to a footnote definition opening a line, unless it already
// has one. The caret pass leaves an already-canonical "[^N]" as it is, and
// the three marker conversions run in an order (caret, bracket, sup) chosen
// so none re-matches the "[^" a prior pass just introduced.
// RE2 has no negative lookahead, so the "not already followed by a colon"
// check is done by hand on the match bounds.
func standardizeFootnotes(text string) string {
	cleaned := footnoteCaret.ReplaceAllStringFunc(text, func(m string) string {
		open, close := strings.HasPrefix(m, "["), strings.HasSuffix(m, "]")
		if open && close {
			return m
		}
		marker := "[^" + footnoteCaret.FindStringSubmatch(m)[1] + "]"
		if open {
			marker = "[" + marker
		}
		if close {
			marker += "]"
		}
		return marker
	})
	cleaned = footnoteBracketed.ReplaceAllString(cleaned, "[^$1]")
	cleaned = footnoteSup.ReplaceAllString(cleaned, "[^$1]")

	matches := footnoteLineStart.FindAllStringSubmatchIndex(cleaned, -1)
	if len(matches) == 0 {
		return cleaned
	}

	var b strings.Builder
	prev := 0
	for _, m := range matches {
		end := m[1]
		b.WriteString(cleaned[prev:end])
		if end >= len(cleaned) || cleaned[end] != ':' {
			b.WriteString(":")
		}
		prev = end
	}
	b.WriteString(cleaned[prev:])
	return b.String()
}

var spacedTextPattern = regexp.MustCompile(`\b(?:[a-zA-Z](?:   | )){3,}[a-zA-Z]\b`)

// collapseSpacedText removes intra-word spacing from runs of 4+ single
// letters, tolerating a triple space as a genuine word boundary within the
// matched run.
func collapseSpacedText(text string) string {
	if !spacedTextPattern.MatchString(text) {
		return text
	}
	return spacedTextPattern.ReplaceAllStringFunc(text, func(match string) string {
		if strings.Contains(match, "   ") {
			parts := strings.Split(match, "   ")
			for i, p := range parts {
				parts[i] = strings.ReplaceAll(p, " ", "")
			}
			return strings.Join(parts, " ")
		}
		return strings.ReplaceAll(match, " ", "")
	})
}

// CleanText applies every cleaning pass in order; each pass is idempotent,
// so re-cleaning already-clean text is a no-op.
func CleanText(text string) string {
	if text == "" {
		return text
	}
	cleaned := fixMacRomanMojibake(text)
	cleaned = norm.NFKC.String(cleaned)
	cleaned = fixUnicodeReplacementChar(cleaned)
	cleaned = fixDroppedLigatures(cleaned)
	cleaned = standardizeFootnotes(cleaned)
	cleaned = collapseSpacedText(cleaned)
	return cleaned
}

// isASCIILetter reports whether r is an ASCII letter. Nothing in the
// package calls it.
func isASCIILetter(r rune) bool {
	return unicode.IsLetter(r) && r < unicode.MaxASCII
}
