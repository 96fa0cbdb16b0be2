package vocab

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold reduces a free-text value to its aggregation key: combining marks
// stripped, then case-folded. "Montado", "montado" and "Montádo" all fold to
// "montado". Folding is display-time only and never touches stored records.
func Fold(value string) string {
	stripped, _, err := transform.String(foldTransformer(), value)
	if err != nil {
		stripped = value
	}
	return strings.ToLower(stripped)
}

func foldTransformer() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// CanonicalLabel maps a raw value to the vocabulary's exact spelling when
// their folded forms match, so variant spellings aggregate into one bucket
// labeled the canonical way. A value with no vocabulary match keeps its raw
// spelling.
func CanonicalLabel(value string, vocabulary []string) string {
	key := Fold(value)
	for _, entry := range vocabulary {
		if Fold(entry) == key {
			return entry
		}
	}
	return value
}
