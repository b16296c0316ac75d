package weighting

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopWords holds high-frequency function words of the supported languages
// (English, Portuguese, Spanish), already accent-folded.
var stopWords = toSet(`
a an and are as at be but by do does for from had has have how i im is it its me my no not of on or so
that the their them there they this to was we were what when where which who why will with you your
o os as um uma uns umas de do da dos das em no na nos nas por para com sem que e eu tu ele ela voce
meu minha seu sua nao sim se ao aos mas ou como esta estou tenho tem ja foi ser
el la los las un una unos unas del al en por para con sin que y yo tu usted mi su es son pero como
estoy tengo tiene ya fue ser lo le les
`)

func toSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

// fold lowercases s and strips combining marks so "Pagamento", "pagaménto"
// and "PAGAMENTO" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// tokenSet returns the folded content words of s.
func tokenSet(s string) map[string]struct{} {
	words := strings.FieldsFunc(fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len(w) < 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// lexicalOverlap is the fraction of query content words present in text.
func lexicalOverlap(query map[string]struct{}, text string) float64 {
	if len(query) == 0 {
		return 0
	}
	doc := tokenSet(text)
	hit := 0
	for w := range query {
		if _, ok := doc[w]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(query))
}

// normalizeText is the identity used to detect verbatim duplicates.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
