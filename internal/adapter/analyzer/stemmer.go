package analyzer

import "strings"

// Stemmer reduces words to a stem for keyword matching. Common German
// suffixes (-ung, -heit, -keit, -schaft, -lich, -isch and their plurals) are
// stripped first; any other word goes through the Porter algorithm. Input is
// expected lowercase and umlaut-folded.
type Stemmer struct{}

func NewStemmer() *Stemmer {
	return &Stemmer{}
}

// minGermanStem keeps short English words such as "young" or "lung" intact.
const minGermanStem = 4

// germanSuffixes is ordered so the longest form of a suffix is tried first.
var germanSuffixes = []string{
	"schaften", "schaft", "heiten", "keiten", "ungen", "heit", "keit",
	"lichen", "liche", "lich", "ische", "isch", "ung",
}

func (s *Stemmer) Stem(word string) string {
	if len(word) < 3 {
		return word
	}
	if stem, ok := stemGerman(word); ok {
		return stem
	}
	return stemPorter(word)
}

func stemGerman(word string) (string, bool) {
	for _, suf := range germanSuffixes {
		if !strings.HasSuffix(word, suf) {
			continue
		}
		stem := word[:len(word)-len(suf)]
		if len(stem) < minGermanStem || !strings.ContainsAny(stem, "aeiouy") {
			return "", false
		}
		return stem, true
	}
	return "", false
}

// rule replaces suffix with repl when the remaining stem has a measure
// above min.
type rule struct {
	suffix string
	repl   string
}

var (
	porterStep2 = []rule{
		{"ational", "ate"}, {"tional", "tion"}, {"enci", "ence"}, {"anci", "ance"},
		{"izer", "ize"}, {"abli", "able"}, {"alli", "al"}, {"entli", "ent"},
		{"eli", "e"}, {"ousli", "ous"}, {"ization", "ize"}, {"ation", "ate"},
		{"ator", "ate"}, {"alism", "al"}, {"iveness", "ive"}, {"fulness", "ful"},
		{"ousness", "ous"}, {"aliti", "al"}, {"iviti", "ive"}, {"biliti", "ble"},
	}
	porterStep3 = []rule{
		{"icate", "ic"}, {"ative", ""}, {"alize", "al"}, {"iciti", "ic"},
		{"ical", "ic"}, {"ful", ""}, {"ness", ""},
	}
	porterStep4 = []string{
		"ement", "ance", "ence", "able", "ible", "ment", "ant", "ent",
		"ion", "ism", "ate", "iti", "ous", "ive", "ize", "al", "er", "ic", "ou",
	}
)

func stemPorter(word string) string {
	w := []byte(word)
	w = porterPlural(w)
	w = porterPast(w)
	if n := len(w); w[n-1] == 'y' && hasVowel(w[:n-1]) {
		w[n-1] = 'i'
	}
	w = applyRules(w, porterStep2)
	w = applyRules(w, porterStep3)
	w = porterSuffix(w)
	w = porterFinal(w)
	return string(w)
}

// consonant reports whether w[i] is a consonant; y counts as a vowel after
// a consonant.
func consonant(w []byte, i int) bool {
	switch w[i] {
	case 'a', 'e', 'i', 'o', 'u':
		return false
	case 'y':
		return i == 0 || !consonant(w, i-1)
	}
	return true
}

// measure counts the vowel-consonant sequences of w.
func measure(w []byte) int {
	m := 0
	prevVowel := false
	for i := range w {
		c := consonant(w, i)
		if c && prevVowel {
			m++
		}
		prevVowel = !c
	}
	return m
}

func hasVowel(w []byte) bool {
	for i := range w {
		if !consonant(w, i) {
			return true
		}
	}
	return false
}

func doubleConsonant(w []byte) bool {
	n := len(w)
	return n >= 2 && w[n-1] == w[n-2] && consonant(w, n-1)
}

// cvc reports a consonant-vowel-consonant ending whose last letter is not
// w, x or y.
func cvc(w []byte) bool {
	n := len(w)
	if n < 3 || !consonant(w, n-3) || consonant(w, n-2) || !consonant(w, n-1) {
		return false
	}
	return w[n-1] != 'w' && w[n-1] != 'x' && w[n-1] != 'y'
}

func hasSuffix(w []byte, suf string) bool {
	return len(w) >= len(suf) && string(w[len(w)-len(suf):]) == suf
}

func porterPlural(w []byte) []byte {
	switch {
	case hasSuffix(w, "sses"), hasSuffix(w, "ies"):
		return w[:len(w)-2]
	case hasSuffix(w, "ss"):
		return w
	case hasSuffix(w, "s"):
		return w[:len(w)-1]
	}
	return w
}

func porterPast(w []byte) []byte {
	if hasSuffix(w, "eed") {
		if measure(w[:len(w)-3]) > 0 {
			return w[:len(w)-1]
		}
		return w
	}

	var stem []byte
	switch {
	case hasSuffix(w, "ed"):
		stem = w[:len(w)-2]
	case hasSuffix(w, "ing"):
		stem = w[:len(w)-3]
	default:
		return w
	}
	if !hasVowel(stem) {
		return w
	}

	switch {
	case hasSuffix(stem, "at"), hasSuffix(stem, "bl"), hasSuffix(stem, "iz"):
		return append(stem, 'e')
	case doubleConsonant(stem):
		if c := stem[len(stem)-1]; c != 'l' && c != 's' && c != 'z' {
			return stem[:len(stem)-1]
		}
	case measure(stem) == 1 && cvc(stem):
		return append(stem, 'e')
	}
	return stem
}

// applyRules applies the first rule whose suffix matches. A match on a stem
// with measure 0 ends the step without a change.
func applyRules(w []byte, rules []rule) []byte {
	for _, r := range rules {
		if !hasSuffix(w, r.suffix) {
			continue
		}
		stem := w[:len(w)-len(r.suffix)]
		if measure(stem) == 0 {
			return w
		}
		return append(stem[:len(stem):len(stem)], r.repl...)
	}
	return w
}

func porterSuffix(w []byte) []byte {
	for _, suf := range porterStep4 {
		if !hasSuffix(w, suf) {
			continue
		}
		stem := w[:len(w)-len(suf)]
		if measure(stem) <= 1 {
			return w
		}
		if suf == "ion" && !hasSuffix(stem, "s") && !hasSuffix(stem, "t") {
			return w
		}
		return stem
	}
	return w
}

func porterFinal(w []byte) []byte {
	if hasSuffix(w, "e") {
		stem := w[:len(w)-1]
		if m := measure(stem); m > 1 || (m == 1 && !cvc(stem)) {
			w = stem
		}
	}
	if hasSuffix(w, "ll") && measure(w) > 1 {
		w = w[:len(w)-1]
	}
	return w
}
