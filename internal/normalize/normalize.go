// Package normalize canonicalizes transcribed speech before matching.
//
// Normalization is total: every input, including the empty string, yields a
// (possibly empty) result and never an error.
package normalize

import (
	"strings"
	"unicode"
)

// Fillers are hesitation tokens dropped wherever they appear.
var Fillers = []string{"um", "uh", "uhm", "er", "erm", "hmm", "ah"}

// Leading politeness phrases, longest first.
var leadingPolite = [][]string{
	{"i", "would", "like", "to"},
	{"i", "want", "to"},
	{"i", "need", "to"},
	{"can", "you"},
	{"could", "you"},
	{"would", "you"},
	{"kindly"},
	{"please"},
}

// Trailing politeness phrases, longest first.
var trailingPolite = [][]string{
	{"thank", "you"},
	{"for", "me"},
	{"could", "you"},
	{"thanks"},
	{"please"},
}

var contractions = map[string]string{
	"what's":  "what is",
	"where's": "where is",
	"how's":   "how is",
	"it's":    "it is",
	"that's":  "that is",
	"there's": "there is",
	"let's":   "let us",
	"i'm":     "i am",
	"i'd":     "i would",
	"i'll":    "i will",
	"i've":    "i have",
	"you're":  "you are",
	"don't":   "do not",
	"doesn't": "does not",
	"can't":   "cannot",
	"won't":   "will not",
	"isn't":   "is not",
}

// Clean lowercases s, expands common contractions, strips punctuation and
// collapses whitespace. Dots, dashes and underscores between word characters
// are kept so that filenames such as "report-v2.txt" survive, as is a percent
// sign directly after a digit.
func Clean(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("’", "'", "‘", "'", "`", "'").Replace(s)

	words := strings.Fields(s)
	for i, w := range words {
		if exp, ok := contractions[strings.Trim(w, ".,!?;:\"")]; ok {
			words[i] = exp
		}
	}
	s = strings.Join(words, " ")

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range runes {
		switch {
		case isWord(r):
			b.WriteRune(r)
		case r == '\'':
			// dropped: "today's" -> "todays"
		case r == '.' || r == '-' || r == '_':
			if i > 0 && i+1 < len(runes) && isWord(runes[i-1]) && isWord(runes[i+1]) {
				b.WriteRune(r)
			} else {
				b.WriteByte(' ')
			}
		case r == '%':
			if i > 0 && unicode.IsDigit(runes[i-1]) {
				b.WriteRune(r)
			} else {
				b.WriteByte(' ')
			}
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isWord(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

// Normalize cleans raw and removes fillers and politeness phrases. Phrases
// are stripped from either end repeatedly, so "please could you please open
// it thanks" reduces to "open it", while a "please" inside the command is
// kept. A phrase is never stripped if nothing would remain, except that a
// bare "please" normalizes to nothing.
func Normalize(raw string) string {
	return strings.Join(Tokens(raw), " ")
}

// Tokens is Normalize split into words.
func Tokens(raw string) []string {
	words := strings.Fields(Clean(raw))
	out := words[:0]
	for _, w := range words {
		if isFiller(w) {
			continue
		}
		out = append(out, w)
	}
	for changed := true; changed; {
		changed = false
		for _, p := range leadingPolite {
			if len(out) > len(p) && hasPrefix(out, p) {
				out = out[len(p):]
				changed = true
				break
			}
		}
		for _, p := range trailingPolite {
			if len(out) > len(p) && hasSuffix(out, p) {
				out = out[:len(out)-len(p)]
				changed = true
				break
			}
		}
	}
	if len(out) == 1 && out[0] == "please" {
		return out[:0]
	}
	return out
}

func isFiller(w string) bool {
	for _, f := range Fillers {
		if w == f {
			return true
		}
	}
	return false
}

func hasPrefix(words, p []string) bool {
	for i, w := range p {
		if words[i] != w {
			return false
		}
	}
	return true
}

func hasSuffix(words, p []string) bool {
	off := len(words) - len(p)
	for i, w := range p {
		if words[off+i] != w {
			return false
		}
	}
	return true
}
