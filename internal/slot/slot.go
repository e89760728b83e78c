// Package slot extracts typed parameters for a matched intent from the words
// of an utterance.
//
// Words captured by a {slot} marker are parsed for that slot first. Other
// slots scan the words the synonym match did not consume, in schema order,
// and each slot consumes the words it takes. Pronouns such as "it" are not
// values: they are reported as references for the context manager to
// resolve.
package slot

import (
	"slices"
	"strings"

	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/message"
	"github.com/nadzzz/aura/internal/synonym"
)

// Anaphora are the pronouns that refer back to an earlier command.
var Anaphora = []string{"it", "that", "this"}

var (
	defaultStrip        = []string{"for", "about", "in", "on", "to", "the", "of"}
	defaultPrepositions = []string{"to", "as", "named", "called"}
	articles            = []string{"the", "a", "an"}

	// placeholders may follow a pronoun without making it a value
	// ("that folder").
	placeholders = []string{"folder", "file", "directory", "one", "document"}
)

// Reference is a slot whose value is a pronoun.
type Reference struct {
	Slot string          `json:"slot"`
	Type intent.SlotType `json:"type"`
	Word string          `json:"word"`
}

// Candidate is the result of extraction: explicit values, the required slots
// that are still empty, and the pronouns that need resolving.
type Candidate struct {
	Slots      message.Slots `json:"slots"`
	Missing    []string      `json:"missing,omitempty"`
	References []Reference   `json:"references,omitempty"`
}

// Extractor turns utterance words into slot values. The zero value is ready
// to use.
type Extractor struct{}

// word is a token with its position in the utterance.
type word struct {
	i    int
	text string
}

// Extract fills the slots of spec from tokens using the spans recorded in m.
func (Extractor) Extract(tokens []string, m synonym.Match, spec intent.Spec) Candidate {
	c := Candidate{Slots: message.Slots{}}
	used := make([]bool, len(tokens))
	for _, i := range m.Literal {
		if i >= 0 && i < len(used) {
			used[i] = true
		}
	}
	captured := make([]bool, len(tokens))
	for _, cp := range m.Captures {
		for i := cp.Start; i < cp.End && i < len(tokens); i++ {
			captured[i] = true
		}
	}

	for _, ss := range spec.Slots {
		var pool []word
		if cp, ok := m.Captures[ss.Name]; ok {
			for i := cp.Start; i < cp.End && i < len(tokens); i++ {
				if !used[i] {
					pool = append(pool, word{i, tokens[i]})
				}
			}
		} else {
			for i, t := range tokens {
				if !used[i] && !captured[i] {
					pool = append(pool, word{i, t})
				}
			}
			if len(pool) == 0 {
				// Other slots' captures are fair game once they have
				// taken what they need.
				for i, t := range tokens {
					if !used[i] {
						pool = append(pool, word{i, t})
					}
				}
			}
		}

		r := parse(ss, pool)
		for _, i := range r.take {
			used[i] = true
		}
		switch {
		case r.ref != "":
			c.References = append(c.References, Reference{Slot: ss.Name, Type: ss.Type, Word: r.ref})
		case r.ok:
			c.Slots[ss.Name] = r.value
		case ss.Required:
			c.Missing = append(c.Missing, ss.Name)
		}
	}
	return c
}

type result struct {
	value message.Value
	ok    bool
	ref   string
	take  []int
}

func parse(ss intent.SlotSpec, pool []word) result {
	switch ss.Type {
	case intent.Integer, intent.Ordinal:
		return parseNumber(ss, pool)
	case intent.Enum:
		return parseEnum(ss, pool)
	case intent.FreeText:
		return parseFreeText(ss, pool)
	case intent.Filename:
		return parseFilename(ss, pool)
	}
	return result{}
}

func parseNumber(ss intent.SlotSpec, pool []word) result {
	for k := 0; k < len(pool); k++ {
		// ParseNumber needs adjacent words.
		run := []string{pool[k].text}
		for j := k + 1; j < len(pool) && pool[j].i == pool[j-1].i+1; j++ {
			run = append(run, pool[j].text)
		}
		if v, n, ok := ParseNumber(run); ok {
			return result{value: message.IntValue(ss.Type, v), ok: true, take: indices(pool[k : k+n])}
		}
	}
	if w, ok := findAnaphor(pool); ok {
		return result{ref: w.text, take: []int{w.i}}
	}
	return result{}
}

func parseEnum(ss intent.SlotSpec, pool []word) result {
	for _, w := range pool {
		for _, v := range ss.Values {
			if strings.EqualFold(w.text, v) {
				return result{value: message.TextValue(ss.Type, v), ok: true, take: []int{w.i}}
			}
		}
	}
	if w, ok := findAnaphor(pool); ok {
		return result{ref: w.text, take: []int{w.i}}
	}
	return result{}
}

func parseFreeText(ss intent.SlotSpec, pool []word) result {
	strip := ss.Strip
	if len(strip) == 0 {
		strip = defaultStrip
	}
	rest := pool
	for len(rest) > 0 && slices.Contains(strip, rest[0].text) {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return result{}
	}
	if ref, ok := pronoun(rest); ok {
		return result{ref: ref, take: indices(pool)}
	}
	return result{value: message.TextValue(ss.Type, join(rest)), ok: true, take: indices(pool)}
}

func parseFilename(ss intent.SlotSpec, pool []word) result {
	preps := ss.Prepositions
	if len(preps) == 0 {
		preps = defaultPrepositions
	}
	isPrep := func(w word) bool { return slices.Contains(preps, w.text) }

	var span, take []word
	first := slices.IndexFunc(pool, isPrep)
	switch {
	case ss.Leading || first < 0:
		end := len(pool)
		if first >= 0 {
			end = first
		}
		span = pool[:end]
		take = span
	default:
		end := len(pool)
		if next := slices.IndexFunc(pool[first+1:], isPrep); next >= 0 {
			end = first + 1 + next
		}
		span = pool[first+1 : end]
		take = pool[first:end]
	}

	for len(span) > 0 && slices.Contains(articles, span[0].text) {
		span = span[1:]
	}
	if len(span) == 0 {
		return result{}
	}
	if ref, ok := pronoun(span); ok {
		return result{ref: ref, take: indices(take)}
	}
	return result{value: message.TextValue(ss.Type, join(span)), ok: true, take: indices(take)}
}

// pronoun reports whether words are a pronoun optionally followed by
// placeholder nouns ("it", "that folder").
func pronoun(words []word) (string, bool) {
	if !slices.Contains(Anaphora, words[0].text) {
		return "", false
	}
	for _, w := range words[1:] {
		if !slices.Contains(placeholders, w.text) {
			return "", false
		}
	}
	return words[0].text, true
}

func findAnaphor(pool []word) (word, bool) {
	for _, w := range pool {
		if slices.Contains(Anaphora, w.text) {
			return w, true
		}
	}
	return word{}, false
}

func indices(ws []word) []int {
	out := make([]int, len(ws))
	for k, w := range ws {
		out[k] = w.i
	}
	return out
}

func join(ws []word) string {
	parts := make([]string, len(ws))
	for k, w := range ws {
		parts[k] = w.text
	}
	return strings.Join(parts, " ")
}
