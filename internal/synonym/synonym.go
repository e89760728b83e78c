// Package synonym maps normalized text onto intents by matching it against
// every canonical phrase and synonym of the intent table.
//
// Resolution runs in two passes. The exact pass looks for a phrase whose
// words appear contiguously in the text; {slot} markers in a phrase match one
// or more words and are reported as captures. A phrase whose literal words
// all sit inside another match's capture is payload, not a command, and is
// set aside. Among the rest the phrase with the most literal words wins and
// ties go to the intent declared first. Only when nothing matches exactly
// does the fuzzy pass slide each phrase over the text and score word pairs
// with Jaro-Winkler, Levenshtein and Double Metaphone.
//
// A Resolver is immutable after construction and safe for concurrent use.
package synonym

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/normalize"
)

// DefaultFuzzyFloor is the lowest fuzzy score reported as a match.
const DefaultFuzzyFloor = 0.6

// phoneticSimilarity is the floor applied to a word pair whose primary
// Double Metaphone codes agree.
const phoneticSimilarity = 0.9

// Capture is the half-open token range a {slot} marker matched.
type Capture struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Match describes where and how a phrase matched.
type Match struct {
	IntentID   string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Exact      bool    `json:"exact"`
	Phrase     string  `json:"phrase"`

	// Start and End bound the matched span in token indices.
	Start int `json:"start"`
	End   int `json:"end"`

	// Literal lists the token indices consumed by literal phrase words.
	Literal []int `json:"literal,omitempty"`

	Captures map[string]Capture `json:"captures,omitempty"`
}

// Consumed reports whether token i belongs to a literal phrase word.
func (m Match) Consumed(i int) bool {
	for _, j := range m.Literal {
		if j == i {
			return true
		}
	}
	return false
}

type phrase struct {
	intentID string
	text     string
	words    []string
	literals int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFuzzyFloor overrides DefaultFuzzyFloor.
func WithFuzzyFloor(floor float64) Option {
	return func(r *Resolver) { r.floor = floor }
}

// Resolver matches text against an intent table.
type Resolver struct {
	phrases []phrase
	floor   float64
}

// New compiles the phrases of every intent in t.
func New(t *intent.Table, opts ...Option) *Resolver {
	r := &Resolver{floor: DefaultFuzzyFloor}
	for _, o := range opts {
		o(r)
	}
	for _, spec := range t.Specs() {
		for _, text := range spec.Phrases() {
			p := compile(spec.ID, text)
			if len(p.words) == 0 {
				continue
			}
			r.phrases = append(r.phrases, p)
		}
	}
	return r
}

func compile(id, text string) phrase {
	p := phrase{intentID: id, text: text}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if _, ok := intent.IsWildcard(w); ok {
			p.words = append(p.words, w)
			continue
		}
		for _, lit := range strings.Fields(normalize.Clean(w)) {
			p.words = append(p.words, lit)
			p.literals++
		}
	}
	return p
}

// Resolve returns the best exact match of tokens, falling back to the best
// fuzzy match. ok is false when neither pass finds anything.
func (r *Resolver) Resolve(tokens []string) (Match, bool) {
	if m, ok := r.Exact(tokens); ok {
		return m, true
	}
	return r.Fuzzy(tokens)
}

// Exact returns the best exact containment match of tokens.
func (r *Resolver) Exact(tokens []string) (Match, bool) {
	return r.exact(tokens, false)
}

// Anchored is Exact restricted to matches starting at the first token.
func (r *Resolver) Anchored(tokens []string) (Match, bool) {
	return r.exact(tokens, true)
}

func (r *Resolver) exact(tokens []string, anchored bool) (Match, bool) {
	last := len(tokens) - 1
	if anchored {
		last = 0
	}
	var cands []candidate
	for _, p := range r.phrases {
		for s := 0; s <= last; s++ {
			if m, ok := matchAt(p, tokens, s); ok {
				cands = append(cands, candidate{m: m, literals: p.literals})
				break
			}
		}
	}

	var (
		best  Match
		bestN = -1
	)
	// A second, lenient pass keeps shadowed phrases when nothing else is left.
	for _, lenient := range []bool{false, true} {
		for i, c := range cands {
			if c.literals <= bestN || (!lenient && shadowed(cands, i)) {
				continue
			}
			best, bestN = c.m, c.literals
		}
		if bestN >= 0 {
			return best, true
		}
	}
	return Match{}, false
}

type candidate struct {
	m        Match
	literals int
}

// shadowed reports whether every literal word of cands[i] falls inside a
// single capture of another candidate, as "mute" does in "search mute
// button design".
func shadowed(cands []candidate, i int) bool {
	for j, o := range cands {
		if j == i {
			continue
		}
		for _, c := range o.m.Captures {
			if covers(c, cands[i].m.Literal) {
				return true
			}
		}
	}
	return false
}

func covers(c Capture, idx []int) bool {
	if len(idx) == 0 {
		return false
	}
	for _, i := range idx {
		if i < c.Start || i >= c.End {
			return false
		}
	}
	return true
}

// matchAt matches p against tokens starting at index start.
func matchAt(p phrase, tokens []string, start int) (Match, bool) {
	m := Match{
		IntentID:   p.intentID,
		Confidence: 1,
		Exact:      true,
		Phrase:     p.text,
		Start:      start,
	}
	end, ok := match(p.words, 0, tokens, start, &m)
	if !ok {
		return Match{}, false
	}
	m.End = end
	return m, true
}

// match is a backtracking matcher over phrase words. A trailing wildcard
// takes every remaining token; any other wildcard takes as few as possible.
func match(words []string, wi int, tokens []string, ti int, m *Match) (int, bool) {
	if wi == len(words) {
		return ti, true
	}
	name, wild := intent.IsWildcard(words[wi])
	if !wild {
		if ti >= len(tokens) || tokens[ti] != words[wi] {
			return 0, false
		}
		n := len(m.Literal)
		m.Literal = append(m.Literal, ti)
		end, ok := match(words, wi+1, tokens, ti+1, m)
		if !ok {
			m.Literal = m.Literal[:n]
		}
		return end, ok
	}
	if ti >= len(tokens) {
		return 0, false
	}
	if wi == len(words)-1 {
		setCapture(m, name, ti, len(tokens))
		return len(tokens), true
	}
	for k := ti + 1; k < len(tokens); k++ {
		n := len(m.Literal)
		if end, ok := match(words, wi+1, tokens, k, m); ok {
			setCapture(m, name, ti, k)
			return end, true
		}
		m.Literal = m.Literal[:n]
	}
	return 0, false
}

func setCapture(m *Match, name string, start, end int) {
	if m.Captures == nil {
		m.Captures = make(map[string]Capture, 1)
	}
	m.Captures[name] = Capture{Start: start, End: end}
}

// Fuzzy returns the best approximate match of tokens scoring at least the
// fuzzy floor. Only the literal words before a phrase's first {slot} marker
// are scored; a marker that ends the phrase captures the rest of the text.
// Phrases with literal words after a marker take no part.
func (r *Resolver) Fuzzy(tokens []string) (Match, bool) {
	var (
		best  Match
		found bool
	)
	for _, p := range r.phrases {
		head, tail, ok := fuzzyShape(p)
		if !ok || len(head) > len(tokens) {
			continue
		}
		for s := 0; s+len(head) <= len(tokens); s++ {
			var sum float64
			for i, w := range head {
				sum += Similarity(w, tokens[s+i])
			}
			score := sum / float64(len(head))
			if score < r.floor || (found && score <= best.Confidence) {
				continue
			}
			m := Match{
				IntentID:   p.intentID,
				Confidence: score,
				Phrase:     p.text,
				Start:      s,
				End:        s + len(head),
			}
			for i := range head {
				m.Literal = append(m.Literal, s+i)
			}
			if tail != "" {
				if m.End >= len(tokens) {
					continue
				}
				setCapture(&m, tail, m.End, len(tokens))
				m.End = len(tokens)
			}
			best, found = m, true
		}
	}
	return best, found
}

// fuzzyShape splits p into its literal head and optional trailing wildcard.
func fuzzyShape(p phrase) (head []string, tail string, ok bool) {
	for i, w := range p.words {
		name, wild := intent.IsWildcard(w)
		if !wild {
			head = append(head, w)
			continue
		}
		if i != len(p.words)-1 {
			return nil, "", false
		}
		tail = name
	}
	return head, tail, len(head) > 0
}

// Similarity scores two words in [0, 1] as the mean of Jaro-Winkler and
// normalized Levenshtein similarity, raised to 0.9 when the words sound
// alike.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	jw := matchr.JaroWinkler(a, b, false)
	longest := max(len([]rune(a)), len([]rune(b)))
	lev := 1 - float64(matchr.Levenshtein(a, b))/float64(longest)
	if lev < 0 {
		lev = 0
	}
	sim := (jw + lev) / 2
	pa, _ := matchr.DoubleMetaphone(a)
	pb, _ := matchr.DoubleMetaphone(b)
	if pa != "" && pa == pb && sim < phoneticSimilarity {
		sim = phoneticSimilarity
	}
	return sim
}
