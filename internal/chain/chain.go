// Package chain splits one utterance into the ordered commands it contains.
//
// The connectives "and then", "and" and "then" only separate commands when
// the text on both sides is independently recognizable: each side must
// start with an exact phrase of the intent table. Otherwise the connective
// stays inside the segment, so "search salt and pepper recipe" is a single
// search.
package chain

import (
	"iter"
	"strings"

	"github.com/nadzzz/aura/internal/normalize"
	"github.com/nadzzz/aura/internal/synonym"
)

// Segment is one command of a chained utterance.
type Segment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Recognizer reports whether normalized tokens begin with a known phrase.
type Recognizer interface {
	Anchored(tokens []string) (synonym.Match, bool)
}

// Splitter segments utterances.
type Splitter struct {
	rec Recognizer
}

// New creates a Splitter that validates halves with rec.
func New(rec Recognizer) *Splitter {
	return &Splitter{rec: rec}
}

// piece is the text between two connectives and the connective before it.
type piece struct {
	conn  []string
	words []string
}

// Split yields the segments of raw left to right. Segments are produced on
// demand and never split again. An utterance without a valid boundary is
// returned whole; an empty one yields nothing.
func (s *Splitter) Split(raw string) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		pieces := cut(strings.Fields(normalize.Clean(raw)))
		if len(pieces) == 0 {
			return
		}
		idx := 0
		current := pieces[0].words
		for i := 1; i < len(pieces); i++ {
			if s.valid(current) && s.validAhead(pieces[i:]) {
				if !yield(Segment{Index: idx, Text: strings.Join(current, " ")}) {
					return
				}
				idx++
				current = pieces[i].words
				continue
			}
			current = join(current, pieces[i].conn, pieces[i].words)
		}
		if len(current) > 0 {
			yield(Segment{Index: idx, Text: strings.Join(current, " ")})
		}
	}
}

// Segments collects Split into a slice.
func (s *Splitter) Segments(raw string) []Segment {
	var out []Segment
	for seg := range s.Split(raw) {
		out = append(out, seg)
	}
	return out
}

// validAhead reports whether some prefix of the following pieces, joined
// back with their connectives, is a valid segment.
func (s *Splitter) validAhead(rest []piece) bool {
	words := rest[0].words
	for j := 0; ; j++ {
		if s.valid(words) {
			return true
		}
		if j+1 >= len(rest) {
			return false
		}
		words = join(words, rest[j+1].conn, rest[j+1].words)
	}
}

func (s *Splitter) valid(words []string) bool {
	if len(words) == 0 {
		return false
	}
	tokens := normalize.Tokens(strings.Join(words, " "))
	if len(tokens) == 0 {
		return false
	}
	_, ok := s.rec.Anchored(tokens)
	return ok
}

// cut splits words at every connective, longest connective first.
func cut(words []string) []piece {
	var (
		out []piece
		cur piece
	)
	for i := 0; i < len(words); i++ {
		var conn []string
		switch {
		case words[i] == "and" && i+1 < len(words) && words[i+1] == "then":
			conn = words[i : i+2]
		case words[i] == "and" || words[i] == "then":
			conn = words[i : i+1]
		default:
			cur.words = append(cur.words, words[i])
			continue
		}
		out = append(out, cur)
		cur = piece{conn: conn}
		i += len(conn) - 1
	}
	return append(out, cur)
}

func join(left, conn, right []string) []string {
	out := make([]string, 0, len(left)+len(conn)+len(right))
	out = append(out, left...)
	out = append(out, conn...)
	return append(out, right...)
}
