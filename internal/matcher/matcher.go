// Package matcher is the deterministic first tier of interpretation: it
// resolves an intent from synonyms, extracts slots and fills pronouns and
// omitted slots from session history.
package matcher

import (
	"fmt"
	"strings"

	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/message"
	"github.com/nadzzz/aura/internal/slot"
	"github.com/nadzzz/aura/internal/synonym"
)

const (
	// DefaultAcceptThreshold is the lowest confidence a rule match needs.
	DefaultAcceptThreshold = 0.75

	// DefaultContextPenalty is subtracted for every slot taken from history.
	DefaultContextPenalty = 0.1
)

// Context supplies values from recent history. history.View implements it.
type Context interface {
	// Reference resolves a pronoun standing for a slot of type t.
	Reference(t intent.SlotType) (message.Value, bool)

	// Default fills the omitted slot name of type t.
	Default(name string, t intent.SlotType) (message.Value, bool)
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithAcceptThreshold overrides DefaultAcceptThreshold.
func WithAcceptThreshold(v float64) Option {
	return func(m *Matcher) { m.threshold = v }
}

// WithContextPenalty overrides DefaultContextPenalty.
func WithContextPenalty(v float64) Option {
	return func(m *Matcher) { m.penalty = v }
}

// Matcher combines the synonym resolver and slot extractor.
type Matcher struct {
	table     *intent.Table
	resolver  *synonym.Resolver
	extractor slot.Extractor
	threshold float64
	penalty   float64
}

// New creates a Matcher over table.
func New(table *intent.Table, resolver *synonym.Resolver, opts ...Option) *Matcher {
	m := &Matcher{
		table:     table,
		resolver:  resolver,
		threshold: DefaultAcceptThreshold,
		penalty:   DefaultContextPenalty,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Threshold returns the accept threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Match interprets u. It returns message.ErrNoMatch when nothing reaches the
// accept threshold. When the intent is clear but a slot cannot be filled it
// returns the partial command together with a *message.MissingSlotError or
// *message.UnresolvedReferenceError. hist may be nil.
func (m *Matcher) Match(hist Context, u message.Utterance) (message.ResolvedCommand, error) {
	tokens := strings.Fields(u.Normalized)
	if len(tokens) == 0 {
		return message.ResolvedCommand{}, message.ErrNoMatch
	}
	sm, ok := m.resolver.Resolve(tokens)
	if !ok {
		return message.ResolvedCommand{}, message.ErrNoMatch
	}
	spec, ok := m.table.Lookup(sm.IntentID)
	if !ok {
		return message.ResolvedCommand{}, fmt.Errorf("resolver returned undeclared intent %q", sm.IntentID)
	}

	cand := m.extractor.Extract(tokens, sm, spec)
	slots := cand.Slots
	filled := 0

	var unresolved *slot.Reference
	for _, ref := range cand.References {
		if hist != nil {
			if v, ok := hist.Reference(ref.Type); ok {
				slots[ref.Slot] = v
				filled++
				continue
			}
		}
		if unresolved == nil {
			unresolved = &ref
		}
	}

	var missing []string
	for _, name := range cand.Missing {
		ss, _ := spec.Slot(name)
		if ss.Default == intent.DefaultContext && hist != nil {
			if v, ok := hist.Default(name, ss.Type); ok {
				slots[name] = v
				filled++
				continue
			}
		}
		missing = append(missing, name)
	}

	conf := max(sm.Confidence-m.penalty*float64(filled), 0)
	if conf < m.threshold {
		return message.ResolvedCommand{}, fmt.Errorf("%w: best %s scored %.2f", message.ErrNoMatch, sm.IntentID, conf)
	}

	src := message.SourceRule
	if filled > 0 {
		src = message.SourceContext
	}
	cmd := message.ResolvedCommand{
		IntentID:   spec.ID,
		Slots:      slots,
		Confidence: conf,
		Source:     src,
		Utterance:  u,
	}

	if unresolved != nil {
		return cmd, &message.UnresolvedReferenceError{Command: cmd, Slot: unresolved.Slot, Word: unresolved.Word}
	}
	if len(missing) > 0 {
		return cmd, &message.MissingSlotError{Command: cmd, Slots: missing}
	}
	return cmd, nil
}
