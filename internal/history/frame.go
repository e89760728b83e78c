// Package history keeps the short per-session record of recent commands that
// lets later utterances say "it" or omit a slot.
//
// A Frame is a plain value: recording returns a new Frame and never mutates
// the old one. The Manager owns the frames of every session, serializes
// access to them and persists them through a Store.
package history

import (
	"iter"
	"maps"
	"slices"
	"time"

	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/message"
)

// DefaultCapacity is the number of entries a frame keeps.
const DefaultCapacity = 5

// Entry is one recorded command and what happened to it.
type Entry struct {
	Seq     uint64                  `json:"seq"`
	At      time.Time               `json:"at"`
	Command message.ResolvedCommand `json:"command"`
	Outcome message.Outcome         `json:"outcome"`

	// Order is the schema order of the command's slots; lookups walk it to
	// pick the first compatible value.
	Order []string `json:"order,omitempty"`
}

// Frame is the bounded, ordered history of one session, oldest first.
type Frame struct {
	Entries []Entry `json:"entries"`
	Next    uint64  `json:"next"`
}

// Record returns a copy of f with a new entry appended and the oldest
// entries evicted beyond capacity. Sequence numbers increase monotonically
// and survive eviction.
func (f Frame) Record(cmd message.ResolvedCommand, out message.Outcome, order []string, at time.Time, capacity int) (Frame, Entry) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	e := Entry{
		Seq:     f.Next,
		At:      at,
		Command: cmd,
		Outcome: out,
		Order:   slices.Clone(order),
	}
	e.Command.Slots = cmd.Slots.Clone()

	entries := append(slices.Clone(f.Entries), e)
	if over := len(entries) - capacity; over > 0 {
		entries = entries[over:]
	}
	return Frame{Entries: entries, Next: f.Next + 1}, e
}

// Latest returns the most recent entry.
func (f Frame) Latest() (Entry, bool) {
	if len(f.Entries) == 0 {
		return Entry{}, false
	}
	return f.Entries[len(f.Entries)-1], true
}

// View is a frame as seen at a given moment. Entries older than TTL are
// invisible to lookups; a zero TTL never expires anything.
type View struct {
	Frame Frame
	Now   time.Time
	TTL   time.Duration
}

func (v View) eligible(e Entry) bool {
	if e.Command.IntentID == intent.Unknown {
		return false
	}
	return v.TTL <= 0 || v.Now.Sub(e.At) <= v.TTL
}

// Reference resolves a pronoun for a slot of type t: the first compatible
// slot, in schema order, of the most recent eligible entry that has one.
func (v View) Reference(t intent.SlotType) (message.Value, bool) {
	for e := range v.recent() {
		if val, ok := firstCompatible(e, t); ok {
			return val, true
		}
	}
	return message.Value{}, false
}

// Default fills an omitted slot: the most recent eligible entry with a
// compatible value wins, preferring a slot of the same name within it.
func (v View) Default(name string, t intent.SlotType) (message.Value, bool) {
	for e := range v.recent() {
		if val, ok := e.Command.Slots[name]; ok && intent.Compatible(val.Type, t) {
			return borrowed(val, t), true
		}
		if val, ok := firstCompatible(e, t); ok {
			return val, true
		}
	}
	return message.Value{}, false
}

// recent yields eligible entries newest first.
func (v View) recent() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for i := len(v.Frame.Entries) - 1; i >= 0; i-- {
			e := v.Frame.Entries[i]
			if !v.eligible(e) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

func firstCompatible(e Entry, t intent.SlotType) (message.Value, bool) {
	order := e.Order
	if len(order) == 0 {
		order = slices.Sorted(maps.Keys(e.Command.Slots))
	}
	for _, name := range order {
		val, ok := e.Command.Slots[name]
		if ok && intent.Compatible(val.Type, t) {
			return borrowed(val, t), true
		}
	}
	return message.Value{}, false
}

// borrowed retypes val for the slot it fills and marks it as coming from
// context.
func borrowed(val message.Value, t intent.SlotType) message.Value {
	val.Type = t
	val.FromContext = true
	return val
}
