// Package message defines the core data types flowing through the aura
// pipeline: transcripts in, resolved commands and per-segment outcomes out.
package message

import (
	"maps"
	"strconv"
	"time"

	"github.com/nadzzz/aura/internal/intent"
)

// Source records which tier produced a command.
type Source string

const (
	// SourceRule means every slot came from the utterance itself.
	SourceRule Source = "rule"

	// SourceContext means at least one slot was filled from recent history.
	SourceContext Source = "context-default"

	// SourceModel means the fallback classifier produced the command.
	SourceModel Source = "model"
)

// Utterance is one transcribed input, before and after normalization.
type Utterance struct {
	Raw        string    `json:"raw"`
	Normalized string    `json:"normalized"`
	SessionID  string    `json:"session_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Value is a typed slot value. Int is set for integer and ordinal slots, Text
// for the others.
type Value struct {
	Type        intent.SlotType `json:"type"`
	Int         int             `json:"int,omitempty"`
	Text        string          `json:"text,omitempty"`
	FromContext bool            `json:"from_context,omitempty"`
}

// IntValue builds an integer value of type t.
func IntValue(t intent.SlotType, n int) Value { return Value{Type: t, Int: n} }

// TextValue builds a string value of type t.
func TextValue(t intent.SlotType, s string) Value { return Value{Type: t, Text: s} }

// Plain returns the value as an int or a string.
func (v Value) Plain() any {
	if v.Type.Numeric() {
		return v.Int
	}
	return v.Text
}

// String renders the value for feedback and logs.
func (v Value) String() string {
	if v.Type.Numeric() {
		return strconv.Itoa(v.Int)
	}
	return v.Text
}

// Slots maps slot names to their values.
type Slots map[string]Value

// Clone returns a shallow copy of s.
func (s Slots) Clone() Slots {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// Int returns the integer value of the named slot.
func (s Slots) Int(name string) (int, bool) {
	v, ok := s[name]
	if !ok || !v.Type.Numeric() {
		return 0, false
	}
	return v.Int, true
}

// Text returns the string value of the named slot.
func (s Slots) Text(name string) (string, bool) {
	v, ok := s[name]
	if !ok || v.Type.Numeric() {
		return "", false
	}
	return v.Text, true
}

// Plain converts s into a JSON-friendly map of ints and strings.
func (s Slots) Plain() map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v.Plain()
	}
	return out
}

// FromContext reports whether any slot was borrowed from history.
func (s Slots) FromContext() bool {
	for _, v := range s {
		if v.FromContext {
			return true
		}
	}
	return false
}

// ResolvedCommand is the structured result of interpreting one segment. It is
// passed by value and never modified after construction.
type ResolvedCommand struct {
	IntentID   string    `json:"intent"`
	Slots      Slots     `json:"slots,omitempty"`
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source"`
	Utterance  Utterance `json:"utterance"`
}

// Unknown returns the command recorded when nothing could interpret u.
func Unknown(u Utterance, src Source) ResolvedCommand {
	return ResolvedCommand{IntentID: intent.Unknown, Source: src, Utterance: u}
}

// Outcome is what happened when a command was dispatched.
type Outcome struct {
	// Invoked is false when no handler ran (unknown or unresolved commands).
	Invoked  bool   `json:"invoked"`
	Success  bool   `json:"success"`
	Feedback string `json:"feedback,omitempty"`

	// Halt stops the remaining segments of the turn.
	Halt bool `json:"halt,omitempty"`

	Err       error     `json:"-"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// WithErr attaches err and its stable kind to o.
func (o Outcome) WithErr(err error) Outcome {
	if err == nil {
		return o
	}
	o.Err = err
	o.ErrorKind = KindOf(err)
	o.Error = err.Error()
	return o
}

// State is one step of a segment's lifecycle.
type State string

const (
	StateReceived     State = "received"
	StateNormalized   State = "normalized"
	StateRuleMatched  State = "rule_matched"
	StateModelMatched State = "model_matched"
	StateUnresolved   State = "unresolved"
	StateDispatched   State = "dispatched"
	StateRecorded     State = "recorded"
)

// SegmentResult is the finalized outcome of one chained segment.
type SegmentResult struct {
	Index   int             `json:"index"`
	Text    string          `json:"text"`
	Command ResolvedCommand `json:"command"`
	Outcome Outcome         `json:"outcome"`
	Path    []State         `json:"path"`
}

// Feedback returns the user-facing text of the segment.
func (r SegmentResult) Feedback() string { return r.Outcome.Feedback }

// Message represents an incoming transcript from any transport.
type Message struct {
	// ID is a unique identifier for this message (UUID).
	ID string `json:"id"`

	// SessionID scopes conversational context. Messages without one share
	// the "default" session.
	SessionID string `json:"session_id,omitempty"`

	// Source identifies the sender (e.g., "desktop-mic", "phone-alice").
	Source string `json:"source,omitempty"`

	// Text is the transcript to interpret.
	Text string `json:"text"`

	// Timestamp is when the message was received by aura.
	Timestamp time.Time `json:"timestamp"`
}

// DefaultSession is used when a message carries no session id.
const DefaultSession = "default"

// Session returns the effective session id of m.
func (m *Message) Session() string {
	if m.SessionID == "" {
		return DefaultSession
	}
	return m.SessionID
}

// DispatchResult is the outcome of processing a message through the pipeline.
type DispatchResult struct {
	// MessageID is the original message ID.
	MessageID string `json:"message_id"`

	SessionID string `json:"session_id"`

	// Transcript echoes the text that was interpreted.
	Transcript string `json:"transcript"`

	// Segments holds one entry per chained command, in order.
	Segments []SegmentResult `json:"segments"`

	// Halted is true when an exit command stopped the turn early.
	Halted bool `json:"halted,omitempty"`

	// RoutedTo lists the remote targets that received commands.
	RoutedTo []string `json:"routed_to,omitempty"`

	// Error is set if processing failed before any segment ran.
	Error string `json:"error,omitempty"`
}

// Feedback returns the per-segment feedback strings in order.
func (r *DispatchResult) Feedback() []string {
	out := make([]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		if s.Outcome.Feedback != "" {
			out = append(out, s.Outcome.Feedback)
		}
	}
	return out
}

// Target defines a downstream service that receives resolved commands.
type Target struct {
	// ServiceName is a human-readable identifier (e.g., "desktop-agent").
	ServiceName string `json:"service_name"`

	// Endpoint is the address to reach this target (URL, host:port or topic).
	Endpoint string `json:"endpoint"`

	// Protocol is the protocol to use ("http", "grpc", "mqtt").
	Protocol string `json:"protocol"`

	// Token is sent as a bearer credential when set.
	Token string `json:"-"`
}
