// Package interpreter defines the model-backed fallback tier.
//
// A Classifier asks a language model to pick one intent and its slots for
// text the rules could not match. Aura ships with two backends: Local
// (self-hosted via Ollama or any OpenAI-compatible server) and OpenAI
// (cloud). Fallback wraps a Classifier with a deadline, a circuit breaker
// and validation against the intent table, so a slow, broken or
// hallucinating model can only ever degrade a segment to "unknown".
package interpreter

import (
	"context"

	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/message"
)

// Prediction is a model's answer before validation.
type Prediction struct {
	Intent string         `json:"intent"`
	Slots  map[string]any `json:"slots,omitempty"`
}

// Classifier is the interface for model-based intent classification.
type Classifier interface {
	// Name returns the backend identifier (e.g., "openai", "local").
	Name() string

	// Classify picks one of intents for text.
	Classify(ctx context.Context, text string, intents []intent.Spec) (*Prediction, error)

	// Close releases any resources held by the classifier.
	Close() error
}

// None is the classifier used when no model is configured. Every call
// reports the model as unavailable.
type None struct{}

// Name returns the backend identifier.
func (None) Name() string { return "none" }

// Classify always fails with message.ErrModelUnavailable.
func (None) Classify(context.Context, string, []intent.Spec) (*Prediction, error) {
	return nil, message.ErrModelUnavailable
}

// Close is a no-op.
func (None) Close() error { return nil }
