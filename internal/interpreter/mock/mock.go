// Package mock provides a scripted Classifier for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/interpreter"
)

// Classifier returns a fixed prediction or error, optionally after a delay.
// It records every text it is asked to classify.
type Classifier struct {
	Prediction *interpreter.Prediction
	Err        error
	Delay      time.Duration

	mu    sync.Mutex
	texts []string
}

// Name returns "mock".
func (c *Classifier) Name() string { return "mock" }

// Classify implements interpreter.Classifier.
func (c *Classifier) Classify(ctx context.Context, text string, _ []intent.Spec) (*interpreter.Prediction, error) {
	c.mu.Lock()
	c.texts = append(c.texts, text)
	c.mu.Unlock()

	if c.Delay > 0 {
		t := time.NewTimer(c.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Prediction, nil
}

// Close is a no-op.
func (c *Classifier) Close() error { return nil }

// Calls returns the texts classified so far.
func (c *Classifier) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}
