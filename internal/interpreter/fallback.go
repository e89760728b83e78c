package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/message"
	"github.com/nadzzz/aura/internal/slot"
)

const (
	// DefaultTimeout bounds a single model call.
	DefaultTimeout = 3 * time.Second

	// DefaultConfidence is assigned to every validated model prediction.
	DefaultConfidence = 0.5
)

// BreakerSettings tunes the circuit breaker around the model.
type BreakerSettings struct {
	// Failures is the number of consecutive failures that opens the breaker.
	Failures uint32

	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration
}

// FallbackOption configures a Fallback.
type FallbackOption func(*Fallback)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) FallbackOption {
	return func(f *Fallback) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithConfidence overrides DefaultConfidence.
func WithConfidence(c float64) FallbackOption {
	return func(f *Fallback) { f.confidence = c }
}

// WithAcceptThreshold tells the fallback the rule tier's threshold; model
// confidence is kept strictly below it.
func WithAcceptThreshold(v float64) FallbackOption {
	return func(f *Fallback) { f.threshold = v }
}

// WithBreaker overrides the default breaker settings.
func WithBreaker(s BreakerSettings) FallbackOption {
	return func(f *Fallback) { f.breakerSettings = s }
}

// Fallback runs a Classifier under a deadline and a circuit breaker and
// validates what it returns.
type Fallback struct {
	classifier      Classifier
	table           *intent.Table
	timeout         time.Duration
	confidence      float64
	threshold       float64
	breakerSettings BreakerSettings
	breaker         *gobreaker.CircuitBreaker
}

// NewFallback wraps c. A nil c behaves like None.
func NewFallback(c Classifier, table *intent.Table, opts ...FallbackOption) *Fallback {
	if c == nil {
		c = None{}
	}
	f := &Fallback{
		classifier: c,
		table:      table,
		timeout:    DefaultTimeout,
		confidence: DefaultConfidence,
		threshold:  1,
		breakerSettings: BreakerSettings{
			Failures: 5,
			Cooldown: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(f)
	}
	if f.confidence >= f.threshold {
		f.confidence = math.Nextafter(f.threshold, 0)
	}
	failures := f.breakerSettings.Failures
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "fallback-" + c.Name(),
		MaxRequests: 1,
		Timeout:     f.breakerSettings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("fallback circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return f
}

// Name returns the wrapped backend's name.
func (f *Fallback) Name() string { return f.classifier.Name() }

// Close closes the wrapped classifier.
func (f *Fallback) Close() error { return f.classifier.Close() }

// Classify interprets u with the model. On any failure it returns the
// unknown command (source model, confidence 0) together with the reason:
// message.ErrModelTimeout, message.ErrModelUnavailable, message.ErrNoMatch
// or a *message.ModelValidationError.
func (f *Fallback) Classify(ctx context.Context, u message.Utterance) (message.ResolvedCommand, error) {
	unknown := message.Unknown(u, message.SourceModel)
	if strings.TrimSpace(u.Normalized) == "" {
		return unknown, message.ErrNoMatch
	}

	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	res, err := f.breaker.Execute(func() (interface{}, error) {
		p, err := f.classifier.Classify(cctx, u.Normalized, f.table.Specs())
		if err == nil && p == nil {
			err = errors.New("empty prediction")
		}
		return p, err
	})
	if err != nil {
		return unknown, f.classifyErr(cctx, err)
	}

	p := res.(*Prediction)
	if p.Intent == intent.Unknown {
		return unknown, fmt.Errorf("%w: model found no intent", message.ErrNoMatch)
	}
	spec, slots, err := Validate(f.table, p)
	if err != nil {
		return unknown, err
	}
	return message.ResolvedCommand{
		IntentID:   spec.ID,
		Slots:      slots,
		Confidence: f.confidence,
		Source:     message.SourceModel,
		Utterance:  u,
	}, nil
}

func (f *Fallback) classifyErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", message.ErrModelTimeout, f.timeout)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %v", message.ErrModelUnavailable, err)
	case errors.Is(err, message.ErrModelUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", message.ErrModelUnavailable, err)
	}
}

// Validate checks p against the table and converts its slots into typed
// values.
func Validate(table *intent.Table, p *Prediction) (intent.Spec, message.Slots, error) {
	spec, ok := table.Lookup(p.Intent)
	if !ok {
		return intent.Spec{}, nil, &message.ModelValidationError{Reason: fmt.Sprintf("unknown intent %q", p.Intent)}
	}
	slots := message.Slots{}
	for name, raw := range p.Slots {
		if raw == nil {
			continue
		}
		ss, ok := spec.Slot(name)
		if !ok {
			return spec, nil, &message.ModelValidationError{Reason: fmt.Sprintf("intent %s has no slot %q", spec.ID, name)}
		}
		v, ok := convert(ss, raw)
		if !ok {
			return spec, nil, &message.ModelValidationError{Reason: fmt.Sprintf("slot %s: %v is not a valid %s", name, raw, ss.Type)}
		}
		slots[name] = v
	}
	for _, ss := range spec.Slots {
		if _, ok := slots[ss.Name]; ss.Required && !ok {
			return spec, nil, &message.ModelValidationError{Reason: fmt.Sprintf("intent %s: missing required slot %s", spec.ID, ss.Name)}
		}
	}
	return spec, slots, nil
}

func convert(ss intent.SlotSpec, raw any) (message.Value, bool) {
	switch ss.Type {
	case intent.Integer, intent.Ordinal:
		switch v := raw.(type) {
		case float64:
			if v != math.Trunc(v) {
				return message.Value{}, false
			}
			return message.IntValue(ss.Type, int(v)), true
		case int:
			return message.IntValue(ss.Type, v), true
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return message.IntValue(ss.Type, n), true
			}
			words := strings.Fields(strings.ToLower(v))
			if n, used, ok := slot.ParseNumber(words); ok && used == len(words) {
				return message.IntValue(ss.Type, n), true
			}
		}
	case intent.Enum:
		if s, ok := raw.(string); ok {
			for _, allowed := range ss.Values {
				if strings.EqualFold(strings.TrimSpace(s), allowed) {
					return message.TextValue(ss.Type, allowed), true
				}
			}
		}
	case intent.FreeText, intent.Filename:
		if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
			return message.TextValue(ss.Type, strings.TrimSpace(s)), true
		}
	}
	return message.Value{}, false
}
