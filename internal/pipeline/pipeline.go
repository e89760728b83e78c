// Package pipeline runs one transcript through the full interpretation
// sequence: chain splitting, normalization, rule matching with history,
// model fallback, dispatch and history recording.
//
// Turns for the same session are serialized; different sessions proceed in
// parallel. A transcript that is nothing but a cancel command skips the
// session's queue so it can stop a handler the current turn is blocked on.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nadzzz/aura/internal/chain"
	"github.com/nadzzz/aura/internal/dispatch"
	"github.com/nadzzz/aura/internal/history"
	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/matcher"
	"github.com/nadzzz/aura/internal/message"
	"github.com/nadzzz/aura/internal/normalize"
	"github.com/nadzzz/aura/internal/observe"
	"github.com/nadzzz/aura/internal/synonym"
)

// Fallback classifies utterances the rule tier could not match.
type Fallback interface {
	Name() string
	Classify(ctx context.Context, u message.Utterance) (message.ResolvedCommand, error)
}

// Components are the stages a Pipeline drives.
type Components struct {
	Resolver   *synonym.Resolver
	Splitter   *chain.Splitter
	Matcher    *matcher.Matcher
	Fallback   Fallback
	Dispatcher *dispatch.Dispatcher
	History    *history.Manager
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records segment and turn metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the time source used for utterance timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRoutes maps intent ids to the remote service that handles them, so
// results can report where commands were routed.
func WithRoutes(routes map[string]string) Option {
	return func(p *Pipeline) { p.routes = routes }
}

// Pipeline orchestrates turns.
type Pipeline struct {
	Components
	metrics *observe.Metrics
	now     func() time.Time
	routes  map[string]string

	mu    sync.Mutex
	turns map[string]*turnLock
}

type turnLock struct {
	ch   chan struct{}
	refs int
}

// New assembles a Pipeline. A nil Fallback degrades every unmatched
// segment to unknown.
func New(c Components, opts ...Option) *Pipeline {
	p := &Pipeline{
		Components: c,
		now:        time.Now,
		turns:      make(map[string]*turnLock),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Handle processes msg and returns one finalized result per segment. It only
// returns an error when ctx ends before the turn could start.
func (p *Pipeline) Handle(ctx context.Context, msg *message.Message) (*message.DispatchResult, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = p.now()
	}
	session := msg.Session()

	ctx, span := observe.StartSpan(ctx, "pipeline.turn", trace.WithAttributes(
		attribute.String("aura.session_id", session),
		attribute.String("aura.message_id", msg.ID),
	))
	defer span.End()
	defer p.metrics.TurnStarted()()

	logger := observe.Logger(ctx).With("session_id", session, "message_id", msg.ID, "source", msg.Source)
	result := &message.DispatchResult{
		MessageID:  msg.ID,
		SessionID:  session,
		Transcript: msg.Text,
	}

	if p.IsCancel(msg) {
		logger.Info("cancel received out of band")
		p.appendSegment(result, p.process(ctx, session, 0, msg.Text, msg.Timestamp))
		return result, nil
	}

	unlock, err := p.lock(ctx, session)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("waiting for turn of session %s: %w", session, err)
	}
	defer unlock()

	start := time.Now()
	n := 0
	for seg := range p.Splitter.Split(msg.Text) {
		if err := ctx.Err(); err != nil {
			result.Error = fmt.Sprintf("turn aborted: %v", err)
			logger.Warn("turn aborted", "error", err, "segments_done", n)
			break
		}
		r := p.process(ctx, session, seg.Index, seg.Text, msg.Timestamp)
		p.appendSegment(result, r)
		n++
		if r.Outcome.Halt {
			result.Halted = true
			logger.Info("turn halted", "intent", r.Command.IntentID, "segment", seg.Index)
			break
		}
	}
	if n == 0 && result.Error == "" {
		// Nothing recognizable as text still yields one finalized segment.
		p.appendSegment(result, p.process(ctx, session, 0, "", msg.Timestamp))
	}

	span.SetAttributes(attribute.Int("aura.segments", len(result.Segments)))
	logger.Info("turn complete", "segments", len(result.Segments), "halted", result.Halted, "duration", time.Since(start))
	return result, nil
}

func (p *Pipeline) appendSegment(result *message.DispatchResult, r message.SegmentResult) {
	result.Segments = append(result.Segments, r)
	if svc, ok := p.routes[r.Command.IntentID]; ok && r.Outcome.Invoked {
		result.RoutedTo = append(result.RoutedTo, svc)
	}
}

// process takes one segment from received to recorded.
func (p *Pipeline) process(ctx context.Context, session string, index int, text string, at time.Time) message.SegmentResult {
	ctx, span := observe.StartSpan(ctx, "pipeline.segment", trace.WithAttributes(
		attribute.Int("aura.segment", index),
	))
	defer span.End()
	logger := observe.Logger(ctx).With("session_id", session, "segment", index)

	r := message.SegmentResult{Index: index, Text: text, Path: []message.State{message.StateReceived}}

	u := message.Utterance{
		Raw:        text,
		Normalized: normalize.Normalize(text),
		SessionID:  session,
		Timestamp:  at,
	}
	r.Path = append(r.Path, message.StateNormalized)

	var hist matcher.Context
	if view, err := p.History.Snapshot(ctx, session); err != nil {
		logger.Warn("history unavailable, matching without context", "error", err)
	} else {
		hist = view
	}

	cmd, err := p.Matcher.Match(hist, u)
	switch {
	case err == nil:
		r.Path = append(r.Path, message.StateRuleMatched)
	case errors.Is(err, message.ErrNoMatch):
		cmd, err = p.classify(ctx, u)
		if err == nil {
			r.Path = append(r.Path, message.StateModelMatched)
		}
	}

	var out message.Outcome
	if err != nil {
		r.Path = append(r.Path, message.StateUnresolved)
		if cmd.IntentID == "" {
			cmd = message.Unknown(u, message.SourceRule)
		}
		out = p.Dispatcher.Reject(cmd, err)
		logger.Info("segment unresolved", "normalized", u.Normalized, "error_kind", out.ErrorKind, "error", err)
	} else {
		out = p.Dispatcher.Dispatch(ctx, session, cmd)
		r.Path = append(r.Path, message.StateDispatched)
		logger.Info("segment dispatched",
			"intent", cmd.IntentID,
			"source", cmd.Source,
			"confidence", cmd.Confidence,
			"success", out.Success,
		)
	}
	r.Command = cmd
	r.Outcome = out

	if _, err := p.History.Record(ctx, session, cmd, out); err != nil {
		logger.Error("recording history failed", "error", err)
	} else {
		r.Path = append(r.Path, message.StateRecorded)
	}

	span.SetAttributes(
		attribute.String("aura.intent", cmd.IntentID),
		attribute.String("aura.source", string(cmd.Source)),
	)
	if out.Err != nil {
		span.SetStatus(codes.Error, out.Error)
	}
	p.metrics.ObserveSegment(r)
	return r
}

func (p *Pipeline) classify(ctx context.Context, u message.Utterance) (message.ResolvedCommand, error) {
	if p.Fallback == nil {
		return message.Unknown(u, message.SourceModel), message.ErrModelUnavailable
	}
	ctx, span := observe.StartSpan(ctx, "pipeline.fallback", trace.WithAttributes(
		attribute.String("aura.backend", p.Fallback.Name()),
	))
	defer span.End()

	start := time.Now()
	cmd, err := p.Fallback.Classify(ctx, u)
	p.metrics.ObserveFallback(p.Fallback.Name(), time.Since(start))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return cmd, err
}

// IsCancel reports whether the whole of msg is a cancel command. Such
// messages skip the session's turn queue; transports use it to let them
// overtake queued messages too.
func (p *Pipeline) IsCancel(msg *message.Message) bool {
	tokens := normalize.Tokens(msg.Text)
	if len(tokens) == 0 || p.Resolver == nil {
		return false
	}
	m, ok := p.Resolver.Anchored(tokens)
	return ok && m.IntentID == intent.Cancel && m.End == len(tokens)
}

// lock waits for session's turn. The returned func releases it.
func (p *Pipeline) lock(ctx context.Context, session string) (func(), error) {
	p.mu.Lock()
	tl := p.turns[session]
	if tl == nil {
		tl = &turnLock{ch: make(chan struct{}, 1)}
		p.turns[session] = tl
	}
	tl.refs++
	p.mu.Unlock()

	release := func() {
		p.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(p.turns, session)
		}
		p.mu.Unlock()
	}

	select {
	case tl.ch <- struct{}{}:
		return func() {
			<-tl.ch
			release()
		}, nil
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
}

// Describe renders a result as plain feedback lines, one per segment.
func Describe(r *message.DispatchResult) string {
	var b strings.Builder
	for _, s := range r.Segments {
		fmt.Fprintf(&b, "[%d] %s", s.Index, s.Command.IntentID)
		if s.Outcome.Feedback != "" {
			fmt.Fprintf(&b, ": %s", s.Outcome.Feedback)
		}
		b.WriteByte('\n')
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", r.Error)
	}
	return b.String()
}
