// Package dispatch invokes the handler bound to a resolved command and turns
// whatever happens into a finalized message.Outcome.
//
// Handlers run under a per-session cancellable context so that a "cancel"
// utterance can stop a long-running handler from outside the session's turn.
// A handler failure never propagates as an error: the outcome carries it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nadzzz/aura/internal/handler"
	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/message"
)

// Feedback for commands that never reach a handler.
const (
	FeedbackNotUnderstood = "Sorry, I didn't understand that."
	FeedbackUnavailable   = "Sorry, I can't understand complex requests right now."
)

// Dispatcher routes resolved commands to handlers.
type Dispatcher struct {
	registry *handler.Registry

	mu     sync.Mutex
	nextID uint64
	active map[string]map[uint64]context.CancelFunc
}

// New creates a Dispatcher over registry.
func New(registry *handler.Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		active:   make(map[string]map[uint64]context.CancelFunc),
	}
}

// Dispatch executes cmd for session. Unknown commands produce feedback only.
// A cancel command first cancels every handler still running for the
// session. An exit command halts the rest of the turn.
func (d *Dispatcher) Dispatch(ctx context.Context, session string, cmd message.ResolvedCommand) message.Outcome {
	logger := slog.With("session_id", session, "intent", cmd.IntentID, "source", cmd.Source)

	if cmd.IntentID == intent.Unknown {
		return message.Outcome{Feedback: FeedbackNotUnderstood}
	}
	if cmd.IntentID == intent.Cancel {
		if n := d.Cancel(session); n > 0 {
			logger.Info("cancelled running handlers", "count", n)
		}
	}

	h, ok := d.registry.Lookup(cmd.IntentID)
	if !ok {
		logger.Warn("no handler registered")
		out := message.Outcome{
			Feedback: fmt.Sprintf("I understood %s, but nothing can carry it out.", cmd.IntentID),
			Halt:     cmd.IntentID == intent.Exit,
		}
		return out.WithErr(&message.HandlerExecutionError{IntentID: cmd.IntentID, Reason: "no handler registered"})
	}

	hctx, done := d.track(ctx, session)
	defer done()

	start := time.Now()
	success, feedback, err := invoke(hctx, h, cmd)
	out := message.Outcome{
		Invoked:  true,
		Success:  success && err == nil,
		Feedback: feedback,
		Halt:     cmd.IntentID == intent.Exit,
	}
	switch {
	case err != nil:
		logger.Error("handler panicked", "error", err)
		out = out.WithErr(&message.HandlerExecutionError{IntentID: cmd.IntentID, Reason: err.Error()})
		if out.Feedback == "" {
			out.Feedback = "Something went wrong."
		}
	case !success:
		reason := feedback
		if errors.Is(hctx.Err(), context.Canceled) {
			reason = "cancelled"
		}
		if reason == "" {
			reason = "handler reported failure"
		}
		out = out.WithErr(&message.HandlerExecutionError{IntentID: cmd.IntentID, Reason: reason})
	}
	logger.Info("handler finished", "success", out.Success, "duration", time.Since(start))
	return out
}

// Reject finalizes a command that could not be resolved well enough to
// dispatch. No handler runs.
func (d *Dispatcher) Reject(cmd message.ResolvedCommand, err error) message.Outcome {
	var (
		missing    *message.MissingSlotError
		unresolved *message.UnresolvedReferenceError
		feedback   string
	)
	switch {
	case errors.As(err, &missing):
		feedback = fmt.Sprintf("I need the %s to %s.", joinAnd(missing.Slots), humanize(missing.Command.IntentID))
	case errors.As(err, &unresolved):
		feedback = fmt.Sprintf("I don't know what %q refers to.", unresolved.Word)
	case errors.Is(err, message.ErrModelTimeout), errors.Is(err, message.ErrModelUnavailable):
		feedback = FeedbackUnavailable
	default:
		feedback = FeedbackNotUnderstood
	}
	return message.Outcome{Feedback: feedback}.WithErr(err)
}

// Cancel cancels every handler currently running for session and returns
// how many were cancelled.
func (d *Dispatcher) Cancel(session string) int {
	d.mu.Lock()
	runs := d.active[session]
	delete(d.active, session)
	d.mu.Unlock()

	for _, cancel := range runs {
		cancel()
	}
	return len(runs)
}

// Active reports how many handlers are running for session.
func (d *Dispatcher) Active(session string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active[session])
}

func (d *Dispatcher) track(ctx context.Context, session string) (context.Context, func()) {
	hctx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	runs := d.active[session]
	if runs == nil {
		runs = make(map[uint64]context.CancelFunc)
		d.active[session] = runs
	}
	runs[id] = cancel
	d.mu.Unlock()

	return hctx, func() {
		d.mu.Lock()
		if runs := d.active[session]; runs != nil {
			delete(runs, id)
			if len(runs) == 0 {
				delete(d.active, session)
			}
		}
		d.mu.Unlock()
		cancel()
	}
}

func invoke(ctx context.Context, h handler.Handler, cmd message.ResolvedCommand) (success bool, feedback string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	success, feedback = h.Execute(ctx, cmd.IntentID, cmd.Slots.Clone())
	return success, feedback, nil
}
