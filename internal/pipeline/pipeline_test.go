package pipeline_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nadzzz/aura/internal/chain"
	"github.com/nadzzz/aura/internal/dispatch"
	"github.com/nadzzz/aura/internal/handler"
	"github.com/nadzzz/aura/internal/history"
	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/interpreter"
	"github.com/nadzzz/aura/internal/interpreter/mock"
	"github.com/nadzzz/aura/internal/matcher"
	"github.com/nadzzz/aura/internal/message"
	"github.com/nadzzz/aura/internal/observe"
	"github.com/nadzzz/aura/internal/pipeline"
	"github.com/nadzzz/aura/internal/synonym"
	"github.com/nadzzz/aura/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// calls records which handlers ran, in order.
type calls struct {
	mu  sync.Mutex
	log []string
}

func (c *calls) handler(feedback string) handler.Handler {
	return handler.Func(func(_ context.Context, id string, slots message.Slots) (bool, string) {
		c.mu.Lock()
		defer c.mu.Unlock()
		entry := id
		if name, ok := slots.Text("name"); ok {
			entry += ":" + name
		}
		c.log = append(c.log, entry)
		return true, feedback
	})
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

type rig struct {
	p          *pipeline.Pipeline
	history    *history.Manager
	dispatcher *dispatch.Dispatcher
	classifier *mock.Classifier
	calls      *calls
	metrics    *observe.Metrics
}

func newRig(t *testing.T, classifier *mock.Classifier, fbOpts ...interpreter.FallbackOption) *rig {
	t.Helper()
	tbl := intent.Default()
	res := synonym.New(tbl)

	c := &calls{}
	reg := handler.NewRegistry()
	(&handler.Builtins{Table: tbl, Tick: time.Hour}).Register(reg)
	for _, id := range []string{"create_folder", "open_folder", "delete_folder", "close_tab", "mute_volume", "set_volume"} {
		reg.Register(id, c.handler("done"))
	}

	if classifier == nil {
		classifier = &mock.Classifier{Prediction: &interpreter.Prediction{Intent: intent.Unknown}}
	}
	fbOpts = append([]interpreter.FallbackOption{interpreter.WithAcceptThreshold(matcher.DefaultAcceptThreshold)}, fbOpts...)

	hist := history.NewManager(nil, history.WithTable(tbl))
	d := dispatch.New(reg)
	m := observe.NewMetrics(prometheus.NewRegistry())
	p := pipeline.New(pipeline.Components{
		Resolver:   res,
		Splitter:   chain.New(res),
		Matcher:    matcher.New(tbl, res),
		Fallback:   interpreter.NewFallback(classifier, tbl, fbOpts...),
		Dispatcher: d,
		History:    hist,
	}, pipeline.WithMetrics(m), pipeline.WithRoutes(map[string]string{"close_tab": "browser"}))

	return &rig{p: p, history: hist, dispatcher: d, classifier: classifier, calls: c, metrics: m}
}

func (r *rig) handle(t *testing.T, session, text string) *message.DispatchResult {
	t.Helper()
	res, err := r.p.Handle(context.Background(), &message.Message{SessionID: session, Text: text})
	require.NoError(t, err)
	require.NotEmpty(t, res.Segments)
	return res
}

var fullPath = []message.State{
	message.StateReceived,
	message.StateNormalized,
	message.StateRuleMatched,
	message.StateDispatched,
	message.StateRecorded,
}

func TestSynonymsProduceSameCommand(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	for _, text := range []string{
		"create folder reports",
		"new folder reports",
		"make a new folder called reports",
		"um could you please create a folder named reports",
	} {
		res := r.handle(t, "s", text)
		require.Len(t, res.Segments, 1, text)
		seg := res.Segments[0]
		assert.Equal(t, "create_folder", seg.Command.IntentID, text)
		assert.Equal(t, message.SourceRule, seg.Command.Source, text)
		assert.Equal(t, 1.0, seg.Command.Confidence, text)
		name, _ := seg.Command.Slots.Text("name")
		assert.Equal(t, "reports", name, text)
		assert.Equal(t, fullPath, seg.Path, text)
	}
	assert.Empty(t, r.classifier.Calls())
}

func TestChainedCommandsRunInOrder(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	res := r.handle(t, "s", "create folder reports and open folder reports")

	require.Len(t, res.Segments, 2)
	assert.Equal(t, "create_folder", res.Segments[0].Command.IntentID)
	assert.Equal(t, "open_folder", res.Segments[1].Command.IntentID)
	assert.Equal(t, []string{"create_folder:reports", "open_folder:reports"}, r.calls.list())
	assert.Equal(t, []string{"done", "done"}, res.Feedback())
}

func TestLaterSegmentSeesEarlierSegment(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	res := r.handle(t, "s", "create folder reports and then open it")

	require.Len(t, res.Segments, 2)
	open := res.Segments[1].Command
	assert.Equal(t, "open_folder", open.IntentID)
	assert.Equal(t, message.SourceContext, open.Source)
	assert.InDelta(t, 0.9, open.Confidence, 1e-9)
	assert.Equal(t, []string{"create_folder:reports", "open_folder:reports"}, r.calls.list())
}

func TestOpenItAcrossTurns(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	r.handle(t, "s", "create folder reports")
	res := r.handle(t, "s", "open it")

	cmd := res.Segments[0].Command
	assert.Equal(t, "open_folder", cmd.IntentID)
	assert.Equal(t, message.SourceContext, cmd.Source)
	name, _ := cmd.Slots.Text("name")
	assert.Equal(t, "reports", name)

	// No leakage into another session.
	other := r.handle(t, "other", "open it")
	assert.Equal(t, message.KindUnresolvedReference, other.Segments[0].Outcome.ErrorKind)
	assert.False(t, other.Segments[0].Outcome.Invoked)
}

func TestExitHaltsChain(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	res := r.handle(t, "s", "close tab and then exit and create folder later")

	require.Len(t, res.Segments, 2)
	assert.Equal(t, "close_tab", res.Segments[0].Command.IntentID)
	assert.Equal(t, intent.Exit, res.Segments[1].Command.IntentID)
	assert.True(t, res.Halted)
	assert.Equal(t, "Goodbye.", res.Segments[1].Outcome.Feedback)
	assert.Equal(t, []string{"close_tab"}, r.calls.list())
	assert.Equal(t, []string{"browser"}, res.RoutedTo)
}

func TestUnknownInputIsRecorded(t *testing.T) {
	t.Parallel()

	r := newRig(t, &mock.Classifier{Prediction: &interpreter.Prediction{Intent: "launch_rocket"}})
	res := r.handle(t, "s", "zzz qqq")

	require.Len(t, res.Segments, 1)
	seg := res.Segments[0]
	assert.Equal(t, intent.Unknown, seg.Command.IntentID)
	assert.Equal(t, message.SourceModel, seg.Command.Source)
	assert.Zero(t, seg.Command.Confidence)
	assert.False(t, seg.Outcome.Invoked)
	assert.Equal(t, message.KindModelValidation, seg.Outcome.ErrorKind)
	assert.Equal(t, dispatch.FeedbackNotUnderstood, seg.Outcome.Feedback)
	assert.Equal(t, []message.State{
		message.StateReceived,
		message.StateNormalized,
		message.StateUnresolved,
		message.StateRecorded,
	}, seg.Path)
	assert.Empty(t, r.calls.list())

	view, err := r.history.Snapshot(context.Background(), "s")
	require.NoError(t, err)
	latest, ok := view.Frame.Latest()
	require.True(t, ok)
	assert.Equal(t, intent.Unknown, latest.Command.IntentID)
}

func TestModelFallbackDispatches(t *testing.T) {
	t.Parallel()

	r := newRig(t, &mock.Classifier{Prediction: &interpreter.Prediction{Intent: "mute_volume"}})
	res := r.handle(t, "s", "zzz qqq")

	seg := res.Segments[0]
	assert.Equal(t, "mute_volume", seg.Command.IntentID)
	assert.Equal(t, message.SourceModel, seg.Command.Source)
	assert.Equal(t, interpreter.DefaultConfidence, seg.Command.Confidence)
	assert.True(t, seg.Outcome.Success)
	assert.Contains(t, seg.Path, message.StateModelMatched)
	assert.Equal(t, []string{"zzz qqq"}, r.classifier.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.Intents.WithLabelValues("mute_volume", "success")))
}

func TestModelTimeoutDegrades(t *testing.T) {
	t.Parallel()

	r := newRig(t,
		&mock.Classifier{Prediction: &interpreter.Prediction{Intent: "mute_volume"}, Delay: time.Second},
		interpreter.WithTimeout(20*time.Millisecond))
	res := r.handle(t, "s", "zzz qqq")

	seg := res.Segments[0]
	assert.Equal(t, intent.Unknown, seg.Command.IntentID)
	assert.Equal(t, message.KindModelTimeout, seg.Outcome.ErrorKind)
	assert.Equal(t, dispatch.FeedbackUnavailable, seg.Outcome.Feedback)
}

func TestMissingSlotSkipsModel(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	res := r.handle(t, "s", "set volume to")

	seg := res.Segments[0]
	assert.Equal(t, "set_volume", seg.Command.IntentID)
	assert.Equal(t, message.KindMissingSlot, seg.Outcome.ErrorKind)
	assert.False(t, seg.Outcome.Invoked)
	assert.Empty(t, r.classifier.Calls())
	assert.Empty(t, r.calls.list())
}

func TestEmptyTranscript(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	res := r.handle(t, "", "  um ")

	assert.Equal(t, message.DefaultSession, res.SessionID)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, intent.Unknown, res.Segments[0].Command.IntentID)
	assert.Contains(t, res.Segments[0].Path, message.StateRecorded)
	assert.Empty(t, r.classifier.Calls())
}

func TestCancelBypassesQueuedTurn(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)

	done := make(chan *message.DispatchResult, 1)
	go func() {
		res, _ := r.p.Handle(context.Background(), &message.Message{SessionID: "s", Text: "countdown from thirty"})
		done <- res
	}()
	require.Eventually(t, func() bool { return r.dispatcher.Active("s") == 1 }, time.Second, time.Millisecond)

	// An ordinary turn queues behind the running one.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.p.Handle(ctx, &message.Message{SessionID: "s", Text: "close tab"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	stop := r.handle(t, "s", "stop")
	assert.Equal(t, intent.Cancel, stop.Segments[0].Command.IntentID)
	assert.True(t, stop.Segments[0].Outcome.Success)

	select {
	case res := <-done:
		require.Len(t, res.Segments, 1)
		out := res.Segments[0].Outcome
		assert.False(t, out.Success)
		assert.Equal(t, "Countdown stopped at 30.", out.Feedback)
	case <-time.After(2 * time.Second):
		t.Fatal("countdown turn did not finish after cancel")
	}
	assert.Empty(t, r.calls.list())
}

func TestIsCancel(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	for text, want := range map[string]bool{
		"stop":               true,
		"please stop that":   true,
		"never mind":         true,
		"stop program":       false,
		"close tab and stop": false,
		"":                   false,
	} {
		assert.Equal(t, want, r.p.IsCancel(&message.Message{Text: text}), text)
	}
}

func TestQueuedTurnsResolveReferencesInOrder(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	q := transport.NewQueue(r.p.Handle, r.p.IsCancel)

	var (
		mu      sync.Mutex
		results = map[string]*message.DispatchResult{}
	)
	for i := range 20 {
		session := fmt.Sprintf("s%d", i)
		for _, text := range []string{"create folder called reports" + session, "open it"} {
			q.Submit(context.Background(), &message.Message{SessionID: session, Text: text},
				func(res *message.DispatchResult, err error) {
					assert.NoError(t, err)
					if text == "open it" {
						mu.Lock()
						results[session] = res
						mu.Unlock()
					}
				})
		}
	}
	q.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 20)
	for session, res := range results {
		require.Len(t, res.Segments, 1)
		seg := res.Segments[0]
		assert.Equal(t, "open_folder", seg.Command.IntentID, session)
		name, _ := seg.Command.Slots.Text("name")
		assert.Equal(t, "reports"+session, name, session)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	r := newRig(t, nil)
	res := r.handle(t, "s", "exit")
	assert.Equal(t, "[0] exit: Goodbye.\n", pipeline.Describe(res))
}
