package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/aura/internal/handler"
	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/message"
)

func builtins(t *testing.T) *handler.Registry {
	t.Helper()
	r := handler.NewRegistry()
	b := &handler.Builtins{
		Table: intent.Default(),
		Now:   func() time.Time { return time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC) },
		Tick:  time.Millisecond,
	}
	b.Register(r)
	return r
}

func run(t *testing.T, r *handler.Registry, ctx context.Context, id string, slots message.Slots) (bool, string) {
	t.Helper()
	h, ok := r.Lookup(id)
	require.True(t, ok, "no handler for %s", id)
	return h.Execute(ctx, id, slots)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := handler.NewRegistry()
	_, ok := r.Lookup("open_folder")
	assert.False(t, ok)

	r.Register("open_folder", handler.Func(func(context.Context, string, message.Slots) (bool, string) {
		return true, "opened"
	}))
	r.Register("close_tab", handler.Func(func(context.Context, string, message.Slots) (bool, string) {
		return true, "closed"
	}))
	assert.Equal(t, []string{"close_tab", "open_folder"}, r.Intents())

	ok, fb := run(t, r, context.Background(), "open_folder", nil)
	assert.True(t, ok)
	assert.Equal(t, "opened", fb)
}

func TestBuiltins(t *testing.T) {
	t.Parallel()

	r := builtins(t)
	ctx := context.Background()

	ok, fb := run(t, r, ctx, "tell_time", nil)
	assert.True(t, ok)
	assert.Equal(t, "It is 2:05 PM.", fb)

	ok, fb = run(t, r, ctx, "tell_date", nil)
	assert.True(t, ok)
	assert.Equal(t, "Today is Saturday, March 9, 2024.", fb)

	ok, fb = run(t, r, ctx, "list_commands", nil)
	assert.True(t, ok)
	assert.Contains(t, fb, "open folder")

	ok, fb = run(t, r, ctx, intent.Exit, nil)
	assert.True(t, ok)
	assert.Equal(t, "Goodbye.", fb)

	ok, _ = run(t, r, ctx, intent.Cancel, nil)
	assert.True(t, ok)
}

func TestCountdown(t *testing.T) {
	t.Parallel()

	r := builtins(t)
	slots := message.Slots{"seconds": message.IntValue(intent.Integer, 3)}

	ok, fb := run(t, r, context.Background(), "start_countdown", slots)
	assert.True(t, ok)
	assert.Equal(t, "Countdown from 3 finished.", fb)

	ok, _ = run(t, r, context.Background(), "start_countdown", nil)
	assert.False(t, ok)

	ok, _ = run(t, r, context.Background(), "start_countdown",
		message.Slots{"seconds": message.IntValue(intent.Integer, handler.MaxCountdown+1)})
	assert.False(t, ok)
}

func TestCountdownStopsOnCancel(t *testing.T) {
	t.Parallel()

	r := handler.NewRegistry()
	(&handler.Builtins{Tick: time.Hour}).Register(r)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	ok, fb := run(t, r, ctx, "start_countdown", message.Slots{"seconds": message.IntValue(intent.Integer, 10)})
	assert.False(t, ok)
	assert.Equal(t, "Countdown stopped at 10.", fb)
	assert.Less(t, time.Since(start), time.Second)
}

type fakeSender struct {
	reply   []byte
	err     error
	target  message.Target
	payload []byte
}

func (s *fakeSender) Send(_ context.Context, target message.Target, payload []byte) ([]byte, error) {
	s.target = target
	s.payload = payload
	return s.reply, s.err
}

func TestForwarder(t *testing.T) {
	t.Parallel()

	target := message.Target{ServiceName: "desktop", Endpoint: "http://desk/execute", Protocol: "http"}
	slots := message.Slots{"name": message.TextValue(intent.Filename, "reports")}

	s := &fakeSender{reply: []byte(`{"success": true, "feedback": "Opened reports."}`)}
	f := &handler.Forwarder{Target: target, Sender: s}
	ok, fb := f.Execute(context.Background(), "open_folder", slots)
	assert.True(t, ok)
	assert.Equal(t, "Opened reports.", fb)
	assert.Equal(t, target, s.target)

	var req handler.Request
	require.NoError(t, json.Unmarshal(s.payload, &req))
	assert.Equal(t, "open_folder", req.Intent)
	assert.Equal(t, "reports", req.Slots["name"])
}

func TestForwarderFailures(t *testing.T) {
	t.Parallel()

	target := message.Target{ServiceName: "desktop", Protocol: "mqtt"}

	ok, fb := (&handler.Forwarder{Target: target, Sender: &fakeSender{}}).Execute(context.Background(), "mute_volume", nil)
	assert.True(t, ok)
	assert.Equal(t, "Sent to desktop.", fb)

	ok, fb = (&handler.Forwarder{Target: target, Sender: &fakeSender{err: errors.New("refused")}}).Execute(context.Background(), "mute_volume", nil)
	assert.False(t, ok)
	assert.Equal(t, "Could not reach desktop.", fb)

	ok, _ = (&handler.Forwarder{Target: target, Sender: &fakeSender{reply: []byte("<html>")}}).Execute(context.Background(), "mute_volume", nil)
	assert.False(t, ok)
}
