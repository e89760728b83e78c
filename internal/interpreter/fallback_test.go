package interpreter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/interpreter"
	"github.com/nadzzz/aura/internal/interpreter/mock"
	"github.com/nadzzz/aura/internal/message"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func utter(text string) message.Utterance {
	return message.Utterance{Raw: text, Normalized: text, SessionID: "s"}
}

func TestFallbackAcceptsValidPrediction(t *testing.T) {
	t.Parallel()

	c := &mock.Classifier{Prediction: &interpreter.Prediction{
		Intent: "set_volume",
		Slots:  map[string]any{"level": float64(40)},
	}}
	f := interpreter.NewFallback(c, intent.Default(), interpreter.WithAcceptThreshold(0.75))

	cmd, err := f.Classify(context.Background(), utter("make it forty percent loud"))
	require.NoError(t, err)
	assert.Equal(t, "set_volume", cmd.IntentID)
	assert.Equal(t, message.SourceModel, cmd.Source)
	assert.Equal(t, interpreter.DefaultConfidence, cmd.Confidence)
	level, _ := cmd.Slots.Int("level")
	assert.Equal(t, 40, level)
	assert.Equal(t, []string{"make it forty percent loud"}, c.Calls())
}

func TestFallbackConfidenceStaysBelowThreshold(t *testing.T) {
	t.Parallel()

	c := &mock.Classifier{Prediction: &interpreter.Prediction{Intent: "mute_volume"}}
	f := interpreter.NewFallback(c, intent.Default(),
		interpreter.WithConfidence(0.9),
		interpreter.WithAcceptThreshold(0.75))

	cmd, err := f.Classify(context.Background(), utter("hush"))
	require.NoError(t, err)
	assert.Less(t, cmd.Confidence, 0.75)
}

func TestFallbackTimeoutDegradesToUnknown(t *testing.T) {
	t.Parallel()

	c := &mock.Classifier{
		Prediction: &interpreter.Prediction{Intent: "mute_volume"},
		Delay:      time.Second,
	}
	f := interpreter.NewFallback(c, intent.Default(), interpreter.WithTimeout(20*time.Millisecond))

	start := time.Now()
	cmd, err := f.Classify(context.Background(), utter("hush"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	require.ErrorIs(t, err, message.ErrModelTimeout)
	assert.Equal(t, intent.Unknown, cmd.IntentID)
	assert.Equal(t, message.SourceModel, cmd.Source)
	assert.Zero(t, cmd.Confidence)
}

func TestFallbackValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pred interpreter.Prediction
	}{
		{"unknown intent", interpreter.Prediction{Intent: "launch_rocket"}},
		{"undeclared slot", interpreter.Prediction{Intent: "mute_volume", Slots: map[string]any{"level": 3.0}}},
		{"type mismatch", interpreter.Prediction{Intent: "set_volume", Slots: map[string]any{"level": "loud"}}},
		{"fractional integer", interpreter.Prediction{Intent: "set_volume", Slots: map[string]any{"level": 4.5}}},
		{"enum outside set", interpreter.Prediction{Intent: "open_disk", Slots: map[string]any{"letter": "CD"}}},
		{"missing required", interpreter.Prediction{Intent: "open_folder"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := interpreter.NewFallback(&mock.Classifier{Prediction: &tt.pred}, intent.Default())
			cmd, err := f.Classify(context.Background(), utter("something"))
			var mve *message.ModelValidationError
			require.ErrorAs(t, err, &mve)
			assert.Equal(t, intent.Unknown, cmd.IntentID)
			assert.Zero(t, cmd.Confidence)
		})
	}
}

func TestValidateConvertsSpelledNumbersAndEnums(t *testing.T) {
	t.Parallel()

	tbl := intent.Default()

	_, slots, err := interpreter.Validate(tbl, &interpreter.Prediction{Intent: "set_volume", Slots: map[string]any{"level": "fifty"}})
	require.NoError(t, err)
	level, _ := slots.Int("level")
	assert.Equal(t, 50, level)

	_, slots, err = interpreter.Validate(tbl, &interpreter.Prediction{Intent: "open_disk", Slots: map[string]any{"letter": "d"}})
	require.NoError(t, err)
	letter, _ := slots.Text("letter")
	assert.Equal(t, "D", letter)
}

func TestFallbackModelSaysUnknown(t *testing.T) {
	t.Parallel()

	f := interpreter.NewFallback(&mock.Classifier{Prediction: &interpreter.Prediction{Intent: intent.Unknown}}, intent.Default())
	cmd, err := f.Classify(context.Background(), utter("zzz"))
	assert.ErrorIs(t, err, message.ErrNoMatch)
	assert.Equal(t, intent.Unknown, cmd.IntentID)
}

func TestFallbackBreakerOpens(t *testing.T) {
	t.Parallel()

	c := &mock.Classifier{Err: errors.New("connection refused")}
	f := interpreter.NewFallback(c, intent.Default(), interpreter.WithBreaker(interpreter.BreakerSettings{
		Failures: 2,
		Cooldown: time.Minute,
	}))

	for range 2 {
		_, err := f.Classify(context.Background(), utter("hush"))
		assert.ErrorIs(t, err, message.ErrModelUnavailable)
	}
	_, err := f.Classify(context.Background(), utter("hush"))
	assert.ErrorIs(t, err, message.ErrModelUnavailable)
	assert.Len(t, c.Calls(), 2, "open breaker must not reach the model")
}

func TestNoneBackend(t *testing.T) {
	t.Parallel()

	f := interpreter.NewFallback(nil, intent.Default())
	assert.Equal(t, "none", f.Name())
	cmd, err := f.Classify(context.Background(), utter("hush"))
	assert.ErrorIs(t, err, message.ErrModelUnavailable)
	assert.Equal(t, intent.Unknown, cmd.IntentID)
	assert.NoError(t, f.Close())
}

func TestParsePrediction(t *testing.T) {
	t.Parallel()

	p, err := interpreter.ParsePrediction("```json\n{\"intent\": \"open_folder\", \"slots\": {\"name\": \"reports\"}}\n```")
	require.NoError(t, err)
	assert.Equal(t, "open_folder", p.Intent)
	assert.Equal(t, "reports", p.Slots["name"])

	_, err = interpreter.ParsePrediction("I think you want to open a folder")
	assert.Error(t, err)

	_, err = interpreter.ParsePrediction(`{"slots": {}}`)
	assert.Error(t, err)
}

func TestSystemPromptListsIntents(t *testing.T) {
	t.Parallel()

	prompt := interpreter.SystemPrompt(intent.Default().Specs())
	assert.Contains(t, prompt, "- open_folder: open folder")
	assert.Contains(t, prompt, "name:filename required")
	assert.Contains(t, prompt, "letter:enum{A|B|")
}
