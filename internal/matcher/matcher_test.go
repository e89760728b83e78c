package matcher_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/aura/internal/history"
	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/matcher"
	"github.com/nadzzz/aura/internal/message"
	"github.com/nadzzz/aura/internal/normalize"
	"github.com/nadzzz/aura/internal/synonym"
)

var now = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func newMatcher(opts ...matcher.Option) *matcher.Matcher {
	tbl := intent.Default()
	return matcher.New(tbl, synonym.New(tbl), opts...)
}

func utter(raw string) message.Utterance {
	return message.Utterance{Raw: raw, Normalized: normalize.Normalize(raw), SessionID: "s", Timestamp: now}
}

func withHistory(cmds ...message.ResolvedCommand) history.View {
	var f history.Frame
	for _, c := range cmds {
		f, _ = f.Record(c, message.Outcome{Invoked: true, Success: true}, nil, now, history.DefaultCapacity)
	}
	return history.View{Frame: f, Now: now, TTL: time.Minute}
}

func TestExplicitRuleMatch(t *testing.T) {
	t.Parallel()

	cmd, err := newMatcher().Match(nil, utter("Set the volume to fifty please"))
	require.NoError(t, err)
	assert.Equal(t, "set_volume", cmd.IntentID)
	assert.Equal(t, message.SourceRule, cmd.Source)
	assert.Equal(t, 1.0, cmd.Confidence)
	level, _ := cmd.Slots.Int("level")
	assert.Equal(t, 50, level)
}

func TestOpenItResolvesFromHistory(t *testing.T) {
	t.Parallel()

	hist := withHistory(message.ResolvedCommand{
		IntentID: "create_folder",
		Slots:    message.Slots{"name": message.TextValue(intent.Filename, "reports")},
		Source:   message.SourceRule,
	})

	cmd, err := newMatcher().Match(hist, utter("open it"))
	require.NoError(t, err)
	assert.Equal(t, "open_folder", cmd.IntentID)
	assert.Equal(t, message.SourceContext, cmd.Source)
	assert.InDelta(t, 0.9, cmd.Confidence, 1e-9)
	name, _ := cmd.Slots.Text("name")
	assert.Equal(t, "reports", name)
	assert.True(t, cmd.Slots["name"].FromContext)
}

func TestOmittedSlotDefaultsFromHistory(t *testing.T) {
	t.Parallel()

	hist := withHistory(message.ResolvedCommand{
		IntentID: "create_folder",
		Slots:    message.Slots{"name": message.TextValue(intent.Filename, "reports")},
	})

	cmd, err := newMatcher().Match(hist, utter("delete folder"))
	require.NoError(t, err)
	assert.Equal(t, "delete_folder", cmd.IntentID)
	assert.Equal(t, message.SourceContext, cmd.Source)
	name, _ := cmd.Slots.Text("name")
	assert.Equal(t, "reports", name)
}

func TestUnresolvedReference(t *testing.T) {
	t.Parallel()

	cmd, err := newMatcher().Match(withHistory(), utter("open it"))
	var ure *message.UnresolvedReferenceError
	require.ErrorAs(t, err, &ure)
	assert.Equal(t, "name", ure.Slot)
	assert.Equal(t, "it", ure.Word)
	assert.Equal(t, "open_folder", cmd.IntentID)
}

func TestMissingSlotWithoutContextPolicy(t *testing.T) {
	t.Parallel()

	_, err := newMatcher().Match(withHistory(), utter("set volume"))
	var mse *message.MissingSlotError
	require.ErrorAs(t, err, &mse)
	assert.Equal(t, []string{"level"}, mse.Slots)
	assert.Equal(t, message.KindMissingSlot, message.KindOf(err))
}

func TestMissingSlotWithEmptyHistory(t *testing.T) {
	t.Parallel()

	_, err := newMatcher().Match(withHistory(), utter("open folder"))
	var mse *message.MissingSlotError
	require.ErrorAs(t, err, &mse)
	assert.Equal(t, []string{"name"}, mse.Slots)
}

func TestNoMatch(t *testing.T) {
	t.Parallel()

	m := newMatcher()

	_, err := m.Match(nil, utter("zzz qqq"))
	assert.ErrorIs(t, err, message.ErrNoMatch)

	_, err = m.Match(nil, utter(""))
	assert.ErrorIs(t, err, message.ErrNoMatch)
}

func TestThresholdAppliesAfterContextPenalty(t *testing.T) {
	t.Parallel()

	hist := withHistory(message.ResolvedCommand{
		IntentID: "create_folder",
		Slots:    message.Slots{"name": message.TextValue(intent.Filename, "reports")},
	})

	_, err := newMatcher(matcher.WithContextPenalty(0.3)).Match(hist, utter("open it"))
	assert.True(t, errors.Is(err, message.ErrNoMatch))
}
