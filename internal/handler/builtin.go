package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/message"
)

// MaxCountdown caps start_countdown so a misheard number cannot tie up a
// session for hours.
const MaxCountdown = 3600

// Builtins are the side-effect free handlers shipped with aura.
type Builtins struct {
	Table *intent.Table

	// Now defaults to time.Now.
	Now func() time.Time

	// Tick is the countdown step; it defaults to one second.
	Tick time.Duration

	// Progress, when set, receives each remaining count of a countdown.
	Progress func(remaining int)
}

// Register binds every built-in to r.
func (b *Builtins) Register(r *Registry) {
	r.Register("list_commands", Func(b.listCommands))
	r.Register("tell_time", Func(b.tellTime))
	r.Register("tell_date", Func(b.tellDate))
	r.Register("start_countdown", Func(b.countdown))
	r.Register(intent.Exit, Func(func(context.Context, string, message.Slots) (bool, string) {
		return true, "Goodbye."
	}))
	r.Register(intent.Cancel, Func(func(context.Context, string, message.Slots) (bool, string) {
		return true, "Okay, stopped."
	}))
}

func (b *Builtins) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Builtins) listCommands(context.Context, string, message.Slots) (bool, string) {
	if b.Table == nil {
		return false, "No commands are loaded."
	}
	names := make([]string, 0, b.Table.Len())
	for _, s := range b.Table.Specs() {
		names = append(names, s.Canonical)
	}
	return true, "You can say: " + strings.Join(names, ", ") + "."
}

func (b *Builtins) tellTime(context.Context, string, message.Slots) (bool, string) {
	return true, "It is " + b.now().Format("3:04 PM") + "."
}

func (b *Builtins) tellDate(context.Context, string, message.Slots) (bool, string) {
	return true, "Today is " + b.now().Format("Monday, January 2, 2006") + "."
}

func (b *Builtins) countdown(ctx context.Context, _ string, slots message.Slots) (bool, string) {
	n, ok := slots.Int("seconds")
	if !ok || n <= 0 {
		return false, "Tell me how many seconds to count down from."
	}
	if n > MaxCountdown {
		return false, fmt.Sprintf("I can count down from at most %d seconds.", MaxCountdown)
	}

	tick := b.Tick
	if tick <= 0 {
		tick = time.Second
	}
	t := time.NewTicker(tick)
	defer t.Stop()

	for remaining := n; remaining > 0; remaining-- {
		if b.Progress != nil {
			b.Progress(remaining)
		}
		select {
		case <-ctx.Done():
			return false, fmt.Sprintf("Countdown stopped at %d.", remaining)
		case <-t.C:
		}
	}
	return true, fmt.Sprintf("Countdown from %d finished.", n)
}
