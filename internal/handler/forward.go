package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nadzzz/aura/internal/message"
)

// Sender delivers a payload to a target and returns its reply body. Every
// transport implements it.
type Sender interface {
	Send(ctx context.Context, target message.Target, payload []byte) ([]byte, error)
}

// Request is the JSON body a Forwarder sends to a remote handler.
type Request struct {
	Intent string         `json:"intent"`
	Slots  map[string]any `json:"slots"`
}

// Reply is the JSON body a remote handler answers with.
type Reply struct {
	Success  bool   `json:"success"`
	Feedback string `json:"feedback"`
}

// Forwarder executes intents on a remote target.
type Forwarder struct {
	Target message.Target
	Sender Sender
}

// Execute posts {intent, slots} to the target and decodes its reply. An
// empty reply, as from publish-only transports, counts as accepted.
func (f *Forwarder) Execute(ctx context.Context, intentID string, slots message.Slots) (bool, string) {
	payload, err := json.Marshal(Request{Intent: intentID, Slots: slots.Plain()})
	if err != nil {
		return false, fmt.Sprintf("Could not encode %s: %v", intentID, err)
	}

	logger := slog.With("target", f.Target.ServiceName, "protocol", f.Target.Protocol, "intent", intentID)
	body, err := f.Sender.Send(ctx, f.Target, payload)
	if err != nil {
		logger.Error("forwarding failed", "error", err)
		return false, fmt.Sprintf("Could not reach %s.", f.Target.ServiceName)
	}
	if len(body) == 0 {
		logger.Debug("forwarded without reply")
		return true, fmt.Sprintf("Sent to %s.", f.Target.ServiceName)
	}

	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		logger.Warn("undecodable reply from target", "error", err)
		return false, fmt.Sprintf("%s sent an unreadable reply.", f.Target.ServiceName)
	}
	logger.Debug("forwarded", "success", reply.Success)
	return reply.Success, reply.Feedback
}
