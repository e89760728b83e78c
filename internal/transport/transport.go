// Package transport defines the interface for pluggable message transports.
//
// Each transport (gRPC, HTTP/WebSocket, MQTT) carries transcripts into the
// pipeline and feedback back out. Transports also deliver resolved commands
// to remote handler targets. The pipeline doesn't care how messages arrive;
// it only works with the Transport contract.
package transport

import (
	"context"

	"github.com/nadzzz/aura/internal/message"
)

// Handler is a function that processes an incoming message and returns a result.
// The pipeline provides this handler to each transport.
type Handler func(ctx context.Context, msg *message.Message) (*message.DispatchResult, error)

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "grpc", "http", "mqtt").
	Name() string

	// Listen starts accepting incoming messages and dispatches them to the handler.
	// It blocks until the context is cancelled.
	Listen(ctx context.Context, handler Handler) error

	// Send delivers a payload to a target address using this transport's
	// protocol and returns the target's reply, which may be empty.
	Send(ctx context.Context, target message.Target, payload []byte) ([]byte, error)

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}
