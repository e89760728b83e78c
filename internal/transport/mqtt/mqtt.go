// Package mqtt implements the MQTT transport for aura.
//
// MQTT is well-suited for IoT devices and lightweight pub/sub messaging.
// This transport subscribes to a configurable topic, runs each transcript
// through the pipeline and publishes the result to "<topic>/result". When
// the subscription ends in a "+" wildcard, the matched level names the
// session. Messages of one session are handled in arrival order.
package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nadzzz/aura/internal/message"
	"github.com/nadzzz/aura/internal/transport"
)

const (
	qos            = 1
	connectTimeout = 10 * time.Second
	resultSuffix   = "/result"
)

// Transport implements transport.Transport over MQTT.
type Transport struct {
	broker   string
	topic    string
	clientID string

	urgent func(*message.Message) bool

	mu     sync.Mutex
	client paho.Client
}

// Option configures a Transport.
type Option func(*Transport)

// WithUrgent lets messages for which urgent holds overtake the messages
// queued before them on the same session.
func WithUrgent(urgent func(*message.Message) bool) Option {
	return func(t *Transport) { t.urgent = urgent }
}

// New creates a new MQTT transport.
func New(broker, topic, clientID string, opts ...Option) *Transport {
	if clientID == "" {
		clientID = "aura"
	}
	t := &Transport{broker: broker, topic: topic, clientID: clientID}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "mqtt" }

// Listen connects to the MQTT broker and subscribes to the configured topic.
// It blocks until the context is cancelled.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	queue := transport.NewQueue(handler, t.urgent)
	// Paho delivers in order; Submit never blocks the delivery goroutine.
	onMessage := func(_ paho.Client, m paho.Message) {
		topic := m.Topic()
		msg := DecodePayload(m.Payload())
		if msg.SessionID == "" {
			msg.SessionID = SessionFromTopic(t.topic, topic)
		}
		queue.Submit(ctx, msg, func(result *message.DispatchResult, err error) {
			t.publish(topic, msg, result, err)
		})
	}

	subscribe := func(c paho.Client) error {
		tok := c.Subscribe(t.topic, qos, onMessage)
		if !tok.WaitTimeout(connectTimeout) {
			return fmt.Errorf("mqtt subscribe %s: timed out", t.topic)
		}
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt subscribe %s: %w", t.topic, err)
		}
		return nil
	}

	opts := t.options()
	opts.SetOnConnectHandler(func(c paho.Client) {
		// Resubscribe after reconnects.
		if err := subscribe(c); err != nil {
			slog.Error("mqtt resubscribe failed", "error", err)
		}
	})

	client, err := t.connect(opts)
	if err != nil {
		return err
	}
	// The client may predate Listen if Send connected it first.
	if err := subscribe(client); err != nil {
		return err
	}
	slog.Info("mqtt transport listening", "broker", t.broker, "topic", t.topic)

	<-ctx.Done()
	slog.Info("mqtt transport shutting down")
	queue.Wait()
	return nil
}

// publish sends the result for msg, received on topic, to the result topic.
func (t *Transport) publish(topic string, msg *message.Message, result *message.DispatchResult, err error) {
	logger := slog.With("topic", topic, "session_id", msg.Session())
	if err != nil {
		logger.Error("interpret failed", "error", err)
		result = &message.DispatchResult{MessageID: msg.ID, SessionID: msg.Session(), Transcript: msg.Text, Error: err.Error()}
	}
	out, err := json.Marshal(result)
	if err != nil {
		logger.Error("encoding result", "error", err)
		return
	}

	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return
	}
	tok := client.Publish(ResultTopic(topic), qos, false, out)
	if !tok.WaitTimeout(connectTimeout) || tok.Error() != nil {
		logger.Error("publishing result failed", "error", tok.Error())
	}
}

// Send publishes a payload to the topic named by the target's endpoint.
// MQTT has no request/reply, so the reply is always empty.
func (t *Transport) Send(ctx context.Context, target message.Target, payload []byte) ([]byte, error) {
	client, err := t.connect(t.options())
	if err != nil {
		return nil, err
	}
	tok := client.Publish(target.Endpoint, qos, false, payload)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return nil, fmt.Errorf("mqtt publish to %s: %w", target.Endpoint, ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt publish to %s: %w", target.Endpoint, err)
	}
	slog.Debug("mqtt send", "topic", target.Endpoint, "bytes", len(payload))
	return nil, nil
}

// Close disconnects from the MQTT broker.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Disconnect(250)
		t.client = nil
	}
	return nil
}

func (t *Transport) options() *paho.ClientOptions {
	return paho.NewClientOptions().
		AddBroker(t.broker).
		SetClientID(t.clientID).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetConnectTimeout(connectTimeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("mqtt connection lost", "broker", t.broker, "error", err)
		})
}

// connect returns the shared client, connecting it with opts on first use.
func (t *Transport) connect(opts *paho.ClientOptions) (paho.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}
	client := paho.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: %w", t.broker, errors.New("timed out"))
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", t.broker, err)
	}
	t.client = client
	return client, nil
}

// DecodePayload reads a JSON message or, failing that, a plain transcript.
func DecodePayload(payload []byte) *message.Message {
	trimmed := bytes.TrimSpace(payload)
	var msg message.Message
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &msg) == nil {
		return &msg
	}
	return &message.Message{Text: string(trimmed)}
}

// ResultTopic is where the result for a message received on topic goes.
func ResultTopic(topic string) string {
	return topic + resultSuffix
}

// SessionFromTopic returns the level of topic matched by a trailing "+" in
// the subscription filter, or "" when the filter has none.
func SessionFromTopic(filter, topic string) string {
	f := strings.Split(filter, "/")
	if len(f) == 0 || f[len(f)-1] != "+" {
		return ""
	}
	levels := strings.Split(topic, "/")
	if len(levels) != len(f) {
		return ""
	}
	return levels[len(levels)-1]
}
