// Package http implements the HTTP/WebSocket transport for aura.
//
// This transport exposes a REST endpoint for one-shot interpretation and a
// WebSocket endpoint that streams transcripts in and results out. It is best
// suited for web clients, speech front-ends and services that prefer
// HTTP-based communication.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/nadzzz/aura/internal/message"
	"github.com/nadzzz/aura/internal/transport"
)

// Request headers for plain-text transcripts.
const (
	HeaderSession = "X-Aura-Session"
	HeaderSource  = "X-Aura-Source"
)

const maxBody = 64 << 10

// Transport implements transport.Transport over HTTP and WebSocket.
type Transport struct {
	port   int
	client *http.Client
	server *http.Server
	urgent func(*message.Message) bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithUrgent lets stream frames for which urgent holds overtake the frames
// queued before them on the same session.
func WithUrgent(urgent func(*message.Message) bool) Option {
	return func(t *Transport) { t.urgent = urgent }
}

// New creates a new HTTP transport on the given port.
func New(port int, opts ...Option) *Transport {
	t := &Transport{port: port, client: &http.Client{Timeout: 30 * time.Second}}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Handler returns the transport's routes bound to handler.
func (t *Transport) Handler(handler transport.Handler) http.Handler {
	mux := http.NewServeMux()

	// POST /interpret accepts a JSON message or a plain-text transcript.
	mux.HandleFunc("POST /interpret", func(w http.ResponseWriter, r *http.Request) {
		t.handleInterpret(w, r, handler)
	})

	// GET /ws streams transcripts in and results out.
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		t.handleStream(w, r, handler)
	})

	// Swagger UI serves the generated OpenAPI docs.
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	return mux
}

// Listen starts the HTTP server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.port),
		Handler:           t.Handler(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// handleInterpret processes a POST /interpret request.
//
// @Summary     Interpret a transcript
// @Description Runs a transcribed utterance through the interpretation pipeline: chain splitting,
// @Description normalization, rule matching with conversational context, model fallback and dispatch.
// @Description Send a JSON message, or the raw transcript as text/plain with the session in a header.
// @Tags        interpret
// @Accept      json
// @Accept      plain
// @Produce     json
// @Param       message            body    message.Message  true   "Transcript to interpret"
// @Param       X-Aura-Session     header  string           false  "Session id (text/plain bodies only)"
// @Param       X-Aura-Source      header  string           false  "Sender identifier (text/plain bodies only)"
// @Success     200  {object}  message.DispatchResult  "One finalized result per command segment"
// @Failure     400  {string}  string  "Invalid request body"
// @Failure     503  {string}  string  "The session's turn could not start"
// @Router      /interpret [post]
func (t *Transport) handleInterpret(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "reading body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var msg message.Message
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(body, &msg); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		msg.Text = string(body)
		msg.SessionID = r.Header.Get(HeaderSession)
		msg.Source = r.Header.Get(HeaderSource)
	}

	result, err := handler(r.Context(), &msg)
	if err != nil {
		slog.Error("interpret failed", "error", err)
		http.Error(w, "interpret error: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// handleStream serves one WebSocket connection. Every text frame is a
// transcript, either a JSON message or plain text; each produces one JSON
// result frame carrying the message id. Frames of one session are handled in
// arrival order; urgent frames overtake the queue so that a cancel can reach
// a turn that is still running.
func (t *Transport) handleStream(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	session := r.URL.Query().Get("session")
	source := r.URL.Query().Get("source")
	logger := slog.With("session_id", session, "remote", r.RemoteAddr)
	logger.Info("websocket connected")

	queue := transport.NewQueue(handler, t.urgent)
	defer queue.Wait()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			_ = conn.Close(websocket.StatusUnsupportedData, "text frames only")
			return
		}

		msg := decodeFrame(data)
		if msg.SessionID == "" {
			msg.SessionID = session
		}
		if msg.Source == "" {
			msg.Source = source
		}

		queue.Submit(ctx, msg, func(result *message.DispatchResult, err error) {
			if err != nil {
				result = &message.DispatchResult{MessageID: msg.ID, SessionID: msg.Session(), Transcript: msg.Text, Error: err.Error()}
			}
			out, err := json.Marshal(result)
			if err != nil {
				logger.Error("encoding result", "error", err)
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
				logger.Debug("websocket write failed", "error", err)
			}
		})
	}
}

func decodeFrame(data []byte) *message.Message {
	trimmed := bytes.TrimSpace(data)
	var msg message.Message
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &msg) == nil {
		return &msg
	}
	return &message.Message{Text: string(trimmed)}
}

// Send delivers a payload to an HTTP target via POST and returns the reply.
func (t *Transport) Send(ctx context.Context, target message.Target, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("http send: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if target.Token != "" {
		req.Header.Set("Authorization", "Bearer "+target.Token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http send: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("http send: reading reply: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http send: status %d: %s", resp.StatusCode, truncate(body, 1024))
	}

	slog.Debug("http send success", "target", target.Endpoint, "status", resp.StatusCode)
	return body, nil
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
