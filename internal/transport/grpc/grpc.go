// Package grpc implements the gRPC transport for aura.
//
// The service is described by hand rather than generated from a .proto file:
// aura.v1.Interpreter/Interpret takes a message.Message and returns a
// message.DispatchResult, both carried by a JSON codec registered under the
// "json" content subtype. Remote handlers implement aura.v1.Handler/Execute
// the same way.
package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/nadzzz/aura/internal/message"
	"github.com/nadzzz/aura/internal/transport"
)

// Fully-qualified method names.
const (
	InterpretMethod = "/aura.v1.Interpreter/Interpret"
	ExecuteMethod   = "/aura.v1.Handler/Execute"
)

// CodecName is the content subtype clients must use.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// interpreterServer is the service implementation type.
type interpreterServer interface {
	Interpret(ctx context.Context, msg *message.Message) (*message.DispatchResult, error)
}

var interpreterDesc = grpc.ServiceDesc{
	ServiceName: "aura.v1.Interpreter",
	HandlerType: (*interpreterServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Interpret",
		Handler:    interpretHandler,
	}},
	Metadata: "aura/v1/interpreter",
}

func interpretHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(message.Message)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(interpreterServer).Interpret(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: InterpretMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(interpreterServer).Interpret(ctx, req.(*message.Message))
	}
	return interceptor(ctx, in, info, handler)
}

type service struct {
	handler transport.Handler
}

func (s *service) Interpret(ctx context.Context, msg *message.Message) (*message.DispatchResult, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok && msg.SessionID == "" {
		if v := md.Get("x-aura-session"); len(v) > 0 {
			msg.SessionID = v[0]
		}
	}
	res, err := s.handler(ctx, msg)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return res, nil
}

// ExecuteFunc serves a remote handler call. The request and reply are the
// JSON bodies described by handler.Request and handler.Reply.
type ExecuteFunc func(ctx context.Context, request []byte) ([]byte, error)

type executeServer interface {
	Execute(ctx context.Context, request []byte) ([]byte, error)
}

type executeService struct{ fn ExecuteFunc }

func (e executeService) Execute(ctx context.Context, request []byte) ([]byte, error) {
	return e.fn(ctx, request)
}

var handlerDesc = grpc.ServiceDesc{
	ServiceName: "aura.v1.Handler",
	HandlerType: (*executeServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Execute",
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			var in json.RawMessage
			if err := dec(&in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, req any) (any, error) {
				out, err := srv.(executeServer).Execute(ctx, req.(json.RawMessage))
				return json.RawMessage(out), err
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: ExecuteMethod}, call)
		},
	}},
	Metadata: "aura/v1/handler",
}

// RegisterRemoteHandler registers fn as the aura.v1.Handler service on s.
// Programs that execute forwarded intents use it.
func RegisterRemoteHandler(s *grpc.Server, fn ExecuteFunc) {
	s.RegisterService(&handlerDesc, executeService{fn: fn})
}

// UnaryLoggingInterceptor logs method, duration and status of each call.
func UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		st, _ := status.FromError(err)
		attrs := []any{"method", info.FullMethod, "duration", time.Since(start), "status_code", st.Code().String()}
		if err != nil {
			slog.Error("grpc request failed", append(attrs, "error", err)...)
		} else {
			slog.Debug("grpc request completed", attrs...)
		}
		return resp, err
	}
}

// Option configures a Transport.
type Option func(*Transport)

// WithDialOptions adds options used when dialing targets.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(t *Transport) { t.dialOpts = append(t.dialOpts, opts...) }
}

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port     int
	server   *grpc.Server
	dialOpts []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// New creates a new gRPC transport on the given port.
func New(port int, opts ...Option) *Transport {
	t := &Transport{
		port:     port,
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		conns:    make(map[string]*grpc.ClientConn),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Listen starts the gRPC server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	slog.Info("grpc transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		t.stop()
	}()
	return t.Serve(lis, handler)
}

// Serve serves the interpreter service on lis until the server stops.
func (t *Transport) Serve(lis net.Listener, handler transport.Handler) error {
	t.mu.Lock()
	t.server = grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryLoggingInterceptor()))
	t.server.RegisterService(&interpreterDesc, &service{handler: handler})
	srv := t.server
	t.mu.Unlock()
	return srv.Serve(lis)
}

// Send invokes aura.v1.Handler/Execute on the target and returns its reply.
func (t *Transport) Send(ctx context.Context, target message.Target, payload []byte) ([]byte, error) {
	conn, err := t.conn(target.Endpoint)
	if err != nil {
		return nil, err
	}
	if target.Token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+target.Token)
	}

	var reply json.RawMessage
	if err := conn.Invoke(ctx, ExecuteMethod, json.RawMessage(payload), &reply, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, fmt.Errorf("grpc send to %s: %w", target.Endpoint, err)
	}
	slog.Debug("grpc send success", "target", target.Endpoint, "bytes", len(payload))
	return reply, nil
}

func (t *Transport) conn(endpoint string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[endpoint]; ok {
		return c, nil
	}
	c, err := grpc.NewClient(endpoint, t.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", endpoint, err)
	}
	t.conns[endpoint] = c
	return c, nil
}

func (t *Transport) stop() {
	t.mu.Lock()
	srv := t.server
	t.mu.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
}

// Close gracefully stops the gRPC server and closes target connections.
func (t *Transport) Close() error {
	t.stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for endpoint, c := range t.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.conns, endpoint)
	}
	return firstErr
}

// Interpret calls aura.v1.Interpreter/Interpret over conn. It is the client
// side of the service for CLIs and tests.
func Interpret(ctx context.Context, conn grpc.ClientConnInterface, msg *message.Message) (*message.DispatchResult, error) {
	out := new(message.DispatchResult)
	if err := conn.Invoke(ctx, InterpretMethod, msg, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}
