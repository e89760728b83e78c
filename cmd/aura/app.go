package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nadzzz/aura/internal/chain"
	"github.com/nadzzz/aura/internal/config"
	"github.com/nadzzz/aura/internal/dispatch"
	"github.com/nadzzz/aura/internal/handler"
	"github.com/nadzzz/aura/internal/history"
	"github.com/nadzzz/aura/internal/intent"
	"github.com/nadzzz/aura/internal/interpreter"
	localinterp "github.com/nadzzz/aura/internal/interpreter/local"
	openaiinterp "github.com/nadzzz/aura/internal/interpreter/openai"
	"github.com/nadzzz/aura/internal/matcher"
	"github.com/nadzzz/aura/internal/message"
	"github.com/nadzzz/aura/internal/observe"
	"github.com/nadzzz/aura/internal/pipeline"
	"github.com/nadzzz/aura/internal/synonym"
	"github.com/nadzzz/aura/internal/transport"
	grpctransport "github.com/nadzzz/aura/internal/transport/grpc"
	httptransport "github.com/nadzzz/aura/internal/transport/http"
	mqtttransport "github.com/nadzzz/aura/internal/transport/mqtt"
)

// app is the wired daemon.
type app struct {
	table      *intent.Table
	pipeline   *pipeline.Pipeline
	fallback   *interpreter.Fallback
	registry   *prometheus.Registry
	transports []transport.Transport
	senders    map[string]transport.Transport
	redis      *history.RedisStore
}

// newApp builds the pipeline from cfg. Listening transports are only built
// when listen is set; senders for remote targets always are.
func newApp(ctx context.Context, cfg *config.Config, listen bool) (*app, error) {
	table, err := intent.LoadOrDefault(cfg.Pipeline.IntentsFile)
	if err != nil {
		return nil, err
	}
	slog.Info("intent table loaded", "intents", table.Len(), "file", cfg.Pipeline.IntentsFile)

	a := &app{
		table:    table,
		registry: prometheus.NewRegistry(),
		senders:  make(map[string]transport.Transport),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	classifier, err := newClassifier(cfg.Fallback)
	if err != nil {
		return nil, err
	}
	a.fallback = interpreter.NewFallback(classifier, table,
		interpreter.WithTimeout(cfg.Fallback.Timeout),
		interpreter.WithConfidence(cfg.Fallback.Confidence),
		interpreter.WithAcceptThreshold(cfg.Pipeline.AcceptThreshold),
		interpreter.WithBreaker(interpreter.BreakerSettings{
			Failures: cfg.Fallback.Breaker.Failures,
			Cooldown: cfg.Fallback.Breaker.Cooldown,
		}),
	)

	var store history.Store
	if cfg.Context.Store == "redis" {
		a.redis, err = history.NewRedisStore(ctx, cfg.Context.RedisURL, cfg.Context.TTL)
		if err != nil {
			_ = a.close()
			return nil, err
		}
		store = a.redis
		slog.Info("using redis history store")
	}
	hist := history.NewManager(store,
		history.WithCapacity(cfg.Context.Capacity),
		history.WithTTL(cfg.Context.TTL),
		history.WithTable(table),
	)

	if listen {
		a.transports = newTransports(cfg.Transports, a.isCancel)
		for _, t := range a.transports {
			a.senders[t.Name()] = t
		}
	}

	registry := handler.NewRegistry()
	(&handler.Builtins{Table: table}).Register(registry)
	routes, err := a.registerTargets(registry, cfg)
	if err != nil {
		_ = a.close()
		return nil, err
	}

	resolver := synonym.New(table, synonym.WithFuzzyFloor(cfg.Pipeline.FuzzyFloor))
	a.pipeline = pipeline.New(pipeline.Components{
		Resolver: resolver,
		Splitter: chain.New(resolver),
		Matcher: matcher.New(table, resolver,
			matcher.WithAcceptThreshold(cfg.Pipeline.AcceptThreshold),
			matcher.WithContextPenalty(cfg.Pipeline.ContextPenalty),
		),
		Fallback:   a.fallback,
		Dispatcher: dispatch.New(registry),
		History:    hist,
	},
		pipeline.WithMetrics(observe.NewMetrics(a.registry)),
		pipeline.WithRoutes(routes),
	)
	return a, nil
}

func newClassifier(cfg config.FallbackConfig) (interpreter.Classifier, error) {
	switch cfg.Backend {
	case "local":
		slog.Info("using local fallback model", "endpoint", cfg.Local.Endpoint, "model", cfg.Local.Model)
		return localinterp.New(cfg.Local), nil
	case "openai":
		slog.Info("using OpenAI fallback model", "model", cfg.OpenAI.Model)
		return openaiinterp.New(cfg.OpenAI)
	case "none":
		slog.Info("fallback model disabled")
		return interpreter.None{}, nil
	default:
		return nil, fmt.Errorf("unknown fallback backend %q", cfg.Backend)
	}
}

// isCancel lets streamed cancel commands overtake a session's queued
// transcripts. The pipeline is built after the transports.
func (a *app) isCancel(msg *message.Message) bool {
	return a.pipeline != nil && a.pipeline.IsCancel(msg)
}

func newTransports(cfg config.TransportsConfig, urgent func(*message.Message) bool) []transport.Transport {
	var ts []transport.Transport
	if cfg.GRPC.Enabled {
		ts = append(ts, grpctransport.New(cfg.GRPC.Port))
	}
	if cfg.HTTP.Enabled {
		ts = append(ts, httptransport.New(cfg.HTTP.Port, httptransport.WithUrgent(urgent)))
	}
	if cfg.MQTT.Enabled {
		ts = append(ts, mqtttransport.New(cfg.MQTT.Broker, cfg.MQTT.Topic, cfg.MQTT.ClientID, mqtttransport.WithUrgent(urgent)))
	}
	return ts
}

// registerTargets binds each remote target's intents to a Forwarder and
// returns the intent to target name routes.
func (a *app) registerTargets(registry *handler.Registry, cfg *config.Config) (map[string]string, error) {
	routes := make(map[string]string)
	for _, name := range slices.Sorted(maps.Keys(cfg.Targets)) {
		t := cfg.Targets[name]
		sender := a.sender(t.Protocol, cfg.Transports.MQTT)
		target := message.Target{ServiceName: name, Endpoint: t.Endpoint, Protocol: t.Protocol, Token: t.Token}
		for _, id := range t.Intents {
			if _, ok := a.table.Lookup(id); !ok {
				return nil, fmt.Errorf("target %s: unknown intent %q", name, id)
			}
			if prev, ok := routes[id]; ok {
				return nil, fmt.Errorf("intent %s is routed to both %s and %s", id, prev, name)
			}
			registry.Register(id, &handler.Forwarder{Target: target, Sender: sender})
			routes[id] = name
		}
		slog.Info("remote target registered", "target", name, "protocol", t.Protocol, "intents", len(t.Intents))
	}
	return routes, nil
}

// sender returns the transport used to reach targets over protocol,
// creating a send-only one if no listener exists.
func (a *app) sender(protocol string, mqtt config.MQTTConfig) transport.Transport {
	if s, ok := a.senders[protocol]; ok {
		return s
	}
	var s transport.Transport
	switch protocol {
	case "grpc":
		s = grpctransport.New(0)
	case "mqtt":
		s = mqtttransport.New(mqtt.Broker, "", mqtt.ClientID+"-targets")
	default:
		s = httptransport.New(0)
	}
	a.senders[protocol] = s
	return s
}

// close releases everything newApp opened.
func (a *app) close() error {
	var errs []error
	if a.fallback != nil {
		errs = append(errs, a.fallback.Close())
	}
	for _, s := range a.senders {
		errs = append(errs, s.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
