// Copyright (c) 2026 - The Event Horizon authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command orderdemo serves the order example over HTTP, with a configurable
// event store and optional forwarding of events to message brokers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/eventbus/local"
	"github.com/looplab/eventcore/eventstore/bbolt"
	"github.com/looplab/eventcore/eventstore/memory"
	"github.com/looplab/eventcore/eventstore/mongodb"
	"github.com/looplab/eventcore/eventstore/sqlite"
	"github.com/looplab/eventcore/examples/order"
	"github.com/looplab/eventcore/httputils"
	"github.com/looplab/eventcore/metrics"
	"github.com/looplab/eventcore/publisher/gcp"
	"github.com/looplab/eventcore/publisher/kafka"
	"github.com/looplab/eventcore/publisher/nats"
	"github.com/looplab/eventcore/publisher/redis"
	"github.com/looplab/eventcore/repository"
	"github.com/looplab/eventcore/tracing"
)

const serviceName = "orderdemo"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := run(logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := configFromEnv(os.Getenv)
	if err != nil {
		return err
	}

	var closers []io.Closer
	defer func() {
		// Close in reverse order of creation.
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Error("could not close", "error", err)
			}
		}
	}()

	if cfg.JaegerAgent != "" {
		closer, err := newTracer(serviceName, cfg.JaegerAgent)
		if err != nil {
			return err
		}

		closers = append(closers, closer)
		tracing.RegisterContext()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	store, err := newEventStore(cfg)
	if err != nil {
		return fmt.Errorf("could not create event store: %w", err)
	}

	closers = append(closers, store)

	localBus, err := local.NewEventBus(local.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("could not create event bus: %w", err)
	}

	bus := tracing.NewEventBus(localBus)

	svc, err := order.NewService(
		tracing.NewEventStore(m.NewEventStore(store)),
		bus,
		logger,
		repository.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("could not create order service: %w", err)
	}

	stream, err := httputils.NewEventStream(order.Types,
		httputils.WithLogger(logger),
		httputils.WithMatcher(ec.MatchAggregates(order.AggregateType)),
	)
	if err != nil {
		return fmt.Errorf("could not create event stream: %w", err)
	}

	if err := subscribe(bus, stream, m); err != nil {
		return err
	}

	publishers, err := newPublishers(cfg, logger)
	if err != nil {
		return err
	}

	for _, p := range publishers {
		closers = append(closers, p)

		if err := subscribe(bus, p, m); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/", newHandler(svc, stream, logger))

	promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	var servers []*http.Server

	if cfg.MetricsAddr != "" {
		ms := http.NewServeMux()
		ms.Handle("/metrics", promHandler)
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: ms})
	} else {
		mux.Handle("/metrics", promHandler)
	}

	servers = append(servers, &http.Server{Addr: cfg.HTTPAddr, Handler: mux})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, len(servers))

	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("serving", "addr", srv.Addr)

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("could not shut down server", "addr", srv.Addr, "error", err)
		}
	}

	return err
}

func newEventStore(cfg Config) (ec.EventStore, error) {
	switch cfg.EventStore {
	case "bbolt":
		return bbolt.NewEventStore(cfg.BboltPath, order.Types)
	case "sqlite":
		return sqlite.NewEventStore(cfg.SQLiteDSN, order.Types)
	case "mongodb":
		return mongodb.NewEventStore(cfg.MongoDBURL, cfg.MongoDBDB, order.Types)
	default:
		return memory.NewEventStore(memory.WithEventTypes(order.Types))
	}
}

// publisher forwards events to a broker.
type publisher interface {
	ec.EventHandler
	io.Closer
}

func newPublishers(cfg Config, logger *slog.Logger) ([]publisher, error) {
	var publishers []publisher

	if cfg.RedisAddr != "" {
		p, err := redis.NewPublisher(cfg.RedisAddr, serviceName, serviceName, order.Types,
			redis.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("could not create Redis publisher: %w", err)
		}

		publishers = append(publishers, p)
	}

	if cfg.NATSAddr != "" {
		p, err := nats.NewPublisher(cfg.NATSAddr, serviceName, order.Types,
			nats.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("could not create NATS publisher: %w", err)
		}

		publishers = append(publishers, p)
	}

	if cfg.KafkaAddr != "" {
		p, err := kafka.NewPublisher(cfg.KafkaAddr, serviceName, order.Types,
			kafka.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("could not create Kafka publisher: %w", err)
		}

		publishers = append(publishers, p)
	}

	if cfg.PubSubProject != "" {
		p, err := gcp.NewPublisher(cfg.PubSubProject, serviceName, serviceName, order.Types,
			gcp.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("could not create Pub/Sub publisher: %w", err)
		}

		publishers = append(publishers, p)
	}

	return publishers, nil
}

// subscribe adds h for all concrete order events, with metrics. The bus adds
// tracing itself.
func subscribe(bus ec.EventBus, h ec.EventHandler, m *metrics.Metrics) error {
	h = ec.UseEventHandlerMiddleware(h, m.NewEventHandlerMiddleware())

	for _, t := range []ec.EventType{
		order.ItemAdded,
		order.ItemRemoved,
		order.OrderPlaced,
		order.OrderCancelled,
	} {
		if err := bus.Subscribe(t, h); err != nil {
			return fmt.Errorf("could not subscribe %s to %s: %w", h.HandlerType(), t, err)
		}
	}

	return nil
}
