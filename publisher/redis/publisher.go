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

// Package redis provides a publisher that forwards events to a Redis stream
// and consumes them with a consumer group.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/codec/json"
)

// Publisher forwards handled events to a Redis stream. It is subscribed to a
// local event bus like any other handler.
type Publisher struct {
	appID      string
	clientID   string
	streamName string
	client     *redis.Client
	clientOpts *redis.Options
	codec      ec.EventCodec
	logger     *slog.Logger
}

var _ = ec.EventHandler(&Publisher{})

// NewPublisher creates a Publisher, with optional settings. Events are
// consumed by the group appID as clientID.
func NewPublisher(addr, appID, clientID string, types *ec.EventTypes, options ...Option) (*Publisher, error) {
	p := &Publisher{
		appID:      appID,
		clientID:   clientID,
		streamName: appID + "_events",
		codec:      json.NewEventCodec(types),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(p); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	// Default client options.
	if p.clientOpts == nil {
		p.clientOpts = &redis.Options{
			Addr: addr,
		}
	}

	// Create client and check connection.
	p.client = redis.NewClient(p.clientOpts)
	if res, err := p.client.Ping(context.Background()).Result(); err != nil || res != "PONG" {
		return nil, fmt.Errorf("could not check Redis server: %w", err)
	}

	// Create the group at the start of the stream, the stream is created if needed.
	if err := p.client.XGroupCreateMkStream(context.Background(), p.streamName, appID, "0").Err(); err != nil &&
		!strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("could not create consumer group: %w", err)
	}

	return p, nil
}

// Option is an option setter used to configure creation.
type Option func(*Publisher) error

// WithCodec uses the specified codec for encoding events.
func WithCodec(codec ec.EventCodec) Option {
	return func(p *Publisher) error {
		if codec == nil {
			return errors.New("missing codec")
		}

		p.codec = codec

		return nil
	}
}

// WithRedisOptions uses the Redis options for the underlying client, instead of the defaults.
func WithRedisOptions(opts *redis.Options) Option {
	return func(p *Publisher) error {
		p.clientOpts = opts

		return nil
	}
}

// WithLogger sets the logger for consume errors.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) error {
		if logger == nil {
			return errors.New("missing logger")
		}

		p.logger = logger

		return nil
	}
}

// HandlerType implements the HandlerType method of the ec.EventHandler interface.
func (p *Publisher) HandlerType() ec.EventHandlerType {
	return "redis-publisher"
}

const (
	aggregateTypeKey = "aggregate_type"
	eventTypeKey     = "event_type"
	dataKey          = "data"
)

// HandleEvent implements the HandleEvent method of the ec.EventHandler interface.
func (p *Publisher) HandleEvent(ctx context.Context, event ec.Event) error {
	data, err := p.codec.MarshalEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.streamName,
		Values: map[string]interface{}{
			aggregateTypeKey: event.AggregateType().String(),
			eventTypeKey:     event.EventType().String(),
			dataKey:          data,
		},
	}
	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("could not publish event: %w", err)
	}

	return nil
}

// Consume reads the stream with the consumer group and publishes every event
// on bus. Messages are acked when the bus handled them without errors. It
// blocks until ctx is done.
func (p *Publisher) Consume(ctx context.Context, bus ec.EventBus) error {
	for {
		streams, err := p.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.appID,
			Consumer: p.clientID,
			Streams:  []string{p.streamName, ">"},
			Count:    10,
			Block:    time.Second,
		}).Result()
		if ctx.Err() != nil {
			return nil
		} else if errors.Is(err, redis.Nil) {
			continue
		} else if err != nil {
			p.logger.Error("could not receive", "stream", p.streamName, "error", err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}

			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				p.handle(ctx, bus, msg)
			}
		}
	}
}

func (p *Publisher) handle(ctx context.Context, bus ec.EventBus, msg redis.XMessage) {
	data, ok := msg.Values[dataKey].(string)
	if !ok {
		p.logger.Error("missing event data", "message", msg.ID)

		return
	}

	event, ctx, err := p.codec.UnmarshalEvent(ctx, []byte(data))
	if err != nil {
		p.logger.Error("could not unmarshal event", "message", msg.ID, "error", err)

		return
	}

	if err := bus.Publish(ctx, event); err != nil {
		p.logger.Error("could not handle event", "event", event.String(), "error", err)

		return
	}

	if err := p.client.XAck(ctx, p.streamName, p.appID, msg.ID).Err(); err != nil {
		p.logger.Error("could not ack event", "event", event.String(), "error", err)
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
