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

// Package nats provides a publisher that forwards events to a NATS JetStream
// stream and consumes them with a durable consumer.
package nats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/codec/json"
)

// Publisher forwards handled events to JetStream, on the subject
// "<appID>.events.<event type>".
type Publisher struct {
	appID    string
	conn     *nats.Conn
	connOpts []nats.Option
	js       jetstream.JetStream
	stream   jetstream.Stream
	subject  string
	codec    ec.EventCodec
	logger   *slog.Logger
}

var _ = ec.EventHandler(&Publisher{})

// NewPublisher creates a Publisher and the stream for appID if needed.
func NewPublisher(url, appID string, types *ec.EventTypes, options ...Option) (*Publisher, error) {
	p := &Publisher{
		appID:   appID,
		subject: appID + ".events",
		codec:   json.NewEventCodec(types),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(p); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	var err error
	if p.conn, err = nats.Connect(url, p.connOpts...); err != nil {
		return nil, fmt.Errorf("could not connect to NATS: %w", err)
	}

	if p.js, err = jetstream.New(p.conn); err != nil {
		p.conn.Close()

		return nil, fmt.Errorf("could not create JetStream context: %w", err)
	}

	if p.stream, err = p.js.CreateOrUpdateStream(context.Background(), jetstream.StreamConfig{
		Name:     appID + "_events",
		Subjects: []string{p.subject + ".>"},
	}); err != nil {
		p.conn.Close()

		return nil, fmt.Errorf("could not create stream: %w", err)
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

// WithNATSOptions adds the NATS options to the underlying client.
func WithNATSOptions(opts ...nats.Option) Option {
	return func(p *Publisher) error {
		p.connOpts = opts

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
	return "nats-publisher"
}

// HandleEvent implements the HandleEvent method of the ec.EventHandler interface.
func (p *Publisher) HandleEvent(ctx context.Context, event ec.Event) error {
	data, err := p.codec.MarshalEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	if _, err := p.js.Publish(ctx, p.subject+"."+event.EventType().String(), data); err != nil {
		return fmt.Errorf("could not publish event: %w", err)
	}

	return nil
}

// Consume publishes every event of the stream on bus, using a durable
// consumer named after the app. Messages that the bus could not handle are
// redelivered. It blocks until ctx is done.
func (p *Publisher) Consume(ctx context.Context, bus ec.EventBus) error {
	cons, err := p.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       p.appID,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("could not create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		p.handle(ctx, bus, msg)
	})
	if err != nil {
		return fmt.Errorf("could not consume: %w", err)
	}

	<-ctx.Done()
	cc.Stop()

	return nil
}

func (p *Publisher) handle(ctx context.Context, bus ec.EventBus, msg jetstream.Msg) {
	event, ctx, err := p.codec.UnmarshalEvent(ctx, msg.Data())
	if err != nil {
		p.logger.Error("could not unmarshal event", "subject", msg.Subject(), "error", err)

		// Redelivery would fail the same way.
		if err := msg.Term(); err != nil {
			p.logger.Error("could not terminate message", "error", err)
		}

		return
	}

	if err := bus.Publish(ctx, event); err != nil {
		p.logger.Error("could not handle event", "event", event.String(), "error", err)

		if err := msg.Nak(); err != nil {
			p.logger.Error("could not nak message", "error", err)
		}

		return
	}

	if err := msg.Ack(); err != nil {
		p.logger.Error("could not ack message", "event", event.String(), "error", err)
	}
}

// Close closes the NATS connection.
func (p *Publisher) Close() error {
	p.conn.Close()

	return nil
}
