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

// Package gcp provides a publisher that forwards events to a Google Cloud
// Pub/Sub topic and consumes them from a subscription.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/codec/json"
)

// Publisher forwards handled events to the topic "<appID>_events".
type Publisher struct {
	client     *pubsub.Client
	clientOpts []option.ClientOption
	topic      *pubsub.Topic
	sub        *pubsub.Subscription
	codec      ec.EventCodec
	logger     *slog.Logger
}

var _ = ec.EventHandler(&Publisher{})

// NewPublisher creates a Publisher, and the topic and the subscription
// "<appID>_<subscriberID>" if needed. Events published after creation are
// kept for the subscription until consumed.
func NewPublisher(projectID, appID, subscriberID string, types *ec.EventTypes, options ...Option) (*Publisher, error) {
	p := &Publisher{
		codec:  json.NewEventCodec(types),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(p); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	ctx := context.Background()

	var err error
	if p.client, err = pubsub.NewClient(ctx, projectID, p.clientOpts...); err != nil {
		return nil, fmt.Errorf("could not create Pub/Sub client: %w", err)
	}

	// Get or create the topic.
	name := appID + "_events"
	p.topic = p.client.Topic(name)

	if ok, err := p.topic.Exists(ctx); err != nil {
		return nil, fmt.Errorf("could not check topic: %w", err)
	} else if !ok {
		if p.topic, err = p.client.CreateTopic(ctx, name); err != nil {
			return nil, fmt.Errorf("could not create topic: %w", err)
		}
	}

	// Don't reorder events of an aggregate.
	p.topic.EnableMessageOrdering = true

	// Get or create the subscription.
	subID := appID + "_" + subscriberID
	p.sub = p.client.Subscription(subID)

	if ok, err := p.sub.Exists(ctx); err != nil {
		return nil, fmt.Errorf("could not check subscription: %w", err)
	} else if !ok {
		if p.sub, err = p.client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
			Topic:                 p.topic,
			AckDeadline:           60 * time.Second,
			EnableMessageOrdering: true,
		}); err != nil {
			return nil, fmt.Errorf("could not create subscription: %w", err)
		}
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

// WithClientOptions adds the options to the underlying Pub/Sub client, for
// example an endpoint or credentials.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(p *Publisher) error {
		p.clientOpts = append(p.clientOpts, opts...)

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
	return "gcp-publisher"
}

const (
	aggregateTypeAttribute = "aggregate_type"
	eventTypeAttribute     = "event_type"
)

// HandleEvent implements the HandleEvent method of the ec.EventHandler interface.
// It waits until the server has accepted the event.
func (p *Publisher) HandleEvent(ctx context.Context, event ec.Event) error {
	data, err := p.codec.MarshalEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: event.AggregateID().String(),
		Attributes: map[string]string{
			aggregateTypeAttribute: event.AggregateType().String(),
			eventTypeAttribute:     event.EventType().String(),
		},
	})
	if _, err := res.Get(ctx); err != nil {
		// Publishing for the ordering key is paused after an error.
		p.topic.ResumePublish(event.AggregateID().String())

		return fmt.Errorf("could not publish event: %w", err)
	}

	return nil
}

// Consume publishes every event of the subscription on bus. Messages that the
// bus could not handle are nacked for redelivery. It blocks until ctx is done.
func (p *Publisher) Consume(ctx context.Context, bus ec.EventBus) error {
	if err := p.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		p.handle(ctx, bus, msg)
	}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("could not receive: %w", err)
	}

	return nil
}

func (p *Publisher) handle(ctx context.Context, bus ec.EventBus, msg *pubsub.Message) {
	event, ctx, err := p.codec.UnmarshalEvent(ctx, msg.Data)
	if err != nil {
		p.logger.Error("could not unmarshal event", "message", msg.ID, "error", err)

		// Redelivery would fail the same way.
		msg.Ack()

		return
	}

	if err := bus.Publish(ctx, event); err != nil {
		p.logger.Error("could not handle event", "event", event.String(), "error", err)
		msg.Nack()

		return
	}

	msg.Ack()
}

// Close stops the topic and closes the client.
func (p *Publisher) Close() error {
	p.topic.Stop()

	return p.client.Close()
}
