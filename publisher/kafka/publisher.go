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

// Package kafka provides a publisher that forwards events to a Kafka topic
// and consumes them with a consumer group.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
	"github.com/segmentio/kafka-go"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/codec/json"
)

// Publisher forwards handled events to the topic "<appID>_events".
type Publisher struct {
	addr   string
	appID  string
	topic  string
	writer *kafka.Writer
	codec  ec.EventCodec
	logger *slog.Logger
}

var _ = ec.EventHandler(&Publisher{})

// NewPublisher creates a Publisher and the topic if needed.
func NewPublisher(addr, appID string, types *ec.EventTypes, options ...Option) (*Publisher, error) {
	topic := appID + "_events"
	p := &Publisher{
		addr:   addr,
		appID:  appID,
		topic:  topic,
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

	// Get or create the topic, waiting for the broker to come up.
	client := &kafka.Client{
		Addr: kafka.TCP(addr),
	}
	delay := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 5 * time.Second}

	var (
		resp *kafka.CreateTopicsResponse
		err  error
	)

	for i := 0; i < 10; i++ {
		resp, err = client.CreateTopics(context.Background(), &kafka.CreateTopicsRequest{
			Topics: []kafka.TopicConfig{{
				Topic:             topic,
				NumPartitions:     1,
				ReplicationFactor: 1,
			}},
		})
		if errors.Is(err, kafka.BrokerNotAvailable) {
			time.Sleep(delay.Duration())

			continue
		} else if err != nil {
			return nil, fmt.Errorf("error creating Kafka topic: %w", err)
		}

		break
	}

	if resp == nil {
		return nil, fmt.Errorf("could not get/create Kafka topic in time: %w", err)
	}

	if topicErr, ok := resp.Errors[topic]; ok && topicErr != nil {
		if !errors.Is(topicErr, kafka.TopicAlreadyExists) {
			return nil, fmt.Errorf("invalid Kafka topic: %w", topicErr)
		}
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(addr),
		Topic:        topic,
		BatchSize:    1,                // Write every event without delay.
		RequiredAcks: kafka.RequireOne, // Stronger consistency.
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
	return "kafka-publisher"
}

const (
	aggregateTypeHeader = "aggregate_type"
	eventTypeHeader     = "event_type"
)

// HandleEvent implements the HandleEvent method of the ec.EventHandler interface.
func (p *Publisher) HandleEvent(ctx context.Context, event ec.Event) error {
	data, err := p.codec.MarshalEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AggregateID().String()),
		Value: data,
		Headers: []kafka.Header{
			{
				Key:   aggregateTypeHeader,
				Value: []byte(event.AggregateType().String()),
			},
			{
				Key:   eventTypeHeader,
				Value: []byte(event.EventType().String()),
			},
		},
	}); err != nil {
		return fmt.Errorf("could not publish event: %w", err)
	}

	return nil
}

// Consume publishes every event of the topic on bus, reading with the
// consumer group appID. Offsets are committed when the bus handled the event
// without errors. It blocks until ctx is done.
func (p *Publisher) Consume(ctx context.Context, bus ec.EventBus) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{p.addr},
		Topic:       p.topic,
		GroupID:     p.appID,
		MaxBytes:    100e3,       // 100KB
		MaxWait:     time.Second, // Allow to exit readloop in max 1s.
		StartOffset: kafka.FirstOffset,
	})

	defer func() {
		if err := r.Close(); err != nil {
			p.logger.Error("could not close Kafka reader", "error", err)
		}
	}()

	for {
		msg, err := r.FetchMessage(ctx)
		if ctx.Err() != nil {
			return nil
		} else if err != nil {
			p.logger.Error("could not receive", "topic", p.topic, "error", err)

			// Retry the receive loop if there was an error.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}

			continue
		}

		p.handle(ctx, bus, r, msg)
	}
}

func (p *Publisher) handle(ctx context.Context, bus ec.EventBus, r *kafka.Reader, msg kafka.Message) {
	event, ctx, err := p.codec.UnmarshalEvent(ctx, msg.Value)
	if err != nil {
		p.logger.Error("could not unmarshal event", "offset", msg.Offset, "error", err)

		return
	}

	if err := bus.Publish(ctx, event); err != nil {
		p.logger.Error("could not handle event", "event", event.String(), "error", err)

		return
	}

	if err := r.CommitMessages(ctx, msg); err != nil {
		p.logger.Error("could not commit event", "event", event.String(), "error", err)
	}
}

// Close closes the Kafka writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
