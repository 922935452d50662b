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

// Package commandhandler runs domain behavior on aggregates and stores the
// result, retrying explicitly when another writer stored events first.
package commandhandler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"

	ec "github.com/looplab/eventcore"
	"github.com/looplab/eventcore/repository"
	"github.com/looplab/eventcore/uuid"
)

// DefaultRetries is the default number of retries after concurrency conflicts.
const DefaultRetries = 3

// ErrNilRepository is when a command handler is created with a nil repository.
var ErrNilRepository = errors.New("repository is nil")

// Repository creates, retrieves and stores aggregates, as done by
// *repository.Repository.
type Repository[A ec.Aggregate] interface {
	Create(uuid.UUID) A
	Retrieve(context.Context, uuid.UUID) (A, error)
	Store(context.Context, A) error
}

// Func is domain behavior run on an aggregate, raising events on it.
type Func[A ec.Aggregate] func(context.Context, A) error

// CommandHandler runs behavior on aggregates of one type.
//
// The process is as follows:
// 1. The aggregate is retrieved, or created if it has no history.
// 2. The behavior is run, which raises events on the aggregate.
// 3. The new events are stored and then published by the repository.
// 4. On a concurrency conflict the attempt is thrown away and retried from 1
//    after a backoff, until the retries are used up.
type CommandHandler[A ec.Aggregate] struct {
	repo    Repository[A]
	retries int
	delay   backoff.Backoff
	logger  *slog.Logger
}

// Option is an option setter used to configure creation.
type Option func(*settings) error

type settings struct {
	retries int
	delay   backoff.Backoff
	logger  *slog.Logger
}

// WithRetries sets how many times a conflicting attempt is retried, 0 disables
// retrying and returns the first conflict.
func WithRetries(retries int) Option {
	return func(s *settings) error {
		if retries < 0 {
			return fmt.Errorf("invalid number of retries: %d", retries)
		}

		s.retries = retries

		return nil
	}
}

// WithBackoff sets the shortest and longest delay between retries.
func WithBackoff(min, max time.Duration) Option {
	return func(s *settings) error {
		if min <= 0 || max < min {
			return fmt.Errorf("invalid backoff: %s to %s", min, max)
		}

		s.delay.Min = min
		s.delay.Max = max

		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) error {
		if logger == nil {
			return fmt.Errorf("missing logger")
		}

		s.logger = logger

		return nil
	}
}

// New creates a command handler using a repository.
func New[A ec.Aggregate](repo Repository[A], options ...Option) (*CommandHandler[A], error) {
	if repo == nil {
		return nil, ErrNilRepository
	}

	s := &settings{
		retries: DefaultRetries,
		delay: backoff.Backoff{
			Min:    10 * time.Millisecond,
			Max:    time.Second,
			Factor: 2,
			Jitter: true,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	return &CommandHandler[A]{
		repo:    repo,
		retries: s.retries,
		delay:   s.delay,
		logger:  s.logger,
	}, nil
}

// Handle runs f on the aggregate with the ID and stores the raised events.
// The aggregate is created if it has no history. All errors except
// concurrency conflicts are returned directly, including those of f.
func (h *CommandHandler[A]) Handle(ctx context.Context, id uuid.UUID, f Func[A]) error {
	return h.handle(ctx, id, f, true)
}

// HandleExisting is like Handle but returns an error wrapping
// ec.ErrAggregateNotFound if the aggregate has no history.
func (h *CommandHandler[A]) HandleExisting(ctx context.Context, id uuid.UUID, f Func[A]) error {
	return h.handle(ctx, id, f, false)
}

func (h *CommandHandler[A]) handle(ctx context.Context, id uuid.UUID, f Func[A], create bool) error {
	// Copy to not share the backoff state between calls.
	delay := h.delay

	for attempt := 0; ; attempt++ {
		err := h.attempt(ctx, id, f, create)
		if err == nil || !errors.Is(err, ec.ErrConcurrentSave) || isPublishError(err) {
			return err
		}

		if attempt >= h.retries {
			return fmt.Errorf("gave up after %d attempts: %w", attempt+1, err)
		}

		d := delay.Duration()

		h.logger.Info("retrying after concurrent save",
			"aggregate_id", id,
			"attempt", attempt+1,
			"delay", d,
		)

		select {
		case <-time.After(d):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}
}

func (h *CommandHandler[A]) attempt(ctx context.Context, id uuid.UUID, f Func[A], create bool) error {
	a, err := h.repo.Retrieve(ctx, id)
	if errors.Is(err, ec.ErrAggregateNotFound) && create {
		a, err = h.repo.Create(id), nil
	}

	if err != nil {
		return err
	}

	if err := f(ctx, a); err != nil {
		return err
	}

	return h.repo.Store(ctx, a)
}

// Events that failed to publish are already stored, running f again would
// raise them twice.
func isPublishError(err error) bool {
	var repoErr *repository.RepositoryError

	return errors.As(err, &repoErr) && repoErr.Op == repository.RepositoryOpPublish
}
