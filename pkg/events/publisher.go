package events

import (
	"context"
	"errors"
)

// EventPublisher delivers AppAction events to listening renderers.
type EventPublisher interface {
	Publish(ctx context.Context, event *AppAction) error
}

// NoOpPublisher drops every event. Hosts without a bridge use it.
type NoOpPublisher struct{}

func (p *NoOpPublisher) Publish(context.Context, *AppAction) error { return nil }

// CallbackPublisher hands each event to a function: the host's event log,
// or a capture in tests.
type CallbackPublisher struct {
	fn func(ctx context.Context, event *AppAction) error
}

// NewCallbackPublisher wraps fn. A nil fn behaves like NoOpPublisher.
func NewCallbackPublisher(fn func(ctx context.Context, event *AppAction) error) *CallbackPublisher {
	return &CallbackPublisher{fn: fn}
}

func (p *CallbackPublisher) Publish(ctx context.Context, event *AppAction) error {
	if p.fn == nil {
		return nil
	}
	return p.fn(ctx, event)
}

// FanOut sends every event to each publisher in order. One failing publisher
// does not stop the rest; their errors are joined.
type FanOut []EventPublisher

func (f FanOut) Publish(ctx context.Context, event *AppAction) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
