package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/radekcihi/electrontrpc/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// Subject overrides the base event subject (e.g. from EVENT_SUBJECT).
	Subject string
}

// CommsPublisher publishes AppAction events on the bridge.
type CommsPublisher struct {
	nc      *comms.Conn
	subject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	subject := commsutil.SubjectEvents
	if opts != nil && opts.Subject != "" {
		subject = opts.Subject
	}
	return &CommsPublisher{nc: nc, subject: subject}
}

// Publish sends the event on the per-action subject. Renderers listening to
// every action subscribe with commsutil.EventWildcard.
func (p *CommsPublisher) Publish(_ context.Context, event *AppAction) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	subject := commsutil.BuildEventSubject(p.subject, event.Action)
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event", commsPublisherLogPrefix, event.Action))
	return nil
}

// Subscribe delivers every event published under subject to fn. Payloads
// that do not decode are logged and skipped.
func Subscribe(nc *comms.Conn, subject string, fn func(*AppAction)) (*comms.Subscription, error) {
	if subject == "" {
		subject = commsutil.SubjectEvents
	}
	sub, err := nc.Subscribe(commsutil.EventWildcard(subject), func(msg *comms.Msg) {
		var ev AppAction
		if err := commsutil.DecodePayload(msg.Data, &ev); err != nil {
			slog.Warn(fmt.Sprintf("%s - undecodable event on %s: %v", commsPublisherLogPrefix, msg.Subject, err))
			return
		}
		fn(&ev)
	})
	if err != nil {
		return nil, fmt.Errorf("%s - subscribe %s: %w", commsPublisherLogPrefix, subject, err)
	}
	return sub, nil
}
