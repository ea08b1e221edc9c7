// Package bridge is the renderer side of the RPC protocol. It turns calls into
// wire requests, sends them over a Channel and resolves each call site exactly
// once with either data or a shaped error.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

// DefaultRequestTimeout bounds a channel request whose context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// Channel carries one encoded request to the host and returns the encoded
// reply.
type Channel interface {
	Request(ctx context.Context, data []byte) ([]byte, error)
}

// Notifier is implemented by channels that can also send fire-and-forget
// messages such as client log lines.
type Notifier interface {
	Notify(ctx context.Context, data []byte) error
}

// NATSChannel is a Channel over a broker connection.
type NATSChannel struct {
	nc         *comms.Conn
	subject    string
	logSubject string
	timeout    time.Duration
}

// NewNATSChannel creates a channel sending requests on subject and log lines
// on logSubject. An empty logSubject disables Notify.
func NewNATSChannel(nc *comms.Conn, subject, logSubject string) *NATSChannel {
	return &NATSChannel{nc: nc, subject: subject, logSubject: logSubject, timeout: DefaultRequestTimeout}
}

// WithTimeout overrides DefaultRequestTimeout.
func (c *NATSChannel) WithTimeout(d time.Duration) *NATSChannel {
	c.timeout = d
	return c
}

func (c *NATSChannel) Request(ctx context.Context, data []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	msg, err := c.nc.RequestWithContext(ctx, c.subject, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

func (c *NATSChannel) Notify(_ context.Context, data []byte) error {
	if c.logSubject == "" {
		return fmt.Errorf("%s - no log subject configured", logPrefix)
	}
	return c.nc.Publish(c.logSubject, data)
}

// transportError shapes a channel failure.
func transportError(err error) *rpcerror.Error {
	switch {
	case errors.Is(err, comms.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return rpcerror.Wrap(rpcerror.CodeTimeout, err, "")
	case errors.Is(err, comms.ErrNoResponders):
		return rpcerror.Wrap(rpcerror.CodeTransport, err, "No host is listening on the bridge")
	}
	return rpcerror.Wrap(rpcerror.CodeTransport, err, "")
}
