// Package dispatcher resolves wire requests against a procedure registry.
//
// Resolve is binding-agnostic: the NATS subscription, the HTTP handler and
// tests all hand it a decoded codec.Request and get back a codec.Reply.
package dispatcher

import (
	"context"

	"github.com/radekcihi/electrontrpc/pkg/codec"
	"github.com/radekcihi/electrontrpc/pkg/procedure"
	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

// Transport names reported in RequestMeta.
const (
	TransportBridge = "bridge"
	TransportHTTP   = "http"
)

// RequestMeta describes the request a context is being built for.
type RequestMeta struct {
	Request   *codec.Request
	Transport string
}

// ContextFactory builds the per-request context shared by every call of the
// request. It runs exactly once per request that passes method validation.
type ContextFactory[C any] func(ctx context.Context, meta RequestMeta) (C, error)

// ErrorHook observes every shaped failure, request-level or per call.
type ErrorHook func(err *rpcerror.Error, meta codec.CallMeta)

// Options configures Resolve.
type Options[C any] struct {
	Registry      *procedure.Registry[C]
	CreateContext ContextFactory[C]
	Codec         *codec.Codec

	// Batching allows requests carrying isBatch.
	Batching bool
	// MaxConcurrency bounds the sub-calls of one batch running at once.
	// Zero means unbounded.
	MaxConcurrency int
	// Transport is copied into RequestMeta.
	Transport string
	OnError   ErrorHook
}

func (o *Options[C]) codec() *codec.Codec {
	if o.Codec == nil {
		o.Codec = codec.New(nil)
	}
	return o.Codec
}
