package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/radekcihi/electrontrpc/pkg/codec"
	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

// outcome is what one call produced.
type outcome struct {
	env codec.Envelope
	err *rpcerror.Error
}

// resolveCalls invokes every call concurrently and collects the envelopes in
// call order. A failing call never cancels or hides its siblings.
func resolveCalls[C any](ctx context.Context, req *codec.Request, calls []call, c C, opts Options[C]) codec.Reply {
	results := make([]outcome, len(calls))

	var g errgroup.Group
	if opts.MaxConcurrency > 0 {
		g.SetLimit(opts.MaxConcurrency)
	}
	for i := range calls {
		i := i
		g.Go(func() error {
			results[i] = runCall(ctx, req, calls[i], c, opts)
			return nil
		})
	}
	_ = g.Wait()

	reply := codec.Reply{Batch: req.IsBatch, Envelopes: make([]codec.Envelope, len(results))}
	for i, r := range results {
		reply.Envelopes[i] = r.env
		if r.err != nil {
			reply.Errors = append(reply.Errors, r.err)
		}
	}
	slog.Debug(fmt.Sprintf("%s - id=%d resolved %d call(s), %d failed", logPrefix, req.ID, len(calls), len(reply.Errors)))
	return reply
}

// runCall invokes one call and encodes its result. A panic while encoding the
// result fails only this call.
func runCall[C any](ctx context.Context, req *codec.Request, cl call, c C, opts Options[C]) (res outcome) {
	cd := opts.codec()
	meta := codec.CallMeta{Path: cl.path, Type: req.Type, Input: cl.input}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error(fmt.Sprintf("%s - panic encoding result of %s: %v", logPrefix, cl.path, rec))
			res = failedCall(rpcerror.Wrap(rpcerror.CodeInternal, rec, ""), meta, opts)
		}
	}()

	out, err := opts.Registry.Call(ctx, req.Type, cl.path, c, cl.input)
	if err == nil {
		data, encErr := cd.EncodeOutput(out)
		if encErr == nil {
			return outcome{env: codec.DataEnvelope(data)}
		}
		err = encErr
	}
	return failedCall(err, meta, opts)
}

func failedCall[C any](err any, meta codec.CallMeta, opts Options[C]) outcome {
	e := rpcerror.From(err)
	if opts.OnError != nil {
		opts.OnError(e, meta)
	}
	return outcome{env: codec.ErrorEnvelope(opts.codec().ShapeError(e, meta)), err: e}
}
