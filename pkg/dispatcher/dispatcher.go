package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/radekcihi/electrontrpc/pkg/codec"
	"github.com/radekcihi/electrontrpc/pkg/procedure"
	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

const logPrefix = "dispatcher:dispatch"

// call is one (path, input) pair split out of a request.
type call struct {
	path  string
	input json.RawMessage
}

// Resolve runs one request to completion and returns its reply. It never
// fails: every problem ends up as an error envelope.
//
// Request-level problems (batching disabled, unsupported type, context
// construction, malformed batch input, undecodable input) short-circuit with
// a single error envelope and no handler runs. Past that point every call is
// isolated and produces its own envelope.
func Resolve[C any](ctx context.Context, req *codec.Request, opts Options[C]) codec.Reply {
	cd := opts.codec()
	meta := codec.CallMeta{Path: req.Path, Type: req.Type, Input: req.Input}

	slog.Debug(fmt.Sprintf("%s - id=%d type=%s path=%s batch=%t", logPrefix, req.ID, req.Type, req.Path, req.IsBatch))

	if req.IsBatch && !opts.Batching {
		return requestFailure(rpcerror.New(rpcerror.CodeBadRequest, "Batching is not enabled on this server"), meta, opts)
	}
	if req.Type != procedure.KindQuery && req.Type != procedure.KindMutation {
		return requestFailure(rpcerror.Newf(rpcerror.CodeMethodNotSupported, "Unsupported procedure type %q", req.Type), meta, opts)
	}
	if opts.Registry == nil {
		return requestFailure(rpcerror.New(rpcerror.CodeInternal, "no procedure registry configured"), meta, opts)
	}

	paths := []string{req.Path}
	if req.IsBatch {
		paths = strings.Split(req.Path, ",")
	}

	var c C
	if opts.CreateContext != nil {
		built, err := opts.CreateContext(ctx, RequestMeta{Request: req, Transport: opts.Transport})
		if err != nil {
			slog.Error(fmt.Sprintf("%s - create context for %s: %v", logPrefix, req.Path, err))
			return requestFailure(err, meta, opts)
		}
		c = built
	}

	rawInputs, err := splitInputs(req, len(paths))
	if err != nil {
		return requestFailure(err, meta, opts)
	}

	calls := make([]call, len(paths))
	for i, p := range paths {
		in, err := cd.DecodeInput(rawInputs[i])
		if err != nil {
			return requestFailure(err, meta, opts)
		}
		calls[i] = call{path: p, input: in}
	}

	return resolveCalls(ctx, req, calls, c, opts)
}

// splitInputs returns one raw input per call. A batch input must be an object
// keyed by call index; a missing index means that call has no input.
func splitInputs(req *codec.Request, n int) ([]json.RawMessage, error) {
	if !req.IsBatch {
		return []json.RawMessage{req.Input}, nil
	}

	trimmed := bytes.TrimSpace(req.Input)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, rpcerror.New(rpcerror.CodeBadRequest, `"input" needs to be an object when doing a batch call`)
	}
	var byIndex map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &byIndex); err != nil {
		return nil, rpcerror.Wrap(rpcerror.CodeBadRequest, err, `"input" needs to be an object when doing a batch call`)
	}

	out := make([]json.RawMessage, n)
	for i := range out {
		out[i] = byIndex[strconv.Itoa(i)]
	}
	return out, nil
}

// requestFailure builds the single-envelope reply of a request that never
// reached its handlers.
func requestFailure[C any](err any, meta codec.CallMeta, opts Options[C]) codec.Reply {
	e := rpcerror.From(err)
	if opts.OnError != nil {
		opts.OnError(e, meta)
	}
	return codec.Reply{
		Envelopes: []codec.Envelope{codec.ErrorEnvelope(opts.codec().ShapeError(e, meta))},
		Errors:    []*rpcerror.Error{e},
	}
}

// Dispatcher decodes raw request bytes, resolves them and encodes the reply
// with the request id stamped on every envelope.
type Dispatcher[C any] struct {
	opts Options[C]
}

// New creates a Dispatcher.
func New[C any](opts Options[C]) *Dispatcher[C] {
	opts.codec()
	return &Dispatcher[C]{opts: opts}
}

// Options returns the options the dispatcher was built with.
func (d *Dispatcher[C]) Options() Options[C] { return d.opts }

// Resolve is the package-level Resolve bound to d's options.
func (d *Dispatcher[C]) Resolve(ctx context.Context, req *codec.Request) codec.Reply {
	return Resolve(ctx, req, d.opts)
}

// HandleMessage is the byte-level entry point used by message bindings.
// Undecodable input yields a PARSE_ERROR envelope with a null id.
func (d *Dispatcher[C]) HandleMessage(ctx context.Context, data []byte) []byte {
	var req codec.Request
	if err := json.Unmarshal(data, &req); err != nil {
		slog.Warn(fmt.Sprintf("%s - undecodable request: %v", logPrefix, err))
		reply := requestFailure(rpcerror.Wrap(rpcerror.CodeParseError, err, "Unable to parse request: "+err.Error()), codec.CallMeta{}, d.opts)
		return d.Encode(reply)
	}

	reply := d.Resolve(ctx, &req)
	reply.StampID(req.ID)
	return d.Encode(reply)
}

// Encode marshals reply in its wire form. A reply that cannot be marshalled
// is replaced by an INTERNAL error envelope carrying the same id.
func (d *Dispatcher[C]) Encode(reply codec.Reply) []byte {
	out, err := json.Marshal(reply)
	if err == nil {
		return out
	}
	slog.Error(fmt.Sprintf("%s - encode reply: %v", logPrefix, err))
	e := rpcerror.Wrap(rpcerror.CodeInternal, err, "")
	fallback := codec.Reply{Envelopes: []codec.Envelope{codec.ErrorEnvelope(d.opts.codec().ShapeError(e, codec.CallMeta{}))}}
	if len(reply.Envelopes) > 0 && reply.Envelopes[0].ID != nil {
		fallback.StampID(*reply.Envelopes[0].ID)
	}
	out, _ = json.Marshal(fallback)
	return out
}
