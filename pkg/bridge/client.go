package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/radekcihi/electrontrpc/pkg/codec"
	"github.com/radekcihi/electrontrpc/pkg/procedure"
	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

const logPrefix = "bridge:client"

// Operation is one call a renderer wants to make.
type Operation struct {
	Type  procedure.Kind
	Path  string
	Input any
}

// Option configures a Client.
type Option func(*Client)

// WithCodec sets the codec used for inputs and results. It must match the
// host's transformer.
func WithCodec(cd *codec.Codec) Option {
	return func(c *Client) { c.codec = cd }
}

// Client sends operations over a Channel.
type Client struct {
	ch     Channel
	codec  *codec.Codec
	nextID atomic.Int64
}

// NewClient creates a Client on ch.
func NewClient(ch Channel, opts ...Option) *Client {
	c := &Client{ch: ch, codec: codec.New(nil)}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Send issues op and returns its call site immediately. Cancelling ctx or
// calling Abort resolves the call with an error; the host is not told and
// finishes its work regardless.
func (c *Client) Send(ctx context.Context, op Operation) *PendingCall {
	id := c.nextID.Add(1)
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := newPendingCall(ctx, id, op.Path, cancel)

	input, err := c.codec.EncodeInput(op.Input)
	if err != nil {
		p.resolve(nil, rpcerror.Wrap(rpcerror.CodeBadRequest, err, ""))
		p.release()
		return p
	}
	payload, err := json.Marshal(codec.Request{ID: id, Type: op.Type, Path: op.Path, Input: input})
	if err != nil {
		p.resolve(nil, rpcerror.Wrap(rpcerror.CodeBadRequest, err, ""))
		p.release()
		return p
	}

	go func() {
		defer p.release()
		defer cancel()

		data, err := c.ch.Request(reqCtx, payload)
		if err != nil {
			if p.resolve(nil, transportError(err)) {
				slog.Warn(fmt.Sprintf("%s - %s %s failed on the channel: %v", logPrefix, op.Type, op.Path, err))
			}
			return
		}

		var reply codec.Reply
		if err := json.Unmarshal(data, &reply); err != nil {
			p.resolve(nil, rpcerror.Wrap(rpcerror.CodeParseError, err, "Unable to parse reply: "+err.Error()))
			return
		}
		if reply.Batch {
			p.resolve(nil, rpcerror.New(rpcerror.CodeTransport, "Received a batch reply to a single call"))
			return
		}
		out, rerr := c.settle(reply.Envelopes[0], id)
		if !p.resolve(out, rerr) {
			slog.Debug(fmt.Sprintf("%s - ignoring late reply for id=%d", logPrefix, id))
		}
	}()
	return p
}

// SendBatch coalesces ops into one request per procedure type and returns a
// call site per op, in op order. Each call site resolves and aborts
// independently.
func (c *Client) SendBatch(ctx context.Context, ops []Operation) []*PendingCall {
	calls := make([]*PendingCall, len(ops))

	groups := make(map[procedure.Kind][]int)
	var order []procedure.Kind
	for i, op := range ops {
		if _, ok := groups[op.Type]; !ok {
			order = append(order, op.Type)
		}
		groups[op.Type] = append(groups[op.Type], i)
	}

	for _, kind := range order {
		c.sendGroup(ctx, kind, groups[kind], ops, calls)
	}
	return calls
}

func (c *Client) sendGroup(ctx context.Context, kind procedure.Kind, idx []int, ops []Operation, calls []*PendingCall) {
	id := c.nextID.Add(1)
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var remaining atomic.Int32
	remaining.Store(int32(len(idx)))
	onResolve := func() {
		if remaining.Add(-1) == 0 {
			cancel()
		}
	}

	group := make([]*PendingCall, len(idx))
	paths := make([]string, len(idx))
	inputs := make(map[string]json.RawMessage, len(idx))
	var badInput bool
	for j, i := range idx {
		op := ops[i]
		p := newPendingCall(ctx, id, op.Path, onResolve)
		group[j], calls[i], paths[j] = p, p, op.Path

		if strings.Contains(op.Path, ",") {
			p.resolve(nil, rpcerror.Newf(rpcerror.CodeBadRequest, "Path %q cannot be batched", op.Path))
			badInput = true
			continue
		}
		raw, err := c.codec.EncodeInput(op.Input)
		if err != nil {
			p.resolve(nil, rpcerror.Wrap(rpcerror.CodeBadRequest, err, ""))
			badInput = true
			continue
		}
		if raw != nil {
			inputs[strconv.Itoa(j)] = raw
		}
	}

	failAll := func(e *rpcerror.Error) {
		for _, p := range group {
			p.resolve(nil, e)
		}
	}
	releaseAll := func() {
		for _, p := range group {
			p.release()
		}
	}

	if badInput {
		failAll(rpcerror.New(rpcerror.CodeBadRequest, "Batch not sent: a sibling call has invalid input"))
		releaseAll()
		return
	}

	inputRaw, _ := json.Marshal(inputs)
	payload, err := json.Marshal(codec.Request{ID: id, Type: kind, Path: strings.Join(paths, ","), Input: inputRaw, IsBatch: true})
	if err != nil {
		failAll(rpcerror.Wrap(rpcerror.CodeBadRequest, err, ""))
		releaseAll()
		return
	}

	go func() {
		defer releaseAll()
		defer cancel()

		data, err := c.ch.Request(reqCtx, payload)
		if err != nil {
			failAll(transportError(err))
			return
		}

		var reply codec.Reply
		if err := json.Unmarshal(data, &reply); err != nil {
			failAll(rpcerror.Wrap(rpcerror.CodeParseError, err, "Unable to parse reply: "+err.Error()))
			return
		}
		if !reply.Batch {
			// request-level failure applies to every call of the batch
			_, e := c.settle(reply.Envelopes[0], id)
			if e == nil {
				e = rpcerror.New(rpcerror.CodeTransport, "Received a single reply to a batch call")
			}
			failAll(e)
			return
		}
		if len(reply.Envelopes) != len(group) {
			failAll(rpcerror.Newf(rpcerror.CodeTransport, "Batch reply has %d envelopes, expected %d", len(reply.Envelopes), len(group)))
			return
		}
		for j, env := range reply.Envelopes {
			group[j].resolve(c.settle(env, id))
		}
	}()
}

// settle turns one received envelope into call data or a call error.
func (c *Client) settle(env codec.Envelope, id int64) (json.RawMessage, *rpcerror.Error) {
	if env.ID != nil && *env.ID != id {
		return nil, rpcerror.Newf(rpcerror.CodeTransport, "Reply id %d does not match request id %d", *env.ID, id)
	}
	if env.Error != nil {
		return nil, rpcerror.FromShape(env.Error)
	}
	if env.Result == nil {
		return nil, rpcerror.New(rpcerror.CodeTransport, "Reply carries neither result nor error")
	}
	data, err := c.codec.DecodeOutput(env.Result.Data)
	if err != nil {
		return nil, rpcerror.Wrap(rpcerror.CodeParseError, err, "")
	}
	return data, nil
}

// Log forwards a client-side error message to the host log.
func (c *Client) Log(ctx context.Context, message string) error {
	n, ok := c.ch.(Notifier)
	if !ok {
		return fmt.Errorf("%s - channel does not support log messages", logPrefix)
	}
	data, err := json.Marshal(codec.LogMessage{Message: message})
	if err != nil {
		return fmt.Errorf("%s - encode log message: %w", logPrefix, err)
	}
	return n.Notify(ctx, data)
}

// Query sends a query and decodes its result into O.
func Query[O any](ctx context.Context, c *Client, path string, input any) (O, error) {
	var out O
	err := c.Send(ctx, Operation{Type: procedure.KindQuery, Path: path, Input: input}).Decode(&out)
	return out, err
}

// Mutation sends a mutation and decodes its result into O.
func Mutation[O any](ctx context.Context, c *Client, path string, input any) (O, error) {
	var out O
	err := c.Send(ctx, Operation{Type: procedure.KindMutation, Path: path, Input: input}).Decode(&out)
	return out, err
}
