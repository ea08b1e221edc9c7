package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/radekcihi/electrontrpc/pkg/codec"
	"github.com/radekcihi/electrontrpc/pkg/procedure"
	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

const testPrefix = "dispatcher:dispatcher_test"

type reqCtx struct {
	userName string
}

type helloInput struct {
	Text *string `json:"text"`
}

type helloOutput struct {
	Greeting string `json:"greeting"`
}

// harness bundles a registry with counters for handler and context calls.
type harness struct {
	reg       *procedure.Registry[reqCtx]
	handlers  atomic.Int32
	contexts  atomic.Int32
	ctxErr    error
	transform codec.Transformer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{reg: procedure.NewRegistry[reqCtx]()}

	must := func(err error) {
		if err != nil {
			t.Fatalf("%s - register failed: %v", testPrefix, err)
		}
	}
	must(procedure.Query(h.reg, "hello", nil, func(_ context.Context, c reqCtx, in helloInput) (helloOutput, error) {
		h.handlers.Add(1)
		text := "world"
		if in.Text != nil {
			text = *in.Text
		}
		return helloOutput{Greeting: "hello " + text + " from " + c.userName}, nil
	}))
	must(h.reg.Register("a", procedure.KindQuery, nil, func(context.Context, reqCtx, json.RawMessage) (any, error) {
		h.handlers.Add(1)
		return 1, nil
	}))
	must(h.reg.Register("b", procedure.KindQuery, nil, func(context.Context, reqCtx, json.RawMessage) (any, error) {
		h.handlers.Add(1)
		return nil, errors.New("b exploded")
	}))
	must(h.reg.Register("boom", procedure.KindQuery, nil, func(context.Context, reqCtx, json.RawMessage) (any, error) {
		h.handlers.Add(1)
		panic(42)
	}))
	must(h.reg.Register("echo", procedure.KindQuery, nil, func(_ context.Context, _ reqCtx, in json.RawMessage) (any, error) {
		h.handlers.Add(1)
		if len(in) == 0 {
			return "absent", nil
		}
		return in, nil
	}))
	must(h.reg.Register("save", procedure.KindMutation, nil, func(context.Context, reqCtx, json.RawMessage) (any, error) {
		h.handlers.Add(1)
		return true, nil
	}))
	return h
}

func (h *harness) opts(batching bool) Options[reqCtx] {
	return Options[reqCtx]{
		Registry: h.reg,
		Codec:    codec.New(h.transform),
		Batching: batching,
		CreateContext: func(context.Context, RequestMeta) (reqCtx, error) {
			h.contexts.Add(1)
			if h.ctxErr != nil {
				return reqCtx{}, h.ctxErr
			}
			return reqCtx{userName: "Example User"}, nil
		},
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("%s - marshal failed: %v", testPrefix, err)
	}
	return string(b)
}

func TestResolve_HelloQuery(t *testing.T) {
	h := newHarness(t)
	req := &codec.Request{ID: 1, Type: procedure.KindQuery, Path: "hello", Input: json.RawMessage(`{}`)}

	reply := Resolve(context.Background(), req, h.opts(true))

	want := `{"id":null,"result":{"type":"data","data":{"greeting":"hello world from Example User"}}}`
	if got := mustJSON(t, reply); got != want {
		t.Errorf("%s - got %s, want %s", testPrefix, got, want)
	}
	if len(reply.Errors) != 0 {
		t.Errorf("%s - expected no errors, got %v", testPrefix, reply.Errors)
	}
}

func TestResolve_BatchPartialFailure(t *testing.T) {
	h := newHarness(t)
	req := &codec.Request{ID: 2, Type: procedure.KindQuery, Path: "a,b", Input: json.RawMessage(`{"0":{},"1":{}}`), IsBatch: true}

	reply := Resolve(context.Background(), req, h.opts(true))

	if !reply.Batch || len(reply.Envelopes) != 2 {
		t.Fatalf("%s - expected 2 batch envelopes, got %+v", testPrefix, reply)
	}
	first, second := reply.Envelopes[0], reply.Envelopes[1]
	if first.Result == nil || string(first.Result.Data) != "1" {
		t.Errorf("%s - envelope 0 should hold data 1, got %+v", testPrefix, first)
	}
	if second.Error == nil || second.Error.Code != rpcerror.CodeInternal || second.Error.Message != "b exploded" {
		t.Errorf("%s - envelope 1 should hold INTERNAL b exploded, got %+v", testPrefix, second.Error)
	}
	if second.Error != nil && second.Error.Data.Path != "b" {
		t.Errorf("%s - expected error path b, got %q", testPrefix, second.Error.Data.Path)
	}
	if h.handlers.Load() != 2 {
		t.Errorf("%s - expected both handlers to run, ran %d", testPrefix, h.handlers.Load())
	}
	if len(reply.Errors) != 1 || reply.HTTPStatus() != 207 {
		t.Errorf("%s - expected one aggregated error and status 207, got %d / %d", testPrefix, len(reply.Errors), reply.HTTPStatus())
	}
}

func TestResolve_BatchingDisabled(t *testing.T) {
	h := newHarness(t)
	req := &codec.Request{ID: 3, Type: procedure.KindQuery, Path: "a,a", Input: json.RawMessage(`{"0":{},"1":{}}`), IsBatch: true}

	reply := Resolve(context.Background(), req, h.opts(false))

	if reply.Batch || len(reply.Envelopes) != 1 {
		t.Fatalf("%s - expected a single envelope, got %+v", testPrefix, reply)
	}
	if e := reply.Envelopes[0].Error; e == nil || e.Code != rpcerror.CodeBadRequest {
		t.Errorf("%s - expected BAD_REQUEST, got %+v", testPrefix, e)
	}
	if h.handlers.Load() != 0 || h.contexts.Load() != 0 {
		t.Errorf("%s - expected no handler and no context, got %d / %d", testPrefix, h.handlers.Load(), h.contexts.Load())
	}
}

func TestResolve_UnknownPath(t *testing.T) {
	h := newHarness(t)
	req := &codec.Request{ID: 4, Type: procedure.KindQuery, Path: "nope"}

	reply := Resolve(context.Background(), req, h.opts(true))

	e := reply.Envelopes[0].Error
	if e == nil || e.Code != rpcerror.CodeNotFound {
		t.Fatalf("%s - expected NOT_FOUND, got %+v", testPrefix, reply.Envelopes[0])
	}
	if e.Message != `No "query"-procedure on path "nope"` {
		t.Errorf("%s - unexpected message %q", testPrefix, e.Message)
	}
	if h.contexts.Load() != 1 {
		t.Errorf("%s - expected context built once, got %d", testPrefix, h.contexts.Load())
	}
}

func TestResolve_KindMismatch(t *testing.T) {
	h := newHarness(t)
	reply := Resolve(context.Background(), &codec.Request{Type: procedure.KindQuery, Path: "save"}, h.opts(true))
	if e := reply.Envelopes[0].Error; e == nil || e.Code != rpcerror.CodeNotFound {
		t.Errorf("%s - expected NOT_FOUND for query on a mutation, got %+v", testPrefix, e)
	}

	reply = Resolve(context.Background(), &codec.Request{Type: procedure.KindMutation, Path: "save"}, h.opts(true))
	if r := reply.Envelopes[0].Result; r == nil || string(r.Data) != "true" {
		t.Errorf("%s - expected mutation result true, got %+v", testPrefix, reply.Envelopes[0])
	}
}

func TestResolve_UnsupportedType(t *testing.T) {
	tests := []struct {
		name string
		kind procedure.Kind
	}{
		{"subscription", procedure.KindSubscription},
		{"unknown", procedure.Kind("stream")},
		{"empty", procedure.Kind("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			reply := Resolve(context.Background(), &codec.Request{Type: tt.kind, Path: "a"}, h.opts(true))
			if e := reply.Envelopes[0].Error; e == nil || e.Code != rpcerror.CodeMethodNotSupported {
				t.Errorf("%s - expected METHOD_NOT_SUPPORTED, got %+v", testPrefix, e)
			}
			if h.handlers.Load() != 0 || h.contexts.Load() != 0 {
				t.Errorf("%s - nothing should run for unsupported types", testPrefix)
			}
		})
	}
}

func TestResolve_ContextFailureShortCircuits(t *testing.T) {
	h := newHarness(t)
	h.ctxErr = rpcerror.New(rpcerror.CodeInternal, "store unavailable")
	req := &codec.Request{Type: procedure.KindQuery, Path: "a,a", Input: json.RawMessage(`{}`), IsBatch: true}

	reply := Resolve(context.Background(), req, h.opts(true))

	if reply.Batch || len(reply.Envelopes) != 1 {
		t.Fatalf("%s - expected one request-level envelope, got %+v", testPrefix, reply)
	}
	if e := reply.Envelopes[0].Error; e == nil || e.Message != "store unavailable" {
		t.Errorf("%s - expected context error, got %+v", testPrefix, e)
	}
	if h.handlers.Load() != 0 {
		t.Errorf("%s - no handler may run after a context failure", testPrefix)
	}
}

func TestResolve_BatchInputMustBeObject(t *testing.T) {
	inputs := []string{``, `null`, `[{},{}]`, `"x"`, `1`}
	for _, in := range inputs {
		t.Run("input="+in, func(t *testing.T) {
			h := newHarness(t)
			req := &codec.Request{Type: procedure.KindQuery, Path: "a,a", Input: json.RawMessage(in), IsBatch: true}
			reply := Resolve(context.Background(), req, h.opts(true))
			if reply.Batch || len(reply.Envelopes) != 1 {
				t.Fatalf("%s - expected single envelope, got %+v", testPrefix, reply)
			}
			if e := reply.Envelopes[0].Error; e == nil || e.Code != rpcerror.CodeBadRequest {
				t.Errorf("%s - expected BAD_REQUEST, got %+v", testPrefix, e)
			}
			if h.handlers.Load() != 0 {
				t.Errorf("%s - no handler may run on malformed batch input", testPrefix)
			}
		})
	}
}

func TestResolve_BatchMissingIndexIsAbsent(t *testing.T) {
	h := newHarness(t)
	req := &codec.Request{Type: procedure.KindQuery, Path: "echo,echo,echo", Input: json.RawMessage(`{"0":{"x":1},"2":null}`), IsBatch: true}

	reply := Resolve(context.Background(), req, h.opts(true))

	want := []string{`{"x":1}`, `"absent"`, `null`}
	for i, w := range want {
		r := reply.Envelopes[i].Result
		if r == nil || string(r.Data) != w {
			t.Errorf("%s - envelope %d = %+v, want data %s", testPrefix, i, reply.Envelopes[i], w)
		}
	}
}

func TestResolve_PanicIsolated(t *testing.T) {
	h := newHarness(t)
	req := &codec.Request{Type: procedure.KindQuery, Path: "boom,a", Input: json.RawMessage(`{}`), IsBatch: true}

	reply := Resolve(context.Background(), req, h.opts(true))

	if e := reply.Envelopes[0].Error; e == nil || e.Code != rpcerror.CodeInternal || e.Cause != 42 {
		t.Errorf("%s - expected INTERNAL with cause 42, got %+v", testPrefix, e)
	}
	if r := reply.Envelopes[1].Result; r == nil || string(r.Data) != "1" {
		t.Errorf("%s - sibling of a panicking call must still succeed, got %+v", testPrefix, reply.Envelopes[1])
	}
}

func TestResolve_InputDecodedWithTransformer(t *testing.T) {
	h := newHarness(t)
	h.transform = codec.Wrapped{}

	req := &codec.Request{Type: procedure.KindQuery, Path: "hello", Input: json.RawMessage(`{"json":{"text":"there"}}`)}
	reply := Resolve(context.Background(), req, h.opts(true))
	r := reply.Envelopes[0].Result
	if r == nil || string(r.Data) != `{"json":{"greeting":"hello there from Example User"}}` {
		t.Errorf("%s - unexpected reply %s", testPrefix, mustJSON(t, reply))
	}

	bad := &codec.Request{Type: procedure.KindQuery, Path: "hello", Input: json.RawMessage(`{"text":"there"}`)}
	reply = Resolve(context.Background(), bad, h.opts(true))
	if e := reply.Envelopes[0].Error; e == nil || e.Code != rpcerror.CodeBadRequest {
		t.Errorf("%s - expected BAD_REQUEST for undecodable input, got %+v", testPrefix, e)
	}
	if h.handlers.Load() != 1 {
		t.Errorf("%s - handler must not run on undecodable input", testPrefix)
	}
}

func TestResolve_BatchRunsConcurrently(t *testing.T) {
	reg := procedure.NewRegistry[reqCtx]()
	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	wait := func(context.Context, reqCtx, json.RawMessage) (any, error) {
		arrived <- struct{}{}
		select {
		case <-release:
			return "ok", nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("sibling never started")
		}
	}
	_ = reg.Register("slow", procedure.KindQuery, nil, wait)

	go func() {
		<-arrived
		<-arrived
		close(release)
	}()

	req := &codec.Request{Type: procedure.KindQuery, Path: "slow,slow", Input: json.RawMessage(`{}`), IsBatch: true}
	reply := Resolve(context.Background(), req, Options[reqCtx]{Registry: reg, Batching: true})

	for i, env := range reply.Envelopes {
		if env.Result == nil {
			t.Errorf("%s - envelope %d failed: %+v", testPrefix, i, env.Error)
		}
	}
}

func TestResolve_MaxConcurrency(t *testing.T) {
	reg := procedure.NewRegistry[reqCtx]()
	var inFlight, peak atomic.Int32
	_ = reg.Register("work", procedure.KindQuery, nil, func(context.Context, reqCtx, json.RawMessage) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	})

	req := &codec.Request{Type: procedure.KindQuery, Path: "work,work,work,work", Input: json.RawMessage(`{}`), IsBatch: true}
	reply := Resolve(context.Background(), req, Options[reqCtx]{Registry: reg, Batching: true, MaxConcurrency: 2})

	if len(reply.Envelopes) != 4 {
		t.Fatalf("%s - expected 4 envelopes, got %d", testPrefix, len(reply.Envelopes))
	}
	if peak.Load() > 2 {
		t.Errorf("%s - peak concurrency %d exceeds limit 2", testPrefix, peak.Load())
	}
}

func TestResolve_OnErrorHook(t *testing.T) {
	h := newHarness(t)
	var seen []string
	opts := h.opts(true)
	opts.OnError = func(e *rpcerror.Error, meta codec.CallMeta) {
		seen = append(seen, meta.Path+":"+string(e.Code))
	}

	req := &codec.Request{Type: procedure.KindQuery, Path: "b", Input: json.RawMessage(`{}`)}
	Resolve(context.Background(), req, opts)

	if len(seen) != 1 || seen[0] != "b:INTERNAL" {
		t.Errorf("%s - unexpected hook calls %v", testPrefix, seen)
	}
}

func TestDispatcher_HandleMessage(t *testing.T) {
	h := newHarness(t)
	d := New(h.opts(true))

	t.Run("stamps request id", func(t *testing.T) {
		out := d.HandleMessage(context.Background(), []byte(`{"id":9,"type":"query","path":"a,b","input":{"0":{},"1":{}},"isBatch":true}`))
		var envs []codec.Envelope
		if err := json.Unmarshal(out, &envs); err != nil {
			t.Fatalf("%s - reply is not an array: %s", testPrefix, out)
		}
		for i, env := range envs {
			if env.ID == nil || *env.ID != 9 {
				t.Errorf("%s - envelope %d not stamped with id 9", testPrefix, i)
			}
		}
	})

	t.Run("parse error", func(t *testing.T) {
		out := d.HandleMessage(context.Background(), []byte(`{"id":`))
		var env codec.Envelope
		if err := json.Unmarshal(out, &env); err != nil {
			t.Fatalf("%s - reply is not an envelope: %s", testPrefix, out)
		}
		if env.ID != nil {
			t.Errorf("%s - parse error reply must carry a null id", testPrefix)
		}
		if env.Error == nil || env.Error.Code != rpcerror.CodeParseError {
			t.Errorf("%s - expected PARSE_ERROR, got %+v", testPrefix, env.Error)
		}
	})

	t.Run("unencodable output", func(t *testing.T) {
		reg := procedure.NewRegistry[reqCtx]()
		_ = reg.Register("chan", procedure.KindQuery, nil, func(context.Context, reqCtx, json.RawMessage) (any, error) {
			return make(chan int), nil
		})
		out := New(Options[reqCtx]{Registry: reg}).HandleMessage(context.Background(), []byte(`{"id":1,"type":"query","path":"chan"}`))
		var env codec.Envelope
		_ = json.Unmarshal(out, &env)
		if env.Error == nil || env.Error.Code != rpcerror.CodeInternal {
			t.Errorf("%s - expected INTERNAL for unencodable output, got %s", testPrefix, out)
		}
	})
}

type explodingResult struct{}

func (explodingResult) MarshalJSON() ([]byte, error) { panic("marshal boom") }

func TestResolve_ResultEncodingPanicIsolated(t *testing.T) {
	h := newHarness(t)
	_ = h.reg.Register("explode", procedure.KindQuery, nil, func(context.Context, reqCtx, json.RawMessage) (any, error) {
		return explodingResult{}, nil
	})
	var hooked []rpcerror.Code
	opts := h.opts(true)
	opts.OnError = func(e *rpcerror.Error, _ codec.CallMeta) { hooked = append(hooked, e.Code) }

	req := &codec.Request{Type: procedure.KindQuery, Path: "a,explode", Input: json.RawMessage(`{}`), IsBatch: true}
	reply := Resolve(context.Background(), req, opts)

	if r := reply.Envelopes[0].Result; r == nil || string(r.Data) != "1" {
		t.Errorf("%s - sibling must still return data, got %+v", testPrefix, reply.Envelopes[0])
	}
	e := reply.Envelopes[1].Error
	if e == nil || e.Code != rpcerror.CodeInternal || e.Message != "marshal boom" {
		t.Errorf("%s - expected INTERNAL marshal boom, got %+v", testPrefix, e)
	}
	if len(reply.Errors) != 1 || reply.HTTPStatus() != 207 {
		t.Errorf("%s - expected one aggregated error and status 207, got %d / %d", testPrefix, len(reply.Errors), reply.HTTPStatus())
	}
	if len(hooked) != 1 || hooked[0] != rpcerror.CodeInternal {
		t.Errorf("%s - unexpected hook calls %v", testPrefix, hooked)
	}
}

func TestResolve_TypedNilHandlerError(t *testing.T) {
	h := newHarness(t)
	_ = h.reg.Register("typednil", procedure.KindQuery, nil, func(context.Context, reqCtx, json.RawMessage) (any, error) {
		var e *rpcerror.Error
		return nil, e
	})
	var hooked []*rpcerror.Error
	opts := h.opts(true)
	opts.OnError = func(e *rpcerror.Error, _ codec.CallMeta) { hooked = append(hooked, e) }

	reply := Resolve(context.Background(), &codec.Request{Type: procedure.KindQuery, Path: "typednil"}, opts)

	if e := reply.Envelopes[0].Error; e == nil || e.Code != rpcerror.CodeInternal {
		t.Fatalf("%s - expected INTERNAL envelope, got %+v", testPrefix, reply.Envelopes[0])
	}
	if len(reply.Errors) != 1 || reply.Errors[0] == nil {
		t.Fatalf("%s - failure must be aggregated, got %v", testPrefix, reply.Errors)
	}
	if reply.HTTPStatus() != 500 {
		t.Errorf("%s - status = %d, want 500", testPrefix, reply.HTTPStatus())
	}
	if len(hooked) != 1 || hooked[0] == nil {
		t.Errorf("%s - hook must receive a non-nil error, got %v", testPrefix, hooked)
	}
}
