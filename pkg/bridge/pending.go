package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

// PendingCall is the call site of one operation. It resolves exactly once:
// the first of reply, Abort or caller context cancellation wins and every
// later signal is ignored.
type PendingCall struct {
	ID   int64
	Path string

	once sync.Once
	done chan struct{}
	data json.RawMessage
	err  *rpcerror.Error

	stopAfter func() bool
	onResolve func()
}

func newPendingCall(ctx context.Context, id int64, path string, onResolve func()) *PendingCall {
	p := &PendingCall{ID: id, Path: path, done: make(chan struct{}), onResolve: onResolve}
	p.stopAfter = context.AfterFunc(ctx, func() {
		p.resolve(nil, abortError(ctx))
	})
	return p
}

// resolve settles the call and reports whether this signal was the winner.
func (p *PendingCall) resolve(data json.RawMessage, err *rpcerror.Error) bool {
	won := false
	p.once.Do(func() {
		won = true
		p.data = data
		p.err = err
		close(p.done)
		if p.onResolve != nil {
			p.onResolve()
		}
	})
	return won
}

// release drops the caller context hook. Only the goroutine that owns the
// channel request calls it.
func (p *PendingCall) release() {
	if p.stopAfter != nil {
		p.stopAfter()
	}
}

// Abort resolves the call with an ABORTED error unless it already resolved.
// The host keeps running the call; only the local call site gives up.
func (p *PendingCall) Abort() {
	p.resolve(nil, rpcerror.Aborted())
}

// Done is closed once the call resolves.
func (p *PendingCall) Done() <-chan struct{} { return p.done }

// Wait blocks until the call resolves and returns its data or error.
func (p *PendingCall) Wait() (json.RawMessage, error) {
	<-p.done
	if p.err != nil {
		return nil, p.err
	}
	return p.data, nil
}

// Decode waits for the call and unmarshals its data into v.
func (p *PendingCall) Decode(v any) error {
	data, err := p.Wait()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return rpcerror.Wrap(rpcerror.CodeParseError, err, "Unable to decode result of "+p.Path+": "+err.Error())
	}
	return nil
}

func abortError(ctx context.Context) *rpcerror.Error {
	if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		return rpcerror.Wrap(rpcerror.CodeTimeout, context.Cause(ctx), "")
	}
	return rpcerror.Aborted()
}
