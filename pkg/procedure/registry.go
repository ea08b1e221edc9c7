// Package procedure maps procedure paths to handlers.
//
// A Registry is filled once at startup and only read afterwards. C is the
// per-request context type built by the host's context factory and handed to
// every handler of that request.
package procedure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

const logPrefix = "procedure:registry"

// Kind is the procedure type of a call.
type Kind string

const (
	KindQuery        Kind = "query"
	KindMutation     Kind = "mutation"
	KindSubscription Kind = "subscription"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindQuery, KindMutation, KindSubscription:
		return true
	}
	return false
}

// Handler runs one call. input is the decoded raw JSON input, empty when the
// caller sent none.
type Handler[C any] func(ctx context.Context, c C, input json.RawMessage) (any, error)

// Validator checks a raw input before the handler runs.
type Validator func(input json.RawMessage) error

// Definition is one registered procedure.
type Definition[C any] struct {
	Path     string
	Kind     Kind
	Validate Validator
	Handler  Handler[C]
}

// Registry holds procedure definitions keyed by path.
type Registry[C any] struct {
	mu   sync.RWMutex
	defs map[string]*Definition[C]
}

// NewRegistry creates an empty Registry.
func NewRegistry[C any]() *Registry[C] {
	return &Registry[C]{defs: make(map[string]*Definition[C])}
}

// Register stores a definition. Paths are unique; registering one twice is an
// error.
func (r *Registry[C]) Register(path string, kind Kind, validate Validator, h Handler[C]) error {
	if path == "" {
		return fmt.Errorf("%s - empty procedure path", logPrefix)
	}
	if !kind.Valid() {
		return fmt.Errorf("%s - invalid kind %q for %s", logPrefix, kind, path)
	}
	if h == nil {
		return fmt.Errorf("%s - nil handler for %s", logPrefix, path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[path]; ok {
		return fmt.Errorf("%s - duplicate procedure %s", logPrefix, path)
	}
	r.defs[path] = &Definition[C]{Path: path, Kind: kind, Validate: validate, Handler: h}
	slog.Debug(fmt.Sprintf("%s - registered %s %s", logPrefix, kind, path))
	return nil
}

// Resolve looks up the definition for path.
func (r *Registry[C]) Resolve(path string) (*Definition[C], error) {
	r.mu.RLock()
	def, ok := r.defs[path]
	r.mu.RUnlock()
	if !ok {
		return nil, rpcerror.Newf(rpcerror.CodeNotFound, "No procedure on path %q", path)
	}
	return def, nil
}

// Paths returns every registered path, sorted.
func (r *Registry[C]) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for p := range r.defs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Call resolves path, checks that it was registered with kind, validates the
// input and runs the handler. A panicking handler is reported as an internal
// error carrying the panic value.
func (r *Registry[C]) Call(ctx context.Context, kind Kind, path string, c C, input json.RawMessage) (out any, err error) {
	r.mu.RLock()
	def, ok := r.defs[path]
	r.mu.RUnlock()
	if !ok || def.Kind != kind {
		return nil, rpcerror.Newf(rpcerror.CodeNotFound, "No %q-procedure on path %q", kind, path)
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error(fmt.Sprintf("%s - panic in %s: %v", logPrefix, path, rec))
			out = nil
			err = rpcerror.Wrap(rpcerror.CodeInternal, rec, "")
		}
	}()

	if def.Validate != nil {
		if err := def.Validate(input); err != nil {
			return nil, asBadRequest(err)
		}
	}
	return def.Handler(ctx, c, input)
}

// asBadRequest keeps tagged errors and turns anything else into BAD_REQUEST.
func asBadRequest(err error) error {
	var tagged *rpcerror.Error
	if errors.As(err, &tagged) {
		return err
	}
	return rpcerror.Wrap(rpcerror.CodeBadRequest, err, "")
}
