package procedure

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

// Query registers a query whose input decodes into I. validate may be nil.
func Query[C, I, O any](r *Registry[C], path string, validate func(I) error, fn func(ctx context.Context, c C, in I) (O, error)) error {
	return register(r, path, KindQuery, validate, fn)
}

// Mutation registers a mutation whose input decodes into I. validate may be nil.
func Mutation[C, I, O any](r *Registry[C], path string, validate func(I) error, fn func(ctx context.Context, c C, in I) (O, error)) error {
	return register(r, path, KindMutation, validate, fn)
}

func register[C, I, O any](r *Registry[C], path string, kind Kind, validate func(I) error, fn func(context.Context, C, I) (O, error)) error {
	h := func(ctx context.Context, c C, raw json.RawMessage) (any, error) {
		in, err := DecodeInput[I](raw)
		if err != nil {
			return nil, err
		}
		if validate != nil {
			if err := validate(in); err != nil {
				return nil, asBadRequest(err)
			}
		}
		return fn(ctx, c, in)
	}
	return r.Register(path, kind, nil, h)
}

// DecodeInput strictly decodes raw into a value of type I. Absent or null
// input yields the zero value; unknown fields are rejected.
func DecodeInput[I any](raw json.RawMessage) (I, error) {
	var in I
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return in, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return in, rpcerror.Wrap(rpcerror.CodeBadRequest, err, "invalid input: "+err.Error())
	}
	return in, nil
}
