// Package codec serializes call inputs and results through a pluggable
// Transformer and shapes failures into the uniform error envelope.
package codec

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/radekcihi/electrontrpc/pkg/procedure"
	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

const logPrefix = "codec:codec"

// CallMeta identifies the call an error belongs to.
type CallMeta struct {
	Path  string
	Type  procedure.Kind
	Input json.RawMessage
}

// Option configures a Codec.
type Option func(*Codec)

// WithStack includes error stack traces in shaped errors.
func WithStack(include bool) Option {
	return func(c *Codec) { c.includeStack = include }
}

// Codec applies one Transformer symmetrically on both ends of the bridge.
type Codec struct {
	transformer  Transformer
	includeStack bool
}

// New creates a Codec. A nil transformer means Identity.
func New(t Transformer, opts ...Option) *Codec {
	if t == nil {
		t = Identity{}
	}
	c := &Codec{transformer: t}
	for _, o := range opts {
		o(c)
	}
	return c
}

// DecodeInput deserializes a raw call input. Absent input passes through
// untouched; JSON null counts as present.
func (c *Codec) DecodeInput(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	out, err := c.transformer.Deserialize(raw)
	if err != nil {
		return nil, rpcerror.Wrap(rpcerror.CodeBadRequest, err, "")
	}
	return out, nil
}

// EncodeInput is the renderer-side counterpart of DecodeInput. A nil value
// yields no input at all.
func (c *Codec) EncodeInput(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - encode input: %w", logPrefix, err)
	}
	return c.transformer.Serialize(raw)
}

// EncodeOutput serializes a handler result for the wire.
func (c *Codec) EncodeOutput(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - encode output: %w", logPrefix, err)
	}
	return c.transformer.Serialize(raw)
}

// DecodeOutput is the renderer-side counterpart of EncodeOutput.
func (c *Codec) DecodeOutput(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	return c.transformer.Deserialize(raw)
}

// ShapeError normalizes any failure value into its wire shape. Shapes are
// plain JSON on the wire and never pass through the transformer.
func (c *Codec) ShapeError(v any, meta CallMeta) *rpcerror.Shape {
	e := rpcerror.From(v)
	if e == nil {
		e = rpcerror.New(rpcerror.CodeInternal, "unknown error")
	}
	slog.Debug(fmt.Sprintf("%s - shaped error path=%s type=%s code=%s: %s", logPrefix, meta.Path, meta.Type, e.Code, e.Message))
	return e.Shape(meta.Path, c.includeStack)
}
