package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Transformer converts payload JSON to and from its wire representation. It
// lets both ends agree on encodings the plain JSON value cannot express.
type Transformer interface {
	Serialize(raw json.RawMessage) (json.RawMessage, error)
	Deserialize(raw json.RawMessage) (json.RawMessage, error)
}

// Transformer names accepted by Lookup.
const (
	TransformerIdentity = "identity"
	TransformerWrapped  = "wrapped"
	TransformerZstd     = "zstd"
)

// Lookup returns the transformer registered under name. An empty name selects
// Identity.
func Lookup(name string) (Transformer, error) {
	switch name {
	case "", TransformerIdentity:
		return Identity{}, nil
	case TransformerWrapped:
		return Wrapped{}, nil
	case TransformerZstd:
		return NewZstd(), nil
	}
	return nil, fmt.Errorf("%s - unknown transformer %q", logPrefix, name)
}

// Identity leaves payloads untouched.
type Identity struct{}

func (Identity) Serialize(raw json.RawMessage) (json.RawMessage, error)   { return raw, nil }
func (Identity) Deserialize(raw json.RawMessage) (json.RawMessage, error) { return raw, nil }

// Wrapped nests every payload under a "json" key, matching clients that send
// {"json": value, "meta": {...}} style payloads.
type Wrapped struct{}

type wrappedPayload struct {
	JSON json.RawMessage `json:"json"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

func (Wrapped) Serialize(raw json.RawMessage) (json.RawMessage, error) {
	if isNull(raw) {
		return raw, nil
	}
	return json.Marshal(wrappedPayload{JSON: raw})
}

func (Wrapped) Deserialize(raw json.RawMessage) (json.RawMessage, error) {
	if isNull(raw) {
		return raw, nil
	}
	var p wrappedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%s - wrapped payload: %w", logPrefix, err)
	}
	if p.JSON == nil {
		return nil, fmt.Errorf("%s - wrapped payload has no \"json\" key", logPrefix)
	}
	return p.JSON, nil
}

// Zstd compresses payloads and carries them as base64 JSON strings.
type Zstd struct {
	once sync.Once
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	err  error
}

// NewZstd returns a Zstd transformer. Encoder and decoder are created lazily
// and are safe for concurrent use.
func NewZstd() *Zstd {
	return &Zstd{}
}

func (z *Zstd) init() error {
	z.once.Do(func() {
		z.enc, z.err = zstd.NewWriter(nil)
		if z.err != nil {
			return
		}
		z.dec, z.err = zstd.NewReader(nil)
	})
	return z.err
}

func (z *Zstd) Serialize(raw json.RawMessage) (json.RawMessage, error) {
	if isNull(raw) {
		return raw, nil
	}
	if err := z.init(); err != nil {
		return nil, fmt.Errorf("%s - zstd init: %w", logPrefix, err)
	}
	compressed := z.enc.EncodeAll(raw, nil)
	return json.Marshal(base64.StdEncoding.EncodeToString(compressed))
}

func (z *Zstd) Deserialize(raw json.RawMessage) (json.RawMessage, error) {
	if isNull(raw) {
		return raw, nil
	}
	if err := z.init(); err != nil {
		return nil, fmt.Errorf("%s - zstd init: %w", logPrefix, err)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%s - zstd payload must be a string: %w", logPrefix, err)
	}
	compressed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s - zstd payload base64: %w", logPrefix, err)
	}
	out, err := z.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%s - zstd decode: %w", logPrefix, err)
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
