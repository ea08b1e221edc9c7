package codec

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/radekcihi/electrontrpc/pkg/procedure"
	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

const codecTestPrefix = "codec:codec_test"

// countingTransformer records how often Deserialize runs.
type countingTransformer struct {
	Identity
	deserialized int
}

func (c *countingTransformer) Deserialize(raw json.RawMessage) (json.RawMessage, error) {
	c.deserialized++
	return raw, nil
}

func TestDecodeInput_AbsentPassesThrough(t *testing.T) {
	tr := &countingTransformer{}
	c := New(tr)

	out, err := c.DecodeInput(nil)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
	}
	if out != nil {
		t.Errorf("%s - expected nil passthrough, got %s", codecTestPrefix, out)
	}
	if tr.deserialized != 0 {
		t.Errorf("%s - transformer must not run on absent input", codecTestPrefix)
	}

	if _, err := c.DecodeInput(json.RawMessage("null")); err != nil {
		t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
	}
	if tr.deserialized != 1 {
		t.Errorf("%s - transformer must run on null input, ran %d times", codecTestPrefix, tr.deserialized)
	}
}

func TestDecodeInput_TransformerFailureIsBadRequest(t *testing.T) {
	c := New(Wrapped{})
	_, err := c.DecodeInput(json.RawMessage(`{"nojson":1}`))
	if !rpcerror.Is(err, rpcerror.CodeBadRequest) {
		t.Errorf("%s - expected BAD_REQUEST, got %v", codecTestPrefix, err)
	}
}

func TestTransformers_RoundTrip(t *testing.T) {
	payload := json.RawMessage(`{"greeting":"hello world from Example User","n":[1,2,3]}`)
	for _, name := range []string{TransformerIdentity, TransformerWrapped, TransformerZstd} {
		t.Run(name, func(t *testing.T) {
			tr, err := Lookup(name)
			if err != nil {
				t.Fatalf("%s - Lookup(%s) failed: %v", codecTestPrefix, name, err)
			}
			c := New(tr)

			wire, err := c.EncodeOutput(json.RawMessage(payload))
			if err != nil {
				t.Fatalf("%s - EncodeOutput failed: %v", codecTestPrefix, err)
			}
			back, err := c.DecodeOutput(wire)
			if err != nil {
				t.Fatalf("%s - DecodeOutput failed: %v", codecTestPrefix, err)
			}
			var want, got any
			_ = json.Unmarshal(payload, &want)
			if err := json.Unmarshal(back, &got); err != nil {
				t.Fatalf("%s - decoded payload is not JSON: %v", codecTestPrefix, err)
			}
			wb, _ := json.Marshal(want)
			gb, _ := json.Marshal(got)
			if string(wb) != string(gb) {
				t.Errorf("%s - round trip mismatch: got %s, want %s", codecTestPrefix, gb, wb)
			}
		})
	}
}

func TestWrapped_Shape(t *testing.T) {
	out, err := Wrapped{}.Serialize(json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatalf("%s - Serialize failed: %v", codecTestPrefix, err)
	}
	if string(out) != `{"json":{"a":1}}` {
		t.Errorf("%s - Serialize = %s", codecTestPrefix, out)
	}
}

func TestZstd_RejectsNonString(t *testing.T) {
	_, err := NewZstd().Deserialize(json.RawMessage(`{"a":1}`))
	if err == nil {
		t.Errorf("%s - expected error for non-string zstd payload", codecTestPrefix)
	}
}

func TestLookup_Unknown(t *testing.T) {
	if _, err := Lookup("msgpack"); err == nil {
		t.Errorf("%s - expected error for unknown transformer", codecTestPrefix)
	}
}

func TestEncodeInput_Nil(t *testing.T) {
	raw, err := New(nil).EncodeInput(nil)
	if err != nil || raw != nil {
		t.Errorf("%s - EncodeInput(nil) = %s, %v; want nil, nil", codecTestPrefix, raw, err)
	}
}

func TestEncodeOutput_Unencodable(t *testing.T) {
	if _, err := New(nil).EncodeOutput(make(chan int)); err == nil {
		t.Errorf("%s - expected error for channel output", codecTestPrefix)
	}
}

func TestShapeError(t *testing.T) {
	meta := CallMeta{Path: "user.byEmail", Type: procedure.KindQuery}

	t.Run("tagged error keeps code", func(t *testing.T) {
		s := New(nil).ShapeError(rpcerror.New(rpcerror.CodeNotFound, "no user"), meta)
		if s.Code != rpcerror.CodeNotFound || s.Message != "no user" {
			t.Errorf("%s - got %+v", codecTestPrefix, s)
		}
		if s.Data.Path != "user.byEmail" || s.Data.HTTPStatus != 404 {
			t.Errorf("%s - unexpected data %+v", codecTestPrefix, s.Data)
		}
		if s.Data.Stack != "" {
			t.Errorf("%s - stack included without WithStack", codecTestPrefix)
		}
	})

	t.Run("plain error wrapped as internal", func(t *testing.T) {
		s := New(nil, WithStack(true)).ShapeError(errors.New("db gone"), meta)
		if s.Code != rpcerror.CodeInternal || s.Message != "db gone" || s.Cause != "db gone" {
			t.Errorf("%s - got %+v", codecTestPrefix, s)
		}
		if !strings.Contains(s.Data.Stack, "TestShapeError") {
			t.Errorf("%s - expected captured stack, got %q", codecTestPrefix, s.Data.Stack)
		}
	})

	t.Run("nil is still shaped", func(t *testing.T) {
		s := New(nil).ShapeError(nil, meta)
		if s == nil || s.Code != rpcerror.CodeInternal {
			t.Errorf("%s - expected INTERNAL shape for nil, got %+v", codecTestPrefix, s)
		}
	})
}

func TestErrorEnvelope_BypassesTransformer(t *testing.T) {
	for _, name := range []string{TransformerWrapped, TransformerZstd} {
		t.Run(name, func(t *testing.T) {
			tr, err := Lookup(name)
			if err != nil {
				t.Fatalf("%s - Lookup(%s): %v", codecTestPrefix, name, err)
			}
			cd := New(tr)
			env := ErrorEnvelope(cd.ShapeError(rpcerror.New(rpcerror.CodeNotFound, "no user"), CallMeta{Path: "user.byEmail"}))

			raw, err := json.Marshal(Reply{Envelopes: []Envelope{env}})
			if err != nil {
				t.Fatalf("%s - marshal: %v", codecTestPrefix, err)
			}
			var got struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("%s - error envelope is not plain JSON: %s", codecTestPrefix, raw)
			}
			if got.Error.Code != "NOT_FOUND" || got.Error.Message != "no user" {
				t.Errorf("%s - unexpected error shape %s", codecTestPrefix, raw)
			}
		})
	}
}
