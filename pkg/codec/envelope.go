package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/radekcihi/electrontrpc/pkg/procedure"
	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

// ResultTypeData is the only result type produced over this transport.
const ResultTypeData = "data"

// Request is the message the renderer sends across the bridge. For batch
// calls Path is a comma-joined list and Input an object keyed by call index.
type Request struct {
	ID      int64           `json:"id"`
	Type    procedure.Kind  `json:"type"`
	Path    string          `json:"path"`
	Input   json.RawMessage `json:"input,omitempty"`
	IsBatch bool            `json:"isBatch,omitempty"`
}

// Envelope is the reply for one logical call: either Result or Error is set.
type Envelope struct {
	ID     *int64          `json:"id"`
	Result *Result         `json:"result,omitempty"`
	Error  *rpcerror.Shape `json:"error,omitempty"`
}

// Result holds the serialized output of a successful call.
type Result struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DataEnvelope builds a successful envelope.
func DataEnvelope(data json.RawMessage) Envelope {
	if data == nil {
		data = json.RawMessage("null")
	}
	return Envelope{Result: &Result{Type: ResultTypeData, Data: data}}
}

// ErrorEnvelope builds a failed envelope.
func ErrorEnvelope(shape *rpcerror.Shape) Envelope {
	return Envelope{Error: shape}
}

// Reply is everything one request produced. It encodes as a bare envelope for
// single calls and request-level failures, and as an index-ordered array for
// batches.
type Reply struct {
	Batch     bool
	Envelopes []Envelope
	// Errors holds the normalized error of every failed call, in call order.
	Errors []*rpcerror.Error
}

// MarshalJSON encodes the reply in its wire form.
func (r Reply) MarshalJSON() ([]byte, error) {
	if r.Batch {
		envs := r.Envelopes
		if envs == nil {
			envs = []Envelope{}
		}
		return json.Marshal(envs)
	}
	if len(r.Envelopes) != 1 {
		return nil, fmt.Errorf("%s - single reply must hold exactly one envelope, has %d", logPrefix, len(r.Envelopes))
	}
	return json.Marshal(r.Envelopes[0])
}

// UnmarshalJSON decodes either wire form. Errors is left empty; it only
// exists on the side that produced the reply.
func (r *Reply) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var envs []Envelope
		if err := json.Unmarshal(trimmed, &envs); err != nil {
			return err
		}
		r.Batch = true
		r.Envelopes = envs
		return nil
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return err
	}
	r.Batch = false
	r.Envelopes = []Envelope{env}
	return nil
}

// StampID sets the request id on every envelope so the caller can correlate
// the reply with what it sent.
func (r *Reply) StampID(id int64) {
	for i := range r.Envelopes {
		v := id
		r.Envelopes[i].ID = &v
	}
}

// HTTPStatus derives one status code for the whole reply: 200 when nothing
// failed, the shared status when every failure agrees and nothing succeeded,
// 207 for a batch with mixed outcomes.
func (r Reply) HTTPStatus() int {
	if len(r.Errors) == 0 {
		return 200
	}
	first := r.Errors[0].HTTPStatus()
	for _, e := range r.Errors[1:] {
		if e.HTTPStatus() != first {
			return 207
		}
	}
	if len(r.Errors) < len(r.Envelopes) {
		return 207
	}
	return first
}

// LogMessage is the payload of the client log channel.
type LogMessage struct {
	Message string `json:"message"`
}
