package commsutil

import (
	"encoding/json"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"
)

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("commsutil:codec - empty payload")
	}
	return json.Unmarshal(data, v)
}

// Respond replies to msg with data. Messages published without a reply
// subject cannot be answered and are dropped.
func Respond(msg *comms.Msg, data []byte) error {
	if msg.Reply == "" {
		slog.Warn(fmt.Sprintf("commsutil:codec - dropping reply for %s: no reply subject", msg.Subject))
		return nil
	}
	if err := msg.Respond(data); err != nil {
		return fmt.Errorf("commsutil:codec - respond on %s: %w", msg.Subject, err)
	}
	return nil
}
