package protocol

import (
	"encoding/json"

	"git.home.luguber.info/inful/contexthub/internal/foundation/errors"
)

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryTransport, "encode message").Build()
	}
	return b, nil
}

// Decode parses and validates an incoming envelope. Unknown versions and
// unknown types are rejected rather than passed through, so every consumer
// downstream can assume a well-formed current-version message.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, errors.WrapError(err, errors.CategoryValidation, "malformed message").Build()
	}
	if m.Version != Version {
		return Message{}, errors.ValidationError("unsupported protocol version").
			WithContext("version", m.Version).Build()
	}
	switch m.Type {
	case TypeUpdate, TypeBulk, TypeSync, TypeHeartbeat:
	default:
		return Message{}, errors.ValidationError("unknown message type").
			WithContext("type", string(m.Type)).Build()
	}
	return m, nil
}
