package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes and deserializes Envelopes, grounded on the teacher's
// pkg/protocol.Codec registry-dispatch shape.
type Codec struct{}

func NewCodec() *Codec { return &Codec{} }

type bodyFactory func() any

var inboundBodyRegistry = map[EventType]bodyFactory{
	EventMessage:            func() any { return &MessageIn{} },
	EventAudioInput:         func() any { return &AudioInput{} },
	EventAudioInputComplete: func() any { return &AudioInputComplete{} },
	EventBargeIn:            func() any { return &BargeIn{} },
	EventToolConfirmation:   func() any { return &ToolConfirmationIn{} },
	EventPing:               func() any { return &Ping{} },
}

// Encode serializes an outbound envelope to MessagePack bytes.
func (c *Codec) Encode(envelope *Envelope) ([]byte, error) {
	if envelope == nil {
		return nil, fmt.Errorf("envelope is nil")
	}
	if envelope.Body == nil {
		return nil, fmt.Errorf("envelope body is nil")
	}
	data, err := msgpack.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// EncodeMessage is a convenience wrapper building then encoding an envelope.
func (c *Codec) EncodeMessage(sessionID string, eventType EventType, body any) ([]byte, error) {
	return c.Encode(NewEnvelope(sessionID, eventType, body))
}

// Decode deserializes MessagePack bytes into an inbound envelope, resolving
// Body to its concrete event type via inboundBodyRegistry.
func (c *Codec) Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}

	var raw struct {
		SessionID string             `msgpack:"session_id"`
		Type      EventType          `msgpack:"type"`
		Body      msgpack.RawMessage `msgpack:"body"`
	}
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	factory, ok := inboundBodyRegistry[raw.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", raw.Type)
	}

	body := factory()
	if len(raw.Body) > 0 {
		if err := msgpack.Unmarshal(raw.Body, body); err != nil {
			return nil, fmt.Errorf("unmarshal body (type %s): %w", raw.Type, err)
		}
	}

	return &Envelope{SessionID: raw.SessionID, Type: raw.Type, Body: body}, nil
}
