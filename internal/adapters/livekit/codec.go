package livekit

import (
	"github.com/sageclinic/orchestrator/internal/protocol"
)

// Codec adapts protocol.Codec to the LiveKit data-channel transport: every
// outbound wire event is encoded and sent with Service.SendData, every
// inbound data packet is decoded back into a protocol.Envelope.
type Codec struct {
	codec *protocol.Codec
}

func NewCodec() *Codec {
	return &Codec{codec: protocol.NewCodec()}
}

func (c *Codec) Encode(sessionID string, eventType protocol.EventType, body any) ([]byte, error) {
	return c.codec.EncodeMessage(sessionID, eventType, body)
}

func (c *Codec) Decode(data []byte) (*protocol.Envelope, error) {
	return c.codec.Decode(data)
}
