package protocol

import "testing"

func TestEncodeDecodeRoundTripsMessageIn(t *testing.T) {
	codec := NewCodec()
	data, err := codec.EncodeMessage("sess-1", EventMessage, &MessageIn{SessionID: "sess-1", Content: "hello"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != EventMessage {
		t.Fatalf("expected type %q, got %q", EventMessage, env.Type)
	}
	body, ok := env.Body.(*MessageIn)
	if !ok {
		t.Fatalf("expected *MessageIn body, got %T", env.Body)
	}
	if body.Content != "hello" {
		t.Fatalf("expected content %q, got %q", "hello", body.Content)
	}
}

func TestDecodeRejectsUnknownEventType(t *testing.T) {
	codec := NewCodec()
	data, err := codec.Encode(NewEnvelope("sess-1", EventType("bogus"), &MessageIn{Content: "x"}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := codec.Decode(data); err == nil {
		t.Fatal("expected decode to reject an unknown inbound event type")
	}
}

func TestEncodeRejectsNilBody(t *testing.T) {
	codec := NewCodec()
	if _, err := codec.Encode(&Envelope{SessionID: "sess-1", Type: EventPing}); err == nil {
		t.Fatal("expected encode to reject a nil body")
	}
}

func TestDecodeRejectsEmptyData(t *testing.T) {
	codec := NewCodec()
	if _, err := codec.Decode(nil); err == nil {
		t.Fatal("expected decode to reject empty data")
	}
}
