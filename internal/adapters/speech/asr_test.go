package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

func TestSTTAdapterEmitsFinalTranscriptOnEndTurn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(whisperResponse{Text: "take metformin twice daily"})
	}))
	defer server.Close()

	adapter := NewSTTAdapter(server.URL, 16000)
	ctx := context.Background()

	if err := adapter.PushAudio(ctx, models.AudioChunk{PCM16: make([]byte, 320)}); err != nil {
		t.Fatalf("PushAudio: %v", err)
	}
	if err := adapter.EndTurn(ctx); err != nil {
		t.Fatalf("EndTurn: %v", err)
	}

	select {
	case result := <-adapter.Results():
		if result.Kind != models.TranscriptUserFinal {
			t.Fatalf("expected final transcript kind, got %v", result.Kind)
		}
		if result.Text != "take metformin twice daily" {
			t.Fatalf("unexpected text: %q", result.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a transcript result")
	}
}

func TestSTTAdapterEndTurnNoopsOnEmptyBuffer(t *testing.T) {
	adapter := NewSTTAdapter("http://unused", 16000)
	if err := adapter.EndTurn(context.Background()); err != nil {
		t.Fatalf("expected no error on empty turn, got %v", err)
	}
	select {
	case result := <-adapter.Results():
		t.Fatalf("expected no transcript for an empty turn, got %+v", result)
	default:
	}
}

func TestWrapPCM16InWAVProducesValidHeader(t *testing.T) {
	pcm := make([]byte, 640)
	wav := wrapPCM16InWAV(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected header+data length %d, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers")
	}
}

var _ ports.STTClient = (*STTAdapter)(nil)
