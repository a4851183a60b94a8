package speech

import (
	"context"
	"fmt"
	"time"

	"github.com/sageclinic/orchestrator/internal/adapters/circuitbreaker"
	"github.com/sageclinic/orchestrator/internal/domain/models"
)

const (
	defaultTTSEndpoint = "http://localhost:8000"
	speechPath         = "/audio/speech"
	TTSTimeout         = 30 * time.Second

	// ttsChunkBytes is the egress framing size: 100ms of 16kHz mono PCM16
	// (16000 * 2 bytes/sample * 0.1s), matching the ingress frame size the
	// pipeline's playback offset math assumes.
	ttsChunkBytes = 3200
)

// TTSAdapter implements ports.TTSClient against an OpenAI-compatible speech
// endpoint returning raw PCM16. Synthesize makes one blocking HTTP call,
// then re-frames the response into fixed-size chunks on the returned
// channel so the pipeline's bounded audio queue sees a steady stream rather
// than one giant chunk.
type TTSAdapter struct {
	client       *Client
	model        string
	defaultVoice string
	breaker      *circuitbreaker.CircuitBreaker
}

func NewTTSAdapter(endpoint string) *TTSAdapter {
	if endpoint == "" {
		endpoint = defaultTTSEndpoint
	}
	return &TTSAdapter{
		client:       NewClient(endpoint),
		model:        "kokoro",
		defaultVoice: "af_sarah",
		breaker:      circuitbreaker.New(5, 30*time.Second),
	}
}

type ttsRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float32 `json:"speed,omitempty"`
}

func (t *TTSAdapter) Synthesize(ctx context.Context, text string, voice string) (<-chan models.AudioChunk, error) {
	if text == "" {
		return nil, fmt.Errorf("text is empty")
	}
	if voice == "" {
		voice = t.defaultVoice
	}

	var audio []byte
	err := t.breaker.Execute(func() error {
		a, err := t.synthesize(ctx, text, voice)
		if err != nil {
			return err
		}
		audio = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("TTS synthesis failed: %w", err)
	}

	out := make(chan models.AudioChunk, (len(audio)/ttsChunkBytes)+1)
	for i, seq := 0, 0; i < len(audio); i, seq = i+ttsChunkBytes, seq+1 {
		end := i + ttsChunkBytes
		if end > len(audio) {
			end = len(audio)
		}
		out <- models.AudioChunk{
			Sequence:  seq,
			PCM16:     audio[i:end],
			Direction: models.AudioEgress,
			Timestamp: time.Now(),
		}
	}
	close(out)
	return out, nil
}

func (t *TTSAdapter) synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, TTSTimeout)
	defer cancel()

	req := ttsRequest{
		Model:          t.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "pcm",
	}
	return t.client.PostJSONRaw(ctx, speechPath, req)
}

func (t *TTSAdapter) SetModel(model string)        { t.model = model }
func (t *TTSAdapter) SetDefaultVoice(voice string) { t.defaultVoice = voice }
