package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sageclinic/orchestrator/internal/adapters/circuitbreaker"
	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

const (
	defaultASREndpoint = "http://localhost:8000"
	transcriptionsPath  = "/v1/audio/transcriptions"
	ASRTimeout          = 30 * time.Second
)

// STTAdapter implements ports.STTClient against an OpenAI-Whisper-compatible
// batch transcription endpoint. Because the backend has no streaming API,
// audio is buffered for the duration of one voice turn and transcribed in
// full on EndTurn; only a final transcript is produced, never partials
// (the pipeline only acts on the final one, spec §4.14's partial events are
// simply not emitted by this backend).
type STTAdapter struct {
	client     *Client
	model      string
	sampleRate int
	breaker    *circuitbreaker.CircuitBreaker

	mu  sync.Mutex
	buf bytes.Buffer

	results chan ports.STTResult
}

func NewSTTAdapter(endpoint string, sampleRate int) *STTAdapter {
	if endpoint == "" {
		endpoint = defaultASREndpoint
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &STTAdapter{
		client:     NewClient(endpoint),
		model:      "whisper-1",
		sampleRate: sampleRate,
		breaker:    circuitbreaker.New(5, 30*time.Second),
		results:    make(chan ports.STTResult, 8),
	}
}

func (a *STTAdapter) PushAudio(ctx context.Context, chunk models.AudioChunk) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.Write(chunk.PCM16)
	return nil
}

func (a *STTAdapter) Results() <-chan ports.STTResult {
	return a.results
}

// EndTurn transcribes the turn's buffered audio and emits one final
// transcript. A transcription failure is returned as an error and no
// transcript is emitted for the turn; a turn with no buffered audio returns
// nil without emitting anything.
func (a *STTAdapter) EndTurn(ctx context.Context) error {
	a.mu.Lock()
	audio := make([]byte, a.buf.Len())
	copy(audio, a.buf.Bytes())
	a.buf.Reset()
	a.mu.Unlock()

	if len(audio) == 0 {
		return nil
	}

	wav := wrapPCM16InWAV(audio, a.sampleRate)

	ctx, cancel := context.WithTimeout(ctx, ASRTimeout)
	defer cancel()

	var text string
	err := a.breaker.Execute(func() error {
		result, err := a.transcribe(ctx, wav)
		if err != nil {
			return err
		}
		text = result
		return nil
	})
	if err != nil {
		return fmt.Errorf("transcription failed: %w", err)
	}

	select {
	case a.results <- ports.STTResult{Kind: models.TranscriptUserFinal, Text: text}:
	case <-ctx.Done():
	}
	return nil
}

type whisperResponse struct {
	Text string `json:"text"`
}

func (a *STTAdapter) transcribe(ctx context.Context, wav []byte) (string, error) {
	fields := map[string]string{
		"model":           a.model,
		"response_format": "json",
	}
	var response whisperResponse
	if err := a.client.PostMultipart(ctx, transcriptionsPath, fields, "file", "audio.wav", wav, &response); err != nil {
		return "", err
	}
	return response.Text, nil
}

// wrapPCM16InWAV prepends a minimal 44-byte WAV header to raw little-endian
// PCM16 mono samples so the transcription endpoint can decode them.
func wrapPCM16InWAV(pcm16 []byte, sampleRate int) []byte {
	const bitsPerSample = 16
	const channels = 1
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm16)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm16)))
	buf.Write(pcm16)
	return buf.Bytes()
}
