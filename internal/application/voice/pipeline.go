// Package voice implements the Voice Pipeline Orchestrator (C14):
// microphone audio -> STT -> the same C1-C9 path text queries take -> TTS ->
// speaker audio, with turn detection and barge-in. Grounded on the voice
// module's ttsQueue producer/consumer and drainStaleItems pattern
// (_examples/longregen-alicia/voice/session.go), adapted from a
// per-conversation goroutine pair into one Pipeline per VoiceSession driven
// by the shared query.Handler's Prepare/Stream/Finish split.
package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sageclinic/orchestrator/internal/application/query"
	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// AudioQueueDepth bounds the outbound audio queue; once full the TTS
// producer blocks (spec §5: "producer blocks (i.e., awaits) when full").
const AudioQueueDepth = 32

// FirstAudioDeadline is the voice-turn first-audio budget (spec §5: "voice
// turn: 10s for first audio").
const FirstAudioDeadline = 10 * time.Second

type idGenerator interface {
	GenerateMessageID() string
	GenerateTraceID() string
}

// Pipeline drives one VoiceSession's turns. It is not safe for concurrent
// calls to PushAudio/SpeechStart/EndTurn from more than one goroutine; the
// transport adapter serializes calls per session the same way it serializes
// audio frames off one WebSocket connection.
type Pipeline struct {
	session *models.VoiceSession
	handler *query.Handler
	stt     ports.STTClient
	tts     ports.TTSClient
	events  ports.VoiceEventSink
	ids     idGenerator
	userID  string

	audioOut chan models.AudioChunk

	mu          sync.Mutex
	turnCancel  context.CancelFunc
	outSequence int
	playbackMS  int64
}

func New(session *models.VoiceSession, handler *query.Handler, stt ports.STTClient, tts ports.TTSClient, events ports.VoiceEventSink, ids idGenerator, userID string) *Pipeline {
	return &Pipeline{
		session:  session,
		handler:  handler,
		stt:      stt,
		tts:      tts,
		events:   events,
		ids:      ids,
		userID:   userID,
		audioOut: make(chan models.AudioChunk, AudioQueueDepth),
	}
}

// Run drains STT results until ctx is cancelled, dispatching a turn each
// time a final transcript arrives.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-p.stt.Results():
			if !ok {
				return
			}
			p.onSTTResult(ctx, result)
		}
	}
}

func (p *Pipeline) onSTTResult(ctx context.Context, result ports.STTResult) {
	switch result.Kind {
	case models.TranscriptUserPartial:
		p.events.TranscriptPartial(ctx, p.session.SessionID, result.Text)
	case models.TranscriptUserFinal:
		p.events.TranscriptFinal(ctx, p.session.SessionID, result.Text)
		p.session.OnFinalTranscript()
		p.events.VoiceState(ctx, p.session.SessionID, p.session.State)
		p.startTurn(ctx, result.Text)
	}
}

// PushAudio forwards one ingress frame to STT, entering listening on the
// session's first frame.
func (p *Pipeline) PushAudio(ctx context.Context, chunk models.AudioChunk) error {
	if p.session.State == models.VoiceIdle {
		p.session.OnAudioIngress()
		p.events.VoiceState(ctx, p.session.SessionID, p.session.State)
	}
	p.session.BytesIn += int64(len(chunk.PCM16))
	return p.stt.PushAudio(ctx, chunk)
}

// EndTurn signals the client has stopped sending audio for this turn.
func (p *Pipeline) EndTurn(ctx context.Context) error {
	return p.stt.EndTurn(ctx)
}

// SpeechStart is called by the transport's turn detector when voice
// activity resumes. While speaking, this is barge-in: cancel the in-flight
// turn, drain the outbound audio queue, record the playback offset, and
// return to listening (spec §4.14).
func (p *Pipeline) SpeechStart(ctx context.Context) {
	p.mu.Lock()
	speaking := p.session.State == models.VoiceSpeaking
	cancel := p.turnCancel
	offset := p.playbackMS
	p.mu.Unlock()

	if !speaking {
		return
	}

	if cancel != nil {
		cancel()
	}
	drained := p.drainAudioQueue()
	slog.Info("voice: barge-in", "session_id", p.session.SessionID, "drained_chunks", drained, "playback_offset_ms", offset)

	p.session.OnBargeIn(offset)
	p.events.VoiceState(ctx, p.session.SessionID, p.session.State)
	p.session.Restart()
	p.events.VoiceState(ctx, p.session.SessionID, p.session.State)
}

func (p *Pipeline) drainAudioQueue() int {
	drained := 0
	for {
		select {
		case <-p.audioOut:
			drained++
		default:
			return drained
		}
	}
}

// AudioOut exposes the outbound audio channel for the transport to forward
// to the speaker track.
func (p *Pipeline) AudioOut() <-chan models.AudioChunk {
	return p.audioOut
}

// startTurn runs one C1-C9 turn against the transcript, streaming sentence
// chunks to TTS as they become available and cancellable by barge-in.
func (p *Pipeline) startTurn(parent context.Context, text string) {
	turnCtx, cancel := context.WithTimeout(parent, FirstAudioDeadline)

	p.mu.Lock()
	p.turnCancel = cancel
	p.mu.Unlock()

	go func() {
		defer cancel()
		p.runTurn(turnCtx, text)
	}()
}

func (p *Pipeline) runTurn(ctx context.Context, text string) {
	sessionID := p.session.SessionID
	traceID := p.ids.GenerateTraceID()

	ctx, prepared, err := p.handler.Prepare(ctx, sessionID, p.userID, text, traceID)
	if err != nil {
		p.events.Error(ctx, sessionID, "LLM_UNAVAILABLE", "could not prepare response", 0)
		p.backToListening(ctx)
		return
	}
	if prepared.Clarification != nil {
		p.events.TranscriptFinal(ctx, sessionID, prepared.Clarification.Question)
		p.backToListening(ctx)
		return
	}

	p.session.OnNoToolNeeded()

	if prepared.DegradedMode {
		p.speakDegraded(ctx, sessionID, text, prepared)
		return
	}

	chunks, err := p.handler.Stream(ctx, text, prepared)
	if err != nil {
		p.events.Error(ctx, sessionID, "LLM_UNAVAILABLE", "generation failed", 0)
		p.backToListening(ctx)
		return
	}

	messageID := p.ids.GenerateMessageID()
	p.events.ResponseStart(ctx, sessionID, messageID)

	var answer models.GeneratedAnswer
	answer.ModelID = prepared.Model.ModelID()
	chunker := &SentenceChunker{}
	firstAudio := false

	for chunk := range chunks {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if chunk.Err != nil {
			p.events.Error(ctx, sessionID, "LLM_TIMEOUT", "generation interrupted", 0)
			break
		}
		if chunk.ToolCallID != "" {
			answer.ToolCallIDs = append(answer.ToolCallIDs, chunk.ToolCallID)
			continue
		}

		answer.Text += chunk.Content
		answer.ChunkCount++
		p.events.Chunk(ctx, sessionID, messageID, chunk.ChunkIndex, chunk.Content)

		for _, sentence := range chunker.Push(chunk.Content) {
			if !firstAudio {
				firstAudio = true
				p.session.OnFirstAudio()
				p.events.VoiceState(ctx, sessionID, p.session.State)
			}
			if !p.speak(ctx, sentence) {
				return
			}
		}
	}

	if rest, ok := chunker.Flush(); ok {
		if !firstAudio {
			p.session.OnFirstAudio()
			p.events.VoiceState(ctx, sessionID, p.session.State)
		}
		p.speak(ctx, rest)
	}

	response := p.handler.Finish(ctx, sessionID, p.userID, text, prepared, answer, nil)
	response.MessageID = messageID
	p.events.ResponseDone(ctx, sessionID, response)

	p.session.OnSpeechFinished()
	p.events.VoiceState(ctx, sessionID, p.session.State)
}

// speak synthesizes one sentence-bounded chunk and pushes its audio onto
// the bounded outbound queue, applying backpressure when full. Returns
// false if ctx was cancelled mid-synthesis (barge-in or shutdown).
func (p *Pipeline) speak(ctx context.Context, text string) bool {
	audio, err := p.tts.Synthesize(ctx, text, p.session.Voice)
	if err != nil {
		slog.Warn("voice: synthesis failed", "session_id", p.session.SessionID, "error", err)
		return ctx.Err() == nil
	}

	for chunk := range audio {
		p.mu.Lock()
		chunk.Sequence = p.outSequence
		p.outSequence++
		p.playbackMS += pcm16DurationMS(chunk.PCM16)
		offset := p.playbackMS
		p.mu.Unlock()
		_ = offset

		select {
		case p.audioOut <- chunk:
			p.session.BytesOut += int64(len(chunk.PCM16))
			p.events.AudioOutput(ctx, p.session.SessionID, chunk)
		case <-ctx.Done():
			return false
		}
	}
	// A TTS client closes its channel when ctx is cancelled, so an ended
	// range alone does not mean the sentence was spoken.
	return ctx.Err() == nil
}

// speakDegraded handles a turn prepared while the orchestrator is in
// degraded mode: it never calls the model, instead speaking the top-ranked
// excerpts with a prominent notice (spec §4.12 scenario 6).
func (p *Pipeline) speakDegraded(ctx context.Context, sessionID, text string, prepared *query.Prepared) {
	answer := query.BuildDegradedAnswer(prepared.Ranked)

	messageID := p.ids.GenerateMessageID()
	p.events.ResponseStart(ctx, sessionID, messageID)
	p.events.Chunk(ctx, sessionID, messageID, 0, answer.Text)

	chunker := &SentenceChunker{}
	firstAudio := false
	for _, sentence := range chunker.Push(answer.Text) {
		if !firstAudio {
			firstAudio = true
			p.session.OnFirstAudio()
			p.events.VoiceState(ctx, sessionID, p.session.State)
		}
		if !p.speak(ctx, sentence) {
			return
		}
	}
	if rest, ok := chunker.Flush(); ok {
		if !firstAudio {
			p.session.OnFirstAudio()
			p.events.VoiceState(ctx, sessionID, p.session.State)
		}
		p.speak(ctx, rest)
	}

	response := p.handler.Finish(ctx, sessionID, p.userID, text, prepared, answer, nil)
	response.MessageID = messageID
	p.events.ResponseDone(ctx, sessionID, response)

	p.session.OnSpeechFinished()
	p.events.VoiceState(ctx, sessionID, p.session.State)
}

func (p *Pipeline) backToListening(ctx context.Context) {
	if p.session.State != models.VoiceListening {
		p.session.State = models.VoiceListening
	}
	p.events.VoiceState(ctx, p.session.SessionID, p.session.State)
}

// pcm16DurationMS estimates playback duration for 16kHz mono PCM16, the
// wire format STTClient/TTSClient exchange (spec §6).
func pcm16DurationMS(pcm16 []byte) int64 {
	const bytesPerMS = 16000 * 2 / 1000
	return int64(len(pcm16) / bytesPerMS)
}
