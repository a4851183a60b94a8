package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sageclinic/orchestrator/internal/adapters/confirmation"
	"github.com/sageclinic/orchestrator/internal/adapters/metrics"
	"github.com/sageclinic/orchestrator/internal/application/query"
	"github.com/sageclinic/orchestrator/internal/application/voice"
	"github.com/sageclinic/orchestrator/internal/domain"
	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/protocol"
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// session is one client WebSocket connection. It owns a per-connection
// confirmation.Channel and tool Executor/query.Handler (a confirmation
// round trip is addressed to this one socket), and lazily starts a voice
// Pipeline the first time audio arrives. Grounded on the teacher's
// connectionState + paired readPump/writePump goroutines
// (internal/adapters/http/handlers/ws_multiplexed.go), adapted from its
// subscription-set bookkeeping to this protocol's single-session-per-socket
// shape.
type session struct {
	id     string
	userID string
	conn   *websocket.Conn
	codec  *protocol.Codec
	deps   *Dependencies

	seq     int64
	writeMu sync.Mutex

	handler *query.Handler
	confirm *confirmation.Channel

	voiceMu sync.Mutex
	vp      *voice.Pipeline
}

func newSession(conn *websocket.Conn, sessionID, userID string, deps *Dependencies) *session {
	s := &session{
		id:     sessionID,
		userID: userID,
		conn:   conn,
		codec:  protocol.NewCodec(),
		deps:   deps,
	}
	s.confirm = confirmation.New(s)
	s.handler = deps.buildHandler(s.confirm)
	return s
}

// Send implements confirmation.Sender: it serializes and frames one
// outbound envelope, assigning the next sequence number.
func (s *session) Send(ctx context.Context, eventType protocol.EventType, body any) error {
	return s.writeEnvelope(eventType, body)
}

func (s *session) writeEnvelope(eventType protocol.EventType, body any) error {
	envelope := &protocol.Envelope{
		Sequence:  atomic.AddInt64(&s.seq, 1),
		SessionID: s.id,
		Type:      eventType,
		Body:      body,
	}
	data, err := s.codec.Encode(envelope)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// run drives the connection until the client disconnects or ctx is
// cancelled: a read loop dispatching inbound envelopes, a ping ticker, and
// (once a voice turn starts) a pipeline event drain, all serialized onto
// this one socket by writeMu.
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeVoice()

	if err := s.writeEnvelope(protocol.EventSessionReady, &protocol.SessionReady{SessionID: s.id}); err != nil {
		slog.Warn("session: failed to send session.ready", "session_id", s.id, "error", err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pingLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.readLoop(ctx)
		cancel()
	}()
	wg.Wait()
}

func (s *session) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("session: read error", "session_id", s.id, "error", err)
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		envelope, err := s.codec.Decode(data)
		if err != nil {
			s.sendError(ctx, domain.CodeUnknownMessageType, "failed to decode message", 0)
			continue
		}
		s.dispatch(ctx, envelope)
	}
}

func (s *session) dispatch(ctx context.Context, envelope *protocol.Envelope) {
	switch body := envelope.Body.(type) {
	case *protocol.MessageIn:
		go s.handleMessage(ctx, body)
	case *protocol.AudioInput:
		if err := s.pipeline(ctx).PushAudio(ctx, models.AudioChunk{
			PCM16: body.PCM16, Direction: models.AudioIngress, Timestamp: time.Now(),
		}); err != nil {
			slog.Warn("session: push audio failed", "session_id", s.id, "error", err)
		}
	case *protocol.AudioInputComplete:
		if err := s.pipeline(ctx).EndTurn(ctx); err != nil {
			slog.Warn("session: end turn failed", "session_id", s.id, "error", err)
		}
	case *protocol.BargeIn:
		metrics.VoiceBargeInsTotal.Inc()
		s.pipeline(ctx).SpeechStart(ctx)
	case *protocol.ToolConfirmationIn:
		s.confirm.Resolve(body.CallID, body.Approved)
	case *protocol.Ping:
		s.writeEnvelope(protocol.EventPong, &protocol.Pong{})
	default:
		s.sendError(ctx, domain.CodeUnknownMessageType, "unknown message type", 0)
	}
}

func (s *session) handleMessage(ctx context.Context, in *protocol.MessageIn) {
	started := time.Now()
	response, err := s.handler.Handle(ctx, s.id, s.userID, in.Content, "")
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	metrics.QueryDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())

	if err != nil {
		code, message, retryAfter := errorToWire(err)
		s.sendError(ctx, code, message, retryAfter)
		return
	}

	if response.Clarification != nil {
		s.writeEnvelope(protocol.EventError, &protocol.ErrorEvent{
			Code:    "CLARIFICATION_NEEDED",
			Message: response.Clarification.Question,
		})
		return
	}

	s.sendResponse(response)
}

func (s *session) sendResponse(response models.QueryResponse) {
	citations := make([]protocol.CitationWire, 0, len(response.Citations))
	for i, c := range response.Citations {
		citations = append(citations, protocol.CitationWire{
			Index: i + 1, SourceName: c.Title, Excerpt: c.EvidenceGrade, URL: c.URL,
		})
	}

	s.writeEnvelope(protocol.EventResponseStart, &protocol.ResponseStart{MessageID: response.MessageID})
	s.writeEnvelope(protocol.EventChunk, &protocol.ChunkEvent{
		MessageID: response.MessageID, ChunkIndex: 0, Content: response.Answer,
	})
	s.writeEnvelope(protocol.EventResponseDone, &protocol.ResponseDone{
		MessageID: response.MessageID,
		Answer:    response.Answer,
		Citations: citations,
		Metadata: protocol.MetadataWire{
			ModelID:      response.Metadata.ModelID,
			Intent:       string(response.Metadata.Intent),
			PHIDetected:  response.Metadata.PHIDetected,
			DegradedMode: response.Metadata.DegradedMode,
			TraceID:      response.Metadata.TraceID,
			ToolCallIDs:  response.Metadata.ToolCallIDs,
		},
	})
}

func (s *session) sendError(ctx context.Context, code, message string, retryAfter int) {
	s.writeEnvelope(protocol.EventError, &protocol.ErrorEvent{
		Code: code, Message: message, RetryAfter: retryAfter,
	})
}

func errorToWire(err error) (code, message string, retryAfter int) {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code, domainErr.Message, domainErr.RetryAfter
	}
	return "INTERNAL_ERROR", "an internal error occurred", 0
}

// pipeline returns the session's voice Pipeline, starting one (and its
// background Run/audio-drain goroutines) on first use.
func (s *session) pipeline(ctx context.Context) *voice.Pipeline {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()

	if s.vp != nil {
		return s.vp
	}

	stt := s.deps.STTFactory()
	tts := s.deps.TTSFactory()
	vs := models.NewVoiceSession(s.id, s.id, s.deps.DefaultVoice, s.deps.DefaultLanguage, time.Now())
	s.vp = voice.New(vs, s.handler, stt, tts, s, s.deps.IDs, s.userID)

	metrics.VoiceSessionsActive.Inc()
	go s.vp.Run(context.Background())
	go s.drainAudioOut()

	return s.vp
}

func (s *session) drainAudioOut() {
	for chunk := range s.vp.AudioOut() {
		s.writeEnvelope(protocol.EventAudioOutput, &protocol.AudioOutput{
			Sequence: chunk.Sequence, PCM16: chunk.PCM16,
		})
	}
}

func (s *session) closeVoice() {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()
	if s.vp != nil {
		metrics.VoiceSessionsActive.Dec()
	}
}

// ports.VoiceEventSink implementation: the Voice Pipeline Orchestrator
// drives these directly, never touching the socket itself.

func (s *session) TranscriptPartial(ctx context.Context, sessionID, text string) {
	s.writeEnvelope(protocol.EventTranscriptPart, &protocol.TranscriptEvent{Text: text})
}

func (s *session) TranscriptFinal(ctx context.Context, sessionID, text string) {
	s.writeEnvelope(protocol.EventTranscriptFinal, &protocol.TranscriptEvent{Text: text})
}

func (s *session) ResponseStart(ctx context.Context, sessionID, messageID string) {
	s.writeEnvelope(protocol.EventResponseStart, &protocol.ResponseStart{MessageID: messageID})
}

func (s *session) Chunk(ctx context.Context, sessionID, messageID string, chunkIndex int, content string) {
	s.writeEnvelope(protocol.EventChunk, &protocol.ChunkEvent{
		MessageID: messageID, ChunkIndex: chunkIndex, Content: content,
	})
}

func (s *session) ResponseDone(ctx context.Context, sessionID string, response models.QueryResponse) {
	s.sendResponse(response)
}

func (s *session) AudioOutput(ctx context.Context, sessionID string, chunk models.AudioChunk) {
	s.writeEnvelope(protocol.EventAudioOutput, &protocol.AudioOutput{
		Sequence: chunk.Sequence, PCM16: chunk.PCM16,
	})
}

func (s *session) VoiceState(ctx context.Context, sessionID string, state models.VoicePipelineState) {
	s.writeEnvelope(protocol.EventVoiceState, &protocol.VoiceStateEvent{State: string(state)})
}

func (s *session) Error(ctx context.Context, sessionID, code, message string, retryAfter int) {
	s.sendError(ctx, code, message, retryAfter)
}
