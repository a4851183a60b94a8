// Package audit implements the Audit Logger (C13): non-blocking,
// at-least-once event append with PHI redaction, grounded on the teacher's
// "log but don't fail, this is non-critical" idiom
// (internal/application/usecases/process_message.go).
package audit

import (
	"context"
	"log/slog"

	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// QueueDepth bounds how many pending events the logger buffers before a slow
// sink starts shedding load; Append itself never blocks the caller beyond
// this buffer (spec §4.13, §5: "lock-free append; downstream persistence
// may be batched").
const QueueDepth = 256

// Logger implements ports.AuditSink: it redacts PHI from event payloads,
// then hands the event to a background worker that drives the real sink.
type Logger struct {
	phi    ports.PHIDetector
	sink   ports.AuditSink
	events chan ports.AuditEvent
}

func New(phi ports.PHIDetector, sink ports.AuditSink) *Logger {
	l := &Logger{phi: phi, sink: sink, events: make(chan ports.AuditEvent, QueueDepth)}
	go l.run()
	return l
}

// Append redacts event.Payload in place and enqueues it; it returns as soon
// as the event is queued, not once it is durably persisted.
func (l *Logger) Append(ctx context.Context, event ports.AuditEvent) error {
	event.Payload = l.redact(ctx, event.Payload)

	select {
	case l.events <- event:
	default:
		// Queue full: drop the oldest rather than block the caller: audit
		// durability degrades gracefully under overload, the caller's
		// request path never waits on it (spec §4.13).
		select {
		case <-l.events:
		default:
		}
		l.events <- event
	}
	return nil
}

func (l *Logger) run() {
	for event := range l.events {
		if err := l.sink.Append(context.Background(), event); err != nil {
			slog.Warn("audit: append failed, event dropped", "action", event.ActionKind, "error", err)
		}
	}
}

// redact replaces detected PHI spans in text with kind-tagged placeholders
// (e.g. "[person_name]") so the full text never reaches persistence.
func (l *Logger) redact(ctx context.Context, text string) string {
	if text == "" || l.phi == nil {
		return text
	}

	verdict, err := l.phi.Detect(ctx, text)
	if err != nil {
		slog.Warn("audit: redaction check failed, withholding payload", "error", err)
		return "[REDACTION_UNAVAILABLE]"
	}
	if !verdict.HasPHI {
		return text
	}

	return redactSpans(text, verdict.Entities)
}

// redactSpans replaces each entity span with its bracketed kind marker,
// processing spans back-to-front so earlier offsets stay valid.
func redactSpans(text string, entities []models.PHIEntitySpan) string {
	runes := []rune(text)
	for i := len(entities) - 1; i >= 0; i-- {
		e := entities[i]
		if e.Start < 0 || e.End > len(runes) || e.Start >= e.End {
			continue
		}
		placeholder := []rune("[" + string(e.Kind) + "]")
		runes = append(runes[:e.Start], append(placeholder, runes[e.End:]...)...)
	}
	return string(runes)
}
