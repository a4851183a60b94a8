// Package audit persists audit events as msgpack-encoded batches, the same
// wire format the teacher uses for its LiveKit envelope
// (internal/adapters/livekit/codec.go, vmihailenco/msgpack/v5).
package audit

import (
	"context"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sageclinic/orchestrator/internal/ports"
)

// DefaultBatchSize bounds how many events accumulate before a flush.
const DefaultBatchSize = 50

// Sink implements ports.AuditSink by batching events and msgpack-encoding
// each batch as it flushes.
type Sink struct {
	mu        sync.Mutex
	w         io.Writer
	batch     []ports.AuditEvent
	batchSize int
}

func NewSink(w io.Writer, batchSize int) *Sink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sink{w: w, batchSize: batchSize}
}

// Append buffers event and flushes the batch once it reaches batchSize.
func (s *Sink) Append(ctx context.Context, event ports.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batch = append(s.batch, event)
	if len(s.batch) < s.batchSize {
		return nil
	}
	return s.flushLocked()
}

// Flush forces any buffered events out immediately, regardless of batch
// size; callers should call this on shutdown so a partial batch isn't lost.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batch) == 0 {
		return nil
	}
	return s.flushLocked()
}

func (s *Sink) flushLocked() error {
	enc := msgpack.NewEncoder(s.w)
	if err := enc.Encode(s.batch); err != nil {
		return err
	}
	s.batch = s.batch[:0]
	return nil
}
