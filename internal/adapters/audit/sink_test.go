package audit

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sageclinic/orchestrator/internal/ports"
)

func decodeBatches(t *testing.T, buf *bytes.Buffer) [][]ports.AuditEvent {
	t.Helper()
	dec := msgpack.NewDecoder(buf)
	var batches [][]ports.AuditEvent
	for {
		var batch []ports.AuditEvent
		if err := dec.Decode(&batch); err != nil {
			break
		}
		batches = append(batches, batch)
	}
	return batches
}

func TestAppendFlushesAtBatchSize(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(&buf, 2)

	require.NoError(t, sink.Append(context.Background(), ports.AuditEvent{ActionKind: "a"}))
	assert.Equal(t, 0, buf.Len(), "should not flush before batchSize is reached")

	require.NoError(t, sink.Append(context.Background(), ports.AuditEvent{ActionKind: "b"}))
	assert.Greater(t, buf.Len(), 0, "should flush once batchSize is reached")

	batches := decodeBatches(t, &buf)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, "a", batches[0][0].ActionKind)
	assert.Equal(t, "b", batches[0][1].ActionKind)
}

func TestFlushForcesPartialBatch(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(&buf, 50)

	require.NoError(t, sink.Append(context.Background(), ports.AuditEvent{ActionKind: "only"}))
	assert.Equal(t, 0, buf.Len())

	require.NoError(t, sink.Flush())
	written := buf.Len()
	require.Greater(t, written, 0)

	require.NoError(t, sink.Flush())
	assert.Equal(t, written, buf.Len(), "flushing an empty batch should write nothing")

	batches := decodeBatches(t, &buf)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, "only", batches[0][0].ActionKind)
}

func TestNewSinkDefaultsNonPositiveBatchSize(t *testing.T) {
	sink := NewSink(&bytes.Buffer{}, 0)
	assert.Equal(t, DefaultBatchSize, sink.batchSize)
}
