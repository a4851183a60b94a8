// Package confirmation implements ports.ConfirmationChannel over the
// session WebSocket: a tool.call_request envelope goes out to the client,
// and the matching tool.confirmation envelope (decoded by the transport and
// handed to Resolve) wakes the waiting Request call. Correlation is by tool
// call id, grounded on the teacher's pendingAcks map keyed by stanza id
// (_examples/longregen-alicia/internal/adapters/livekit/agent.go).
package confirmation

import (
	"context"
	"fmt"
	"sync"

	"github.com/sageclinic/orchestrator/internal/ports"
	"github.com/sageclinic/orchestrator/internal/protocol"
)

// Sender pushes one outbound envelope to the session's connection. The
// server package's WebSocket session implements this by encoding with
// protocol.Codec and writing a binary frame.
type Sender interface {
	Send(ctx context.Context, eventType protocol.EventType, body any) error
}

// Channel is one session's confirmation round-trip state. It is
// session-scoped, not shared: the server constructs one Channel per
// connection, since ports.ConfirmationChannel.Request carries no session id
// of its own.
type Channel struct {
	sender Sender

	mu      sync.Mutex
	pending map[string]chan bool
}

func New(sender Sender) *Channel {
	return &Channel{sender: sender, pending: make(map[string]chan bool)}
}

// Request implements ports.ConfirmationChannel. It sends a tool.call_request
// and blocks until Resolve is called with the matching callID or ctx is
// done (the executor bounds ctx with its own confirmation timeout).
func (c *Channel) Request(ctx context.Context, callID string, payload map[string]any) (bool, error) {
	wait := make(chan bool, 1)

	c.mu.Lock()
	if _, exists := c.pending[callID]; exists {
		c.mu.Unlock()
		return false, fmt.Errorf("confirmation: duplicate request for call %s", callID)
	}
	c.pending[callID] = wait
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, callID)
		c.mu.Unlock()
	}()

	req := protocol.ToolCallRequest{CallID: callID, Arguments: payload}
	if err := c.sender.Send(ctx, protocol.EventToolCallRequest, &req); err != nil {
		return false, fmt.Errorf("confirmation: failed to send request: %w", err)
	}

	select {
	case approved := <-wait:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve wakes a pending Request with the client's decision. It is a
// no-op if callID has no pending request (already timed out, or a stray
// confirmation for an unknown call), grounded on the teacher's ack handler
// silently dropping unmatched stanza ids (agent.go's handleAck).
func (c *Channel) Resolve(callID string, approved bool) {
	c.mu.Lock()
	wait, ok := c.pending[callID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case wait <- approved:
	default:
	}
}

var _ ports.ConfirmationChannel = (*Channel)(nil)
