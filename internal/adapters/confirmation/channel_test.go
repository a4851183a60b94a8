package confirmation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sageclinic/orchestrator/internal/protocol"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.ToolCallRequest
}

func (f *fakeSender) Send(ctx context.Context, eventType protocol.EventType, body any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req, ok := body.(*protocol.ToolCallRequest); ok {
		f.sent = append(f.sent, *req)
	}
	return nil
}

func TestRequestReturnsApprovalFromResolve(t *testing.T) {
	sender := &fakeSender{}
	channel := New(sender)

	resultCh := make(chan bool, 1)
	errCh := make(chan error, 1)
	go func() {
		approved, err := channel.Request(context.Background(), "call-1", map[string]any{"drug": "metformin"})
		resultCh <- approved
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	channel.Resolve("call-1", true)

	select {
	case approved := <-resultCh:
		if !approved {
			t.Fatal("expected approval to be true")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Request to return")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 || sender.sent[0].CallID != "call-1" {
		t.Fatalf("unexpected sent requests: %+v", sender.sent)
	}
}

func TestRequestTimesOutWithoutResolve(t *testing.T) {
	channel := New(&fakeSender{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := channel.Request(ctx, "call-2", nil)
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestResolveIsNoopForUnknownCallID(t *testing.T) {
	channel := New(&fakeSender{})
	channel.Resolve("never-requested", true)
}

func TestDuplicateRequestForSameCallIDFails(t *testing.T) {
	sender := &fakeSender{}
	channel := New(sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		channel.Request(ctx, "call-3", nil)
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	_, err := channel.Request(context.Background(), "call-3", nil)
	if err == nil {
		t.Fatal("expected duplicate request error")
	}
}
