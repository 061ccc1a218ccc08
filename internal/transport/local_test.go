package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nlazarev/pairsync/internal/errs"
	"github.com/nlazarev/pairsync/internal/model"
	"github.com/nlazarev/pairsync/internal/protocol"
)

func testEnvelope(sender string) protocol.Envelope {
	return protocol.Envelope{
		Type:     protocol.TypePresenceUpdate,
		SenderID: sender,
		Snapshot: &model.PresenceSnapshot{ID: sender},
	}
}

func TestLocal_FanOut(t *testing.T) {
	t.Parallel()
	bus := NewLocal()
	defer bus.Close()

	var mu sync.Mutex
	got := map[int]int{}
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(func(protocol.Envelope) {
			mu.Lock()
			got[i]++
			mu.Unlock()
			wg.Done()
		})
	}

	if err := bus.Publish(context.Background(), testEnvelope("a")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery timed out: %v", got)
	}
	for i := 0; i < 3; i++ {
		if got[i] != 1 {
			t.Fatalf("subscriber %d received %d envelopes", i, got[i])
		}
	}
}

func TestLocal_Unsubscribe(t *testing.T) {
	t.Parallel()
	bus := NewLocal()
	defer bus.Close()

	delivered := make(chan struct{}, 4)
	unsub := bus.Subscribe(func(protocol.Envelope) { delivered <- struct{}{} })
	unsub()

	if err := bus.Publish(context.Background(), testEnvelope("a")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-delivered:
		t.Fatalf("unsubscribed handler still got an envelope")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocal_PublishValidatesAndCloses(t *testing.T) {
	t.Parallel()
	bus := NewLocal()

	if err := bus.Publish(context.Background(), protocol.Envelope{Type: "bogus", SenderID: "a"}); !errors.Is(err, errs.ErrInvalidEnvelope) {
		t.Fatalf("want ErrInvalidEnvelope, got %v", err)
	}

	_ = bus.Close()
	if err := bus.Publish(context.Background(), testEnvelope("a")); !errors.Is(err, errs.ErrClosed) {
		t.Fatalf("want ErrClosed after close, got %v", err)
	}
}
