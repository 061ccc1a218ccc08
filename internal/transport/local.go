package transport

import (
	"context"
	"sync"

	"github.com/nlazarev/pairsync/internal/errs"
	"github.com/nlazarev/pairsync/internal/protocol"
)

// Local is an in-process fan-out bus. Several peers in one process share
// a single Local instance; every published envelope is delivered to every
// subscriber, including the publisher's own handler.
type Local struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]Handler
	closed bool
}

// NewLocal constructs an empty in-process bus.
func NewLocal() *Local {
	return &Local{subs: map[int]Handler{}}
}

var _ Transport = (*Local)(nil)

// Publish validates the envelope and delivers it asynchronously to every
// current subscriber. Delivery order between subscribers is unspecified.
func (l *Local) Publish(_ context.Context, env protocol.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errs.ErrClosed
	}
	handlers := make([]Handler, 0, len(l.subs))
	for _, h := range l.subs {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()

	for _, h := range handlers {
		go h(env)
	}
	return nil
}

// Subscribe registers h and returns its removal function.
func (l *Local) Subscribe(h Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.subs[id] = h
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}

// Close drops all subscribers and rejects further publishes.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.subs = map[int]Handler{}
	return nil
}
