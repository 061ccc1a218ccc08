// Package transport abstracts the broadcast channel peers communicate
// over. A transport delivers every published envelope to all current
// subscribers; filtering, addressing and deduplication are session-layer
// concerns.
package transport

import (
	"context"

	"github.com/nlazarev/pairsync/internal/protocol"
)

// Handler receives one decoded inbound envelope. Handlers must not block;
// slow consumers should hand off to their own queue.
type Handler func(protocol.Envelope)

// Transport is a multi-writer broadcast medium.
type Transport interface {
	// Publish broadcasts the envelope to all subscribers. Depending on the
	// implementation the publisher may receive its own envelope back.
	Publish(ctx context.Context, env protocol.Envelope) error

	// Subscribe registers a handler for inbound envelopes and returns a
	// function that removes it.
	Subscribe(h Handler) (unsubscribe func())

	// Close tears the transport down; Publish afterwards returns errs.ErrClosed.
	Close() error
}

// ThreadPurger is implemented by durable transports that retain chat
// history remotely and can delete it for a two-sided thread clear.
type ThreadPurger interface {
	PurgeThread(ctx context.Context, threadKey string) error
}
