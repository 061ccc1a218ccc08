package transport

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nlazarev/pairsync/internal/errs"
	"github.com/nlazarev/pairsync/internal/protocol"
)

// Redis broadcasts envelopes over a single Redis pub/sub channel. Like
// the other shared-channel transports, the publisher's own envelopes come
// back through the subscription and are filtered by the session layer.
type Redis struct {
	client  *redis.Client
	channel string
	log     *zap.Logger

	mu     sync.Mutex
	subs   map[int]Handler
	nextID int
	closed bool

	pubsub *redis.PubSub
	cancel context.CancelFunc
}

// NewRedis constructs the transport and starts consuming the channel.
func NewRedis(client *redis.Client, channel string, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Redis{
		client:  client,
		channel: channel,
		log:     log,
		subs:    map[int]Handler{},
		pubsub:  client.Subscribe(ctx, channel),
		cancel:  cancel,
	}
	go r.receiveLoop()
	return r
}

var _ Transport = (*Redis)(nil)

// Publish sends the envelope to every subscriber of the channel.
func (r *Redis) Publish(ctx context.Context, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return errs.ErrClosed
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Subscribe registers h and returns its removal function.
func (r *Redis) Subscribe(h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Close stops the subscription; the Redis client itself stays open for
// its owner to close.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.subs = map[int]Handler{}
	r.mu.Unlock()
	r.cancel()
	return r.pubsub.Close()
}

func (r *Redis) receiveLoop() {
	for msg := range r.pubsub.Channel() {
		env, err := protocol.Decode([]byte(msg.Payload))
		if err != nil {
			r.log.Debug("dropping malformed payload", zap.Error(err))
			continue
		}
		r.mu.Lock()
		handlers := make([]Handler, 0, len(r.subs))
		for _, h := range r.subs {
			handlers = append(handlers, h)
		}
		r.mu.Unlock()
		for _, h := range handlers {
			h(env)
		}
	}
}
