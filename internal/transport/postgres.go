package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/nlazarev/pairsync/internal/errs"
	"github.com/nlazarev/pairsync/internal/migrate"
	"github.com/nlazarev/pairsync/internal/model"
	"github.com/nlazarev/pairsync/internal/protocol"
	"github.com/nlazarev/pairsync/internal/store/postgres"
)

// Postgres `NOTIFY` payloads are capped at 8000 bytes.
const pgNotifyPayloadLimit = 8000

// Postgres broadcasts envelopes via LISTEN/NOTIFY on a shared channel and
// doubles as the durable-store transport variant: chat messages are also
// written to the chat_messages table, which lets ClearThread delete the
// remote records for both peers.
type Postgres struct {
	db      *postgres.DB
	history *postgres.History
	channel string
	log     *zap.Logger

	mu     sync.Mutex
	subs   map[int]Handler
	nextID int
	closed bool

	listener *pgx.Conn
	cancel   context.CancelFunc
}

// NewPostgres opens a pool for publishing plus a dedicated listening
// connection, and starts consuming notifications.
func NewPostgres(ctx context.Context, dsn, channel string, log *zap.Logger) (*Postgres, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := migrate.Up(ctx, dsn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := postgres.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}
	listener, err := pgx.Connect(ctx, dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("listener: %w", err)
	}
	if _, err := listener.Exec(ctx, fmt.Sprintf(`LISTEN %q`, channel)); err != nil {
		_ = listener.Close(ctx)
		db.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p := &Postgres{
		db:       db,
		history:  postgres.NewHistory(db),
		channel:  channel,
		log:      log,
		subs:     map[int]Handler{},
		listener: listener,
		cancel:   cancel,
	}
	go p.receiveLoop(loopCtx)
	return p, nil
}

var _ Transport = (*Postgres)(nil)
var _ ThreadPurger = (*Postgres)(nil)

// Publish notifies every listener on the channel; chat messages are
// additionally persisted before the notify so history and broadcast
// cannot diverge.
func (p *Postgres) Publish(ctx context.Context, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if len(data) > pgNotifyPayloadLimit {
		return fmt.Errorf("%w: %d bytes", errs.ErrPayloadTooLarge, len(data))
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errs.ErrClosed
	}

	if env.Type == protocol.TypeChatMessage {
		if err := p.history.Append(ctx, env.ThreadKey(), *env.Message); err != nil {
			return fmt.Errorf("history append: %w", err)
		}
	}
	_, err = p.db.Pool.Exec(ctx, `SELECT pg_notify($1, $2)`, p.channel, string(data))
	return err
}

// Subscribe registers h and returns its removal function.
func (p *Postgres) Subscribe(h Handler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.subs[id] = h
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

// PurgeThread deletes the thread's remote history rows.
func (p *Postgres) PurgeThread(ctx context.Context, threadKey string) error {
	return p.history.Purge(ctx, threadKey)
}

// History exposes the durable chat log, e.g. for a peer restoring a
// thread it cleared only locally.
func (p *Postgres) History(ctx context.Context, a, b string) ([]model.Message, error) {
	return p.history.List(ctx, model.ThreadKey(a, b))
}

// Close stops the listener and releases both connections.
func (p *Postgres) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.subs = map[int]Handler{}
	p.mu.Unlock()

	p.cancel()
	err := p.listener.Close(context.Background())
	p.db.Close()
	return err
}

func (p *Postgres) receiveLoop(ctx context.Context) {
	for {
		n, err := p.listener.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Warn("notification wait failed", zap.Error(err))
			}
			return
		}
		env, err := protocol.Decode([]byte(n.Payload))
		if err != nil {
			p.log.Debug("dropping malformed payload", zap.Error(err))
			continue
		}
		p.mu.Lock()
		handlers := make([]Handler, 0, len(p.subs))
		for _, h := range p.subs {
			handlers = append(handlers, h)
		}
		p.mu.Unlock()
		for _, h := range handlers {
			h(env)
		}
	}
}
