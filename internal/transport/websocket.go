package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nlazarev/pairsync/internal/errs"
	"github.com/nlazarev/pairsync/internal/protocol"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsRedialDelay      = 3 * time.Second
)

// Websocket connects to a relay daemon that rebroadcasts every text frame
// to all other connections. The connection is maintained by a background
// redial loop; publishes while disconnected fail fast and are not queued.
type Websocket struct {
	url string
	log *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[int]Handler
	nextID int

	done      chan struct{}
	closeOnce sync.Once
}

// NewWebsocket constructs the transport and starts its connect loop.
func NewWebsocket(url string, log *zap.Logger) *Websocket {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Websocket{
		url:  url,
		log:  log,
		subs: map[int]Handler{},
		done: make(chan struct{}),
	}
	go w.connectLoop()
	return w
}

var _ Transport = (*Websocket)(nil)

// Publish writes the envelope as one text frame on the current connection.
func (w *Websocket) Publish(_ context.Context, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
		return errs.ErrClosed
	default:
	}
	if w.conn == nil {
		return errors.New("relay not connected")
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Subscribe registers h and returns its removal function.
func (w *Websocket) Subscribe(h Handler) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.subs[id] = h
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}
}

// Close stops the redial loop and drops the connection.
func (w *Websocket) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.subs = map[int]Handler{}
	return nil
}

func (w *Websocket) connectLoop() {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	for {
		select {
		case <-w.done:
			return
		default:
		}

		conn, _, err := dialer.Dial(w.url, nil)
		if err != nil {
			w.log.Debug("relay dial failed", zap.String("url", w.url), zap.Error(err))
			select {
			case <-w.done:
				return
			case <-time.After(wsRedialDelay):
			}
			continue
		}

		w.mu.Lock()
		w.conn = conn
		w.mu.Unlock()
		w.log.Info("relay connected", zap.String("url", w.url))

		w.receiveLoop(conn)

		w.mu.Lock()
		if w.conn == conn {
			w.conn = nil
		}
		w.mu.Unlock()
		_ = conn.Close()

		select {
		case <-w.done:
			return
		case <-time.After(time.Second):
		}
	}
}

func (w *Websocket) receiveLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.log.Debug("relay read failed", zap.Error(err))
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			// garbage on a shared channel is dropped, never propagated
			w.log.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		w.dispatch(env)
	}
}

func (w *Websocket) dispatch(env protocol.Envelope) {
	w.mu.Lock()
	handlers := make([]Handler, 0, len(w.subs))
	for _, h := range w.subs {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()
	for _, h := range handlers {
		h(env)
	}
}
