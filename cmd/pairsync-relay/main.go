// Command pairsync-relay runs the websocket broadcast relay peers meet
// on. The relay never inspects envelopes: every text frame received from
// one connection is forwarded to all the others.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type relay struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newRelay(log *zap.Logger) *relay {
	return &relay{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[*websocket.Conn]bool{},
	}
}

func (r *relay) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	r.mu.Lock()
	r.clients[conn] = true
	n := len(r.clients)
	r.mu.Unlock()
	r.log.Info("peer connected",
		zap.String("remote", conn.RemoteAddr().String()), zap.Int("online", n))

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		r.broadcast(conn, data)
	}

	r.mu.Lock()
	delete(r.clients, conn)
	n = len(r.clients)
	r.mu.Unlock()
	r.log.Info("peer disconnected",
		zap.String("remote", conn.RemoteAddr().String()), zap.Int("online", n))
}

// broadcast forwards one frame to every connection except its origin.
func (r *relay) broadcast(from *websocket.Conn, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		if c == from {
			continue
		}
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			_ = c.Close()
			delete(r.clients, c)
		}
	}
}

func main() {
	addr := flag.String("addr", ":8765", "listen address")
	dev := flag.Bool("dev", false, "development logging")
	flag.Parse()

	logger, _ := zap.NewProduction()
	if *dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := newRelay(logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", r.handleWS)

	srv := &http.Server{Addr: *addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", *addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
