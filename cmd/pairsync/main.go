// Command pairsync is a small terminal client around the session engine:
// it links to a partner by room code, mirrors their presence and chats.
// All protocol logic lives in internal/session; this program only wires
// collaborators and translates stdin lines into engine calls.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nlazarev/pairsync/internal/enrich"
	"github.com/nlazarev/pairsync/internal/model"
	"github.com/nlazarev/pairsync/internal/notify"
	"github.com/nlazarev/pairsync/internal/session"
	"github.com/nlazarev/pairsync/internal/store"
	"github.com/nlazarev/pairsync/internal/store/sqlite"
	"github.com/nlazarev/pairsync/internal/transport"
)

func main() {
	transportKind := flag.String("transport", "ws", "transport: ws, redis or postgres")
	relayURL := flag.String("relay", "ws://localhost:8765/ws", "relay websocket URL (ws transport)")
	redisAddr := flag.String("redis-addr", "localhost:6379", "redis address (redis transport)")
	pgDSN := flag.String("pg-dsn", "", "postgres DSN (postgres transport)")
	channel := flag.String("channel", "pairsync", "broadcast channel name (redis and postgres transports)")
	dbPath := flag.String("db", "pairsync.db", "local state database (empty for in-memory)")
	name := flag.String("name", "", "display name")
	link := flag.String("link", "", "room code to link with on startup")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	var st store.Store
	if *dbPath == "" {
		st = store.NewMemory()
	} else {
		s, err := sqlite.Open(*dbPath)
		if err != nil {
			logger.Fatal("open store", zap.Error(err))
		}
		st = s
	}
	defer st.Close()

	var tr transport.Transport
	switch *transportKind {
	case "ws":
		tr = transport.NewWebsocket(*relayURL, logger)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer client.Close()
		tr = transport.NewRedis(client, *channel, logger)
	case "postgres":
		if *pgDSN == "" {
			logger.Fatal("postgres transport requires -pg-dsn")
		}
		pg, err := transport.NewPostgres(context.Background(), *pgDSN, *channel, logger)
		if err != nil {
			logger.Fatal("postgres transport", zap.Error(err))
		}
		tr = pg
	default:
		logger.Fatal("unknown transport", zap.String("transport", *transportKind))
	}
	defer tr.Close()

	eng, err := session.New(session.Config{
		Transport: tr,
		Store:     st,
		Logger:    logger,
		Notifier:  notify.Logger{Log: logger},
	})
	if err != nil {
		logger.Fatal("engine", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("start", zap.Error(err))
	}
	defer eng.Stop()

	if *name != "" {
		if err := eng.SetName(ctx, *name); err != nil {
			logger.Warn("set name", zap.Error(err))
		}
	}

	ident, _ := eng.Identity()
	fmt.Println(enrich.WelcomePhrases[rand.Intn(len(enrich.WelcomePhrases))])
	fmt.Printf("your room code: %s\n", ident.RoomCode)

	if *link != "" {
		if err := eng.RequestLink(ctx, *link); err != nil {
			logger.Warn("link request", zap.Error(err))
		}
	}

	go watchPartners(ctx, eng)

	repl(ctx, eng)
}

// watchPartners polls link state and prints presence transitions.
func watchPartners(ctx context.Context, eng *session.Engine) {
	seen := map[string]int64{}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		partners, err := eng.Partners()
		if err != nil {
			return
		}
		for _, p := range partners {
			if seen[p.PartnerID] == p.Snapshot.Activity.UpdatedAt {
				continue
			}
			seen[p.PartnerID] = p.Snapshot.Activity.UpdatedAt
			a := p.Snapshot.Activity
			label := string(a.Kind)
			if a.Kind == model.ActivityCustom && a.CustomLabel != "" {
				label = a.CustomLabel
			}
			fmt.Printf("[%s] %s | %s  %q\n", p.Snapshot.Name, label, a.Mood, a.Caption)
		}
	}
}

func repl(ctx context.Context, eng *session.Engine) {
	sc := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: /activity KIND [label] /mood M /msg ID TEXT /typing ID on|off /rotate /unlink ID /clear ID /partners /quit")
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		var err error
		switch fields[0] {
		case "/quit":
			return
		case "/rotate":
			var code string
			if code, err = eng.RotateRoomCode(ctx); err == nil {
				fmt.Printf("new room code: %s\n", code)
			}
		case "/activity":
			if len(fields) < 2 {
				fmt.Println("usage: /activity KIND [label]")
				continue
			}
			err = eng.SetActivity(ctx, model.ActivityKind(fields[1]), strings.Join(fields[2:], " "))
		case "/mood":
			err = eng.SetMood(ctx, strings.Join(fields[1:], " "))
		case "/msg":
			if len(fields) < 3 {
				fmt.Println("usage: /msg PARTNER_ID TEXT")
				continue
			}
			_, err = eng.SendMessage(ctx, fields[1], strings.Join(fields[2:], " "))
		case "/typing":
			if len(fields) != 3 {
				fmt.Println("usage: /typing PARTNER_ID on|off")
				continue
			}
			err = eng.SetTyping(ctx, fields[1], fields[2] == "on")
		case "/unlink":
			if len(fields) != 2 {
				fmt.Println("usage: /unlink PARTNER_ID")
				continue
			}
			err = eng.Unlink(ctx, fields[1])
		case "/clear":
			if len(fields) != 2 {
				fmt.Println("usage: /clear PARTNER_ID")
				continue
			}
			// two-sided and non-undoable, hence the explicit confirmation
			fmt.Print("clear chat history on both sides? type yes: ")
			if !sc.Scan() || strings.TrimSpace(sc.Text()) != "yes" {
				fmt.Println("aborted")
				continue
			}
			err = eng.ClearThread(ctx, fields[1])
		case "/partners":
			partners, perr := eng.Partners()
			if perr != nil {
				err = perr
				break
			}
			for _, p := range partners {
				online, _ := eng.Online(p.PartnerID)
				fmt.Printf("%s  %s  online=%v\n", p.PartnerID, p.Snapshot.Name, online)
			}
		default:
			if len(fields) >= 2 {
				// bare "CODE" style input links by room code
				fmt.Println("unknown command")
				continue
			}
			err = eng.RequestLink(ctx, fields[0])
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}
