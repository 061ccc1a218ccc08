// Package session implements the peer synchronization engine: the
// handshake state machine, the presence store with last-write-wins
// merging, chat threads and typing state.
//
// All state lives behind a single event loop. Public methods post
// closures onto the loop and wait for completion, so every transition is
// atomic with respect to concurrent callers and inbound traffic.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/nlazarev/pairsync/internal/enrich"
	"github.com/nlazarev/pairsync/internal/errs"
	"github.com/nlazarev/pairsync/internal/identity"
	"github.com/nlazarev/pairsync/internal/model"
	"github.com/nlazarev/pairsync/internal/notify"
	"github.com/nlazarev/pairsync/internal/protocol"
	"github.com/nlazarev/pairsync/internal/store"
	"github.com/nlazarev/pairsync/internal/transport"
)

// PairingState describes the link lifecycle for one candidate partner.
type PairingState int

const (
	// Unlinked means no LinkRecord and no handshake in flight.
	Unlinked PairingState = iota
	// HandshakeSent means a request was broadcast and no reply arrived yet.
	HandshakeSent
	// Linked means a LinkRecord exists and steady-state traffic flows.
	Linked
)

// Defaults applied by New for zero Config values.
const (
	DefaultResendDelay    = 500 * time.Millisecond
	DefaultLivenessWindow = 2 * time.Minute
	DefaultTypingTTL      = 5 * time.Second
)

// Config wires the engine's collaborators. Transport and Store are
// required; everything else is defaulted.
type Config struct {
	Transport transport.Transport
	Store     store.Store
	Logger    *zap.Logger

	Caption  enrich.CaptionFunc
	Weather  enrich.WeatherFunc
	Locator  enrich.LocatorFunc
	Notifier notify.Notifier

	// Clock returns unix milliseconds; swapped out in tests.
	Clock func() int64

	ResendDelay    time.Duration
	LivenessWindow time.Duration
	TypingTTL      time.Duration
}

// Engine is the synchronization core for one local peer.
type Engine struct {
	cfg Config
	log *zap.Logger

	idm *identity.Manager

	ident  model.PeerIdentity
	self   model.PresenceSnapshot
	links  map[string]model.LinkRecord // partner id -> record
	typing map[string]int64            // partner id -> expiry millis
	// room codes with an unanswered outbound handshake
	pending map[string]bool

	events      chan func()
	done        chan struct{}
	stopOnce    sync.Once
	unsubscribe func()
}

// New validates the config and constructs an engine. Start must be
// called before any other method.
func New(cfg Config) (*Engine, error) {
	if cfg.Transport == nil {
		return nil, errors.New("session: nil transport")
	}
	if cfg.Store == nil {
		return nil, errors.New("session: nil store")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Caption == nil {
		cfg.Caption = enrich.Caption
	}
	if cfg.Weather == nil {
		cfg.Weather = enrich.SimulatedWeather
	}
	if cfg.Locator == nil {
		cfg.Locator = enrich.NoLocation
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if cfg.ResendDelay <= 0 {
		cfg.ResendDelay = DefaultResendDelay
	}
	if cfg.LivenessWindow <= 0 {
		cfg.LivenessWindow = DefaultLivenessWindow
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = DefaultTypingTTL
	}
	return &Engine{
		cfg:     cfg,
		log:     cfg.Logger,
		idm:     identity.NewManager(cfg.Store),
		links:   map[string]model.LinkRecord{},
		typing:  map[string]int64{},
		pending: map[string]bool{},
		events:  make(chan func(), 64),
		done:    make(chan struct{}),
	}, nil
}

// Start restores persisted state, subscribes to the transport and runs
// the event loop until Stop.
func (e *Engine) Start(ctx context.Context) error {
	ident, err := e.idm.Load(ctx)
	if err != nil {
		return err
	}
	e.ident = ident

	if saved, err := e.cfg.Store.LoadSelf(ctx); err == nil {
		e.self = *saved
		e.self.ID = ident.ID
	} else if errors.Is(err, errs.ErrNotFound) {
		e.self = model.PresenceSnapshot{
			ID:       ident.ID,
			Name:     "Me",
			Activity: model.InitialActivity(e.cfg.Clock()),
		}
		if err := e.cfg.Store.SaveSelf(ctx, e.self); err != nil {
			return fmt.Errorf("save self: %w", err)
		}
	} else {
		return fmt.Errorf("load self: %w", err)
	}

	links, err := e.cfg.Store.ListLinks(ctx)
	if err != nil {
		return fmt.Errorf("load links: %w", err)
	}
	for _, l := range links {
		e.links[l.PartnerID] = l
	}

	go e.run()
	e.unsubscribe = e.cfg.Transport.Subscribe(e.onEnvelope)
	e.log.Info("engine started",
		zap.String("id", e.ident.ID),
		zap.String("roomCode", e.ident.RoomCode),
		zap.Int("links", len(e.links)),
	)
	return nil
}

// Stop detaches from the transport and halts the event loop.
func (e *Engine) Stop() {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.stopOnce.Do(func() { close(e.done) })
}

func (e *Engine) run() {
	for {
		select {
		case <-e.done:
			return
		case fn := <-e.events:
			fn()
		}
	}
}

// do executes fn on the event loop and waits for it.
func (e *Engine) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case e.events <- func() { fn(); close(ran) }:
	case <-e.done:
		return errs.ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-e.done:
		return errs.ErrClosed
	}
}

// post schedules fn without waiting; used by the transport handler.
func (e *Engine) post(fn func()) {
	select {
	case e.events <- fn:
	case <-e.done:
	}
}

// now returns the engine clock in unix milliseconds.
func (e *Engine) now() int64 { return e.cfg.Clock() }

// --- queries ---

// Identity returns the local peer identity.
func (e *Engine) Identity() (model.PeerIdentity, error) {
	var out model.PeerIdentity
	err := e.do(func() { out = e.ident })
	return out, err
}

// Self returns the owner's current snapshot.
func (e *Engine) Self() (model.PresenceSnapshot, error) {
	var out model.PresenceSnapshot
	err := e.do(func() { out = e.self })
	return out, err
}

// Partners returns every LinkRecord.
func (e *Engine) Partners() ([]model.LinkRecord, error) {
	var out []model.LinkRecord
	err := e.do(func() {
		out = make([]model.LinkRecord, 0, len(e.links))
		for _, l := range e.links {
			out = append(out, l)
		}
	})
	return out, err
}

// Partner returns the LinkRecord for partnerID or errs.ErrNotLinked.
func (e *Engine) Partner(partnerID string) (model.LinkRecord, error) {
	var out model.LinkRecord
	var found bool
	if err := e.do(func() { out, found = e.links[partnerID] }); err != nil {
		return model.LinkRecord{}, err
	}
	if !found {
		return model.LinkRecord{}, errs.ErrNotLinked
	}
	return out, nil
}

// Online reports whether the partner was heard from within the liveness
// window. Derived on read, never stored.
func (e *Engine) Online(partnerID string) (bool, error) {
	var online bool
	err := e.do(func() {
		if l, ok := e.links[partnerID]; ok {
			online = e.now()-l.LastSeenAt < e.cfg.LivenessWindow.Milliseconds()
		}
	})
	return online, err
}

// State reports the pairing state for a target room code.
func (e *Engine) State(targetRoomCode string) (PairingState, error) {
	code := normalizeCode(targetRoomCode)
	var st PairingState
	err := e.do(func() {
		for _, l := range e.links {
			if l.PartnerRoomCode == code {
				st = Linked
				return
			}
		}
		if e.pending[code] {
			st = HandshakeSent
		}
	})
	return st, err
}

// Messages returns the chat thread with partnerID, oldest first.
func (e *Engine) Messages(ctx context.Context, partnerID string) ([]model.Message, error) {
	var key string
	if err := e.do(func() { key = model.ThreadKey(e.ident.ID, partnerID) }); err != nil {
		return nil, err
	}
	return e.cfg.Store.ListMessages(ctx, key)
}

// TypingPartners returns ids of partners currently composing a message.
// Entries decay after the typing TTL, which covers a lost "stopped" signal.
func (e *Engine) TypingPartners() ([]string, error) {
	var out []string
	err := e.do(func() {
		now := e.now()
		for id, expiry := range e.typing {
			if now < expiry {
				out = append(out, id)
			} else {
				delete(e.typing, id)
			}
		}
	})
	return out, err
}

// --- local operations ---

// RequestLink broadcasts a handshake request at the target room code and
// schedules a single re-send, covering the race where the remote peer
// attaches its listener just after the first broadcast. Fire-and-forget:
// no failure is surfaced if the code is never answered.
func (e *Engine) RequestLink(ctx context.Context, targetRoomCode string) error {
	code := normalizeCode(targetRoomCode)
	if len(code) == 0 {
		return fmt.Errorf("%w: empty room code", errs.ErrInvalidEnvelope)
	}
	var env protocol.Envelope
	if err := e.do(func() {
		e.pending[code] = true
		env = e.handshakeEnvelope(code, true)
	}); err != nil {
		return err
	}
	if err := e.publish(ctx, env); err != nil {
		return err
	}

	time.AfterFunc(e.cfg.ResendDelay, func() {
		e.post(func() {
			if !e.pending[code] {
				return
			}
			resend := e.handshakeEnvelope(code, true)
			if err := e.publish(context.Background(), resend); err != nil {
				e.log.Warn("handshake re-send failed", zap.Error(err))
			}
		})
	})
	return nil
}

// RotateRoomCode replaces the discovery address. Existing links are keyed
// by peer id and keep working; only future discovery changes.
func (e *Engine) RotateRoomCode(ctx context.Context) (string, error) {
	var out string
	var rerr error
	err := e.do(func() {
		ident, err := e.idm.Rotate(ctx, e.ident)
		if err != nil {
			rerr = err
			return
		}
		e.ident = ident
		out = ident.RoomCode
	})
	if err != nil {
		return "", err
	}
	return out, rerr
}

// SetActivity updates the owner's activity kind, enriching it with a
// caption and (best-effort, time-bounded) weather before broadcasting.
func (e *Engine) SetActivity(ctx context.Context, kind model.ActivityKind, customLabel string) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown activity kind %q", kind)
	}
	if kind != model.ActivityCustom {
		customLabel = ""
	}
	statusLabel := "Automatic Sync"
	if customLabel != "" {
		statusLabel = "Custom Status"
	}

	// Enrichment happens before entering the loop so a slow weather
	// provider can never stall inbound dispatch. The fetch is bounded;
	// on expiry the update simply goes out without weather.
	caption := e.cfg.Caption(kind, statusLabel, "")
	weather := enrich.Weather(ctx, e.cfg.Locator, e.cfg.Weather)

	return e.applyLocalUpdate(ctx, func(s *model.PresenceSnapshot) {
		s.Activity.Kind = kind
		s.Activity.CustomLabel = customLabel
		s.Activity.StatusLabel = statusLabel
		s.Activity.Caption = caption
		if weather != nil {
			s.Activity.Weather = weather
		}
	})
}

// SetMood updates the owner's mood label.
func (e *Engine) SetMood(ctx context.Context, mood string) error {
	if strings.TrimSpace(mood) == "" {
		return errors.New("empty mood")
	}
	return e.applyLocalUpdate(ctx, func(s *model.PresenceSnapshot) {
		s.Activity.Mood = mood
	})
}

// SetName updates the owner's display name.
func (e *Engine) SetName(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("empty name")
	}
	return e.applyLocalUpdate(ctx, func(s *model.PresenceSnapshot) {
		s.Name = name
	})
}

// SetAvatar updates the owner's avatar reference.
func (e *Engine) SetAvatar(ctx context.Context, avatar string) error {
	return e.applyLocalUpdate(ctx, func(s *model.PresenceSnapshot) {
		s.Avatar = avatar
	})
}

// SetGender updates the owner's declared gender.
func (e *Engine) SetGender(ctx context.Context, g model.Gender) error {
	return e.applyLocalUpdate(ctx, func(s *model.PresenceSnapshot) {
		s.Gender = g
	})
}

// applyLocalUpdate mutates the owner's snapshot, stamps a strictly
// increasing UpdatedAt, persists and broadcasts the full snapshot.
func (e *Engine) applyLocalUpdate(ctx context.Context, mut func(*model.PresenceSnapshot)) error {
	var env protocol.Envelope
	if err := e.do(func() {
		mut(&e.self)
		ts := e.now()
		if ts <= e.self.Activity.UpdatedAt {
			ts = e.self.Activity.UpdatedAt + 1
		}
		e.self.Activity.UpdatedAt = ts

		if err := e.cfg.Store.SaveSelf(ctx, e.self); err != nil {
			e.log.Warn("persist self failed", zap.Error(err))
		}
		snap := e.self
		env = protocol.Envelope{
			Type:           protocol.TypePresenceUpdate,
			SenderID:       e.ident.ID,
			SenderRoomCode: e.ident.RoomCode,
			Snapshot:       &snap,
		}
	}); err != nil {
		return err
	}
	return e.publish(ctx, env)
}

// SendMessage appends the message locally (optimistic) and publishes it
// addressed to the partner. Returns errs.ErrNotLinked for strangers.
func (e *Engine) SendMessage(ctx context.Context, partnerID, text string) (model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return model.Message{}, errors.New("empty message")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Message{}, err
	}

	var env protocol.Envelope
	var msg model.Message
	var serr error
	if err := e.do(func() {
		if _, ok := e.links[partnerID]; !ok {
			serr = errs.ErrNotLinked
			return
		}
		msg = model.Message{
			ID:       id.String(),
			SenderID: e.ident.ID,
			Text:     text,
			SentAt:   e.now(),
		}
		key := model.ThreadKey(e.ident.ID, partnerID)
		if err := e.cfg.Store.AppendMessage(ctx, key, msg); err != nil {
			e.log.Warn("persist message failed", zap.Error(err))
		}
		env = protocol.Envelope{
			Type:           protocol.TypeChatMessage,
			SenderID:       e.ident.ID,
			SenderRoomCode: e.ident.RoomCode,
			TargetID:       partnerID,
			Message:        &msg,
		}
	}); err != nil {
		return model.Message{}, err
	}
	if serr != nil {
		return model.Message{}, serr
	}
	return msg, e.publish(ctx, env)
}

// SetTyping publishes the ephemeral composing indicator. Never persisted,
// never replayed.
func (e *Engine) SetTyping(ctx context.Context, partnerID string, isTyping bool) error {
	var env protocol.Envelope
	var serr error
	if err := e.do(func() {
		if _, ok := e.links[partnerID]; !ok {
			serr = errs.ErrNotLinked
			return
		}
		flag := isTyping
		env = protocol.Envelope{
			Type:           protocol.TypeTyping,
			SenderID:       e.ident.ID,
			SenderRoomCode: e.ident.RoomCode,
			TargetID:       partnerID,
			Typing:         &flag,
		}
	}); err != nil {
		return err
	}
	if serr != nil {
		return serr
	}
	return e.publish(ctx, env)
}

// ClearThread wipes the chat history with partnerID on both sides when
// the transport retains it remotely. Destructive and non-undoable; the
// caller is responsible for confirmation.
func (e *Engine) ClearThread(ctx context.Context, partnerID string) error {
	var key string
	if err := e.do(func() { key = model.ThreadKey(e.ident.ID, partnerID) }); err != nil {
		return err
	}
	if err := e.cfg.Store.ClearThread(ctx, key); err != nil {
		return err
	}
	if purger, ok := e.cfg.Transport.(transport.ThreadPurger); ok {
		if err := purger.PurgeThread(ctx, key); err != nil {
			return fmt.Errorf("remote purge: %w", err)
		}
	}
	return nil
}

// Unlink deletes the LinkRecord and tells the partner to do the same.
// At-most-once: a lost unlink envelope leaves the partner with a stale
// record that decays via the liveness window and cannot resurrect ours.
func (e *Engine) Unlink(ctx context.Context, partnerID string) error {
	var env protocol.Envelope
	var serr error
	if err := e.do(func() {
		if _, ok := e.links[partnerID]; !ok {
			serr = errs.ErrNotLinked
			return
		}
		delete(e.links, partnerID)
		delete(e.typing, partnerID)
		if err := e.cfg.Store.DeleteLink(ctx, partnerID); err != nil {
			e.log.Warn("delete link failed", zap.Error(err))
		}
		env = protocol.Envelope{
			Type:           protocol.TypeUnlink,
			SenderID:       e.ident.ID,
			SenderRoomCode: e.ident.RoomCode,
			TargetID:       partnerID,
		}
	}); err != nil {
		return err
	}
	if serr != nil {
		return serr
	}
	return e.publish(ctx, env)
}

// WipeLocal erases all persisted state and in-memory links. Destructive;
// the identity is regenerated on next Start.
func (e *Engine) WipeLocal(ctx context.Context) error {
	return e.do(func() {
		if err := e.cfg.Store.Wipe(ctx); err != nil {
			e.log.Error("wipe failed", zap.Error(err))
			return
		}
		e.links = map[string]model.LinkRecord{}
		e.typing = map[string]int64{}
		e.pending = map[string]bool{}
	})
}

// handshakeEnvelope builds a request carrying the current snapshot.
// Called on the event loop.
func (e *Engine) handshakeEnvelope(targetCode string, initiator bool) protocol.Envelope {
	snap := e.self
	return protocol.Envelope{
		Type:           protocol.TypeHandshakeRequest,
		SenderID:       e.ident.ID,
		SenderRoomCode: e.ident.RoomCode,
		TargetRoomCode: targetCode,
		IsInitiator:    initiator,
		Snapshot:       &snap,
	}
}

func (e *Engine) publish(ctx context.Context, env protocol.Envelope) error {
	if err := e.cfg.Transport.Publish(ctx, env); err != nil {
		e.log.Warn("publish failed",
			zap.String("type", string(env.Type)), zap.Error(err))
		return err
	}
	return nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
