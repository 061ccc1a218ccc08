package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nlazarev/pairsync/internal/model"
	"github.com/nlazarev/pairsync/internal/protocol"
)

// onEnvelope is the transport subscription callback. It forwards into
// the event loop so inbound dispatch is serialized with local operations.
func (e *Engine) onEnvelope(env protocol.Envelope) {
	e.post(func() { e.dispatch(env) })
}

// dispatch filters and routes one inbound envelope. Runs on the event
// loop. Irrelevant or malformed traffic is dropped silently: a peer on a
// shared broadcast channel sees plenty of envelopes that are not for it.
func (e *Engine) dispatch(env protocol.Envelope) {
	if err := env.Validate(); err != nil {
		e.log.Debug("dropping invalid envelope", zap.Error(err))
		return
	}
	_, known := e.links[env.SenderID]
	if !protocol.Relevant(env, e.ident.ID, e.ident.RoomCode, known) {
		return
	}

	switch env.Type {
	case protocol.TypeHandshakeRequest:
		e.handleHandshake(env)
	case protocol.TypePresenceUpdate:
		e.handleUpdate(env)
	case protocol.TypeChatMessage:
		e.handleChat(env)
	case protocol.TypeTyping:
		e.handleTyping(env)
	case protocol.TypeUnlink:
		e.handleUnlink(env)
	}
}

// handleHandshake implements the auto-accept design: any request that
// reached the correct room code is implicit consent, so the receiver
// links immediately. Initiator requests get a non-initiator reply
// addressed back at the sender's code, which completes the loop.
func (e *Engine) handleHandshake(env protocol.Envelope) {
	fresh := !e.linkExists(env.SenderID)
	e.upsertLink(env.SenderID, env.SenderRoomCode, *env.Snapshot)
	// covers crossed simultaneous handshakes as well as the reply path
	delete(e.pending, env.SenderRoomCode)

	if fresh {
		e.log.Info("linked",
			zap.String("partner", env.SenderID),
			zap.String("partnerRoomCode", env.SenderRoomCode),
		)
		e.cfg.Notifier.Notify("Linked", fmt.Sprintf("%s is now syncing with you", env.Snapshot.Name), "link")
	}

	if env.IsInitiator {
		reply := e.handshakeEnvelope(env.SenderRoomCode, false)
		if err := e.cfg.Transport.Publish(context.Background(), reply); err != nil {
			e.log.Warn("handshake reply failed", zap.Error(err))
		}
	}
}

// handleUpdate merges a steady-state presence broadcast from a linked
// partner.
func (e *Engine) handleUpdate(env protocol.Envelope) {
	if !e.linkExists(env.SenderID) {
		return
	}
	e.upsertLink(env.SenderID, env.SenderRoomCode, *env.Snapshot)
}

// handleChat appends an inbound message. Only linked senders may write,
// duplicates are dropped by message id, and the embedded sender must
// match the envelope sender.
func (e *Engine) handleChat(env protocol.Envelope) {
	if env.TargetID != e.ident.ID {
		return
	}
	if !e.linkExists(env.SenderID) {
		return
	}
	msg := *env.Message
	if msg.SenderID != env.SenderID {
		e.log.Debug("dropping chat with mismatched sender",
			zap.String("envelope", env.SenderID), zap.String("message", msg.SenderID))
		return
	}

	key := model.ThreadKey(e.ident.ID, env.SenderID)
	if err := e.cfg.Store.AppendMessage(context.Background(), key, msg); err != nil {
		e.log.Warn("persist inbound message failed", zap.Error(err))
	}
	// an arriving message supersedes any composing indicator
	delete(e.typing, env.SenderID)
	e.touch(env.SenderID)

	sender := e.links[env.SenderID].Snapshot.Name
	e.cfg.Notifier.Notify(sender, msg.Text, "chat")
}

// handleTyping merges the ephemeral composing flag; last received wins.
func (e *Engine) handleTyping(env protocol.Envelope) {
	if env.TargetID != e.ident.ID || !e.linkExists(env.SenderID) {
		return
	}
	if *env.Typing {
		e.typing[env.SenderID] = e.now() + e.cfg.TypingTTL.Milliseconds()
	} else {
		delete(e.typing, env.SenderID)
	}
	e.touch(env.SenderID)
}

// handleUnlink deletes the local record for the sender. No ack, by design.
func (e *Engine) handleUnlink(env protocol.Envelope) {
	if env.TargetID != e.ident.ID || !e.linkExists(env.SenderID) {
		return
	}
	delete(e.links, env.SenderID)
	delete(e.typing, env.SenderID)
	if err := e.cfg.Store.DeleteLink(context.Background(), env.SenderID); err != nil {
		e.log.Warn("delete link failed", zap.Error(err))
	}
	e.log.Info("unlinked by partner", zap.String("partner", env.SenderID))
}

func (e *Engine) linkExists(partnerID string) bool {
	_, ok := e.links[partnerID]
	return ok
}

// upsertLink creates or refreshes the record for a partner, applying
// last-write-wins to the embedded snapshot. The stored snapshot is only
// replaced when the incoming one is strictly newer; equal or older
// timestamps mean a duplicate or out-of-order delivery and are dropped.
// LastSeenAt always advances: the envelope itself proves liveness.
func (e *Engine) upsertLink(partnerID, roomCode string, incoming model.PresenceSnapshot) {
	now := e.now()
	existing, ok := e.links[partnerID]
	if !ok {
		e.links[partnerID] = model.LinkRecord{
			PartnerID:       partnerID,
			PartnerRoomCode: roomCode,
			Snapshot:        incoming,
			LastSeenAt:      now,
		}
		e.persistLink(partnerID)
		return
	}

	existing.PartnerRoomCode = roomCode
	existing.LastSeenAt = now
	if incoming.Activity.UpdatedAt > existing.Snapshot.Activity.UpdatedAt {
		if activityChanged(existing.Snapshot, incoming) {
			e.cfg.Notifier.Notify(
				incoming.Name,
				fmt.Sprintf("Now %s", describeActivity(incoming.Activity)),
				"presence",
			)
		}
		existing.Snapshot = incoming
	}
	e.links[partnerID] = existing
	e.persistLink(partnerID)
}

// touch advances LastSeenAt for any inbound envelope from a partner.
func (e *Engine) touch(partnerID string) {
	if l, ok := e.links[partnerID]; ok {
		l.LastSeenAt = e.now()
		e.links[partnerID] = l
		e.persistLink(partnerID)
	}
}

func (e *Engine) persistLink(partnerID string) {
	l, ok := e.links[partnerID]
	if !ok {
		return
	}
	if err := e.cfg.Store.SaveLink(context.Background(), l); err != nil {
		e.log.Warn("persist link failed", zap.Error(err))
	}
}

// activityChanged reports a meaningful change worth a notification:
// a different kind or a different custom label.
func activityChanged(old, incoming model.PresenceSnapshot) bool {
	return old.Activity.Kind != incoming.Activity.Kind ||
		old.Activity.CustomLabel != incoming.Activity.CustomLabel
}

func describeActivity(a model.Activity) string {
	if a.Kind == model.ActivityCustom && a.CustomLabel != "" {
		return a.CustomLabel
	}
	return string(a.Kind)
}
