// Package protocol defines the wire envelope exchanged between peers and
// the relevance rules for inbound traffic on a shared broadcast channel.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/nlazarev/pairsync/internal/errs"
	"github.com/nlazarev/pairsync/internal/model"
)

// EnvelopeType discriminates the payload of an Envelope.
type EnvelopeType string

const (
	TypeHandshakeRequest EnvelopeType = "handshake_request"
	TypePresenceUpdate   EnvelopeType = "presence_update"
	TypeChatMessage      EnvelopeType = "chat_message"
	TypeTyping           EnvelopeType = "typing"
	TypeUnlink           EnvelopeType = "unlink"
)

var knownTypes = map[EnvelopeType]bool{
	TypeHandshakeRequest: true,
	TypePresenceUpdate:   true,
	TypeChatMessage:      true,
	TypeTyping:           true,
	TypeUnlink:           true,
}

// Envelope is the transport-agnostic wire shape. Every envelope carries
// the sender id for self-filtering plus enough routing information for
// the receiver to decide relevance.
type Envelope struct {
	Type           EnvelopeType `json:"type"`
	SenderID       string       `json:"sender_id"`
	SenderRoomCode string       `json:"sender_room_code,omitempty"`
	TargetRoomCode string       `json:"target_room_code,omitempty"` // handshake_request only
	TargetID       string       `json:"target_id,omitempty"`        // chat_message, typing, unlink
	IsInitiator    bool         `json:"is_initiator,omitempty"`     // handshake_request only

	Snapshot *model.PresenceSnapshot `json:"snapshot,omitempty"` // handshake_request, presence_update
	Message  *model.Message          `json:"message,omitempty"`  // chat_message
	Typing   *bool                   `json:"typing,omitempty"`   // typing
}

// Validate checks structural invariants before an envelope is published
// or dispatched.
func (e Envelope) Validate() error {
	if !knownTypes[e.Type] {
		return fmt.Errorf("%w: unknown type %q", errs.ErrInvalidEnvelope, e.Type)
	}
	if e.SenderID == "" {
		return fmt.Errorf("%w: empty sender id", errs.ErrInvalidEnvelope)
	}
	switch e.Type {
	case TypeHandshakeRequest:
		if e.TargetRoomCode == "" {
			return fmt.Errorf("%w: handshake without target room code", errs.ErrInvalidEnvelope)
		}
		if e.Snapshot == nil {
			return fmt.Errorf("%w: handshake without snapshot", errs.ErrInvalidEnvelope)
		}
	case TypePresenceUpdate:
		if e.Snapshot == nil {
			return fmt.Errorf("%w: update without snapshot", errs.ErrInvalidEnvelope)
		}
	case TypeChatMessage:
		if e.Message == nil || e.Message.ID == "" {
			return fmt.Errorf("%w: chat without message", errs.ErrInvalidEnvelope)
		}
		if e.TargetID == "" {
			return fmt.Errorf("%w: chat without target id", errs.ErrInvalidEnvelope)
		}
	case TypeTyping:
		if e.Typing == nil {
			return fmt.Errorf("%w: typing without flag", errs.ErrInvalidEnvelope)
		}
	}
	return nil
}

// ThreadKey derives the chat thread key for a chat_message envelope.
func (e Envelope) ThreadKey() string {
	return model.ThreadKey(e.SenderID, e.TargetID)
}

// Encode serializes the envelope to its JSON wire form.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode parses and validates a wire envelope. Garbage on the shared
// channel yields an error for the caller to log and swallow.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errs.ErrInvalidEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Relevant reports whether a receiver should process the envelope.
// The sender must not be the receiver itself, and either the envelope
// targets the receiver's current room code, or the sender is already a
// known partner by id. The second clause keeps links working after the
// receiver rotates its room code mid-session.
func Relevant(e Envelope, selfID, selfRoomCode string, knownPartner bool) bool {
	if e.SenderID == selfID {
		return false
	}
	if e.TargetRoomCode != "" && e.TargetRoomCode == selfRoomCode {
		return true
	}
	return knownPartner
}
