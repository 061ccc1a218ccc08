// Package identity generates and persists the local peer identity:
// a permanent opaque id plus a rotatable short room code.
package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/nlazarev/pairsync/internal/errs"
	"github.com/nlazarev/pairsync/internal/model"
	"github.com/nlazarev/pairsync/internal/store"
)

// Room codes are human copy-paste addresses, not secrets. Six characters
// over A-Z0-9 make accidental collision between strangers unlikely.
const (
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeLen      = 6
)

// NewID returns a fresh permanent peer id.
func NewID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewRoomCode returns a fresh 6-character uppercase alphanumeric code.
func NewRoomCode() (string, error) {
	buf := make([]byte, roomCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, roomCodeLen)
	for i, b := range buf {
		code[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(code), nil
}

// Manager loads and rotates the persisted identity.
type Manager struct {
	store store.Store
}

// NewManager constructs a Manager over the given store.
func NewManager(st store.Store) *Manager { return &Manager{store: st} }

// Load returns the persisted identity, creating and saving a new one on
// first run. The id survives for the lifetime of the installation.
func (m *Manager) Load(ctx context.Context) (model.PeerIdentity, error) {
	saved, err := m.store.LoadIdentity(ctx)
	if err == nil {
		return *saved, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return model.PeerIdentity{}, fmt.Errorf("load identity: %w", err)
	}

	id, err := NewID()
	if err != nil {
		return model.PeerIdentity{}, err
	}
	code, err := NewRoomCode()
	if err != nil {
		return model.PeerIdentity{}, err
	}
	ident := model.PeerIdentity{ID: id, RoomCode: code}
	if err := m.store.SaveIdentity(ctx, ident); err != nil {
		return model.PeerIdentity{}, fmt.Errorf("save identity: %w", err)
	}
	return ident, nil
}

// Rotate replaces the room code and persists the result. The permanent id
// is untouched, so existing links (keyed by id) keep working; only future
// discovery is affected.
func (m *Manager) Rotate(ctx context.Context, ident model.PeerIdentity) (model.PeerIdentity, error) {
	code, err := NewRoomCode()
	if err != nil {
		return ident, err
	}
	ident.RoomCode = code
	if err := m.store.SaveIdentity(ctx, ident); err != nil {
		return ident, fmt.Errorf("save identity: %w", err)
	}
	return ident, nil
}
