// Package store defines the local persistence contract consumed by the
// session engine. The engine only decides what gets persisted; the
// storage mechanism itself is a collaborator.
package store

import (
	"context"

	"github.com/nlazarev/pairsync/internal/model"
)

// Store persists the local peer's own state. All snapshots belonging to
// partners live inside LinkRecords; a store never holds state it does
// not own.
type Store interface {
	// LoadIdentity returns the saved identity or errs.ErrNotFound.
	LoadIdentity(ctx context.Context) (*model.PeerIdentity, error)
	// SaveIdentity replaces the saved identity.
	SaveIdentity(ctx context.Context, id model.PeerIdentity) error

	// LoadSelf returns the owner's snapshot or errs.ErrNotFound.
	LoadSelf(ctx context.Context) (*model.PresenceSnapshot, error)
	// SaveSelf replaces the owner's snapshot wholesale.
	SaveSelf(ctx context.Context, s model.PresenceSnapshot) error

	// ListLinks returns every stored LinkRecord.
	ListLinks(ctx context.Context) ([]model.LinkRecord, error)
	// SaveLink inserts or replaces the LinkRecord keyed by PartnerID.
	SaveLink(ctx context.Context, l model.LinkRecord) error
	// DeleteLink removes the LinkRecord for partnerID; absent is not an error.
	DeleteLink(ctx context.Context, partnerID string) error

	// AppendMessage appends m to the thread; duplicate message IDs are ignored.
	AppendMessage(ctx context.Context, threadKey string, m model.Message) error
	// ListMessages returns the thread ordered by SentAt ascending.
	ListMessages(ctx context.Context, threadKey string) ([]model.Message, error)
	// ClearThread deletes every message in the thread.
	ClearThread(ctx context.Context, threadKey string) error

	// Wipe removes all persisted state (identity, snapshot, links, threads).
	Wipe(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}
