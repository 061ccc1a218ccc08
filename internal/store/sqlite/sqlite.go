// Package sqlite implements the local Store on an embedded SQLite file,
// so a peer's own state survives restarts without any external service.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/nlazarev/pairsync/internal/errs"
	"github.com/nlazarev/pairsync/internal/model"
	"github.com/nlazarev/pairsync/internal/store"
)

// Keys of the single-value kv table. Identity and the owner's snapshot
// are stored as JSON blobs, mirroring the shape they travel in on the wire.
const (
	keyIdentity = "identity"
	keySelf     = "self_state"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS links (
	partner_id TEXT PRIMARY KEY,
	data       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	thread_key TEXT    NOT NULL,
	sender_id  TEXT    NOT NULL,
	body       TEXT    NOT NULL,
	sent_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_thread_idx ON messages (thread_key, sent_at);
`

// Sqlite is a file-backed Store.
type Sqlite struct{ db *sql.DB }

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*Sqlite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}
	return &Sqlite{db: db}, nil
}

var _ store.Store = (*Sqlite)(nil)

func (s *Sqlite) getKV(ctx context.Context, key string, out any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

func (s *Sqlite) putKV(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, string(raw))
	return err
}

func (s *Sqlite) LoadIdentity(ctx context.Context) (*model.PeerIdentity, error) {
	var id model.PeerIdentity
	if err := s.getKV(ctx, keyIdentity, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *Sqlite) SaveIdentity(ctx context.Context, id model.PeerIdentity) error {
	return s.putKV(ctx, keyIdentity, id)
}

func (s *Sqlite) LoadSelf(ctx context.Context) (*model.PresenceSnapshot, error) {
	var snap model.PresenceSnapshot
	if err := s.getKV(ctx, keySelf, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Sqlite) SaveSelf(ctx context.Context, snap model.PresenceSnapshot) error {
	return s.putKV(ctx, keySelf, snap)
}

func (s *Sqlite) ListLinks(ctx context.Context) ([]model.LinkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM links ORDER BY partner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LinkRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var l model.LinkRecord
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Sqlite) SaveLink(ctx context.Context, l model.LinkRecord) error {
	raw, err := json.Marshal(l)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO links (partner_id, data) VALUES (?,?)
		 ON CONFLICT(partner_id) DO UPDATE SET data=excluded.data`,
		l.PartnerID, string(raw))
	return err
}

func (s *Sqlite) DeleteLink(ctx context.Context, partnerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM links WHERE partner_id=?`, partnerID)
	return err
}

func (s *Sqlite) AppendMessage(ctx context.Context, threadKey string, m model.Message) error {
	// OR IGNORE keeps duplicate deliveries from doubling a message.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (id, thread_key, sender_id, body, sent_at)
		 VALUES (?,?,?,?,?)`,
		m.ID, threadKey, m.SenderID, m.Text, m.SentAt)
	return err
}

func (s *Sqlite) ListMessages(ctx context.Context, threadKey string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, body, sent_at FROM messages
		 WHERE thread_key=? ORDER BY sent_at ASC, id ASC`, threadKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Text, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Sqlite) ClearThread(ctx context.Context, threadKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE thread_key=?`, threadKey)
	return err
}

func (s *Sqlite) Wipe(ctx context.Context) error {
	for _, stmt := range []string{
		`DELETE FROM kv`, `DELETE FROM links`, `DELETE FROM messages`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sqlite) Close() error { return s.db.Close() }
