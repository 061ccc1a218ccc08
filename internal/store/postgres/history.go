package postgres

import (
	"context"

	"github.com/nlazarev/pairsync/internal/model"
)

// History persists chat messages flowing through the durable transport.
// It exists so a thread clear can delete both sides' remote records, not
// to provide replay; peers keep their own local copies.
type History struct{ db *DB }

// NewHistory constructs a chat history repository.
func NewHistory(db *DB) *History { return &History{db: db} }

// Append stores one message; duplicate message ids are ignored so
// at-least-once publication cannot double a row.
func (h *History) Append(ctx context.Context, threadKey string, m model.Message) error {
	const ins = `INSERT INTO chat_messages (id, thread_key, sender_id, body, sent_at)
		VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO NOTHING`
	_, err := h.db.Pool.Exec(ctx, ins, m.ID, threadKey, m.SenderID, m.Text, m.SentAt)
	return err
}

// List returns a thread's messages ordered by sent_at ascending.
func (h *History) List(ctx context.Context, threadKey string) ([]model.Message, error) {
	const sel = `SELECT id, sender_id, body, sent_at FROM chat_messages
		WHERE thread_key=$1 ORDER BY sent_at ASC, id ASC`
	rows, err := h.db.Pool.Query(ctx, sel, threadKey)
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

// Purge deletes every stored message of the thread. Destructive and
// two-sided: both peers lose the remote copy.
func (h *History) Purge(ctx context.Context, threadKey string) error {
	const del = `DELETE FROM chat_messages WHERE thread_key=$1`
	_, err := h.db.Pool.Exec(ctx, del, threadKey)
	return err
}
