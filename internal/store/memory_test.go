package store

import (
	"context"
	"errors"
	"testing"

	"github.com/nlazarev/pairsync/internal/errs"
	"github.com/nlazarev/pairsync/internal/model"
)

func TestMemory_IdentityRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.LoadIdentity(ctx); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("empty store: want ErrNotFound, got %v", err)
	}

	ident := model.PeerIdentity{ID: "id-1", RoomCode: "AAAAAA"}
	if err := m.SaveIdentity(ctx, ident); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := m.LoadIdentity(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *got != ident {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestMemory_AppendMessage_DedupAndOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	key := model.ThreadKey("a", "b")

	m1 := model.Message{ID: "m1", SenderID: "a", Text: "late", SentAt: 200}
	m2 := model.Message{ID: "m2", SenderID: "b", Text: "early", SentAt: 100}
	for _, msg := range []model.Message{m1, m2, m1} { // m1 delivered twice
		if err := m.AppendMessage(ctx, key, msg); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	out, err := m.ListMessages(ctx, key)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("want 2 messages after duplicate delivery, got %d", len(out))
	}
	if out[0].ID != "m2" || out[1].ID != "m1" {
		t.Fatalf("not ordered by SentAt: %+v", out)
	}
}

func TestMemory_LinksAndClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	l := model.LinkRecord{PartnerID: "p1", PartnerRoomCode: "BBBBBB", LastSeenAt: 5}
	if err := m.SaveLink(ctx, l); err != nil {
		t.Fatalf("save link: %v", err)
	}
	links, err := m.ListLinks(ctx)
	if err != nil || len(links) != 1 {
		t.Fatalf("list links: %v %v", links, err)
	}

	if err := m.DeleteLink(ctx, "p1"); err != nil {
		t.Fatalf("delete link: %v", err)
	}
	if err := m.DeleteLink(ctx, "p1"); err != nil {
		t.Fatalf("double delete must be a no-op: %v", err)
	}
	links, _ = m.ListLinks(ctx)
	if len(links) != 0 {
		t.Fatalf("link survived delete")
	}

	key := model.ThreadKey("a", "b")
	_ = m.AppendMessage(ctx, key, model.Message{ID: "m1", SentAt: 1})
	if err := m.ClearThread(ctx, key); err != nil {
		t.Fatalf("clear: %v", err)
	}
	out, _ := m.ListMessages(ctx, key)
	if len(out) != 0 {
		t.Fatalf("thread survived clear")
	}
}

func TestMemory_Wipe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	_ = m.SaveIdentity(ctx, model.PeerIdentity{ID: "x", RoomCode: "CCCCCC"})
	_ = m.SaveSelf(ctx, model.PresenceSnapshot{ID: "x"})
	_ = m.SaveLink(ctx, model.LinkRecord{PartnerID: "p"})

	if err := m.Wipe(ctx); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if _, err := m.LoadIdentity(ctx); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("identity survived wipe")
	}
	if _, err := m.LoadSelf(ctx); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("self survived wipe")
	}
	links, _ := m.ListLinks(ctx)
	if len(links) != 0 {
		t.Fatalf("links survived wipe")
	}
}
