package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nlazarev/pairsync/internal/errs"
	"github.com/nlazarev/pairsync/internal/model"
)

func open(t *testing.T) *Sqlite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pairsync.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIdentity_RoundTripAndNotFound(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	if _, err := s.LoadIdentity(ctx); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound on empty db, got %v", err)
	}

	want := model.PeerIdentity{ID: "id-1", RoomCode: "AB12CD"}
	if err := s.SaveIdentity(ctx, want); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}
	got, err := s.LoadIdentity(ctx)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if *got != want {
		t.Fatalf("got %+v, want %+v", *got, want)
	}
}

func TestSelf_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pairsync.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	snap := model.PresenceSnapshot{
		ID:   "id-1",
		Name: "Ann",
		Activity: model.Activity{
			Kind: model.ActivityCoding, Mood: "😤 Focused", UpdatedAt: 42,
			Weather: &model.WeatherInfo{Temp: 18, Condition: "Rainy", Icon: "🌧️"},
		},
	}
	if err := s.SaveSelf(ctx, snap); err != nil {
		t.Fatalf("SaveSelf: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.LoadSelf(ctx)
	if err != nil {
		t.Fatalf("LoadSelf: %v", err)
	}
	if got.Name != "Ann" || got.Activity.UpdatedAt != 42 {
		t.Fatalf("snapshot lost on reopen: %+v", got)
	}
	if got.Activity.Weather == nil || got.Activity.Weather.Condition != "Rainy" {
		t.Fatalf("weather lost on reopen: %+v", got.Activity.Weather)
	}
}

func TestLinks_UpsertAndDelete(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	l := model.LinkRecord{
		PartnerID:       "peer-1",
		PartnerRoomCode: "ZZ99XX",
		Snapshot:        model.PresenceSnapshot{ID: "peer-1", Name: "Bo"},
		LastSeenAt:      100,
	}
	if err := s.SaveLink(ctx, l); err != nil {
		t.Fatalf("SaveLink: %v", err)
	}
	l.LastSeenAt = 200
	if err := s.SaveLink(ctx, l); err != nil {
		t.Fatalf("SaveLink upsert: %v", err)
	}

	links, err := s.ListLinks(ctx)
	if err != nil {
		t.Fatalf("ListLinks: %v", err)
	}
	if len(links) != 1 || links[0].LastSeenAt != 200 {
		t.Fatalf("upsert did not replace: %+v", links)
	}

	if err := s.DeleteLink(ctx, "peer-1"); err != nil {
		t.Fatalf("DeleteLink: %v", err)
	}
	links, _ = s.ListLinks(ctx)
	if len(links) != 0 {
		t.Fatalf("link survived delete: %+v", links)
	}
}

func TestMessages_DedupOrderAndClear(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	key := model.ThreadKey("a", "b")

	msgs := []model.Message{
		{ID: "m2", SenderID: "b", Text: "second", SentAt: 20},
		{ID: "m1", SenderID: "a", Text: "first", SentAt: 10},
		{ID: "m1", SenderID: "a", Text: "first", SentAt: 10}, // duplicate delivery
	}
	for _, m := range msgs {
		if err := s.AppendMessage(ctx, key, m); err != nil {
			t.Fatalf("AppendMessage(%s): %v", m.ID, err)
		}
	}

	got, err := s.ListMessages(ctx, key)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("wrong thread contents: %+v", got)
	}

	if err := s.ClearThread(ctx, key); err != nil {
		t.Fatalf("ClearThread: %v", err)
	}
	got, _ = s.ListMessages(ctx, key)
	if len(got) != 0 {
		t.Fatalf("thread survived clear: %+v", got)
	}
}

func TestWipe(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	_ = s.SaveIdentity(ctx, model.PeerIdentity{ID: "id", RoomCode: "AAAAAA"})
	_ = s.SaveLink(ctx, model.LinkRecord{PartnerID: "p"})
	_ = s.AppendMessage(ctx, "a:b", model.Message{ID: "m", SenderID: "a", Text: "hi", SentAt: 1})

	if err := s.Wipe(ctx); err != nil {
		t.Fatalf("Wipe: %v", err)
	}
	if _, err := s.LoadIdentity(ctx); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("identity survived wipe: %v", err)
	}
	links, _ := s.ListLinks(ctx)
	msgs, _ := s.ListMessages(ctx, "a:b")
	if len(links) != 0 || len(msgs) != 0 {
		t.Fatalf("data survived wipe: %d links, %d messages", len(links), len(msgs))
	}
}
