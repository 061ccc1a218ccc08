package store

import (
	"context"
	"sort"
	"sync"

	"github.com/nlazarev/pairsync/internal/errs"
	"github.com/nlazarev/pairsync/internal/model"
)

// Memory is an in-memory Store for tests and ephemeral peers.
type Memory struct {
	mu       sync.Mutex
	identity *model.PeerIdentity
	self     *model.PresenceSnapshot
	links    map[string]model.LinkRecord
	threads  map[string][]model.Message
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		links:   map[string]model.LinkRecord{},
		threads: map[string][]model.Message{},
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) LoadIdentity(_ context.Context) (*model.PeerIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return nil, errs.ErrNotFound
	}
	id := *m.identity
	return &id, nil
}

func (m *Memory) SaveIdentity(_ context.Context, id model.PeerIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = &id
	return nil
}

func (m *Memory) LoadSelf(_ context.Context) (*model.PresenceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.self == nil {
		return nil, errs.ErrNotFound
	}
	s := *m.self
	return &s, nil
}

func (m *Memory) SaveSelf(_ context.Context, s model.PresenceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self = &s
	return nil
}

func (m *Memory) ListLinks(_ context.Context) ([]model.LinkRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.LinkRecord, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartnerID < out[j].PartnerID })
	return out, nil
}

func (m *Memory) SaveLink(_ context.Context, l model.LinkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[l.PartnerID] = l
	return nil
}

func (m *Memory) DeleteLink(_ context.Context, partnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, partnerID)
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, threadKey string, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.threads[threadKey] {
		if existing.ID == msg.ID {
			return nil
		}
	}
	m.threads[threadKey] = append(m.threads[threadKey], msg)
	return nil
}

func (m *Memory) ListMessages(_ context.Context, threadKey string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.Message(nil), m.threads[threadKey]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt < out[j].SentAt })
	return out, nil
}

func (m *Memory) ClearThread(_ context.Context, threadKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadKey)
	return nil
}

func (m *Memory) Wipe(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = nil
	m.self = nil
	m.links = map[string]model.LinkRecord{}
	m.threads = map[string][]model.Message{}
	return nil
}

func (m *Memory) Close() error { return nil }
